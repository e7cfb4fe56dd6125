package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langchou/locationd/internal/parcel"
)

func TestNewRequestConfig_Defaults(t *testing.T) {
	cfg := NewRequestConfig()
	assert.Equal(t, SceneUnset, cfg.Scenario)
	assert.Equal(t, PriorityFastFirstFix, cfg.Priority)
	assert.Equal(t, DefaultTimeInterval, cfg.TimeInterval)
	assert.Equal(t, DefaultTimeOut, cfg.TimeOut)
	assert.Zero(t, cfg.DistanceInterval)
	assert.Zero(t, cfg.MaxAccuracy)
	assert.Zero(t, cfg.FixNumber)
	assert.NotZero(t, cfg.Timestamp)

	assert.Equal(t, PriorityUnset, NewCommonRequestConfig().Priority)

	nav := NewRequestConfigWithScenario(SceneNavigation)
	assert.Equal(t, SceneNavigation, nav.Scenario)
	assert.Equal(t, PriorityUnset, nav.Priority)
}

func TestRequestConfig_IsSame(t *testing.T) {
	withPriority := func(scenario, priority int32) *RequestConfig {
		cfg := NewRequestConfigWithScenario(scenario)
		cfg.Priority = priority
		return cfg
	}

	tests := []struct {
		name string
		a, b *RequestConfig
		want bool
	}{
		{"unset scenario same priority", withPriority(SceneUnset, PriorityAccuracy), withPriority(SceneUnset, PriorityAccuracy), true},
		{"unset scenario different priority", withPriority(SceneUnset, PriorityAccuracy), withPriority(SceneUnset, PriorityFastFirstFix), false},
		{"same scenario different priority", withPriority(SceneNavigation, PriorityAccuracy), withPriority(SceneNavigation, PriorityLowPower), true},
		{"different scenario", withPriority(SceneNavigation, PriorityAccuracy), withPriority(SceneCarHailing, PriorityAccuracy), false},
		{"unset vs set scenario", withPriority(SceneUnset, PriorityAccuracy), withPriority(SceneNavigation, PriorityAccuracy), false},
		{"nil", withPriority(SceneUnset, PriorityAccuracy), nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.IsSame(tt.b))
			if tt.b != nil {
				assert.Equal(t, tt.want, tt.b.IsSame(tt.a), "symmetric")
				assert.True(t, tt.b.IsSame(tt.b), "reflexive")
			}
			assert.True(t, tt.a.IsSame(tt.a), "reflexive")
		})
	}
}

func TestRequestConfig_IsRequestForAccuracy(t *testing.T) {
	tests := []struct {
		scenario, priority int32
		want               bool
	}{
		{SceneNavigation, PriorityFastFirstFix, true},
		{SceneNavigation, PriorityLowPower, true},
		{SceneTrajectoryTracking, PriorityUnset, true},
		{SceneCarHailing, PriorityUnset, true},
		{SceneUnset, PriorityAccuracy, true},
		{SceneUnset, PriorityFastFirstFix, false},
		{SceneUnset, PriorityLowPower, false},
		{SceneDailyLifeService, PriorityAccuracy, false},
		{SceneNoPower, LocationPriorityAccuracy, true},
		{SceneUnset, LocationPriorityLocatingFast, false},
	}
	for _, tt := range tests {
		cfg := NewRequestConfigWithScenario(tt.scenario)
		cfg.Priority = tt.priority
		assert.Equal(t, tt.want, cfg.IsRequestForAccuracy(), "scenario=%#x priority=%#x", tt.scenario, tt.priority)
	}
}

func TestRequestConfig_Set(t *testing.T) {
	src := NewRequestConfigWithScenario(SceneCarHailing)
	src.TimeInterval = 15
	src.DistanceInterval = 12.5
	src.MaxAccuracy = 30
	src.FixNumber = 1
	src.TimeOut = 9
	src.IsNeedPoi = true

	dst := NewRequestConfig()
	dst.Set(src)
	assert.Equal(t, *src, *dst)

	src.TimeInterval = 1
	assert.Equal(t, int32(15), dst.TimeInterval)

	dst.Set(nil)
	assert.Equal(t, int32(15), dst.TimeInterval)
}

func TestRequestConfig_MarshallingRoundTrip(t *testing.T) {
	src := NewRequestConfigWithScenario(SceneTrajectoryTracking)
	src.Priority = PriorityAccuracy
	src.TimeInterval = -3
	src.DistanceInterval = 0.25
	src.MaxAccuracy = 5.5
	src.FixNumber = 4
	src.TimeOut = 60
	src.IsNeedPoi = true

	w := parcel.NewWriter()
	require.True(t, src.Marshalling(w))
	assert.Equal(t, 4*3+8+4+4*2+4, w.Len())

	got := &RequestConfig{}
	r := parcel.NewReader(w.Bytes())
	require.NoError(t, got.ReadFromParcel(r))
	assert.Equal(t, 0, r.Remaining())

	got.Timestamp = src.Timestamp
	assert.Equal(t, *src, *got)
}

func TestRequestConfig_ReadTruncated(t *testing.T) {
	w := parcel.NewWriter()
	NewRequestConfig().Marshalling(w)

	for cut := 0; cut < w.Len(); cut += 3 {
		got := &RequestConfig{}
		err := got.ReadFromParcel(parcel.NewReader(w.Bytes()[:cut]))
		assert.ErrorIs(t, err, parcel.ErrUnderflow, "cut=%d", cut)
	}
}

func TestRequestConfig_CommonVariant(t *testing.T) {
	src := NewCommonRequestConfig()
	src.DistanceInterval = 42.9
	src.MaxAccuracy = 10
	src.FixNumber = 2
	src.TimeOut = 77
	src.IsNeedPoi = true

	w := parcel.NewWriter()
	require.True(t, src.MarshallingCommon(w))
	assert.Equal(t, 6*4, w.Len())

	got := NewCommonRequestConfig()
	require.NoError(t, got.ReadCommonFromParcel(parcel.NewReader(w.Bytes())))
	assert.Equal(t, src.Scenario, got.Scenario)
	assert.Equal(t, src.Priority, got.Priority)
	assert.Equal(t, float64(42), got.DistanceInterval)
	assert.Equal(t, src.MaxAccuracy, got.MaxAccuracy)
	assert.Equal(t, src.FixNumber, got.FixNumber)
	// 精简格式不携带 timeOut / isNeedPoi
	assert.Equal(t, DefaultTimeOut, got.TimeOut)
	assert.False(t, got.IsNeedPoi)

	_, err := parcel.NewReader(nil).ReadInt32()
	assert.Error(t, err)
	assert.Error(t, got.ReadCommonFromParcel(parcel.NewReader(w.Bytes()[:10])))
}

func TestRequestConfig_String(t *testing.T) {
	cfg := NewRequestConfig()
	cfg.Timestamp = 1
	assert.Equal(t,
		"scenario:768, priority:515, timeInterval:1, distanceInterval:0, maxAccuracy:0, fixNumber:0, timeOut:5, timestamp:1, isNeedPoi:false",
		cfg.String())
}
