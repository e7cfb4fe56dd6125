package models

import (
	"fmt"
	"time"

	"github.com/langchou/locationd/internal/parcel"
)

// 场景常量
const (
	SceneUnset              int32 = 0x0300
	SceneNavigation         int32 = 0x0301
	SceneTrajectoryTracking int32 = 0x0302
	SceneCarHailing         int32 = 0x0303
	SceneDailyLifeService   int32 = 0x0304
	SceneNoPower            int32 = 0x0305
)

// 优先级常量
const (
	PriorityUnset        int32 = 0x0200
	PriorityAccuracy     int32 = 0x0201
	PriorityLowPower     int32 = 0x0202
	PriorityFastFirstFix int32 = 0x0203

	// LocationPriorityAccuracy 独立的精度优先标记，不论场景都按高精度处理
	LocationPriorityAccuracy     int32 = 0x0501
	LocationPriorityLocatingFast int32 = 0x0502
)

// 默认值
const (
	DefaultTimeInterval int32 = 1 // 秒
	DefaultTimeOut      int32 = 5 // 秒
)

// RequestConfig 定位请求配置
// 非并发安全，跨线程共享时由调用方串行化
type RequestConfig struct {
	Scenario         int32   `json:"scenario"`
	Priority         int32   `json:"priority"`
	TimeInterval     int32   `json:"time_interval"`     // 最小上报间隔 (秒)
	DistanceInterval float64 `json:"distance_interval"` // 米，0 表示不限
	MaxAccuracy      float32 `json:"max_accuracy"`      // 米，0 表示不限
	FixNumber        int32   `json:"fix_number"`        // 0 表示不限次数
	TimeOut          int32   `json:"time_out"`          // 秒
	Timestamp        int64   `json:"timestamp"`         // 创建/更新时间 (unix 纳秒)，不参与序列化
	IsNeedPoi        bool    `json:"is_need_poi"`
}

// NewRequestConfig 创建默认配置：场景未设置，优先快速定位
func NewRequestConfig() *RequestConfig {
	cfg := newDefaultConfig()
	cfg.Scenario = SceneUnset
	cfg.Priority = PriorityFastFirstFix
	return cfg
}

// NewCommonRequestConfig 创建 common-data 模块使用的默认配置，优先级未设置
func NewCommonRequestConfig() *RequestConfig {
	cfg := newDefaultConfig()
	cfg.Scenario = SceneUnset
	cfg.Priority = PriorityUnset
	return cfg
}

// NewRequestConfigWithScenario 按场景创建配置
func NewRequestConfigWithScenario(scenario int32) *RequestConfig {
	cfg := newDefaultConfig()
	cfg.Scenario = scenario
	cfg.Priority = PriorityUnset
	return cfg
}

func newDefaultConfig() *RequestConfig {
	return &RequestConfig{
		TimeInterval: DefaultTimeInterval,
		TimeOut:      DefaultTimeOut,
		Timestamp:    time.Now().UnixNano(),
	}
}

// Set 从 other 复制全部字段
func (c *RequestConfig) Set(other *RequestConfig) {
	if other == nil {
		return
	}
	*c = *other
}

// IsSame 判断两个配置在聚合意义上是否等价
// 场景未设置时按优先级比较；场景已设置时只比较场景
func (c *RequestConfig) IsSame(other *RequestConfig) bool {
	if other == nil {
		return false
	}
	if c.Scenario != other.Scenario {
		return false
	}
	if c.Scenario == SceneUnset {
		return c.Priority == other.Priority
	}
	return true
}

// IsRequestForAccuracy 是否需要高精度定位，每次调用重新计算
func (c *RequestConfig) IsRequestForAccuracy() bool {
	if c.Priority == LocationPriorityAccuracy {
		return true
	}
	if c.Scenario == SceneUnset && c.Priority == PriorityAccuracy {
		return true
	}
	switch c.Scenario {
	case SceneNavigation, SceneTrajectoryTracking, SceneCarHailing:
		return true
	}
	return false
}

// Marshalling 按声明顺序写入所有字段
func (c *RequestConfig) Marshalling(w *parcel.Writer) bool {
	return w.WriteInt32(c.Scenario) &&
		w.WriteInt32(c.Priority) &&
		w.WriteInt32(c.TimeInterval) &&
		w.WriteDouble(c.DistanceInterval) &&
		w.WriteFloat(c.MaxAccuracy) &&
		w.WriteInt32(c.FixNumber) &&
		w.WriteInt32(c.TimeOut) &&
		w.WriteBool(c.IsNeedPoi)
}

// ReadFromParcel 按 Marshalling 的顺序读取
// 数据不足时返回错误，此时 c 可能已被部分覆盖
func (c *RequestConfig) ReadFromParcel(r *parcel.Reader) error {
	var err error
	if c.Scenario, err = r.ReadInt32(); err != nil {
		return fmt.Errorf("read scenario: %w", err)
	}
	if c.Priority, err = r.ReadInt32(); err != nil {
		return fmt.Errorf("read priority: %w", err)
	}
	if c.TimeInterval, err = r.ReadInt32(); err != nil {
		return fmt.Errorf("read time interval: %w", err)
	}
	if c.DistanceInterval, err = r.ReadDouble(); err != nil {
		return fmt.Errorf("read distance interval: %w", err)
	}
	if c.MaxAccuracy, err = r.ReadFloat(); err != nil {
		return fmt.Errorf("read max accuracy: %w", err)
	}
	if c.FixNumber, err = r.ReadInt32(); err != nil {
		return fmt.Errorf("read fix number: %w", err)
	}
	if c.TimeOut, err = r.ReadInt32(); err != nil {
		return fmt.Errorf("read timeout: %w", err)
	}
	if c.IsNeedPoi, err = r.ReadBool(); err != nil {
		return fmt.Errorf("read need poi: %w", err)
	}
	return nil
}

// MarshallingCommon common-data 模块的精简格式：无 timeOut/isNeedPoi，距离间隔为 int32
func (c *RequestConfig) MarshallingCommon(w *parcel.Writer) bool {
	return w.WriteInt32(c.Scenario) &&
		w.WriteInt32(c.Priority) &&
		w.WriteInt32(c.TimeInterval) &&
		w.WriteInt32(int32(c.DistanceInterval)) &&
		w.WriteFloat(c.MaxAccuracy) &&
		w.WriteInt32(c.FixNumber)
}

// ReadCommonFromParcel MarshallingCommon 的逆操作
func (c *RequestConfig) ReadCommonFromParcel(r *parcel.Reader) error {
	var err error
	if c.Scenario, err = r.ReadInt32(); err != nil {
		return fmt.Errorf("read scenario: %w", err)
	}
	if c.Priority, err = r.ReadInt32(); err != nil {
		return fmt.Errorf("read priority: %w", err)
	}
	if c.TimeInterval, err = r.ReadInt32(); err != nil {
		return fmt.Errorf("read time interval: %w", err)
	}
	distance, err := r.ReadInt32()
	if err != nil {
		return fmt.Errorf("read distance interval: %w", err)
	}
	c.DistanceInterval = float64(distance)
	if c.MaxAccuracy, err = r.ReadFloat(); err != nil {
		return fmt.Errorf("read max accuracy: %w", err)
	}
	if c.FixNumber, err = r.ReadInt32(); err != nil {
		return fmt.Errorf("read fix number: %w", err)
	}
	return nil
}

// String 日志用
func (c *RequestConfig) String() string {
	return fmt.Sprintf("scenario:%d, priority:%d, timeInterval:%d, distanceInterval:%g, maxAccuracy:%g, fixNumber:%d, timeOut:%d, timestamp:%d, isNeedPoi:%t",
		c.Scenario, c.Priority, c.TimeInterval, c.DistanceInterval, c.MaxAccuracy, c.FixNumber, c.TimeOut, c.Timestamp, c.IsNeedPoi)
}
