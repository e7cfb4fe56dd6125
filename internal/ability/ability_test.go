package ability

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/langchou/locationd/internal/metrics"
	"github.com/langchou/locationd/internal/parcel"
	"github.com/langchou/locationd/internal/record"
)

func TestLoopback_SendWorkRecord(t *testing.T) {
	lb := NewLoopback("gnss", zap.NewNop())
	assert.Equal(t, "gnss", lb.Name())

	wr := record.New()
	wr.SetDeviceID("dev")
	wr.Add(record.WorkEntry{Uid: 1, Pid: 2, PackageName: "a", TimeInterval: 5, UUID: "u"})
	p := parcel.NewWriter()
	require.True(t, wr.Marshalling(p))

	require.NoError(t, lb.SendWorkRecord(context.Background(), p.Bytes()))
	assert.Equal(t, 1, lb.Received())

	last := lb.LastRecord()
	require.Equal(t, 1, last.Size())
	assert.Equal(t, "a", last.GetName(0))
	assert.Equal(t, "dev", last.DeviceID())

	err := lb.SendWorkRecord(context.Background(), p.Bytes()[:5])
	assert.ErrorIs(t, err, parcel.ErrUnderflow)
	assert.Equal(t, 1, lb.Received())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, lb.SendWorkRecord(ctx, p.Bytes()), context.Canceled)
}

func TestGeocoder_Nominatim(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "31.230400", r.URL.Query().Get("lat"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		fmt.Fprint(w, `{"display_name":"People's Square, Shanghai","address":{"road":"Renmin Ave","town":"Huangpu","state":"Shanghai","country":"China"}}`)
	}))
	defer srv.Close()

	g := NewGeocoder(GeocoderOptions{NominatimURL: srv.URL}, zap.NewNop(), metrics.NewRecorder())
	assert.Equal(t, ProviderNominatim, g.Provider())

	addr, err := g.ReverseGeocode(context.Background(), 31.2304, 121.4737)
	require.NoError(t, err)
	assert.Equal(t, "Huangpu", addr.City)
	assert.Equal(t, "Renmin Ave", addr.Street)
	assert.Equal(t, ProviderNominatim, addr.Provider)

	// 命中缓存，不再请求
	_, err = g.ReverseGeocode(context.Background(), 31.23041, 121.47371)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Equal(t, 1, g.CacheSize())

	g.ClearCache()
	assert.Equal(t, 0, g.CacheSize())
}

func TestGeocoder_Amap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.URL.Query().Get("key"))
		assert.Equal(t, "116.480881,39.989410", r.URL.Query().Get("location"))
		fmt.Fprint(w, `{"status":"1","info":"OK","infocode":"10000","regeocode":{"formatted_address":"北京市朝阳区望京街道","addressComponent":{"country":"中国","province":"北京市","city":[],"district":"朝阳区","township":"望京街道","streetNumber":{"street":"阜通东大街","number":"6号"}}}}`)
	}))
	defer srv.Close()

	g := NewGeocoder(GeocoderOptions{AmapAPIKey: "key", AmapURL: srv.URL}, zap.NewNop(), metrics.NewRecorder())
	addr, err := g.ReverseGeocode(context.Background(), 39.98941, 116.480881)
	require.NoError(t, err)
	assert.Equal(t, ProviderAmap, addr.Provider)
	assert.Equal(t, "", addr.City)
	assert.Equal(t, "朝阳区", addr.District)
	assert.Equal(t, "6号", addr.StreetNumber)
}

func TestGeocoder_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"0","info":"INVALID_USER_KEY","infocode":"10001"}`)
	}))
	defer srv.Close()

	g := NewGeocoder(GeocoderOptions{AmapAPIKey: "bad", AmapURL: srv.URL}, zap.NewNop(), metrics.NewRecorder())

	_, err := g.ReverseGeocode(context.Background(), 91, 0)
	assert.ErrorIs(t, err, ErrInvalidCoordinate)

	_, err = g.ReverseGeocode(context.Background(), 10, 10)
	assert.ErrorContains(t, err, "INVALID_USER_KEY")
	assert.Equal(t, 0, g.CacheSize())
}
