package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 请求方数量
	workRecordSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "locationd_work_record_size",
			Help: "Number of active requesters per ability",
		},
		[]string{"ability"},
	)

	// 聚合后的最小上报间隔
	aggregateInterval = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "locationd_aggregate_time_interval_seconds",
			Help: "Minimum reporting interval requested from the ability",
		},
		[]string{"ability"},
	)

	requestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locationd_requests_total",
			Help: "Total number of locating requests by action and result",
		},
		[]string{"ability", "action", "result"},
	)

	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locationd_dispatch_total",
			Help: "Total number of work records sent to abilities",
		},
		[]string{"ability", "result"},
	)

	dispatchBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "locationd_dispatch_bytes",
			Help:    "Size of serialized work records sent to abilities",
			Buckets: []float64{16, 64, 256, 1024, 4096, 16384},
		},
		[]string{"ability"},
	)

	geocodeLookupTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locationd_geocode_lookups_total",
			Help: "Total number of reverse geocoding lookups",
		},
		[]string{"provider", "hit"},
	)
)

// Recorder 指标记录器
type Recorder struct{}

// NewRecorder 创建指标记录器
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordAggregate 记录聚合结果
func (r *Recorder) RecordAggregate(ability string, size int, interval int32) {
	workRecordSize.WithLabelValues(ability).Set(float64(size))
	aggregateInterval.WithLabelValues(ability).Set(float64(interval))
}

// RecordRequest 记录启动/停止请求
func (r *Recorder) RecordRequest(ability, action string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	requestTotal.WithLabelValues(ability, action, result).Inc()
}

// RecordDispatch 记录下发到能力的数据
func (r *Recorder) RecordDispatch(ability string, bytes int, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	dispatchTotal.WithLabelValues(ability, result).Inc()
	dispatchBytes.WithLabelValues(ability).Observe(float64(bytes))
}

// RecordGeocode 记录逆地理编码查询
func (r *Recorder) RecordGeocode(provider string, hit bool) {
	h := "miss"
	if hit {
		h = "hit"
	}
	geocodeLookupTotal.WithLabelValues(provider, h).Inc()
}
