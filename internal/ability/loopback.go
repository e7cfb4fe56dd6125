package ability

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/langchou/locationd/internal/parcel"
	"github.com/langchou/locationd/internal/record"
)

// Backend 定位能力进程的下发接口
type Backend interface {
	Name() string
	SendWorkRecord(ctx context.Context, data []byte) error
}

// Loopback 进程内的能力实现
// 按能力进程的方式解码收到的 WorkRecord，只记录日志，不驱动硬件
type Loopback struct {
	name   string
	logger *zap.Logger

	mu       sync.RWMutex
	last     *record.WorkRecord
	received int
}

// NewLoopback 创建进程内能力
func NewLoopback(name string, logger *zap.Logger) *Loopback {
	return &Loopback{
		name:   name,
		logger: logger.With(zap.String("ability", name)),
		last:   record.New(),
	}
}

// Name 能力名称
func (l *Loopback) Name() string {
	return l.name
}

// SendWorkRecord 解码并保存最新的 WorkRecord
func (l *Loopback) SendWorkRecord(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	wr, err := record.Unmarshalling(parcel.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode work record for %s: %w", l.name, err)
	}

	l.mu.Lock()
	l.last = wr
	l.received++
	l.mu.Unlock()

	if wr.IsEmpty() {
		l.logger.Info("Ability stopped, no active requesters")
		return nil
	}

	for _, e := range wr.Entries() {
		l.logger.Debug("Active requester",
			zap.Int32("uid", e.Uid),
			zap.Int32("pid", e.Pid),
			zap.String("package", e.PackageName),
			zap.Int32("time_interval", e.TimeInterval),
			zap.String("uuid", e.UUID),
			zap.Int32("nlp_request_type", e.NlpRequestType))
	}
	l.logger.Info("Work record applied",
		zap.Int("requesters", wr.Size()),
		zap.Int32("min_time_interval", wr.MinTimeInterval()),
		zap.String("device_id", wr.DeviceID()))
	return nil
}

// LastRecord 最近一次收到的记录副本
func (l *Loopback) LastRecord() *record.WorkRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	wr := record.New()
	wr.Set(l.last)
	wr.SetDeviceID(l.last.DeviceID())
	return wr
}

// Received 收到的下发次数
func (l *Loopback) Received() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.received
}
