package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/langchou/locationd/internal/ability"
	"github.com/langchou/locationd/internal/config"
	"github.com/langchou/locationd/internal/metrics"
	"github.com/langchou/locationd/internal/models"
	"github.com/langchou/locationd/internal/parcel"
	"github.com/langchou/locationd/internal/record"
	"github.com/langchou/locationd/internal/state"
)

// HistoryStore 请求历史持久化
type HistoryStore interface {
	InsertHistory(ctx context.Context, h *models.RequestHistory) error
	InsertSnapshot(ctx context.Context, s *models.AggregateSnapshot) error
}

// abilityRecords 单个能力的请求集合
type abilityRecords struct {
	mu        sync.Mutex // 保护 Start/Stop/Reconcile 的复合操作
	name      string
	backend   ability.Backend
	live      *record.WorkRecord
	snapshot  *record.WorkRecord // 上一次成功下发的记录
	aggregate models.Aggregate
	mock      bool
	dirty     bool // 上次下发失败，下次聚合时强制重发
}

// Dispatcher 定位请求分发器
// 每个能力维护一份 WorkRecord，变化时计算差异并下发到能力
type Dispatcher struct {
	cfg          *config.Config
	logger       *zap.Logger
	permission   PermissionChecker
	history      HistoryStore
	recorder     *metrics.Recorder
	stateManager *state.Manager
	abilities    map[string]*abilityRecords
	now          func() time.Time

	mu          sync.RWMutex
	stopCh      chan struct{}
	wg          sync.WaitGroup
	subscribers []chan *models.Aggregate
	running     bool
}

// NewDispatcher 创建分发器，history 可以为 nil
func NewDispatcher(
	cfg *config.Config,
	logger *zap.Logger,
	permission PermissionChecker,
	history HistoryStore,
	recorder *metrics.Recorder,
	backends ...ability.Backend,
) *Dispatcher {
	d := &Dispatcher{
		cfg:        cfg,
		logger:     logger,
		permission: permission,
		history:    history,
		recorder:   recorder,
		abilities:  make(map[string]*abilityRecords, len(backends)),
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
	d.stateManager = state.NewManager(d.onStateChange)

	for _, b := range backends {
		live := record.New()
		live.SetDeviceID(cfg.DeviceID)
		snapshot := record.New()
		snapshot.SetDeviceID(cfg.DeviceID)
		d.abilities[b.Name()] = &abilityRecords{
			name:      b.Name(),
			backend:   b,
			live:      live,
			snapshot:  snapshot,
			aggregate: models.Aggregate{Ability: b.Name()},
		}
		d.stateManager.GetOrCreate(b.Name(), state.StateIdle)
	}
	return d
}

// Start 启动周期性聚合
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.stopCh = make(chan struct{})
	d.running = true
	d.mu.Unlock()

	d.wg.Add(1)
	go d.aggregateLoop(ctx)
	d.logger.Info("Dispatcher started", zap.Duration("interval", d.cfg.AggregationInterval))
}

// Stop 停止周期性聚合
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	close(d.stopCh)
	d.wg.Wait()

	d.mu.Lock()
	for _, ch := range d.subscribers {
		close(ch)
	}
	d.subscribers = nil
	d.mu.Unlock()
	d.logger.Info("Dispatcher stopped")
}

// Subscribe 订阅聚合结果变化
func (d *Dispatcher) Subscribe() <-chan *models.Aggregate {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch := make(chan *models.Aggregate, 10)
	d.subscribers = append(d.subscribers, ch)
	return ch
}

func (d *Dispatcher) publish(agg models.Aggregate) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, ch := range d.subscribers {
		a := agg
		select {
		case ch <- &a:
		default:
			d.logger.Warn("Subscriber channel full, dropping aggregate", zap.String("ability", agg.Ability))
		}
	}
}

func (d *Dispatcher) lookup(name string) (*abilityRecords, *state.Machine, error) {
	ab, ok := d.abilities[name]
	if !ok {
		return nil, nil, fmt.Errorf("%s: %w", name, ErrUnknownAbility)
	}
	machine, _ := d.stateManager.Get(name)
	return ab, machine, nil
}

// StartLocating 注册定位请求，返回请求 uuid
func (d *Dispatcher) StartLocating(ctx context.Context, id models.Identity, name, requestID string, cfg *models.RequestConfig) (string, error) {
	requestID, err := d.startLocating(ctx, id, name, requestID, cfg)
	d.recorder.RecordRequest(name, models.ActionStart, err)
	return requestID, err
}

func (d *Dispatcher) startLocating(ctx context.Context, id models.Identity, name, requestID string, cfg *models.RequestConfig) (string, error) {
	ab, machine, err := d.lookup(name)
	if err != nil {
		return "", err
	}
	if err := d.checkPermission(id, name); err != nil {
		return "", err
	}

	if requestID == "" {
		requestID = uuid.NewString()
	}
	reqCfg := models.NewRequestConfig()
	reqCfg.Set(cfg)
	reqCfg.Timestamp = d.now().UnixNano()

	entry := record.WorkEntry{
		Uid:            id.Uid,
		Pid:            id.Pid,
		PackageName:    id.PackageName,
		TimeInterval:   reqCfg.TimeInterval,
		UUID:           requestID,
		NlpRequestType: nlpRequestType(reqCfg),
		Config:         reqCfg,
	}

	ab.mu.Lock()
	defer ab.mu.Unlock()

	// DisableAbility 持有 ab.mu 切换状态，这里必须在锁内检查
	if machine.CurrentState() == state.StateDisabled {
		return "", fmt.Errorf("%s: %w", name, ErrAbilityDisabled)
	}
	if ab.live.Find(entry.Uid, entry.PackageName, entry.UUID) {
		return "", fmt.Errorf("%s/%s: %w", id.PackageName, requestID, ErrDuplicateRequest)
	}
	if ab.live.Size() >= record.MaxRecordCount {
		return "", fmt.Errorf("%s has %d requesters: %w", name, ab.live.Size(), ErrTooManyRequests)
	}
	ab.live.Add(entry)

	d.logger.Info("Start locating",
		zap.String("ability", name),
		zap.Int32("uid", id.Uid),
		zap.String("package", id.PackageName),
		zap.String("uuid", requestID),
		zap.String("config", reqCfg.String()))
	d.saveHistory(ctx, name, models.ActionStart, entry)

	if err := d.reconcileLocked(ctx, ab, false); err != nil {
		return requestID, err
	}
	return requestID, nil
}

// UpdateLocating 原地更新请求配置
func (d *Dispatcher) UpdateLocating(ctx context.Context, id models.Identity, name, requestID string, cfg *models.RequestConfig) error {
	err := d.updateLocating(ctx, id, name, requestID, cfg)
	d.recorder.RecordRequest(name, models.ActionUpdate, err)
	return err
}

func (d *Dispatcher) updateLocating(ctx context.Context, id models.Identity, name, requestID string, cfg *models.RequestConfig) error {
	ab, _, err := d.lookup(name)
	if err != nil {
		return err
	}
	if cfg == nil {
		return fmt.Errorf("nil request config")
	}
	if err := d.checkPermission(id, name); err != nil {
		return err
	}

	updated := *cfg
	updated.Timestamp = d.now().UnixNano()
	nlpType := nlpRequestType(&updated)

	ab.mu.Lock()
	defer ab.mu.Unlock()

	if !ab.live.Update(id.Uid, id.PackageName, requestID, &updated, nlpType) {
		return fmt.Errorf("%s/%s: %w", id.PackageName, requestID, ErrRequestNotFound)
	}

	d.logger.Info("Update locating",
		zap.String("ability", name),
		zap.Int32("uid", id.Uid),
		zap.String("package", id.PackageName),
		zap.String("uuid", requestID),
		zap.String("config", updated.String()))
	d.saveHistory(ctx, name, models.ActionUpdate, record.WorkEntry{
		Uid:            id.Uid,
		Pid:            id.Pid,
		PackageName:    id.PackageName,
		UUID:           requestID,
		TimeInterval:   updated.TimeInterval,
		NlpRequestType: nlpType,
	})

	return d.reconcileLocked(ctx, ab, true)
}

// StopLocating 注销定位请求
func (d *Dispatcher) StopLocating(ctx context.Context, id models.Identity, name, requestID string) error {
	err := d.stopLocating(ctx, id, name, requestID)
	d.recorder.RecordRequest(name, models.ActionStop, err)
	return err
}

func (d *Dispatcher) stopLocating(ctx context.Context, id models.Identity, name, requestID string) error {
	ab, _, err := d.lookup(name)
	if err != nil {
		return err
	}

	ab.mu.Lock()
	defer ab.mu.Unlock()

	if !ab.live.Remove(id.Uid, id.Pid, id.PackageName, requestID) {
		return fmt.Errorf("%s/%s: %w", id.PackageName, requestID, ErrRequestNotFound)
	}

	d.logger.Info("Stop locating",
		zap.String("ability", name),
		zap.Int32("uid", id.Uid),
		zap.String("package", id.PackageName),
		zap.String("uuid", requestID))
	d.saveHistory(ctx, name, models.ActionStop, record.WorkEntry{
		Uid:         id.Uid,
		Pid:         id.Pid,
		PackageName: id.PackageName,
		UUID:        requestID,
	})

	return d.reconcileLocked(ctx, ab, false)
}

// StopPackage 移除某个包在所有能力上的请求（例如进程退出）
func (d *Dispatcher) StopPackage(ctx context.Context, packageName string) (int, error) {
	removed := 0
	for name, ab := range d.abilities {
		ab.mu.Lock()
		n := 0
		for ab.live.RemoveByName(packageName) {
			n++
		}
		var err error
		if n > 0 {
			d.saveHistory(ctx, name, models.ActionStop, record.WorkEntry{PackageName: packageName})
			err = d.reconcileLocked(ctx, ab, false)
		}
		ab.mu.Unlock()

		removed += n
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// Reconcile 对比上次下发的记录，有变化时重新下发
func (d *Dispatcher) Reconcile(ctx context.Context, name string) error {
	ab, _, err := d.lookup(name)
	if err != nil {
		return err
	}
	ab.mu.Lock()
	defer ab.mu.Unlock()
	return d.reconcileLocked(ctx, ab, false)
}

func (d *Dispatcher) reconcileLocked(ctx context.Context, ab *abilityRecords, force bool) error {
	added, removed := record.Diff(ab.snapshot, ab.live)
	force = force || ab.dirty
	if !force && len(added) == 0 && len(removed) == 0 {
		return nil
	}

	agg := d.computeAggregate(ab)
	agg.Added = len(added)
	agg.Removed = len(removed)

	p := parcel.NewWriter()
	if !ab.live.Marshalling(p) {
		return fmt.Errorf("marshal work record for %s", ab.name)
	}

	if ab.mock {
		d.logger.Debug("Mock location enabled, skip dispatch", zap.String("ability", ab.name))
	} else {
		err := ab.backend.SendWorkRecord(ctx, p.Bytes())
		d.recorder.RecordDispatch(ab.name, p.Len(), err)
		if err != nil {
			// 快照不更新，下次聚合时重试
			ab.dirty = true
			return fmt.Errorf("%w: %s: %w", ErrDispatchFailed, ab.name, err)
		}
	}

	ab.dirty = false
	ab.snapshot.Set(ab.live)
	ab.aggregate = agg

	if machine, ok := d.stateManager.Get(ab.name); ok {
		if agg.RequesterCount > 0 {
			machine.TriggerIfPossible(state.EventStartLocating)
		} else {
			machine.TriggerIfPossible(state.EventStopLocating)
		}
		machine.UpdateState(func(s *state.AbilityState) {
			s.RequesterCount = agg.RequesterCount
			s.MinTimeInterval = agg.MinTimeInterval
			s.HighAccuracy = agg.HighAccuracy
		})
	}
	d.recorder.RecordAggregate(ab.name, agg.RequesterCount, agg.MinTimeInterval)

	d.logger.Info("Aggregate updated",
		zap.String("ability", ab.name),
		zap.Int("requesters", agg.RequesterCount),
		zap.Int32("min_time_interval", agg.MinTimeInterval),
		zap.Bool("high_accuracy", agg.HighAccuracy),
		zap.Int("added", agg.Added),
		zap.Int("removed", agg.Removed))

	if d.history != nil {
		snap := &models.AggregateSnapshot{
			Ability:         ab.name,
			RequesterCount:  agg.RequesterCount,
			MinTimeInterval: agg.MinTimeInterval,
			HighAccuracy:    agg.HighAccuracy,
			Record:          ab.live.String(),
			RecordedAt:      agg.UpdatedAt,
		}
		if err := d.history.InsertSnapshot(ctx, snap); err != nil {
			d.logger.Error("Failed to save aggregate snapshot", zap.Error(err), zap.String("ability", ab.name))
		}
	}

	d.publish(agg)
	return nil
}

func (d *Dispatcher) computeAggregate(ab *abilityRecords) models.Aggregate {
	agg := models.Aggregate{
		Ability:         ab.name,
		RequesterCount:  ab.live.Size(),
		MinTimeInterval: ab.live.MinTimeInterval(),
		NlpRequestType:  models.NlpRequestTypeNormal,
		UpdatedAt:       d.now(),
	}
	for _, e := range ab.live.Entries() {
		if e.Config != nil && e.Config.IsRequestForAccuracy() {
			agg.HighAccuracy = true
			agg.NlpRequestType = models.NlpRequestTypeAccuracy
			break
		}
	}
	return agg
}

// DisableAbility 关闭能力并清空其请求
func (d *Dispatcher) DisableAbility(ctx context.Context, name string) error {
	ab, machine, err := d.lookup(name)
	if err != nil {
		return err
	}

	ab.mu.Lock()
	defer ab.mu.Unlock()

	if !ab.live.IsEmpty() {
		d.saveHistory(ctx, name, models.ActionClear, record.WorkEntry{})
	}
	ab.live.Clear()
	// 先切换状态，下发失败时由周期聚合重试
	machine.TriggerIfPossible(state.EventDisable)
	if err := d.reconcileLocked(ctx, ab, false); err != nil {
		return err
	}
	ab.snapshot.Clear()
	return nil
}

// EnableAbility 重新启用能力
func (d *Dispatcher) EnableAbility(name string) error {
	ab, machine, err := d.lookup(name)
	if err != nil {
		return err
	}
	ab.mu.Lock()
	defer ab.mu.Unlock()
	machine.TriggerIfPossible(state.EventEnable)
	return nil
}

// SetMockLocation 开启后聚合结果不再下发到能力
func (d *Dispatcher) SetMockLocation(ctx context.Context, name string, enabled bool) error {
	ab, _, err := d.lookup(name)
	if err != nil {
		return err
	}
	if enabled && !d.cfg.MockLocationEnabled {
		return ErrMockNotAllowed
	}

	ab.mu.Lock()
	defer ab.mu.Unlock()

	if ab.mock == enabled {
		return nil
	}
	ab.mock = enabled
	d.logger.Info("Mock location switched", zap.String("ability", name), zap.Bool("enabled", enabled))
	if !enabled {
		// 关闭模拟后把当前需求同步给能力
		return d.reconcileLocked(ctx, ab, true)
	}
	return nil
}

// Record 获取能力当前记录的副本
func (d *Dispatcher) Record(name string) (*record.WorkRecord, error) {
	ab, _, err := d.lookup(name)
	if err != nil {
		return nil, err
	}
	wr := record.New()
	wr.Set(ab.live)
	wr.SetDeviceID(ab.live.DeviceID())
	return wr, nil
}

// Aggregate 获取能力当前的聚合结果
func (d *Dispatcher) Aggregate(name string) (models.Aggregate, error) {
	ab, _, err := d.lookup(name)
	if err != nil {
		return models.Aggregate{}, err
	}
	ab.mu.Lock()
	defer ab.mu.Unlock()
	return ab.aggregate, nil
}

// Aggregates 获取全部能力的聚合结果，按能力名排序
func (d *Dispatcher) Aggregates() []models.Aggregate {
	names := make([]string, 0, len(d.abilities))
	for name := range d.abilities {
		names = append(names, name)
	}
	sort.Strings(names)

	list := make([]models.Aggregate, 0, len(names))
	for _, name := range names {
		ab := d.abilities[name]
		ab.mu.Lock()
		list = append(list, ab.aggregate)
		ab.mu.Unlock()
	}
	return list
}

// States 获取所有能力的状态
func (d *Dispatcher) States() map[string]*state.AbilityState {
	return d.stateManager.GetAllStates()
}

// aggregateLoop 周期性清理超时的单次定位请求
func (d *Dispatcher) aggregateLoop(ctx context.Context) {
	defer d.wg.Done()

	interval := d.cfg.AggregationInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.ExpireRequests(ctx)
		}
	}
}

// ExpireRequests 移除已超时的单次定位请求并重新聚合
func (d *Dispatcher) ExpireRequests(ctx context.Context) int {
	now := d.now()
	expired := 0
	for name, ab := range d.abilities {
		ab.mu.Lock()
		for _, e := range ab.live.Entries() {
			if !isExpired(e, now) {
				continue
			}
			if ab.live.Remove(e.Uid, e.Pid, e.PackageName, e.UUID) {
				expired++
				d.logger.Info("Request expired",
					zap.String("ability", name),
					zap.String("package", e.PackageName),
					zap.String("uuid", e.UUID))
				d.saveHistory(ctx, name, models.ActionExpire, e)
			}
		}
		if err := d.reconcileLocked(ctx, ab, false); err != nil {
			d.logger.Error("Failed to reconcile", zap.Error(err), zap.String("ability", name))
		}
		ab.mu.Unlock()
	}
	return expired
}

// checkPermission 校验调用方是否拥有能力所需的全部权限
func (d *Dispatcher) checkPermission(id models.Identity, name string) error {
	for _, perm := range requiredPermissions(name) {
		if !d.permission.Check(id.TokenID, perm) {
			d.logger.Warn("Permission denied",
				zap.String("ability", name),
				zap.String("package", id.PackageName),
				zap.Uint32("token_id", id.TokenID),
				zap.String("permission", perm))
			return fmt.Errorf("%s: %w", perm, ErrPermissionDenied)
		}
	}
	return nil
}

// nlpRequestType 精度优先的请求使用高精度 NLP
func nlpRequestType(cfg *models.RequestConfig) int32 {
	if cfg != nil && cfg.IsRequestForAccuracy() {
		return models.NlpRequestTypeAccuracy
	}
	return models.NlpRequestTypeNormal
}

// isExpired 单次定位请求在 timeOut 秒后过期
func isExpired(e record.WorkEntry, now time.Time) bool {
	if e.Config == nil || e.Config.FixNumber != 1 || e.Config.TimeOut <= 0 {
		return false
	}
	deadline := time.Unix(0, e.Config.Timestamp).Add(time.Duration(e.Config.TimeOut) * time.Second)
	return now.After(deadline)
}

func (d *Dispatcher) saveHistory(ctx context.Context, name, action string, e record.WorkEntry) {
	if d.history == nil {
		return
	}
	h := &models.RequestHistory{
		Ability:        name,
		Action:         action,
		Uid:            e.Uid,
		Pid:            e.Pid,
		PackageName:    e.PackageName,
		UUID:           e.UUID,
		TimeInterval:   e.TimeInterval,
		NlpRequestType: e.NlpRequestType,
		RecordedAt:     d.now(),
	}
	if err := d.history.InsertHistory(ctx, h); err != nil {
		d.logger.Error("Failed to save request history", zap.Error(err), zap.String("ability", name))
	}
}

// onStateChange 能力状态变化回调
func (d *Dispatcher) onStateChange(name, from, to string) {
	d.logger.Info("Ability state changed",
		zap.String("ability", name),
		zap.String("from", from),
		zap.String("to", to))
}
