package record

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/langchou/locationd/internal/models"
	"github.com/langchou/locationd/internal/parcel"
)

// MaxRecordCount 反序列化时允许的最大记录数，防止对端声明超大数量
const MaxRecordCount = 100

// ErrInvalidCount 对端声明的记录数为负数或前后不一致
var ErrInvalidCount = errors.New("work record: invalid record count")

// WorkEntry 单个请求方
type WorkEntry struct {
	Uid            int32                 `json:"uid"`
	Pid            int32                 `json:"pid"`
	PackageName    string                `json:"package_name"`
	TimeInterval   int32                 `json:"time_interval"`
	UUID           string                `json:"uuid"`
	NlpRequestType int32                 `json:"nlp_request_type"`
	Config         *models.RequestConfig `json:"config,omitempty"`
}

func (e WorkEntry) matches(uid int32, name, uuid string) bool {
	return e.Uid == uid && e.PackageName == name && e.UUID == uuid
}

func (e WorkEntry) clone() WorkEntry {
	if e.Config != nil {
		cfg := *e.Config
		e.Config = &cfg
	}
	return e
}

// WorkRecord 某个能力上所有活跃请求方的有序集合
// 以 (uid, packageName, uuid) 为键，同一个键只保留一条
type WorkRecord struct {
	mu       sync.Mutex
	entries  []WorkEntry
	deviceID string
}

// New 创建空记录
func New() *WorkRecord {
	return &WorkRecord{}
}

// Add 追加请求方，键已存在时不做任何修改并返回 false
func (w *WorkRecord) Add(e WorkEntry) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.addLocked(e)
}

func (w *WorkRecord) addLocked(e WorkEntry) bool {
	if w.indexLocked(e.Uid, e.PackageName, e.UUID) >= 0 {
		return false
	}
	w.entries = append(w.entries, e.clone())
	return true
}

func (w *WorkRecord) indexLocked(uid int32, name, uuid string) int {
	for i, e := range w.entries {
		if e.matches(uid, name, uuid) {
			return i
		}
	}
	return -1
}

func (w *WorkRecord) removeAtLocked(i int) {
	w.entries = append(w.entries[:i], w.entries[i+1:]...)
}

// Remove 移除第一条匹配的请求方，pid 不参与匹配
func (w *WorkRecord) Remove(uid, pid int32, name, uuid string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	i := w.indexLocked(uid, name, uuid)
	if i < 0 {
		return false
	}
	w.removeAtLocked(i)
	return true
}

// RemoveByName 按包名移除存储顺序中的第一条
func (w *WorkRecord) RemoveByName(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, e := range w.entries {
		if e.PackageName == name {
			w.removeAtLocked(i)
			return true
		}
	}
	return false
}

// Find 是否存在该键
func (w *WorkRecord) Find(uid int32, name, uuid string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.indexLocked(uid, name, uuid) >= 0
}

// Update 原地更新请求配置和 NLP 请求类型，身份不变
func (w *WorkRecord) Update(uid int32, name, uuid string, cfg *models.RequestConfig, nlpType int32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	i := w.indexLocked(uid, name, uuid)
	if i < 0 || cfg == nil {
		return false
	}
	e := &w.entries[i]
	if e.Config == nil {
		e.Config = models.NewRequestConfig()
	}
	e.Config.Set(cfg)
	e.TimeInterval = cfg.TimeInterval
	e.NlpRequestType = nlpType
	return true
}

// Clear 清空所有请求方
func (w *WorkRecord) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = nil
}

// Set 清空后按 other 的顺序复制其全部请求方
func (w *WorkRecord) Set(other *WorkRecord) {
	src := other.Entries()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = make([]WorkEntry, 0, len(src))
	w.entries = append(w.entries, src...)
}

// Entries 返回全部请求方的副本
func (w *WorkRecord) Entries() []WorkEntry {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]WorkEntry, len(w.entries))
	for i, e := range w.entries {
		out[i] = e.clone()
	}
	return out
}

// Entry 按下标获取请求方
func (w *WorkRecord) Entry(i int) (WorkEntry, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if i < 0 || i >= len(w.entries) {
		return WorkEntry{}, false
	}
	return w.entries[i].clone(), true
}

// GetUid 越界返回 -1
func (w *WorkRecord) GetUid(i int) int32 {
	if e, ok := w.Entry(i); ok {
		return e.Uid
	}
	return -1
}

// GetPid 越界返回 -1
func (w *WorkRecord) GetPid(i int) int32 {
	if e, ok := w.Entry(i); ok {
		return e.Pid
	}
	return -1
}

// GetName 越界返回空串
func (w *WorkRecord) GetName(i int) string {
	e, _ := w.Entry(i)
	return e.PackageName
}

// GetTimeInterval 越界返回 -1
func (w *WorkRecord) GetTimeInterval(i int) int32 {
	if e, ok := w.Entry(i); ok {
		return e.TimeInterval
	}
	return -1
}

// GetUuid 越界返回空串
func (w *WorkRecord) GetUuid(i int) string {
	e, _ := w.Entry(i)
	return e.UUID
}

// GetNlpRequestType 越界返回 -1
func (w *WorkRecord) GetNlpRequestType(i int) int32 {
	if e, ok := w.Entry(i); ok {
		return e.NlpRequestType
	}
	return -1
}

// Size 请求方数量
func (w *WorkRecord) Size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// IsEmpty 是否为空
func (w *WorkRecord) IsEmpty() bool {
	return w.Size() == 0
}

// DeviceID 跨设备请求的设备 ID
func (w *WorkRecord) DeviceID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.deviceID
}

// SetDeviceID 设置设备 ID
func (w *WorkRecord) SetDeviceID(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.deviceID = id
}

// MinTimeInterval 所有请求方中最小的正上报间隔，没有则为 0
func (w *WorkRecord) MinTimeInterval() int32 {
	w.mu.Lock()
	defer w.mu.Unlock()

	var min int32
	for _, e := range w.entries {
		if e.TimeInterval <= 0 {
			continue
		}
		if min == 0 || e.TimeInterval < min {
			min = e.TimeInterval
		}
	}
	return min
}

// Marshalling 完整格式：count，逐条 uid/pid/name/timeInterval/uuid/nlpRequestType，最后 deviceId
func (w *WorkRecord) Marshalling(p *parcel.Writer) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !p.WriteInt32(int32(len(w.entries))) {
		return false
	}
	for _, e := range w.entries {
		ok := p.WriteInt32(e.Uid) &&
			p.WriteInt32(e.Pid) &&
			p.WriteString(e.PackageName) &&
			p.WriteInt32(e.TimeInterval) &&
			p.WriteString(e.UUID) &&
			p.WriteInt32(e.NlpRequestType)
		if !ok {
			return false
		}
	}
	return p.WriteString(w.deviceID)
}

// ReadFromParcel Marshalling 的逆操作
// 声明数量超过 MaxRecordCount 时只读取前 MaxRecordCount 条，之后的数据（包括 deviceId）不再读取。
// 出错时记录保持不变。
func (w *WorkRecord) ReadFromParcel(p *parcel.Reader) error {
	count, err := p.ReadInt32()
	if err != nil {
		return fmt.Errorf("read count: %w", err)
	}
	if count < 0 {
		return fmt.Errorf("count %d: %w", count, ErrInvalidCount)
	}
	clamped := count > MaxRecordCount
	if clamped {
		count = MaxRecordCount
	}

	decoded := New()
	for i := 0; i < int(count); i++ {
		e, err := readEntry(p)
		if err != nil {
			return fmt.Errorf("read entry %d: %w", i, err)
		}
		decoded.addLocked(e)
	}

	var deviceID string
	if !clamped {
		if deviceID, err = p.ReadString(); err != nil {
			return fmt.Errorf("read device id: %w", err)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = decoded.entries
	w.deviceID = deviceID
	return nil
}

func readEntry(p *parcel.Reader) (WorkEntry, error) {
	var e WorkEntry
	var err error
	if e.Uid, err = p.ReadInt32(); err != nil {
		return e, fmt.Errorf("uid: %w", err)
	}
	if e.Pid, err = p.ReadInt32(); err != nil {
		return e, fmt.Errorf("pid: %w", err)
	}
	if e.PackageName, err = p.ReadString(); err != nil {
		return e, fmt.Errorf("name: %w", err)
	}
	if e.TimeInterval, err = p.ReadInt32(); err != nil {
		return e, fmt.Errorf("time interval: %w", err)
	}
	if e.UUID, err = p.ReadString(); err != nil {
		return e, fmt.Errorf("uuid: %w", err)
	}
	if e.NlpRequestType, err = p.ReadInt32(); err != nil {
		return e, fmt.Errorf("nlp request type: %w", err)
	}
	cfg := models.NewRequestConfig()
	cfg.TimeInterval = e.TimeInterval
	e.Config = cfg
	return e, nil
}

// Unmarshalling 从 parcel 构造新记录
func Unmarshalling(p *parcel.Reader) (*WorkRecord, error) {
	w := New()
	if err := w.ReadFromParcel(p); err != nil {
		return nil, err
	}
	return w, nil
}

// MarshallingWorkRecord 旧版消费方使用的精简格式，只包含 uid 和 UTF-16 包名：
// count, count, uid..., count, name16...
func (w *WorkRecord) MarshallingWorkRecord(p *parcel.Writer) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := int32(len(w.entries))
	if !p.WriteInt32(n) || !p.WriteInt32(n) {
		return false
	}
	for _, e := range w.entries {
		if !p.WriteInt32(e.Uid) {
			return false
		}
	}
	if !p.WriteInt32(n) {
		return false
	}
	for _, e := range w.entries {
		if !p.WriteString16(e.PackageName) {
			return false
		}
	}
	return true
}

// ReadWorkRecord MarshallingWorkRecord 的逆操作，得到只有 uid 和包名的记录
// 该格式无法跳过多余数据，数量超过 MaxRecordCount 直接拒绝
func ReadWorkRecord(p *parcel.Reader) (*WorkRecord, error) {
	counts := make([]int32, 0, 3)
	readCount := func() (int32, error) {
		n, err := p.ReadInt32()
		if err != nil {
			return 0, err
		}
		if n < 0 || n > MaxRecordCount {
			return 0, fmt.Errorf("count %d: %w", n, ErrInvalidCount)
		}
		counts = append(counts, n)
		return n, nil
	}

	if _, err := readCount(); err != nil {
		return nil, fmt.Errorf("read count: %w", err)
	}
	n, err := readCount()
	if err != nil {
		return nil, fmt.Errorf("read uid count: %w", err)
	}
	uids := make([]int32, n)
	for i := range uids {
		if uids[i], err = p.ReadInt32(); err != nil {
			return nil, fmt.Errorf("read uid %d: %w", i, err)
		}
	}
	if n, err = readCount(); err != nil {
		return nil, fmt.Errorf("read name count: %w", err)
	}
	if counts[0] != counts[1] || counts[1] != counts[2] {
		return nil, fmt.Errorf("counts %v: %w", counts, ErrInvalidCount)
	}

	w := New()
	for i := 0; i < int(n); i++ {
		name, err := p.ReadString16()
		if err != nil {
			return nil, fmt.Errorf("read name %d: %w", i, err)
		}
		w.addLocked(WorkEntry{Uid: uids[i], PackageName: name})
	}
	return w, nil
}

// String 日志用，格式 [uid,pid,name,timeInterval,uuid; ...]
func (w *WorkRecord) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	parts := make([]string, 0, len(w.entries))
	for _, e := range w.entries {
		parts = append(parts, strings.Join([]string{
			strconv.Itoa(int(e.Uid)),
			strconv.Itoa(int(e.Pid)),
			e.PackageName,
			strconv.Itoa(int(e.TimeInterval)),
			e.UUID,
		}, ","))
	}
	return "[" + strings.Join(parts, "; ") + "]"
}

// Diff 计算 next 相对 prev 新增和移除的请求方
func Diff(prev, next *WorkRecord) (added, removed []WorkEntry) {
	for _, e := range next.Entries() {
		if !prev.Find(e.Uid, e.PackageName, e.UUID) {
			added = append(added, e)
		}
	}
	for _, e := range prev.Entries() {
		if !next.Find(e.Uid, e.PackageName, e.UUID) {
			removed = append(removed, e)
		}
	}
	return added, removed
}
