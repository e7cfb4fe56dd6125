package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// 能力状态常量
const (
	StateDisabled = "disabled"
	StateIdle     = "idle"
	StateLocating = "locating"
)

// 事件常量
const (
	EventEnable        = "enable"
	EventDisable       = "disable"
	EventStartLocating = "start_locating"
	EventStopLocating  = "stop_locating"
)

// AbilityState 能力状态
type AbilityState struct {
	Ability         string    `json:"ability"`
	CurrentState    string    `json:"state"`
	Since           time.Time `json:"since"`
	RequesterCount  int       `json:"requester_count"`
	MinTimeInterval int32     `json:"min_time_interval"`
	HighAccuracy    bool      `json:"high_accuracy"`
}

// Machine 能力状态机
type Machine struct {
	mu            sync.RWMutex
	ability       string
	fsm           *fsm.FSM
	state         *AbilityState
	onStateChange func(ability, from, to string)
}

// NewMachine 创建状态机
func NewMachine(ability, initialState string, onStateChange func(ability, from, to string)) *Machine {
	if initialState == "" {
		initialState = StateIdle
	}

	m := &Machine{
		ability:       ability,
		onStateChange: onStateChange,
		state: &AbilityState{
			Ability:      ability,
			CurrentState: initialState,
			Since:        time.Now(),
		},
	}

	m.fsm = fsm.NewFSM(
		initialState,
		fsm.Events{
			{Name: EventEnable, Src: []string{StateDisabled}, Dst: StateIdle},
			{Name: EventDisable, Src: []string{StateIdle, StateLocating}, Dst: StateDisabled},
			{Name: EventStartLocating, Src: []string{StateIdle}, Dst: StateLocating},
			{Name: EventStopLocating, Src: []string{StateLocating}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if m.onStateChange != nil && e.Src != e.Dst {
					m.onStateChange(m.ability, e.Src, e.Dst)
				}
			},
		},
	)

	return m
}

// CurrentState 获取当前状态
func (m *Machine) CurrentState() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Current()
}

// GetState 获取完整状态副本
func (m *Machine) GetState() *AbilityState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stateCopy := *m.state
	stateCopy.CurrentState = m.fsm.Current()
	return &stateCopy
}

// UpdateState 更新状态数据
func (m *Machine) UpdateState(update func(s *AbilityState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	update(m.state)
}

// Trigger 触发事件
func (m *Machine) Trigger(event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fsm.Event(context.Background(), event); err != nil {
		return fmt.Errorf("trigger event %s: %w", event, err)
	}

	m.state.CurrentState = m.fsm.Current()
	m.state.Since = time.Now()
	return nil
}

// TriggerIfPossible 仅在当前状态允许时触发事件
func (m *Machine) TriggerIfPossible(event string) bool {
	if !m.CanTransition(event) {
		return false
	}
	return m.Trigger(event) == nil
}

// CanTransition 检查是否可以转换
func (m *Machine) CanTransition(event string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Can(event)
}

// Manager 状态机管理器
type Manager struct {
	mu       sync.RWMutex
	machines map[string]*Machine
	onChange func(ability, from, to string)
}

// NewManager 创建管理器
func NewManager(onChange func(ability, from, to string)) *Manager {
	return &Manager{
		machines: make(map[string]*Machine),
		onChange: onChange,
	}
}

// GetOrCreate 获取或创建状态机
func (m *Manager) GetOrCreate(ability, initialState string) *Machine {
	m.mu.Lock()
	defer m.mu.Unlock()

	if machine, ok := m.machines[ability]; ok {
		return machine
	}

	machine := NewMachine(ability, initialState, m.onChange)
	m.machines[ability] = machine
	return machine
}

// Get 获取状态机
func (m *Manager) Get(ability string) (*Machine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	machine, ok := m.machines[ability]
	return machine, ok
}

// GetAllStates 获取所有能力状态
func (m *Manager) GetAllStates() map[string]*AbilityState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make(map[string]*AbilityState)
	for ability, machine := range m.machines {
		states[ability] = machine.GetState()
	}
	return states
}
