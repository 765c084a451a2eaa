package exchange

import (
	"sync"
)

// State 适配器连接状态
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDegraded:
		return "DEGRADED"
	}
	return "UNKNOWN"
}

// MarshalText 状态接口里以字符串输出
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// 允许的状态迁移，任何状态都可以回到 DISCONNECTED
var transitions = map[State][]State{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateConnected, StateDegraded},
	StateConnected:    {StateDegraded},
	StateDegraded:     {StateConnected, StateConnecting},
}

// StateMachine DISCONNECTED -> CONNECTING -> CONNECTED <-> DEGRADED
type StateMachine struct {
	mu       sync.RWMutex
	state    State
	onChange func(from, to State)
}

// NewStateMachine 初始为 DISCONNECTED
func NewStateMachine(onChange func(from, to State)) *StateMachine {
	return &StateMachine{state: StateDisconnected, onChange: onChange}
}

// Current 当前状态
func (m *StateMachine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Transition 非法迁移返回 false 且状态不变，同状态视为成功
func (m *StateMachine) Transition(to State) bool {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return true
	}
	if !allowed(from, to) {
		m.mu.Unlock()
		return false
	}
	m.state = to
	cb := m.onChange
	m.mu.Unlock()

	if cb != nil {
		cb(from, to)
	}
	return true
}

func allowed(from, to State) bool {
	if to == StateDisconnected {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
