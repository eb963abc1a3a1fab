package dnd

import (
	"context"
	"sync"
)

// Memory is an in-process two-state silence capability. It backs the
// "memory" dry-run backend and the scheduler tests.
type Memory struct {
	mu         sync.Mutex
	silence    bool
	permission bool
	power      bool
	queryErr   error

	enableCalls  int
	disableCalls int
	queryCalls   int
}

// NewMemory returns a granted, silence-off capability.
func NewMemory() *Memory {
	return &Memory{permission: true, power: true}
}

func (m *Memory) Supported() bool { return true }

func (m *Memory) EnableSilence(context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enableCalls++
	if !m.permission {
		return false
	}
	m.silence = true
	return true
}

func (m *Memory) DisableSilence(context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disableCalls++
	if !m.permission {
		return false
	}
	m.silence = false
	return true
}

func (m *Memory) IsSilenceActive(context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.silence
}

func (m *Memory) HasPermission(context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.permission
}

// RequestPermission grants immediately.
func (m *Memory) RequestPermission(context.Context) {
	m.SetPermission(true)
}

func (m *Memory) IsPowerExemptionGranted(context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.power
}

func (m *Memory) RequestPowerExemption(context.Context) {
	m.mu.Lock()
	m.power = true
	m.mu.Unlock()
}

func (m *Memory) QueryOverrideState(context.Context) (OverrideState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryCalls++
	if m.queryErr != nil {
		return Restricted, m.queryErr
	}
	if m.silence {
		return Restricted, nil
	}
	return Unrestricted, nil
}

// SetSilence simulates a manual user toggle.
func (m *Memory) SetSilence(on bool) {
	m.mu.Lock()
	m.silence = on
	m.mu.Unlock()
}

func (m *Memory) SetPermission(granted bool) {
	m.mu.Lock()
	m.permission = granted
	m.mu.Unlock()
}

func (m *Memory) SetPowerExemption(granted bool) {
	m.mu.Lock()
	m.power = granted
	m.mu.Unlock()
}

// FailQueries makes QueryOverrideState return err until called with nil.
func (m *Memory) FailQueries(err error) {
	m.mu.Lock()
	m.queryErr = err
	m.mu.Unlock()
}

// Calls returns the enable and disable call counts.
func (m *Memory) Calls() (enable, disable int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enableCalls, m.disableCalls
}

// QueryCount returns how many override queries were made.
func (m *Memory) QueryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queryCalls
}
