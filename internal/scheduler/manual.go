package scheduler

import (
	"sort"
	"sync"
	"time"
)

// Manual is a Scheduler driven by the caller. Posted work runs on Drain, delayed work
// runs once Advance moves the virtual clock past its deadline. Post may be called from
// any goroutine; Drain and Advance belong to the test goroutine.
type Manual struct {
	mu      sync.Mutex
	now     time.Duration
	seq     int
	queue   []func()
	delayed []*timer
}

type timer struct {
	at       time.Duration
	seq      int
	fn       func()
	canceled bool
	fired    bool
}

// NewManual creates a manual scheduler at virtual time zero.
func NewManual() *Manual { return &Manual{} }

// Post implements Scheduler.
func (m *Manual) Post(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, fn)
}

// After implements Scheduler.
func (m *Manual) After(d time.Duration, fn func()) Cancel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &timer{at: m.now + d, seq: m.seq, fn: fn}
	m.delayed = append(m.delayed, t)
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		if t.canceled || t.fired {
			return false
		}
		t.canceled = true
		return true
	}
}

// Drain runs posted work, including work posted while draining.
func (m *Manual) Drain() {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return
		}
		fn := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		fn()
	}
}

// Advance moves the clock forward by d, firing due timers in deadline order.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()
	for {
		m.Drain()
		t := m.nextDue(target)
		if t == nil {
			break
		}
		t.fn()
	}
	m.mu.Lock()
	m.now = target
	m.mu.Unlock()
}

// nextDue pops the earliest live timer at or before target and marks it fired.
func (m *Manual) nextDue(target time.Duration) *timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	sort.SliceStable(m.delayed, func(i, j int) bool {
		if m.delayed[i].at != m.delayed[j].at {
			return m.delayed[i].at < m.delayed[j].at
		}
		return m.delayed[i].seq < m.delayed[j].seq
	})
	for len(m.delayed) > 0 && m.delayed[0].at <= target {
		t := m.delayed[0]
		m.delayed = m.delayed[1:]
		if t.canceled {
			continue
		}
		m.now = t.at
		t.fired = true
		return t
	}
	return nil
}

// Pending reports how many delayed tasks are still armed.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.delayed {
		if !t.canceled {
			n++
		}
	}
	return n
}
