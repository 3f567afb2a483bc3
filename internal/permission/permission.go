// Package permission gates microphone and speech access. A denied permission is a boolean
// answer, never a retried error: nothing that needs the capability is started.
package permission

import (
	"context"
	"log/slog"
	"sync"
)

// Kind is a user-grantable capability.
type Kind int

const (
	Microphone Kind = iota
	Speech
)

func (k Kind) String() string {
	if k == Speech {
		return "speech"
	}
	return "microphone"
}

// Status is the last known answer for a Kind.
type Status int

const (
	Undetermined Status = iota
	Granted
	Denied
)

func (s Status) String() string {
	return [...]string{"undetermined", "granted", "denied"}[s]
}

// Authorizer asks the platform for a capability. It may block on user interaction.
type Authorizer interface {
	Authorize(ctx context.Context, kind Kind) (bool, error)
}

// Static answers from configuration.
type Static struct {
	Microphone bool
	Speech     bool
}

// Authorize implements Authorizer.
func (s Static) Authorize(_ context.Context, kind Kind) (bool, error) {
	if kind == Speech {
		return s.Speech, nil
	}
	return s.Microphone, nil
}

// Gate caches answers so control code can check them without blocking.
type Gate struct {
	auth Authorizer

	mu     sync.RWMutex
	status map[Kind]Status
}

// NewGate creates a gate with every Kind undetermined.
func NewGate(auth Authorizer) *Gate {
	return &Gate{auth: auth, status: make(map[Kind]Status)}
}

// Request asks for kind without blocking the caller. The channel receives exactly one value
// and is then closed. Errors and cancellation count as denial.
func (g *Gate) Request(ctx context.Context, kind Kind) <-chan bool {
	ch := make(chan bool, 1)
	go func() {
		defer close(ch)
		ok, err := g.auth.Authorize(ctx, kind)
		if err != nil {
			slog.Warn("permission request failed", "kind", kind, "error", err)
			ok = false
		}
		if ctx.Err() != nil {
			ok = false
		}
		g.set(kind, ok)
		ch <- ok
	}()
	return ch
}

func (g *Gate) set(kind Kind, ok bool) {
	st := Denied
	if ok {
		st = Granted
	}
	g.mu.Lock()
	g.status[kind] = st
	g.mu.Unlock()
	slog.Info("permission resolved", "kind", kind, "status", st)
}

// Status returns the cached answer for kind.
func (g *Gate) Status(kind Kind) Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status[kind]
}

// Granted reports whether every listed kind has been granted.
func (g *Gate) Granted(kinds ...Kind) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, k := range kinds {
		if g.status[k] != Granted {
			return false
		}
	}
	return true
}
