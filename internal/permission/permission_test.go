package permission

import (
	"context"
	"errors"
	"testing"
	"time"
)

type errAuthorizer struct{}

func (errAuthorizer) Authorize(context.Context, Kind) (bool, error) {
	return true, errors.New("tcc unavailable")
}

type blockingAuthorizer struct{}

func (blockingAuthorizer) Authorize(ctx context.Context, _ Kind) (bool, error) {
	<-ctx.Done()
	return true, nil
}

func receive(t *testing.T, ch <-chan bool) bool {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("channel closed without a value")
		}
		if _, more := <-ch; more {
			t.Error("channel delivered a second value")
		}
		return v
	case <-time.After(time.Second):
		t.Fatal("no answer")
	}
	return false
}

func TestStaticGate(t *testing.T) {
	g := NewGate(Static{Microphone: true, Speech: false})
	if g.Status(Microphone) != Undetermined {
		t.Errorf("initial Status = %v, want undetermined", g.Status(Microphone))
	}
	if !receive(t, g.Request(context.Background(), Microphone)) {
		t.Error("microphone denied")
	}
	if receive(t, g.Request(context.Background(), Speech)) {
		t.Error("speech granted")
	}
	if !g.Granted(Microphone) {
		t.Error("Granted(Microphone) = false")
	}
	if g.Granted(Microphone, Speech) {
		t.Error("Granted(Microphone, Speech) = true")
	}
	if g.Status(Speech) != Denied {
		t.Errorf("Status(Speech) = %v, want denied", g.Status(Speech))
	}
}

func TestGateErrorIsDenial(t *testing.T) {
	g := NewGate(errAuthorizer{})
	if receive(t, g.Request(context.Background(), Microphone)) {
		t.Error("error answer treated as granted")
	}
	if g.Granted(Microphone) {
		t.Error("Granted() = true after error")
	}
}

func TestGateCancelIsDenial(t *testing.T) {
	g := NewGate(blockingAuthorizer{})
	ctx, cancel := context.WithCancel(context.Background())
	ch := g.Request(ctx, Speech)
	cancel()
	if receive(t, ch) {
		t.Error("canceled request granted")
	}
}
