package safety

import (
	"fmt"
	"sync"
	"time"

	"talon/internal/logger"
)

// KillSwitchError blocks a mutating operation while the gate is active.
type KillSwitchError struct {
	Operation string
	Reason    string
}

func (e *KillSwitchError) Error() string {
	return fmt.Sprintf("%s blocked - kill switch active: %s", e.Operation, e.Reason)
}

// State is a point-in-time snapshot of the gate.
type State struct {
	Active      bool
	Reason      string
	ActivatedAt time.Time
	ActivatedBy string
}

// Gate is the process-wide kill switch. One instance is shared by reference
// among every component that performs writes; activation must become visible
// to all of them immediately.
type Gate struct {
	mu          sync.RWMutex
	active      bool
	reason      string
	activatedAt time.Time
	activatedBy string
}

func NewGate() *Gate {
	return &Gate{}
}

// Activate flips the gate on. Idempotent: re-activation refreshes the
// reason and actor.
func (g *Gate) Activate(reason, actor string) bool {
	if g == nil {
		return false
	}
	if reason == "" {
		reason = "manual activation"
	}
	if actor == "" {
		actor = "unknown"
	}
	g.mu.Lock()
	g.active = true
	g.reason = reason
	g.activatedAt = time.Now().UTC()
	g.activatedBy = actor
	g.mu.Unlock()

	logger.Warnf("safety: kill switch ACTIVATED reason=%q by=%s - all write operations blocked", reason, actor)
	return true
}

// Deactivate flips the gate off. Returns true even when already inactive.
func (g *Gate) Deactivate(reason, actor string) bool {
	if g == nil {
		return false
	}
	g.mu.Lock()
	if !g.active {
		g.mu.Unlock()
		logger.Infof("safety: kill switch already inactive")
		return true
	}
	previousReason := g.reason
	activeFor := time.Since(g.activatedAt)
	g.active = false
	g.reason = ""
	g.activatedAt = time.Time{}
	g.activatedBy = ""
	g.mu.Unlock()

	logger.Infof("safety: kill switch deactivated reason=%q by=%s previous=%q active_for=%s",
		reason, actor, previousReason, activeFor.Truncate(time.Millisecond))
	return true
}

func (g *Gate) Active() bool {
	if g == nil {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.active
}

func (g *Gate) Status() State {
	if g == nil {
		return State{}
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return State{
		Active:      g.active,
		Reason:      g.reason,
		ActivatedAt: g.activatedAt,
		ActivatedBy: g.activatedBy,
	}
}

// Guard fails with a KillSwitchError when the gate is active. Every write
// path calls this before touching the broker or the ledgers.
func (g *Gate) Guard(operation string) error {
	if g == nil {
		return nil
	}
	g.mu.RLock()
	active, reason := g.active, g.reason
	g.mu.RUnlock()
	if !active {
		return nil
	}
	err := &KillSwitchError{Operation: operation, Reason: reason}
	logger.Warnf("safety: %v", err)
	return err
}
