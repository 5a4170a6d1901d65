package manager

import (
	"context"
	"time"
)

// beginGeneration acquires the single in-flight slot, waiting up to maxWait.
// With preempt set the running generation is cancelled instead of waited for.
// The slot is released by onFinish.
func (m *Manager) beginGeneration(ctx context.Context) error {
	select {
	case m.genCh <- struct{}{}:
		return nil
	default:
	}
	if m.preempt {
		m.mu.RLock()
		sess := m.session
		m.mu.RUnlock()
		if sess != nil {
			m.log.Debug().Msg("preempting running generation")
			sess.Cancel()
		}
	}

	timer := time.NewTimer(m.maxWait)
	defer timer.Stop()
	select {
	case m.genCh <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return tooBusyError{}
	}
}

func (m *Manager) endGeneration() {
	select {
	case <-m.genCh:
	default:
	}
}

// Inflight reports whether a generation holds the slot.
func (m *Manager) Inflight() bool { return len(m.genCh) > 0 }
