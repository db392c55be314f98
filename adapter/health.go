package adapter

import (
	"fmt"

	"github.com/heptiolabs/healthcheck"

	"github.com/srediag/handle-guard/guard"
)

// NewHealthHandler builds a healthcheck handler over a session registry.
// Liveness reports whether the registry is reachable at all; readiness
// degrades when any session's closed queue exceeds its capacity or its leak
// budget is exhausted, both of which indicate the debug layer itself is
// misbehaving or under memory pressure.
func NewHealthHandler(reg *guard.Registry) healthcheck.Handler {
	h := healthcheck.NewHandler()
	h.AddLivenessCheck("registry", func() error {
		if reg == nil {
			return fmt.Errorf("registry is nil")
		}
		return nil
	})
	h.AddReadinessCheck("closed-queue-capacity", func() error {
		var err error
		reg.Range(func(s *guard.Session) {
			st := s.Stats()
			if st.ClosedHandles > st.ClosedQueueCapacity {
				err = fmt.Errorf("session %s closed queue %d over capacity %d",
					st.ID, st.ClosedHandles, st.ClosedQueueCapacity)
			}
		})
		return err
	})
	h.AddReadinessCheck("leak-budget", func() error {
		var err error
		reg.Range(func(s *guard.Session) {
			st := s.Stats()
			if st.LeakedBytes > st.LeakBudget {
				err = fmt.Errorf("session %s leaked %d bytes over budget %d",
					st.ID, st.LeakedBytes, st.LeakBudget)
			}
		})
		return err
	})
	return h
}
