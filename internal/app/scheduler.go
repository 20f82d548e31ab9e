package app

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// AutoAllocationScheduler periodically runs AutoIssueAll for a fixed set of
// tenants. Overlapping passes are safe: every allocation locks its queue row
// and lots and re-checks the entry status.
type AutoAllocationScheduler struct {
	svc      ApplicationService
	tenants  []int
	interval time.Duration
	log      logrus.FieldLogger

	wg sync.WaitGroup
}

func NewAutoAllocationScheduler(svc ApplicationService, tenants []int, interval time.Duration, log logrus.FieldLogger) *AutoAllocationScheduler {
	return &AutoAllocationScheduler{svc: svc, tenants: tenants, interval: interval, log: log}
}

// Start launches the background loop. It returns immediately; the loop stops
// when ctx is cancelled. Wait blocks until it has.
func (s *AutoAllocationScheduler) Start(ctx context.Context) {
	if s.interval <= 0 || len(s.tenants) == 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// RunOnce runs one pass over every configured tenant. A failing tenant does
// not stop the others.
func (s *AutoAllocationScheduler) RunOnce(ctx context.Context) {
	for _, tenantID := range s.tenants {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.svc.AutoIssueAll(ctx, tenantID); err != nil {
			s.log.WithField("tenant_id", tenantID).Warnf("automatic allocation pass failed: %v", err)
		}
	}
}

func (s *AutoAllocationScheduler) Wait() {
	s.wg.Wait()
}
