package health

import (
	"menu-analysis-backend/internal/shared/circuitbreaker"
)

// BreakerSource exposes the provider circuit breaker.
type BreakerSource interface {
	Breaker() circuitbreaker.Snapshot
}

// Status is the /health payload.
type Status struct {
	OK      bool                    `json:"ok"`
	Breaker circuitbreaker.Snapshot `json:"breaker"`
}

// Service encapsulates health-related checks.
type Service struct {
	breaker BreakerSource
}

// NewService constructs a new health service.
func NewService(breaker BreakerSource) *Service {
	return &Service{breaker: breaker}
}

// Status reports unhealthy while the breaker is open, since every new
// analysis would be rejected.
func (s *Service) Status() Status {
	if s.breaker == nil {
		return Status{OK: true, Breaker: circuitbreaker.Snapshot{State: circuitbreaker.StateClosed}}
	}
	snap := s.breaker.Breaker()
	return Status{OK: snap.State != circuitbreaker.StateOpen, Breaker: snap}
}
