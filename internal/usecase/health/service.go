package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks. The index check covers the local
// artifact; the provider checks cover the embedding and generation
// backends; the cache check is optional.
type Service struct {
	index      IndexChecker
	embedding  ProviderChecker
	generation ProviderChecker
	cache      CachePinger
}

// New creates a Service. embedding, generation and cache can be nil.
func New(index IndexChecker, embedding, generation ProviderChecker, cache CachePinger) *Service {
	return &Service{index: index, embedding: embedding, generation: generation, cache: cache}
}

// Check runs health checks against all configured components. A missing
// index degrades the service but does not make it unhealthy: diagnoses can
// still run with reduced grounding.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	if err := s.index.Ready(); err != nil {
		checks["index"] = CheckError
	} else {
		checks["index"] = CheckOK
	}

	if s.embedding != nil {
		if err := s.embedding.HealthCheck(ctx); err != nil {
			checks["embedding"] = CheckError
		} else {
			checks["embedding"] = CheckOK
		}
	}

	if s.generation != nil {
		if err := s.generation.HealthCheck(ctx); err != nil {
			checks["generation"] = CheckError
		} else {
			checks["generation"] = CheckOK
		}
	}

	if s.cache != nil {
		if err := s.cache.Ping(ctx); err != nil {
			checks["cache"] = CheckError
		} else {
			checks["cache"] = CheckOK
		}
	}

	status := Healthy
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
			break
		}
	}

	return Report{Status: status, Checks: checks}
}
