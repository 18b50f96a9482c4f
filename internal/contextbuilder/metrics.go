package contextbuilder

import (
	"fmt"

	"github.com/corewright/substrate/internal/metaobserver"
	"github.com/corewright/substrate/internal/store"
)

// recordSystemMetrics logs a handful of system-health gauges after a
// context build. Every call is best-effort: a failure here never affects
// the build itself, mirroring the non-blocking metric recording the
// original query path does around its own observer calls.
func recordSystemMetrics(observer *metaobserver.Observer, s *store.Store, domain string) {
	if observer == nil || s == nil {
		return
	}

	agg, err := s.HeuristicAggregatesByDomain(domain)
	if err != nil {
		return
	}

	meta := fmt.Sprintf(`{"domain":%q}`, domain)

	_, _ = observer.RecordMetric("avg_confidence", agg.AvgConfidence, domain, meta)
	_, _ = observer.RecordMetric("validation_velocity", float64(agg.TotalValidated), domain, meta)

	violationRate := 0.0
	if agg.TotalApplications > 0 {
		violationRate = float64(agg.TotalViolated) / float64(agg.TotalApplications)
	}
	_, _ = observer.RecordMetric("violation_rate", violationRate, domain, meta)

	_, _ = observer.RecordMetric("query_count", 1, domain, meta)
}
