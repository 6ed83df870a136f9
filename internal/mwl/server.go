package mwl

import (
	"github.com/ipacx/pacs-gateway/internal/metrics"
	"github.com/ipacx/pacs-gateway/pkg/dimse"
)

// NewServer wires the worklist service into a DICOM SCP listener with
// association and match metrics attached. Start is idempotent; callers may
// invoke it again after transient failures.
func NewServer(port int, aeTitle string, orders OrderSource, stationAE string) *dimse.Server {
	svc := NewService(orders, stationAE)
	srv := dimse.NewServer(dimse.ServerConfig{AETitle: aeTitle, Port: port}, svc)
	srv.OnAssociation = func(outcome string) {
		metrics.MWLAssociations.WithLabelValues(outcome).Inc()
	}
	srv.OnFindMatches = func(n int) {
		metrics.MWLMatches.Observe(float64(n))
	}
	return srv
}
