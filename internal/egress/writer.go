// Package egress applies locally converged OR-Map inserts back to an AAS
// server via element PATCH. Removes are a documented no-op: the AAS delete
// verb is not wired.
package egress

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/aas-deltasync/agent/internal/aasclient"
	"github.com/aas-deltasync/agent/internal/crdt"
	"github.com/aas-deltasync/agent/internal/logging"
	"github.com/aas-deltasync/agent/internal/metrics"
	"github.com/aas-deltasync/agent/internal/tracing"
)

// Writer applies a Delta's inserts to a submodel via an aasclient.Client.
type Writer struct {
	client     *aasclient.Client
	submodelID string
	log        *logging.Logger
	metrics    *metrics.Metrics
}

// New builds a Writer that patches elements of submodelID via client. m may
// be nil, in which case egress writes are not counted.
func New(client *aasclient.Client, submodelID string, log *logging.Logger, m *metrics.Metrics) *Writer {
	return &Writer{client: client, submodelID: submodelID, log: log, metrics: m}
}

// Apply PATCHes every insert in delta to the configured submodel. Failures
// are logged and do not block local convergence; removes are skipped with a
// debug log line recording that no delete API is wired.
func (w *Writer) Apply(ctx context.Context, delta crdt.Delta) {
	ctx, span := tracing.StartSpan(ctx, "egress.apply", attribute.String("submodel_id", w.submodelID))
	defer span.End()

	for _, ins := range delta.Inserts {
		if err := w.client.PatchSubmodelElementValue(ctx, w.submodelID, ins.Key, ins.Value); err != nil {
			w.log.Warn("egress: failed to apply delta insert",
				"submodel_id", w.submodelID, "path", ins.Key, "error", err)
			if w.metrics != nil {
				w.metrics.EgressFailures.Inc()
				w.metrics.ErrorCount.Inc()
			}
			continue
		}
		if w.metrics != nil {
			w.metrics.EgressWrites.Inc()
		}
	}
	for _, rem := range delta.Removes {
		w.log.Debug("egress: skipping remove, no delete API wired",
			"submodel_id", w.submodelID, "path", rem.Key)
	}
}
