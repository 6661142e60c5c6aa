package metrics

import (
	"testing"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()
	if m == nil {
		t.Fatal("Expected Metrics, got nil")
	}

	if m.DeltasPublished == nil {
		t.Error("Expected DeltasPublished to be initialized")
	}
	if m.DeltasApplied == nil {
		t.Error("Expected DeltasApplied to be initialized")
	}
	if m.DeltaApplyDuration == nil {
		t.Error("Expected DeltaApplyDuration to be initialized")
	}
	if m.IngressEvents == nil {
		t.Error("Expected IngressEvents to be initialized")
	}
	if m.EgressWrites == nil {
		t.Error("Expected EgressWrites to be initialized")
	}
	if m.EgressFailures == nil {
		t.Error("Expected EgressFailures to be initialized")
	}
	if m.ActivePeers == nil {
		t.Error("Expected ActivePeers to be initialized")
	}
	if m.DocumentCount == nil {
		t.Error("Expected DocumentCount to be initialized")
	}
	if m.AERequestsSent == nil {
		t.Error("Expected AERequestsSent to be initialized")
	}
	if m.AEResponsesApplied == nil {
		t.Error("Expected AEResponsesApplied to be initialized")
	}
	if m.ErrorCount == nil {
		t.Error("Expected ErrorCount to be initialized")
	}
	if m.DurableLogSize == nil {
		t.Error("Expected DurableLogSize to be initialized")
	}
}
