package egress

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aas-deltasync/agent/internal/aasclient"
	"github.com/aas-deltasync/agent/internal/crdt"
	"github.com/aas-deltasync/agent/internal/hlc"
	"github.com/aas-deltasync/agent/internal/logging"
)

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	log, err := logging.NewLogger("debug", "json")
	require.NoError(t, err)
	return log
}

func TestWriterApplyPatchesInserts(t *testing.T) {
	var gotPath string
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		gotPath = r.URL.Path
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := aasclient.New(aasclient.Config{BaseURL: server.URL})
	w := New(client, "urn:example:sm:data", testLogger(t), nil)

	delta := crdt.Delta{
		Inserts: []crdt.InsertOp{{Key: "Temperature", Value: float64(25), Ts: hlc.Timestamp{}}},
	}
	w.Apply(context.Background(), delta)

	assert.Contains(t, gotPath, "Temperature")
	assert.Contains(t, gotBody, "25")
}

func TestWriterApplySkipsRemoves(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := aasclient.New(aasclient.Config{BaseURL: server.URL})
	w := New(client, "urn:example:sm:data", testLogger(t), nil)

	delta := crdt.Delta{Removes: []crdt.RemoveOp{{Key: "Temperature", Ts: hlc.Timestamp{}}}}
	w.Apply(context.Background(), delta)

	assert.False(t, called, "remove should not trigger any HTTP request")
}

func TestWriterApplyLogsFailureAndContinues(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := aasclient.New(aasclient.Config{BaseURL: server.URL})
	w := New(client, "urn:example:sm:data", testLogger(t), nil)

	delta := crdt.Delta{
		Inserts: []crdt.InsertOp{{Key: "A", Value: 1, Ts: hlc.Timestamp{}}, {Key: "B", Value: 2, Ts: hlc.Timestamp{}}},
	}
	// Must not panic despite every PATCH failing.
	w.Apply(context.Background(), delta)
}
