// Package agent implements the single concurrent event loop that
// multiplexes replication-bus traffic, AAS adapter ingress, and shutdown,
// and drives the per-document OR-Map state.
package agent

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/aas-deltasync/agent/internal/adapter"
	"github.com/aas-deltasync/agent/internal/bus"
	"github.com/aas-deltasync/agent/internal/crdt"
	"github.com/aas-deltasync/agent/internal/durable"
	"github.com/aas-deltasync/agent/internal/egress"
	"github.com/aas-deltasync/agent/internal/hlc"
	"github.com/aas-deltasync/agent/internal/logging"
	"github.com/aas-deltasync/agent/internal/metrics"
	"github.com/aas-deltasync/agent/internal/tracing"
	"github.com/aas-deltasync/agent/internal/wire"
)

// busReconnectBackoff is how long the loop sleeps after a failed publish
// before resuming. The failed publish is not repeated; the delta stays in the
// durable log, where peers' anti-entropy requests can still reach it.
const busReconnectBackoff = 5 * time.Second

// Version is the agent version announced in AgentHello messages.
const Version = "0.1.0"

// Transport is the subset of *bus.Bus the agent depends on. Tests use a
// fake implementation instead of a live MQTT broker.
type Transport interface {
	OnMessage(filter string, handler bus.Handler)
	Subscribe(filter string) error
	Publish(topic string, payload []byte) error
}

// documentState is the in-memory state owned exclusively by the runtime
// loop: no other goroutine reads or mutates its Map.
type documentState struct {
	docID      crdt.DocId
	submodelID string
	Map        *crdt.OrMap
}

// ingressRecord is one adapter-observed change, already resolved to a
// subscribed document and canonical path.
type ingressRecord struct {
	submodelID string
	kind       adapter.ChangeKind
	path       string
	value      any
	ts         hlc.Timestamp
}

type busMessage struct {
	topic   string
	payload []byte
}

// Agent is the per-process mutable core: config, clock, transport, and
// durable log, wired into one event loop.
type Agent struct {
	clock       *hlc.Clock
	bus         Transport
	store       *durable.Store
	topicScheme wire.TopicScheme
	log         *logging.Logger
	metrics     *metrics.Metrics
	aeInterval  time.Duration

	mu            sync.Mutex
	docs          map[string]*documentState // keyed by DocId.String()
	docHashIndex  map[string]string         // doc_hash -> DocId.String()
	subscriptions map[string]string         // submodel_id -> DocId.String()
	egressWriters map[string]*egress.Writer // submodel_id -> writer

	// signer and peers are touched only from inside the Run goroutine
	// (handleHello, handleDeltaMessage, handleAEResponse, persistAndPublish),
	// so unlike docs/subscriptions/egressWriters they need no mutex.
	signer *wire.SignerKeyPair
	peers  map[string]time.Time // actor_id -> last observed

	busIncoming chan busMessage
	ingress     chan ingressRecord
}

// New builds an Agent with no egress writers configured; call
// AddEgressWriter per submodel that should mirror remote deltas back to the
// AAS repository.
func New(clock *hlc.Clock, b Transport, store *durable.Store, topicScheme wire.TopicScheme, log *logging.Logger, m *metrics.Metrics, aeInterval time.Duration) *Agent {
	return &Agent{
		clock:         clock,
		bus:           b,
		store:         store,
		topicScheme:   topicScheme,
		log:           log,
		metrics:       m,
		aeInterval:    aeInterval,
		docs:          make(map[string]*documentState),
		docHashIndex:  make(map[string]string),
		subscriptions: make(map[string]string),
		egressWriters: make(map[string]*egress.Writer),
		peers:         make(map[string]time.Time),
		busIncoming:   make(chan busMessage, 256),
		ingress:       make(chan ingressRecord, 256),
	}
}

// SetSigner configures kp to sign every DocDelta this agent publishes and to
// verify the signature on every signed DocDelta it receives. Signing is
// optional: leaving the signer unset accepts unsigned deltas.
func (a *Agent) SetSigner(kp *wire.SignerKeyPair) {
	a.signer = kp
}

// warnError logs a recoverable failure and counts it against the error-rate
// metric. Used at genuine Protocol/Durable/Transport/Encoding failure sites,
// never for benign or expected conditions (loopback suppression, debug-level
// observations).
func (a *Agent) warnError(msg string, kv ...any) {
	a.log.Warn(append([]any{msg}, kv...)...)
	if a.metrics != nil {
		a.metrics.ErrorCount.Inc()
	}
}

// observePeer records that actorID was seen on the bus just now and updates
// the active-peer gauge to the current distinct-peer count.
func (a *Agent) observePeer(actorID string) {
	a.peers[actorID] = time.Now()
	if a.metrics != nil {
		a.metrics.ActivePeers.Set(float64(len(a.peers)))
	}
}

// AddEgressWriter registers w to receive every remote delta applied to
// submodelID's document. Each submodel carries at most one writer, since
// egress.Writer is scoped to a single submodel's PATCH endpoint.
func (a *Agent) AddEgressWriter(submodelID string, w *egress.Writer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.egressWriters[submodelID] = w
}

// Subscribe registers a document for replication: it hydrates in-memory
// state from the latest durable snapshot plus any surviving deltas, and
// routes both bus traffic and adapter ingress for submodelID to it.
func (a *Agent) Subscribe(docID crdt.DocId, submodelID string) error {
	state := &documentState{docID: docID, submodelID: submodelID, Map: crdt.NewOrMap()}

	if snap, err := a.store.GetSnapshot(docID.String()); err != nil {
		a.warnError("agent: failed to load snapshot, starting empty", "doc_id", docID, "error", err)
	} else if snap != nil {
		restored, err := crdt.SnapshotFromCBOR(snap.SnapshotBytes)
		if err != nil {
			a.warnError("agent: failed to decode snapshot, starting empty", "doc_id", docID, "error", err)
		} else {
			state.Map = restored
		}
	}

	records, err := a.store.GetDeltasAfter(docID.String(), 0)
	if err != nil {
		a.warnError("agent: failed to load durable deltas, state may be incomplete", "doc_id", docID, "error", err)
	}
	for _, rec := range records {
		delta, err := crdt.DeltaFromCBOR(rec.DeltaBytes)
		if err != nil {
			a.warnError("agent: dropping corrupt durable delta", "doc_id", docID, "error", err)
			continue
		}
		delta.ApplyTo(state.Map)
	}

	a.mu.Lock()
	a.docs[docID.String()] = state
	a.docHashIndex[docID.Hash()] = docID.String()
	a.subscriptions[submodelID] = docID.String()
	docCount := len(a.docs)
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.DocumentCount.Set(float64(docCount))
	}

	return a.bus.Subscribe(a.topicScheme.DocWildcard(docID.Hash()))
}

// Run installs the bus handler and drives the event loop until ctx is
// cancelled. It returns after flushing no further work: in-memory state is
// already durable as of each applied delta.
func (a *Agent) Run(ctx context.Context) error {
	a.bus.OnMessage(a.topicScheme.TenantWildcard(), func(topic string, payload []byte) {
		select {
		case a.busIncoming <- busMessage{topic: topic, payload: payload}:
		case <-ctx.Done():
		}
	})

	var aeTick <-chan time.Time
	if a.aeInterval > 0 {
		ticker := time.NewTicker(a.aeInterval)
		defer ticker.Stop()
		aeTick = ticker.C
	}

	a.publishHello()

	for {
		select {
		case <-ctx.Done():
			a.log.Info("agent: shutting down")
			return nil
		case bm := <-a.busIncoming:
			a.handleBusMessage(ctx, bm.topic, bm.payload)
		case rec := <-a.ingress:
			a.handleIngress(ctx, rec)
		case <-aeTick:
			a.checkpoint()
			a.sendAERequests(ctx)
		}
	}
}

// publishHello announces this agent on every subscribed document's hello
// topic so peers can seed their inventory without waiting for a first delta.
func (a *Agent) publishHello() {
	hello := wire.AgentHello{
		AgentID:      a.clock.ActorID().String(),
		Capabilities: []string{"delta", "anti-entropy"},
		ClockSummary: a.clock.Last().Bytes(),
		Version:      Version,
	}
	encoded, err := hello.ToCBOR()
	if err != nil {
		a.warnError("agent: failed to encode hello", "error", err)
		return
	}

	a.mu.Lock()
	hashes := make([]string, 0, len(a.docHashIndex))
	for h := range a.docHashIndex {
		hashes = append(hashes, h)
	}
	a.mu.Unlock()

	for _, h := range hashes {
		if err := a.bus.Publish(a.topicScheme.Hello(h), encoded); err != nil {
			a.warnError("agent: failed to publish hello", "doc_hash", h, "error", err)
		}
	}
}

// IngestBasyxEvent converts a parsed BaSyx MQTT event into an ingress
// record and enqueues it, blocking (cooperatively throttling the adapter)
// if the ingress channel is full. Events for submodels outside the
// subscription set are dropped.
func (a *Agent) IngestBasyxEvent(ctx context.Context, ev adapter.BasyxEvent) {
	if ev.Element == nil {
		return
	}

	var kind adapter.ChangeKind
	switch ev.EventType {
	case adapter.EventCreated, adapter.EventUpdated:
		kind = adapter.ChangeInsert
	case adapter.EventPatched:
		if !ev.Element.HasValue {
			return
		}
		kind = adapter.ChangeInsert
	case adapter.EventDeleted:
		kind = adapter.ChangeRemove
	default:
		return
	}

	path := strings.ReplaceAll(ev.Element.IDShortPath, "/", ".")
	rec := ingressRecord{
		submodelID: ev.SubmodelID,
		kind:       kind,
		path:       path,
		value:      ev.Element.Value,
		ts:         a.clock.Tick(),
	}

	select {
	case a.ingress <- rec:
	case <-ctx.Done():
	}
}

// IngestPollChanges converts a poll adapter's batch of Changes for
// submodelID into ingress records.
func (a *Agent) IngestPollChanges(ctx context.Context, submodelID string, changes []adapter.Change) {
	for _, ch := range changes {
		rec := ingressRecord{
			submodelID: submodelID,
			kind:       ch.Kind,
			path:       ch.Path,
			value:      ch.Value,
			ts:         ch.Timestamp,
		}
		select {
		case a.ingress <- rec:
		case <-ctx.Done():
			return
		}
	}
}

func (a *Agent) handleIngress(ctx context.Context, rec ingressRecord) {
	ctx, span := tracing.StartSpan(ctx, "agent.handle_ingress", attribute.String("submodel_id", rec.submodelID))
	defer span.End()

	a.mu.Lock()
	docIDStr, ok := a.subscriptions[rec.submodelID]
	var state *documentState
	if ok {
		state = a.docs[docIDStr]
	}
	a.mu.Unlock()
	if !ok || state == nil {
		return
	}

	var delta crdt.Delta
	switch rec.kind {
	case adapter.ChangeInsert:
		delta.Inserts = []crdt.InsertOp{{Key: rec.path, Value: rec.value, Ts: rec.ts}}
	case adapter.ChangeRemove:
		delta.Removes = []crdt.RemoveOp{{Key: rec.path, Ts: rec.ts}}
	}

	delta.ApplyTo(state.Map)
	if a.metrics != nil {
		a.metrics.IngressEvents.Inc()
	}

	a.persistAndPublish(ctx, state.docID, rec.ts, delta)
}

func (a *Agent) persistAndPublish(ctx context.Context, docID crdt.DocId, ts hlc.Timestamp, delta crdt.Delta) {
	payload, err := delta.ToCBOR()
	if err != nil {
		a.warnError("agent: failed to encode delta", "doc_id", docID, "error", err)
		return
	}

	if err := a.store.SaveDelta(docID.String(), ts.Bytes(), payload, ts.ActorID.String(), ts.PhysicalMs, time.Now().UnixMilli()); err != nil {
		a.warnError("agent: durable write failed, continuing in-memory", "doc_id", docID, "error", err)
	}

	dd := wire.NewDocDelta(docID.String(), ts, payload)
	if a.signer != nil {
		dd.Signature = a.signer.Sign(dd.DocID, dd.DeltaID, dd.DeltaPayload)
	}
	encoded, err := dd.ToCBOR()
	if err != nil {
		a.warnError("agent: failed to encode DocDelta", "doc_id", docID, "error", err)
		return
	}

	topic := a.topicScheme.Delta(docID.Hash())
	if err := a.bus.Publish(topic, encoded); err != nil {
		a.warnError("agent: publish failed, delta left to anti-entropy", "topic", topic, "error", err)
		time.Sleep(busReconnectBackoff)
		return
	}
	if a.metrics != nil {
		a.metrics.DeltasPublished.Inc()
	}
}

func (a *Agent) handleBusMessage(ctx context.Context, topic string, payload []byte) {
	ctx, span := tracing.StartSpan(ctx, "agent.handle_bus_message", attribute.String("topic", topic))
	defer span.End()

	docHash, kind, err := a.topicScheme.Parse(topic)
	if err != nil {
		a.warnError("agent: dropping message on unparseable topic", "topic", topic, "error", err)
		return
	}

	a.mu.Lock()
	docIDStr, known := a.docHashIndex[docHash]
	var state *documentState
	if known {
		state = a.docs[docIDStr]
	}
	a.mu.Unlock()
	if !known || state == nil {
		return
	}

	switch kind {
	case wire.KindDelta:
		a.handleDeltaMessage(ctx, state, docHash, payload)
	case wire.KindAERequest:
		a.handleAERequest(ctx, state, docHash, payload)
	case wire.KindAEResponse:
		a.handleAEResponse(ctx, state, payload)
	case wire.KindHello:
		a.handleHello(payload)
	}
}

func (a *Agent) handleDeltaMessage(ctx context.Context, state *documentState, docHash string, payload []byte) {
	dd, err := wire.DocDeltaFromCBOR(payload)
	if err != nil {
		a.warnError("agent: dropping undecodable delta", "error", err)
		return
	}
	if dd.DocID != state.docID.String() {
		a.warnError("agent: doc_id/doc_hash mismatch, applying anyway", "doc_hash", docHash, "doc_id", dd.DocID)
	}

	ts, err := dd.Timestamp()
	if err != nil {
		a.warnError("agent: dropping delta with malformed delta_id", "error", err)
		return
	}
	if ts.ActorID == a.clock.ActorID() {
		return // loopback suppression: this is our own publish echoed back.
	}
	a.clock.Update(ts)
	a.observePeer(ts.ActorID.String())

	if a.signer != nil && len(dd.Signature) > 0 {
		if !a.signer.Verify(dd.DocID, dd.DeltaID, dd.DeltaPayload, dd.Signature) {
			a.warnError("agent: dropping delta with invalid signature", "doc_id", dd.DocID)
			return
		}
	}

	delta, err := crdt.DeltaFromCBOR(dd.DeltaPayload)
	if err != nil {
		a.warnError("agent: dropping delta with undecodable payload", "error", err)
		return
	}

	a.applyRemoteDelta(ctx, state, ts, dd.DeltaID, delta)
}

func (a *Agent) applyRemoteDelta(ctx context.Context, state *documentState, ts hlc.Timestamp, deltaID []byte, delta crdt.Delta) {
	ctx, span := tracing.StartSpan(ctx, "agent.apply_remote_delta", attribute.String("doc_id", state.docID.String()))
	defer span.End()

	start := time.Now()
	delta.ApplyTo(state.Map)
	if a.metrics != nil {
		a.metrics.DeltasApplied.Inc()
		a.metrics.DeltaApplyDuration.Observe(time.Since(start).Seconds())
	}

	payload, err := delta.ToCBOR()
	if err == nil {
		if err := a.store.SaveDelta(state.docID.String(), deltaID, payload, ts.ActorID.String(), ts.PhysicalMs, time.Now().UnixMilli()); err != nil {
			a.warnError("agent: durable write failed for remote delta", "doc_id", state.docID, "error", err)
		}
	}
	if err := a.store.UpdatePeerProgress(ts.ActorID.String(), state.docID.String(), deltaID, time.Now().UnixMilli()); err != nil {
		a.warnError("agent: failed to update peer progress", "doc_id", state.docID, "error", err)
	}

	a.mu.Lock()
	writer := a.egressWriters[state.submodelID]
	a.mu.Unlock()
	if writer != nil {
		writer.Apply(ctx, delta)
	}
}

func (a *Agent) handleAERequest(ctx context.Context, state *documentState, docHash string, payload []byte) {
	req, err := wire.AntiEntropyRequestFromCBOR(payload)
	if err != nil {
		a.warnError("agent: dropping undecodable AE request", "error", err)
		return
	}
	threshold, err := req.HaveSummaryThreshold()
	if err != nil {
		a.warnError("agent: dropping AE request with malformed have_summary", "error", err)
		return
	}

	records, err := a.store.GetDeltasAfter(state.docID.String(), threshold)
	if err != nil {
		a.warnError("agent: failed to read durable deltas for AE response", "doc_id", state.docID, "error", err)
		return
	}
	if len(records) == 0 {
		return
	}

	var totalBytes int
	deltas := make([]wire.DocDelta, 0, len(records))
	for _, rec := range records {
		deltas = append(deltas, wire.DocDelta{DocID: state.docID.String(), DeltaID: rec.DeltaID, DeltaPayload: rec.DeltaBytes})
		totalBytes += len(rec.DeltaBytes)
	}

	resp := wire.AntiEntropyResponse{DocID: state.docID.String(), Deltas: deltas}
	if snap, err := a.store.GetSnapshot(state.docID.String()); err == nil && snap != nil && len(snap.SnapshotBytes) < totalBytes {
		resp = wire.AntiEntropyResponse{DocID: state.docID.String(), Snapshot: snap.SnapshotBytes}
	}

	encoded, err := resp.ToCBOR()
	if err != nil {
		a.warnError("agent: failed to encode AE response", "error", err)
		return
	}
	if err := a.bus.Publish(a.topicScheme.AEResponse(docHash), encoded); err != nil {
		a.warnError("agent: failed to publish AE response", "error", err)
	}
}

func (a *Agent) handleAEResponse(ctx context.Context, state *documentState, payload []byte) {
	resp, err := wire.AntiEntropyResponseFromCBOR(payload)
	if err != nil {
		a.warnError("agent: dropping undecodable AE response", "error", err)
		return
	}

	if len(resp.Snapshot) > 0 {
		restored, err := crdt.SnapshotFromCBOR(resp.Snapshot)
		if err != nil {
			a.warnError("agent: dropping undecodable AE snapshot", "error", err)
			return
		}
		state.Map = restored
	}

	for _, dd := range resp.Deltas {
		ts, err := dd.Timestamp()
		if err != nil {
			a.warnError("agent: skipping AE delta with malformed delta_id", "error", err)
			continue
		}
		if a.signer != nil && len(dd.Signature) > 0 && !a.signer.Verify(dd.DocID, dd.DeltaID, dd.DeltaPayload, dd.Signature) {
			a.warnError("agent: skipping AE delta with invalid signature", "doc_id", dd.DocID)
			continue
		}
		delta, err := crdt.DeltaFromCBOR(dd.DeltaPayload)
		if err != nil {
			a.warnError("agent: skipping undecodable AE delta", "error", err)
			continue
		}
		a.clock.Update(ts)
		a.observePeer(ts.ActorID.String())
		a.applyRemoteDelta(ctx, state, ts, dd.DeltaID, delta)
	}

	if a.metrics != nil {
		a.metrics.AEResponsesApplied.Inc()
	}
}

func (a *Agent) handleHello(payload []byte) {
	hello, err := wire.AgentHelloFromCBOR(payload)
	if err != nil {
		a.warnError("agent: dropping undecodable hello", "error", err)
		return
	}
	if hello.AgentID == a.clock.ActorID().String() {
		return // our own hello echoed back
	}
	a.log.Debug("agent: observed peer hello", "agent_id", hello.AgentID, "version", hello.Version)
	a.observePeer(hello.AgentID)
}

// checkpoint persists a snapshot of every document's current state, then
// compacts the delta log and in-memory tombstones up to the oldest
// timestamp every known peer has acknowledged. Compaction is skipped for a
// document until each observed peer has recorded progress on it: without
// that proof, dropping a tombstone could resurrect a deleted key.
func (a *Agent) checkpoint() {
	a.mu.Lock()
	states := make([]*documentState, 0, len(a.docs))
	for _, s := range a.docs {
		states = append(states, s)
	}
	a.mu.Unlock()

	for _, state := range states {
		snap, err := state.Map.Snapshot()
		if err != nil {
			a.warnError("agent: failed to encode snapshot", "doc_id", state.docID, "error", err)
			continue
		}
		if err := a.store.SaveSnapshot(state.docID.String(), snap, a.clock.Last().Bytes(), time.Now().UnixMilli()); err != nil {
			a.warnError("agent: failed to save snapshot", "doc_id", state.docID, "error", err)
			continue
		}

		floor, ok := a.compactionFloor(state)
		if !ok {
			continue
		}
		if err := a.store.CompactDeltasBefore(state.docID.String(), floor.PhysicalMs); err != nil {
			a.warnError("agent: failed to compact delta log", "doc_id", state.docID, "error", err)
			continue
		}
		state.Map.CompactTombstones(floor)
	}
}

// compactionFloor returns the oldest last-acked timestamp across every peer
// this agent has observed, for state's document. ok is false when no peer
// is known, any peer lacks recorded progress, or a progress row is
// unreadable; in all those cases compacting would be unsafe.
func (a *Agent) compactionFloor(state *documentState) (floor hlc.Timestamp, ok bool) {
	if len(a.peers) == 0 {
		return hlc.Timestamp{}, false
	}
	first := true
	for peerID := range a.peers {
		progress, err := a.store.GetPeerProgress(peerID, state.docID.String())
		if err != nil || progress == nil {
			return hlc.Timestamp{}, false
		}
		ts, err := hlc.TimestampFromBytes(progress.LastAckDeltaID)
		if err != nil {
			return hlc.Timestamp{}, false
		}
		if first || ts.Less(floor) {
			floor = ts
			first = false
		}
	}
	return floor, true
}

// sendAERequests issues one anti-entropy request per subscribed document,
// summarizing local progress as the highest hlc_ts this agent has durably
// recorded. Responses are handled asynchronously as ordinary bus traffic;
// no session state survives a missed response (stateless
// exchange, retried on the next tick).
func (a *Agent) sendAERequests(ctx context.Context) {
	a.mu.Lock()
	states := make([]*documentState, 0, len(a.docs))
	for _, s := range a.docs {
		states = append(states, s)
	}
	a.mu.Unlock()

	var totalRows int
	for _, state := range states {
		threshold, rows := a.localHighWaterMark(state)
		totalRows += rows
		req := wire.AntiEntropyRequest{
			DocID:       state.docID.String(),
			HaveSummary: wire.EncodeHaveSummary(threshold),
		}
		encoded, err := req.ToCBOR()
		if err != nil {
			a.warnError("agent: failed to encode AE request", "doc_id", state.docID, "error", err)
			continue
		}
		if err := a.bus.Publish(a.topicScheme.AERequest(state.docID.Hash()), encoded); err != nil {
			a.warnError("agent: failed to publish AE request", "doc_id", state.docID, "error", err)
			continue
		}
		if a.metrics != nil {
			a.metrics.AERequestsSent.Inc()
		}
	}

	if a.metrics != nil {
		a.metrics.DurableLogSize.Set(float64(totalRows))
	}
}

// localHighWaterMark returns the highest hlc_ts this agent has durably
// recorded for state's document, and the number of durable delta rows
// backing it.
func (a *Agent) localHighWaterMark(state *documentState) (uint64, int) {
	records, err := a.store.GetDeltasAfter(state.docID.String(), 0)
	if err != nil || len(records) == 0 {
		return 0, 0
	}
	return records[len(records)-1].HlcTs, len(records)
}

// NewActorID is a convenience wrapper so callers constructing an Agent
// don't need to import uuid directly just to mint an agent-scoped clock.
func NewActorID() uuid.UUID { return uuid.New() }

// DocIDForSubmodel builds the default (value-view) DocId for a
// configured subscription.
func DocIDForSubmodel(aasID, submodelID string) crdt.DocId {
	return crdt.DocId{AasID: aasID, SubmodelID: submodelID, View: crdt.ViewValue}
}
