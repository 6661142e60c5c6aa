package adapter

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/aas-deltasync/agent/internal/aasclient"
	"github.com/aas-deltasync/agent/internal/hlc"
)

// ChangeKind distinguishes an inserted/changed leaf from a removed one.
type ChangeKind int

const (
	ChangeInsert ChangeKind = iota
	ChangeRemove
)

// Change is one leaf-level mutation discovered by the poll adapter, already
// stamped with a fresh HLC tick.
type Change struct {
	Kind      ChangeKind
	Path      string
	Value     any
	Timestamp hlc.Timestamp
}

// PollerConfig configures a FA³ST-style poller.
type PollerConfig struct {
	SubmodelID   string
	PollInterval time.Duration
}

// PollerError is the error class returned by the poll adapter.
type PollerError struct {
	Reason string
}

func (e *PollerError) Error() string { return "adapter: " + e.Reason }

// ErrHTTPSRequired is returned when the client's base URL is not HTTPS;
// FA³ST mode is HTTPS-only.
var ErrHTTPSRequired = &PollerError{Reason: "FA³ST poller requires an HTTPS base URL"}

// Poller periodically fetches a submodel's $value view and emits the diff
// against its prior snapshot as a batch of Changes.
type Poller struct {
	client    *aasclient.Client
	baseURL   string
	config    PollerConfig
	clock     *hlc.Clock
	onChanges func([]Change)

	mu       sync.Mutex
	snapshot any
	hasSnap  bool
}

// NewPoller constructs a Poller. baseURL is validated as HTTPS immediately,
// so configuration errors surface at startup rather than on the first poll.
func NewPoller(client *aasclient.Client, baseURL string, config PollerConfig, clock *hlc.Clock, onChanges func([]Change)) (*Poller, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme != "https" {
		return nil, ErrHTTPSRequired
	}
	return &Poller{
		client:    client,
		baseURL:   baseURL,
		config:    config,
		clock:     clock,
		onChanges: onChanges,
	}, nil
}

// Run polls in a loop at config.PollInterval until ctx is cancelled. Network
// errors are logged via errFn and the interval retried; no error is fatal to
// the loop.
func (p *Poller) Run(ctx context.Context, errFn func(error)) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.pollOnce(ctx); err != nil && errFn != nil {
				errFn(err)
			}
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) error {
	current, err := p.client.GetSubmodelValue(ctx, p.config.SubmodelID)
	if err != nil {
		return fmt.Errorf("adapter: poll %s: %w", p.config.SubmodelID, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var changes []Change
	if !p.hasSnap {
		changes = flattenInserts("", current, p.clock)
	} else {
		changes = computeDiff("", p.snapshot, current, p.clock)
	}
	p.snapshot = current
	p.hasSnap = true

	if len(changes) > 0 && p.onChanges != nil {
		p.onChanges(changes)
	}
	return nil
}

// flattenInserts emits one insert Change per leaf value in v, recursing
// into objects by key and into arrays by positional index, matching the
// paths computeDiff produces on later polls. Used the first time a submodel
// is observed (no prior snapshot).
func flattenInserts(prefix string, v any, clock *hlc.Clock) []Change {
	switch val := v.(type) {
	case map[string]any:
		var out []Change
		for k, child := range val {
			out = append(out, flattenInserts(joinPath(prefix, k), child, clock)...)
		}
		return out
	case []any:
		var out []Change
		for i, child := range val {
			out = append(out, flattenInserts(prefix+"["+strconv.Itoa(i)+"]", child, clock)...)
		}
		return out
	default:
		return []Change{{Kind: ChangeInsert, Path: prefix, Value: v, Timestamp: clock.Tick()}}
	}
}

// flattenRemoves emits one remove Change per leaf path in v, mirroring
// flattenInserts. Used when a subtree's shape changes and its old leaves
// must be retired.
func flattenRemoves(prefix string, v any, clock *hlc.Clock) []Change {
	switch val := v.(type) {
	case map[string]any:
		var out []Change
		for k, child := range val {
			out = append(out, flattenRemoves(joinPath(prefix, k), child, clock)...)
		}
		return out
	case []any:
		var out []Change
		for i, child := range val {
			out = append(out, flattenRemoves(prefix+"["+strconv.Itoa(i)+"]", child, clock)...)
		}
		return out
	default:
		return []Change{{Kind: ChangeRemove, Path: prefix, Timestamp: clock.Tick()}}
	}
}

// computeDiff recursively compares prior and current, emitting inserts for
// added/changed leaves and removes for every leaf under keys (or trailing
// array elements) absent from current. Arrays are
// compared element-wise by positional index, a known limitation when
// elements are inserted mid-list; stable element ids should be used where
// the source model provides them.
func computeDiff(prefix string, prior, current any, clock *hlc.Clock) []Change {
	priorObj, priorIsObj := prior.(map[string]any)
	currentObj, currentIsObj := current.(map[string]any)

	if priorIsObj && currentIsObj {
		var out []Change
		for k, curChild := range currentObj {
			priorChild, existed := priorObj[k]
			if !existed {
				out = append(out, flattenInserts(joinPath(prefix, k), curChild, clock)...)
				continue
			}
			out = append(out, computeDiff(joinPath(prefix, k), priorChild, curChild, clock)...)
		}
		for k := range priorObj {
			if _, stillPresent := currentObj[k]; !stillPresent {
				out = append(out, flattenRemoves(joinPath(prefix, k), priorObj[k], clock)...)
			}
		}
		return out
	}

	priorArr, priorIsArr := prior.([]any)
	currentArr, currentIsArr := current.([]any)
	if priorIsArr && currentIsArr {
		var out []Change
		for i, curElem := range currentArr {
			path := prefix + "[" + strconv.Itoa(i) + "]"
			if i >= len(priorArr) {
				out = append(out, flattenInserts(path, curElem, clock)...)
				continue
			}
			out = append(out, computeDiff(path, priorArr[i], curElem, clock)...)
		}
		for i := len(currentArr); i < len(priorArr); i++ {
			out = append(out, flattenRemoves(prefix+"["+strconv.Itoa(i)+"]", priorArr[i], clock)...)
		}
		return out
	}

	// Shape change: one side is a container and the other is not (or the
	// container kinds differ). Retire every prior leaf, then emit the
	// current value's leaves.
	if priorIsObj || priorIsArr || currentIsObj || currentIsArr {
		out := flattenRemoves(prefix, prior, clock)
		return append(out, flattenInserts(prefix, current, clock)...)
	}

	if !valuesEqual(prior, current) {
		return []Change{{Kind: ChangeInsert, Path: prefix, Value: current, Timestamp: clock.Tick()}}
	}
	return nil
}

func valuesEqual(a, b any) bool {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	default:
		return a == nil && b == nil
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
