// Package diag tracks filesystem requests: the ones in flight, how
// every finished one ended, and the latest failures. The result is
// served, together with goroutine stacks and Prometheus metrics, on a
// debug HTTP listener.
package diag

import (
	"cmp"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"

	"ircfs/metrics"
)

// maxFailures is how many failed requests the tracker remembers.
const maxFailures = 32

// Op is a filesystem request that has not returned yet.
type Op struct {
	ID      uint64
	Method  string // e.g. "Read", "Write", "Mkdir"
	Path    string
	Started time.Time
}

// Failure is a request that returned an errno.
type Failure struct {
	Method string
	Path   string
	Errno  string
	At     time.Time
}

// Snapshot is a point-in-time view of a Tracker.
type Snapshot struct {
	InFlight []Op
	// Results counts finished requests by method, then by result
	// ("ok" or the errno text).
	Results map[string]map[string]uint64
	// Failures holds the most recent failures, oldest first.
	Failures []Failure
}

// OpHandle ends a tracked request.
type OpHandle struct {
	tracker  *Tracker
	id       uint64
	method   string
	path     string
	finished atomic.Bool
}

// Finish records how the request ended and removes it from the
// in-flight set. Every request is counted in the filesystem metrics,
// even without a tracker. Only the first call has an effect.
func (h *OpHandle) Finish(errno syscall.Errno) {
	if !h.finished.CompareAndSwap(false, true) {
		return
	}
	result := "ok"
	if errno != 0 {
		result = errno.Error()
	}
	metrics.FSOps.WithLabelValues(strings.ToLower(h.method), result).Inc()
	if h.tracker != nil {
		h.tracker.finish(h, result, errno != 0)
	}
}

// Tracker records filesystem requests.
type Tracker struct {
	nextID atomic.Uint64
	now    func() time.Time

	mu       sync.Mutex
	ops      map[uint64]Op
	results  map[string]map[string]uint64
	failures []Failure
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		now:     time.Now,
		ops:     make(map[uint64]Op),
		results: make(map[string]map[string]uint64),
	}
}

// Track records the start of a request. Call Finish on the result
// when the request returns.
func (t *Tracker) Track(method, path string) *OpHandle {
	id := t.nextID.Add(1)
	t.mu.Lock()
	t.ops[id] = Op{ID: id, Method: method, Path: path, Started: t.now()}
	t.mu.Unlock()
	return &OpHandle{tracker: t, id: id, method: method, path: path}
}

// Track is the nil-safe form of Tracker.Track. With a nil tracker the
// handle still feeds the metrics.
func Track(t *Tracker, method, path string) *OpHandle {
	if t == nil {
		return &OpHandle{method: method, path: path}
	}
	return t.Track(method, path)
}

func (t *Tracker) finish(h *OpHandle, result string, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.ops, h.id)
	byResult, ok := t.results[h.method]
	if !ok {
		byResult = make(map[string]uint64)
		t.results[h.method] = byResult
	}
	byResult[result]++

	if failed {
		t.failures = append(t.failures, Failure{Method: h.method, Path: h.path, Errno: result, At: t.now()})
		if len(t.failures) > maxFailures {
			t.failures = t.failures[len(t.failures)-maxFailures:]
		}
	}
}

// InFlight returns the requests that have not finished, oldest first.
func (t *Tracker) InFlight() []Op {
	t.mu.Lock()
	ops := lo.Values(t.ops)
	t.mu.Unlock()

	slices.SortFunc(ops, func(a, b Op) int {
		if c := a.Started.Compare(b.Started); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return ops
}

// Snapshot copies the tracker state.
func (t *Tracker) Snapshot() Snapshot {
	inFlight := t.InFlight()

	t.mu.Lock()
	defer t.mu.Unlock()
	results := make(map[string]map[string]uint64, len(t.results))
	for method, byResult := range t.results {
		results[method] = lo.Assign(byResult)
	}
	return Snapshot{
		InFlight: inFlight,
		Results:  results,
		Failures: slices.Clone(t.failures),
	}
}

// Dump renders the snapshot as text.
func (t *Tracker) Dump() string {
	snap := t.Snapshot()
	now := t.now()
	var b strings.Builder

	if len(snap.InFlight) == 0 {
		b.WriteString("no in-flight operations\n")
	} else {
		fmt.Fprintf(&b, "%d in-flight operation(s):\n", len(snap.InFlight))
		for _, op := range snap.InFlight {
			fmt.Fprintf(&b, "  [%d] %s %s (%s)\n", op.ID, op.Method, op.Path, now.Sub(op.Started).Truncate(time.Millisecond))
		}
	}

	if len(snap.Results) > 0 {
		b.WriteString("results:\n")
		methods := lo.Keys(snap.Results)
		slices.Sort(methods)
		for _, method := range methods {
			byResult := snap.Results[method]
			results := lo.Keys(byResult)
			slices.Sort(results)
			fmt.Fprintf(&b, "  %s:", method)
			for _, r := range results {
				fmt.Fprintf(&b, " %s=%d", r, byResult[r])
			}
			b.WriteByte('\n')
		}
	}

	if len(snap.Failures) > 0 {
		b.WriteString("recent failures:\n")
		for _, f := range snap.Failures {
			fmt.Fprintf(&b, "  %s %s %s: %s\n", f.At.Format("15:04:05.000"), f.Method, f.Path, f.Errno)
		}
	}
	return b.String()
}

// Handler serves Dump, or the Snapshot as JSON when the ?json query
// parameter is present.
func (t *Tracker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, wantJSON := r.URL.Query()["json"]; wantJSON {
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(t.Snapshot()); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, t.Dump())
	})
}

// NewMux returns the debug listener's routes:
//
//	/debug/fuse    filesystem requests, in flight and finished
//	/debug/stacks  goroutine stacks
//	/metrics       Prometheus metrics
func NewMux(t *Tracker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/debug/fuse", t.Handler())
	mux.HandleFunc("/debug/stacks", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, GoroutineStacks())
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// maxGoroutineStackSize caps the goroutine stack dump.
const maxGoroutineStackSize = 64 * 1024

// GoroutineStacks returns the stack traces of all goroutines,
// truncated to 64KB. A blocked transport read shows up here rather
// than in the tracker.
func GoroutineStacks() string {
	buf := make([]byte, maxGoroutineStackSize)
	n := runtime.Stack(buf, true)
	s := string(buf[:n])
	if n >= maxGoroutineStackSize {
		s += "\n... truncated at 64KB ...\n"
	}
	return s
}
