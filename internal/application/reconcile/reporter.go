package reconcile

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"sync"
)

// Reporter receives every decision as it is made, in dry-run and live
// mode alike. Implementations must be safe for concurrent use.
type Reporter interface {
	Report(d Decision) error
}

// JSONLinesReporter writes one JSON object per decision.
type JSONLinesReporter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLinesReporter returns a reporter writing to w.
func NewJSONLinesReporter(w io.Writer) *JSONLinesReporter {
	return &JSONLinesReporter{enc: json.NewEncoder(w)}
}

func (r *JSONLinesReporter) Report(d Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enc.Encode(d)
}

// Collector keeps decisions in memory.
type Collector struct {
	mu        sync.Mutex
	decisions []Decision
}

func (c *Collector) Report(d Decision) error {
	c.mu.Lock()
	c.decisions = append(c.decisions, d)
	c.mu.Unlock()
	return nil
}

// Decisions returns a copy of everything reported so far.
func (c *Collector) Decisions() []Decision {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Decision, len(c.decisions))
	copy(out, c.decisions)
	return out
}

// Reporters fans a decision out to several reporters.
type Reporters []Reporter

func (rs Reporters) Report(d Decision) error {
	var errs []error
	for _, r := range rs {
		if r == nil {
			continue
		}
		if err := r.Report(d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MarshalDecisions renders decisions as JSON lines in the order given.
func MarshalDecisions(ds []Decision) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, d := range ds {
		if err := enc.Encode(d); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
