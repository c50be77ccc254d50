// Package metrics keeps in-process latency and token counters for the
// generation backend.
package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/doeshing/shai-remote/internal/domain"
	"github.com/doeshing/shai-remote/internal/ports"
)

// Series is the aggregate for one metric name and label set.
type Series struct {
	Name             string
	Labels           map[string]string
	Count            int64
	TotalLatency     time.Duration
	MaxLatency       time.Duration
	PromptTokens     int64
	CompletionTokens int64
}

// MeanLatency is zero when nothing was observed.
func (s Series) MeanLatency() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.Count)
}

// Recorder implements ports.Metrics in memory.
type Recorder struct {
	mu     sync.Mutex
	series map[string]*Series
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{series: make(map[string]*Series)}
}

// ObserveLatency records one duration sample.
func (r *Recorder) ObserveLatency(name string, d time.Duration, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.get(name, labels)
	s.Count++
	s.TotalLatency += d
	if d > s.MaxLatency {
		s.MaxLatency = d
	}
}

// AddTokens accumulates token usage.
func (r *Recorder) AddTokens(name string, usage domain.TokenUsage, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.get(name, labels)
	s.PromptTokens += int64(usage.PromptTokens)
	s.CompletionTokens += int64(usage.CompletionTokens)
}

// Snapshot copies every series, sorted by name then labels.
func (r *Recorder) Snapshot() []Series {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.series))
	for k := range r.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Series, 0, len(keys))
	for _, k := range keys {
		s := *r.series[k]
		s.Labels = copyLabels(s.Labels)
		out = append(out, s)
	}
	return out
}

// Lookup returns the series for name and labels, if any.
func (r *Recorder) Lookup(name string, labels map[string]string) (Series, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.series[seriesKey(name, labels)]
	if !ok {
		return Series{}, false
	}
	out := *s
	out.Labels = copyLabels(s.Labels)
	return out, true
}

func (r *Recorder) get(name string, labels map[string]string) *Series {
	key := seriesKey(name, labels)
	s, ok := r.series[key]
	if !ok {
		s = &Series{Name: name, Labels: copyLabels(labels)}
		r.series[key] = s
	}
	return s
}

func seriesKey(name string, labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	return b.String()
}

func copyLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

var _ ports.Metrics = (*Recorder)(nil)
