// Package stats keeps process counters and gauges and writes them in the
// Prometheus text exposition format, for the node_exporter textfile collector.
package stats

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"
)

type metric interface {
	family() *dto.MetricFamily
}

// Registry is safe for concurrent use. Metric names must be unique.
type Registry struct {
	mu      sync.Mutex
	metrics map[string]metric
}

func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]metric)}
}

// CounterVec is a monotonically increasing counter split by one label.
type CounterVec struct {
	name, help, label string

	mu     sync.Mutex
	values map[string]float64
}

// Counter returns the counter registered under name, creating it on first
// use. label may be empty for an unlabelled counter. Like prometheus
// MustRegister, it panics when name is taken by a gauge or by a counter with
// another label.
func (r *Registry) Counter(name, help, label string) *CounterVec {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.metrics[name]; ok {
		m, ok := existing.(*CounterVec)
		if !ok {
			panic(fmt.Sprintf("[stats] %s is already registered as %T", name, existing))
		}
		if m.label != label {
			panic(fmt.Sprintf("[stats] counter %s is already registered with label %q", name, m.label))
		}
		return m
	}
	c := &CounterVec{name: name, help: help, label: label, values: make(map[string]float64)}
	r.metrics[name] = c
	return c
}

func (c *CounterVec) Inc(labelValue string) {
	c.Add(labelValue, 1)
}

func (c *CounterVec) Add(labelValue string, v float64) {
	if v < 0 {
		return
	}
	c.mu.Lock()
	c.values[labelValue] += v
	c.mu.Unlock()
}

func (c *CounterVec) Value(labelValue string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[labelValue]
}

func (c *CounterVec) family() *dto.MetricFamily {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mf := &dto.MetricFamily{
		Name: ptr(c.name),
		Help: ptr(c.help),
		Type: dto.MetricType_COUNTER.Enum(),
	}
	for _, k := range keys {
		m := &dto.Metric{Counter: &dto.Counter{Value: ptr(c.values[k])}}
		if c.label != "" {
			m.Label = []*dto.LabelPair{{Name: ptr(c.label), Value: ptr(k)}}
		}
		mf.Metric = append(mf.Metric, m)
	}
	return mf
}

// Gauge holds a single float value.
type Gauge struct {
	name, help string
	bits       atomic.Uint64
}

// Gauge returns the gauge registered under name, creating it on first use.
// It panics when name is taken by a counter.
func (r *Registry) Gauge(name, help string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.metrics[name]; ok {
		m, ok := existing.(*Gauge)
		if !ok {
			panic(fmt.Sprintf("[stats] %s is already registered as %T", name, existing))
		}
		return m
	}
	g := &Gauge{name: name, help: help}
	r.metrics[name] = g
	return g
}

func (g *Gauge) Set(v float64) {
	g.bits.Store(math.Float64bits(v))
}

func (g *Gauge) Value() float64 {
	return math.Float64frombits(g.bits.Load())
}

func (g *Gauge) family() *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   ptr(g.name),
		Help:   ptr(g.help),
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: ptr(g.Value())}}},
	}
}

// WriteText writes every metric, sorted by name, in text exposition format.
func (r *Registry) WriteText(w io.Writer) error {
	r.mu.Lock()
	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	metrics := make([]metric, len(names))
	for i, name := range names {
		metrics[i] = r.metrics[name]
	}
	r.mu.Unlock()

	for _, m := range metrics {
		mf := m.family()
		if len(mf.Metric) == 0 {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("[stats] encoding %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// WriteTextfile replaces path with the current metrics. The file is written
// next to path and renamed so readers never see a partial file.
func (r *Registry) WriteTextfile(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("[stats] creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := r.WriteText(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("[stats] closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("[stats] replacing %s: %w", path, err)
	}
	return nil
}

// Run writes the textfile every interval until ctx is done, then once more.
func (r *Registry) Run(ctx context.Context, path string, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := r.WriteTextfile(path); err != nil {
				logger.Warn("[stats] final textfile write failed", zap.Error(err), zap.String("path", path))
			}
			return
		case <-ticker.C:
			if err := r.WriteTextfile(path); err != nil {
				logger.Warn("[stats] textfile write failed", zap.Error(err), zap.String("path", path))
			}
		}
	}
}

func ptr[T any](v T) *T {
	return &v
}
