package source

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"leakwatch/internal/models"
)

var (
	// ErrRead marks a failed reading. The collection loop skips the tick.
	ErrRead = errors.New("reading source failed")
	// ErrUnknownMetric is returned by New for a metric the source cannot produce.
	ErrUnknownMetric = errors.New("source does not produce metric")
)

// Source is the public contract any reading source must satisfy.
type Source interface {
	// Next returns one snapshot. It is called once per tick.
	Next(ctx context.Context) (models.Snapshot, error)
}

// Clock returns the current time; injected for tests.
type Clock func() time.Time

// Range is the half-open interval [Min, Max) of a synthetic reading.
type Range struct {
	Min float64
	Max float64
}

// DefaultRanges are the water network readings.
var DefaultRanges = map[string]Range{
	"debit":      {Min: 0.1, Max: 10.0},
	"pression":   {Min: 1.0, Max: 5.0},
	"niveau_eau": {Min: 0.0, Max: 100.0},
}

// DefaultStatic are the fixed readings used for demos.
var DefaultStatic = map[string]float64{
	"debit":      4.5,
	"pression":   2.6,
	"niveau_eau": 86.0,
}

// Synthetic draws uniform random readings. It never fails.
type Synthetic struct {
	mu     sync.Mutex
	rng    *rand.Rand
	ranges map[string]Range
	now    Clock
}

// NewSynthetic returns a synthetic source. A nil rng is seeded from the
// clock; nil ranges use DefaultRanges.
func NewSynthetic(ranges map[string]Range, rng *rand.Rand, now Clock) *Synthetic {
	if ranges == nil {
		ranges = DefaultRanges
	}
	if now == nil {
		now = time.Now
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(now().UnixNano()))
	}
	return &Synthetic{rng: rng, ranges: ranges, now: now}
}

func (s *Synthetic) Next(ctx context.Context) (models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := make(map[string]float64, len(s.ranges))
	for name, r := range s.ranges {
		m[name] = r.Min + s.rng.Float64()*(r.Max-r.Min)
	}
	return models.NewSnapshot(s.now(), m), nil
}

// Static returns the same readings on every tick, stamped with the current
// time. It never fails.
type Static struct {
	values map[string]float64
	now    Clock
}

// NewStatic copies values; nil uses DefaultStatic.
func NewStatic(values map[string]float64, now Clock) *Static {
	if values == nil {
		values = DefaultStatic
	}
	if now == nil {
		now = time.Now
	}
	cp := make(map[string]float64, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return &Static{values: cp, now: now}
}

func (s *Static) Next(ctx context.Context) (models.Snapshot, error) {
	return models.NewSnapshot(s.now(), s.values), nil
}

// Metrics returns, sorted, the names the source of kind produces when no
// metric list is configured. An unknown kind has none.
func Metrics(kind string, static map[string]float64) []string {
	var names []string
	switch kind {
	case "", "synthetic":
		names = keys(DefaultRanges)
	case "static":
		if static == nil {
			static = DefaultStatic
		}
		names = keys(static)
	case "host":
		names = append(names, HostMetrics...)
	}
	sort.Strings(names)
	return names
}

// New builds the source named by kind: synthetic, static or host. A non-empty
// metrics list restricts the source to those names; a name the source cannot
// produce is an error.
func New(kind string, metrics []string, static map[string]float64) (Source, error) {
	switch kind {
	case "", "synthetic":
		ranges, err := pick(DefaultRanges, metrics)
		if err != nil {
			return nil, err
		}
		return NewSynthetic(ranges, nil, nil), nil
	case "static":
		if static == nil {
			static = DefaultStatic
		}
		values, err := pick(static, metrics)
		if err != nil {
			return nil, err
		}
		return NewStatic(values, nil), nil
	case "host":
		gauges, err := pick(DefaultHostGauges(), metrics)
		if err != nil {
			return nil, err
		}
		return NewHost(gauges), nil
	default:
		return nil, fmt.Errorf("unknown reading source %q", kind)
	}
}

// pick keeps the entries of all named in names; empty names keeps all.
func pick[T any](all map[string]T, names []string) (map[string]T, error) {
	byName := make(map[string]T, len(all))
	for k, v := range all {
		byName[models.NormalizeName(k)] = v
	}
	if len(names) == 0 {
		return byName, nil
	}

	out := make(map[string]T, len(names))
	for _, name := range names {
		name = models.NormalizeName(name)
		v, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, name)
		}
		out[name] = v
	}
	return out, nil
}

func keys[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, models.NormalizeName(k))
	}
	return out
}
