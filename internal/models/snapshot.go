package models

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TimestampKey is the reserved record field holding the collection time.
const TimestampKey = "timestamp"

// Validation errors
var (
	ErrZeroTimestamp    = errors.New("snapshot timestamp cannot be zero")
	ErrNoMetrics        = errors.New("snapshot has no metrics")
	ErrEmptyMetricName  = errors.New("metric name cannot be empty")
	ErrReservedName     = errors.New("metric name is reserved")
	ErrNonFiniteValue   = errors.New("metric value must be finite")
	ErrMissingTimestamp = errors.New("record has no timestamp field")
	ErrNonNumericMetric = errors.New("record metric is not a number")
)

// Snapshot is one timestamped set of metric readings. It is immutable once
// created: the constructor copies the input map and accessors never expose it.
type Snapshot struct {
	timestamp time.Time
	metrics   map[string]float64
}

// NewSnapshot builds a snapshot from the given readings. Metric names are
// normalized (see NormalizeName).
func NewSnapshot(ts time.Time, metrics map[string]float64) Snapshot {
	m := make(map[string]float64, len(metrics))
	for k, v := range metrics {
		m[NormalizeName(k)] = v
	}
	return Snapshot{timestamp: ts, metrics: m}
}

// Timestamp returns the collection time.
func (s Snapshot) Timestamp() time.Time { return s.timestamp }

// Len returns the number of metrics in the snapshot.
func (s Snapshot) Len() int { return len(s.metrics) }

// Value returns the reading for name and whether it is present.
func (s Snapshot) Value(name string) (float64, bool) {
	v, ok := s.metrics[name]
	return v, ok
}

// Metrics returns a copy of the readings.
func (s Snapshot) Metrics() map[string]float64 {
	out := make(map[string]float64, len(s.metrics))
	for k, v := range s.metrics {
		out[k] = v
	}
	return out
}

// Names returns the metric names in lexical order.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s.metrics))
	for k := range s.metrics {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Validate checks that the snapshot can be persisted as a log record.
func (s Snapshot) Validate() error {
	if s.timestamp.IsZero() {
		return ErrZeroTimestamp
	}
	if len(s.metrics) == 0 {
		return ErrNoMetrics
	}
	for name, v := range s.metrics {
		if name == "" {
			return ErrEmptyMetricName
		}
		if name == TimestampKey {
			return fmt.Errorf("%w: %s", ErrReservedName, name)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s=%v", ErrNonFiniteValue, name, v)
		}
	}
	return nil
}

// MarshalJSON encodes the snapshot as one flat record:
// {"timestamp":"<RFC3339Nano>","<metric>":<float>,...} with metrics in
// lexical order.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	stream := json.BorrowStream(nil)
	defer json.ReturnStream(stream)

	stream.WriteObjectStart()
	stream.WriteObjectField(TimestampKey)
	stream.WriteString(s.timestamp.Format(time.RFC3339Nano))
	for _, name := range s.Names() {
		stream.WriteMore()
		stream.WriteObjectField(name)
		stream.WriteFloat64(s.metrics[name])
	}
	stream.WriteObjectEnd()

	if stream.Error != nil {
		return nil, stream.Error
	}

	// The stream buffer is reused after ReturnStream.
	buf := stream.Buffer()
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}

// UnmarshalJSON decodes a flat record produced by MarshalJSON. Timestamps
// written by older collectors (naive ISO-8601) are accepted too.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	tsRaw, ok := raw[TimestampKey]
	if !ok {
		return ErrMissingTimestamp
	}
	tsStr, ok := tsRaw.(string)
	if !ok {
		return ErrInvalidTimestamp
	}
	ts, err := ParseTimestamp(tsStr)
	if err != nil {
		return err
	}

	metrics := make(map[string]float64, len(raw)-1)
	for k, v := range raw {
		if k == TimestampKey {
			continue
		}
		f, ok := v.(float64)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNonNumericMetric, k)
		}
		metrics[k] = f
	}

	*s = NewSnapshot(ts, metrics)
	return nil
}

// ThresholdConfig maps metric name to its limit. It is loaded once at
// startup and treated as read-only afterwards.
type ThresholdConfig map[string]float64
