package source

import (
	"context"
	"errors"
	"math/rand"
	"reflect"
	"testing"
	"time"
)

var fixed = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixed }

func TestSyntheticWithinRanges(t *testing.T) {
	s := NewSynthetic(nil, rand.New(rand.NewSource(7)), fixedClock)

	for i := 0; i < 1000; i++ {
		snap, err := s.Next(context.Background())
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !snap.Timestamp().Equal(fixed) {
			t.Fatalf("timestamp = %v", snap.Timestamp())
		}
		if snap.Len() != len(DefaultRanges) {
			t.Fatalf("expected %d metrics, got %d", len(DefaultRanges), snap.Len())
		}
		for name, r := range DefaultRanges {
			v, ok := snap.Value(name)
			if !ok || v < r.Min || v >= r.Max {
				t.Fatalf("%s = %v outside [%v, %v)", name, v, r.Min, r.Max)
			}
		}
	}
}

func TestSyntheticSeededIsReproducible(t *testing.T) {
	a := NewSynthetic(nil, rand.New(rand.NewSource(1)), fixedClock)
	b := NewSynthetic(nil, rand.New(rand.NewSource(1)), fixedClock)

	sa, _ := a.Next(context.Background())
	sb, _ := b.Next(context.Background())
	if !reflect.DeepEqual(sa.Metrics(), sb.Metrics()) {
		t.Errorf("same seed, different readings: %v vs %v", sa.Metrics(), sb.Metrics())
	}
}

func TestStatic(t *testing.T) {
	s := NewStatic(nil, fixedClock)
	snap, err := s.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !reflect.DeepEqual(snap.Metrics(), DefaultStatic) {
		t.Errorf("metrics = %v", snap.Metrics())
	}
}

func TestHostGaugeFailure(t *testing.T) {
	h := NewHost(map[string]Gauge{
		"ok":     func(context.Context) (float64, error) { return 1, nil },
		"broken": func(context.Context) (float64, error) { return 0, errors.New("sensor offline") },
	})

	_, err := h.Next(context.Background())
	if !errors.Is(err, ErrRead) {
		t.Errorf("expected ErrRead, got %v", err)
	}
}

func TestHostGauges(t *testing.T) {
	h := NewHost(map[string]Gauge{
		"a": func(context.Context) (float64, error) { return 1.5, nil },
		"b": func(context.Context) (float64, error) { return 2.5, nil },
	})
	h.now = fixedClock

	snap, err := h.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !reflect.DeepEqual(snap.Metrics(), map[string]float64{"a": 1.5, "b": 2.5}) {
		t.Errorf("metrics = %v", snap.Metrics())
	}
}

func TestNew(t *testing.T) {
	for _, kind := range []string{"", "synthetic", "static", "host"} {
		if _, err := New(kind, nil, nil); err != nil {
			t.Errorf("New(%q): %v", kind, err)
		}
	}
	if _, err := New("modbus", nil, nil); err == nil {
		t.Error("expected error for unknown source")
	}
}

func TestNewRestrictsMetrics(t *testing.T) {
	src, err := New("static", []string{"Debit"}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	snap, _ := src.Next(context.Background())
	if !reflect.DeepEqual(snap.Metrics(), map[string]float64{"debit": 4.5}) {
		t.Errorf("metrics = %v", snap.Metrics())
	}

	if _, err := New("host", []string{"cpu_percent", "load1"}, nil); err != nil {
		t.Errorf("host subset: %v", err)
	}
	if _, err := New("host", []string{"debit"}, nil); !errors.Is(err, ErrUnknownMetric) {
		t.Errorf("expected ErrUnknownMetric, got %v", err)
	}
}

func TestMetrics(t *testing.T) {
	tests := []struct {
		kind   string
		static map[string]float64
		want   []string
	}{
		{"synthetic", nil, []string{"debit", "niveau_eau", "pression"}},
		{"static", map[string]float64{"Turbidite": 1}, []string{"turbidite"}},
		{"host", nil, []string{"cpu_percent", "disk_used_percent", "load1", "mem_used_percent"}},
		{"modbus", nil, nil},
	}

	for _, tt := range tests {
		if got := Metrics(tt.kind, tt.static); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Metrics(%q) = %v, want %v", tt.kind, got, tt.want)
		}
	}
}
