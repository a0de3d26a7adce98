package processor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"leakwatch/internal/config"
	"leakwatch/internal/logstore"
	"leakwatch/internal/notify"
	"leakwatch/internal/source"
)

type captureTransport struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (c *captureTransport) Send(ctx context.Context, msg notify.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *captureTransport) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Email.Sender = "alerts@example.com"
	cfg.Email.Recipient = "ops@example.com"
	cfg.Thresholds = map[string]float64{"debit": 8.0, "pression": 4.5, "niveau_eau": 95.0}
	cfg.Collector.Interval = 10 * time.Millisecond
	cfg.Store.Path = filepath.Join(t.TempDir(), "data_log.ndjson")
	cfg.HTTP.Addr = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

func TestProcessorRun(t *testing.T) {
	cfg := testConfig(t)
	tr := &captureTransport{}
	src := source.NewStatic(map[string]float64{"debit": 9.0, "pression": 2.6, "niveau_eau": 86.0}, nil)
	p := New(cfg, "", WithSource(src), WithTransport(tr))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	entries, err := logstore.NewReader(cfg.Store.Path).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("no snapshots stored")
	}
	if tr.count() == 0 {
		t.Fatal("no alert sent")
	}
	msg := tr.msgs[0]
	if msg.From != "alerts@example.com" || msg.To != "ops@example.com" || msg.Body != "Leak detected! Debit abnormal: 9 (threshold 8)" {
		t.Errorf("unexpected message: %+v", msg)
	}
	if st := p.Stats(); st.Collector.Ticks == 0 || st.Delivery.Sent == 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestProcessorRunFailsOnUnusableStore(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.Store.Path = filepath.Join(blocker, "data_log.ndjson")

	p := New(cfg, "", WithTransport(&captureTransport{}))
	if err := p.Run(context.Background()); err == nil {
		t.Fatal("expected startup error")
	}
}

func TestProcessorHandler(t *testing.T) {
	cfg := testConfig(t)
	p := New(cfg, "", WithSource(source.NewStatic(nil, nil)), WithTransport(&captureTransport{}))
	if err := p.initStore(); err != nil {
		t.Fatal(err)
	}
	defer p.writer.Close()
	if err := p.initDispatcher(); err != nil {
		t.Fatal(err)
	}
	if err := p.initLoop(); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	tests := []struct {
		path   string
		status int
	}{
		{"/health", http.StatusOK},
		{"/stats", http.StatusOK},
		{"/snapshots?n=5", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		resp, err := http.Get(srv.URL + tt.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tt.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.status {
			t.Errorf("GET %s = %d, want %d", tt.path, resp.StatusCode, tt.status)
		}
	}

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var health map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if health["status"] != "healthy" {
		t.Errorf("health = %v", health)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing request id header")
	}
}
