package logstore

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"leakwatch/internal/models"
)

func newTestWriter(t *testing.T) (*Writer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "log.ndjson")
	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w, path
}

func snapAt(i int) models.Snapshot {
	ts := time.Date(2024, 1, 15, 10, 0, i, 0, time.UTC)
	return models.NewSnapshot(ts, map[string]float64{"debit": float64(i), "pression": 2.5})
}

func TestAppendSequentialKeepsOrder(t *testing.T) {
	w, path := newTestWriter(t)

	const n = 50
	for i := 0; i < n; i++ {
		if err := w.Append(snapAt(i)); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	entries, err := NewReader(path).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) != n {
		t.Fatalf("expected %d entries, got %d", n, len(entries))
	}
	for i, e := range entries {
		if v, _ := e.Value("debit"); v != float64(i) {
			t.Errorf("entry %d has debit %v", i, v)
		}
	}
}

func TestAppendConcurrentProducesWholeRecords(t *testing.T) {
	w, path := newTestWriter(t)

	const goroutines, perG = 8, 25
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				if err := w.Append(snapAt(g*perG + i)); err != nil {
					t.Errorf("Append: %v", err)
				}
			}
		}(g)
	}
	wg.Wait()

	batch, err := NewReader(path).ReadFrom(0)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if batch.Skipped != 0 {
		t.Errorf("found %d torn records", batch.Skipped)
	}
	if len(batch.Entries) != goroutines*perG {
		t.Fatalf("expected %d entries, got %d", goroutines*perG, len(batch.Entries))
	}

	seen := make(map[float64]bool)
	for _, e := range batch.Entries {
		v, _ := e.Value("debit")
		if seen[v] {
			t.Errorf("duplicate record %v", v)
		}
		seen[v] = true
	}
}

func TestAppendFromTwoWritersProducesWholeRecords(t *testing.T) {
	// Two writers on one path stand in for two processes: only the file
	// lock orders their appends.
	a, path := newTestWriter(t)
	b, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	const goroutines, perG = 4, 50
	var wg sync.WaitGroup
	for g := 0; g < 2*goroutines; g++ {
		w := a
		if g%2 == 1 {
			w = b
		}
		wg.Add(1)
		go func(g int, w *Writer) {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				if err := w.Append(snapAt(g*perG + i)); err != nil {
					t.Errorf("Append: %v", err)
				}
			}
		}(g, w)
	}
	wg.Wait()

	batch, err := NewReader(path).ReadFrom(0)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if batch.Skipped != 0 {
		t.Errorf("found %d torn records", batch.Skipped)
	}
	if len(batch.Entries) != 2*goroutines*perG {
		t.Fatalf("expected %d entries, got %d", 2*goroutines*perG, len(batch.Entries))
	}

	seen := make(map[float64]bool)
	for _, e := range batch.Entries {
		v, _ := e.Value("debit")
		if seen[v] {
			t.Errorf("duplicate record %v", v)
		}
		seen[v] = true
	}
}

func TestAppendVisibleToFreshReader(t *testing.T) {
	w, path := newTestWriter(t)

	if err := w.Append(snapAt(1)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"timestamp":"2024-01-15T10:00:01Z","debit":1,"pression":2.5}` + "\n"
	if string(data) != want {
		t.Errorf("file = %q, want %q", data, want)
	}
}

func TestAppendEncodeFailure(t *testing.T) {
	w, path := newTestWriter(t)

	bad := models.NewSnapshot(time.Now(), map[string]float64{"debit": math.NaN()})
	err := w.Append(bad)

	var serr *StorageError
	if !errors.As(err, &serr) || serr.Op != "encode" {
		t.Fatalf("expected encode StorageError, got %v", err)
	}

	// The lock must not be held after a failure.
	if err := w.Append(snapAt(2)); err != nil {
		t.Fatalf("Append after failure: %v", err)
	}
	entries, _ := NewReader(path).ReadAll()
	if len(entries) != 1 {
		t.Errorf("expected 1 entry, got %d", len(entries))
	}
}

func TestAppendAfterClose(t *testing.T) {
	w, _ := newTestWriter(t)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	err := w.Append(snapAt(1))
	if !errors.Is(err, ErrWriterClosed) {
		t.Errorf("expected ErrWriterClosed, got %v", err)
	}
}

func TestReaderIgnoresPartialLastLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.ndjson")
	complete := `{"timestamp":"2024-01-15T10:00:00Z","debit":4.5}` + "\n"
	partial := `{"timestamp":"2024-01-15T10:00:01Z","deb`
	if err := os.WriteFile(path, []byte(complete+partial), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewReader(path)
	batch, err := r.ReadFrom(0)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(batch.Entries) != 1 || batch.Skipped != 0 {
		t.Fatalf("expected 1 entry and 0 skipped, got %d/%d", len(batch.Entries), batch.Skipped)
	}
	if batch.Next != int64(len(complete)) {
		t.Errorf("next = %d, want %d", batch.Next, len(complete))
	}

	// The writer finishes the record; tailing from Next picks it up.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(`it":9.0}` + "\n")
	f.Close()

	next, err := r.ReadFrom(batch.Next)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(next.Entries) != 1 {
		t.Fatalf("expected the completed record, got %d", len(next.Entries))
	}
	if v, _ := next.Entries[0].Value("debit"); v != 9 {
		t.Errorf("debit = %v", v)
	}
}

func TestReaderSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.ndjson")
	body := strings.Join([]string{
		`{"timestamp":"2024-01-15T10:00:00Z","debit":1}`,
		`not json`,
		``,
		`{"timestamp":"2024-01-15T10:00:02Z","debit":3}`,
	}, "\n") + "\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	batch, err := NewReader(path).ReadFrom(0)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(batch.Entries) != 2 || batch.Skipped != 1 {
		t.Errorf("expected 2 entries / 1 skipped, got %d / %d", len(batch.Entries), batch.Skipped)
	}
}

func TestReaderTail(t *testing.T) {
	w, path := newTestWriter(t)
	for i := 0; i < 10; i++ {
		if err := w.Append(snapAt(i)); err != nil {
			t.Fatal(err)
		}
	}

	r := NewReader(path)
	tail, err := r.Tail(3)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(tail) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(tail))
	}
	for i, e := range tail {
		if v, _ := e.Value("debit"); v != float64(7+i) {
			t.Errorf("tail[%d] debit = %v", i, v)
		}
	}

	all, _ := r.Tail(100)
	if len(all) != 10 {
		t.Errorf("expected 10 entries, got %d", len(all))
	}
}

func TestReaderTailReadsOnlyTheWindow(t *testing.T) {
	w, path := newTestWriter(t)
	const n = 2000
	for i := 0; i < n; i++ {
		if err := w.Append(snapAt(i)); err != nil {
			t.Fatal(err)
		}
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}

	entries, read, err := NewReader(path).tail(1, 256)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if v, _ := entries[0].Value("debit"); v != n-1 {
		t.Errorf("debit = %v, want %d", v, n-1)
	}
	if read > 512 || read >= info.Size()/10 {
		t.Errorf("read %d of %d bytes for one record", read, info.Size())
	}
}

func TestReaderTailSmallChunks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.ndjson")
	body := strings.Join([]string{
		`{"timestamp":"2024-01-15T10:00:00Z","debit":1}`,
		`not json`,
		``,
		`{"timestamp":"2024-01-15T10:00:02Z","debit":3}`,
		`{"timestamp":"2024-01-15T10:00:03Z","debit":4}`,
	}, "\n") + "\n" + `{"timestamp":"2024-01-15T10:00:04Z","deb`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewReader(path)
	all, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}

	for _, chunk := range []int{1, 7, 64, 4096} {
		for want := 1; want <= 4; want++ {
			got, _, err := r.tail(want, chunk)
			if err != nil {
				t.Fatalf("tail(%d, %d): %v", want, chunk, err)
			}
			expect := all
			if want < len(all) {
				expect = all[len(all)-want:]
			}
			if len(got) != len(expect) {
				t.Fatalf("tail(%d, %d) returned %d entries, want %d", want, chunk, len(got), len(expect))
			}
			for i := range got {
				gv, _ := got[i].Value("debit")
				ev, _ := expect[i].Value("debit")
				if gv != ev {
					t.Errorf("tail(%d, %d)[%d] debit = %v, want %v", want, chunk, i, gv, ev)
				}
			}
		}
	}
}

func TestReaderMissingFile(t *testing.T) {
	entries, err := NewReader(filepath.Join(t.TempDir(), "absent.ndjson")).ReadAll()
	if err != nil || len(entries) != 0 {
		t.Errorf("expected empty read, got %d entries, err %v", len(entries), err)
	}
}

func TestNewWriterTerminatesPartialRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.ndjson")
	if err := os.WriteFile(path, []byte(`{"timestamp":"2024-01-15T10:00:00Z","debit":1}`+"\n"+`{"timest`), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	if err := w.Append(snapAt(5)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	batch, err := NewReader(path).ReadFrom(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch.Entries) != 2 || batch.Skipped != 1 {
		t.Errorf("expected 2 entries / 1 skipped, got %d / %d", len(batch.Entries), batch.Skipped)
	}
}

func ExampleReader_Tail() {
	dir, _ := os.MkdirTemp("", "logstore")
	defer os.RemoveAll(dir)

	w, _ := NewWriter(filepath.Join(dir, "log.ndjson"))
	defer w.Close()
	for i := 0; i < 3; i++ {
		_ = w.Append(snapAt(i))
	}

	tail, _ := NewReader(w.Path()).Tail(2)
	for _, e := range tail {
		v, _ := e.Value("debit")
		fmt.Println(e.Timestamp().Format(time.TimeOnly), v)
	}
	// Output:
	// 10:00:01 1
	// 10:00:02 2
}
