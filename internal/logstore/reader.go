package logstore

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"

	"leakwatch/internal/models"
)

// Batch is the result of one read pass over the store.
type Batch struct {
	Entries []models.Snapshot
	// Next is the offset just past the last complete line; pass it to the
	// following ReadFrom to continue tailing.
	Next int64
	// Skipped counts complete lines that could not be decoded.
	Skipped int
}

// Reader is a read-only view of the store for downstream consumers. It never
// takes the writer's lock: a final line without its terminating newline is
// an append in progress and is left for the next read.
type Reader struct {
	path string
}

// NewReader returns a reader for the store at path.
func NewReader(path string) *Reader {
	return &Reader{path: path}
}

// ReadFrom decodes every complete record starting at offset. If the file is
// shorter than offset it was replaced, and reading restarts from the top.
// A store that does not exist yet reads as empty.
func (r *Reader) ReadFrom(offset int64) (Batch, error) {
	f, err := os.Open(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Batch{Next: 0}, nil
		}
		return Batch{Next: offset}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Batch{Next: offset}, err
	}
	if offset < 0 || offset > info.Size() {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return Batch{Next: offset}, err
	}

	batch := Batch{Next: offset}
	br := bufio.NewReader(f)
	for {
		line, err := br.ReadBytes('\n')
		if err == io.EOF {
			// Unterminated tail: not yet a record.
			break
		}
		if err != nil {
			return batch, err
		}

		batch.Next += int64(len(line))

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var snap models.Snapshot
		if err := json.Unmarshal(line, &snap); err != nil {
			batch.Skipped++
			continue
		}
		batch.Entries = append(batch.Entries, snap)
	}

	return batch, nil
}

// ReadAll returns every complete record in collection order.
func (r *Reader) ReadAll() ([]models.Snapshot, error) {
	b, err := r.ReadFrom(0)
	return b.Entries, err
}

// tailChunk is the read size used when scanning back from the end.
const tailChunk = 64 * 1024

// Tail returns the most recent n complete records, oldest first. It scans
// backwards from the end of the store, so the cost depends on n and not on
// the size of the log. An unterminated final line is ignored and
// undecodable lines do not count towards n.
func (r *Reader) Tail(n int) ([]models.Snapshot, error) {
	entries, _, err := r.tail(n, tailChunk)
	return entries, err
}

// tail also reports how many bytes were read from the store.
func (r *Reader) tail(n, chunk int) ([]models.Snapshot, int64, error) {
	if n <= 0 {
		return nil, 0, nil
	}

	f, err := os.Open(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}

	var (
		newest   []models.Snapshot // most recent first
		pending  []byte            // file[pos:cut], not yet split into lines
		pos      = info.Size()
		read     int64
		foundEnd bool
	)

	for pos > 0 && len(newest) < n {
		size := int64(chunk)
		if size > pos {
			size = pos
		}
		pos -= size

		buf := make([]byte, size, int(size)+len(pending))
		if _, err := f.ReadAt(buf, pos); err != nil && !errors.Is(err, io.EOF) {
			return nil, read, err
		}
		read += size
		data := append(buf, pending...)

		if !foundEnd {
			i := bytes.LastIndexByte(data, '\n')
			if i < 0 {
				// Still inside the unterminated tail.
				pending = nil
				continue
			}
			data = data[:i+1]
			foundEnd = true
		}

		// data ends with a newline. Peel complete lines off the end until
		// the first line in data may still start before pos.
		for len(data) > 0 && len(newest) < n {
			body := data[:len(data)-1]
			j := bytes.LastIndexByte(body, '\n')
			if j < 0 && pos > 0 {
				break
			}
			line := bytes.TrimSpace(body[j+1:])
			data = data[:j+1]

			if len(line) == 0 {
				continue
			}
			var snap models.Snapshot
			if err := json.Unmarshal(line, &snap); err != nil {
				continue
			}
			newest = append(newest, snap)
		}
		pending = data
	}

	out := make([]models.Snapshot, len(newest))
	for i, snap := range newest {
		out[len(newest)-1-i] = snap
	}
	return out, read, nil
}
