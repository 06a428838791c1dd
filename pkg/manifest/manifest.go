// Package manifest writes a JSON-lines record of a mirror run: one header
// line followed by one line per planned or applied action. The file is
// compressed according to its extension (".zst" or ".gz"), plain otherwise.
package manifest

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

// Compression is the encoding of a manifest file.
type Compression int

const (
	None Compression = iota
	Gzip
	Zstd
)

// CompressionFor picks the compression from the file extension.
func CompressionFor(path string) Compression {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst":
		return Zstd
	case ".gz":
		return Gzip
	default:
		return None
	}
}

// Status of a manifest entry.
const (
	StatusPlanned   = "planned"
	StatusApplied   = "applied"
	StatusFailed    = "failed"
	StatusAmbiguous = "ambiguous"
	StatusTimeout   = "timeout"
	StatusReadError = "read_error"
)

// Header is the first line of a manifest.
type Header struct {
	Tool      string    `json:"tool"`
	Version   string    `json:"version"`
	Source    string    `json:"source"`
	Target    string    `json:"target"`
	DryRun    bool      `json:"dryRun"`
	CreatedAt time.Time `json:"createdAt"`
}

// Entry is one action or problem of the run.
type Entry struct {
	Action string `json:"action,omitempty"`
	Source string `json:"source,omitempty"`
	Target string `json:"target,omitempty"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Writer streams a manifest to a file.
type Writer struct {
	f          *os.File
	bufWriter  *bufio.Writer
	compressed io.WriteCloser // nil for plain files
	enc        *json.Encoder
	tempPath   string
	path       string
}

// Create opens a manifest at path and writes the header. The file only
// appears at path once Close succeeds.
func Create(path string, h Header) (*Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create manifest directory %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, "pgl-mirror-manifest-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create manifest file in %s: %w", dir, err)
	}

	w := &Writer{f: f, bufWriter: bufio.NewWriter(f), tempPath: f.Name(), path: path}
	var out io.Writer = w.bufWriter
	switch CompressionFor(path) {
	case Zstd:
		zstdWriter, err := zstd.NewWriter(w.bufWriter, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			w.Abort()
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		w.compressed = zstdWriter
		out = zstdWriter
	case Gzip:
		pgzipWriter, err := pgzip.NewWriterLevel(w.bufWriter, pgzip.DefaultCompression)
		if err != nil {
			w.Abort()
			return nil, fmt.Errorf("failed to create gzip writer: %w", err)
		}
		w.compressed = pgzipWriter
		out = pgzipWriter
	}
	w.enc = json.NewEncoder(out)

	if err := w.enc.Encode(h); err != nil {
		w.Abort()
		return nil, fmt.Errorf("failed to write manifest header: %w", err)
	}
	return w, nil
}

// Write appends one entry.
func (w *Writer) Write(e Entry) error {
	if err := w.enc.Encode(e); err != nil {
		return fmt.Errorf("failed to write manifest entry: %w", err)
	}
	return nil
}

// Close flushes all layers and moves the manifest into place.
func (w *Writer) Close() (retErr error) {
	defer func() {
		if retErr != nil {
			os.Remove(w.tempPath)
		}
	}()
	if w.compressed != nil {
		if err := w.compressed.Close(); err != nil {
			w.f.Close()
			return fmt.Errorf("compressed writer close failed: %w", err)
		}
	}
	if err := w.bufWriter.Flush(); err != nil {
		w.f.Close()
		return fmt.Errorf("buffer flush failed: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("failed to close manifest file: %w", err)
	}
	if err := os.Rename(w.tempPath, w.path); err != nil {
		return fmt.Errorf("failed to rename manifest to %s: %w", w.path, err)
	}
	return nil
}

// Abort discards the manifest.
func (w *Writer) Abort() {
	if w.compressed != nil {
		w.compressed.Close()
	}
	w.f.Close()
	os.Remove(w.tempPath)
}

// Read loads a manifest written by Writer.
func Read(path string) (Header, []Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, nil, err
	}
	defer f.Close()

	var r io.Reader = f
	switch CompressionFor(path) {
	case Gzip:
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return Header{}, nil, err
		}
		defer gz.Close()
		r = gz
	case Zstd:
		zstdR, err := zstd.NewReader(f)
		if err != nil {
			return Header{}, nil, err
		}
		defer zstdR.Close()
		r = zstdR
	}

	dec := json.NewDecoder(r)
	var h Header
	if err := dec.Decode(&h); err != nil {
		return Header{}, nil, fmt.Errorf("failed to read manifest header: %w", err)
	}
	var entries []Entry
	for {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return h, entries, fmt.Errorf("failed to read manifest entry %d: %w", len(entries)+1, err)
		}
		entries = append(entries, e)
	}
	return h, entries, nil
}
