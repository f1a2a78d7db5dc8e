// Package blob stores the span list of a profile as one JSON file per
// profile id, optionally compressed, next to the relational database.
package blob

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/coral-mesh/spanprof/internal/safe"
)

// Compression selects the on-disk encoding of a blob.
type Compression string

const (
	None Compression = "none"
	Gzip Compression = "gzip"
	Zstd Compression = "zstd"
)

// MaxBlobSize bounds a single blob read.
const MaxBlobSize = 256 << 20

// ErrNotFound is returned by Read when no blob exists for the id.
var ErrNotFound = errors.New("blob not found")

// Suffix returns the file suffix for c.
func (c Compression) Suffix() string {
	switch c {
	case Gzip:
		return ".json.gz"
	case Zstd:
		return ".json.zst"
	default:
		return ".json"
	}
}

// ParseCompression validates a configured compression name.
func ParseCompression(name string) (Compression, error) {
	switch Compression(name) {
	case None, Gzip, Zstd:
		return Compression(name), nil
	case "":
		return Gzip, nil
	default:
		return "", fmt.Errorf("unknown compression %q (want none, gzip or zstd)", name)
	}
}

// compressions lists every suffix a blob may carry.
var compressions = []Compression{Gzip, Zstd, None}

// Store writes and reads span blobs under one directory.
type Store struct {
	dir         string
	compression Compression
	logger      zerolog.Logger
}

// New creates the directory if needed.
func New(dir string, compression Compression, logger zerolog.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("blob directory is required")
	}
	if _, err := ParseCompression(string(compression)); err != nil {
		return nil, err
	}
	if compression == "" {
		compression = Gzip
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob directory %s: %w", dir, err)
	}
	return &Store{
		dir:         dir,
		compression: compression,
		logger:      logger.With().Str("component", "blob").Logger(),
	}, nil
}

// Dir returns the blob directory.
func (s *Store) Dir() string { return s.dir }

// Path returns where a blob for id is written under the current setting.
func (s *Store) Path(id int64) string {
	return s.pathFor(id, s.compression)
}

func (s *Store) pathFor(id int64, c Compression) string {
	return filepath.Join(s.dir, strconv.FormatInt(id, 10)+c.Suffix())
}

// readOrder puts the configured compression first, then the others, so
// blobs written under another setting remain readable.
func (s *Store) readOrder() []Compression {
	order := []Compression{s.compression}
	for _, c := range compressions {
		if c != s.compression {
			order = append(order, c)
		}
	}
	return order
}

// Write encodes v as JSON, compresses it and atomically replaces the blob
// for id. It returns the path and the number of bytes written.
func (s *Store) Write(id int64, v any) (string, int, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", 0, fmt.Errorf("encode blob %d: %w", id, err)
	}
	data, err := compress(s.compression, raw)
	if err != nil {
		return "", 0, fmt.Errorf("compress blob %d: %w", id, err)
	}

	path := s.Path(id)
	if err := safe.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", 0, err
	}
	for _, c := range compressions {
		if c == s.compression {
			continue
		}
		if err := s.Remove(s.pathFor(id, c)); err != nil {
			s.logger.Warn().Err(err).Int64("profile_id", id).Msg("Failed to remove stale span blob")
		}
	}
	s.logger.Debug().
		Int64("profile_id", id).
		Int("raw_bytes", len(raw)).
		Int("bytes", len(data)).
		Str("compression", string(s.compression)).
		Msg("Wrote span blob")
	return path, len(data), nil
}

// Read decodes the blob for id into v, whichever compression it was written
// with. Returns ErrNotFound when there is none.
func (s *Store) Read(id int64, v any) error {
	for _, c := range s.readOrder() {
		path := s.pathFor(id, c)
		data, err := safe.ReadFile(path, &safe.ReadOptions{MaxSize: MaxBlobSize})
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read blob %d: %w", id, err)
		}
		raw, err := decompress(c, data)
		if err != nil {
			return fmt.Errorf("decompress blob %d: %w", id, err)
		}
		if err := json.Unmarshal(raw, v); err != nil {
			return fmt.Errorf("decode blob %d: %w", id, err)
		}
		return nil
	}
	return ErrNotFound
}

// Remove deletes a blob written by Write. Missing files are ignored.
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// RemoveID deletes the blob for id under every compression suffix.
func (s *Store) RemoveID(id int64) error {
	var errs []error
	for _, c := range compressions {
		if err := s.Remove(s.pathFor(id, c)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Size sums the size of every blob in the directory.
func (s *Store) Size() (int64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

func compress(c Compression, raw []byte) ([]byte, error) {
	switch c {
	case Gzip:
		var buf bytes.Buffer
		w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case Zstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(raw, nil), nil
	default:
		return raw, nil
	}
}

func decompress(c Compression, data []byte) ([]byte, error) {
	switch c {
	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(io.LimitReader(r, MaxBlobSize))
	case Zstd:
		dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxBlobSize))
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(data, nil)
	default:
		return data, nil
	}
}
