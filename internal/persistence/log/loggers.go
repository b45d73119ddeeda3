package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// JSONLZstdWriter appends JSON lines to hourly zstd files named <prefix>-YYYY-MM-DD-HH.jsonl.zst.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// ReadJSONL decodes every line of every <prefix>-*.jsonl.zst file in dir, oldest file first, and
// calls fn with the raw line. Files still being appended to are read up to their last complete
// frame.
func ReadJSONL(dir, prefix string, fn func(line []byte) error) error {
	paths, err := filepath.Glob(filepath.Join(dir, prefix+"-*.jsonl.zst"))
	if err != nil {
		return err
	}
	sort.Strings(paths)
	for _, p := range paths {
		if err := readFile(p, fn); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
	}
	return nil
}

func readFile(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	r := bufio.NewReader(dec)
	for {
		line, err := r.ReadBytes('\n')
		if len(strings.TrimSpace(string(line))) > 0 && err == nil {
			if ferr := fn(line[:len(line)-1]); ferr != nil {
				return ferr
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// DecodeFailure records a stored chunk that could not be decoded and what was done instead.
type DecodeFailure struct {
	Time           string   `json:"time"`
	Level          string   `json:"level"`
	Pos            [3]int32 `json:"pos"`
	PaletteVersion int32    `json:"palette_version"`
	Error          string   `json:"error"`
	Action         string   `json:"action"`
}

// CorruptionJournal keeps the durable trail of decode failures masked by regeneration.
type CorruptionJournal struct{ w *JSONLZstdWriter }

func NewCorruptionJournal(levelDir string) *CorruptionJournal {
	return &CorruptionJournal{w: NewJSONLZstdWriter(filepath.Join(levelDir, "corruption"), "corruption")}
}

func (j *CorruptionJournal) RecordDecodeFailure(f DecodeFailure) error {
	if f.Time == "" {
		f.Time = j.w.now().UTC().Format(time.RFC3339Nano)
	}
	return j.w.Write(f)
}

func (j *CorruptionJournal) Close() error { return j.w.Close() }

// ReadCorruptionJournal returns every recorded failure of a level, oldest first.
func ReadCorruptionJournal(levelDir string) ([]DecodeFailure, error) {
	var out []DecodeFailure
	err := ReadJSONL(filepath.Join(levelDir, "corruption"), "corruption", func(line []byte) error {
		var f DecodeFailure
		if err := json.Unmarshal(line, &f); err != nil {
			return err
		}
		out = append(out, f)
		return nil
	})
	return out, err
}
