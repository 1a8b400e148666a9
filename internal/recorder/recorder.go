// Package recorder owns the active record file: it serializes samples into
// append-only rows and flushes them durably on a bounded cadence, so a crash
// loses at most a small, known window of records.
//
// File lifecycle is signalled through the name, not in-memory state: the
// file being written carries an ".active" suffix and is renamed on close.
// The archive stage keys off that rename, so the Open/Closed distinction
// survives an unclean exit of this process.
package recorder

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/roman-kulish/vehicle-tracklog/internal/sensor"
	"github.com/roman-kulish/vehicle-tracklog/internal/timebase"
)

const (
	filePrefix   = "track_"
	fileExt      = ".csv"
	activeSuffix = ".active"

	// DefaultFlushInterval is the longest records stay buffered in memory
	DefaultFlushInterval = time.Second

	// DefaultFlushRecords flushes early once this many records are buffered
	DefaultFlushRecords = 64
)

var (
	// ErrPersistence is returned when the write target is unusable. This is
	// fatal for the run: continuing without durable writes would defeat the
	// point of the system.
	ErrPersistence = errors.New("persistence failure")

	// ErrClosed is returned on ingest after the recorder has been closed
	ErrClosed = errors.New("recorder is closed")
)

// WithLogger sets the logger for the recorder
func WithLogger(logger *slog.Logger) func(r *Recorder) {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithFlushInterval sets the durable flush interval
func WithFlushInterval(interval time.Duration) func(r *Recorder) {
	return func(r *Recorder) {
		r.flushInterval = interval
	}
}

// WithFlushRecords sets the record count that forces an early flush
func WithFlushRecords(count int) func(r *Recorder) {
	return func(r *Recorder) {
		r.flushRecords = count
	}
}

// Recorder appends samples to the run's active record file
type Recorder struct {
	dir string
	tb  *timebase.TimeBase

	mu         sync.Mutex
	file       *os.File
	buf        *bufio.Writer
	csv        *csv.Writer
	activePath string
	finalPath  string
	sinceFlush int
	records    uint64
	closed     bool

	flushInterval time.Duration
	flushRecords  int
	logger        *slog.Logger
}

// Open creates the run's active record file in dir and writes the header.
// The file name is derived from the anchored start time, so a restarted
// process never collides with a previous run's output.
func Open(dir string, tb *timebase.TimeBase, options ...func(r *Recorder)) (*Recorder, error) {
	r := Recorder{
		dir:           dir,
		tb:            tb,
		flushInterval: DefaultFlushInterval,
		flushRecords:  DefaultFlushRecords,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&r)
	}

	if err := r.open(); err != nil {
		return nil, err
	}

	return &r, nil
}

func (r *Recorder) open() error {
	base := filePrefix + r.tb.Now().Format("20060102_150405")

	// a rollover within the same second must not collide with the file
	// just closed
	var file *os.File
	for i := 0; ; i++ {
		name := base
		if i > 0 {
			name = fmt.Sprintf("%s_%d", base, i)
		}

		r.finalPath = filepath.Join(r.dir, name+fileExt)
		r.activePath = r.finalPath + activeSuffix

		if _, err := os.Stat(r.finalPath); err == nil {
			continue
		}

		f, err := os.OpenFile(r.activePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: creating record file: %w", ErrPersistence, err)
		}

		file = f
		break
	}

	r.file = file
	r.buf = bufio.NewWriter(file)
	r.csv = csv.NewWriter(r.buf)
	r.sinceFlush = 0

	if err := r.csv.Write(Header()); err != nil {
		return fmt.Errorf("%w: writing header: %w", ErrPersistence, err)
	}
	if err := r.flushLocked(); err != nil {
		return err
	}

	r.logger.Info("record file opened", slog.String("path", r.activePath))
	return nil
}

// Ingest converts the sample into a record row and appends it to the active
// file. GPS samples keep the receiver's own timestamp; free-running sources
// are stamped via the time base at ingestion.
func (r *Recorder) Ingest(s sensor.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	ts := s.Time
	if ts.IsZero() {
		ts = r.tb.Now()
	}

	row, err := Row(ts, s)
	if err != nil {
		return err
	}

	if err = r.csv.Write(row); err != nil {
		return fmt.Errorf("%w: appending record: %w", ErrPersistence, err)
	}

	r.records++
	r.sinceFlush++
	if r.sinceFlush >= r.flushRecords {
		return r.flushLocked()
	}

	return nil
}

// Flush forces buffered records onto durable storage
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	return r.flushLocked()
}

// RunFlusher flushes on the configured interval until the context is
// cancelled. A failed flush is a persistence failure and ends the run.
func (r *Recorder) RunFlusher(ctx context.Context) error {
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil // Close performs the final flush
		case <-ticker.C:
			if err := r.Flush(); err != nil {
				return err
			}
		}
	}
}

// Close flushes, closes and marks the record file Closed by renaming it.
// Once renamed, the file becomes visible to the archive stage and this
// recorder will never write to it again.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	err := r.closeLocked()
	r.closed = true
	return err
}

// Rollover closes the current record file and opens a fresh one, letting
// long runs hand completed files to the archive stage incrementally.
func (r *Recorder) Rollover() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if err := r.closeLocked(); err != nil {
		return err
	}
	return r.open()
}

// Records returns the number of records ingested this run
func (r *Recorder) Records() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records
}

// Path returns the path the record file will have once Closed
func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalPath
}

func (r *Recorder) closeLocked() error {
	if err := r.flushLocked(); err != nil {
		_ = r.file.Close()
		return err
	}
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("%w: closing record file: %w", ErrPersistence, err)
	}
	if err := os.Rename(r.activePath, r.finalPath); err != nil {
		return fmt.Errorf("%w: marking record file closed: %w", ErrPersistence, err)
	}

	r.logger.Info("record file closed",
		slog.String("path", r.finalPath),
		slog.Uint64("records", r.records))
	return nil
}

func (r *Recorder) flushLocked() error {
	r.csv.Flush()
	if err := r.csv.Error(); err != nil {
		return fmt.Errorf("%w: flushing records: %w", ErrPersistence, err)
	}
	if err := r.buf.Flush(); err != nil {
		return fmt.Errorf("%w: flushing records: %w", ErrPersistence, err)
	}
	if err := r.file.Sync(); err != nil {
		return fmt.Errorf("%w: syncing record file: %w", ErrPersistence, err)
	}

	r.sinceFlush = 0
	return nil
}

// RecoverOrphans marks record files left ".active" by a crashed run as
// Closed. The writer that owned them is gone, so they are final by
// definition; renaming them makes the records visible to the archive stage
// instead of stranding them.
func RecoverOrphans(dir string, logger *slog.Logger) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, filePrefix+"*"+fileExt+activeSuffix))
	if err != nil {
		return 0, fmt.Errorf("scanning for orphaned record files: %w", err)
	}

	var recovered int
	for _, path := range matches {
		final := strings.TrimSuffix(path, activeSuffix)
		if err := os.Rename(path, final); err != nil {
			return recovered, fmt.Errorf("recovering orphaned record file '%s': %w", path, err)
		}

		logger.Warn("recovered record file from a previous unclean exit",
			slog.String("path", final))
		recovered++
	}

	return recovered, nil
}
