// Package archive turns closed record files into compressed containers and
// relocates them to long-term storage.
//
// The sweep runs on its own clock, decoupled from acquisition: compression
// or storage latency never backs up into the write path. Within a sweep,
// files are processed independently and a failure on one file never stops
// the others.
//
// Crash discipline: a container is written under a temporary name and only
// published (renamed) after it verifies against its source; the source file
// is deleted only after the container has reached long-term storage. At any
// instant a record file is either present and unarchived, or absent and
// archived — an interrupted sweep is simply retried from whichever step it
// reached.
package archive

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
)

const (
	containerExt = ".gz"
	tmpSuffix    = ".tmp"

	recordPattern = "track_*.csv" // Closed record files; never matches ".active"

	// DefaultSweepInterval is the pause between sweeps
	DefaultSweepInterval = time.Minute
)

// ErrIncomplete is returned when a file could not be carried through
// compression and relocation. The source file is left untouched and the
// next sweep retries it; archival errors never reach the acquisition path.
var ErrIncomplete = errors.New("archive incomplete")

// WithLogger sets the logger for the sweeper
func WithLogger(logger *slog.Logger) func(s *Sweeper) {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

// WithSweepInterval sets the pause between sweeps
func WithSweepInterval(interval time.Duration) func(s *Sweeper) {
	return func(s *Sweeper) {
		s.interval = interval
	}
}

// WithCatalog records completed containers in a catalog database
func WithCatalog(catalog *Catalog) func(s *Sweeper) {
	return func(s *Sweeper) {
		s.catalog = catalog
	}
}

// containerStats describes a verified container and its source file
type containerStats struct {
	SourceBytes    int64
	ContainerBytes int64
	Records        int64
	CRC            uint32
}

// Sweeper periodically archives closed record files
type Sweeper struct {
	srcDir     string
	holdingDir string
	destDir    string

	interval time.Duration
	catalog  *Catalog
	logger   *slog.Logger
}

// NewSweeper creates a Sweeper archiving closed files from srcDir into
// destDir, staging containers in holdingDir. The holding directory keeps
// finished containers when long-term storage is unreachable; relocation is
// retried on later sweeps.
func NewSweeper(srcDir, holdingDir, destDir string, options ...func(s *Sweeper)) (*Sweeper, error) {
	s := Sweeper{
		srcDir:     srcDir,
		holdingDir: holdingDir,
		destDir:    destDir,
		interval:   DefaultSweepInterval,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&s)
	}

	if err := os.MkdirAll(holdingDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating holding directory: %w", err)
	}

	return &s, nil
}

// Run sweeps immediately and then on every interval until the context is
// cancelled. Sweep failures are logged and retried next time; they are never
// fatal.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.Sweep(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep performs one scan-compress-relocate cycle and returns the number of
// files archived. Per-file failures are logged and skipped; ordering across
// files is unspecified.
func (s *Sweeper) Sweep(ctx context.Context) int {
	matches, err := filepath.Glob(filepath.Join(s.srcDir, recordPattern))
	if err != nil {
		s.logger.Error(fmt.Sprintf("scanning output directory: %s", err.Error()))
		return 0
	}

	var archived int
	for _, path := range matches {
		if ctx.Err() != nil {
			return archived // finish mid-sweep; files left over are retried
		}

		if err := s.archiveFile(ctx, path); err != nil {
			s.logger.Warn(fmt.Sprintf("%s: %s", ErrIncomplete.Error(), err.Error()),
				slog.String("file", path))
			continue
		}
		archived++
	}

	return archived
}

// archiveFile carries a single closed record file through compression,
// relocation and source deletion, in that order.
func (s *Sweeper) archiveFile(ctx context.Context, path string) error {
	container := filepath.Join(s.holdingDir, filepath.Base(path)+containerExt)

	// A verified container may already be waiting from a sweep whose
	// relocation failed; anything else is rebuilt from scratch.
	st, err := s.verify(container, path)
	if err != nil {
		if st, err = s.compress(path, container); err != nil {
			return err
		}
	}

	if err = s.relocate(container); err != nil {
		return err
	}

	if err = os.Remove(path); err != nil {
		return fmt.Errorf("removing archived source: %w", err)
	}

	s.logger.Info("archived record file",
		slog.String("container", filepath.Base(container)),
		slog.Int64("records", st.Records),
		slog.String("size", fmt.Sprintf("%s -> %s",
			humanize.IBytes(uint64(st.SourceBytes)), humanize.IBytes(uint64(st.ContainerBytes)))))

	if s.catalog != nil {
		entry := Entry{
			Name:           filepath.Base(container),
			SourceBytes:    st.SourceBytes,
			ContainerBytes: st.ContainerBytes,
			CRC:            st.CRC,
			Records:        st.Records,
			ArchivedAt:     time.Now().UTC(),
		}
		if err = s.catalog.Record(ctx, entry); err != nil {
			// catalog is advisory; the filesystem already holds the truth
			s.logger.Warn(fmt.Sprintf("recording archive in catalog: %s", err.Error()))
		}
	}

	return nil
}

// compress writes the container under a temporary name, verifies it against
// the source and only then publishes it. An interrupted compression leaves
// only the temporary file, which the retry overwrites from scratch.
func (s *Sweeper) compress(src, container string) (containerStats, error) {
	tmp := container + tmpSuffix

	if err := writeContainer(src, tmp); err != nil {
		_ = os.Remove(tmp)
		return containerStats{}, err
	}

	st, err := s.verify(tmp, src)
	if err != nil {
		_ = os.Remove(tmp)
		return containerStats{}, fmt.Errorf("verifying container: %w", err)
	}

	if err = os.Rename(tmp, container); err != nil {
		return containerStats{}, fmt.Errorf("publishing container: %w", err)
	}

	return st, nil
}

// verify decompresses the container and compares byte count and checksum
// against the source file.
func (s *Sweeper) verify(container, src string) (containerStats, error) {
	wantBytes, wantCRC, records, err := digestFile(src)
	if err != nil {
		return containerStats{}, fmt.Errorf("reading source: %w", err)
	}

	f, err := os.Open(container)
	if err != nil {
		return containerStats{}, err
	}
	defer f.Close()

	zr, err := gzip.NewReader(bufio.NewReader(f))
	if err != nil {
		return containerStats{}, fmt.Errorf("opening container: %w", err)
	}
	defer zr.Close()

	gotBytes, gotCRC, _, err := digest(zr)
	if err != nil {
		return containerStats{}, fmt.Errorf("decompressing container: %w", err)
	}

	if gotBytes != wantBytes || gotCRC != wantCRC {
		return containerStats{}, fmt.Errorf("container does not match source: %d bytes crc %08X, want %d bytes crc %08X",
			gotBytes, gotCRC, wantBytes, wantCRC)
	}

	info, err := f.Stat()
	if err != nil {
		return containerStats{}, err
	}

	return containerStats{
		SourceBytes:    wantBytes,
		ContainerBytes: info.Size(),
		Records:        records,
		CRC:            wantCRC,
	}, nil
}

// relocate moves a published container to long-term storage. The target is
// a separately mounted volume, so the copy goes through a temporary name on
// the target side and is renamed there; a bare cross-device rename is not
// available. The holding copy is removed only after the target rename.
func (s *Sweeper) relocate(container string) error {
	if err := os.MkdirAll(s.destDir, 0o755); err != nil {
		return fmt.Errorf("long-term storage unavailable: %w", err)
	}

	dest := filepath.Join(s.destDir, filepath.Base(container))
	tmp := dest + tmpSuffix

	if err := copyFileSync(container, tmp); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("copying container to long-term storage: %w", err)
	}

	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("committing container to long-term storage: %w", err)
	}

	if err := os.Remove(container); err != nil {
		return fmt.Errorf("removing holding copy: %w", err)
	}

	return nil
}

// writeContainer gzips src into dst and syncs it to disk
func writeContainer(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating container: %w", err)
	}
	defer out.Close()

	zw := gzip.NewWriter(out)
	if _, err = io.Copy(zw, bufio.NewReader(in)); err != nil {
		return fmt.Errorf("compressing: %w", err)
	}
	if err = zw.Close(); err != nil {
		return fmt.Errorf("finalizing container: %w", err)
	}
	if err = out.Sync(); err != nil {
		return fmt.Errorf("syncing container: %w", err)
	}

	return nil
}

// copyFileSync copies src to dst and syncs dst to disk
func copyFileSync(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err = io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

// digestFile digests a file on disk, see digest
func digestFile(path string) (int64, uint32, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, 0, err
	}
	defer f.Close()

	return digest(bufio.NewReader(f))
}

// digest reads r to the end, returning byte count, IEEE CRC32 and the
// number of record rows (lines minus the header).
func digest(r io.Reader) (int64, uint32, int64, error) {
	crc := crc32.NewIEEE()

	var bytes, lines int64
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			bytes += int64(n)
			_, _ = crc.Write(buf[:n])
			for _, b := range buf[:n] {
				if b == '\n' {
					lines++
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, 0, 0, err
		}
	}

	records := lines - 1 // header
	if records < 0 {
		records = 0
	}

	return bytes, crc.Sum32(), records, nil
}
