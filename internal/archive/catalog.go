package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const initCatalogSQL = `
CREATE TABLE IF NOT EXISTS archives (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    name            TEXT    NOT NULL UNIQUE,
    source_bytes    INTEGER NOT NULL,
    container_bytes INTEGER NOT NULL,
    crc32           INTEGER NOT NULL,
    records         INTEGER NOT NULL,
    archived_at     DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_archives_archived_at ON archives(archived_at);`

// Entry describes one completed archive container
type Entry struct {
	Name           string
	SourceBytes    int64
	ContainerBytes int64
	CRC            uint32
	Records        int64
	ArchivedAt     time.Time
}

// Catalog records completed archive containers in a local SQLite database.
// It is advisory bookkeeping for operators and tooling; the filesystem
// state of source files and containers remains the source of truth for
// what has and has not been archived.
type Catalog struct {
	dbPath string

	db     *sql.DB
	dbOnce sync.Once
	dbErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewCatalog creates a catalog backed by the database at dbPath. The
// database is opened lazily on first use.
func NewCatalog(dbPath string) *Catalog {
	return &Catalog{dbPath: dbPath}
}

func (c *Catalog) getDB() (*sql.DB, error) {
	c.dbOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", c.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			c.dbErr = fmt.Errorf("opening catalog: %w", err)
			return
		}

		if _, err = db.Exec(initCatalogSQL); err != nil {
			_ = db.Close()
			c.dbErr = fmt.Errorf("initializing catalog schema: %w", err)
			return
		}

		c.db = db
	})

	return c.db, c.dbErr
}

// Record stores a completed container, replacing any previous entry with the
// same name. Re-recording after a retried sweep is therefore harmless.
func (c *Catalog) Record(ctx context.Context, e Entry) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
        INSERT INTO archives (name, source_bytes, container_bytes, crc32, records, archived_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(name) DO UPDATE SET
            source_bytes = excluded.source_bytes,
            container_bytes = excluded.container_bytes,
            crc32 = excluded.crc32,
            records = excluded.records,
            archived_at = excluded.archived_at`,
		e.Name, e.SourceBytes, e.ContainerBytes, int64(e.CRC), e.Records, e.ArchivedAt.UTC())
	if err != nil {
		return fmt.Errorf("recording archive entry: %w", err)
	}

	return nil
}

// Entries returns all recorded containers, oldest first
func (c *Catalog) Entries(ctx context.Context) (entries []Entry, err error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
        SELECT name, source_bytes, container_bytes, crc32, records, archived_at
        FROM archives ORDER BY archived_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying archive entries: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var e Entry
		var crc int64
		if err = rows.Scan(&e.Name, &e.SourceBytes, &e.ContainerBytes, &crc, &e.Records, &e.ArchivedAt); err != nil {
			return nil, fmt.Errorf("scanning archive entry: %w", err)
		}
		e.CRC = uint32(crc)
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("reading archive entries: %w", err)
	}

	return entries, nil
}

// Close releases the catalog database. It is safe to call multiple times.
func (c *Catalog) Close() error {
	c.closeOnce.Do(func() {
		if c.db == nil {
			return
		}
		if err := c.db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			c.closeErr = err
		}
	})
	return c.closeErr
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}
