// Package sqlitestore is a state.Backend on SQLite.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/taskcore"
	"github.com/m-mizutani/taskcore/state"

	_ "modernc.org/sqlite"
)

const (
	busyTimeout  = 5000 // milliseconds
	maxOpenConns = 4
)

const schema = `CREATE TABLE IF NOT EXISTS documents (
	kind       TEXT    NOT NULL,
	id         TEXT    NOT NULL,
	body       BLOB    NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (kind, id)
)`

// Backend stores documents in a single table keyed by (kind, id).
type Backend struct {
	db *sql.DB
}

var _ state.Backend = (*Backend)(nil)

// Open opens or creates the database file at path.
func Open(ctx context.Context, path string) (*Backend, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)", path, busyTimeout)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open database", goerr.V("path", path))
	}
	db.SetMaxOpenConns(maxOpenConns)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "failed to connect to database", goerr.V("path", path))
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "failed to initialize schema", goerr.V("path", path))
	}

	return &Backend{db: db}, nil
}

func (x *Backend) Close() error {
	return x.db.Close()
}

func (x *Backend) Read(ctx context.Context, kind state.Kind, id string) ([]byte, error) {
	var body []byte
	err := x.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE kind = ? AND id = ?`, string(kind), id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(taskcore.ErrNotFound, "document not found", goerr.V("kind", kind), goerr.V("id", id))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read document", goerr.V("kind", kind), goerr.V("id", id))
	}
	return body, nil
}

func (x *Backend) Write(ctx context.Context, kind state.Kind, id string, data []byte) error {
	_, err := x.db.ExecContext(ctx,
		`INSERT INTO documents (kind, id, body, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (kind, id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		string(kind), id, data, time.Now().UnixNano(),
	)
	if err != nil {
		return goerr.Wrap(err, "failed to write document", goerr.V("kind", kind), goerr.V("id", id))
	}
	return nil
}

func (x *Backend) Delete(ctx context.Context, kind state.Kind, id string) error {
	if _, err := x.db.ExecContext(ctx, `DELETE FROM documents WHERE kind = ? AND id = ?`, string(kind), id); err != nil {
		return goerr.Wrap(err, "failed to delete document", goerr.V("kind", kind), goerr.V("id", id))
	}
	return nil
}

func (x *Backend) List(ctx context.Context, kind state.Kind) ([]string, error) {
	rows, err := x.db.QueryContext(ctx, `SELECT id FROM documents WHERE kind = ? ORDER BY id`, string(kind))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list documents", goerr.V("kind", kind))
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, goerr.Wrap(err, "failed to scan document id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate documents")
	}
	return ids, nil
}
