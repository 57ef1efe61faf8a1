// Package sqlitestore implements the §6 persistent-store interface on top
// of SQLite via the teacher's own driver choice: ncruces/go-sqlite3, a
// pure-Go (wazero-compiled) SQLite, so the core never needs cgo.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/gofrs/flock"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/coralrepo/coral/internal/ids"
	"github.com/coralrepo/coral/internal/itemstate"
	"github.com/coralrepo/coral/internal/repoerr"
	"github.com/coralrepo/coral/internal/repolog"
	"github.com/coralrepo/coral/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS nodes (
	id   TEXT PRIMARY KEY,
	data BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS properties (
	parent_id TEXT NOT NULL,
	name      TEXT NOT NULL,
	data      BLOB NOT NULL,
	PRIMARY KEY (parent_id, name)
);

CREATE TABLE IF NOT EXISTS node_references (
	target_id TEXT PRIMARY KEY,
	data      BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS blobs (
	id   TEXT PRIMARY KEY,
	data BLOB NOT NULL
);
`

// Store is the sqlite-backed PersistentStore. It also doubles as the
// store-directory advisory lock: Open acquires a gofrs/flock file lock
// alongside the SQLite connection so two processes pointing at the same
// file path don't race the file-level lock the lock oracle doesn't cover
// (spec §6.3's lock oracle is a session/path concept, not a process one).
type Store struct {
	db   *sql.DB
	flk  *flock.Flock
	path string
	log  *slog.Logger
}

func connString(path string, writable bool) string {
	mode := "ro"
	if writable {
		mode = "rwc"
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&mode=%s", path, mode)
}

// Open creates or opens a SQLite-backed store at path ("" for a private
// in-memory database, used by tests).
func Open(ctx context.Context, path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = repolog.Discard
	}

	dsn := "file::memory:?mode=memory&cache=private&_pragma=busy_timeout(5000)"
	var flk *flock.Flock
	if path != "" {
		dsn = connString(path, true)
		flk = flock.New(path + ".lock")
		locked, err := flk.TryLockContext(ctx, 0)
		if err != nil || !locked {
			return nil, repoerr.Wrap(repoerr.Internal, err, "acquire store lock for %s", path)
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, repoerr.Wrap(repoerr.Internal, err, "open sqlite store")
	}
	db.SetMaxOpenConns(1) // single writer; matches the workspace manager's coarse-grained serialization

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, repoerr.Wrap(repoerr.Internal, err, "apply sqlite schema")
	}

	log.Debug("opened sqlite store", "path", path)
	return &Store{db: db, flk: flk, path: path, log: log}, nil
}

func (s *Store) Close() error {
	err := s.db.Close()
	if s.flk != nil {
		s.flk.Unlock()
	}
	return err
}

func (s *Store) Blobs() store.BlobStore { return blobStore{s.db} }

func (s *Store) LoadNode(ctx context.Context, id ids.NodeId) (*itemstate.NodeState, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM nodes WHERE id = ?`, id.String()).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, repoerr.New(repoerr.NoSuchItemState, "node %s not found", id)
	}
	if err != nil {
		return nil, repoerr.Wrap(repoerr.Internal, err, "load node %s", id)
	}
	var n itemstate.NodeState
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, repoerr.Wrap(repoerr.Internal, err, "decode node %s", id)
	}
	n.Status = itemstate.Existing
	return &n, nil
}

func (s *Store) LoadProperty(ctx context.Context, id ids.PropertyId) (*itemstate.PropertyState, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM properties WHERE parent_id = ? AND name = ?`,
		id.Parent.String(), id.Name.String()).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, repoerr.New(repoerr.NoSuchItemState, "property %s not found", id)
	}
	if err != nil {
		return nil, repoerr.Wrap(repoerr.Internal, err, "load property %s", id)
	}
	var p itemstate.PropertyState
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, repoerr.Wrap(repoerr.Internal, err, "decode property %s", id)
	}
	p.Status = itemstate.Existing
	return &p, nil
}

func (s *Store) LoadReferences(ctx context.Context, id ids.NodeId) (*store.NodeReferences, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM node_references WHERE target_id = ?`, id.String()).Scan(&data)
	if err == sql.ErrNoRows {
		return &store.NodeReferences{Target: id}, nil
	}
	if err != nil {
		return nil, repoerr.Wrap(repoerr.Internal, err, "load references for %s", id)
	}
	var refs store.NodeReferences
	if err := json.Unmarshal(data, &refs); err != nil {
		return nil, repoerr.Wrap(repoerr.Internal, err, "decode references for %s", id)
	}
	return &refs, nil
}

func (s *Store) Exists(ctx context.Context, id ids.ItemId) (bool, error) {
	var row *sql.Row
	if id.IsNode() {
		row = s.db.QueryRowContext(ctx, `SELECT 1 FROM nodes WHERE id = ?`, id.NodeID().String())
	} else {
		pid := id.PropertyID()
		row = s.db.QueryRowContext(ctx, `SELECT 1 FROM properties WHERE parent_id = ? AND name = ?`,
			pid.Parent.String(), pid.Name.String())
	}
	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, repoerr.Wrap(repoerr.Internal, err, "check existence of %s", id)
	}
	return true, nil
}
