package sqlitestore

import (
	"bytes"
	"context"
	"database/sql"
	"io"

	"github.com/coralrepo/coral/internal/repoerr"
)

// blobStore is the BlobStore half of Store: spilled BINARY payloads live in
// their own table so large values never round-trip through the node/property
// JSON blobs (spec §6.1 "opaque byte-stream substore").
type blobStore struct {
	db *sql.DB
}

func (b blobStore) Put(ctx context.Context, id string, r io.Reader, size int64) error {
	data := make([]byte, 0, size)
	buf := bytes.NewBuffer(data)
	if _, err := io.Copy(buf, r); err != nil {
		return repoerr.Wrap(repoerr.Internal, err, "read blob %s", id)
	}
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO blobs (id, data) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		id, buf.Bytes())
	if err != nil {
		return repoerr.Wrap(repoerr.Internal, err, "store blob %s", id)
	}
	return nil
}

func (b blobStore) Get(ctx context.Context, id string) (io.ReadCloser, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, repoerr.New(repoerr.NoSuchItemState, "blob %s not found", id)
	}
	if err != nil {
		return nil, repoerr.Wrap(repoerr.Internal, err, "load blob %s", id)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b blobStore) Remove(ctx context.Context, id string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM blobs WHERE id = ?`, id)
	if err != nil {
		return repoerr.Wrap(repoerr.Internal, err, "remove blob %s", id)
	}
	return nil
}
