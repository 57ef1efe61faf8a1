package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/coralrepo/coral/internal/ids"
	"github.com/coralrepo/coral/internal/itemstate"
	"github.com/coralrepo/coral/internal/repoerr"
	"github.com/coralrepo/coral/internal/store"
)

// Execute applies an entire change log atomically (spec §4.2 execute): new
// and modified node/property rows are upserted, removed rows deleted, and
// the references index updated, all inside one SQLite transaction. On any
// failure the transaction rolls back and the store is untouched.
func (s *Store) Execute(ctx context.Context, log *itemstate.ChangeLog) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return repoerr.Wrap(repoerr.Internal, err, "begin transaction")
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	for _, wrapped := range append(append([]*itemstate.NodeOrPropertyState{}, log.New...), log.Modified...) {
		if err := upsert(ctx, tx, wrapped); err != nil {
			return err
		}
	}
	for _, wrapped := range log.Removed {
		if err := remove(ctx, tx, wrapped); err != nil {
			return err
		}
	}
	for _, ru := range log.ReferenceUpdates {
		if err := applyReferenceUpdate(ctx, tx, ru); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return repoerr.Wrap(repoerr.Internal, err, "commit change log")
	}
	committed = true
	return nil
}

func upsert(ctx context.Context, tx *sql.Tx, w *itemstate.NodeOrPropertyState) error {
	if w.Node != nil {
		data, err := json.Marshal(w.Node)
		if err != nil {
			return repoerr.Wrap(repoerr.Internal, err, "encode node %s", w.Node.ID)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO nodes (id, data) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
			w.Node.ID.String(), data)
		if err != nil {
			return repoerr.Wrap(repoerr.Internal, err, "store node %s", w.Node.ID)
		}
		return nil
	}
	p := w.Property
	data, err := json.Marshal(p)
	if err != nil {
		return repoerr.Wrap(repoerr.Internal, err, "encode property %s", p.ID())
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO properties (parent_id, name, data) VALUES (?, ?, ?)
		 ON CONFLICT(parent_id, name) DO UPDATE SET data = excluded.data`,
		p.Parent.String(), p.Name.String(), data)
	if err != nil {
		return repoerr.Wrap(repoerr.Internal, err, "store property %s", p.ID())
	}
	return nil
}

func remove(ctx context.Context, tx *sql.Tx, w *itemstate.NodeOrPropertyState) error {
	if w.Node != nil {
		_, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, w.Node.ID.String())
		if err != nil {
			return repoerr.Wrap(repoerr.Internal, err, "destroy node %s", w.Node.ID)
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM node_references WHERE target_id = ?`, w.Node.ID.String())
		if err != nil {
			return repoerr.Wrap(repoerr.Internal, err, "destroy references for %s", w.Node.ID)
		}
		return nil
	}
	p := w.Property
	_, err := tx.ExecContext(ctx, `DELETE FROM properties WHERE parent_id = ? AND name = ?`,
		p.Parent.String(), p.Name.String())
	if err != nil {
		return repoerr.Wrap(repoerr.Internal, err, "destroy property %s", p.ID())
	}
	return nil
}

func applyReferenceUpdate(ctx context.Context, tx *sql.Tx, ru itemstate.ReferenceUpdate) error {
	for _, target := range ru.Added {
		refs, err := loadReferencesTx(ctx, tx, target)
		if err != nil {
			return err
		}
		if !containsProp(refs.Properties, ru.Property) {
			refs.Properties = append(refs.Properties, ru.Property)
		}
		if err := storeReferencesTx(ctx, tx, refs); err != nil {
			return err
		}
	}
	for _, target := range ru.Removed {
		refs, err := loadReferencesTx(ctx, tx, target)
		if err != nil {
			return err
		}
		refs.Properties = removeProp(refs.Properties, ru.Property)
		if err := storeReferencesTx(ctx, tx, refs); err != nil {
			return err
		}
	}
	return nil
}

func loadReferencesTx(ctx context.Context, tx *sql.Tx, target ids.NodeId) (*store.NodeReferences, error) {
	var data []byte
	err := tx.QueryRowContext(ctx, `SELECT data FROM node_references WHERE target_id = ?`, target.String()).Scan(&data)
	if err == sql.ErrNoRows {
		return &store.NodeReferences{Target: target}, nil
	}
	if err != nil {
		return nil, repoerr.Wrap(repoerr.Internal, err, "load references for %s", target)
	}
	var refs store.NodeReferences
	if err := json.Unmarshal(data, &refs); err != nil {
		return nil, repoerr.Wrap(repoerr.Internal, err, "decode references for %s", target)
	}
	return &refs, nil
}

func storeReferencesTx(ctx context.Context, tx *sql.Tx, refs *store.NodeReferences) error {
	if len(refs.Properties) == 0 {
		_, err := tx.ExecContext(ctx, `DELETE FROM node_references WHERE target_id = ?`, refs.Target.String())
		if err != nil {
			return repoerr.Wrap(repoerr.Internal, err, "clear references for %s", refs.Target)
		}
		return nil
	}
	data, err := json.Marshal(refs)
	if err != nil {
		return repoerr.Wrap(repoerr.Internal, err, "encode references for %s", refs.Target)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO node_references (target_id, data) VALUES (?, ?) ON CONFLICT(target_id) DO UPDATE SET data = excluded.data`,
		refs.Target.String(), data)
	if err != nil {
		return repoerr.Wrap(repoerr.Internal, err, "store references for %s", refs.Target)
	}
	return nil
}

func containsProp(props []ids.PropertyId, p ids.PropertyId) bool {
	for _, x := range props {
		if x == p {
			return true
		}
	}
	return false
}

func removeProp(props []ids.PropertyId, p ids.PropertyId) []ids.PropertyId {
	out := props[:0]
	for _, x := range props {
		if x != p {
			out = append(out, x)
		}
	}
	return out
}
