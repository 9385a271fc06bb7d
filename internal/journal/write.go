package journal

import (
	"context"
	"fmt"

	"github.com/roach88/dispatchr/internal/ir"
)

// WriteSession inserts a session record.
// Uses ON CONFLICT(id) DO NOTHING for idempotency.
// The context is serialized to canonical JSON.
func (j *Journal) WriteSession(ctx context.Context, sess ir.SessionRecord) error {
	contextJSON, err := marshalContext(sess.Context)
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO sessions (id, context, engine_version)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, sess.ID, contextJSON, sess.EngineVersion)
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// RecordAction inserts a completed action and its store outcomes in one
// transaction. Implements dispatch.Journal.
//
// Idempotent on the action ID: a second write of the same record is
// silently ignored, outcomes included. The session must already exist
// (foreign key constraint).
func (j *Journal) RecordAction(ctx context.Context, rec ir.ActionRecord) error {
	payload := string(rec.Payload)
	if payload == "" {
		payload = "null"
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record action: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO actions (id, session_id, seq, name, origin, payload, error, engine_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.ID,
		rec.SessionID,
		rec.Seq,
		rec.Name,
		rec.Origin,
		payload,
		rec.Error,
		rec.EngineVersion,
	)
	if err != nil {
		return fmt.Errorf("record action: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("record action: rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil // already journaled
	}

	for i, outcome := range rec.Stores {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO store_outcomes (action_id, position, store, error)
			VALUES (?, ?, ?, ?)
		`, rec.ID, i, outcome.Store, outcome.Error)
		if err != nil {
			return fmt.Errorf("record action: outcome %s: %w", outcome.Store, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record action: commit: %w", err)
	}
	return nil
}
