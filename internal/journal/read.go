package journal

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/dispatchr/internal/ir"
)

// ReadSession retrieves a single session by ID.
// Returns sql.ErrNoRows if not found.
func (j *Journal) ReadSession(ctx context.Context, id string) (ir.SessionRecord, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT id, context, engine_version
		FROM sessions
		WHERE id = ?
	`, id)
	return scanSession(row)
}

// ListSessions returns every session in insertion order.
// Returns an empty slice (not nil) if the journal is empty.
func (j *Journal) ListSessions(ctx context.Context) ([]ir.SessionRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, context, engine_version
		FROM sessions
		ORDER BY rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []ir.SessionRecord{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// ReadActions returns every journaled action of a session with its store
// outcomes. Results are ordered deterministically: ORDER BY seq ASC,
// id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if the session has no actions.
func (j *Journal) ReadActions(ctx context.Context, sessionID string) ([]ir.ActionRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, session_id, seq, name, origin, payload, error, engine_version
		FROM actions
		WHERE session_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}

	actions := []ir.ActionRecord{}
	index := make(map[string]int)
	for rows.Next() {
		var (
			rec     ir.ActionRecord
			payload string
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Seq, &rec.Name, &rec.Origin, &payload, &rec.Error, &rec.EngineVersion); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan action: %w", err)
		}
		rec.Payload = rawPayload(payload)
		rec.Stores = []ir.StoreOutcome{}
		index[rec.ID] = len(actions)
		actions = append(actions, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	rows.Close()

	// Single connection: outcomes are read after the action cursor closes.
	outcomes, err := j.db.QueryContext(ctx, `
		SELECT o.action_id, o.store, o.error
		FROM store_outcomes o
		JOIN actions a ON o.action_id = a.id
		WHERE a.session_id = ?
		ORDER BY a.seq ASC, o.position ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query store outcomes: %w", err)
	}
	defer outcomes.Close()

	for outcomes.Next() {
		var (
			actionID string
			outcome  ir.StoreOutcome
		)
		if err := outcomes.Scan(&actionID, &outcome.Store, &outcome.Error); err != nil {
			return nil, fmt.Errorf("scan store outcome: %w", err)
		}
		i, ok := index[actionID]
		if !ok {
			continue
		}
		actions[i].Stores = append(actions[i].Stores, outcome)
	}
	if err := outcomes.Err(); err != nil {
		return nil, fmt.Errorf("iterate store outcomes: %w", err)
	}

	return actions, nil
}

// ReadAction retrieves a single action by ID, with its store outcomes.
// Returns sql.ErrNoRows if not found.
func (j *Journal) ReadAction(ctx context.Context, id string) (ir.ActionRecord, error) {
	var sessionID string
	err := j.db.QueryRowContext(ctx, `SELECT session_id FROM actions WHERE id = ?`, id).Scan(&sessionID)
	if err != nil {
		return ir.ActionRecord{}, err
	}

	actions, err := j.ReadActions(ctx, sessionID)
	if err != nil {
		return ir.ActionRecord{}, err
	}
	for _, rec := range actions {
		if rec.ID == id {
			return rec, nil
		}
	}
	return ir.ActionRecord{}, sql.ErrNoRows
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(s scanner) (ir.SessionRecord, error) {
	var (
		sess        ir.SessionRecord
		contextJSON string
	)
	if err := s.Scan(&sess.ID, &contextJSON, &sess.EngineVersion); err != nil {
		return ir.SessionRecord{}, err
	}
	sc, err := unmarshalContext(contextJSON)
	if err != nil {
		return ir.SessionRecord{}, err
	}
	sess.Context = sc
	return sess, nil
}
