package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/opspilot/opspilot/internal/core"
)

// EnsureSession creates the session row if it does not exist.
func (db *DB) EnsureSession(ctx context.Context, id string) error {
	_, err := db.ExecContext(ctx, `INSERT OR IGNORE INTO sessions (id) VALUES (?)`, id)
	return err
}

// AppendTurns appends turns to a session transcript in one transaction,
// continuing the sequence from the current maximum.
func (db *DB) AppendTurns(ctx context.Context, sessionID string, turns []core.Message) error {
	if len(turns) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), -1) + 1 FROM turns WHERE session_id = ?`, sessionID).Scan(&next); err != nil {
		return err
	}
	for i, m := range turns {
		var toolCalls any
		if len(m.ToolCalls) > 0 {
			b, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return err
			}
			toolCalls = string(b)
		}
		ok := 0
		if m.OK {
			ok = 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO turns (session_id, seq, role, content, tool_calls, tool_call_id, tool_name, ok) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sessionID, next+i, m.Role, m.Content, toolCalls, m.ToolCallID, m.ToolName, ok); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadTurns returns a session's transcript in order.
func (db *DB) LoadTurns(ctx context.Context, sessionID string) ([]core.Message, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT role, content, tool_calls, tool_call_id, tool_name, ok FROM turns WHERE session_id = ? ORDER BY seq ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Message
	for rows.Next() {
		var m core.Message
		var toolCalls, toolCallID, toolName sql.NullString
		var ok int
		if err := rows.Scan(&m.Role, &m.Content, &toolCalls, &toolCallID, &toolName, &ok); err != nil {
			return nil, err
		}
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				return nil, err
			}
		}
		m.ToolCallID = toolCallID.String
		m.ToolName = toolName.String
		m.OK = ok == 1
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and its transcript (session reset).
func (db *DB) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}
