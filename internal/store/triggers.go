package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/automation/internal/trigger"
)

// GetTrigger returns the counting state of one trigger in one execution
// scope, or nil if none is stored or the row is corrupt.
func (s *Store) GetTrigger(ctx context.Context, scheduleID string, execType trigger.ExecutionType, triggerID string) (*trigger.Data, error) {
	var state string
	err := s.db.QueryRowContext(ctx, `
		SELECT state FROM triggers
		WHERE schedule_id = ? AND execution_type = ? AND trigger_id = ?
	`, scheduleID, string(execType), triggerID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get trigger %s/%s/%s: %w", scheduleID, execType, triggerID, err)
	}
	data, err := decodeTrigger(scheduleID, string(execType), triggerID, state)
	if err != nil {
		slog.Warn("skipping corrupt trigger row",
			"schedule_id", scheduleID, "execution_type", execType, "trigger_id", triggerID, "error", err)
		return nil, nil
	}
	return data, nil
}

// GetTriggers returns every trigger row of a schedule ordered by execution
// type, then trigger id.
func (s *Store) GetTriggers(ctx context.Context, scheduleID string) ([]*trigger.Data, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_type, trigger_id, state FROM triggers
		WHERE schedule_id = ?
		ORDER BY execution_type COLLATE BINARY ASC, trigger_id COLLATE BINARY ASC
	`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("query triggers: %w", err)
	}
	defer rows.Close()

	out := []*trigger.Data{}
	for rows.Next() {
		var execType, triggerID, state string
		if err := rows.Scan(&execType, &triggerID, &state); err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		data, err := decodeTrigger(scheduleID, execType, triggerID, state)
		if err != nil {
			slog.Warn("skipping corrupt trigger row",
				"schedule_id", scheduleID, "trigger_id", triggerID, "error", err)
			continue
		}
		out = append(out, data)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate triggers: %w", err)
	}
	return out, nil
}

func decodeTrigger(scheduleID, execType, triggerID, state string) (*trigger.Data, error) {
	var data trigger.Data
	if err := json.Unmarshal([]byte(state), &data); err != nil {
		return nil, err
	}
	// The key columns are authoritative.
	data.ScheduleID = scheduleID
	data.ExecutionType = trigger.ExecutionType(execType)
	data.TriggerID = triggerID
	return &data, nil
}

// UpsertTriggers writes trigger state in one transaction.
func (s *Store) UpsertTriggers(ctx context.Context, triggers []*trigger.Data) error {
	if len(triggers) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upsert triggers: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, data := range triggers {
		state, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("upsert trigger %s/%s: %w", data.ScheduleID, data.TriggerID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO triggers (schedule_id, execution_type, trigger_id, state)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(schedule_id, execution_type, trigger_id) DO UPDATE SET state = excluded.state
		`, data.ScheduleID, string(data.Scope()), data.TriggerID, string(state))
		if err != nil {
			return fmt.Errorf("upsert trigger %s/%s: %w", data.ScheduleID, data.TriggerID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("upsert triggers: commit: %w", err)
	}
	return nil
}

// DeleteTriggers removes all trigger state of the given schedules.
func (s *Store) DeleteTriggers(ctx context.Context, scheduleIDs []string) error {
	if len(scheduleIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM triggers WHERE schedule_id IN (`+placeholders(len(scheduleIDs))+`)`,
		stringArgs(scheduleIDs)...)
	if err != nil {
		return fmt.Errorf("delete triggers: %w", err)
	}
	return nil
}

// DeleteTriggersFor removes specific triggers of one schedule within one
// execution scope.
func (s *Store) DeleteTriggersFor(ctx context.Context, scheduleID string, execType trigger.ExecutionType, triggerIDs []string) error {
	if len(triggerIDs) == 0 {
		return nil
	}
	args := append([]any{scheduleID, string(execType)}, stringArgs(triggerIDs)...)
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM triggers
		WHERE schedule_id = ? AND execution_type = ? AND trigger_id IN (`+placeholders(len(triggerIDs))+`)`,
		args...)
	if err != nil {
		return fmt.Errorf("delete %s triggers for %s: %w", execType, scheduleID, err)
	}
	return nil
}

// DeleteTriggersExcluding removes trigger state of every schedule not in
// scheduleIDs. An empty list removes everything.
func (s *Store) DeleteTriggersExcluding(ctx context.Context, scheduleIDs []string) error {
	var err error
	if len(scheduleIDs) == 0 {
		_, err = s.db.ExecContext(ctx, `DELETE FROM triggers`)
	} else {
		_, err = s.db.ExecContext(ctx,
			`DELETE FROM triggers WHERE schedule_id NOT IN (`+placeholders(len(scheduleIDs))+`)`,
			stringArgs(scheduleIDs)...)
	}
	if err != nil {
		return fmt.Errorf("delete triggers excluding: %w", err)
	}
	return nil
}
