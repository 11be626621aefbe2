package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/automation/internal/model"
)

// orderBy is the deterministic restore order.
const orderBy = `ORDER BY priority ASC, created ASC, identifier COLLATE BINARY ASC`

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// GetSchedules returns every schedule in restore order.
// Returns an empty slice (not nil) when there are none.
func (s *Store) GetSchedules(ctx context.Context) ([]model.ScheduleData, error) {
	return s.listSchedules(ctx, s.db, `SELECT `+scheduleColumns+` FROM schedules `+orderBy)
}

// GetSchedulesByGroup returns the schedules of a group in restore order.
func (s *Store) GetSchedulesByGroup(ctx context.Context, group string) ([]model.ScheduleData, error) {
	return s.listSchedules(ctx, s.db,
		`SELECT `+scheduleColumns+` FROM schedules WHERE schedule_group = ? `+orderBy, group)
}

// GetSchedulesByIDs returns the schedules with the given ids in restore
// order. Unknown ids are ignored.
func (s *Store) GetSchedulesByIDs(ctx context.Context, ids []string) ([]model.ScheduleData, error) {
	if len(ids) == 0 {
		return []model.ScheduleData{}, nil
	}
	return s.listSchedules(ctx, s.db,
		`SELECT `+scheduleColumns+` FROM schedules WHERE identifier IN (`+placeholders(len(ids))+`) `+orderBy,
		stringArgs(ids)...)
}

// GetSchedule returns one schedule, or nil if it does not exist or its row
// is corrupt.
func (s *Store) GetSchedule(ctx context.Context, id string) (*model.ScheduleData, error) {
	return getSchedule(ctx, s.db, id)
}

func getSchedule(ctx context.Context, q queryer, id string) (*model.ScheduleData, error) {
	row, err := scanScheduleRow(q.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE identifier = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule %s: %w", id, err)
	}
	data, err := row.decode()
	if err != nil {
		slog.Warn("skipping corrupt schedule row", "schedule_id", id, "error", err)
		return nil, nil
	}
	return &data, nil
}

func (s *Store) listSchedules(ctx context.Context, q queryer, query string, args ...any) ([]model.ScheduleData, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()

	schedules := []model.ScheduleData{}
	for rows.Next() {
		row, err := scanScheduleRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		data, err := row.decode()
		if err != nil {
			slog.Warn("skipping corrupt schedule row", "schedule_id", row.identifier, "error", err)
			continue
		}
		schedules = append(schedules, data)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedules: %w", err)
	}
	return schedules, nil
}

// UpdateSchedule applies fn to the stored record atomically and returns the
// written result, or nil if the schedule does not exist.
func (s *Store) UpdateSchedule(ctx context.Context, id string, fn func(model.ScheduleData) model.ScheduleData) (*model.ScheduleData, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("update schedule: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	current, err := getSchedule(ctx, tx, id)
	if err != nil || current == nil {
		return nil, err
	}

	updated := fn(*current)
	if updated.Schedule.Identifier != id {
		return nil, fmt.Errorf("update schedule %s: transform changed identifier to %q", id, updated.Schedule.Identifier)
	}
	if err := writeSchedule(ctx, tx, updated); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("update schedule: commit: %w", err)
	}
	return &updated, nil
}

// UpsertSchedules applies fn to each id atomically, passing the existing
// record (nil when absent), and returns the written records in id order.
func (s *Store) UpsertSchedules(ctx context.Context, ids []string, fn func(id string, existing *model.ScheduleData) model.ScheduleData) ([]model.ScheduleData, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("upsert schedules: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	out := make([]model.ScheduleData, 0, len(ids))
	for _, id := range ids {
		existing, err := getSchedule(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		data := fn(id, existing)
		if data.Schedule.Identifier != id {
			return nil, fmt.Errorf("upsert schedule %s: transform returned %q", id, data.Schedule.Identifier)
		}
		if err := writeSchedule(ctx, tx, data); err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("upsert schedules: commit: %w", err)
	}
	return out, nil
}

func writeSchedule(ctx context.Context, q queryer, data model.ScheduleData) error {
	row, err := encodeSchedule(data)
	if err != nil {
		return fmt.Errorf("write schedule %s: %w", data.Schedule.Identifier, err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO schedules
		(`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identifier) DO UPDATE SET
			schedule_group = excluded.schedule_group,
			priority = excluded.priority,
			created = excluded.created,
			definition = excluded.definition,
			state = excluded.state,
			state_change_date = excluded.state_change_date,
			execution_count = excluded.execution_count,
			trigger_info = excluded.trigger_info,
			prepared_info = excluded.prepared_info
	`,
		row.identifier,
		row.group,
		row.priority,
		row.created,
		row.definition,
		row.state,
		row.stateChangeDate,
		row.executionCount,
		row.triggerInfo,
		row.preparedInfo,
	)
	if err != nil {
		return fmt.Errorf("write schedule %s: %w", data.Schedule.Identifier, err)
	}
	return nil
}

// DeleteSchedules removes schedules by id. Missing ids are ignored.
func (s *Store) DeleteSchedules(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM schedules WHERE identifier IN (`+placeholders(len(ids))+`)`, stringArgs(ids)...)
	if err != nil {
		return fmt.Errorf("delete schedules: %w", err)
	}
	return nil
}

// DeleteSchedulesByGroup removes every schedule in group and returns the
// deleted ids.
func (s *Store) DeleteSchedulesByGroup(ctx context.Context, group string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("delete group: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	rows, err := tx.QueryContext(ctx,
		`SELECT identifier FROM schedules WHERE schedule_group = ? ORDER BY identifier COLLATE BINARY ASC`, group)
	if err != nil {
		return nil, fmt.Errorf("delete group: %w", err)
	}
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("delete group: scan: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("delete group: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM schedules WHERE schedule_group = ?`, group); err != nil {
		return nil, fmt.Errorf("delete group: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("delete group: commit: %w", err)
	}
	return ids, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
