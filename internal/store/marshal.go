package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/automation/internal/model"
)

// scheduleRow is the column layout of the schedules table.
type scheduleRow struct {
	identifier      string
	group           sql.NullString
	priority        int
	created         int64
	definition      string
	state           string
	stateChangeDate int64
	executionCount  int
	triggerInfo     sql.NullString
	preparedInfo    sql.NullString
}

const scheduleColumns = `identifier, schedule_group, priority, created, definition,
	state, state_change_date, execution_count, trigger_info, prepared_info`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScheduleRow(r rowScanner) (scheduleRow, error) {
	var row scheduleRow
	err := r.Scan(
		&row.identifier,
		&row.group,
		&row.priority,
		&row.created,
		&row.definition,
		&row.state,
		&row.stateChangeDate,
		&row.executionCount,
		&row.triggerInfo,
		&row.preparedInfo,
	)
	return row, err
}

// decode turns a row into a record. Errors mean the row is corrupt.
func (row scheduleRow) decode() (model.ScheduleData, error) {
	var data model.ScheduleData
	if err := json.Unmarshal([]byte(row.definition), &data.Schedule); err != nil {
		return data, fmt.Errorf("decode definition: %w", err)
	}
	if data.Schedule.Identifier != row.identifier {
		return data, fmt.Errorf("definition id %q does not match row", data.Schedule.Identifier)
	}
	data.State = model.ScheduleState(row.state)
	if !data.State.Valid() {
		return data, fmt.Errorf("unknown state %q", row.state)
	}
	data.StateChangeDate = fromMillis(row.stateChangeDate)
	data.ExecutionCount = row.executionCount

	if row.triggerInfo.Valid {
		var info model.TriggeringInfo
		if err := json.Unmarshal([]byte(row.triggerInfo.String), &info); err != nil {
			return data, fmt.Errorf("decode trigger info: %w", err)
		}
		data.TriggerInfo = &info
	}
	if row.preparedInfo.Valid {
		var info model.PreparedInfo
		if err := json.Unmarshal([]byte(row.preparedInfo.String), &info); err != nil {
			return data, fmt.Errorf("decode prepared info: %w", err)
		}
		data.PreparedInfo = &info
	}
	return data, nil
}

// encodeSchedule turns a record into column values.
func encodeSchedule(data model.ScheduleData) (scheduleRow, error) {
	def, err := json.Marshal(data.Schedule)
	if err != nil {
		return scheduleRow{}, fmt.Errorf("encode definition: %w", err)
	}
	row := scheduleRow{
		identifier:      data.Schedule.Identifier,
		group:           sql.NullString{String: data.Schedule.Group, Valid: data.Schedule.Group != ""},
		priority:        data.Schedule.Priority,
		created:         toMillis(data.Schedule.Created),
		definition:      string(def),
		state:           string(data.State),
		stateChangeDate: toMillis(data.StateChangeDate),
		executionCount:  data.ExecutionCount,
	}
	if data.TriggerInfo != nil {
		b, err := json.Marshal(data.TriggerInfo)
		if err != nil {
			return scheduleRow{}, fmt.Errorf("encode trigger info: %w", err)
		}
		row.triggerInfo = sql.NullString{String: string(b), Valid: true}
	}
	if data.PreparedInfo != nil {
		b, err := json.Marshal(data.PreparedInfo)
		if err != nil {
			return scheduleRow{}, fmt.Errorf("encode prepared info: %w", err)
		}
		row.preparedInfo = sql.NullString{String: string(b), Valid: true}
	}
	return row, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
