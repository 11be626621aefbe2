package store

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/automation/internal/model"
	"github.com/roach88/automation/internal/trigger"
)

var testNow = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestSchedule creates an IDLE record with minimal required fields.
func createTestSchedule(id, group string, priority int, created time.Time) model.ScheduleData {
	return model.NewScheduleData(model.Schedule{
		Identifier: id,
		Group:      group,
		Priority:   priority,
		Triggers:   []trigger.Trigger{trigger.NewEvent("fg", trigger.TypeForeground, 1, nil)},
		Type:       model.PayloadActions,
		Actions:    json.RawMessage(`{"a":1}`),
		Created:    created,
	}, testNow)
}
