package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/automation/internal/testutil"
	"github.com/roach88/automation/internal/trigger"
)

func newTestRun(t *testing.T, stdin string, args ...string) (*bytes.Buffer, *bytes.Buffer, error) {
	t.Helper()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}

	opts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(opts)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := cmd.ExecuteContext(ctx)
	return stdout, stderr, err
}

func decodeExecutions(t *testing.T, out *bytes.Buffer) []Execution {
	t.Helper()
	var execs []Execution
	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		var e Execution
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		execs = append(execs, e)
	}
	return execs
}

func TestRunExecutesTriggeredSchedule(t *testing.T) {
	dir := t.TempDir()
	schedules := writeFile(t, dir, "hello.yaml", helloSchedules)
	dbPath := filepath.Join(dir, "engine.db")

	stdout, _, err := newTestRun(t, "{\"kind\":\"foreground\"}\n",
		"--db", dbPath, "--exit-on-eof", schedules)
	require.NoError(t, err)

	execs := decodeExecutions(t, stdout)
	require.Len(t, execs, 1)
	assert.Equal(t, "hello", execs[0].ScheduleID)
	assert.Equal(t, "greetings", execs[0].Group)
	assert.Equal(t, "actions", execs[0].Type)
	assert.JSONEq(t, `{"add_tags":["hello"]}`, string(execs[0].Payload))
	assert.NotEmpty(t, execs[0].SessionID)
	assert.FileExists(t, dbPath)
}

func TestRunIgnoresUnmatchedEvents(t *testing.T) {
	dir := t.TempDir()
	schedules := writeFile(t, dir, "hello.yaml", helloSchedules)

	stdin := "\n{\"kind\":\"background\"}\n\n{\"kind\":\"screen_view\",\"screen\":\"home\"}\n"
	stdout, _, err := newTestRun(t, stdin,
		"--db", filepath.Join(dir, "engine.db"), "--exit-on-eof", schedules)
	require.NoError(t, err)
	assert.Empty(t, stdout.String())
}

func TestRunUsesInjectedSessionIDs(t *testing.T) {
	dir := t.TempDir()
	schedules := writeFile(t, dir, "hello.yaml", helloSchedules)

	stdout := &bytes.Buffer{}
	opts := &RunOptions{
		RootOptions: &RootOptions{Format: "text"},
		Database:    filepath.Join(dir, "engine.db"),
		ExitOnEOF:   true,
		IDGenerator: testutil.NewSequenceIDGenerator("session"),
	}
	cmd := NewRunCommand(opts.RootOptions)
	cmd.SetOut(stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader("{\"kind\":\"foreground\"}\n"))
	cmd.SetContext(context.Background())

	require.NoError(t, runEngine(opts, schedules, cmd))

	execs := decodeExecutions(t, stdout)
	require.Len(t, execs, 1)
	assert.Equal(t, "session-1", execs[0].SessionID)
}

func TestRunMalformedEventLine(t *testing.T) {
	dir := t.TempDir()
	schedules := writeFile(t, dir, "hello.yaml", helloSchedules)

	_, _, err := newTestRun(t, "{\"kind\":\"foreground\"}\nnot json\n",
		"--db", filepath.Join(dir, "engine.db"), "--exit-on-eof", schedules)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to read events")
	assert.Contains(t, err.Error(), "line 2")
}

func TestRunMissingSchedulesPath(t *testing.T) {
	dir := t.TempDir()

	_, _, err := newTestRun(t, "",
		"--db", filepath.Join(dir, "engine.db"), "--exit-on-eof", filepath.Join(dir, "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load schedules")
}

func TestRunInvalidSchedules(t *testing.T) {
	dir := t.TempDir()
	schedules := writeFile(t, dir, "broken.yaml", duplicateTriggerSchedules)

	_, _, err := newTestRun(t, "",
		"--db", filepath.Join(dir, "engine.db"), "--exit-on-eof", schedules)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunMissingConfigFile(t *testing.T) {
	dir := t.TempDir()

	_, _, err := newTestRun(t, "",
		"--config", filepath.Join(dir, "nope.yaml"), "--db", filepath.Join(dir, "engine.db"), "--exit-on-eof")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestRunWithoutSchedulesPath(t *testing.T) {
	dir := t.TempDir()

	stdout, _, err := newTestRun(t, "{\"kind\":\"foreground\"}\n",
		"--db", filepath.Join(dir, "engine.db"), "--exit-on-eof")
	require.NoError(t, err)
	assert.Empty(t, stdout.String())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	dir := t.TempDir()
	schedules := writeFile(t, dir, "hello.yaml", helloSchedules)

	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs([]string{"--db", filepath.Join(dir, "engine.db"), schedules})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}
}

func TestReadEvents(t *testing.T) {
	input := "{\"kind\":\"foreground\"}\n\n{\"kind\":\"custom_event\",\"data\":{\"name\":\"purchase\"},\"value\":12.5}\n"
	feed := make(chan trigger.Event, 4)

	require.NoError(t, readEvents(context.Background(), strings.NewReader(input), feed))

	var events []trigger.Event
	for ev := range feed {
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	assert.Equal(t, trigger.EventForeground, events[0].Kind)
	assert.Equal(t, trigger.EventCustom, events[1].Kind)
	require.NotNil(t, events[1].Value)
	assert.Equal(t, 12.5, *events[1].Value)
}

func TestReadEvents_MissingKind(t *testing.T) {
	feed := make(chan trigger.Event, 1)

	err := readEvents(context.Background(), strings.NewReader("{\"screen\":\"home\"}\n"), feed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1: event kind is required")

	_, open := <-feed
	assert.False(t, open, "feed should be closed")
}

func TestReadEvents_StopsOnCancel(t *testing.T) {
	feed := make(chan trigger.Event)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := readEvents(ctx, strings.NewReader("{\"kind\":\"foreground\"}\n"), feed)
	assert.NoError(t, err)
}
