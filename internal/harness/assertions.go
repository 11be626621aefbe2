package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes the schedule's history to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Schedule string   // Schedule the assertion is about
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	History  []string // Every lifecycle change of the schedule
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s %s\n", e.Type, e.Schedule)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.History) > 0 {
		fmt.Fprintf(&buf, "  History: %s\n", strings.Join(e.History, " "))
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the failure
// messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluateAssertion(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluateAssertion(result *Result, a Assertion) error {
	switch a.Type {
	case AssertState:
		return assertState(result, a)
	case AssertExecutions:
		return assertExecutions(result, a)
	case AssertHistory:
		return assertHistory(result, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// assertState checks the final stored record.
func assertState(result *Result, a Assertion) error {
	fail := func(expected, actual string) error {
		return &AssertionError{
			Type:     AssertState,
			Schedule: a.Schedule,
			Expected: expected,
			Actual:   actual,
			History:  result.History(a.Schedule),
		}
	}

	record := result.FinalRecord(a.Schedule)
	if a.State == StateDeleted {
		if record != nil {
			return fail("deleted", string(record.State))
		}
		return nil
	}
	if record == nil {
		return fail(a.State, "deleted")
	}
	if string(record.State) != a.State {
		return fail(a.State, string(record.State))
	}
	if a.ExecutionCount != nil && record.ExecutionCount != *a.ExecutionCount {
		return fail(
			fmt.Sprintf("execution count %d", *a.ExecutionCount),
			fmt.Sprintf("execution count %d", record.ExecutionCount),
		)
	}
	return nil
}

// assertExecutions checks how often the executor ran a schedule.
func assertExecutions(result *Result, a Assertion) error {
	got := result.Executions[a.Schedule]
	if got == *a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertExecutions,
		Schedule: a.Schedule,
		Expected: fmt.Sprintf("%d execution(s)", *a.Count),
		Actual:   fmt.Sprintf("%d execution(s)", got),
		History:  result.History(a.Schedule),
	}
}

// assertHistory checks the exact sequence of lifecycle changes.
func assertHistory(result *Result, a Assertion) error {
	got := result.History(a.Schedule)
	if slices.Equal(got, a.History) {
		return nil
	}
	return &AssertionError{
		Type:     AssertHistory,
		Schedule: a.Schedule,
		Expected: strings.Join(a.History, " "),
		Actual:   strings.Join(got, " "),
	}
}
