package delay

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/automation/internal/clock"
	"github.com/roach88/automation/internal/notify"
)

// Default bounds used when Options leaves them zero.
const (
	DefaultMaxSleep           = 5 * time.Minute
	DefaultInvalidWindowRetry = 24 * time.Hour
)

// Options tunes a Processor.
type Options struct {
	// MaxSleep bounds a single sleep so long waits re-check conditions.
	MaxSleep time.Duration

	// InvalidWindowRetry is how long to wait when a window cannot be
	// evaluated (unresolvable time zone, never-matching rules).
	InvalidWindowRetry time.Duration
}

// Processor waits for delay conditions.
type Processor struct {
	env      Environment
	clock    clock.Clock
	notifier *notify.Notifier
	opts     Options
}

// NewProcessor creates a processor. notifier may be nil, in which case
// non-time conditions are re-checked every MaxSleep.
func NewProcessor(env Environment, clk clock.Clock, notifier *notify.Notifier, opts Options) *Processor {
	if opts.MaxSleep <= 0 {
		opts.MaxSleep = DefaultMaxSleep
	}
	if opts.InvalidWindowRetry <= 0 {
		opts.InvalidWindowRetry = DefaultInvalidWindowRetry
	}
	return &Processor{env: env, clock: clk, notifier: notifier, opts: opts}
}

// AreConditionsMet is a point-in-time check of every condition except the
// seconds delay. It never blocks.
func (p *Processor) AreConditionsMet(d *Delay) bool {
	if d == nil {
		return true
	}
	if !p.stateConditionsMet(d) {
		return false
	}
	wait, _ := p.windowWait(d)
	return wait == 0
}

func (p *Processor) stateConditionsMet(d *Delay) bool {
	switch d.AppState {
	case AppStateForeground:
		if !p.env.IsForeground() {
			return false
		}
	case AppStateBackground:
		if p.env.IsForeground() {
			return false
		}
	}
	if len(d.Screens) > 0 && !slices.Contains(d.Screens, p.env.CurrentScreen()) {
		return false
	}
	if d.RegionID != "" && !p.env.IsInRegion(d.RegionID) {
		return false
	}
	return true
}

// windowWait returns how long until the execution window opens. An
// evaluation error turns into the long invalid-window retry.
func (p *Processor) windowWait(d *Delay) (time.Duration, error) {
	if d.Window == nil {
		return 0, nil
	}
	avail, err := d.Window.NextAvailability(p.clock.Now(), p.env.Location())
	if err != nil {
		return p.opts.InvalidWindowRetry, err
	}
	return avail.Retry(), nil
}

// Process blocks until every condition of d holds or ctx is done.
//
// The seconds delay is measured from triggerDate, so time already spent
// since the trigger fired is not slept again. Other conditions are
// re-checked after bounded sleeps or whenever the notifier fires.
func (p *Processor) Process(ctx context.Context, d *Delay, triggerDate time.Time) error {
	if d == nil {
		return ctx.Err()
	}

	if d.Seconds > 0 {
		if err := p.sleepUntil(ctx, triggerDate.Add(d.Duration())); err != nil {
			return err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		wait, err := p.windowWait(d)
		if err != nil {
			slog.Warn("execution window unavailable, retrying later",
				"error", err, "retry", wait)
		}
		if wait > 0 {
			if err := p.sleepUntil(ctx, p.clock.Now().Add(wait)); err != nil {
				return err
			}
			continue
		}

		var changed <-chan struct{}
		if p.notifier != nil {
			changed = p.notifier.Wait()
		}
		if p.stateConditionsMet(d) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		case <-p.clock.After(p.opts.MaxSleep):
		}
	}
}

// sleepUntil sleeps in MaxSleep increments until the clock reaches target.
func (p *Processor) sleepUntil(ctx context.Context, target time.Time) error {
	for {
		remaining := target.Sub(p.clock.Now())
		if remaining <= 0 {
			return ctx.Err()
		}
		if err := clock.Sleep(ctx, p.clock, min(remaining, p.opts.MaxSleep)); err != nil {
			return err
		}
	}
}
