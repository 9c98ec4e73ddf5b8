package invoke

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"time"

	"github.com/openkcm/vmware-session/pkg/fault"
)

var ErrInvalidPolicy = errors.New("invalid retry policy")

// Action is what the retrier does with a failure of some class.
type Action int

const (
	// ActionFail surfaces the failure immediately.
	ActionFail Action = iota
	// ActionRetry backs off and tries again with the same session.
	ActionRetry
	// ActionReauth drops the session and tries again right away.
	ActionReauth
)

func (a Action) String() string {
	switch a {
	case ActionFail:
		return "fail"
	case ActionRetry:
		return "retry"
	case ActionReauth:
		return "reauth"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

var defaultActions = map[fault.Class]Action{
	fault.Fatal:          ActionFail,
	fault.Retriable:      ActionRetry,
	fault.SessionInvalid: ActionReauth,
}

// Policy bounds the retry loop. A Policy is a value and must not be changed
// once it is handed to a Retrier.
type Policy struct {
	// MaxAttempts counts every call, including the ones followed by a re-login.
	MaxAttempts int
	// MaxElapsed bounds the whole loop including sleeps. Zero means no bound.
	MaxElapsed time.Duration
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	// Jitter stretches every delay by a random fraction in [0, Jitter].
	Jitter float64
	// Actions overrides what happens per class. Missing classes use the defaults.
	Actions map[fault.Class]Action
}

// DefaultPolicy mirrors the controller client defaults: ten attempts, starting
// at one second, doubling up to a minute.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 10,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    time.Minute,
		Jitter:      0.2,
	}
}

func (p Policy) Validate() error {
	var errs []error

	if p.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts))
	}
	if p.MaxElapsed < 0 {
		errs = append(errs, fmt.Errorf("max elapsed must not be negative, got %s", p.MaxElapsed))
	}
	if p.BaseDelay < 0 {
		errs = append(errs, fmt.Errorf("base delay must not be negative, got %s", p.BaseDelay))
	}
	if p.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("multiplier must be at least 1, got %g", p.Multiplier))
	}
	if p.MaxDelay < p.BaseDelay {
		errs = append(errs, fmt.Errorf("max delay %s is below base delay %s", p.MaxDelay, p.BaseDelay))
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		errs = append(errs, fmt.Errorf("jitter must be within [0, 1], got %g", p.Jitter))
	}

	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidPolicy}, errs...)...)
	}

	return nil
}

// String is used in logs.
func (p Policy) String() string {
	return fmt.Sprintf("attempts=%d base=%s x%g max=%s jitter=%g elapsed=%s",
		p.MaxAttempts, p.BaseDelay, p.Multiplier, p.MaxDelay, p.Jitter, p.MaxElapsed)
}

// ActionFor returns the action for a class.
func (p Policy) ActionFor(c fault.Class) Action {
	if a, ok := p.Actions[c]; ok {
		return a
	}

	return defaultActions[c]
}

// WithAction returns a copy of p with the action for c replaced.
func (p Policy) WithAction(c fault.Class, a Action) Policy {
	actions := maps.Clone(p.Actions)
	if actions == nil {
		actions = make(map[fault.Class]Action, 1)
	}
	actions[c] = a
	p.Actions = actions

	return p
}

// Delay returns min(BaseDelay * Multiplier^step, MaxDelay) without jitter.
// Step 0 is the delay after the first retriable failure.
func (p Policy) Delay(step int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}

	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(p.BaseDelay) * math.Pow(mult, float64(step))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(d)
}

// backoff hands out the delays of one retry loop. Delays never shrink and
// never exceed MaxDelay, jitter included.
type backoff struct {
	policy Policy
	random func() float64
	step   int
	prev   time.Duration
}

func newBackoff(p Policy, random func() float64) *backoff {
	return &backoff{policy: p, random: random}
}

func (b *backoff) next() time.Duration {
	d := b.policy.Delay(b.step)
	b.step++

	if b.policy.Jitter > 0 && b.random != nil {
		d += time.Duration(float64(d) * b.policy.Jitter * b.random())
	}
	if b.policy.MaxDelay > 0 && d > b.policy.MaxDelay {
		d = b.policy.MaxDelay
	}
	if d < b.prev {
		d = b.prev
	}
	b.prev = d

	return d
}
