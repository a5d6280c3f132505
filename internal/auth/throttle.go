package auth

import (
	"math"
	"sync"
	"time"

	"taskcal/internal/dateutil"
)

// failedLoginCap bounds the exponent so the delay cannot overflow.
const failedLoginCap = 16

type attemptState struct {
	failures int
	lastTry  time.Time
}

// LoginThrottle enforces (base ^ failures) second delays between failed
// login attempts for the same username.
type LoginThrottle struct {
	mu       sync.Mutex
	base     int
	clock    dateutil.Clock
	attempts map[string]attemptState
}

// NewLoginThrottle returns a throttle with the given delay base. clock
// defaults to the system clock when nil.
func NewLoginThrottle(base int, clock dateutil.Clock) *LoginThrottle {
	if base < 1 {
		base = 1
	}
	if clock == nil {
		clock = dateutil.SystemClock
	}
	return &LoginThrottle{base: base, clock: clock, attempts: make(map[string]attemptState)}
}

// Allowed reports whether username may attempt a login now.
func (t *LoginThrottle) Allowed(username string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.attempts[username]
	if !ok || state.failures == 0 {
		return true
	}
	delay := time.Duration(math.Pow(float64(t.base), float64(min(state.failures, failedLoginCap)))) * time.Second
	return !t.clock().Before(state.lastTry.Add(delay))
}

// Failure records a failed attempt for username.
func (t *LoginThrottle) Failure(username string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state := t.attempts[username]
	state.failures++
	state.lastTry = t.clock()
	t.attempts[username] = state
}

// Success clears the failure history for username.
func (t *LoginThrottle) Success(username string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.attempts, username)
}
