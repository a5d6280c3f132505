package auth

import (
	"testing"
	"time"
)

func TestThrottleAllowsFirstAttempt(t *testing.T) {
	th := NewLoginThrottle(2, newMovableClock().Now)
	if !th.Allowed("alice") {
		t.Fatal("first attempt blocked")
	}
}

func TestThrottleDelayGrowsExponentially(t *testing.T) {
	clk := newMovableClock()
	th := NewLoginThrottle(2, clk.Now)

	// One failure: base^1 = 2s delay.
	th.Failure("alice")
	if th.Allowed("alice") {
		t.Fatal("allowed immediately after a failure")
	}
	clk.Advance(1 * time.Second)
	if th.Allowed("alice") {
		t.Fatal("allowed before the 2s delay elapsed")
	}
	clk.Advance(1 * time.Second)
	if !th.Allowed("alice") {
		t.Fatal("still blocked after the delay elapsed")
	}

	// Second failure: base^2 = 4s delay from the latest try.
	th.Failure("alice")
	clk.Advance(3 * time.Second)
	if th.Allowed("alice") {
		t.Fatal("allowed before the 4s delay elapsed")
	}
	clk.Advance(1 * time.Second)
	if !th.Allowed("alice") {
		t.Fatal("still blocked after the 4s delay elapsed")
	}
}

func TestThrottleIsPerUser(t *testing.T) {
	clk := newMovableClock()
	th := NewLoginThrottle(2, clk.Now)

	th.Failure("alice")
	if th.Allowed("alice") {
		t.Fatal("failing user not throttled")
	}
	if !th.Allowed("bob") {
		t.Fatal("unrelated user throttled")
	}
}

func TestThrottleSuccessResets(t *testing.T) {
	clk := newMovableClock()
	th := NewLoginThrottle(2, clk.Now)

	th.Failure("alice")
	th.Failure("alice")
	th.Success("alice")
	if !th.Allowed("alice") {
		t.Fatal("throttled after a successful login")
	}
}

func TestThrottleDelayIsCapped(t *testing.T) {
	clk := newMovableClock()
	th := NewLoginThrottle(2, clk.Now)

	// Far past the cap exponent; the delay must stay finite and bounded
	// by base^failedLoginCap seconds.
	for i := 0; i < 100; i++ {
		th.Failure("alice")
	}
	if th.Allowed("alice") {
		t.Fatal("allowed immediately despite failures")
	}
	clk.Advance(time.Duration(1<<failedLoginCap) * time.Second)
	if !th.Allowed("alice") {
		t.Fatal("blocked past the capped delay")
	}
}
