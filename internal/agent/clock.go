package agent

import "time"

// clockPhase is the state of an idleClock.
type clockPhase int

const (
	// phaseAwaitingResult: the pre-result clock is armed.
	phaseAwaitingResult clockPhase = iota
	// phaseDraining: a result was captured, the post-result clock is armed.
	phaseDraining
	// phaseStopped: no clock is armed.
	phaseStopped
)

func (p clockPhase) String() string {
	switch p {
	case phaseAwaitingResult:
		return "awaiting_result"
	case phaseDraining:
		return "draining"
	default:
		return "stopped"
	}
}

// maxDrainWindows caps draining at this many post-result windows, however
// often trailing events arrive.
const maxDrainWindows = 4

// idleClock holds the two idle timeouts of a run. Exactly one of them is
// armed at a time, and Touch re-arms whichever is current. Draining never
// outlasts maxDrainWindows post-result windows.
type idleClock struct {
	pre        time.Duration
	post       time.Duration
	phase      clockPhase
	timer      *time.Timer
	drainUntil time.Time
}

func newIdleClock(pre, post time.Duration) *idleClock {
	return &idleClock{
		pre:   pre,
		post:  post,
		phase: phaseAwaitingResult,
		timer: time.NewTimer(pre),
	}
}

// C fires when the current phase's clock expires.
func (c *idleClock) C() <-chan time.Time {
	return c.timer.C
}

// Phase returns the current phase.
func (c *idleClock) Phase() clockPhase {
	return c.phase
}

// Touch records backend activity.
func (c *idleClock) Touch() {
	switch c.phase {
	case phaseAwaitingResult:
		c.timer.Reset(c.pre)
	case phaseDraining:
		window := time.Until(c.drainUntil)
		if window > c.post {
			window = c.post
		}
		c.timer.Reset(max(window, 0))
	}
}

// EnterDraining switches from the pre-result to the post-result clock.
func (c *idleClock) EnterDraining() {
	if c.phase != phaseAwaitingResult {
		return
	}
	c.phase = phaseDraining
	c.drainUntil = time.Now().Add(maxDrainWindows * c.post)
	c.timer.Reset(c.post)
}

// Window is the duration of the currently armed clock.
func (c *idleClock) Window() time.Duration {
	if c.phase == phaseDraining {
		return c.post
	}
	return c.pre
}

// Stop disarms the clock.
func (c *idleClock) Stop() {
	c.phase = phaseStopped
	c.timer.Stop()
}
