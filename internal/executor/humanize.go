package executor

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Humanizer simulates human interaction timing to reduce automated-traffic
// detection. It is invoked by the executor around interactions and is
// independent of step semantics, so tests swap in Noop.
type Humanizer interface {
	// Pace blocks until enough time has passed since the previous
	// interaction. Honors ctx cancellation.
	Pace(ctx context.Context) error

	// Jitter performs incidental pointer movement on the page.
	Jitter(page Page)
}

// HumanPolicy paces interactions with a jittered delay window and moves the
// mouse between actions.
type HumanPolicy struct {
	minDelay   time.Duration
	maxDelay   time.Duration
	lastAction time.Time
	mu         sync.Mutex
	rng        *rand.Rand
}

func NewHumanPolicy(minDelay, maxDelay time.Duration) *HumanPolicy {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &HumanPolicy{
		minDelay: minDelay,
		maxDelay: maxDelay,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (h *HumanPolicy) Pace(ctx context.Context) error {
	h.mu.Lock()
	elapsed := time.Since(h.lastAction)
	delay := h.minDelay
	if delta := h.maxDelay - h.minDelay; delta > 0 {
		delay += time.Duration(h.rng.Int63n(int64(delta)))
	}
	h.lastAction = time.Now()
	h.mu.Unlock()

	if elapsed >= delay {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay - elapsed):
		return nil
	}
}

func (h *HumanPolicy) Jitter(page Page) {
	h.mu.Lock()
	moves := 2 + h.rng.Intn(3)
	h.mu.Unlock()

	for i := 0; i < moves; i++ {
		h.mu.Lock()
		x := float64(h.rng.Intn(1920))
		y := float64(h.rng.Intn(1080))
		h.mu.Unlock()
		page.MouseMove(x, y)
	}
}

// Noop disables humanization; used in tests and when a caller explicitly
// turns pacing off.
type Noop struct{}

func (Noop) Pace(ctx context.Context) error { return ctx.Err() }
func (Noop) Jitter(Page)                    {}
