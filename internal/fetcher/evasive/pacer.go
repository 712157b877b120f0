package evasive

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/JakeFAU/pnrr-announcements/internal/metrics"
)

// Tier is a delay band that applies once From requests have been issued.
type Tier struct {
	From int
	Min  time.Duration
	Max  time.Duration
}

// DefaultTiers escalates politeness at the 10th and 20th request.
func DefaultTiers() []Tier {
	return []Tier{
		{From: 0, Min: 1000 * time.Millisecond, Max: 2500 * time.Millisecond},
		{From: 10, Min: 2 * time.Second, Max: 4 * time.Second},
		{From: 20, Min: 3 * time.Second, Max: 6 * time.Second},
	}
}

// Pacer hands out request slots spaced by a randomized delay measured from the
// last completed request. It is safe for concurrent use; the request count
// that drives the escalation is global to the instance.
type Pacer struct {
	mu       sync.Mutex
	tiers    []Tier
	count    int
	lastDone time.Time
	nextSlot time.Time

	now   func() time.Time
	rand  func() float64
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPacer builds a pacer. Empty tiers fall back to DefaultTiers.
func NewPacer(tiers []Tier) *Pacer {
	if len(tiers) == 0 {
		tiers = DefaultTiers()
	}
	return &Pacer{
		tiers: tiers,
		now:   time.Now,
		rand:  rand.Float64,
		sleep: sleepContext,
	}
}

// Count returns the number of slots handed out so far.
func (p *Pacer) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Wait blocks until the caller's slot. Callers must call Done once the request
// completes.
func (p *Pacer) Wait(ctx context.Context) error {
	wait := p.reserve()
	metrics.ObservePacingDelay(wait)
	if wait <= 0 {
		return nil
	}
	return p.sleep(ctx, wait)
}

// Done records the completion time of a request.
func (p *Pacer) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if now := p.now(); now.After(p.lastDone) {
		p.lastDone = now
	}
}

func (p *Pacer) reserve() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	delay := p.delayFor(p.count)
	p.count++

	now := p.now()
	anchor := p.lastDone
	if p.nextSlot.After(anchor) {
		anchor = p.nextSlot
	}
	slot := now
	if !anchor.IsZero() {
		if candidate := anchor.Add(delay); candidate.After(now) {
			slot = candidate
		}
	}
	p.nextSlot = slot
	return slot.Sub(now)
}

func (p *Pacer) delayFor(issued int) time.Duration {
	tier := p.tiers[0]
	for _, t := range p.tiers {
		if issued >= t.From {
			tier = t
		}
	}
	if tier.Max <= tier.Min {
		return tier.Min
	}
	span := float64(tier.Max - tier.Min)
	return tier.Min + time.Duration(p.rand()*span)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
