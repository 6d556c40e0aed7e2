package producer

import (
	"math"
	"sync"
	"time"
)

// adaptiveConfig parameterizes the local quota.
type adaptiveConfig struct {
	// base is the per-minute budget under quiet conditions.
	base int
	// floor is the budget the decay can never go below.
	floor int
	// decay is multiplied in once per consecutive high-volume minute.
	decay float64
	// highWatermark is the fraction of the budget at or above which a
	// minute counts as high-volume.
	highWatermark float64
}

func adaptiveDefaults() adaptiveConfig {
	return adaptiveConfig{
		base:          50,
		floor:         5,
		decay:         0.7,
		highWatermark: 0.8,
	}
}

// adaptiveLimiter is the producer-local budget. Sustained high volume
// shrinks the budget logarithmically; quiet minutes recover it one decay
// step at a time. It exists alongside the server-side hard quota so that a
// hot producer stops wasting network calls the gateway would deny anyway.
type adaptiveLimiter struct {
	mu              sync.Mutex
	cfg             adaptiveConfig
	minuteStart     time.Time
	usedThisMinute  int
	consecutiveHigh int
}

func newAdaptiveLimiter(cfg adaptiveConfig) *adaptiveLimiter {
	return &adaptiveLimiter{cfg: cfg}
}

// limit returns the current per-minute budget:
// max(floor, floor(base * decay^consecutiveHigh)).
func (l *adaptiveLimiter) limit() int {
	limit := int(math.Floor(float64(l.cfg.base) * math.Pow(l.cfg.decay, float64(l.consecutiveHigh))))
	if limit < l.cfg.floor {
		return l.cfg.floor
	}
	return limit
}

// Allow consumes one unit of budget if any remains this minute.
func (l *adaptiveLimiter) Allow(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.roll(now)

	if l.usedThisMinute >= l.limit() {
		return false
	}
	l.usedThisMinute++
	return true
}

// roll closes out elapsed minutes. A minute that ended at or above the high
// watermark deepens the decay; each quiet minute recovers one step.
func (l *adaptiveLimiter) roll(now time.Time) {
	if l.minuteStart.IsZero() {
		l.minuteStart = now
		return
	}

	elapsed := int(now.Sub(l.minuteStart) / time.Minute)
	if elapsed == 0 {
		return
	}

	// Close the minute that actually accumulated usage.
	high := float64(l.usedThisMinute) >= l.cfg.highWatermark*float64(l.limit())
	if high {
		l.consecutiveHigh++
	} else if l.consecutiveHigh > 0 {
		l.consecutiveHigh--
	}

	// Any further elapsed minutes were fully idle.
	for i := 1; i < elapsed; i++ {
		if l.consecutiveHigh > 0 {
			l.consecutiveHigh--
		}
	}

	l.usedThisMinute = 0
	l.minuteStart = l.minuteStart.Add(time.Duration(elapsed) * time.Minute)
}
