package engine

import (
	"context"
	"math/rand/v2"
	"time"
)

// Delay is a uniform random wait in [Min, Max].
type Delay struct {
	Min time.Duration `yaml:"min" json:"min"`
	Max time.Duration `yaml:"max" json:"max"`
}

// Pick draws one duration. Max < Min is treated as a fixed Min.
func (d Delay) Pick(r *rand.Rand) time.Duration {
	if d.Max <= d.Min {
		return max(d.Min, 0)
	}
	span := int64(d.Max - d.Min)
	var n int64
	if r != nil {
		n = r.Int64N(span + 1)
	} else {
		n = rand.Int64N(span + 1)
	}
	return d.Min + time.Duration(n)
}

// Sleep waits for d or until ctx is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
