package camera

import (
	"context"
	"time"

	"feeder/internal/logger"
)

const (
	// TorchOnBelow is the brightness under which the torch is switched on.
	TorchOnBelow = 60.0
	// TorchOffAbove is the brightness over which the torch is switched off.
	TorchOffAbove = 120.0
	// TorchHold is the minimum time between two torch actions, so the light
	// does not flash on and off at dusk.
	TorchHold = time.Hour
)

// TorchSwitch turns the camera light on or off.
type TorchSwitch interface {
	SetTorch(ctx context.Context, on bool) error
}

// Torch lights the feeding area at night based on frame brightness.
type Torch struct {
	sw     TorchSwitch
	logger *logger.Logger

	on         bool
	lastAction time.Time
}

func NewTorch(sw TorchSwitch, logger *logger.Logger) *Torch {
	return &Torch{sw: sw, logger: logger}
}

// Update switches the torch if brightness crossed a threshold and the last
// action is older than TorchHold. A failed command still counts as an action.
func (t *Torch) Update(ctx context.Context, brightness float64, now time.Time) (bool, error) {
	if !t.lastAction.IsZero() && now.Sub(t.lastAction) < TorchHold {
		return false, nil
	}

	var want bool
	switch {
	case brightness < TorchOnBelow && !t.on:
		want = true
	case brightness > TorchOffAbove && t.on:
		want = false
	default:
		return false, nil
	}

	return true, t.Set(ctx, want, now)
}

// Set switches the torch unconditionally.
func (t *Torch) Set(ctx context.Context, on bool, now time.Time) error {
	state := "off"
	if on {
		state = "on"
	}
	t.logger.Info("🔦 Torch %s at %s", state, now.Format("2006-01-02 15:04:05"))

	t.on = on
	t.lastAction = now
	if err := t.sw.SetTorch(ctx, on); err != nil {
		t.logger.Error("Torch %s failed: %v", state, err)
		return err
	}
	return nil
}

func (t *Torch) On() bool { return t.on }
