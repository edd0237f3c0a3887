/*
Package altitude provides a barometric altitude estimator.

The estimator consumes raw pressure samples (hPa) from a sensor source and
maintains a single smoothed altitude estimate relative to the first valid
sample of the measurement session. The first reading becomes the baseline
("zero" elevation), not sea level, so results are session-relative meters.
*/
package altitude

import (
	"math"
	"sync"

	"github.com/rs/zerolog"

	"slopelink/internal/pkg/logx"
)

const (
	// barometricScale and barometricExponent are the constants of the
	// international barometric formula: alt = 44330 * (1 - (p/p0)^0.1903).
	barometricScale    = 44330.0
	barometricExponent = 0.1903

	// DefaultAlpha is the default exponential smoothing factor. Higher
	// values favor stability over responsiveness.
	DefaultAlpha = 0.85
)

// Source abstracts the platform pressure-sensor event stream. Subscribe
// registers fn to receive samples in hPa and returns a cancel function that
// unregisters it.
type Source interface {
	Subscribe(fn func(pressureHPa float64)) (cancel func(), err error)
}

// Estimator owns the calibration and estimate state for one measurement
// session. It is driven by a single sensor source; Start and Stop may race
// with an in-flight sample, which is resolved by checking the listening
// flag under the same mutex that guards the estimate.
type Estimator struct {
	mu sync.Mutex

	// alpha is the exponential smoothing factor in [0,1).
	alpha float64

	source Source
	cancel func()

	// listening gates sample processing. Samples delivered after Stop
	// returns are dropped.
	listening bool

	baseline    float64
	hasBaseline bool

	smoothed    float64
	hasSmoothed bool

	logger zerolog.Logger
}

// NewEstimator constructs an Estimator reading from source. An alpha outside
// [0,1) falls back to DefaultAlpha.
func NewEstimator(source Source, alpha float64) *Estimator {
	if alpha < 0 || alpha >= 1 {
		alpha = DefaultAlpha
	}

	return &Estimator{
		alpha:  alpha,
		source: source,
		logger: logx.Logger().With().Str("component", "AltitudeEstimator").Logger(),
	}
}

// Start resets the calibration state and begins listening for samples.
// The reset happens before the listener is registered, so stale samples from
// a previous session can never contaminate the new baseline. Starting a
// running estimator is a no-op.
func (e *Estimator) Start() error {
	e.mu.Lock()
	if e.listening {
		e.mu.Unlock()
		return nil
	}

	e.hasBaseline = false
	e.hasSmoothed = false
	e.listening = true
	e.mu.Unlock()

	cancel, err := e.source.Subscribe(e.OnSample)
	if err != nil {
		e.mu.Lock()
		e.listening = false
		e.mu.Unlock()

		e.logger.Error().Err(err).Msg("Failed to subscribe to pressure source.")
		return err
	}

	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	e.logger.Debug().Float64("alpha", e.alpha).Msg("Altitude estimator started.")
	return nil
}

// Stop unregisters the listener and discards the session estimate. Samples
// arriving after Stop returns are dropped. Stopping an idle estimator is a
// no-op.
func (e *Estimator) Stop() {
	e.mu.Lock()
	if !e.listening {
		e.mu.Unlock()
		return
	}

	e.listening = false
	e.hasBaseline = false
	e.hasSmoothed = false
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	e.logger.Debug().Msg("Altitude estimator stopped.")
}

// OnSample folds one raw pressure sample into the estimate. Non-positive
// readings are discarded without touching state. The first valid sample of a
// session establishes the baseline and yields altitude zero; the first
// estimate is set directly to the raw altitude, later samples are blended by
// exponential smoothing.
func (e *Estimator) OnSample(pressureHPa float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.listening {
		return
	}

	if pressureHPa <= 0 || math.IsNaN(pressureHPa) {
		return
	}

	if !e.hasBaseline {
		e.baseline = pressureHPa
		e.hasBaseline = true
	}

	rawAlt := barometricScale * (1 - math.Pow(pressureHPa/e.baseline, barometricExponent))

	if !e.hasSmoothed {
		e.smoothed = rawAlt
		e.hasSmoothed = true
		return
	}

	e.smoothed = e.alpha*e.smoothed + (1-e.alpha)*rawAlt
}

// Current returns the smoothed altitude in meters relative to the session
// baseline. ok is false until the first valid sample of a session arrives.
func (e *Estimator) Current() (meters float64, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.smoothed, e.hasSmoothed
}
