// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package kvm

import "time"

const (
	// latencyRolloverSamples resets the running estimate periodically so a
	// long-lived simulation does not let early samples dominate forever.
	latencyRolloverSamples = 1_000_000
	// latencyClamp bounds any single observed delta so one pathological
	// wake-up (e.g. a debugger pause) cannot poison the estimate.
	latencyClamp = 2 * time.Second
)

// PollSendLatencyEstimator tracks the gap between a scheduled deadline and
// the wall-clock instant the callback actually ran, using a moving harmonic
// mean. The KVM back-end subtracts the current estimate from future
// schedule targets so the preemption-timer callback tends to fire no later
// than intended despite host scheduling jitter.
type PollSendLatencyEstimator struct {
	sampleCount  int64
	harmonicSum  float64 // running sum of 1/delta, in 1/nanoseconds
}

// Observe records the difference between when a deadline was scheduled to
// fire and when the callback actually ran.
func (e *PollSendLatencyEstimator) Observe(scheduled, actual time.Duration) {
	delta := actual - scheduled
	if delta < 0 {
		delta = 0
	}
	if delta > latencyClamp {
		delta = latencyClamp
	}
	if e.sampleCount >= latencyRolloverSamples {
		e.sampleCount = 0
		e.harmonicSum = 0
	}
	// Harmonic mean accumulates reciprocals; guard the zero-delta case
	// (perfect timing) with a tiny epsilon to avoid a division by zero.
	d := float64(delta.Nanoseconds())
	if d < 1 {
		d = 1
	}
	e.harmonicSum += 1 / d
	e.sampleCount++
}

// Estimate returns the current moving harmonic-mean latency estimate.
func (e *PollSendLatencyEstimator) Estimate() time.Duration {
	if e.sampleCount == 0 || e.harmonicSum == 0 {
		return 0
	}
	meanNanos := float64(e.sampleCount) / e.harmonicSum
	d := time.Duration(meanNanos)
	if d > latencyClamp {
		return latencyClamp
	}
	return d
}

// Compensate subtracts the current estimate from a schedule target,
// clamped to never go negative.
func (e *PollSendLatencyEstimator) Compensate(target time.Duration) time.Duration {
	adjusted := target - e.Estimate()
	if adjusted < 0 {
		return 0
	}
	return adjusted
}
