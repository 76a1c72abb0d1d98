package enhance

import "math"

// VadContext reads the voice activity prediction derived from a processor's
// enhanced output and tunes its parameters. It is safe for concurrent use.
// The prediction only advances while the processor is being driven; once the
// processor is closed it keeps its last value.
type VadContext struct {
	s *shared
}

// IsSpeechDetected reports the prediction after the most recent processed
// window.
func (v *VadContext) IsSpeechDetected() bool {
	return v.s.speech.Load()
}

// SetParameter sets p to value. Durations are rounded to whole native
// windows. It fails with ErrParameterOutOfRange for values outside the
// documented range and ErrProcessorClosed after [Processor.Close].
func (v *VadContext) SetParameter(p VadParameter, value float32) error {
	return v.s.setVadParameter(p, value)
}

// Parameter returns the current (rounded) value of p.
func (v *VadContext) Parameter(p VadParameter) (float32, error) {
	if !p.valid() {
		return 0, ErrInvalidArgument
	}
	return v.s.vad[p].Load(), nil
}

// vadState is the audio-goroutine side of the detector.
type vadState struct {
	votes  [maxHoldWindows]bool
	next   int
	filled int
	run    int
	speech bool

	// per-call snapshot
	threshold float64
	hold      int
	minimum   int
}

// snapshot loads the parameters once per process call.
func (v *vadState) snapshot(s *shared) {
	v.threshold = math.Pow(10, -float64(s.vad[VadSensitivity].Load()))
	v.hold = min(windowsFor(s.vad[VadSpeechHoldDuration].Load(), s.window), maxHoldWindows)
	v.minimum = windowsFor(s.vad[VadMinimumSpeechDuration].Load(), s.window)
}

// update folds one window's vote into the prediction and returns it.
//
// Speech starts after max(minimum, 1) consecutive positive votes. While in
// speech a negative vote ends it only when fewer than half of the hold votes
// before it were positive.
func (v *vadState) update(energy float64) bool {
	vote := energy > v.threshold
	if vote {
		v.run++
	} else {
		v.run = 0
	}

	if !v.speech {
		if vote && v.run >= max(v.minimum, 1) {
			v.speech = true
		}
	} else if !vote {
		if v.hold == 0 || 2*v.recentPositives(v.hold) < v.hold {
			v.speech = false
		}
	}

	v.votes[v.next] = vote
	v.next = (v.next + 1) % len(v.votes)
	v.filled = min(v.filled+1, len(v.votes))
	return v.speech
}

// recentPositives counts positive votes among the last n recorded ones.
func (v *vadState) recentPositives(n int) int {
	n = min(n, v.filled)
	count := 0
	for i := 1; i <= n; i++ {
		if v.votes[(v.next-i+len(v.votes))%len(v.votes)] {
			count++
		}
	}
	return count
}

func (v *vadState) reset() {
	v.votes = [maxHoldWindows]bool{}
	v.next = 0
	v.filled = 0
	v.run = 0
	v.speech = false
}

// meanSquare returns the mean energy of window across all channels.
func meanSquare(window [][]float32) float64 {
	var sum float64
	n := 0
	for _, ch := range window {
		for _, x := range ch {
			sum += float64(x) * float64(x)
		}
		n += len(ch)
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
