// Package vad turns a continuous microphone stream into discrete user
// utterances.
package vad

import "math"

// Decision is what a Detector concluded about a single frame.
type Decision int

const (
	DecisionNone Decision = iota
	DecisionSpeechStart
	DecisionSpeechEnd
	// DecisionMisfire ends a segment that was too short to count as speech.
	DecisionMisfire
)

func (d Decision) String() string {
	switch d {
	case DecisionSpeechStart:
		return "speech_start"
	case DecisionSpeechEnd:
		return "speech_end"
	case DecisionMisfire:
		return "misfire"
	}
	return "none"
}

// Detector classifies fixed-size frames of normalized mono samples. It is
// driven from a single goroutine and need not be safe for concurrent use.
type Detector interface {
	Process(frame []float32) Decision
	Reset()
}

// RMSParams tunes RMSDetector. Thresholds are probabilities in [0, 1]; the
// probability of a frame is its RMS divided by ReferenceRMS, capped at 1.
type RMSParams struct {
	PositiveThreshold float64
	NegativeThreshold float64
	// RedemptionFrames is how many consecutive quiet frames end a segment.
	RedemptionFrames int
	// MinSpeechFrames is the number of loud frames a segment needs to not be
	// a misfire.
	MinSpeechFrames int
	ReferenceRMS    float64
	// MinVolume is treated as silence.
	MinVolume float64
}

func DefaultRMSParams() RMSParams {
	return RMSParams{
		PositiveThreshold: 0.5,
		NegativeThreshold: 0.35,
		RedemptionFrames:  8,
		MinSpeechFrames:   3,
		ReferenceRMS:      0.1,
		MinVolume:         0.005,
	}
}

func (p RMSParams) Validate() error {
	if p.PositiveThreshold <= 0 || p.PositiveThreshold > 1 {
		return &ValidationError{Field: "PositiveThreshold", Message: "must be in (0.0, 1.0]"}
	}
	if p.NegativeThreshold < 0 || p.NegativeThreshold > p.PositiveThreshold {
		return &ValidationError{Field: "NegativeThreshold", Message: "must be between 0.0 and PositiveThreshold"}
	}
	if p.RedemptionFrames <= 0 {
		return &ValidationError{Field: "RedemptionFrames", Message: "must be positive"}
	}
	if p.MinSpeechFrames < 0 {
		return &ValidationError{Field: "MinSpeechFrames", Message: "must be non-negative"}
	}
	if p.ReferenceRMS <= 0 {
		return &ValidationError{Field: "ReferenceRMS", Message: "must be positive"}
	}
	if p.MinVolume < 0 || p.MinVolume > 1 {
		return &ValidationError{Field: "MinVolume", Message: "must be between 0.0 and 1.0"}
	}
	return nil
}

// ValidationError represents a parameter validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Message
}

// RMSDetector is a lightweight energy based detector with hysteresis: frames
// above PositiveThreshold start or sustain speech, frames below
// NegativeThreshold count toward ending it.
type RMSDetector struct {
	params RMSParams

	speaking     bool
	speechFrames int
	quietFrames  int
}

func NewRMSDetector(params RMSParams) (*RMSDetector, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &RMSDetector{params: params}, nil
}

// Probability maps a frame to a speech probability.
func (d *RMSDetector) Probability(frame []float32) float64 {
	rms := RMS(frame)
	if rms < d.params.MinVolume {
		return 0
	}
	return math.Min(1, rms/d.params.ReferenceRMS)
}

func (d *RMSDetector) Process(frame []float32) Decision {
	p := d.Probability(frame)

	if p >= d.params.PositiveThreshold {
		d.quietFrames = 0
		if !d.speaking {
			d.speaking = true
			d.speechFrames = 1
			return DecisionSpeechStart
		}
		d.speechFrames++
		return DecisionNone
	}

	if !d.speaking || p >= d.params.NegativeThreshold {
		return DecisionNone
	}

	d.quietFrames++
	if d.quietFrames < d.params.RedemptionFrames {
		return DecisionNone
	}

	enough := d.speechFrames >= d.params.MinSpeechFrames
	d.Reset()
	if enough {
		return DecisionSpeechEnd
	}
	return DecisionMisfire
}

func (d *RMSDetector) Reset() {
	d.speaking = false
	d.speechFrames = 0
	d.quietFrames = 0
}

// RMS is the root mean square of normalized samples.
func RMS(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(frame)))
}
