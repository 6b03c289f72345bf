package media

import "sync"

// VADState is the detector's current phase.
type VADState int

const (
	VADCalibrating VADState = iota // collecting noise-floor frames
	VADIdle                        // calibrated, no speech in progress
	VADSpeaking                    // speech in progress
)

func (s VADState) String() string {
	switch s {
	case VADCalibrating:
		return "calibrating"
	case VADIdle:
		return "idle"
	case VADSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// VADEvent is the transition produced by a single frame, if any.
type VADEvent int

const (
	VADNone VADEvent = iota
	SpeechStart
	SpeechEnd
)

func (e VADEvent) String() string {
	switch e {
	case SpeechStart:
		return "speech_start"
	case SpeechEnd:
		return "speech_end"
	default:
		return "none"
	}
}

// VADConfig tunes the energy gate.
type VADConfig struct {
	// CalibrationFrames is how many initial frames feed the noise floor.
	CalibrationFrames int
	// Multiplier scales the average noise floor into the speech threshold.
	Multiplier float64
	// MinThreshold is the lowest threshold allowed, in RMS sample units.
	MinThreshold float64
	// Hangover is the number of consecutive quiet frames that end speech.
	Hangover int
}

// DefaultVADConfig returns settings for 20ms frames at 8kHz: one second of
// calibration and 300ms of hangover.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		CalibrationFrames: 50,
		Multiplier:        2.5,
		MinThreshold:      300,
		Hangover:          15,
	}
}

// VAD is a per-session, auto-calibrating energy gate. The threshold is fixed
// once calibration completes and never changes for the life of the session.
// It only reports transitions; it never gates the audio itself.
//
// All methods are safe for concurrent use.
type VAD struct {
	cfg VADConfig

	mu        sync.Mutex
	state     VADState
	frames    int
	floorSum  float64
	threshold float64
	hangover  int
}

// NewVAD creates a detector in the calibrating state. Zero-valued config
// fields take their defaults.
func NewVAD(cfg VADConfig) *VAD {
	def := DefaultVADConfig()
	if cfg.CalibrationFrames <= 0 {
		cfg.CalibrationFrames = def.CalibrationFrames
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.MinThreshold <= 0 {
		cfg.MinThreshold = def.MinThreshold
	}
	if cfg.Hangover <= 0 {
		cfg.Hangover = def.Hangover
	}
	return &VAD{cfg: cfg, state: VADCalibrating}
}

// Process feeds one decoded PCM frame and returns the resulting transition.
func (v *VAD) Process(pcm []byte) VADEvent {
	return v.ProcessEnergy(Energy(pcm))
}

// ProcessEnergy feeds the RMS energy of one frame.
func (v *VAD) ProcessEnergy(energy float64) VADEvent {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch v.state {
	case VADCalibrating:
		v.floorSum += energy
		v.frames++
		if v.frames >= v.cfg.CalibrationFrames {
			floor := v.floorSum / float64(v.frames)
			v.threshold = max(floor*v.cfg.Multiplier, v.cfg.MinThreshold)
			v.state = VADIdle
		}
		return VADNone

	case VADIdle:
		if energy >= v.threshold {
			v.state = VADSpeaking
			v.hangover = v.cfg.Hangover
			return SpeechStart
		}
		return VADNone

	case VADSpeaking:
		if energy >= v.threshold {
			v.hangover = v.cfg.Hangover
			return VADNone
		}
		v.hangover--
		if v.hangover <= 0 {
			v.state = VADIdle
			return SpeechEnd
		}
		return VADNone
	}

	return VADNone
}

// State returns the current detector state.
func (v *VAD) State() VADState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Threshold returns the calibrated threshold. ok is false while the
// detector is still calibrating.
func (v *VAD) Threshold() (threshold float64, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == VADCalibrating {
		return 0, false
	}
	return v.threshold, true
}
