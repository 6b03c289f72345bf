package callsession

// State is the lifecycle phase of a call session.
type State int

const (
	StateOpen        State = iota // socket accepted
	StateCalibrating              // VAD collecting the noise floor
	StateListening                // waiting for a final utterance
	StateReplying                 // redirect in flight
	StateReconnected              // reply delivered; the call reconnects on a new socket
	StateClosing                  // input ended, draining transcription
	StateClosed                   // archived and released
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateCalibrating:
		return "calibrating"
	case StateListening:
		return "listening"
	case StateReplying:
		return "replying"
	case StateReconnected:
		return "reconnected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
