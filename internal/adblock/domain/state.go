package domain

// EngineState is the lifecycle state of the blocking engine. The Enabled
// flag is orthogonal and only meaningful when the state is Ready.
type EngineState uint8

const (
	StateUninitialized EngineState = iota
	StateReady
)

func (s EngineState) String() string {
	if s == StateReady {
		return "ready"
	}
	return "uninitialized"
}
