package calsync

// State is a step of a resource's sync pass.
type State int32

const (
	Idle State = iota
	Discovering
	Pulling
	Reconciling
	Pushing
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Discovering:
		return "discovering"
	case Pulling:
		return "pulling"
	case Reconciling:
		return "reconciling"
	case Pushing:
		return "pushing"
	case Failed:
		return "failed"
	}
	return "unknown"
}

func (r *runner) set(s State) {
	r.state.Store(int32(s))
}

func (r *runner) current() State {
	return State(r.state.Load())
}
