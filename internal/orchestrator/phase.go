package orchestrator

import "vigil/internal/check"

type Phase uint8

const (
	Starting Phase = iota + 1
	Running
	Cleanup
	Terminated
)

func (p Phase) String() string {
	switch p {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Cleanup:
		return "cleanup"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

func (p Phase) Transition(to Phase) Phase {
	ok := false
	switch p {
	case Starting:
		ok = to == Running || to == Cleanup
	case Running:
		ok = to == Cleanup
	case Cleanup:
		ok = to == Terminated
	case Terminated:
		ok = false
	}
	check.Assertf(ok, "orchestrator phase transition: %s -> %s", p, to)
	if !ok {
		return p
	}
	return to
}
