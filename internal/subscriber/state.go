package subscriber

import "time"

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	ReconnectScheduled
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case ReconnectScheduled:
		return "reconnect_scheduled"
	case Failed:
		return "failed"
	}
	return "unknown"
}

type Timer interface {
	Stop() bool
}

// Clock schedules the reconnect timer.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
