package task

import "github.com/tanq16/downpour/internal/progress"

// State is the task lifecycle state. Completed, Cancelled and Failed
// are terminal; Failed can still be restarted via Resume.
type State int32

const (
	Queued State = iota
	Downloading
	Paused
	Completed
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Downloading:
		return "downloading"
	case Paused:
		return "paused"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

func (s State) Terminal() bool {
	return s == Completed || s == Cancelled || s == Failed
}

// StateCallback is invoked on real state changes, outside internal
// locks.
type StateCallback func(taskID int, state State)

// Info is a point-in-time snapshot of a task for front-ends.
type Info struct {
	ID           int
	URL          string
	FilePath     string
	FileName     string
	FileSize     int64
	State        State
	ErrorMessage string
	Progress     progress.Info
}
