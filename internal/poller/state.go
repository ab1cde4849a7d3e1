package poller

import (
	"time"

	"github.com/chat2bench/chat2bench/internal/chat2data"
)

type State int

const (
	Polling State = iota
	Done
	Failed
	TimedOut
)

func (s State) String() string {
	switch s {
	case Polling:
		return "polling"
	case Done:
		return "done"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Observation is the result of one fetch: either a job or the error that
// prevented reading it. Elapsed is measured from the start of the wait.
type Observation struct {
	Job     chat2data.Job
	Err     error
	Elapsed time.Duration
}

// Progress is the poller state after a number of observations. A zero
// MaxPolls or Deadline disables that bound.
type Progress struct {
	State    State
	Polls    int
	MaxPolls int
	Deadline time.Duration
	Job      chat2data.Job
	LastErr  error
}

func Start(maxPolls int, deadline time.Duration) Progress {
	return Progress{State: Polling, MaxPolls: maxPolls, Deadline: deadline}
}

// Step applies one observation. Terminal progress is returned unchanged.
func Step(p Progress, obs Observation) Progress {
	if p.State != Polling {
		return p
	}
	p.Polls++
	if obs.Err != nil {
		p.LastErr = obs.Err
	} else {
		p.Job = obs.Job
		p.LastErr = nil
		switch obs.Job.Status {
		case chat2data.StatusDone:
			p.State = Done
			return p
		case chat2data.StatusFailed:
			p.State = Failed
			return p
		}
	}
	if p.MaxPolls > 0 && p.Polls >= p.MaxPolls {
		p.State = TimedOut
	}
	if p.Deadline > 0 && obs.Elapsed >= p.Deadline {
		p.State = TimedOut
	}
	return p
}
