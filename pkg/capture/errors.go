package capture

import (
	"errors"
	"fmt"
)

// ErrTimeout marks a navigation or wait that ran past its bound.
var ErrTimeout = errors.New("timed out")

// Stage names the part of a capture that failed.
type Stage string

const (
	StageLaunch       Stage = "launch"
	StageContext      Stage = "context"
	StageNavigate     Stage = "navigate"
	StageWaitSelector Stage = "wait-selector"
	StageWait         Stage = "wait"
	StageStep         Stage = "step"
	StageScreenshot   Stage = "screenshot"
	StageCaption      Stage = "caption"
	StageWrite        Stage = "write"
)

// StageError is the error recorded for a failed (target, engine) pair.
type StageError struct {
	Stage  Stage
	Target string
	Engine string
	Err    error
}

func (e *StageError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%s: %s: %v", e.Engine, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s/%s: %s: %v", e.Target, e.Engine, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
