package publish

import (
	"fmt"
	"strconv"
	"time"
)

// StampLayout formats run timestamps. It sorts lexically and is safe in paths.
const StampLayout = "2006-01-02T15-04-05Z"

// RunContext identifies one invocation. It is set up once at start and only read afterwards.
type RunContext struct {
	Owner     string
	Repo      string
	Number    int    // pull request number, 0 when not running for a PR
	RunID     string // CI run id, used when Number is 0
	Timestamp time.Time
}

// ID returns the PR number or, failing that, the run id.
func (r RunContext) ID() string {
	if r.Number > 0 {
		return strconv.Itoa(r.Number)
	}
	return r.RunID
}

// Prefix returns the directory holding every batch of this PR or run.
func (r RunContext) Prefix() string {
	return "pr-" + r.ID()
}

// Stamp returns the run timestamp in StampLayout.
func (r RunContext) Stamp() string {
	return r.Timestamp.UTC().Format(StampLayout)
}

// BatchDir returns the directory of this run's batch.
func (r RunContext) BatchDir() string {
	return r.Prefix() + "/" + r.Stamp()
}

// Validate reports missing coordinates.
func (r RunContext) Validate() error {
	switch {
	case r.Owner == "" || r.Repo == "":
		return fmt.Errorf("repository owner and name are required")
	case r.ID() == "":
		return fmt.Errorf("either a pull request number or a run id is required")
	case r.Timestamp.IsZero():
		return fmt.Errorf("run timestamp is not set")
	}
	return nil
}
