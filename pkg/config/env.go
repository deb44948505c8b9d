package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/root4loot/prshot/pkg/ghapi"
	"github.com/root4loot/prshot/pkg/publish"
)

// Env is the CI environment prshot runs in.
type Env struct {
	Token      string `env:"GITHUB_TOKEN"`
	Repository string `env:"GITHUB_REPOSITORY"` // owner/repo
	RunID      string `env:"GITHUB_RUN_ID"`
	EventPath  string `env:"GITHUB_EVENT_PATH"`
	Ref        string `env:"GITHUB_REF"`
	APIURL     string `env:"GITHUB_API_URL" env-default:"https://api.github.com"`
	PRNumber   int    `env:"PRSHOT_PR_NUMBER"`
	Branch     string `env:"PRSHOT_BRANCH"` // overrides output.branch
	CI         bool   `env:"CI"`
}

// ReadEnv reads Env from the process environment.
func ReadEnv() (*Env, error) {
	var e Env
	if err := cleanenv.ReadEnv(&e); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	return &e, nil
}

var pullRef = regexp.MustCompile(`^refs/pull/(\d+)/`)

// PullRequest returns the pull request number, or 0 when the run is not for a PR.
// PRSHOT_PR_NUMBER wins over the event payload, which wins over GITHUB_REF.
func (e *Env) PullRequest() (int, error) {
	if e.PRNumber > 0 {
		return e.PRNumber, nil
	}

	if e.EventPath != "" {
		n, err := eventNumber(e.EventPath)
		if err != nil {
			return 0, err
		}
		if n > 0 {
			return n, nil
		}
	}

	if m := pullRef.FindStringSubmatch(e.Ref); m != nil {
		return strconv.Atoi(m[1])
	}
	return 0, nil
}

func eventNumber(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read event payload: %w", err)
	}

	var event struct {
		Number      int `json:"number"`
		PullRequest struct {
			Number int `json:"number"`
		} `json:"pull_request"`
	}
	if err := json.Unmarshal(data, &event); err != nil {
		return 0, fmt.Errorf("decode event payload: %w", err)
	}
	if event.PullRequest.Number > 0 {
		return event.PullRequest.Number, nil
	}
	return event.Number, nil
}

// RunContext returns the identity of this run. Without a PR number or a CI run
// id, a short random id is used so that batches still land in their own directory.
func (e *Env) RunContext(now time.Time) (publish.RunContext, error) {
	var run publish.RunContext
	if e.Repository == "" {
		return run, fmt.Errorf("GITHUB_REPOSITORY is not set")
	}

	owner, repo, err := ghapi.SplitRepository(e.Repository)
	if err != nil {
		return run, err
	}
	number, err := e.PullRequest()
	if err != nil {
		return run, err
	}

	run = publish.RunContext{
		Owner:     owner,
		Repo:      repo,
		Number:    number,
		RunID:     e.RunID,
		Timestamp: now.UTC(),
	}
	if run.Number == 0 && run.RunID == "" {
		run.RunID = uuid.NewString()[:8]
	}
	return run, nil
}
