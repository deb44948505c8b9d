// Package prshot captures screenshots of a web application, publishes them to a
// content branch and keeps a single pull request comment up to date with them.
package prshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/root4loot/prshot/pkg/capture"
	"github.com/root4loot/prshot/pkg/comment"
	"github.com/root4loot/prshot/pkg/logging"
	"github.com/root4loot/prshot/pkg/publish"
	"github.com/sirupsen/logrus"
)

// ErrNoArtifacts is returned when FailOnEmpty is set and no (target, engine)
// pair produced a screenshot.
var ErrNoArtifacts = errors.New("no screenshots were captured")

// Runner ties capture, publish and comment together for one repository.
type Runner struct {
	Options  *Options
	registry capture.Registry
	backend  publish.Backend
	store    comment.Store
	log      *logrus.Entry
}

// Options contains options for the runner.
type Options struct {
	Engines     []string         // Engines to capture with, in order
	Capture     *capture.Options // Capturer settings
	Publish     *publish.Options // Content branch settings
	Comment     *comment.Options // Comment rendering settings
	FailOnEmpty bool             // Return ErrNoArtifacts when nothing was captured
	DryRun      bool             // Publish to memory and never touch comments
	Logging     logging.Config   // Shared by every component logger
	Clock       func() time.Time // Used when the run has no timestamp
}

// Result is the outcome of one run.
type Result struct {
	Artifacts []capture.Artifact
	Missing   []comment.Missing
	Batch     *publish.Batch // nil when nothing was published
	Body      string         // rendered comment body
	CommentID int64          // 0 when no comment was written
	Created   bool           // the comment was created rather than edited
}

// DefaultOptions returns default options.
func DefaultOptions() *Options {
	return &Options{
		Engines:     []string{capture.DefaultEngine},
		Capture:     capture.DefaultOptions(),
		Publish:     publish.DefaultOptions(),
		Comment:     comment.DefaultOptions(),
		FailOnEmpty: true,
		Logging:     logging.DefaultConfig(),
		Clock:       time.Now,
	}
}

// NewRunner returns a runner with default options. store may be nil, in which
// case no comment is written.
func NewRunner(registry capture.Registry, backend publish.Backend, store comment.Store) *Runner {
	return NewRunnerWithOptions(registry, backend, store, *DefaultOptions())
}

// NewRunnerWithOptions returns a runner with the specified options.
func NewRunnerWithOptions(registry capture.Registry, backend publish.Backend, store comment.Store, options Options) *Runner {
	defaults := DefaultOptions()
	if len(options.Engines) == 0 {
		options.Engines = defaults.Engines
	}
	if options.Capture == nil {
		options.Capture = defaults.Capture
	}
	if options.Publish == nil {
		options.Publish = defaults.Publish
	}
	if options.Comment == nil {
		options.Comment = defaults.Comment
	}
	if options.Clock == nil {
		options.Clock = defaults.Clock
	}
	if options.Logging.Out == nil {
		options.Logging.Out = defaults.Logging.Out
	}
	if options.Logging.Level == logrus.PanicLevel {
		options.Logging.Level = defaults.Logging.Level
	}

	if options.Capture.Logger == nil {
		options.Capture.Logger = options.Logging.New("capture")
	}
	if options.Publish.Logger == nil {
		options.Publish.Logger = options.Logging.New("publish")
	}

	if options.DryRun {
		backend = publish.NewMemoryBackend("main")
		store = nil
	}

	return &Runner{
		Options:  &options,
		registry: registry,
		backend:  backend,
		store:    store,
		log:      options.Logging.New("runner"),
	}
}

// Run captures targets, publishes the artifacts as one batch and upserts the PR
// comment. Per-target capture failures only shrink the result. Publish and
// comment failures are returned as they are.
func (r *Runner) Run(ctx context.Context, run publish.RunContext, targets []capture.Target) (*Result, error) {
	if run.Timestamp.IsZero() {
		run.Timestamp = r.Options.Clock()
	}
	if err := run.Validate(); err != nil {
		return nil, err
	}
	if err := capture.ValidateTargets(targets); err != nil {
		return nil, err
	}

	logger := r.log.WithField("run", run.BatchDir())
	if r.Options.DryRun {
		logger.Info("dry run, nothing leaves this machine")
	}

	capturer := capture.NewCapturer(r.registry, r.Options.Capture)
	artifacts, err := capturer.Capture(ctx, r.Options.Engines, targets)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{
		Artifacts: artifacts,
		Missing:   missing(capturer.Known(r.Options.Engines), targets, artifacts),
	}

	report := comment.Report{Targets: targets, Missing: result.Missing, Run: run}

	if len(artifacts) == 0 {
		if r.Options.FailOnEmpty {
			return result, ErrNoArtifacts
		}
		logger.Warn("no screenshots were captured, nothing to publish")
	} else {
		publisher := publish.NewPublisher(r.backend, r.Options.Publish)
		batch, err := publisher.Publish(ctx, run, artifacts)
		if err != nil {
			return result, err
		}
		result.Batch = batch
		report.Published = batch.Artifacts
	}

	result.Body = comment.NewRenderer(r.Options.Comment).Render(report)

	if r.store == nil || run.Number == 0 {
		logger.Debug("no pull request to comment on")
		return result, nil
	}

	id, created, err := comment.Upsert(ctx, r.store, run.Number, result.Body, r.Options.Logging.New("comment"))
	if err != nil {
		return result, err
	}
	result.CommentID = id
	result.Created = created

	return result, nil
}

// missing lists the (target, engine) pairs without an artifact, engine by engine.
func missing(engines []string, targets []capture.Target, artifacts []capture.Artifact) []comment.Missing {
	type pair struct{ target, engine string }
	have := make(map[pair]bool, len(artifacts))
	for _, a := range artifacts {
		have[pair{a.TargetName, a.EngineName}] = true
	}

	var out []comment.Missing
	for _, e := range engines {
		for _, t := range targets {
			if !have[pair{t.Name, e}] {
				out = append(out, comment.Missing{TargetName: t.Name, EngineName: e})
			}
		}
	}
	return out
}
