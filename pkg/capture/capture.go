// Package capture drives browser engines over a list of targets and writes one
// PNG artifact per successful (target, engine) pair.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/root4loot/prshot/pkg/logging"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Options contains options for the Capturer.
type Options struct {
	OutputDir         string        // Scratch directory for artifacts, a fresh temp folder per Capture when empty
	NavigationTimeout time.Duration // Upper bound for load + network idle
	SelectorTimeout   time.Duration // Upper bound for a target's wait selector
	ActionTimeout     time.Duration // Upper bound for each click, fill or wait-for-selector step
	Caption           bool          // Stamp "<target> · <engine>" beneath each image
	Parallel          bool          // Run engines concurrently instead of one after another
	Logger            *logrus.Entry
}

// DefaultOptions returns default options.
func DefaultOptions() *Options {
	return &Options{
		NavigationTimeout: 30 * time.Second,
		SelectorTimeout:   10 * time.Second,
		ActionTimeout:     30 * time.Second,
	}
}

// Capturer produces artifacts for targets across engines.
type Capturer struct {
	Options  *Options
	registry Registry
	log      *logrus.Entry
}

// NewCapturer returns a Capturer using the given engine registry.
func NewCapturer(registry Registry, options *Options) *Capturer {
	if options == nil {
		options = DefaultOptions()
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.New("capture", logging.ModeInteractive)
	}
	return &Capturer{
		Options:  options,
		registry: registry,
		log:      logger,
	}
}

// Known returns the engines in names that the registry can launch, in the given
// order with repeats dropped. An empty list means DefaultEngine.
func (c *Capturer) Known(names []string) []string {
	if len(names) == 0 {
		names = []string{DefaultEngine}
	}

	var known []string
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if _, ok := c.registry[name]; ok && !seen[name] {
			seen[name] = true
			known = append(known, name)
		}
	}
	return known
}

// Capture renders every target with every engine. Artifacts are ordered by engine
// (in the order given) and then by target. A failing pair is logged and skipped;
// the returned error only reports invalid input or an unusable output directory.
func (c *Capturer) Capture(ctx context.Context, engines []string, targets []Target) ([]Artifact, error) {
	if err := ValidateTargets(targets); err != nil {
		return nil, err
	}
	dir, err := c.outputDir()
	if err != nil {
		return nil, fmt.Errorf("create output folder: %w", err)
	}

	if len(engines) == 0 {
		engines = []string{DefaultEngine}
	}
	for _, name := range engines {
		if _, ok := c.registry[name]; !ok {
			c.log.WithField("engine", name).Warn("unknown engine, skipping")
		}
	}
	known := c.Known(engines)

	perEngine := make([][]Artifact, len(known))
	if c.Options.Parallel {
		// Engine failures stay per pair; the group only reports cancellation.
		var g errgroup.Group
		for i, name := range known {
			g.Go(func() error {
				perEngine[i] = c.runEngine(ctx, dir, name, targets)
				return ctx.Err()
			})
		}
		if err := g.Wait(); err != nil {
			c.log.WithError(err).Warn("capture cancelled")
		}
	} else {
		for i, name := range known {
			if ctx.Err() != nil {
				break
			}
			perEngine[i] = c.runEngine(ctx, dir, name, targets)
		}
	}

	var artifacts []Artifact
	for _, a := range perEngine {
		artifacts = append(artifacts, a...)
	}

	c.log.WithFields(logrus.Fields{
		"artifacts": len(artifacts),
		"expected":  len(known) * len(targets),
	}).Info("capture finished")

	return artifacts, nil
}

// runEngine launches one browser and captures every target in it sequentially.
// The browser is always closed before returning.
func (c *Capturer) runEngine(ctx context.Context, dir, engine string, targets []Target) []Artifact {
	logger := c.log.WithField("engine", engine)
	logger.Debug("launching browser")

	browser, err := c.registry[engine].Launch(ctx)
	if err != nil {
		c.logFailure(&StageError{Stage: StageLaunch, Engine: engine, Err: err})
		return nil
	}
	defer func() {
		if err := browser.Close(); err != nil {
			logger.WithError(err).Warn("could not close browser")
		}
	}()

	var artifacts []Artifact
	for _, t := range targets {
		if ctx.Err() != nil {
			logger.Warn("capture cancelled")
			break
		}

		a, err := c.captureTarget(ctx, browser, dir, engine, t)
		if err != nil {
			c.logFailure(err)
			continue
		}

		logger.WithFields(logrus.Fields{"target": t.Name, "path": a.LocalPath}).Info("screenshot saved")
		artifacts = append(artifacts, a)
	}

	return artifacts
}

func (c *Capturer) captureTarget(ctx context.Context, browser Browser, dir, engine string, t Target) (a Artifact, err error) {
	fail := func(stage Stage, err error) (Artifact, error) {
		return Artifact{}, &StageError{Stage: stage, Target: t.Name, Engine: engine, Err: err}
	}
	logger := c.log.WithFields(logrus.Fields{"engine": engine, "target": t.Name})

	viewport := t.Viewport.WithDefaults()
	bctx, err := browser.NewContext(ctx, viewport)
	if err != nil {
		return fail(StageContext, err)
	}
	defer closeQuietly(bctx, logger)

	page, err := bctx.NewPage(ctx)
	if err != nil {
		return fail(StageContext, err)
	}
	defer closeQuietly(page, logger)

	logger.WithField("url", t.URL).Debug("navigating")
	if err := c.withTimeout(ctx, c.Options.NavigationTimeout, func(ctx context.Context) error {
		return page.Goto(ctx, t.URL)
	}); err != nil {
		return fail(StageNavigate, err)
	}

	if t.WaitSelector != "" {
		err := c.withTimeout(ctx, c.Options.SelectorTimeout, func(ctx context.Context) error {
			return page.WaitForSelector(ctx, t.WaitSelector)
		})
		if err != nil {
			if ctx.Err() != nil {
				return fail(StageWaitSelector, ctx.Err())
			}
			// A wait selector that never shows up is not fatal.
			logger.WithError(err).WithField("selector", t.WaitSelector).Warn("wait selector not visible, capturing anyway")
		}
	}

	if t.WaitMillis > 0 {
		if err := sleep(ctx, time.Duration(t.WaitMillis)*time.Millisecond); err != nil {
			return fail(StageWait, err)
		}
	}

	for i, s := range t.Steps {
		logger.WithField("step", i).Debugf("running %s step", s.Kind())
		if err := c.runStep(ctx, page, s); err != nil {
			return fail(StageStep, fmt.Errorf("step %d (%s): %w", i, s.Kind(), err))
		}
	}

	img, err := page.Screenshot(ctx, t.FullPage)
	if err != nil {
		return fail(StageScreenshot, err)
	}

	if c.Options.Caption {
		img, err = Caption(img, t.Name+" · "+engine, viewport.PixelDensity)
		if err != nil {
			return fail(StageCaption, err)
		}
	}

	path := filepath.Join(dir, FileName(t.Name, engine))
	if err := os.WriteFile(path, img, 0o644); err != nil {
		return fail(StageWrite, err)
	}

	return Artifact{TargetName: t.Name, EngineName: engine, LocalPath: path}, nil
}

func (c *Capturer) runStep(ctx context.Context, page Page, s Step) error {
	switch s := s.(type) {
	case Click:
		return c.withTimeout(ctx, c.Options.ActionTimeout, func(ctx context.Context) error {
			return page.Click(ctx, s.Selector)
		})
	case Fill:
		return c.withTimeout(ctx, c.Options.ActionTimeout, func(ctx context.Context) error {
			return page.Fill(ctx, s.Selector, s.Text)
		})
	case WaitForSelector:
		return c.withTimeout(ctx, c.Options.ActionTimeout, func(ctx context.Context) error {
			return page.WaitForSelector(ctx, s.Selector)
		})
	case Wait:
		return sleep(ctx, time.Duration(s.Millis)*time.Millisecond)
	default:
		return fmt.Errorf("unsupported step %T", s)
	}
}

// outputDir returns the configured folder, or a new temp folder so that
// concurrent runs never share artifact paths.
func (c *Capturer) outputDir() (string, error) {
	if c.Options.OutputDir == "" {
		return os.MkdirTemp("", "prshot-")
	}
	if err := os.MkdirAll(c.Options.OutputDir, os.ModePerm); err != nil {
		return "", err
	}
	return c.Options.OutputDir, nil
}

// withTimeout runs fn under a deadline of d. Running past the deadline is reported as ErrTimeout.
func (c *Capturer) withTimeout(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	err := fn(tctx)
	if err == nil || ctx.Err() != nil {
		return err
	}
	if errors.Is(tctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %v: %v", ErrTimeout, d, err)
	}
	return err
}

func (c *Capturer) logFailure(err error) {
	var se *StageError
	if !errors.As(err, &se) {
		c.log.WithError(err).Error("capture failed")
		return
	}

	fields := logrus.Fields{"engine": se.Engine, "stage": se.Stage}
	if se.Target != "" {
		fields["target"] = se.Target
	}
	entry := c.log.WithFields(fields).WithError(se.Err)
	if errors.Is(se.Err, ErrTimeout) {
		entry.Warn("capture timed out")
		return
	}
	entry.Error("capture failed")
}

type closer interface {
	Close() error
}

func closeQuietly(c closer, logger *logrus.Entry) {
	if err := c.Close(); err != nil {
		logger.WithError(err).Debug("close failed")
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
