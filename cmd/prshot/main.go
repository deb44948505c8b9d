package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/root4loot/goutils/log"
	"github.com/root4loot/prshot"
	"github.com/root4loot/prshot/pkg/comment"
	"github.com/root4loot/prshot/pkg/config"
	"github.com/root4loot/prshot/pkg/engines"
	"github.com/root4loot/prshot/pkg/ghapi"
	"github.com/root4loot/prshot/pkg/logging"
	"github.com/root4loot/prshot/pkg/publish"
	"github.com/sirupsen/logrus"
)

const (
	version = "0.1.0"
	usage   = `USAGE:
  prshot [options]

INPUT:
  -c,   --config          config file                                       (Default: .prshot.yml)
  -b,   --browsers        engines to use, comma separated                   (Default: from config)
                          chromium, chrome, firefox, webkit
  -pr,  --pull-request    pull request to comment on                        (Default: from environment)

CONFIGURATIONS:
  -br,  --branch          content branch for screenshots                    (Default: prshot-screenshots)
  -p,   --parallel        run engines in parallel                           (Default: false)
  -cp,  --caption         stamp target and engine onto images               (Default: false)
  -bp,  --browser-path    use this browser executable                       (Default: auto)
  -ua,  --user-agent      specify user agent                                (Default: browser UA)
        --dry-run         capture and render, but publish nothing

OUTPUT:
  -o,   --outfolder       scratch folder for screenshots                    (Default: new $TMPDIR/prshot-*)
        --print           print the rendered comment
        --ci              GitHub Actions log output                         (Default: $CI)
        --debug           enable debug mode
        --version         display version
`
)

type cli struct {
	ConfigPath  string
	Browsers    string
	PullRequest int
	Branch      string
	Parallel    bool
	Caption     bool
	BrowserPath string
	UserAgent   string
	DryRun      bool
	OutputDir   string
	Print       bool
	CI          bool
	Debug       bool
	Help        bool
	Version     bool
}

func newCLI() *cli {
	return &cli{ConfigPath: config.DefaultPath}
}

func main() {
	os.Exit(run())
}

func run() int {
	log.Init("prshot")

	c := newCLI()
	if err := c.parseFlags(os.Args[1:]); err != nil {
		log.Errorf("%v", err)
		fmt.Print(usage)
		return 2
	}

	if c.Help {
		fmt.Print(usage)
		return 0
	}
	if c.Version {
		fmt.Println("prshot", version)
		return 0
	}
	if c.Debug {
		log.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(c.ConfigPath)
	if err != nil {
		log.Errorf("Could not load config: %v", err)
		return 1
	}
	env, err := config.ReadEnv()
	if err != nil {
		log.Errorf("%v", err)
		return 1
	}
	c.apply(cfg, env)

	if c.DryRun && env.Repository == "" {
		env.Repository = "local/" + workingDirName()
	}
	runCtx, err := env.RunContext(time.Now())
	if err != nil {
		log.Errorf("%v", err)
		return 1
	}

	var (
		backend publish.Backend
		store   comment.Store
	)
	if !c.DryRun {
		if env.Token == "" {
			log.Error("GITHUB_TOKEN is not set (use --dry-run to capture without publishing)")
			return 1
		}
		client, err := ghapi.New(env.Token, runCtx.Owner, runCtx.Repo, env.APIURL)
		if err != nil {
			log.Errorf("%v", err)
			return 1
		}
		backend, store = client, client
	}

	registry := engines.Default(c.engineOptions())
	runner := prshot.NewRunnerWithOptions(registry, backend, store, *c.runnerOptions(cfg, c.CI || env.CI))

	log.Debugf("Capturing %d targets with %s", len(cfg.Targets), strings.Join(cfg.Browsers, ", "))
	result, err := runner.Run(ctx, runCtx, cfg.Targets)

	switch {
	case ctx.Err() != nil:
		log.Warn("Interrupted")
		return 130
	case errors.Is(err, prshot.ErrNoArtifacts):
		log.Errorf("No screenshots were captured (%d failed)", len(result.Missing))
		return 1
	case err != nil:
		log.Errorf("%v", err)
		return 1
	}

	if c.Print {
		fmt.Print(result.Body)
	}
	if result.Batch != nil {
		for _, p := range result.Batch.Artifacts {
			log.Resultf("%s · %s %s", p.TargetName, p.EngineName, p.PublicURL)
		}
	}
	for _, m := range result.Missing {
		log.Warnf("No screenshot for %s · %s", m.TargetName, m.EngineName)
	}
	switch {
	case result.CommentID == 0:
	case result.Created:
		log.Resultf("Comment %d created on #%d", result.CommentID, runCtx.Number)
	default:
		log.Resultf("Comment %d updated on #%d", result.CommentID, runCtx.Number)
	}

	return 0
}

// parseFlags parses the command line options
func (c *cli) parseFlags(args []string) error {
	fs := flag.NewFlagSet("prshot", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	// INPUT
	fs.StringVar(&c.ConfigPath, "config", c.ConfigPath, "")
	fs.StringVar(&c.ConfigPath, "c", c.ConfigPath, "")
	fs.StringVar(&c.Browsers, "browsers", "", "")
	fs.StringVar(&c.Browsers, "b", "", "")
	fs.IntVar(&c.PullRequest, "pull-request", 0, "")
	fs.IntVar(&c.PullRequest, "pr", 0, "")

	// CONFIGURATIONS
	fs.StringVar(&c.Branch, "branch", "", "")
	fs.StringVar(&c.Branch, "br", "", "")
	fs.BoolVar(&c.Parallel, "parallel", false, "")
	fs.BoolVar(&c.Parallel, "p", false, "")
	fs.BoolVar(&c.Caption, "caption", false, "")
	fs.BoolVar(&c.Caption, "cp", false, "")
	fs.StringVar(&c.BrowserPath, "browser-path", "", "")
	fs.StringVar(&c.BrowserPath, "bp", "", "")
	fs.StringVar(&c.UserAgent, "user-agent", "", "")
	fs.StringVar(&c.UserAgent, "ua", "", "")
	fs.BoolVar(&c.DryRun, "dry-run", false, "")

	// OUTPUT
	fs.StringVar(&c.OutputDir, "outfolder", "", "")
	fs.StringVar(&c.OutputDir, "o", "", "")
	fs.BoolVar(&c.Print, "print", false, "")
	fs.BoolVar(&c.CI, "ci", false, "")
	fs.BoolVar(&c.Debug, "debug", false, "")
	fs.BoolVar(&c.Help, "help", false, "")
	fs.BoolVar(&c.Help, "h", false, "")
	fs.BoolVar(&c.Version, "version", false, "")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return nil
}

// apply lets flags and environment override the config file.
// Flags win over PRSHOT_* variables, which win over the file.
func (c *cli) apply(cfg *config.Config, env *config.Env) {
	if c.Browsers != "" {
		cfg.Browsers = config.Browsers(strings.Split(c.Browsers, ","))
	}

	if env.Branch != "" {
		cfg.Branch = env.Branch
	}
	if c.Branch != "" {
		cfg.Branch = c.Branch
	}
	if c.PullRequest > 0 {
		env.PRNumber = c.PullRequest
	}
	if c.Parallel {
		cfg.Parallel = true
	}
	if c.Caption {
		cfg.Caption = true
	}
}

func (c *cli) engineOptions() *engines.Options {
	opts := engines.DefaultOptions()
	opts.BrowserPath = c.BrowserPath
	opts.UserAgent = c.UserAgent
	return opts
}

func (c *cli) runnerOptions(cfg *config.Config, ci bool) *prshot.Options {
	opts := prshot.DefaultOptions()
	opts.Engines = cfg.Browsers
	opts.Capture.Caption = cfg.Caption
	opts.Capture.Parallel = cfg.Parallel
	if c.OutputDir != "" {
		opts.Capture.OutputDir = c.OutputDir
	}
	opts.Publish.Branch = cfg.Branch
	opts.Publish.RawBaseURL = cfg.RawBaseURL
	commentOptions := cfg.Comment
	opts.Comment = &commentOptions
	opts.FailOnEmpty = cfg.FailOnEmpty
	opts.DryRun = c.DryRun

	if ci {
		opts.Logging.Mode = logging.ModeCI
	}
	if c.Debug {
		opts.Logging.Level = logrus.DebugLevel
	}
	return opts
}

func workingDirName() string {
	wd, err := os.Getwd()
	if err != nil {
		return "prshot"
	}
	return filepath.Base(wd)
}
