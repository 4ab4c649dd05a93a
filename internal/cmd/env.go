package cmd

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/peterje/rootrepl/internal/backend"
	"github.com/peterje/rootrepl/internal/config"
	"github.com/peterje/rootrepl/internal/db"
	"github.com/peterje/rootrepl/internal/history"
	"github.com/peterje/rootrepl/internal/logging"
	"github.com/peterje/rootrepl/internal/prompt"
	ptymgr "github.com/peterje/rootrepl/internal/pty"
	"github.com/peterje/rootrepl/internal/repl"
	"github.com/peterje/rootrepl/internal/shepherd"
	"github.com/peterje/rootrepl/internal/tmux"
)

const defaultSession = "main"

// env is everything a command needs, built from config and flags.
type env struct {
	cfg      config.Config
	log      *logging.Logger
	marker   *prompt.Marker
	registry *backend.Registry
	repls    map[backend.ID]*repl.REPL

	// pty is the PTY session manager, nil unless a pty backend is registered.
	pty      ptymgr.SessionManager
	shepherd *shepherd.Client
	db       *sql.DB
	history  *history.Store

	flushSentry func()
}

// loadConfig reads config and applies global flags, then sets up logging.
func loadConfig() (config.Config, *logging.Logger, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, nil, nil, err
	}
	if backendFlag != "" {
		cfg.Backend = backendFlag
		if err := cfg.Validate(); err != nil {
			return cfg, nil, nil, err
		}
	}
	if cfg.WorkDir == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.WorkDir = wd
		}
	}

	log := logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	flush, err := logging.InitSentry(logging.SentryConfig{DSN: cfg.Sentry.DSN, Environment: cfg.Sentry.Environment})
	if err != nil {
		log.Warn("sentry disabled", "error", err)
		flush = func() {}
	}
	return cfg, log, flush, nil
}

type envOptions struct {
	// all registers every backend rather than only the configured one.
	all bool
	// inProcess hosts PTY sessions in this process when the shepherd is
	// unreachable instead of failing.
	inProcess bool
}

func newEnv(opts envOptions) (*env, error) {
	cfg, log, flush, err := loadConfig()
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, log: log, flushSentry: flush, repls: make(map[backend.ID]*repl.REPL)}

	e.marker, err = cfg.Marker()
	if err != nil {
		e.Close()
		return nil, err
	}

	var backends []backend.Backend
	if opts.all || cfg.Backend == string(backend.PTY) {
		if err := e.connectPTY(opts.inProcess); err != nil {
			e.Close()
			return nil, err
		}
		backends = append(backends, backend.NewPTYBackend(e.pty, e.marker))
	}
	if opts.all || cfg.Backend == string(backend.Tmux) {
		backends = append(backends, backend.NewTmuxBackend(tmux.NewTmuxRunner(), cfg.Tmux.Prefix, cfg.Tmux.LogDir, e.marker))
	}
	e.registry = backend.NewRegistry(backends...)

	if cfg.History.Enabled {
		if err := e.openHistory(); err != nil {
			log.Warn("history disabled", "path", cfg.History.Path, "error", err)
		}
	}

	replOpts := replOptions(cfg)
	for _, id := range e.registry.IDs() {
		b, _ := e.registry.Resolve(string(id))
		r := repl.New(b, e.marker, replOpts, log)
		if e.history != nil {
			r.WithRecorder(e.history)
		}
		e.repls[id] = r
	}
	return e, nil
}

func (e *env) openHistory() error {
	database, err := db.OpenAndMigrate(e.cfg.History.Path)
	if err != nil {
		return err
	}
	e.db = database
	e.history = history.New(database)
	return nil
}

func (e *env) connectPTY(inProcess bool) error {
	client, err := shepherd.ConnectOrStart(e.cfg.Shepherd.Socket, e.log)
	if err == nil {
		e.shepherd = client
		e.pty = client
		return nil
	}
	if !inProcess {
		return fmt.Errorf("shepherd unavailable: %w", err)
	}
	e.log.Warn("shepherd unavailable, hosting sessions in-process", "error", err)
	e.pty = ptymgr.NewManager()
	return nil
}

func replOptions(cfg config.Config) repl.Options {
	return repl.Options{
		Start: backend.StartOptions{
			Executable: cfg.Executable,
			Args:       cfg.Args,
			WorkDir:    cfg.WorkDir,
		},
		Capture: repl.CaptureOptions{
			Mode:    cfg.Capture.Mode,
			Delay:   cfg.Capture.Delay.Duration,
			Poll:    cfg.Capture.Poll.Duration,
			Timeout: cfg.Capture.Timeout.Duration,
		},
		Rootrc: repl.RootrcOptions{
			Enabled: cfg.Rootrc.Enabled,
			Path:    cfg.Rootrc.Path,
			Hold:    cfg.Rootrc.Hold.Duration,
		},
	}
}

// current returns the REPL for the configured backend.
func (e *env) current() *repl.REPL {
	return e.repls[backend.ID(e.cfg.Backend)]
}

func (e *env) Close() {
	if e.shepherd != nil {
		e.shepherd.Close()
	}
	if e.db != nil {
		e.db.Close()
	}
	if e.flushSentry != nil {
		e.flushSentry()
	}
}
