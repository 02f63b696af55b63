package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"clawdash/internal/authstore"
	"clawdash/internal/config"
	"clawdash/internal/datalayer"
	"clawdash/internal/gateway"
	"clawdash/internal/logging"
	"clawdash/internal/logtail"
	"clawdash/internal/providers"
	"clawdash/internal/watch"
)

func main() {
	var (
		configPath  string
		smoke       bool
		serve       bool
		once        bool
		initConfig  bool
		printConfig bool
		verbose     bool
	)
	flag.StringVar(&configPath, "config", "", "path to clawdash.toml")
	flag.BoolVar(&smoke, "smoke", false, "run deterministic non-interactive smoke simulation")
	flag.BoolVar(&serve, "serve", false, "run headless command-bus driven session")
	flag.BoolVar(&once, "once", false, "print a single status report and exit")
	flag.BoolVar(&initConfig, "init-config", false, "write the default config file and exit")
	flag.BoolVar(&printConfig, "print-config", false, "print the resolved config and exit")
	flag.BoolVar(&verbose, "verbose", false, "start with the unfiltered log view")
	flag.Parse()

	// A missing .env is the normal case.
	_ = godotenv.Load()

	if initConfig {
		path, err := config.InitConfig(configPath)
		switch {
		case errors.Is(err, config.ErrExists):
			fmt.Printf("config already exists: %s\n", path)
		case err != nil:
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		default:
			fmt.Printf("wrote %s\n", path)
		}
		return
	}

	cfg, usedPath, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if printConfig {
		b, err := config.Marshal(cfg)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Stdout.Write(b)
		return
	}

	headless := once || !term.IsTerminal(int(os.Stdout.Fd()))
	closer, err := logging.Setup(logging.Options{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Console: headless || serve,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer closer.Close()
	log.Info().Str("config", nonEmpty(usedPath, "defaults")).Str("home", cfg.Paths.Home).Msg("clawdash starting")

	if smoke {
		code := smokeMain(cfg)
		closer.Close()
		os.Exit(code)
	}

	w := wire(cfg)
	defer w.close()

	if headless && !serve {
		if err := runOnce(context.Background(), w.data, os.Stdout, time.Now); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.data.Start(ctx)
	defer w.data.Stop()

	m := newAppModel(appConfigFor(cfg, verbose), w.deps())

	var opts []tea.ProgramOption
	if serve {
		opts = append(opts,
			tea.WithoutRenderer(),
			tea.WithInput(bytes.NewReader(nil)),
			tea.WithOutput(io.Discard),
		)
	} else {
		opts = append(opts, tea.WithAltScreen())
	}
	finalModel, err := tea.NewProgram(m, opts...).Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if am, ok := finalModel.(appModel); ok {
		writeSessionSummary(am)
	}
}

func appConfigFor(cfg *config.Config, verbose bool) appConfig {
	return appConfig{
		stateDir:        cfg.Paths.StateDir,
		commandsPath:    filepath.Join(cfg.Paths.StateDir, "commands.jsonl"),
		refreshInterval: cfg.Poll.RefreshInterval,
		healthInterval:  cfg.Poll.HealthInterval,
		drainInterval:   cfg.Poll.LogDrainInterval,
		logLines:        cfg.UI.LogLines,
		verbose:         verbose || cfg.UI.Verbose,
	}
}

// wiring holds the long-lived collaborators built from the config.
type wiring struct {
	client   *gateway.Client
	store    *authstore.Store
	queue    *logtail.Queue
	registry *providers.Registry
	data     *datalayer.DataLayer
	watcher  *watch.Watcher
}

func wire(cfg *config.Config) wiring {
	return wireWithRunner(cfg, gateway.ExecRunner{}, time.Now)
}

func wireWithRunner(cfg *config.Config, r gateway.Runner, now func() time.Time) wiring {
	client := gateway.NewClient(r, cfg.Gateway.Binary, cfg.Gateway.RestartCommand, gateway.Timeouts{
		Status:   cfg.Gateway.StatusTimeout,
		Health:   cfg.Gateway.HealthTimeout,
		Version:  cfg.Gateway.VersionTimeout,
		SetModel: cfg.Gateway.SetModelTimeout,
		Login:    cfg.Gateway.LoginTimeout,
		Restart:  cfg.Gateway.RestartTimeout,
	})
	store := authstore.NewStore(cfg.Paths.AuthProfiles)
	q := logtail.NewQueue(cfg.Tailer.QueueCapacity)
	tailer := logtail.NewTailer(q, logtail.Options{
		Dir:          cfg.Paths.LogDir,
		FileWait:     cfg.Tailer.FileWait,
		IdleWait:     cfg.Tailer.IdleWait,
		ErrorBackoff: cfg.Tailer.ErrorBackoff,
		Now:          now,
	})
	w := wiring{
		client:   client,
		store:    store,
		queue:    q,
		registry: providers.NewRegistry(cfg.Paths.OpenClawConfig, store),
		data: datalayer.New(datalayer.Options{
			Status:   client,
			Health:   client,
			Profiles: store,
			Queue:    q,
			Tailer:   tailer,
			Now:      now,
		}),
	}
	if cfg.UI.WatchFiles {
		watched := []string{cfg.Paths.OpenClawConfig, cfg.Paths.AuthProfiles}
		watcher, err := watch.New(watch.DefaultDebounce, watched...)
		if err != nil {
			log.Warn().Err(err).Strs("paths", watched).Msg("file watching disabled")
		} else {
			w.watcher = watcher
		}
	}
	return w
}

func (w wiring) deps() appDeps {
	d := appDeps{
		data:      w.data,
		gateway:   w.client,
		cooldowns: w.store,
		providers: w.registry,
	}
	if w.watcher != nil {
		d.changes = w.watcher.Changes()
	}
	return d
}

func (w wiring) close() {
	if w.watcher != nil {
		_ = w.watcher.Close()
	}
}
