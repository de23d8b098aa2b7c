package main

import (
	"context"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/smazurov/devnoded/cmd"
	"github.com/smazurov/devnoded/internal/config"
	"github.com/smazurov/devnoded/internal/daemon"
	"github.com/smazurov/devnoded/internal/introspect"
	"github.com/smazurov/devnoded/internal/logging"
	"github.com/smazurov/devnoded/internal/recordstore"
)

// Options is the daemon's flat, TOML/env/CLI-mapped configuration struct,
// in the same style as this repo's original streaming-server Options: one
// struct, dotted toml paths, explicit env overrides. Most fields mirror
// daemon.Config directly; the literal UDEVD_*/UDEV_BIN/DEBUG names spec §5
// mandates are carried on daemon.Config itself and merged in separately
// with an empty env prefix (see the second LoadConfig call in main below).
type Options struct {
	Config string `help:"Path to the daemon's TOML config file" short:"c" default:"/etc/devnoded/devnoded.toml"`

	IntrospectAddr string `help:"Loopback address for the read-only introspection API" default:"127.0.0.1:8984" toml:"introspect_addr" env:"DEVNODED_INTROSPECT_ADDR"`

	DevRoot   string `help:"Root directory for device nodes" default:"/dev" toml:"dev_root" env:"DEVNODED_DEV_ROOT"`
	RecordDir string `help:"Directory for per-device undo records" default:"/run/devnoded/records" toml:"record_dir" env:"DEVNODED_RECORD_DIR"`

	ColdplugSubsystems []string `help:"Subsystems to enumerate at startup (coldplug)" toml:"coldplug_subsystems" env:"DEVNODED_COLDPLUG_SUBSYSTEMS"`

	LoggingLevel   string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"DEVNODED_LOGGING_LEVEL"`
	LoggingFormat  string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"DEVNODED_LOGGING_FORMAT"`
	LoggingQueue   string `help:"Event queue logging level" default:"info" toml:"logging.queue" env:"DEVNODED_LOGGING_QUEUE"`
	LoggingExec    string `help:"Execution queue logging level" default:"info" toml:"logging.exec" env:"DEVNODED_LOGGING_EXEC"`
	LoggingNetlink string `help:"Netlink socket logging level" default:"info" toml:"logging.netlink" env:"DEVNODED_LOGGING_NETLINK"`
	LoggingHelper  string `help:"Helper socket logging level" default:"info" toml:"logging.helper" env:"DEVNODED_LOGGING_HELPER"`
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, nil, ""); loadErr != nil {
			panic(loadErr)
		}

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"queue":   opts.LoggingQueue,
				"exec":    opts.LoggingExec,
				"netlink": opts.LoggingNetlink,
				"helper":  opts.LoggingHelper,
			},
		})
		logger := logging.GetLogger("main")

		cfg := daemon.Config{Config: opts.Config}
		if loadErr := config.LoadConfig(&cfg, nil, ""); loadErr != nil {
			logger.Warn("failed to load daemon config", "error", loadErr)
		}
		if cfg.DevRoot == "" {
			cfg.DevRoot = opts.DevRoot
		}
		if cfg.RecordDir == "" {
			cfg.RecordDir = opts.RecordDir
		}
		if cfg.ColdplugSubsystems == nil {
			cfg.ColdplugSubsystems = opts.ColdplugSubsystems
		}

		d := daemon.New(cfg)

		recordStore, storeErr := recordstore.New(cfg.RecordDir, '!')
		if storeErr != nil {
			logger.Warn("introspection record store unavailable", "error", storeErr)
			recordStore = nil
		}

		introspectServer := introspect.New(daemonSnapshotAdapter{d}, recordStore, d.Metrics().Registry)

		var watcher *config.Watcher[daemon.Config]
		if cfg.Config != "" {
			watcher = config.NewConfigWatcher(cfg.Config, loadDaemonConfigFile, logger)
			watcher.OnReload(d.ReloadTunables)
		}

		hooks.OnStart(func() {
			go func() {
				if runErr := d.Run(); runErr != nil {
					logger.Error("daemon event loop exited", "error", runErr)
					os.Exit(1)
				}
			}()

			if watcher != nil {
				if startErr := watcher.Start(); startErr != nil {
					logger.Warn("config file watcher unavailable", "error", startErr)
				}
			}

			addr := opts.IntrospectAddr
			if addr == "" {
				addr = cfg.IntrospectAddr
			}
			logger.Info("starting introspection API", "addr", addr)
			if startErr := introspectServer.Start(addr); startErr != nil {
				logger.Error("introspection API exited", "error", startErr)
			}
		})

		hooks.OnStop(func() {
			logger.Info("shutting down")
			if watcher != nil {
				if stopErr := watcher.Stop(); stopErr != nil {
					logger.Warn("error stopping config watcher", "error", stopErr)
				}
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if stopErr := introspectServer.Stop(ctx); stopErr != nil {
				logger.Warn("error stopping introspection API", "error", stopErr)
			}
			d.Shutdown()
		})
	})

	cli.Root().AddCommand(cmd.CreateWorkerCmd())
	cli.Root().AddCommand(cmd.CreateCtlCmd())

	cli.Run()
}

// loadDaemonConfigFile re-parses the daemon's TOML file for config.Watcher,
// whose loader signature takes just the path. Only the handful of fields
// Daemon.ReloadTunables actually applies matter here; the rest of the
// freshly-loaded Config is discarded by the caller.
func loadDaemonConfigFile(path string) (daemon.Config, error) {
	cfg := daemon.Config{Config: path}
	err := config.LoadConfig(&cfg, nil, "")
	return cfg, err
}

// daemonSnapshotAdapter adapts daemon.Snapshot to introspect.Snapshot so
// the introspect package doesn't need to import internal/daemon.
type daemonSnapshotAdapter struct {
	d *daemon.Daemon
}

func (a daemonSnapshotAdapter) Snapshot() introspect.Snapshot {
	s := a.d.Snapshot()
	return introspect.Snapshot{
		OrderingQueueDepth: s.OrderingQueueDepth,
		ExecQueueDepth:     s.ExecQueueDepth,
		WorkersRunning:     s.WorkersRunning,
		ExecQueueStopped:   s.ExecQueueStopped,
		ExpectedSeqnum:     s.ExpectedSeqnum,
	}
}
