//go:build linux

package cmd

import (
	"os"

	"github.com/smazurov/devnoded/internal/logging"
	"github.com/smazurov/devnoded/internal/worker"
	"github.com/spf13/cobra"
)

// CreateWorkerCmd creates the "worker" command the daemon execs per event
// (spec §4.I/§6). It never runs standalone in production; argv[1] is the
// subsystem, and the event itself is reconstructed from the inherited
// environment.
func CreateWorkerCmd() *cobra.Command {
	var devRoot, recordDir, configPath string

	cmd := &cobra.Command{
		Use:    "worker <subsystem>",
		Short:  "Resolve and apply a single device event (internal, exec'd by the daemon)",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			logger := logging.GetLogger("worker")
			err := worker.Run(worker.Options{
				Subsystem:  args[0],
				Env:        os.Environ(),
				ConfigPath: configPath,
				DevRoot:    devRoot,
				RecordDir:  recordDir,
				Logger:     logger,
			})
			if err != nil {
				logger.Error("worker failed", "error", err)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&devRoot, "dev-root", "/dev", "root directory for device nodes")
	cmd.Flags().StringVar(&recordDir, "record-dir", "/run/devnoded/records", "directory for per-device undo records")
	cmd.Flags().StringVar(&configPath, "config", os.Getenv("DEVNODED_CONFIG"), "daemon TOML config file, for rules/permissions")
	return cmd
}
