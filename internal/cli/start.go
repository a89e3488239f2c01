package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/knowhub/internal/daemon"
)

var startCmd = &cobra.Command{
	Use:     "start",
	Aliases: []string{"serve"},
	Short:   "Start the knowhub service in the foreground",
	Long: `Start the knowhub service in the foreground.
The HTTP API, the health monitor and the prompt watcher run until SIGINT or
SIGTERM is received.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if running, pid := daemon.IsRunning(daemon.PIDFile(cfg.DataDir)); running {
		return fmt.Errorf("daemon is already running (PID %d)", pid)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		d.Close()
		return err
	}

	d.Wait()
	return nil
}
