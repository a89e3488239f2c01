package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/knowhub/pkg/toolserver"
)

var pingDetails bool

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Call the tool server health check",
	Long:  `Connect to the configured tool server and call its healthCheck tool.`,
	RunE:  runPing,
}

func init() {
	pingCmd.Flags().BoolVar(&pingDetails, "details", false, "ask the tool server for detailed health")
	rootCmd.AddCommand(pingCmd)
}

func runPing(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client := toolserver.New(toolserver.Config{
		URL:            cfg.ToolServer.URL,
		ConnectTimeout: cfg.ToolServer.ConnectTimeout,
		CallTimeout:    cfg.ToolServer.CallTimeout,
	}, toolserver.WithLogger(zerolog.Nop()))
	defer client.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.ToolServer.ConnectTimeout+cfg.ToolServer.CallTimeout)
	defer cancel()

	started := time.Now()
	resp, err := client.Ping(ctx, pingDetails)
	if err != nil {
		return fmt.Errorf("tool server %s unreachable: %w", cfg.ToolServer.URL, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Tool server %s answered in %s\n", cfg.ToolServer.URL, time.Since(started).Round(time.Millisecond))
	if resp.IsError {
		return fmt.Errorf("health check failed: %s", resp.Text)
	}
	if len(resp.Data) > 0 {
		var pretty bytes.Buffer
		if json.Indent(&pretty, resp.Data, "", "  ") == nil {
			fmt.Fprintln(out, pretty.String())
			return nil
		}
	}
	fmt.Fprintln(out, resp.Text)
	return nil
}
