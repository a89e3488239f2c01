package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/knowhub/internal/daemon"
	"github.com/harun/knowhub/pkg/health"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show service status",
	Long:  `Show whether the knowhub service is running and, if so, its health report.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	pidFile := daemon.PIDFile(cfg.DataDir)

	running, pid := daemon.IsRunning(pidFile)
	if !running {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}

	fmt.Fprintln(out, "Status: running")
	fmt.Fprintf(out, "PID: %d\n", pid)
	if info, err := os.Stat(pidFile); err == nil {
		fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Since(info.ModTime())))
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	var report health.Report
	if err := getJSON(ctx, apiBaseURL(cfg.Server.Addr)+"/api/health", &report); err != nil {
		fmt.Fprintf(out, "Health: unavailable (%v)\n", err)
		return nil
	}
	printHealth(out, report)
	return nil
}

func printHealth(out io.Writer, report health.Report) {
	fmt.Fprintf(out, "Health: %s (score %d)\n", report.Status, report.Metrics.Score)
	fmt.Fprintf(out, "Tool server: %s connected=%t latency=%dms\n",
		report.ToolServer.URL, report.ToolServer.Connected, report.ToolServer.LatencyMs)
	if report.ToolServer.Error != "" {
		fmt.Fprintf(out, "Tool server error: %s\n", report.ToolServer.Error)
	}
	for _, t := range report.Tiers {
		fmt.Fprintf(out, "Tier: %s %s/%s (%s)\n", t.Name, t.Provider, t.Model, t.Role)
	}
	for _, r := range report.Metrics.Recommendations {
		fmt.Fprintf(out, "Recommendation: %s\n", r)
	}
}

// getJSON decodes a JSON response. Bodies of non-2xx responses other than
// 503 are reported as errors; a 503 still carries a health report.
func getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusServiceUnavailable {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: %s", resp.Status, body)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
