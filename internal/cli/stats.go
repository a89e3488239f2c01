package cli

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/knowhub/pkg/metrics"
)

var statsRange string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show request statistics of the running service",
	Long: `Fetch windowed statistics and the derived health score from the running
service. Metrics live in memory, so the service must be running.`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsRange, "range", "1h", "time window: 1h, 24h or all")
	rootCmd.AddCommand(statsCmd)
}

type statsPayload struct {
	Range  metrics.Window       `json:"range"`
	Stats  metrics.Stats        `json:"stats"`
	Health metrics.HealthReport `json:"health"`
}

func runStats(cmd *cobra.Command, args []string) error {
	window, err := metrics.ParseWindow(statsRange)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	var payload statsPayload
	url := fmt.Sprintf("%s/api/monitoring/metrics?range=%s", apiBaseURL(cfg.Server.Addr), window)
	if err := getJSON(ctx, url, &payload); err != nil {
		return fmt.Errorf("failed to fetch metrics: %w", err)
	}

	out := cmd.OutOrStdout()
	s := payload.Stats
	fmt.Fprintf(out, "Window: %s\n", payload.Range)
	fmt.Fprintf(out, "Requests: %d\n", s.TotalRequests)
	fmt.Fprintf(out, "Success rate: %.1f%%\n", s.SuccessRate*100)
	fmt.Fprintf(out, "Error rate: %.1f%%\n", s.ErrorRate*100)
	fmt.Fprintf(out, "Avg response time: %.0fms\n", s.AvgResponseTimeMs)
	fmt.Fprintf(out, "Total tokens: %d\n", s.TotalTokens)
	for _, name := range slices.Sorted(maps.Keys(s.PerProviderUsage)) {
		fmt.Fprintf(out, "Provider %s: %d\n", name, s.PerProviderUsage[name])
	}
	fmt.Fprintf(out, "Health: %s (score %d)\n", payload.Health.Status, payload.Health.Score)
	for _, r := range payload.Health.Recommendations {
		fmt.Fprintf(out, "Recommendation: %s\n", r)
	}
	return nil
}
