package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		stats  Stats
		score  int
		status HealthStatus
		recs   int
	}{
		{
			name:   "no traffic is healthy",
			stats:  Stats{},
			score:  100,
			status: StatusHealthy,
		},
		{
			name:   "all good",
			stats:  Stats{SuccessRate: 0.99, ErrorRate: 0.01, AvgResponseTimeMs: 1200},
			score:  100,
			status: StatusHealthy,
		},
		{
			name:   "elevated errors and slow",
			stats:  Stats{SuccessRate: 0.93, ErrorRate: 0.07, AvgResponseTimeMs: 3500},
			score:  65,
			status: StatusWarning,
			recs:   3,
		},
		{
			name:   "everything failing",
			stats:  Stats{SuccessRate: 0.5, ErrorRate: 0.5, AvgResponseTimeMs: 9000},
			score:  25,
			status: StatusCritical,
			recs:   3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := Health(tt.stats)
			assert.Equal(t, tt.score, report.Score)
			assert.Equal(t, tt.status, report.Status)
			assert.Len(t, report.Recommendations, tt.recs)
		})
	}
}
