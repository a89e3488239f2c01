package metrics

// HealthStatus buckets a health score
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusWarning  HealthStatus = "warning"
	StatusCritical HealthStatus = "critical"
)

// HealthReport is derived from Stats
type HealthReport struct {
	Score           int          `json:"score"`
	Status          HealthStatus `json:"status"`
	Recommendations []string     `json:"recommendations"`
}

// Health scores stats on a 0-100 scale and lists recommendations.
func Health(stats Stats) HealthReport {
	score := 100
	recs := make([]string, 0)

	switch {
	case stats.ErrorRate > 0.10:
		score -= 30
		recs = append(recs, "Error rate is high: check provider keys and tool server connectivity")
	case stats.ErrorRate > 0.05:
		score -= 15
		recs = append(recs, "Error rate is elevated: monitor provider fallbacks")
	}

	switch {
	case stats.AvgResponseTimeMs > 5000:
		score -= 20
		recs = append(recs, "Average response time is above 5s: consider a faster standard tier")
	case stats.AvgResponseTimeMs > 3000:
		score -= 10
		recs = append(recs, "Average response time is above 3s")
	}

	// a window without outcomes says nothing about success
	if stats.SuccessRate > 0 || stats.ErrorRate > 0 {
		switch {
		case stats.SuccessRate < 0.90:
			score -= 25
			recs = append(recs, "Success rate is below 90%: review recent errors")
		case stats.SuccessRate < 0.95:
			score -= 10
			recs = append(recs, "Success rate is below 95%")
		}
	}

	if score < 0 {
		score = 0
	}

	status := StatusCritical
	switch {
	case score >= 80:
		status = StatusHealthy
	case score >= 50:
		status = StatusWarning
	}

	return HealthReport{Score: score, Status: status, Recommendations: recs}
}
