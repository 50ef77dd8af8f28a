package upstream

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/event"
)

// MetricsClient fetches the cumulative decision counters.
type MetricsClient struct {
	client
}

// NewMetricsClient targets url with the given request timeout. hc may be
// nil.
func NewMetricsClient(url string, timeout time.Duration, hc *http.Client) *MetricsClient {
	return &MetricsClient{client: newClient(url, timeout, hc)}
}

// Fetch returns one snapshot. Missing fields are zero; CapturedAt is left
// for the caller to stamp.
func (c *MetricsClient) Fetch(ctx context.Context) (event.AggregateSnapshot, error) {
	var response struct {
		Total        float64 `json:"total"`
		Approved     float64 `json:"approved"`
		Rejected     float64 `json:"rejected"`
		AvgLatencyMs float64 `json:"avg_latency_ms"`
	}
	if err := c.getJSON(ctx, &response); err != nil {
		return event.AggregateSnapshot{}, fmt.Errorf("metrics request failed: %w", err)
	}
	return event.AggregateSnapshot{
		Total:        count(response.Total),
		Approved:     count(response.Approved),
		Rejected:     count(response.Rejected),
		AvgLatencyMs: math.Max(response.AvgLatencyMs, 0),
	}, nil
}

func count(v float64) int64 {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	return int64(v)
}
