package upstream

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"
)

// ErrInvalidThresholds is returned for thresholds outside [0,1] or with
// review above reject.
var ErrInvalidThresholds = errors.New("upstream: invalid thresholds")

// Thresholds are the backend's score cut-offs.
type Thresholds struct {
	Review float64 `json:"review"`
	Reject float64 `json:"reject"`
}

// Validate checks both values lie in [0,1] and review <= reject.
func (t Thresholds) Validate() error {
	for _, v := range []float64{t.Review, t.Reject} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: values must be within [0,1], got review=%v reject=%v", ErrInvalidThresholds, t.Review, t.Reject)
		}
	}
	if t.Review > t.Reject {
		return fmt.Errorf("%w: review %v above reject %v", ErrInvalidThresholds, t.Review, t.Reject)
	}
	return nil
}

// ThresholdsClient reads and updates the backend's thresholds.
type ThresholdsClient struct {
	client
}

func NewThresholdsClient(url string, timeout time.Duration, hc *http.Client) *ThresholdsClient {
	return &ThresholdsClient{client: newClient(url, timeout, hc)}
}

func (c *ThresholdsClient) Get(ctx context.Context) (Thresholds, error) {
	var t Thresholds
	if err := c.getJSON(ctx, &t); err != nil {
		return Thresholds{}, fmt.Errorf("thresholds request failed: %w", err)
	}
	return t, nil
}

// Update validates t locally, posts it and returns the pair the server
// accepted.
func (c *ThresholdsClient) Update(ctx context.Context, t Thresholds) (Thresholds, error) {
	if err := t.Validate(); err != nil {
		return Thresholds{}, err
	}
	var accepted Thresholds
	if err := c.postJSON(ctx, t, &accepted); err != nil {
		return Thresholds{}, fmt.Errorf("thresholds update failed: %w", err)
	}
	return accepted, nil
}
