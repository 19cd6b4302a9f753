// Package pose talks to the pose-estimation service over HTTP. The service
// takes one JPEG frame and returns named body landmarks, or reports that no
// person was found.
package pose

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/liftlab/formcoach-worker/internal/models"
	"github.com/liftlab/formcoach-worker/internal/processor"
)

// Client calls the pose-estimation service. It implements
// processor.PoseEstimator.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retryCount int
}

// NewClient creates a pose client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		retryCount: 3,
	}
}

type estimateRequest struct {
	Image string `json:"image"` // Base64-encoded JPEG
}

type estimateResponse struct {
	PoseDetected bool                       `json:"poseDetected"`
	Landmarks    map[string]models.Landmark `json:"landmarks"`
}

// Estimate sends one frame to the service. A frame with no detected pose
// returns (nil, nil).
func (c *Client) Estimate(ctx context.Context, frame *processor.Frame) (models.KeypointSet, error) {
	endpoint := fmt.Sprintf("%s/api/pose/estimate", c.baseURL)

	payload := estimateRequest{
		Image: base64.StdEncoding.EncodeToString(frame.Image),
	}

	var response estimateResponse
	if err := c.makeRequest(ctx, endpoint, payload, &response); err != nil {
		return nil, fmt.Errorf("pose estimation request failed: %w", err)
	}

	if !response.PoseDetected {
		return nil, nil
	}
	return models.KeypointSet(response.Landmarks), nil
}

// makeRequest POSTs JSON and decodes the JSON response, retrying transient
// failures with linear backoff.
func (c *Client) makeRequest(ctx context.Context, endpoint string, payload, result interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.retryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("pose service returned %d: %s", resp.StatusCode, respBody)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("pose service returned %d: %s", resp.StatusCode, respBody)
		}

		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		return nil
	}

	return fmt.Errorf("all %d attempts failed: %w", c.retryCount, lastErr)
}
