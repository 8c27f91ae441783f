// Package transform calls the external AI service that reframes an uploaded
// photo to ID-photo dimensions and renders a watermarked preview.
//
// The service reads the input from a presigned GET URL and writes both
// results to presigned PUT URLs. Any failure is reported as
// common.ErrTransform; the caller owns the fallback.
package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dmitrijs2005/shashinpass/internal/common"
)

// Invoker runs one transform.
type Invoker interface {
	Transform(ctx context.Context, req Request) error
}

// Request names where to read the input and where to write the results.
type Request struct {
	RecordID   string
	InputURL   string
	OutputURL  string
	PreviewURL string
}

// Preset describes the target photo. MyNumberCard is 35×45 mm, face 70–80%
// of the height.
type Preset struct {
	Name      string  `json:"name"`
	WidthMM   float64 `json:"width_mm"`
	HeightMM  float64 `json:"height_mm"`
	DPI       int     `json:"dpi"`
	Watermark string  `json:"watermark"`
}

var MyNumberCard = Preset{
	Name:      "my_number_card",
	WidthMM:   35,
	HeightMM:  45,
	DPI:       600,
	Watermark: "SAMPLE",
}

type transformRequest struct {
	ID         string `json:"id"`
	InputURL   string `json:"input_url"`
	OutputURL  string `json:"output_url"`
	PreviewURL string `json:"preview_url"`
	Preset     Preset `json:"preset"`
}

type transformResponse struct {
	Status string `json:"status"`
}

type transformError struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// HTTPClient talks to the AI service over JSON/HTTP.
type HTTPClient struct {
	endpoint string
	apiKey   string
	preset   Preset
	client   *http.Client
}

func NewHTTPClient(endpoint, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		preset:   MyNumberCard,
		client:   &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Transform(ctx context.Context, req Request) error {
	if c.endpoint == "" {
		return fmt.Errorf("%w: endpoint not configured", common.ErrTransform)
	}

	body, err := json.Marshal(transformRequest{
		ID:         req.RecordID,
		InputURL:   req.InputURL,
		OutputURL:  req.OutputURL,
		PreviewURL: req.PreviewURL,
		Preset:     c.preset,
	})
	if err != nil {
		return fmt.Errorf("%w: failed to marshal request: %v", common.ErrTransform, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %v", common.ErrTransform, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: request failed: %v", common.ErrTransform, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", common.ErrTransform, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr transformError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("%w: %s (status %d)", common.ErrTransform, apiErr.Error.Message, resp.StatusCode)
		}
		return fmt.Errorf("%w: status %d", common.ErrTransform, resp.StatusCode)
	}

	var out transformResponse
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &out); err != nil {
			return fmt.Errorf("%w: failed to parse response: %v", common.ErrTransform, err)
		}
	}
	if out.Status != "" && out.Status != "ok" {
		return fmt.Errorf("%w: status %q", common.ErrTransform, out.Status)
	}

	return nil
}
