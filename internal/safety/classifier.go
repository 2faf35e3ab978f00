package safety

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aymenfurter/polyclaw-sub001/internal/config"
	polyErrors "github.com/aymenfurter/polyclaw-sub001/internal/errors"
)

// Classifier is the content-safety collaborator boundary: a synchronous
// classification of a tool call's arguments.
type Classifier interface {
	Classify(ctx context.Context, arguments json.RawMessage) (Result, error)
}

type Result struct {
	AttackDetected bool   `json:"attack_detected"`
	Detail         string `json:"detail,omitempty"`
}

type HTTPClassifier struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClassifier(cfg config.SafetyConfig) (*HTTPClassifier, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, polyErrors.InvalidInput("safety.base_url is required when content safety is enabled")
	}

	timeout, err := config.DurationOrDefault(cfg.Timeout, config.DefaultSafetyTimeout)
	if err != nil {
		return nil, err
	}

	return &HTTPClassifier{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (c *HTTPClassifier) Classify(ctx context.Context, arguments json.RawMessage) (Result, error) {
	payload, err := json.Marshal(map[string]json.RawMessage{"arguments": arguments})
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/classify", bytes.NewReader(payload))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, polyErrors.Wrap(polyErrors.MapError(err), "classifier request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, polyErrors.AdapterUnavailable(fmt.Sprintf("classifier returned %d: %s", resp.StatusCode, string(body)))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, polyErrors.AdapterUnavailable("classifier response malformed: " + err.Error())
	}
	return result, nil
}

// StaticClassifier returns a fixed result. Tests and the permissive
// offline mode use it.
type StaticClassifier struct {
	Result Result
	Err    error
	Delay  time.Duration
}

func (s *StaticClassifier) Classify(ctx context.Context, arguments json.RawMessage) (Result, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	return s.Result, s.Err
}
