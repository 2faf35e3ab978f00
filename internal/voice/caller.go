package voice

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

// Caller is the voice collaborator boundary. The collaborator runs its own
// constrained dialogue whose only objective is capturing accept/decline;
// its resolution comes back through ingress using the call handle as the
// external id.
type Caller interface {
	StartVerificationCall(ctx context.Context, tool string, arguments json.RawMessage, sessionID string) (CallHandle, error)
	EndCall(ctx context.Context, handle CallHandle) error
}

type CallHandle string

type HTTPCaller struct {
	baseURL     string
	client      *http.Client
	ringTimeout time.Duration
}

func NewHTTPCaller(cfg config.VoiceConfig) (*HTTPCaller, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, polyErrors.InvalidInput("voice.base_url is required when the phone channel is enabled")
	}

	ringTimeout, err := config.DurationOrDefault(cfg.RingTimeout, config.DefaultVoiceRingTimeout)
	if err != nil {
		return nil, err
	}
	callTimeout, err := config.DurationOrDefault(cfg.CallTimeout, config.DefaultVoiceCallTimeout)
	if err != nil {
		return nil, err
	}

	return &HTTPCaller{
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		client:      &http.Client{Timeout: callTimeout},
		ringTimeout: ringTimeout,
	}, nil
}

func (c *HTTPCaller) StartVerificationCall(ctx context.Context, tool string, arguments json.RawMessage, sessionID string) (CallHandle, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"tool":       tool,
		"arguments":  arguments,
		"session_id": sessionID,
	})
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.ringTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/calls", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", polyErrors.Wrap(polyErrors.MapError(err), "voice call could not be established")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", polyErrors.AdapterUnavailable(fmt.Sprintf("voice collaborator returned %d: %s", resp.StatusCode, string(body)))
	}

	var result struct {
		Handle string `json:"call_session_handle"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", polyErrors.AdapterUnavailable("voice response malformed: " + err.Error())
	}
	if result.Handle == "" {
		return "", polyErrors.AdapterUnavailable("voice collaborator returned empty call handle")
	}

	return CallHandle(result.Handle), nil
}

func (c *HTTPCaller) EndCall(ctx context.Context, handle CallHandle) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/calls/"+string(handle), nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return polyErrors.Wrap(polyErrors.MapError(err), "voice hangup failed")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
	return nil
}
