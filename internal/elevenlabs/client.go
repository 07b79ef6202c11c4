// Package elevenlabs is a small REST client for the ElevenLabs
// Conversational AI endpoints the proxy depends on.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/soyeahso/voicebridge/internal/convai"
	"github.com/soyeahso/voicebridge/internal/logging"
	"github.com/soyeahso/voicebridge/internal/version"
)

// DefaultBaseURL is the public ElevenLabs API.
const DefaultBaseURL = "https://api.elevenlabs.io"

// ConfigurationError reports missing credentials before any network call.
type ConfigurationError struct {
	Field string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("elevenlabs: %s is not configured", e.Field)
}

// UpstreamAuthError reports that the provider rejected the request or
// could not be reached. Message carries the provider's diagnostic text.
type UpstreamAuthError struct {
	Status  int
	Message string
	Err     error
}

func (e *UpstreamAuthError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("elevenlabs: request failed: %v", e.Err)
	case e.Status > 0:
		return fmt.Sprintf("elevenlabs: %d %s", e.Status, e.Message)
	default:
		return "elevenlabs: " + e.Message
	}
}

func (e *UpstreamAuthError) Unwrap() error { return e.Err }

// Client talks to the ElevenLabs REST API with a single API key.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API host.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimSuffix(u, "/")
		}
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// New creates a client. An empty apiKey is accepted here and reported as a
// ConfigurationError on first use.
func New(apiKey string, log *logging.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     log.Sub("elevenlabs"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SignedURL acquires a short-lived authenticated websocket URL for an agent.
// No retries are attempted.
func (c *Client) SignedURL(ctx context.Context, agentID string) (string, error) {
	if c.apiKey == "" {
		return "", &ConfigurationError{Field: "api key"}
	}
	if agentID == "" {
		return "", &ConfigurationError{Field: "agent id"}
	}

	endpoint := c.baseURL + "/v1/convai/conversation/get-signed-url?agent_id=" + url.QueryEscape(agentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("creating signed url request: %w", err)
	}

	var out struct {
		SignedURL string `json:"signed_url"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.SignedURL == "" {
		return "", &UpstreamAuthError{Message: "empty signed url in response"}
	}

	c.log.Debug().Str("agentId", agentID).Msg("signed url acquired")
	return out.SignedURL, nil
}

// SendFeedback rates a finished conversation.
func (c *Client) SendFeedback(ctx context.Context, conversationID string, key convai.FeedbackKey) error {
	if c.apiKey == "" {
		return &ConfigurationError{Field: "api key"}
	}
	if conversationID == "" {
		return fmt.Errorf("elevenlabs: conversation id is required")
	}
	if !key.Valid() {
		return fmt.Errorf("elevenlabs: invalid feedback key %q", key)
	}

	body, err := json.Marshal(map[string]string{"feedback": string(key)})
	if err != nil {
		return err
	}
	endpoint := c.baseURL + "/v1/convai/conversations/" + url.PathEscape(conversationID) + "/feedback"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating feedback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if err := c.do(req, nil); err != nil {
		return err
	}
	c.log.Info().Str("conversationId", conversationID).Str("feedback", string(key)).Msg("conversation feedback sent")
	return nil
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return &UpstreamAuthError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &UpstreamAuthError{Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &UpstreamAuthError{Status: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &UpstreamAuthError{Message: "invalid response: " + err.Error()}
	}
	return nil
}
