package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/foxzi/drip/internal/metrics"
)

const (
	defaultTimeout = 20 * time.Second
	maxErrorBody   = 512
)

// APIError is a non-2xx response from the gateway
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("gateway HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway HTTP %d: %s", e.StatusCode, e.Body)
}

// Client is an Evolution API client
type Client struct {
	baseURL    string
	apiKey     string
	instance   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a new Evolution API client
func NewClient(opts Options, logger *slog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		apiKey:   opts.APIKey,
		instance: opts.Instance,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With("component", "gateway"),
	}

	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return c
}

type sendOptions struct {
	Delay       int64  `json:"delay"`
	Presence    string `json:"presence"`
	LinkPreview *bool  `json:"linkPreview,omitempty"`
}

type sendTextRequest struct {
	Number  string      `json:"number"`
	Options sendOptions `json:"options"`
	Text    string      `json:"text"`
}

type sendMediaRequest struct {
	Number    string      `json:"number"`
	Options   sendOptions `json:"options"`
	MediaType string      `json:"mediatype"`
	Caption   string      `json:"caption"`
	Media     string      `json:"media"`
}

type sendResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
	Status string `json:"status"`
}

type connectionStateResponse struct {
	Instance struct {
		InstanceName string `json:"instanceName"`
		State        string `json:"state"`
	} `json:"instance"`
}

// Send delivers a text or media message
func (c *Client) Send(ctx context.Context, req *SendRequest) (*SendResult, error) {
	number, err := NormalizeNumber(req.Phone)
	if err != nil {
		return nil, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait for gateway slot: %w", err)
		}
	}

	opts := sendOptions{
		Delay:    req.TypingDelay.Milliseconds(),
		Presence: "composing",
	}

	var (
		endpoint string
		body     any
	)
	if req.HasMedia() {
		endpoint = "sendMedia"
		body = &sendMediaRequest{
			Number:    number,
			Options:   opts,
			MediaType: mediaType(req.MediaURL),
			Caption:   req.Text,
			Media:     mediaContent(req.MediaURL),
		}
	} else {
		endpoint = "sendText"
		noPreview := false
		opts.LinkPreview = &noPreview
		body = &sendTextRequest{
			Number:  number,
			Options: opts,
			Text:    req.Text,
		}
	}

	var resp sendResponse
	start := time.Now()
	err = c.request(ctx, http.MethodPost, "/message/"+endpoint+"/"+url.PathEscape(c.instance), body, &resp)
	metrics.ObserveGatewayRequest(endpoint, outcome(err), time.Since(start))
	if err != nil {
		return nil, err
	}

	c.logger.Debug("message accepted by gateway",
		"endpoint", endpoint,
		"provider_message_id", resp.Key.ID,
		"status", resp.Status,
	)

	return &SendResult{ProviderMessageID: resp.Key.ID}, nil
}

// ConnectionState queries the instance connection state
func (c *Client) ConnectionState(ctx context.Context) (*ConnectionState, error) {
	var resp connectionStateResponse
	start := time.Now()
	err := c.request(ctx, http.MethodGet, "/instance/connectionState/"+url.PathEscape(c.instance), nil, &resp)
	metrics.ObserveGatewayRequest("connectionState", outcome(err), time.Since(start))
	if err != nil {
		return nil, err
	}

	instance := resp.Instance.InstanceName
	if instance == "" {
		instance = c.instance
	}
	return &ConnectionState{Instance: instance, State: resp.Instance.State}, nil
}

// request performs an HTTP request to the Evolution API
func (c *Client) request(ctx context.Context, method, path string, body any, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil && err != io.EOF {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// mediaType picks video for .mp4 and .webm, image otherwise
func mediaType(mediaURL string) string {
	p := strings.ToLower(mediaURL)
	if u, err := url.Parse(mediaURL); err == nil && u.Path != "" {
		p = strings.ToLower(u.Path)
	}
	if strings.HasSuffix(p, ".mp4") || strings.HasSuffix(p, ".webm") {
		return "video"
	}
	return "image"
}

// mediaContent strips the data URL prefix so only base64 is sent
func mediaContent(mediaURL string) string {
	if _, data, ok := strings.Cut(mediaURL, "base64,"); ok {
		return data
	}
	return mediaURL
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
