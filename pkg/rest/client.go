package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const DefaultBaseURL = "https://discord.com/api/v10"

// DefaultRequestsPerSecond is the API's global per-bot request limit.
const DefaultRequestsPerSecond = 50

// Client is the slice of the REST API handlers use to reply.
type Client interface {
	SendMessage(ctx context.Context, channelID, content string) (*Message, error)
}

type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
}

type APIError struct {
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("REST request failed with status %d (code %d): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("REST request failed with status %d", e.StatusCode)
}

type HTTPClientParams struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	UserAgent string

	// Requests per second across every route, with an equal burst. Zero uses
	// DefaultRequestsPerSecond; negative disables the limit.
	RequestsPerSecond int

	HTTPClient *http.Client
	Logger     *zap.Logger
}

type HTTPClient struct {
	baseURL   string
	token     string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	log       *zap.Logger
}

func NewHTTPClient(params HTTPClientParams) *HTTPClient {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	baseURL := params.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := params.HTTPClient
	if httpClient == nil {
		timeout := params.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	userAgent := params.UserAgent
	if userAgent == "" {
		userAgent = "DiscordBot (https://github.com/sessamekesh/shardwire, 0.1)"
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if rps := params.RequestsPerSecond; rps >= 0 {
		if rps == 0 {
			rps = DefaultRequestsPerSecond
		}
		limiter = rate.NewLimiter(rate.Limit(rps), rps)
	}

	return &HTTPClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		token:     params.Token,
		userAgent: userAgent,
		http:      httpClient,
		limiter:   limiter,
		log:       logger.With(zap.String("component", "RestClient")),
	}
}

func (c *HTTPClient) SendMessage(ctx context.Context, channelID, content string) (*Message, error) {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return nil, err
	}

	msg := &Message{}
	if err := c.do(ctx, http.MethodPost, "/channels/"+channelID+"/messages", body, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s %s: waiting for rate limit: %w", method, path, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		json.Unmarshal(payload, apiErr)
		c.log.Warn("REST request rejected", zap.String("method", method), zap.String("path", path), zap.Error(apiErr))
		return apiErr
	}

	if out == nil || len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, out)
}
