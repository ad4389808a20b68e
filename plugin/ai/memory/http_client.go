package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hrygo/mindloop/plugin/ai/retry"
	"github.com/hrygo/mindloop/plugin/ai/timeout"
)

// maxErrorBody bounds how much of a failed response body is kept in errors.
const maxErrorBody = 512

// HTTPConfig configures the HTTP memory-service client.
type HTTPConfig struct {
	BaseURL       string
	APIKey        string
	SearchTimeout time.Duration
	StoreTimeout  time.Duration
	RateLimit     float64 // requests per second per user; <= 0 disables
	RateBurst     int
	Retry         retry.Config
}

// HTTPClient talks to the knowledge-graph memory service over JSON/HTTP.
type HTTPClient struct {
	baseURL       string
	apiKey        string
	searchTimeout time.Duration
	storeTimeout  time.Duration
	retry         retry.Config
	limiter       *RateLimiter
	client        *http.Client
}

// NewHTTPClient creates a memory-service client. An empty BaseURL yields a
// client whose calls fail with ErrNotConfigured.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = timeout.MemorySearchTimeout
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = timeout.MemoryStoreTimeout
	}
	return &HTTPClient{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey,
		searchTimeout: cfg.SearchTimeout,
		storeTimeout:  cfg.StoreTimeout,
		retry:         cfg.Retry,
		limiter:       NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		client:        &http.Client{},
	}
}

type searchRequest struct {
	GroupIDs []string `json:"group_ids"`
	Query    string   `json:"query"`
	MaxFacts int      `json:"max_facts"`
}

type searchResponse struct {
	Facts []Fact `json:"facts"`
}

type message struct {
	Content  string `json:"content"`
	RoleType string `json:"role_type"`
	Role     string `json:"role,omitempty"`
}

type storeRequest struct {
	GroupID  string    `json:"group_id"`
	Messages []message `json:"messages"`
}

// Search queries facts for userID. Transient failures are retried within the
// search timeout.
func (c *HTTPClient) Search(ctx context.Context, userID, query string, maxFacts int) ([]Fact, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}
	if maxFacts <= 0 {
		return []Fact{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.searchTimeout)
	defer cancel()

	if err := c.limiter.Wait(ctx, userID); err != nil {
		return nil, fmt.Errorf("memory search rate limited: %w", err)
	}

	req := searchRequest{GroupIDs: []string{userID}, Query: query, MaxFacts: maxFacts}
	var resp searchResponse
	err := retry.Do(ctx, retry.NewPolicy(c.retry), "memory.search", func(ctx context.Context) error {
		resp = searchResponse{}
		return c.post(ctx, "/search", req, &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("memory search: %w", err)
	}

	facts := resp.Facts
	if len(facts) > maxFacts {
		facts = facts[:maxFacts]
	}
	if facts == nil {
		facts = []Fact{}
	}
	return facts, nil
}

// Store records a user/assistant exchange. It is not retried: the gateway
// treats every write as best effort.
func (c *HTTPClient) Store(ctx context.Context, userID, userMessage, response string) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()

	if err := c.limiter.Wait(ctx, userID); err != nil {
		return fmt.Errorf("memory store rate limited: %w", err)
	}

	req := storeRequest{
		GroupID: userID,
		Messages: []message{
			{Content: userMessage, RoleType: "user", Role: userID},
			{Content: response, RoleType: "assistant"},
		},
	}
	if err := c.post(ctx, "/messages", req, nil); err != nil {
		return fmt.Errorf("memory store: %w", err)
	}
	return nil
}

func (c *HTTPClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &retry.HTTPError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return retry.Permanent(fmt.Errorf("decode %s response: %w", path, err))
	}
	return nil
}
