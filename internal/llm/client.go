// Package llm talks to an OpenAI-compatible chat completions endpoint for
// email classification and task/deal extraction. OpenRouter is the usual
// provider; anything speaking the same protocol works.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smile-crm/sales-funnel/internal/config"
	"github.com/smile-crm/sales-funnel/internal/domain"
	"github.com/smile-crm/sales-funnel/internal/pkg/logger"
)

// Low temperature keeps classification and extraction consistent across
// identical inputs.
const temperature = 0.1

// Backoff schedule for throttled calls: 1s, 2s, 4s, then give up.
const (
	maxRetries = 3
	baseDelay  = time.Second
	maxDelay   = 8 * time.Second
)

// Client is a minimal OpenAI-compatible chat client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string

	// sleep is swapped in tests to avoid real backoff waits.
	sleep func(context.Context, time.Duration) error
}

// NewClient builds a model client from configuration.
func NewClient(cfg config.LLMConfig) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout()},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		sleep:      sleepCtx,
	}
}

// Model returns the configured model identifier, recorded on every entity
// as its extraction agent.
func (c *Client) Model() string { return c.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// chat runs one completion with JSON-mode output. Only throttling is
// retried, on a bounded backoff schedule; every other failure surfaces
// immediately.
func (c *Client) chat(ctx context.Context, system, user string) (string, int, error) {
	reqBody := chatRequest{
		Model:       c.model,
		Temperature: temperature,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	reqBody.ResponseFormat.Type = "json_object"
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", 0, err
	}

	for attempt := 0; ; attempt++ {
		content, tokens, status, err := c.post(ctx, payload)
		switch {
		case err == nil && status == http.StatusOK:
			return content, tokens, nil
		case ctx.Err() != nil:
			return "", 0, ctx.Err()
		case !isThrottle(status, err):
			if err != nil {
				return "", 0, err
			}
			return "", 0, fmt.Errorf("model call failed with status %d", status)
		}

		if attempt >= maxRetries {
			return "", 0, fmt.Errorf("model call gave up after %d retries: %w", maxRetries, domain.ErrThrottled)
		}

		delay := baseDelay << attempt
		if delay > maxDelay {
			delay = maxDelay
		}
		logger.Warn("model call retrying",
			"attempt", fmt.Sprint(attempt+1),
			"status", fmt.Sprint(status),
			"delay", delay.String())
		if err := c.sleep(ctx, delay); err != nil {
			return "", 0, err
		}
	}
}

// isThrottle reports whether a reply means rate limiting: HTTP 429, or an
// error whose surface text says so (some providers answer 200 with an error
// body).
func isThrottle(status int, err error) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests")
}

// post performs one HTTP round trip. status is 0 on transport failure.
func (c *Client) post(ctx context.Context, payload []byte) (content string, tokens, status int, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, resp.StatusCode, err
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, resp.StatusCode, nil
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", 0, resp.StatusCode, fmt.Errorf("decoding completion response: %w", err)
	}
	if parsed.Error != nil {
		return "", 0, resp.StatusCode, fmt.Errorf("model provider error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", 0, resp.StatusCode, fmt.Errorf("completion response has no choices")
	}
	return parsed.Choices[0].Message.Content, parsed.Usage.TotalTokens, resp.StatusCode, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// decodeJSONObject decodes a model reply that should be a JSON object,
// tolerating markdown code fences and leading prose.
func decodeJSONObject(content string) (map[string]any, error) {
	content = strings.TrimSpace(content)
	if i := strings.Index(content, "{"); i > 0 {
		content = content[i:]
	}
	if i := strings.LastIndex(content, "}"); i >= 0 {
		content = content[:i+1]
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrExtractionParse)
	}
	return out, nil
}
