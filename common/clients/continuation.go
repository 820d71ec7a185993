package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ContinuationRequest carries the story-so-far to the AI service
type ContinuationRequest struct {
	StoryID        string   `json:"story_id"`
	Mode           string   `json:"mode"`
	StorySoFar     []string `json:"story_so_far"`
	Directive      string   `json:"directive,omitempty"` // "continue" (default) or "wrap_up"
	SelectedChoice string   `json:"selected_choice,omitempty"`
	WantChoices    bool     `json:"want_choices,omitempty"`
	ChoiceCount    int      `json:"choice_count,omitempty"`
}

// ContinuationResult is the AI-authored next part, plus the next choice
// set when the request asked for one (branch mode)
type ContinuationResult struct {
	Text    string   `json:"text"`
	Choices []string `json:"choices,omitempty"`
}

// ContinuationService produces AI-authored story parts
type ContinuationService interface {
	Continue(ctx context.Context, req *ContinuationRequest) (*ContinuationResult, error)
	AlternatePath(ctx context.Context, req *ContinuationRequest) (string, error)
}

// ContinuationClient calls the external AI continuation service with
// bounded retries and exponential backoff
type ContinuationClient struct {
	baseURL     string
	http        *HTTPClient
	timeout     time.Duration
	maxRetries  int
	backoffBase time.Duration
	logger      Logger
}

// NewContinuationClient creates a new continuation client
func NewContinuationClient(baseURL string, timeout time.Duration, maxRetries int, backoffBase time.Duration, logger Logger) *ContinuationClient {
	return &ContinuationClient{
		baseURL:     baseURL,
		http:        NewHTTPClient(&http.Client{Timeout: timeout}, logger),
		timeout:     timeout,
		maxRetries:  maxRetries,
		backoffBase: backoffBase,
		logger:      logger,
	}
}

// Continue requests the next AI-authored part. Transient failures are
// retried up to maxRetries with doubling backoff; the caller decides what
// happens on exhaustion.
func (c *ContinuationClient) Continue(ctx context.Context, req *ContinuationRequest) (*ContinuationResult, error) {
	var lastErr error
	backoff := c.backoffBase

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying AI continuation",
				"story_id", req.StoryID,
				"attempt", attempt,
				"backoff", backoff,
				"error", lastErr)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}

		result, err := c.post(ctx, "/api/v1/continue", req)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("AI continuation failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// AlternatePath generates an illustrative continuation for a non-selected
// choice. Single attempt: callers cache the result and the query is purely
// illustrative.
func (c *ContinuationClient) AlternatePath(ctx context.Context, req *ContinuationRequest) (string, error) {
	result, err := c.post(ctx, "/api/v1/alternate", req)
	if err != nil {
		return "", fmt.Errorf("alternate path request failed: %w", err)
	}
	return result.Text, nil
}

func (c *ContinuationClient) post(ctx context.Context, path string, req *ContinuationRequest) (*ContinuationResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal continuation request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.http.DoRequest(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("continuation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("continuation service returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result ContinuationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode continuation response: %w", err)
	}

	return &result, nil
}
