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

// Verdict is the moderation gate's decision for a proposed contribution
type Verdict struct {
	Accepted   bool   `json:"accepted"`
	Reason     string `json:"reason,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// ModerationGate classifies proposed text before it is committed to a story
type ModerationGate interface {
	Classify(ctx context.Context, text string) (*Verdict, error)
}

// ModerationClient calls the external content moderation service
type ModerationClient struct {
	baseURL string
	http    *HTTPClient
	timeout time.Duration
	logger  Logger
}

// NewModerationClient creates a new moderation client
func NewModerationClient(baseURL string, timeout time.Duration, logger Logger) *ModerationClient {
	return &ModerationClient{
		baseURL: baseURL,
		http:    NewHTTPClient(&http.Client{Timeout: timeout}, logger),
		timeout: timeout,
		logger:  logger,
	}
}

type classifyRequest struct {
	Text string `json:"text"`
}

// Classify submits text to the moderation service
func (c *ModerationClient) Classify(ctx context.Context, text string) (*Verdict, error) {
	body, err := json.Marshal(classifyRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal classify request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.http.DoRequest(ctx, http.MethodPost, c.baseURL+"/api/v1/classify", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("moderation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("moderation service returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var verdict Verdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return nil, fmt.Errorf("failed to decode moderation response: %w", err)
	}

	c.logger.Debug("moderation verdict", "accepted", verdict.Accepted, "reason", verdict.Reason)
	return &verdict, nil
}
