package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type silentLogger struct{}

func (silentLogger) Info(msg string, kv ...interface{})  {}
func (silentLogger) Error(msg string, kv ...interface{}) {}
func (silentLogger) Warn(msg string, kv ...interface{})  {}
func (silentLogger) Debug(msg string, kv ...interface{}) {}

func TestModerationClassifyAccepted(t *testing.T) {
	var gotText string
	var gotUserID, gotStoryID string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/classify", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		gotUserID = r.Header.Get("X-User-ID")
		gotStoryID = r.Header.Get("X-Story-ID")

		var req struct {
			Text string `json:"text"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotText = req.Text

		json.NewEncoder(w).Encode(Verdict{Accepted: true})
	}))
	defer srv.Close()

	client := NewModerationClient(srv.URL, time.Second, silentLogger{})
	ctx := WithStoryID(WithUserID(context.Background(), "student-1"), "story-1")

	verdict, err := client.Classify(ctx, "a peaceful meadow")
	require.NoError(t, err)
	assert.True(t, verdict.Accepted)
	assert.Equal(t, "a peaceful meadow", gotText)
	assert.Equal(t, "student-1", gotUserID)
	assert.Equal(t, "story-1", gotStoryID)
}

func TestModerationClassifyRejectedWithSuggestion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Verdict{
			Accepted:   false,
			Reason:     "violent content",
			Suggestion: "describe the confrontation without the fight",
		})
	}))
	defer srv.Close()

	client := NewModerationClient(srv.URL, time.Second, silentLogger{})
	verdict, err := client.Classify(context.Background(), "and then a brawl broke out")
	require.NoError(t, err)
	assert.False(t, verdict.Accepted)
	assert.Equal(t, "violent content", verdict.Reason)
	assert.NotEmpty(t, verdict.Suggestion)
}

func TestModerationClassifyServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewModerationClient(srv.URL, time.Second, silentLogger{})
	_, err := client.Classify(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestModerationClassifyTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewModerationClient(srv.URL, 20*time.Millisecond, silentLogger{})
	_, err := client.Classify(context.Background(), "anything")
	require.Error(t, err)
}
