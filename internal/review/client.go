package review

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Class buckets review failures for user-facing follow-up instructions.
type Class string

const (
	ClassAuth        Class = "auth"
	ClassTooShort    Class = "too-short"
	ClassRateLimited Class = "rate-limited"
	ClassGeneric     Class = "generic"
)

// Error is a classified review endpoint failure.
type Error struct {
	Class  Class
	Status int
	Msg    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("review %s (status %d): %s", e.Class, e.Status, e.Msg)
}

// Retryable reports whether another attempt may succeed. Auth and validation
// failures never become true on retry; rate limits and server trouble might.
func Retryable(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		switch re.Class {
		case ClassAuth, ClassTooShort:
			return false
		}
		return true
	}
	// transport-level failure
	return true
}

// Entry is one transcript line.
type Entry struct {
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Context carries the interview metadata submitted with a transcript.
type Context struct {
	Difficulty    string `json:"difficulty"`
	InterviewType string `json:"interviewType"`
	UserName      string `json:"userName,omitempty"`
	TargetRole    string `json:"targetRole,omitempty"`
	DurationSec   int    `json:"duration"`
}

// Recommendation is one coaching suggestion inside a rating.
type Recommendation struct {
	Area       string   `json:"area"`
	Priority   string   `json:"priority"`
	Suggestion string   `json:"suggestion"`
	Examples   []string `json:"examples"`
}

// Rating is the generated interview assessment.
type Rating struct {
	OverallRating   float64            `json:"overallRating"`
	Summary         string             `json:"summary"`
	Strengths       []string           `json:"strengths"`
	Weaknesses      []string           `json:"weaknesses"`
	Recommendations []Recommendation   `json:"recommendations"`
	DetailedScores  map[string]float64 `json:"detailedScores"`
}

// Client talks to the transcript submission and rating generation endpoints.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
}

// NewClient constructs a review client against baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		BaseURL:    strings.TrimRight(baseURL, "/"),
	}
}

type submitRequest struct {
	Messages []Entry `json:"messages"`
	Context  Context `json:"interviewContext"`
}

type submitResponse struct {
	Success bool `json:"success"`
	Data    struct {
		TranscriptID string `json:"transcriptId"`
	} `json:"data"`
	Error string `json:"error,omitempty"`
}

// SubmitTranscript uploads the ordered transcript and returns its id.
func (c *Client) SubmitTranscript(ctx context.Context, entries []Entry, ictx Context, token string) (string, error) {
	var out submitResponse
	if err := c.post(ctx, "/api/transcripts", submitRequest{Messages: entries, Context: ictx}, token, &out); err != nil {
		return "", err
	}
	if !out.Success || out.Data.TranscriptID == "" {
		return "", &Error{Class: ClassGeneric, Msg: firstNonEmpty(out.Error, "transcript submission rejected")}
	}
	return out.Data.TranscriptID, nil
}

type ratingRequest struct {
	TranscriptID string `json:"transcriptId"`
}

type ratingResponse struct {
	Success bool   `json:"success"`
	Rating  Rating `json:"rating"`
	Error   string `json:"error,omitempty"`
}

// GenerateRating asks for an assessment of a submitted transcript.
func (c *Client) GenerateRating(ctx context.Context, transcriptID, token string) (Rating, error) {
	var out ratingResponse
	if err := c.post(ctx, "/api/ratings", ratingRequest{TranscriptID: transcriptID}, token, &out); err != nil {
		return Rating{}, err
	}
	if !out.Success {
		return Rating{}, &Error{Class: ClassGeneric, Msg: firstNonEmpty(out.Error, "rating generation rejected")}
	}
	return out.Rating, nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, token string, out interface{}) error {
	if c.BaseURL == "" {
		return &Error{Class: ClassGeneric, Msg: "review base url missing"}
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &Error{Class: classifyStatus(resp.StatusCode), Status: resp.StatusCode, Msg: string(b)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Class: ClassGeneric, Status: resp.StatusCode, Msg: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}

func classifyStatus(status int) Class {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ClassAuth
	case status == http.StatusUnprocessableEntity:
		return ClassTooShort
	case status == http.StatusTooManyRequests:
		return ClassRateLimited
	}
	return ClassGeneric
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}
