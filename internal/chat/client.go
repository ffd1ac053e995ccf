package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Role identifies a message author on the wire.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation entry on the wire.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is the chat round-trip payload.
type Request struct {
	Messages               []Message `json:"messages"`
	IncludeUploadedContent bool      `json:"includeUploadedContent"`
	InterviewType          string    `json:"interviewType"`
	MaxContentTokens       int       `json:"maxContentTokens"`
	VoiceMode              bool      `json:"voiceMode"`
}

// Response is the assistant's reply.
type Response struct {
	Message         string                 `json:"message"`
	ContentMetadata map[string]interface{} `json:"contentMetadata,omitempty"`
}

// PromptBuilder produces the system prompt for a request. The prompt text is
// inert configuration; the builder is the only seam controllers know about.
type PromptBuilder interface {
	System(interviewType string, includeUploaded bool) string
}

// Client talks to the chat completion endpoint.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	Prompts    PromptBuilder
}

// NewClient constructs a chat client against baseURL.
func NewClient(baseURL string, prompts PromptBuilder) *Client {
	if prompts == nil {
		prompts = DefaultPrompts{}
	}
	return &Client{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Prompts:    prompts,
	}
}

// Complete performs one chat round trip. The system prompt is prepended here;
// callers pass conversation messages only. token is attached as a bearer
// header when non-empty.
func (c *Client) Complete(ctx context.Context, req Request, token string) (Response, error) {
	if c.BaseURL == "" {
		return Response{}, fmt.Errorf("chat: base url missing")
	}
	msgs := make([]Message, 0, len(req.Messages)+1)
	msgs = append(msgs, Message{Role: RoleSystem, Content: c.Prompts.System(req.InterviewType, req.IncludeUploadedContent)})
	msgs = append(msgs, req.Messages...)
	req.Messages = msgs
	if req.MaxContentTokens == 0 {
		req.MaxContentTokens = 2000
	}

	body, _ := json.Marshal(req)
	endpoint := c.BaseURL + "/api/chat"
	if token != "" {
		endpoint = c.BaseURL + "/api/chat/authenticated"
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return Response{}, fmt.Errorf("chat: status=%d body=%s", resp.StatusCode, string(b))
	}
	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, err
	}
	if strings.TrimSpace(out.Message) == "" {
		return Response{}, fmt.Errorf("chat: empty message in response")
	}
	out.Message = strings.TrimSpace(out.Message)
	return out, nil
}
