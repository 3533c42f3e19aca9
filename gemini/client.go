// Package gemini adapts the Gemini generateContent API into the inference
// gateway consumed by the chat orchestrator. Every failure mode resolves to a
// well-formed reply with fixed user-safe text; callers only ever log the
// returned error.
package gemini

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

	"github.com/cenkalti/backoff/v4"

	"github.com/mediguide/server/session"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultModel   = "gemini-3-flash-preview"

	requestTimeout = 60 * time.Second

	// maxRetries bounds transient-failure retries: 1 initial attempt plus
	// 2 retries with doubling delay.
	maxRetries           = 2
	initialRetryInterval = 500 * time.Millisecond
)

var ErrMissingAPIKey = errors.New("gemini: api key is not configured")

// Config holds the request-level knobs of the gateway.
type Config struct {
	APIKey          string
	Model           string
	Temperature     float64
	TopP            float64
	SearchGrounding bool

	// BaseURL overrides the API endpoint, used by tests.
	BaseURL string
	// HTTPClient overrides the transport, used by tests.
	HTTPClient *http.Client
}

// Reply is the gateway output. It is always well-formed: failure paths carry
// fallback text and an empty source list.
type Reply struct {
	Text    string
	Sources []session.GroundingSource
}

// Client invokes the Gemini API with retry on transient failures.
type Client struct {
	cfg        Config
	httpClient *http.Client
	baseURL    string

	retryInterval time.Duration
}

func NewClient(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		cfg:           cfg,
		httpClient:    httpClient,
		baseURL:       baseURL,
		retryInterval: initialRetryInterval,
	}
}

// failureKind classifies a transport failure into its user-facing text.
type failureKind int

const (
	failureCredential failureKind = iota
	failureTransient
	failureRegion
	failureGeneric
)

func (k failureKind) text() string {
	switch k {
	case failureCredential:
		return textCredentialError
	case failureTransient:
		return textTransientError
	case failureRegion:
		return textRegionError
	default:
		return textGenericError
	}
}

// apiError carries the classified failure through the retry loop.
type apiError struct {
	kind       failureKind
	statusCode int
	message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("gemini: status %d: %s", e.statusCode, e.message)
}

func (e *apiError) retryable() bool {
	return e.kind == failureTransient
}

// Generate turns a conversation history into a single reply. The returned
// Reply is valid even when err is non-nil; err exists only so the caller can
// log the cause.
func (c *Client) Generate(ctx context.Context, history []session.Message) (Reply, error) {
	if c.cfg.APIKey == "" {
		return Reply{Text: textCredentialError}, ErrMissingAPIKey
	}

	body, err := json.Marshal(c.buildRequest(history))
	if err != nil {
		return Reply{Text: textGenericError}, fmt.Errorf("gemini: encode request: %w", err)
	}

	var resp *genResponse
	operation := func() error {
		r, opErr := c.do(ctx, body)
		if opErr != nil {
			var apiErr *apiError
			if errors.As(opErr, &apiErr) && apiErr.retryable() {
				return opErr
			}
			return backoff.Permanent(opErr)
		}
		resp = r
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryInterval
	policy.Multiplier = 2
	policy.RandomizationFactor = 0

	err = backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, maxRetries), ctx))
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) {
			return Reply{Text: apiErr.kind.text()}, err
		}
		// Transport-level failure (timeout, connection refused) is a generic
		// transient outcome.
		return Reply{Text: textTransientError}, fmt.Errorf("gemini: request failed: %w", err)
	}

	return replyFromResponse(resp), nil
}

func (c *Client) do(ctx context.Context, body []byte) (*genResponse, error) {
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.cfg.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("gemini: read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyStatus(httpResp.StatusCode, string(respBody))
	}

	var resp genResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &apiError{kind: failureGeneric, statusCode: httpResp.StatusCode, message: "malformed response body"}
	}
	return &resp, nil
}

// classifyStatus maps a non-200 response to a failure mode. Only rate limits
// and server errors are retryable.
func classifyStatus(status int, body string) *apiError {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden,
		strings.Contains(body, "API key not valid"),
		strings.Contains(body, "API_KEY_INVALID"):
		return &apiError{kind: failureCredential, statusCode: status, message: "invalid credential"}
	case status == http.StatusTooManyRequests:
		return &apiError{kind: failureTransient, statusCode: status, message: "rate limited"}
	case status >= 500:
		return &apiError{kind: failureTransient, statusCode: status, message: "server error"}
	case strings.Contains(body, "location is not supported"),
		strings.Contains(body, "FAILED_PRECONDITION"):
		return &apiError{kind: failureRegion, statusCode: status, message: "region not supported"}
	default:
		return &apiError{kind: failureGeneric, statusCode: status, message: truncate(body, 200)}
	}
}

func (c *Client) buildRequest(history []session.Message) genRequest {
	contents := make([]content, 0, len(history))
	for _, msg := range history {
		role := "user"
		if msg.Role == session.RoleAssistant {
			role = "model"
		}

		parts := []part{}
		if msg.Content != "" {
			parts = append(parts, part{Text: msg.Content})
		}
		if msg.Role == session.RoleUser && msg.Image != "" {
			mime, data := splitDataURL(msg.Image)
			parts = append(parts, part{InlineData: &inlineData{MimeType: mime, Data: data}})
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, content{Role: role, Parts: parts})
	}

	req := genRequest{
		SystemInstruction: &content{Parts: []part{{Text: systemInstruction}}},
		Contents:          contents,
		GenerationConfig: generationConfig{
			Temperature: c.cfg.Temperature,
			TopP:        c.cfg.TopP,
		},
	}
	if c.cfg.SearchGrounding {
		req.Tools = []tool{{GoogleSearch: &struct{}{}}}
	}
	return req
}

func replyFromResponse(resp *genResponse) Reply {
	// A prompt-level block or a safety finish is a normal outcome, not a
	// failure.
	if resp.PromptFeedback.BlockReason != "" {
		return Reply{Text: textSafetyDeclined}
	}
	if len(resp.Candidates) == 0 {
		return Reply{Text: textEmptyReply}
	}

	cand := resp.Candidates[0]
	if cand.FinishReason == "SAFETY" {
		return Reply{Text: textSafetyDeclined}
	}

	var sb strings.Builder
	for _, p := range cand.Content.Parts {
		sb.WriteString(p.Text)
	}
	text := sb.String()
	if text == "" {
		return Reply{Text: textEmptyReply}
	}

	return Reply{Text: text, Sources: dedupeSources(cand.GroundingMetadata.GroundingChunks)}
}

// dedupeSources keeps the first occurrence of each URI, preserving order.
func dedupeSources(chunks []groundingChunk) []session.GroundingSource {
	if len(chunks) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(chunks))
	var sources []session.GroundingSource
	for _, chunk := range chunks {
		uri := chunk.Web.URI
		if uri == "" || seen[uri] {
			continue
		}
		seen[uri] = true
		sources = append(sources, session.GroundingSource{Title: chunk.Web.Title, URI: uri})
	}
	return sources
}

// splitDataURL separates an optional "data:<mime>;base64," prefix from an
// inline image payload.
func splitDataURL(image string) (mime, data string) {
	mime = "image/jpeg"
	data = image
	if !strings.HasPrefix(image, "data:") {
		return mime, data
	}
	rest := strings.TrimPrefix(image, "data:")
	semi := strings.Index(rest, ";base64,")
	if semi < 0 {
		return mime, data
	}
	if m := rest[:semi]; m != "" {
		mime = m
	}
	return mime, rest[semi+len(";base64,"):]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Wire types for the generateContent endpoint.

type genRequest struct {
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
	Tools             []tool           `json:"tools,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"topP"`
}

type tool struct {
	GoogleSearch *struct{} `json:"google_search,omitempty"`
}

type genResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason      string `json:"finishReason"`
		GroundingMetadata struct {
			GroundingChunks []groundingChunk `json:"groundingChunks"`
		} `json:"groundingMetadata"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type groundingChunk struct {
	Web struct {
		URI   string `json:"uri"`
		Title string `json:"title"`
	} `json:"web"`
}
