// Package llm calls an OpenAI compatible Responses endpoint and salvages
// structured summaries out of free-form model output.
package llm

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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/keithlinneman/stancemap/internal/xerrors"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"
	DefaultTimeout = 60 * time.Second

	// maxResponseBytes caps the body read from the endpoint
	maxResponseBytes = 4 << 20
)

// ErrEmptyOutput is returned when the response carries no output text
var ErrEmptyOutput = errors.New("llm: empty output")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generator produces text for a conversation
type Generator interface {
	Generate(ctx context.Context, input []Message) (string, error)
}

type Options struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	// RequestsPerMinute throttles outbound calls. zero disables the throttle.
	RequestsPerMinute float64
	// Transport is wrapped with otelhttp, nil uses http.DefaultTransport
	Transport http.RoundTripper
}

type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	baseURL string
	apiKey  string
	model   string
}

var _ Generator = (*Client)(nil)

func NewClient(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, xerrors.New("llm api key is required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	var lim *rate.Limiter
	if opts.RequestsPerMinute > 0 {
		lim = rate.NewLimiter(rate.Limit(opts.RequestsPerMinute/60), 1)
	}
	return &Client{
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(base),
		},
		limiter: lim,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		model:   opts.Model,
	}, nil
}

type responsesRequest struct {
	Model string    `json:"model"`
	Input []Message `json:"input"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// outputText concatenates every output_text part, the same text the SDKs expose as output_text
func (r responsesResponse) outputText() string {
	var b strings.Builder
	for _, o := range r.Output {
		for _, c := range o.Content {
			if c.Type == "output_text" {
				b.WriteString(c.Text)
			}
		}
	}
	return b.String()
}

// Generate posts input to {base}/responses and returns the output text
func (c *Client) Generate(ctx context.Context, input []Message) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", xerrors.Wrap(err, "llm throttle")
		}
	}

	body, err := json.Marshal(responsesRequest{Model: c.model, Input: input})
	if err != nil {
		return "", xerrors.Wrap(err, "encode llm request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return "", xerrors.Wrap(err, "build llm request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", xerrors.Wrap(err, "llm request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", xerrors.Wrap(err, "read llm response")
	}

	var out responsesResponse
	decodeErr := json.Unmarshal(data, &out)
	if resp.StatusCode/100 != 2 {
		msg := http.StatusText(resp.StatusCode)
		if decodeErr == nil && out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return "", xerrors.Newf("llm status %d: %s", resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return "", xerrors.Wrap(decodeErr, "decode llm response")
	}

	text := out.outputText()
	if strings.TrimSpace(text) == "" {
		return "", xerrors.WithStack(ErrEmptyOutput)
	}
	return text, nil
}

// String is for logs, it never includes the key
func (c *Client) String() string {
	return fmt.Sprintf("llm(%s %s)", c.baseURL, c.model)
}
