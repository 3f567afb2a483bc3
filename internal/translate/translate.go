// Package translate turns finalized dictation segments into another language through an
// OpenAI-compatible chat completions endpoint.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	apperrors "github.com/GriffinCanCode/hearing-assist/internal/errors"
	"github.com/GriffinCanCode/hearing-assist/internal/resilience"
)

// Engine translates text. Ready reports whether calls can currently succeed.
type Engine interface {
	Ready() bool
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// ParseLocale validates a BCP 47 locale such as "en", "pt-BR" or "zh-Hant".
func ParseLocale(s string) (language.Tag, error) {
	tag, err := language.Parse(s)
	if err != nil {
		return language.Und, apperrors.Wrapf(err, apperrors.CodeInvalidArgument, "invalid locale %q", s)
	}
	return tag, nil
}

// DisplayName is the English name of a locale, falling back to its tag.
func DisplayName(tag language.Tag) string {
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return tag.String()
}

// Config configures a Client.
type Config struct {
	Endpoint string // base URL, e.g. https://api.openai.com/v1
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// Client is an OpenAI-compatible translator.
type Client struct {
	cfg     Config
	url     string
	http    *http.Client
	breaker *resilience.Breaker
	retry   resilience.RetryConfig
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// NewClient creates a client. It is ready only when an endpoint and key are configured.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		cfg:     cfg,
		url:     strings.TrimSuffix(cfg.Endpoint, "/") + "/chat/completions",
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: resilience.NewBreaker(resilience.TranslationBreaker()),
		retry:   resilience.TranslationRetry(),
	}
}

// WithRetry overrides the retry policy.
func (c *Client) WithRetry(cfg resilience.RetryConfig) *Client {
	c.retry = cfg
	return c
}

// Breaker exposes the endpoint breaker for metrics.
func (c *Client) Breaker() *resilience.Breaker { return c.breaker }

// Ready implements Engine. An open breaker means the endpoint is failing.
func (c *Client) Ready() bool {
	return c.cfg.Endpoint != "" && c.cfg.APIKey != "" && c.breaker.State() != resilience.Open
}

// Translate implements Engine.
func (c *Client) Translate(ctx context.Context, text, source, target string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	src, err := ParseLocale(source)
	if err != nil {
		return "", err
	}
	dst, err := ParseLocale(target)
	if err != nil {
		return "", err
	}
	if src == dst {
		return text, nil
	}

	req := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: fmt.Sprintf(
				"Translate the user's %s speech transcript into %s. Reply with the translation only.",
				DisplayName(src), DisplayName(dst))},
			{Role: "user", Content: text},
		},
	}

	var out string
	err = resilience.Retry(ctx, c.retry, func() error {
		return c.breaker.Do(func() error {
			var cerr error
			out, cerr = c.complete(ctx, req)
			return cerr
		})
	})
	if err != nil {
		if _, ok := apperrors.As(err); ok {
			return "", err
		}
		return "", apperrors.Wrap(err, apperrors.CodeTranslationFailed, "translate")
	}
	return out, nil
}

func (c *Client) complete(ctx context.Context, body chatRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeUnavailable, "do request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeUnavailable, "read response")
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		err := apperrors.Newf(apperrors.CodeUnavailable, "rate limited: %s", data)
		if secs, perr := strconv.Atoi(resp.Header.Get("Retry-After")); perr == nil && secs >= 0 {
			err = err.WithMetadata(resilience.RetryAfterKey, (time.Duration(secs) * time.Second).String())
		}
		return "", err
	case resp.StatusCode >= 500:
		return "", apperrors.Newf(apperrors.CodeUnavailable, "api error: %d - %s", resp.StatusCode, data)
	case resp.StatusCode != http.StatusOK:
		return "", apperrors.Newf(apperrors.CodeTranslationFailed, "api error: %d - %s", resp.StatusCode, data)
	}

	var chat chatResponse
	if err := json.Unmarshal(data, &chat); err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeTranslationFailed, "unmarshal response")
	}
	if len(chat.Choices) == 0 {
		return "", apperrors.New(apperrors.CodeTranslationFailed, "no choices")
	}
	return strings.TrimSpace(chat.Choices[0].Message.Content), nil
}
