package translate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/GriffinCanCode/hearing-assist/internal/errors"
	"github.com/GriffinCanCode/hearing-assist/internal/resilience"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, IsRetryable: resilience.IsRetryableError}
}

func TestParseLocale(t *testing.T) {
	for _, s := range []string{"en", "pt-BR", "zh-Hant", "de-DE"} {
		if _, err := ParseLocale(s); err != nil {
			t.Errorf("ParseLocale(%q) = %v", s, err)
		}
	}
	if _, err := ParseLocale("not a locale!"); !apperrors.IsCode(err, apperrors.CodeInvalidArgument) {
		t.Errorf("ParseLocale(garbage) = %v, want INVALID_ARGUMENT", err)
	}
}

func TestTranslate(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"choices":[{"message":{"content":" Hallo Welt \n"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL + "/v1/", APIKey: "k", Model: "gpt-4o-mini"})
	if !c.Ready() {
		t.Fatal("Ready() = false")
	}
	out, err := c.Translate(context.Background(), "hello world", "en", "de")
	if err != nil {
		t.Fatalf("Translate() = %v", err)
	}
	if out != "Hallo Welt" {
		t.Errorf("Translate() = %q, want Hallo Welt", out)
	}
	if got.Model != "gpt-4o-mini" || len(got.Messages) != 2 || got.Messages[1].Content != "hello world" {
		t.Errorf("request = %+v", got)
	}
	if !strings.Contains(got.Messages[0].Content, "German") {
		t.Errorf("system prompt = %q, want target language name", got.Messages[0].Content)
	}
}

func TestTranslateShortCircuits(t *testing.T) {
	c := NewClient(Config{Endpoint: "http://127.0.0.1:1", APIKey: "k"})
	if out, err := c.Translate(context.Background(), "  ", "en", "de"); err != nil || out != "" {
		t.Errorf("blank text = (%q, %v)", out, err)
	}
	if out, err := c.Translate(context.Background(), "same", "en", "en"); err != nil || out != "same" {
		t.Errorf("same locale = (%q, %v)", out, err)
	}
	if _, err := c.Translate(context.Background(), "x", "en", "??"); !apperrors.IsCode(err, apperrors.CodeInvalidArgument) {
		t.Errorf("bad target = %v", err)
	}
}

func TestTranslateRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"bonjour"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL, APIKey: "k"}).WithRetry(fastRetry())
	out, err := c.Translate(context.Background(), "hello", "en", "fr")
	if err != nil || out != "bonjour" {
		t.Errorf("Translate() = (%q, %v)", out, err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestTranslateClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL, APIKey: "k"}).WithRetry(fastRetry())
	_, err := c.Translate(context.Background(), "hello", "en", "fr")
	if !apperrors.IsCode(err, apperrors.CodeTranslationFailed) {
		t.Errorf("Translate() = %v, want TRANSLATION_FAILED", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestReadyRequiresCredentials(t *testing.T) {
	if NewClient(Config{Endpoint: "http://x"}).Ready() {
		t.Error("Ready() without API key")
	}
}

func TestTranslateHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"hola"}}]}`))
	}))
	defer srv.Close()

	// A long base delay would time the test out if the hint were ignored.
	retry := fastRetry()
	retry.BaseDelay = time.Minute
	retry.MaxDelay = time.Minute
	c := NewClient(Config{Endpoint: srv.URL, APIKey: "k"}).WithRetry(retry)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := c.Translate(ctx, "hello", "en", "es")
	if err != nil || out != "hola" {
		t.Errorf("Translate() = (%q, %v)", out, err)
	}
}

func TestRepeatedOutagesOpenBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL, APIKey: "k"}).WithRetry(fastRetry())
	for i := 0; i < 2; i++ {
		if _, err := c.Translate(context.Background(), "hello", "en", "de"); err == nil {
			t.Fatal("Translate() succeeded against a failing endpoint")
		}
	}
	if c.Ready() {
		t.Error("Ready() = true after repeated outages")
	}
	if c.Breaker().Trips() != 1 {
		t.Errorf("Trips() = %d, want 1", c.Breaker().Trips())
	}
}
