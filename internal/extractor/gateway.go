package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"call-insights-go/internal/apperr"
	"call-insights-go/internal/logger"
)

// Gateway posts chat-completion style requests to an LLM gateway URL.
type Gateway struct {
	url      string
	apiKey   string
	model    string
	http     *http.Client
	RetryFor time.Duration
	Vocab    Normalizer
	log      *logger.Logger
}

func NewGateway(url, apiKey, model string, log *logger.Logger) *Gateway {
	return &Gateway{
		url:      url,
		apiKey:   apiKey,
		model:    model,
		http:     &http.Client{Timeout: 25 * time.Second},
		RetryFor: 45 * time.Second,
		log:      log,
	}
}

func (g *Gateway) Analyze(ctx context.Context, transcript string) (*Analysis, error) {
	if g.url == "" || g.apiKey == "" {
		return nil, apperr.Upstream(errors.New("llm gateway not configured"), "llm")
	}
	reqBody := map[string]any{
		"model": g.model,
		"messages": []map[string]string{
			{"role": "user", "content": BuildPrompt(transcript, g.Vocab)},
		},
		"temperature": 0.0,
	}
	data, _ := json.Marshal(reqBody)
	g.log.WithField("payload_len", len(data)).Debug("llm request")

	var out *Analysis
	var lastErr error
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := g.http.Do(req)
		if err != nil {
			lastErr = err
			g.log.WithError(err).Warn("llm request failed")
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			lastErr = fmt.Errorf("read llm response: %w", err)
			g.log.WithError(err).Warn("llm response cut short")
			return lastErr
		}
		g.log.WithField("http_status", resp.StatusCode).Debug("llm response received")

		if resp.StatusCode < 300 {
			// Try choices[0].message.content (OpenAI-like), then the raw body
			for _, raw := range []string{extractContentFromChoices(body), string(body)} {
				if a, err := decodeAnalysis(raw); err == nil {
					out = a
					return nil
				}
			}
		}

		lastErr = fmt.Errorf("no JSON found in LLM output (status %d)", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(lastErr)
		}
		return lastErr
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = g.RetryFor
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if lastErr == nil || ctx.Err() != nil {
			lastErr = err
		}
		return nil, apperr.Upstream(lastErr, "llm extract failed")
	}
	out.Model = g.model
	return out, nil
}
