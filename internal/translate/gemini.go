// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

// Package translate calls the Gemini generateContent endpoint in JSON mode
// to translate a batch of Chinese strings to Korean in a single request.
// The call rate is capped process-wide; failures degrade to an empty result
// so the dispatcher can fall back to inpaint-only mode.
package translate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/kurasell/image-translator/internal/json"
	"github.com/kurasell/image-translator/internal/pipeline"
)

// DefaultBaseURL is the public Gemini API host.
const DefaultBaseURL = "https://generativelanguage.googleapis.com"

const systemInstruction = "You are a helpful translation assistant. " +
	"Translate each of the following texts from the input JSON array into Korean. " +
	"I am translating texts that appear in product detail images, and the Korean translations should be natural. " +
	"Ensure the output array has the same number of elements as the input array and maintains the original order. "

// Translator produces target-language strings for a batch of source
// strings. An implementation returns either len(texts) strings or an empty
// slice; it never returns a partial batch.
type Translator interface {
	TranslateMany(ctx context.Context, texts []string, requestID string) []string
}

// Gemini implements Translator against the REST generateContent endpoint.
type Gemini struct {
	http    *http.Client
	logger  *slog.Logger
	limiter *rate.Limiter
	baseURL string
	model   string
	apiKey  string

	retryDelay time.Duration
}

// NewGemini builds the client. rps caps request starts across all
// goroutines sharing this instance; burst is 1 so calls are strictly
// spaced.
func NewGemini(logger *slog.Logger, baseURL, model, apiKey string, rps float64) *Gemini {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Gemini{
		http:       &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		baseURL:    baseURL,
		model:      model,
		apiKey:     apiKey,
		retryDelay: time.Second,
	}
}

type generateContentRequest struct {
	SystemInstruction *genai.Content          `json:"system_instruction,omitempty"`
	Contents          []*genai.Content        `json:"contents"`
	GenerationConfig  *genai.GenerationConfig `json:"generationConfig,omitempty"`
}

// TranslateMany implements Translator. The whole batch goes out as one
// JSON-array prompt. On any failure the call is retried once after a short
// delay; a second failure or a length mismatch yields an empty slice.
func (g *Gemini) TranslateMany(ctx context.Context, texts []string, requestID string) []string {
	if len(texts) == 0 {
		return []string{}
	}
	logger := g.logger.With(slog.String("request_id", requestID))
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return []string{}
			case <-time.After(g.retryDelay):
			}
		}
		out, err := g.translateOnce(ctx, texts)
		if err == nil {
			return postFilter(out)
		}
		logger.Warn("translation attempt failed",
			slog.Int("attempt", attempt+1),
			slog.Int("texts", len(texts)),
			slog.String("error", err.Error()))
		if ctx.Err() != nil {
			break
		}
	}
	return []string{}
}

func (g *Gemini) translateOnce(ctx context.Context, texts []string) ([]string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	prompt, err := json.Marshal(texts)
	if err != nil {
		return nil, fmt.Errorf("marshal prompt: %w", err)
	}
	body := generateContentRequest{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemInstruction}}},
		Contents: []*genai.Content{{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{{Text: string(prompt)}},
		}},
		GenerationConfig: &genai.GenerationConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema: &genai.Schema{
				Type:  "ARRAY",
				Items: &genai.Schema{Type: "STRING"},
			},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", g.baseURL, g.model, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("endpoint status %d: %s", resp.StatusCode, truncate(respBody, 200))
	}

	var parsed genai.GenerateContentResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(parsed.Candidates) == 0 || parsed.Candidates[0].Content == nil ||
		len(parsed.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("response has no candidate text")
	}

	// In JSON mode the first part's text is itself a JSON string array.
	var translated []string
	inner := parsed.Candidates[0].Content.Parts[0].Text
	if err := json.Unmarshal([]byte(inner), &translated); err != nil {
		return nil, fmt.Errorf("parse inner array: %w", err)
	}
	if len(translated) != len(texts) {
		return nil, fmt.Errorf("length mismatch: sent %d, got %d", len(texts), len(translated))
	}
	return translated, nil
}

// postFilter blanks any translation that still contains CJK ideographs.
// The model occasionally echoes the source text; a blank box reads better
// than untranslated Chinese.
func postFilter(texts []string) []string {
	for i, t := range texts {
		if pipeline.ContainsChinese(t) {
			texts[i] = ""
		}
	}
	return texts
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
