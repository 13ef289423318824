// Copyright Image Translator Authors
// SPDX-License-Identifier: Apache-2.0

package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
}

func geminiResponse(t *testing.T, translations []string) []byte {
	t.Helper()
	inner, err := json.Marshal(translations)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]any{
		"candidates": []map[string]any{{
			"content": map[string]any{
				"parts": []map[string]any{{"text": string(inner)}},
				"role":  "model",
			},
		}},
	})
	require.NoError(t, err)
	return body
}

func newTestGemini(t *testing.T, handler http.HandlerFunc) *Gemini {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	g := NewGemini(testLogger(), srv.URL, "gemini-2.0-flash", "test-key", 1000)
	g.retryDelay = time.Millisecond
	return g
}

func TestTranslateManySuccess(t *testing.T) {
	var gotPath, gotKey string
	var gotBody []byte
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write(geminiResponse(t, []string{"안녕", "세계"}))
	})

	out := g.TranslateMany(context.Background(), []string{"你好", "世界"}, "r1")
	require.Equal(t, []string{"안녕", "세계"}, out)
	require.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", gotPath)
	require.Equal(t, "test-key", gotKey)

	var req map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &req))
	require.Contains(t, req, "system_instruction")
	gc, ok := req["generationConfig"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "application/json", gc["responseMimeType"])

	// The prompt is the JSON-encoded input array.
	contents := req["contents"].([]any)
	parts := contents[0].(map[string]any)["parts"].([]any)
	text := parts[0].(map[string]any)["text"].(string)
	var sent []string
	require.NoError(t, json.Unmarshal([]byte(text), &sent))
	require.Equal(t, []string{"你好", "世界"}, sent)
}

func TestTranslateManyEmptyInput(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty input")
	})
	require.Empty(t, g.TranslateMany(context.Background(), nil, "r1"))
}

func TestTranslateManyLengthMismatchReturnsEmpty(t *testing.T) {
	var calls atomic.Int32
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write(geminiResponse(t, []string{"안녕"}))
	})

	out := g.TranslateMany(context.Background(), []string{"你好", "世界"}, "r1")
	require.Empty(t, out)
	// One retry after the first failure.
	require.EqualValues(t, 2, calls.Load())
}

func TestTranslateManyRetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(geminiResponse(t, []string{"안녕"}))
	})

	out := g.TranslateMany(context.Background(), []string{"你好"}, "r1")
	require.Equal(t, []string{"안녕"}, out)
	require.EqualValues(t, 2, calls.Load())
}

func TestTranslateManyBlanksEchoedChinese(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(geminiResponse(t, []string{"안녕", "还是中文"}))
	})

	out := g.TranslateMany(context.Background(), []string{"你好", "中文"}, "r1")
	require.Equal(t, []string{"안녕", ""}, out)
}

func TestTranslateManyOutputLengthInvariant(t *testing.T) {
	// len(out) must be 0 or len(in) for every response shape.
	responses := [][]string{
		{"一", "二", "三"},
		{"only-one"},
		{},
	}
	for i, resp := range responses {
		t.Run(fmt.Sprintf("response_%d", i), func(t *testing.T) {
			g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write(geminiResponse(t, resp))
			})
			out := g.TranslateMany(context.Background(), []string{"你", "好", "吗"}, "r1")
			require.Contains(t, []int{0, 3}, len(out))
		})
	}
}

func TestTranslateManyMalformedInnerJSON(t *testing.T) {
	g := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := json.Marshal(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"parts": []map[string]any{{"text": "not json"}},
					"role":  "model",
				},
			}},
		})
		_, _ = w.Write(body)
	})
	require.Empty(t, g.TranslateMany(context.Background(), []string{"你好"}, "r1"))
}
