// Package compose suggests post texts for a topic, either from an
// OpenAI-compatible chat model or from built-in templates.
package compose

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/dgellow/xpost/internal/apperr"
	"github.com/dgellow/xpost/internal/config"
	"github.com/dgellow/xpost/internal/ioutil"
	"github.com/dgellow/xpost/internal/log"
	"github.com/dgellow/xpost/internal/platform"
)

// MaxCandidates is the most suggestions returned for one request
const MaxCandidates = 3

const (
	temperature = 0.8
	maxTokens   = 500

	responseBodyLimit = 1 << 20
)

const systemPrompt = "You are a social media expert who writes engaging posts for X. Always respond with valid JSON only."

// Source tells where the candidates came from
type Source string

const (
	SourceModel    Source = "ai"
	SourceTemplate Source = "template"
)

// Result holds the suggested posts
type Result struct {
	Posts  []string `json:"tweets"`
	Source Source   `json:"source"`
}

// Generator produces post candidates
type Generator struct {
	cfg        config.ComposeConfig
	httpClient *http.Client
}

// NewGenerator creates a Generator. Without an API key every request is
// served from the templates.
func NewGenerator(cfg config.ComposeConfig, httpClient *http.Client) *Generator {
	return &Generator{cfg: cfg, httpClient: httpClient}
}

// Generate returns at most MaxCandidates posts about topic. Model failures
// never surface; they fall back to the templates.
func (g *Generator) Generate(ctx context.Context, topic, tone string) (*Result, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, apperr.Invalid("Topic is required")
	}
	t := ParseTone(tone)

	if !g.cfg.Enabled() {
		generations.WithLabelValues(string(SourceTemplate), "disabled").Inc()
		return &Result{Posts: Fallback(topic, t), Source: SourceTemplate}, nil
	}

	posts, err := g.complete(ctx, topic, t)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.LogWarnWithFields("compose", "Model generation failed, using templates", map[string]any{
			"error": err,
			"model": g.cfg.Model,
		})
		generations.WithLabelValues(string(SourceTemplate), "model_error").Inc()
		return &Result{Posts: Fallback(topic, t), Source: SourceTemplate}, nil
	}

	generations.WithLabelValues(string(SourceModel), "").Inc()
	return &Result{Posts: posts, Source: SourceModel}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func prompt(topic string, tone Tone) string {
	return fmt.Sprintf(`Generate %d unique posts for X (formerly Twitter) about the following topic. Each post should be %s. Keep each under %d characters. Do not use hashtags unless specifically relevant. Do not use emojis excessively.

Topic: %s

Return ONLY a JSON array of %d strings, nothing else. Example format:
["Post 1 text here", "Post 2 text here", "Post 3 text here"]`,
		MaxCandidates, tone.Description(), platform.MaxPostLength, topic, MaxCandidates)
}

func (g *Generator) complete(ctx context.Context, topic string, tone Tone) ([]string, error) {
	body, err := json.Marshal(chatRequest{
		Model: g.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt(topic, tone)},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint := strings.TrimRight(g.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+string(g.cfg.APIKey))

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat completion request failed: %w", err)
	}
	defer ioutil.DrainAndClose(resp.Body, ioutil.ErrorBodyLimit)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chat completion returned status %d: %s",
			resp.StatusCode, ioutil.ReadLimited(resp.Body, ioutil.ErrorBodyLimit))
	}

	var out chatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, responseBodyLimit)).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode chat completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, errors.New("chat completion has no choices")
	}

	return ParseCandidates(out.Choices[0].Message.Content)
}

// ParseCandidates reads the model output as a JSON array of strings and
// keeps at most MaxCandidates non-empty entries that fit in one post
func ParseCandidates(content string) ([]string, error) {
	content = stripCodeFence(strings.TrimSpace(content))

	var raw []any
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("model output is not a JSON array: %w", err)
	}

	posts := make([]string, 0, MaxCandidates)
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" || utf8.RuneCountInString(s) > platform.MaxPostLength {
			continue
		}
		posts = append(posts, s)
		if len(posts) == MaxCandidates {
			break
		}
	}
	if len(posts) == 0 {
		return nil, errors.New("model output has no usable posts")
	}
	return posts, nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
