// Package selectorgen generates and repairs CSS selectors with an LLM.
// It backs the optional selector generation capability; deployments
// without an API key run the heuristic candidate lists only.
package selectorgen

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/sitelens/discovery/internal/discovery"
)

const (
	defaultModel     = "claude-3-5-haiku-latest"
	defaultMaxTokens = 1024

	// Markup beyond this is truncated before prompting. Product pages
	// front-load the fields we care about.
	maxPromptHTML = 30000
)

// Config captures the generator parameters.
type Config struct {
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`
	Model     string `mapstructure:"model" yaml:"model"`
	MaxTokens int64  `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// Generator calls the Anthropic Messages API to propose selectors for
// fields the heuristic pass could not locate.
type Generator struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	logger    *zap.Logger
}

// New creates a Generator. A missing API key is an error; callers decide
// whether the capability is configured before constructing one.
func New(cfg Config, logger *zap.Logger) (*Generator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	return &Generator{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    logger,
	}, nil
}

// GenerateSelectors asks the model for CSS selector candidates for a field
// on the given product page markup.
func (g *Generator) GenerateSelectors(ctx context.Context, html, fieldName string) ([]discovery.SelectorCandidate, error) {
	prompt := fmt.Sprintf(`You are an expert at extracting product data from e-commerce HTML.
Propose up to 3 CSS selectors that select the product %s on the page below.
Respond with a JSON array only, no prose, in the form:
[{"selector": ".css-selector", "confidence": 0.9}]
Confidence is your estimate between 0 and 1 that the selector matches the field on similar pages of the same site.

HTML:
%s`, fieldName, truncateHTML(html))

	text, err := g.complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate selectors for %s: %w", fieldName, err)
	}

	var candidates []discovery.SelectorCandidate
	if err := json.Unmarshal([]byte(stripCodeFences(text)), &candidates); err != nil {
		return nil, fmt.Errorf("decode selector candidates for %s: %w", fieldName, err)
	}
	out := candidates[:0]
	for _, c := range candidates {
		if strings.TrimSpace(c.Selector) == "" {
			continue
		}
		if c.Confidence < 0 {
			c.Confidence = 0
		}
		if c.Confidence > 1 {
			c.Confidence = 1
		}
		out = append(out, c)
	}
	g.logger.Debug("generated selector candidates",
		zap.String("field", fieldName),
		zap.Int("candidates", len(out)),
	)
	return out, nil
}

// RepairSelector asks the model for a replacement for a selector that no
// longer matches the page.
func (g *Generator) RepairSelector(ctx context.Context, oldSelector, html, expectedField string) (string, error) {
	prompt := fmt.Sprintf(`The CSS selector %q used to select the product %s on this site but no longer matches.
Propose a single replacement CSS selector for the page below.
Respond with the selector only, no prose, no code fences.

HTML:
%s`, oldSelector, expectedField, truncateHTML(html))

	text, err := g.complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("repair selector for %s: %w", expectedField, err)
	}
	selector := strings.TrimSpace(stripCodeFences(text))
	if selector == "" {
		return "", fmt.Errorf("repair selector for %s: empty response", expectedField)
	}
	// Keep the first line if the model added commentary anyway.
	if i := strings.IndexByte(selector, '\n'); i >= 0 {
		selector = strings.TrimSpace(selector[:i])
	}
	return selector, nil
}

func (g *Generator) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: g.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

func truncateHTML(html string) string {
	if len(html) <= maxPromptHTML {
		return html
	}
	return html[:maxPromptHTML]
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
