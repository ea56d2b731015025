package ai

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const DefaultTimeout = 120 * time.Second

var tracer = otel.Tracer("github.com/Vovarama1992/whatsapp-ai-bridge/internal/ai")

// Endpoint - одна точка OpenAI-совместимого API (<BaseURL>/chat/completions).
type Endpoint struct {
	Name    string
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type OpenAIClient struct {
	client       *openai.Client
	endpoint     Endpoint
	systemPrompt string
	logger       *slog.Logger
}

func NewOpenAIClient(ep Endpoint, systemPrompt string, logger *slog.Logger) (*OpenAIClient, error) {
	if strings.TrimSpace(ep.APIKey) == "" {
		return nil, ErrMissingCredential
	}
	if ep.Model == "" {
		ep.Model = "deepseek-chat"
	}
	if ep.Timeout <= 0 {
		ep.Timeout = DefaultTimeout
	}
	if ep.Name == "" {
		ep.Name = ep.Model
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	cfg := openai.DefaultConfig(ep.APIKey)
	if ep.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(ep.BaseURL, "/")
	}
	// Per-call deadline comes from the context; the client itself never times out.
	cfg.HTTPClient = &http.Client{}

	return &OpenAIClient{
		client:       openai.NewClientWithConfig(cfg),
		endpoint:     ep,
		systemPrompt: systemPrompt,
		logger:       logger.With("component", "ai", "endpoint", ep.Name),
	}, nil
}

func (c *OpenAIClient) Name() string { return c.endpoint.Name }

func (c *OpenAIClient) Complete(ctx context.Context, history []Message, opts Options) (Result, error) {
	ctx, span := tracer.Start(ctx, "ai.complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("ai.endpoint", c.endpoint.Name),
		attribute.String("ai.model", c.endpoint.Model),
		attribute.Int("ai.history_len", len(history)),
		attribute.Bool("ai.stream", opts.Stream),
	)

	ctx, cancel := context.WithTimeout(ctx, c.endpoint.Timeout)
	defer cancel()

	req := c.buildRequest(history, opts)
	c.logger.Debug("chat completion request", "messages", len(req.Messages), "max_tokens", req.MaxTokens)

	var (
		res Result
		err error
	)
	if opts.Stream {
		res, err = c.completeStream(ctx, req)
	} else {
		res, err = c.completeOnce(ctx, req)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
		c.logger.Error("chat completion failed", "kind", KindOf(err), "error", err)
		return Result{}, err
	}

	span.SetAttributes(attribute.String("ai.response_model", res.Model))
	return res, nil
}

// buildRequest prepends the persona prompt; it is never stored in history.
func (c *OpenAIClient) buildRequest(history []Message, opts Options) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if c.systemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    string(RoleSystem),
			Content: c.systemPrompt,
		})
	}
	for _, m := range history {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	return openai.ChatCompletionRequest{
		Model:       c.endpoint.Model,
		Messages:    msgs,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Stream:      opts.Stream,
	}
}

func (c *OpenAIClient) completeOnce(ctx context.Context, req openai.ChatCompletionRequest) (Result, error) {
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Result{}, classify(c.endpoint.Name, err)
	}

	if len(resp.Choices) == 0 {
		return Result{}, malformed(c.endpoint.Name, errors.New("empty choices"))
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return Result{}, malformed(c.endpoint.Name, errors.New("empty message content"))
	}

	res := Result{
		Content:  content,
		Model:    resp.Model,
		Endpoint: c.endpoint.Name,
	}
	if resp.Usage.TotalTokens > 0 {
		res.Usage = &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return res, nil
}

func (c *OpenAIClient) completeStream(ctx context.Context, req openai.ChatCompletionRequest) (Result, error) {
	req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return Result{}, classify(c.endpoint.Name, err)
	}
	defer stream.Close()

	var (
		sb  strings.Builder
		res = Result{Endpoint: c.endpoint.Name}
	)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, classify(c.endpoint.Name, err)
		}
		if chunk.Model != "" {
			res.Model = chunk.Model
		}
		if len(chunk.Choices) > 0 {
			sb.WriteString(chunk.Choices[0].Delta.Content)
		}
		if chunk.Usage != nil && chunk.Usage.TotalTokens > 0 {
			res.Usage = &Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
	}

	res.Content = sb.String()
	if strings.TrimSpace(res.Content) == "" {
		return Result{}, malformed(c.endpoint.Name, errors.New("empty streamed content"))
	}
	return res, nil
}
