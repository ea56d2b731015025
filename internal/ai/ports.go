package ai

import (
	"context"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message - универсальный формат диалога, общий для истории и провайдера.
// После добавления в историю не изменяется.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

type Options struct {
	MaxTokens   int
	Temperature float32
	Stream      bool
}

// DefaultOptions matches what the bridge always sent to the provider.
func DefaultOptions() Options {
	return Options{MaxTokens: 2048, Temperature: 0.7}
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Result struct {
	Content  string `json:"content"`
	Model    string `json:"model"`
	Endpoint string `json:"endpoint"`
	Usage    *Usage `json:"usage,omitempty"`
}

// Completer - внешний интеллект, не знает ни про WhatsApp, ни про сессии.
// Ошибки провайдера возвращаются как *CompletionError.
type Completer interface {
	Complete(ctx context.Context, history []Message, opts Options) (Result, error)
}
