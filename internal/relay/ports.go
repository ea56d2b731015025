package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/evolution"
	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/journal"
)

// InboundMessage - каноническая форма входящего сообщения после нормализации.
type InboundMessage struct {
	SenderID  string
	Text      string
	Timestamp time.Time // zero when the payload carried none
	MessageID string
	Shape     string
}

type State string

const (
	StateReceived       State = "received"
	StateNormalized     State = "normalized"
	StateHistoryUpdated State = "history_updated"
	StateCompleted      State = "completed"
	StateDelivered      State = "delivered"
	StateFailed         State = "failed"
	// StateSkipped is the silent stop: bad payload, no text or a duplicate.
	StateSkipped State = "skipped"
)

// Report describes how one relay cycle ended.
type Report struct {
	State     State
	SessionID string
	Sender    string
	MessageID string
	Reply     string
	Err       error
}

// Outbound - доставка ответа обратно в чат.
type Outbound interface {
	SendText(ctx context.Context, recipient, text string, options map[string]any) (json.RawMessage, error)
}

// Gateway is the full messaging surface exposed through the admin routes.
type Gateway interface {
	Outbound
	SendMedia(ctx context.Context, number string, m evolution.Media, options map[string]any) (json.RawMessage, error)
	InstanceInfo(ctx context.Context, instance string) (json.RawMessage, error)
	SetWebhook(ctx context.Context, instance string) (json.RawMessage, error)
}

// Journal - optional record of cycle outcomes.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) error
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}
