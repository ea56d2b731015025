package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/ai"
	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/evolution"
	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/journal"
)

type fakeCompleter struct {
	mu        sync.Mutex
	histories [][]ai.Message
	res       ai.Result
	err       error
	// gate, when set, blocks each call until it receives.
	gate chan struct{}
	// delay simulates provider latency and honours the caller's deadline.
	delay time.Duration
}

func (f *fakeCompleter) Complete(ctx context.Context, history []ai.Message, _ ai.Options) (ai.Result, error) {
	if f.gate != nil {
		<-f.gate
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ai.Result{}, &ai.CompletionError{Kind: ai.KindTimeout, Err: ctx.Err()}
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.histories = append(f.histories, history)
	return f.res, f.err
}

func (f *fakeCompleter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.histories)
}

type sentText struct {
	To   string
	Text string
}

type fakeGateway struct {
	mu      sync.Mutex
	sent    []sentText
	media   []evolution.Media
	err     error
	webhook string
	info    string
}

func (f *fakeGateway) SendText(_ context.Context, to, text string, _ map[string]any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentText{To: to, Text: text})
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(`{"ok":true}`), nil
}

func (f *fakeGateway) SendMedia(_ context.Context, _ string, m evolution.Media, _ map[string]any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.media = append(f.media, m)
	return json.RawMessage(`{"ok":true}`), f.err
}

func (f *fakeGateway) InstanceInfo(_ context.Context, instance string) (json.RawMessage, error) {
	f.info = instance
	return json.RawMessage(`{"state":"open"}`), f.err
}

func (f *fakeGateway) SetWebhook(_ context.Context, instance string) (json.RawMessage, error) {
	f.webhook = instance
	return json.RawMessage(`{"enabled":true}`), f.err
}

func (f *fakeGateway) sentCopy() []sentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentText(nil), f.sent...)
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (f *fakeJournal) Record(_ context.Context, e journal.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeJournal) Recent(_ context.Context, _ int) ([]journal.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]journal.Entry(nil), f.entries...), nil
}

// syncBuffer is a log sink safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func bufferLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}
