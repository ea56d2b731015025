package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/ai"
	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/journal"
	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/metrics"
	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/session"
)

var tracer = otel.Tracer("github.com/Vovarama1992/whatsapp-ai-bridge/internal/relay")

const (
	DefaultCycleTimeout = 180 * time.Second

	noticeTimeout  = 15 * time.Second
	journalTimeout = 5 * time.Second
)

// DeliveryError is logged and reported, never retried.
type DeliveryError struct {
	Recipient string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.Recipient, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

type Config struct {
	Options     ai.Options
	ErrorNotice string
	// SerializeSessions runs at most one cycle per session at a time.
	SerializeSessions bool
	// CycleTimeout bounds completion plus delivery. It starts once the
	// session lock is held, so queued messages keep their full budget.
	CycleTimeout time.Duration
	DedupTTL     time.Duration
}

type Service struct {
	store    *session.Store
	ai       ai.Completer
	outbound Outbound
	journal  Journal
	metrics  *metrics.Metrics
	logger   *slog.Logger
	cfg      Config
	locks    *sessionLocks
	dedup    *dedup
	now      func() time.Time
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithJournal enables cycle journaling. A nil journal is ignored.
func WithJournal(j Journal) Option { return func(s *Service) { s.journal = j } }

func NewService(store *session.Store, completer ai.Completer, outbound Outbound, cfg Config, opts ...Option) *Service {
	if cfg.Options == (ai.Options{}) {
		cfg.Options = ai.DefaultOptions()
	}
	if cfg.ErrorNotice == "" {
		cfg.ErrorNotice = ai.DefaultErrorNotice
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = DefaultCycleTimeout
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = dedupTTL
	}

	s := &Service{
		store:    store,
		ai:       completer,
		outbound: outbound,
		cfg:      cfg,
		locks:    newSessionLocks(),
		dedup:    newDedup(dedupSize, cfg.DedupTTL),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	s.logger = s.logger.With("component", "relay")
	if s.metrics == nil {
		s.metrics = metrics.New(nil)
	}
	return s
}

// HandleEvent runs one relay cycle for a raw webhook or broker payload.
// It never returns an error: the outcome is in the Report.
func (s *Service) HandleEvent(ctx context.Context, raw []byte) Report {
	msg, err := Normalize(raw)
	if err != nil {
		rep := Report{State: StateSkipped, Sender: msg.SenderID, MessageID: msg.MessageID, Err: err}
		if errors.Is(err, ErrNoText) {
			s.logger.Info("no text message in event", "sender", msg.SenderID)
		} else {
			s.logger.Warn("dropping unrecognized event", "error", err)
		}
		s.metrics.Cycle(string(rep.State))
		return rep
	}
	return s.HandleMessage(ctx, msg)
}

// HandleMessage runs the cycle from an already normalized message.
func (s *Service) HandleMessage(ctx context.Context, msg InboundMessage) Report {
	start := s.now()
	sid := SessionID(msg.SenderID)

	ctx, span := tracer.Start(ctx, "relay.cycle")
	defer span.End()
	span.SetAttributes(attribute.String("relay.session_id", sid))

	rep := Report{
		State:     StateNormalized,
		SessionID: sid,
		Sender:    msg.SenderID,
		MessageID: msg.MessageID,
	}
	logger := s.logger.With("session_id", sid, "message_id", msg.MessageID)

	if s.dedup.Seen(msg.MessageID) {
		logger.Info("duplicate message dropped")
		rep.State = StateSkipped
		s.metrics.Cycle(string(rep.State))
		return rep
	}

	if s.cfg.SerializeSessions {
		unlock, err := s.locks.Lock(ctx, sid)
		if err != nil {
			rep.State = StateFailed
			rep.Err = err
			logger.Warn("gave up waiting for session", "error", err)
			s.finish(ctx, rep, ai.Result{}, start)
			return rep
		}
		defer unlock()
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.CycleTimeout)
	defer cancel()

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	s.store.Append(sid, ai.Message{Role: ai.RoleUser, Content: msg.Text, Timestamp: ts})
	rep.State = StateHistoryUpdated
	logger.Info("message received", "text_len", len(msg.Text))

	history := s.store.Snapshot(sid)
	callStart := s.now()
	res, err := s.ai.Complete(ctx, history, s.cfg.Options)
	s.recordCompletion(res, err, s.now().Sub(callStart))

	if err != nil {
		rep.State = StateFailed
		rep.Err = err
		logger.Error("completion failed", "kind", ai.KindOf(err), "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")

		// Nobody is waiting for a cycle the caller abandoned.
		if !errors.Is(err, ai.ErrCanceled) {
			s.sendNotice(ctx, logger, msg.SenderID)
		}
		s.finish(ctx, rep, res, start)
		return rep
	}

	s.store.Append(sid, ai.Message{Role: ai.RoleAssistant, Content: res.Content, Timestamp: s.now()})
	rep.State = StateCompleted
	rep.Reply = res.Content

	if _, err := s.outbound.SendText(ctx, msg.SenderID, res.Content, nil); err != nil {
		rep.Err = &DeliveryError{Recipient: msg.SenderID, Err: err}
		s.metrics.Delivery("reply", false)
		logger.Error("reply delivery failed", "error", err)
		s.finish(ctx, rep, res, start)
		return rep
	}
	s.metrics.Delivery("reply", true)
	rep.State = StateDelivered
	logger.Info("reply delivered", "endpoint", res.Endpoint, "model", res.Model)

	s.finish(ctx, rep, res, start)
	return rep
}

// sendNotice tells the user something went wrong. Best effort.
func (s *Service) sendNotice(ctx context.Context, logger *slog.Logger, recipient string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), noticeTimeout)
	defer cancel()

	if _, err := s.outbound.SendText(ctx, recipient, s.cfg.ErrorNotice, nil); err != nil {
		s.metrics.Delivery("notice", false)
		logger.Error("error notice delivery failed", "error", err)
		return
	}
	s.metrics.Delivery("notice", true)
}

func (s *Service) recordCompletion(res ai.Result, err error, d time.Duration) {
	if err == nil {
		tokens := 0
		if res.Usage != nil {
			tokens = res.Usage.TotalTokens
		}
		s.metrics.Completion(res.Endpoint, "ok", d, tokens)
		return
	}
	endpoint, result := "", "error"
	var ce *ai.CompletionError
	if errors.As(err, &ce) {
		endpoint, result = ce.Endpoint, string(ce.Kind)
	}
	s.metrics.Completion(endpoint, result, d, 0)
}

func (s *Service) finish(ctx context.Context, rep Report, res ai.Result, start time.Time) {
	s.metrics.Cycle(string(rep.State))
	if s.journal == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()

	kind := string(ai.KindOf(rep.Err))
	var derr *DeliveryError
	switch {
	case errors.As(rep.Err, &derr):
		kind = "delivery"
	case kind == "" && isContextErr(rep.Err):
		kind = string(ai.KindCanceled)
	}
	err := s.journal.Record(ctx, journal.Entry{
		SessionID: rep.SessionID,
		MessageID: rep.MessageID,
		State:     string(rep.State),
		ErrorKind: kind,
		Endpoint:  res.Endpoint,
		Model:     res.Model,
		LatencyMS: s.now().Sub(start).Milliseconds(),
	})
	if err != nil {
		s.logger.Warn("journal write failed", "error", err)
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Store exposes the conversation store for inspection routes.
func (s *Service) Store() *session.Store { return s.store }

func (s *Service) Completer() ai.Completer { return s.ai }

func (s *Service) Journal() Journal { return s.journal }
