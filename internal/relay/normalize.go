package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	ShapeEvolution = "evolution" // key.remoteJid + message.conversation
	ShapeMessages  = "messages"  // messages[0].chatId + messages[0].body

	sessionPrefix = "whatsapp_"
)

// ErrNoText means the payload was understood but carries nothing to answer.
// It is not a failure.
var ErrNoText = errors.New("no actionable text")

type NormalizationError struct {
	Reason string
}

func (e *NormalizationError) Error() string { return "normalize: " + e.Reason }

func badPayload(reason string) error { return &NormalizationError{Reason: reason} }

var senderSuffixes = []string{"@s.whatsapp.net", "@c.us"}

// SessionID derives the conversation key for a sender.
func SessionID(sender string) string { return sessionPrefix + sender }

// Normalize parses a webhook or broker payload into an InboundMessage.
// A {"event","instance","data"} envelope is unwrapped first.
func Normalize(raw []byte) (InboundMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var root any
	if err := dec.Decode(&root); err != nil {
		return InboundMessage{}, badPayload("invalid json: " + err.Error())
	}
	obj, ok := root.(map[string]any)
	if !ok {
		return InboundMessage{}, badPayload("payload is not an object")
	}

	if _, hasKey := obj["key"]; !hasKey {
		if _, hasMsgs := obj["messages"]; !hasMsgs {
			if data, ok := obj["data"].(map[string]any); ok {
				obj = data
			}
		}
	}

	switch {
	case obj["key"] != nil:
		return normalizeEvolution(obj)
	case obj["messages"] != nil:
		return normalizeMessages(obj)
	}
	return InboundMessage{}, badPayload("unrecognized payload shape")
}

func normalizeEvolution(obj map[string]any) (InboundMessage, error) {
	key, ok := obj["key"].(map[string]any)
	if !ok {
		return InboundMessage{}, badPayload("key is not an object")
	}
	jid, ok := key["remoteJid"].(string)
	if !ok {
		return InboundMessage{}, badPayload("key.remoteJid missing or not a string")
	}
	sender := stripSuffix(jid)
	if sender == "" {
		return InboundMessage{}, badPayload("empty sender")
	}

	msg := InboundMessage{
		SenderID:  sender,
		Shape:     ShapeEvolution,
		Timestamp: parseTimestamp(obj["messageTimestamp"]),
	}
	msg.MessageID, _ = key["id"].(string)

	if fromMe, _ := key["fromMe"].(bool); fromMe {
		return msg, ErrNoText
	}

	body, ok := obj["message"].(map[string]any)
	if !ok {
		return InboundMessage{}, badPayload("message missing or not an object")
	}

	if v, present := body["conversation"]; present {
		text, ok := v.(string)
		if !ok {
			return InboundMessage{}, badPayload("message.conversation is not a string")
		}
		msg.Text = text
	} else if ext, ok := body["extendedTextMessage"].(map[string]any); ok {
		text, ok := ext["text"].(string)
		if !ok {
			return InboundMessage{}, badPayload("message.extendedTextMessage.text is not a string")
		}
		msg.Text = text
	}

	// Media and other non-text messages land here with an empty Text.
	if strings.TrimSpace(msg.Text) == "" {
		return msg, ErrNoText
	}
	return msg, nil
}

func normalizeMessages(obj map[string]any) (InboundMessage, error) {
	list, ok := obj["messages"].([]any)
	if !ok {
		return InboundMessage{}, badPayload("messages is not a list")
	}
	if len(list) == 0 {
		return InboundMessage{}, badPayload("messages is empty")
	}
	first, ok := list[0].(map[string]any)
	if !ok {
		return InboundMessage{}, badPayload("messages[0] is not an object")
	}

	chatID, ok := first["chatId"].(string)
	if !ok {
		return InboundMessage{}, badPayload("messages[0].chatId missing or not a string")
	}
	sender := stripSuffix(chatID)
	if sender == "" {
		return InboundMessage{}, badPayload("empty sender")
	}
	text, ok := first["body"].(string)
	if !ok {
		return InboundMessage{}, badPayload("messages[0].body missing or not a string")
	}

	msg := InboundMessage{
		SenderID:  sender,
		Text:      text,
		Shape:     ShapeMessages,
		Timestamp: parseTimestamp(first["timestamp"]),
	}
	msg.MessageID, _ = first["id"].(string)

	if fromMe, _ := first["fromMe"].(bool); fromMe {
		return msg, ErrNoText
	}
	if strings.TrimSpace(text) == "" {
		return msg, ErrNoText
	}
	return msg, nil
}

func stripSuffix(jid string) string {
	jid = strings.TrimSpace(jid)
	for _, s := range senderSuffixes {
		if strings.HasSuffix(jid, s) {
			return strings.TrimSuffix(jid, s)
		}
	}
	return jid
}

// parseTimestamp accepts unix seconds or milliseconds, as a number or a
// numeric string. Anything else yields the zero time.
func parseTimestamp(v any) time.Time {
	var n int64
	switch t := v.(type) {
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			f, ferr := t.Float64()
			if ferr != nil {
				return time.Time{}
			}
			i = int64(f)
		}
		n = i
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return time.Time{}
		}
		n = i
	default:
		return time.Time{}
	}
	if n <= 0 {
		return time.Time{}
	}
	if n > 1e12 {
		return time.UnixMilli(n)
	}
	return time.Unix(n, 0)
}
