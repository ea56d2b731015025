package evolution

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestSendText(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/message/sendText/5511999", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("apikey"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"key":{"id":"abc"}}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL + "/", APIKey: "secret"}, nil)
	require.NoError(t, err)

	raw, err := c.SendText(t.Context(), "5511999", "olá", map[string]any{"delay": 1200})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":{"id":"abc"}}`, string(raw))

	assert.Equal(t, "5511999", got["number"])
	assert.Equal(t, "olá", got["text"])
	assert.Equal(t, map[string]any{"delay": float64(1200)}, got["options"])
}

func TestSendText_OmitsEmptyOptions(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	raw, err := c.SendText(t.Context(), "1", "x", nil)
	require.NoError(t, err)
	assert.Equal(t, "null", string(raw))
	assert.NotContains(t, got, "options")
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "instance not connected", http.StatusBadRequest)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	_, err = c.SendText(t.Context(), "1", "x", nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Contains(t, apiErr.Body, "instance not connected")
}

func TestSetWebhookAndInstanceInfo(t *testing.T) {
	var webhookBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/instance/setWebhook/main":
			_ = json.NewDecoder(r.Body).Decode(&webhookBody)
			_, _ = w.Write([]byte(`{"ok":true}`))
		case "/instance/info/main":
			assert.Equal(t, http.MethodGet, r.Method)
			_, _ = w.Write([]byte(`connected`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, WebhookURL: "https://bridge/webhook"}, nil)
	require.NoError(t, err)

	_, err = c.SetWebhook(t.Context(), "main")
	require.NoError(t, err)
	assert.Equal(t, "https://bridge/webhook", webhookBody["webhook"])
	assert.Equal(t, true, webhookBody["enabled"])
	assert.Equal(t, false, webhookBody["webhook_by_events"])

	raw, err := c.InstanceInfo(t.Context(), "main")
	require.NoError(t, err)
	assert.Equal(t, `"connected"`, string(raw))
}

func TestSendMedia(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/message/sendMedia/55", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	_, err = c.SendMedia(t.Context(), "55", Media{Media: "https://x/y.png", Caption: "promo"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://x/y.png", got["media"])
	assert.Equal(t, "promo", got["caption"])
}
