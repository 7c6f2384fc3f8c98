package discord

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradenotify/internal/retry"
)

func TestChannelSendReturnsMessageID(t *testing.T) {
	var gotPayload webhookPayload
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("wait"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "1136718642069"}`))
	}))
	defer server.Close()

	ch := NewChannel("primary", server.URL, 5*time.Second, zerolog.Nop())
	ch.httpClient = server.Client()

	embed := Embed{Title: "BUY TO OPEN: ORCL"}
	id, err := ch.Send(context.Background(), "<@&role-1>", embed)
	require.NoError(t, err)
	assert.Equal(t, "1136718642069", id)

	assert.Equal(t, "<@&role-1>", gotPayload.Content)
	require.Len(t, gotPayload.Embeds, 1)
	assert.Equal(t, "BUY TO OPEN: ORCL", gotPayload.Embeds[0].Title)
}

func TestChannelDisabledWithoutHTTPSURL(t *testing.T) {
	ch := NewChannel("secondary", "", 5*time.Second, zerolog.Nop())
	assert.False(t, ch.Enabled())

	// Disabled channels drop messages silently.
	id, err := ch.Send(context.Background(), "", Embed{})
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestChannelGoneWebhookIsFatal(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "Unknown Webhook"}`, http.StatusNotFound)
	}))
	defer server.Close()

	ch := NewChannel("primary", server.URL, 5*time.Second, zerolog.Nop())
	ch.httpClient = server.Client()

	_, err := ch.Send(context.Background(), "", Embed{Title: "x"})
	require.Error(t, err)

	var fatal *retry.FatalError
	assert.True(t, errors.As(err, &fatal))
}

func TestNotifierRequiresOneEnabledChannel(t *testing.T) {
	n := NewNotifier([]*Channel{
		NewChannel("primary", "", time.Second, zerolog.Nop()),
	}, "role-1", zerolog.Nop())

	_, err := n.SendToAll(context.Background(), "", Embed{})
	assert.Error(t, err)
	assert.Equal(t, "role-1", n.RoleID())
}
