package relayhttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"negotiation-chat/internal/relay"
)

type fakeGetter struct {
	val    string
	err    error
	onCall func()
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	if f.onCall != nil {
		f.onCall()
	}
	return f.val, f.err
}

func newTestClient(t *testing.T, srv *httptest.Server, g Getter) *Client {
	t.Helper()
	c, err := NewClient(srv.URL, g, "/negotiation-chat", WithHTTPClient(&http.Client{Timeout: 2 * time.Second}))
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("", &fakeGetter{}, "/p")
	require.ErrorContains(t, err, "base url")
	_, err = NewClient("http://relay", nil, "/p")
	require.ErrorContains(t, err, "nil")
	_, err = NewClient("http://relay", &fakeGetter{}, " / ")
	require.ErrorContains(t, err, "prefix")
}

func TestPublish_NewMessageUsesSendMessage(t *testing.T) {
	var gotPath, gotAuth string
	var body sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeGetter{val: `{"token":"relay-secret"}`})
	ev := relay.Event{Name: relay.EventNewMessage, Data: json.RawMessage(`{"id":"m1","content":"hola"}`)}
	require.NoError(t, c.Publish(context.Background(), relay.ConversationTopic("c1"), ev))

	require.Equal(t, "/send-message", gotPath)
	require.Equal(t, "Bearer relay-secret", gotAuth)
	require.Equal(t, "c1", body.ConversationID)
	require.JSONEq(t, `{"id":"m1","content":"hola"}`, string(body.Message))
}

func TestPublish_OtherEventsUseTrigger(t *testing.T) {
	var gotPath string
	var body triggerRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeGetter{val: `{"token":"t"}`})
	ev := relay.Event{Name: relay.EventNewConversation, Data: json.RawMessage(`{"conversationId":"c1"}`)}
	require.NoError(t, c.Publish(context.Background(), relay.ProviderTopic("p1"), ev))

	require.Equal(t, "/trigger", gotPath)
	require.Equal(t, "provider-p1", body.Channel)
	require.Equal(t, relay.EventNewConversation, body.Event)
}

func TestPublish_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"trigger failed"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeGetter{val: `{"token":"t"}`})
	err := c.Publish(context.Background(), "chat-c1", relay.Event{Name: relay.EventNewMessage, Data: json.RawMessage(`{}`)})

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusInternalServerError, statusErr.HTTPStatusCode())
	require.Contains(t, err.Error(), "trigger failed")
}

func TestPublish_TokenFetchedOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	calls := 0
	g := &fakeGetter{val: `{"token":"t"}`, onCall: func() { calls++ }}
	c := newTestClient(t, srv, g)
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Publish(context.Background(), "chat-c1", relay.Event{Name: relay.EventNewMessage, Data: json.RawMessage(`{}`)}))
	}
	require.Equal(t, 1, calls)
}

func TestFetchToken(t *testing.T) {
	tok, err := fetchToken(context.Background(), &fakeGetter{val: `{"token":"abc"}`}, "/p/relay-token")
	require.NoError(t, err)
	require.Equal(t, "abc", tok)

	_, err = fetchToken(context.Background(), &fakeGetter{val: `{"other":"x"}`}, "/p/relay-token")
	require.ErrorContains(t, err, "empty")

	_, err = fetchToken(context.Background(), &fakeGetter{val: `{"broken`}, "/p/relay-token")
	require.ErrorContains(t, err, "unmarshal")

	_, err = fetchToken(context.Background(), &fakeGetter{err: errors.New("ssm unavailable")}, "/p/relay-token")
	require.ErrorContains(t, err, "ssm unavailable")
}
