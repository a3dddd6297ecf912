package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castline/backend/internal/models"
)

// bus is an in-process stand-in for Redis pub/sub shared by several hubs.
type bus struct {
	mu       sync.Mutex
	handlers map[string]map[int]func(string, []byte)
	next     int
}

func newBus() *bus { return &bus{handlers: map[string]map[int]func(string, []byte){}} }

func (b *bus) PublishOrganizationEvent(orgID, event string, payload []byte) error {
	b.mu.Lock()
	hs := make([]func(string, []byte), 0, len(b.handlers[orgID]))
	for _, h := range b.handlers[orgID] {
		hs = append(hs, h)
	}
	b.mu.Unlock()
	for _, h := range hs {
		h(event, payload)
	}
	return nil
}

func (b *bus) SubscribeOrganization(orgID string, handler func(string, []byte)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers[orgID] == nil {
		b.handlers[orgID] = map[int]func(string, []byte){}
	}
	b.next++
	n := b.next
	b.handlers[orgID][n] = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[orgID], n)
	}, nil
}

func fakeClient(id, orgID string) *Client {
	return &Client{ID: id, OrganizationID: orgID, send: make(chan WSMessage, sendBuffer)}
}

func drain(c *Client) []WSMessage {
	var out []WSMessage
	for {
		select {
		case m := <-c.send:
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestBroadcastIsScopedToOrganization(t *testing.T) {
	h := NewHub(nil, nil, nil)
	a, b := fakeClient("a", "org_1"), fakeClient("b", "org_2")
	require.NoError(t, h.Register(a))
	require.NoError(t, h.Register(b))

	h.PublishToOrganization("org_1", "submission_created", map[string]string{"id": "sub_1"})

	got := drain(a)
	require.Len(t, got, 1)
	assert.Equal(t, "submission_created", got[0].Event)
	assert.JSONEq(t, `{"id":"sub_1"}`, string(got[0].Data))
	assert.Empty(t, drain(b))
}

func TestPublishThroughRedisDeliversOncePerClient(t *testing.T) {
	shared := newBus()
	h1 := NewHub(nil, shared, shared)
	h2 := NewHub(nil, shared, shared)
	local, remote := fakeClient("local", "org_1"), fakeClient("remote", "org_1")
	require.NoError(t, h1.Register(local))
	require.NoError(t, h2.Register(remote))

	h1.PublishToOrganization("org_1", "member_added", map[string]string{"member_id": "mem_1"})

	assert.Len(t, drain(local), 1)
	assert.Len(t, drain(remote), 1)

	h2.Unregister(remote)
	assert.Zero(t, h2.ConnectionCount("org_1"))
	shared.mu.Lock()
	assert.Len(t, shared.handlers["org_1"], 1, "last client leaving cancels the subscription")
	shared.mu.Unlock()

	h2.Unregister(remote)
}

// flakySubscriber fails its first failures subscriptions, then delegates to the bus.
type flakySubscriber struct {
	*bus
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakySubscriber) SubscribeOrganization(orgID string, handler func(string, []byte)) (func(), error) {
	f.mu.Lock()
	f.calls++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return nil, errors.New("redis: connection refused")
	}
	return f.bus.SubscribeOrganization(orgID, handler)
}

func TestRegisterRetriesFailedSubscription(t *testing.T) {
	shared := newBus()
	sub := &flakySubscriber{bus: shared, failures: 1}
	h := NewHub(nil, shared, sub)
	a, b := fakeClient("a", "org_1"), fakeClient("b", "org_1")

	require.Error(t, h.Register(a))
	assert.Zero(t, h.ConnectionCount("org_1"), "a client without a subscription is refused")

	require.NoError(t, h.Register(b))
	require.NoError(t, h.Register(a))
	assert.Equal(t, 2, sub.calls, "once subscribed, later clients reuse the subscription")

	h.PublishToOrganization("org_1", "member_added", map[string]string{"member_id": "mem_1"})
	assert.Len(t, drain(a), 1)
	assert.Len(t, drain(b), 1)
}

// blockingSubscriber holds SubscribeOrganization open until released.
type blockingSubscriber struct {
	*bus
	entered chan struct{}
	release chan struct{}
}

func (s *blockingSubscriber) SubscribeOrganization(orgID string, handler func(string, []byte)) (func(), error) {
	if orgID == "org_slow" {
		close(s.entered)
		<-s.release
	}
	return s.bus.SubscribeOrganization(orgID, handler)
}

func TestSlowSubscribeDoesNotBlockOtherOrganizations(t *testing.T) {
	shared := newBus()
	sub := &blockingSubscriber{bus: shared, entered: make(chan struct{}), release: make(chan struct{})}
	h := NewHub(nil, shared, sub)

	slow := fakeClient("slow", "org_slow")
	done := make(chan error, 1)
	go func() { done <- h.Register(slow) }()
	<-sub.entered

	fast := fakeClient("fast", "org_1")
	registered := make(chan error, 1)
	go func() { registered <- h.Register(fast) }()
	select {
	case err := <-registered:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Register for another organization waited on a pending subscription")
	}
	h.Broadcast("org_1", "production_created", map[string]string{"id": "prod_1"})
	assert.Len(t, drain(fast), 1)

	close(sub.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, h.ConnectionCount("org_slow"))
}

type fakeTokens struct{}

func (fakeTokens) ValidateToken(token string) (string, string, error) {
	if !strings.HasPrefix(token, "tok-") {
		return "", "", errors.New("bad token")
	}
	return strings.TrimPrefix(token, "tok-"), "", nil
}

type fakeMembers map[string]models.OrgRole

func (m fakeMembers) GetMemberRole(_ context.Context, orgID, userID string) (models.OrgRole, error) {
	return m[orgID+"/"+userID], nil
}

func TestServeWs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(nil, nil, nil)
	r := gin.New()
	r.GET("/ws", ServeWs(hub, fakeTokens{}, fakeMembers{"org_1/user_1": models.OrgRoleMember}, nil, nil))
	srv := httptest.NewServer(r)
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	for _, tc := range []struct {
		query  string
		status int
	}{
		{"?organization_id=org_1", http.StatusBadRequest},
		{"?organization_id=org_1&token=garbage", http.StatusUnauthorized},
		{"?organization_id=org_1&token=tok-user_2", http.StatusForbidden},
	} {
		_, resp, err := websocket.DefaultDialer.Dial(base+tc.query, nil)
		require.Error(t, err, tc.query)
		require.NotNil(t, resp, tc.query)
		assert.Equal(t, tc.status, resp.StatusCode, tc.query)
		resp.Body.Close()
	}

	conn, _, err := websocket.DefaultDialer.Dial(base+"?organization_id=org_1&token=tok-user_1", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ConnectionCount("org_1") == 1 }, time.Second, 10*time.Millisecond)

	hub.PublishToOrganization("org_1", "production_created", map[string]string{"id": "prod_1"})
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "production_created", msg.Event)

	require.NoError(t, conn.WriteJSON(WSMessage{Event: "ping"}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "pong", msg.Event)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return hub.ConnectionCount("org_1") == 0 }, time.Second, 10*time.Millisecond)
}

func TestEncodePassesRawJSON(t *testing.T) {
	raw := json.RawMessage(`{"a":1}`)
	got, err := encode(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}
