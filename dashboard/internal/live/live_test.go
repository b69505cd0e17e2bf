package live

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/abdalla-omar/perkmanager/pkg/api/client"
)

type recordingSubscriber struct {
	mu       sync.Mutex
	payloads [][]byte
	fail     bool
	closed   bool
	got      chan struct{}
}

func newRecordingSubscriber() *recordingSubscriber {
	return &recordingSubscriber{got: make(chan struct{}, 16)}
}

func (s *recordingSubscriber) Send(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("broken pipe")
	}
	s.payloads = append(s.payloads, p)
	s.got <- struct{}{}
	return nil
}

func (s *recordingSubscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *recordingSubscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHubBroadcastsByTopic(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	votes := newRecordingSubscriber()
	other := newRecordingSubscriber()
	hub.Register(TopicVotes, votes)
	hub.Register("other", other)

	hub.Broadcast(TopicVotes, []byte("hello"))
	<-votes.got
	require.Equal(t, 2, hub.Subscribers())
	require.Empty(t, other.payloads)
}

func TestHubDropsFailingSubscriber(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	broken := newRecordingSubscriber()
	broken.fail = true
	hub.Register(TopicVotes, broken)

	hub.Broadcast(TopicVotes, []byte("x"))
	require.Zero(t, hub.Subscribers())
	require.True(t, broken.isClosed())
}

func TestHubCloseClosesClients(t *testing.T) {
	hub := NewHub()
	sub := newRecordingSubscriber()
	hub.Register(TopicVotes, sub)
	require.Equal(t, 1, hub.Subscribers())
	hub.Close()
	require.Eventually(t, sub.isClosed, time.Second, 10*time.Millisecond)
	hub.Broadcast(TopicVotes, []byte("ignored"))
	require.Zero(t, hub.Subscribers())
}

func TestServeWSDeliversPatches(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	srv := httptest.NewServer(ServeWS(hub, discardLogger()))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.PublishPatch(Patch{PerkID: 4, HTML: `<span id="perk-4-net">Net 1</span>`}))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got Patch
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, int64(4), got.PerkID)
	require.Contains(t, got.HTML, "perk-4-net")
}

func TestRelayHandleRendersVoteEvents(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	sub := newRecordingSubscriber()
	hub.Register(TopicVotes, sub)

	var rendered client.Perk
	relay := NewRelay(nil, "perk-events", hub, func(p client.Perk) (string, error) {
		rendered = p
		return "<b>fragment</b>", nil
	}, discardLogger())

	require.NoError(t, relay.Handle([]byte(`{"type":"PerkUpvoted","perkId":9,"upvotes":3,"downvotes":1,"netScore":2}`)))
	<-sub.got
	require.Equal(t, int64(9), rendered.ID)
	require.Equal(t, 2, rendered.NetScore)

	var patch Patch
	require.NoError(t, json.Unmarshal(sub.payloads[0], &patch))
	require.Equal(t, "<b>fragment</b>", patch.HTML)
}

func TestRelayHandleIgnoresOtherEvents(t *testing.T) {
	relay := NewRelay(nil, "perk-events", nil, func(client.Perk) (string, error) {
		t.Fatal("render must not be called")
		return "", nil
	}, discardLogger())
	require.NoError(t, relay.Handle([]byte(`{"type":"UserRegistered","userId":1}`)))
}

func TestRelayHandleRejectsInconsistentScores(t *testing.T) {
	relay := NewRelay(nil, "perk-events", nil, nil, discardLogger())
	err := relay.Handle([]byte(`{"type":"PerkDownvoted","perkId":2,"upvotes":1,"downvotes":1,"netScore":5}`))
	require.ErrorIs(t, err, client.ErrInconsistentPerk)
	require.Error(t, relay.Handle([]byte(`not json`)))
}
