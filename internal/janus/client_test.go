package janus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/tabletop-hub/internal/config"
	"github.com/cory-johannsen/tabletop-hub/internal/media"
)

// fakeJanus is a minimal in-memory Janus REST endpoint with one session (1)
// and one handle (2). Asynchronous replies are delivered through GET /1.
type fakeJanus struct {
	t      *testing.T
	mu     sync.Mutex
	log    []string
	bodies []map[string]any
	rooms  map[int64]bool
	events chan map[string]any
}

func newFakeJanus(t *testing.T) (*fakeJanus, *httptest.Server) {
	f := &fakeJanus{t: t, rooms: map[int64]bool{1001: true}, events: make(chan map[string]any, 16)}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeJanus) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.log...)
}

func (f *fakeJanus) record(s string) {
	f.mu.Lock()
	f.log = append(f.log, s)
	f.mu.Unlock()
}

func (f *fakeJanus) reply(w http.ResponseWriter, v map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeJanus) event(txn string, data map[string]any, jsep map[string]any) {
	ev := map[string]any{
		"janus":       "event",
		"transaction": txn,
		"sender":      2,
		"plugindata":  map[string]any{"plugin": "janus.plugin.videoroom", "data": data},
	}
	if jsep != nil {
		ev["jsep"] = jsep
	}
	f.events <- ev
}

func (f *fakeJanus) serve(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/janus")

	if r.Method == http.MethodGet {
		select {
		case ev := <-f.events:
			f.reply(w, ev)
		case <-time.After(50 * time.Millisecond):
			f.reply(w, map[string]any{"janus": "keepalive"})
		case <-r.Context().Done():
		}
		return
	}

	var req struct {
		Janus       string          `json:"janus"`
		Transaction string          `json:"transaction"`
		Plugin      string          `json:"plugin"`
		Body        map[string]any  `json:"body"`
		JSEP        *JSEP           `json:"jsep"`
		Candidate   json.RawMessage `json:"candidate"`
	}
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
	ack := map[string]any{"janus": "ack", "transaction": req.Transaction}

	switch {
	case path == "" && req.Janus == "create":
		f.record("create")
		f.reply(w, map[string]any{"janus": "success", "transaction": req.Transaction, "data": map[string]any{"id": 1}})
	case path == "/1" && req.Janus == "attach":
		f.record("attach:" + req.Plugin)
		f.reply(w, map[string]any{"janus": "success", "transaction": req.Transaction, "data": map[string]any{"id": 2}})
	case path == "/1" && req.Janus == "destroy":
		f.record("destroy")
		f.reply(w, map[string]any{"janus": "success", "transaction": req.Transaction})
	case path == "/1/2" && req.Janus == "detach":
		f.record("detach")
		f.reply(w, map[string]any{"janus": "success", "transaction": req.Transaction})
	case path == "/1/2" && req.Janus == "trickle":
		f.record("trickle:" + string(req.Candidate))
		f.reply(w, ack)
	case path == "/1/2" && req.Janus == "message":
		f.message(w, req.Transaction, req.Body, req.JSEP)
	default:
		f.reply(w, map[string]any{
			"janus":       "error",
			"transaction": req.Transaction,
			"error":       map[string]any{"code": 458, "reason": "No such session " + path},
		})
	}
}

func (f *fakeJanus) message(w http.ResponseWriter, txn string, body map[string]any, jsep *JSEP) {
	f.mu.Lock()
	f.bodies = append(f.bodies, body)
	f.mu.Unlock()

	ack := map[string]any{"janus": "ack", "transaction": txn}
	request, _ := body["request"].(string)
	f.record(request)

	switch request {
	case "join":
		room := int64(body["room"].(float64))
		f.reply(w, ack)
		if body["display"] == "hang" {
			return
		}
		if !f.rooms[room] {
			f.event(txn, map[string]any{"videoroom": "event", "error_code": ErrorCodeNoSuchRoom, "error": fmt.Sprintf("No such room (%d)", room)}, nil)
			return
		}
		f.event(txn, map[string]any{"videoroom": "joined", "room": room}, nil)
	case "publish":
		f.reply(w, ack)
		require.NotNil(f.t, jsep)
		f.event(txn, map[string]any{"videoroom": "event", "configured": "ok"},
			map[string]any{"type": "answer", "sdp": "answer-for-" + jsep.SDP})
	case "leave":
		f.reply(w, ack)
		f.event(txn, map[string]any{"videoroom": "event", "leaving": "ok"}, nil)
	case "create":
		room := int64(body["room"].(float64))
		data := map[string]any{"videoroom": "created", "room": room}
		if f.rooms[room] {
			data = map[string]any{"videoroom": "event", "error_code": ErrorCodeRoomExists, "error": fmt.Sprintf("Room %d already exists", room)}
		}
		f.rooms[room] = true
		f.reply(w, map[string]any{
			"janus":       "success",
			"transaction": txn,
			"plugindata":  map[string]any{"plugin": "janus.plugin.videoroom", "data": data},
		})
	default:
		f.reply(w, ack)
	}
}

type fakeStream struct {
	offer      JSEP
	candidates chan Candidate
	mu         sync.Mutex
	answer     *JSEP
	closed     int
}

func (s *fakeStream) Offer() JSEP                  { return s.offer }
func (s *fakeStream) Candidates() <-chan Candidate { return s.candidates }

func (s *fakeStream) Answer(a JSEP) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answer = &a
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

type fakeEncoder struct {
	stream *fakeStream
	src    media.Source
	opts   media.PublishOptions
}

func (e *fakeEncoder) Start(_ context.Context, src media.Source, opts media.PublishOptions) (EncoderStream, error) {
	e.src, e.opts = src, opts
	return e.stream, nil
}

func newFakeEncoder(candidates ...Candidate) *fakeEncoder {
	ch := make(chan Candidate, len(candidates))
	for _, c := range candidates {
		ch <- c
	}
	close(ch)
	return &fakeEncoder{stream: &fakeStream{offer: JSEP{Type: "offer", SDP: "offer-sdp"}, candidates: ch}}
}

func newTestClient(t *testing.T, srv *httptest.Server, opts ...ClientOption) *Client {
	return NewClient(config.JanusConfig{
		URL:         srv.URL + "/janus",
		Plugin:      "janus.plugin.videoroom",
		PollTimeout: time.Second,
	}, zaptest.NewLogger(t), opts...)
}

func TestPublishLifecycle(t *testing.T) {
	f, srv := newFakeJanus(t)
	enc := newFakeEncoder(Candidate{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMid: "0"})
	c := newTestClient(t, srv, WithEncoder(enc))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session, err := c.CreateSession(ctx)
	require.NoError(t, err)
	pub, err := session.Attach(ctx)
	require.NoError(t, err)

	require.NoError(t, pub.JoinAsPublisher(ctx, 1001, "Audio: Theme"))
	require.NoError(t, pub.Publish(ctx, media.Source{URL: "https://cdn/theme.mp3"}, media.PublishOptions{Bitrate: 2000000, Trickle: true}))
	require.NoError(t, pub.Leave(ctx))
	require.NoError(t, pub.Destroy(ctx))
	require.NoError(t, session.Destroy(ctx))

	calls := f.calls()
	require.Len(t, calls, 9)
	assert.Equal(t, []string{"create", "attach:janus.plugin.videoroom", "join", "publish"}, calls[:4])
	assert.Contains(t, calls[4], "candidate:1")
	assert.Equal(t, `trickle:{"completed":true}`, calls[5])
	assert.Equal(t, []string{"leave", "detach", "destroy"}, calls[6:])

	require.NotNil(t, enc.stream.answer)
	assert.Equal(t, "answer-for-offer-sdp", enc.stream.answer.SDP)
	assert.GreaterOrEqual(t, enc.stream.closed, 1)
	assert.Equal(t, "https://cdn/theme.mp3", enc.src.URL)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, map[string]any{"request": "join", "ptype": "publisher", "room": float64(1001), "display": "Audio: Theme"}, f.bodies[0])
	assert.Equal(t, map[string]any{"request": "publish", "bitrate": float64(2000000)}, f.bodies[1])
}

func TestPublishWithoutTrickleSendsNoCandidates(t *testing.T) {
	f, srv := newFakeJanus(t)
	c := newTestClient(t, srv, WithEncoder(newFakeEncoder(Candidate{Candidate: "ignored"})))
	ctx := context.Background()

	s, err := c.Open(ctx)
	require.NoError(t, err)
	defer s.Destroy(ctx)
	h, err := s.AttachHandle(ctx)
	require.NoError(t, err)
	require.NoError(t, h.JoinAsPublisher(ctx, 1001, "Video: Intro"))
	require.NoError(t, h.Publish(ctx, media.Source{URL: "u"}, media.PublishOptions{Bitrate: 1}))

	for _, call := range f.calls() {
		assert.False(t, strings.HasPrefix(call, "trickle"), call)
	}
}

func TestJoinUnknownRoomReturnsPluginError(t *testing.T) {
	_, srv := newFakeJanus(t)
	c := newTestClient(t, srv)
	ctx := context.Background()

	s, err := c.Open(ctx)
	require.NoError(t, err)
	defer s.Destroy(ctx)
	h, err := s.AttachHandle(ctx)
	require.NoError(t, err)

	err = h.JoinAsPublisher(ctx, 9999, "Audio: x")
	var pe *PluginError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrorCodeNoSuchRoom, pe.Code)
}

func TestJoinHonoursContext(t *testing.T) {
	_, srv := newFakeJanus(t)
	c := newTestClient(t, srv)

	s, err := c.Open(context.Background())
	require.NoError(t, err)
	defer s.Destroy(context.Background())
	h, err := s.AttachHandle(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err = h.JoinAsPublisher(ctx, 1001, "hang")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPublishWithoutEncoderFails(t *testing.T) {
	_, srv := newFakeJanus(t)
	c := newTestClient(t, srv)
	ctx := context.Background()

	s, err := c.Open(ctx)
	require.NoError(t, err)
	defer s.Destroy(ctx)
	h, err := s.AttachHandle(ctx)
	require.NoError(t, err)

	assert.Error(t, h.Publish(ctx, media.Source{URL: "u"}, media.PublishOptions{}))
}

func TestGatewayErrorIsDecoded(t *testing.T) {
	_, srv := newFakeJanus(t)
	c := newTestClient(t, srv)
	ctx := context.Background()

	s, err := c.Open(ctx)
	require.NoError(t, err)
	defer s.Destroy(ctx)

	_, err = s.client.post(ctx, "/42", request{Janus: "attach", Transaction: "t"})
	var ge *GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, 458, ge.Code)
}

func TestCreateRoom(t *testing.T) {
	_, srv := newFakeJanus(t)
	c := newTestClient(t, srv)
	ctx := context.Background()

	s, err := c.Open(ctx)
	require.NoError(t, err)
	defer s.Destroy(ctx)
	h, err := s.AttachHandle(ctx)
	require.NoError(t, err)

	room := Room{ID: 1002, Description: "Pre-generated Room 3", Publishers: 10, Bitrate: 512000, FIRFreq: 10, Permanent: true}
	require.NoError(t, h.CreateRoom(ctx, room))

	err = h.CreateRoom(ctx, room)
	require.Error(t, err)
	assert.True(t, IsRoomExists(err))
}

func TestUnreachableGateway(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := newTestClient(t, srv)

	_, err := c.CreateSession(context.Background())
	assert.Error(t, err)
}
