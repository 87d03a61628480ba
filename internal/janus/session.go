package janus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/cory-johannsen/tabletop-hub/internal/media"
)

var (
	_ media.GatewaySession = (*Session)(nil)
	_ media.Publisher      = (*Handle)(nil)
)

// ErrSessionClosed is returned to requests still waiting when their session is destroyed.
var ErrSessionClosed = errors.New("janus session closed")

// Session is one Janus session. A background poller routes asynchronous
// events to the request that is waiting for their transaction.
type Session struct {
	client *Client
	id     int64
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]chan response

	stopPoll  context.CancelFunc
	pollDone  chan struct{}
	closeOnce sync.Once
}

func newSession(c *Client, id int64) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		client:   c,
		id:       id,
		logger:   c.logger.With(zap.Int64("janus_session", id)),
		pending:  make(map[string]chan response),
		stopPoll: cancel,
		pollDone: make(chan struct{}),
	}
	go s.poll(ctx)
	return s
}

// ID returns the gateway-assigned session id.
func (s *Session) ID() int64 { return s.id }

func (s *Session) poll(ctx context.Context) {
	defer close(s.pollDone)

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 5 * time.Second
	for {
		ev, err := s.client.longPoll(ctx, s.id)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			wait := bo.NextBackOff()
			s.logger.Warn("janus long-poll failed", zap.Error(err), zap.Duration("retry_in", wait))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
			continue
		}
		bo.Reset()
		s.dispatch(ev)
	}
}

func (s *Session) dispatch(ev response) {
	switch ev.Janus {
	case "", "keepalive":
		return
	}
	if ev.Transaction == "" {
		s.logger.Debug("janus event", zap.String("type", ev.Janus), zap.Int64("sender", ev.Sender))
		return
	}

	s.mu.Lock()
	ch, ok := s.pending[ev.Transaction]
	if ok {
		delete(s.pending, ev.Transaction)
	}
	s.mu.Unlock()

	if !ok {
		s.logger.Debug("unmatched janus event",
			zap.String("type", ev.Janus),
			zap.String("transaction", ev.Transaction),
		)
		return
	}
	ch <- ev
}

func (s *Session) expect(txn string) chan response {
	ch := make(chan response, 1)
	s.mu.Lock()
	s.pending[txn] = ch
	s.mu.Unlock()
	return ch
}

func (s *Session) forget(txn string) {
	s.mu.Lock()
	delete(s.pending, txn)
	s.mu.Unlock()
}

// send posts req and, when the gateway acknowledges it asynchronously, waits
// for the matching event from the poller.
func (s *Session) send(ctx context.Context, path string, req request) (response, error) {
	req.Transaction = s.client.newTxn()
	ch := s.expect(req.Transaction)
	defer s.forget(req.Transaction)

	resp, err := s.client.post(ctx, path, req)
	if err != nil {
		return response{}, err
	}
	if resp.Janus != "ack" {
		return resp, nil
	}

	select {
	case ev := <-ch:
		if ev.Janus == "error" && ev.Error != nil {
			return ev, ev.Error
		}
		return ev, nil
	case <-ctx.Done():
		return response{}, ctx.Err()
	case <-s.pollDone:
		return response{}, ErrSessionClosed
	}
}

func (s *Session) path() string {
	return fmt.Sprintf("/%d", s.id)
}

// Attach implements media.GatewaySession.
func (s *Session) Attach(ctx context.Context) (media.Publisher, error) {
	h, err := s.AttachHandle(ctx)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// AttachHandle attaches the configured plugin to the session.
func (s *Session) AttachHandle(ctx context.Context) (*Handle, error) {
	resp, err := s.client.post(ctx, s.path(), request{
		Janus:       "attach",
		Transaction: s.client.newTxn(),
		Plugin:      s.client.plugin,
	})
	if err != nil {
		return nil, fmt.Errorf("attaching %s: %w", s.client.plugin, err)
	}
	if resp.Data == nil || resp.Data.ID == 0 {
		return nil, fmt.Errorf("attaching %s: response carries no handle id", s.client.plugin)
	}
	return &Handle{session: s, id: resp.Data.ID}, nil
}

// Destroy tears the session down on the gateway and stops the poller. The
// poller stops even when the gateway call fails.
func (s *Session) Destroy(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		_, err = s.client.post(ctx, s.path(), request{Janus: "destroy", Transaction: s.client.newTxn()})
		s.stopPoll()
		<-s.pollDone
	})
	if err != nil {
		return fmt.Errorf("destroying session %d: %w", s.id, err)
	}
	return nil
}

// Handle is a VideoRoom plugin handle. While publishing it owns the encoder stream.
type Handle struct {
	session *Session
	id      int64

	mu     sync.Mutex
	stream EncoderStream
}

// ID returns the gateway-assigned handle id.
func (h *Handle) ID() int64 { return h.id }

func (h *Handle) path() string {
	return fmt.Sprintf("/%d/%d", h.session.id, h.id)
}

type roomData struct {
	VideoRoom  string `json:"videoroom"`
	Room       int64  `json:"room"`
	Configured string `json:"configured"`
	Leaving    string `json:"leaving"`
	ErrorCode  int    `json:"error_code"`
	Error      string `json:"error"`
}

// message sends a plugin request and decodes the plugin reply.
func (h *Handle) message(ctx context.Context, body any, jsep *JSEP) (roomData, *JSEP, error) {
	resp, err := h.session.send(ctx, h.path(), request{Janus: "message", Body: body, JSEP: jsep})
	if err != nil {
		return roomData{}, nil, err
	}
	if resp.PluginData == nil {
		return roomData{}, nil, fmt.Errorf("%s reply carries no plugin data", resp.Janus)
	}
	var data roomData
	if err := json.Unmarshal(resp.PluginData.Data, &data); err != nil {
		return roomData{}, nil, fmt.Errorf("decoding plugin data: %w", err)
	}
	if data.ErrorCode != 0 || data.VideoRoom == "event" && data.Error != "" {
		return data, nil, &PluginError{Code: data.ErrorCode, Reason: data.Error}
	}
	return data, resp.JSEP, nil
}

type joinBody struct {
	Request string `json:"request"`
	PType   string `json:"ptype"`
	Room    int64  `json:"room"`
	Display string `json:"display"`
}

// JoinAsPublisher joins roomID with the given display name.
func (h *Handle) JoinAsPublisher(ctx context.Context, roomID int64, display string) error {
	data, _, err := h.message(ctx, joinBody{Request: "join", PType: "publisher", Room: roomID, Display: display}, nil)
	if err != nil {
		return fmt.Errorf("joining room %d: %w", roomID, err)
	}
	if data.VideoRoom != "joined" {
		return fmt.Errorf("joining room %d: unexpected reply %q", roomID, data.VideoRoom)
	}
	return nil
}

type publishBody struct {
	Request string `json:"request"`
	Bitrate int    `json:"bitrate,omitempty"`
}

// Publish starts the encoder for src, offers its SDP to the room and hands the
// gateway's answer back to the encoder. With trickle enabled the encoder's
// candidates are forwarded until gathering completes.
//
// Precondition: The handle must have joined a room.
func (h *Handle) Publish(ctx context.Context, src media.Source, opts media.PublishOptions) error {
	enc := h.session.client.encoder
	if enc == nil {
		return errors.New("publishing: no encoder configured")
	}

	stream, err := enc.Start(ctx, src, opts)
	if err != nil {
		return fmt.Errorf("starting encoder: %w", err)
	}
	h.mu.Lock()
	h.stream = stream
	h.mu.Unlock()

	offer := stream.Offer()
	if opts.Trickle {
		trickle := true
		offer.Trickle = &trickle
	}
	data, answer, err := h.message(ctx, publishBody{Request: "publish", Bitrate: opts.Bitrate}, &offer)
	if err != nil {
		return fmt.Errorf("publishing: %w", err)
	}
	if data.Configured != "ok" || answer == nil {
		return fmt.Errorf("publishing: gateway returned no answer")
	}
	if err := stream.Answer(*answer); err != nil {
		return fmt.Errorf("applying answer: %w", err)
	}

	if opts.Trickle {
		return h.trickle(ctx, stream.Candidates())
	}
	return nil
}

func (h *Handle) trickle(ctx context.Context, candidates <-chan Candidate) error {
	for {
		select {
		case c, ok := <-candidates:
			if !ok {
				_, err := h.session.client.post(ctx, h.path(), request{
					Janus:       "trickle",
					Transaction: h.session.client.newTxn(),
					Candidate:   map[string]bool{"completed": true},
				})
				return err
			}
			if _, err := h.session.client.post(ctx, h.path(), request{
				Janus:       "trickle",
				Transaction: h.session.client.newTxn(),
				Candidate:   c,
			}); err != nil {
				return fmt.Errorf("trickling candidate: %w", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Leave stops the encoder and leaves the room.
func (h *Handle) Leave(ctx context.Context) error {
	h.closeStream()
	if _, _, err := h.message(ctx, map[string]string{"request": "leave"}, nil); err != nil {
		return fmt.Errorf("leaving room: %w", err)
	}
	return nil
}

// Destroy stops the encoder if it still runs and detaches the handle.
func (h *Handle) Destroy(ctx context.Context) error {
	h.closeStream()
	if _, err := h.session.client.post(ctx, h.path(), request{Janus: "detach", Transaction: h.session.client.newTxn()}); err != nil {
		return fmt.Errorf("detaching handle %d: %w", h.id, err)
	}
	return nil
}

func (h *Handle) closeStream() {
	h.mu.Lock()
	stream := h.stream
	h.stream = nil
	h.mu.Unlock()

	if stream == nil {
		return
	}
	if err := stream.Close(); err != nil {
		h.session.logger.Warn("closing encoder", zap.Int64("handle", h.id), zap.Error(err))
	}
}

// Room describes a VideoRoom room to create.
type Room struct {
	ID          int64
	Description string
	Publishers  int
	Bitrate     int
	FIRFreq     int
	Permanent   bool
}

type createRoomBody struct {
	Request     string `json:"request"`
	Room        int64  `json:"room"`
	Permanent   bool   `json:"permanent"`
	Description string `json:"description"`
	Publishers  int    `json:"publishers"`
	Bitrate     int    `json:"bitrate"`
	FIRFreq     int    `json:"fir_freq"`
}

// CreateRoom creates room on the gateway.
//
// Postcondition: Returns nil, an error satisfying IsRoomExists, or another error.
func (h *Handle) CreateRoom(ctx context.Context, room Room) error {
	data, _, err := h.message(ctx, createRoomBody{
		Request:     "create",
		Room:        room.ID,
		Permanent:   room.Permanent,
		Description: room.Description,
		Publishers:  room.Publishers,
		Bitrate:     room.Bitrate,
		FIRFreq:     room.FIRFreq,
	}, nil)
	if err != nil {
		return fmt.Errorf("creating room %d: %w", room.ID, err)
	}
	if data.VideoRoom != "created" {
		return fmt.Errorf("creating room %d: unexpected reply %q", room.ID, data.VideoRoom)
	}
	return nil
}
