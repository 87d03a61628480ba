// Package janus is a client for the Janus WebRTC gateway REST API. It
// implements media.Gateway on top of the VideoRoom plugin and receives
// asynchronous plugin events through the session long-poll endpoint.
package janus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/tabletop-hub/internal/config"
	"github.com/cory-johannsen/tabletop-hub/internal/media"
)

var _ media.Gateway = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithEncoder sets the encoder used by Publish. Without one Publish fails.
func WithEncoder(e Encoder) ClientOption {
	return func(c *Client) { c.encoder = e }
}

// Client talks to one Janus HTTP endpoint. It is safe for concurrent use.
type Client struct {
	url         string
	plugin      string
	pollTimeout time.Duration
	http        *http.Client
	encoder     Encoder
	logger      *zap.Logger
	newTxn      func() string
}

// NewClient creates a Client for cfg.
//
// Precondition: cfg must pass config validation; logger must be non-nil.
func NewClient(cfg config.JanusConfig, logger *zap.Logger, opts ...ClientOption) *Client {
	c := &Client{
		url:         strings.TrimRight(cfg.URL, "/"),
		plugin:      cfg.Plugin,
		pollTimeout: cfg.PollTimeout,
		http:        http.DefaultClient,
		logger:      logger,
		newTxn:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateSession implements media.Gateway.
func (c *Client) CreateSession(ctx context.Context) (media.GatewaySession, error) {
	s, err := c.Open(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Open creates a gateway session and starts its event poller.
//
// Postcondition: The returned Session must be released with Destroy.
func (c *Client) Open(ctx context.Context) (*Session, error) {
	resp, err := c.post(ctx, "", request{Janus: "create", Transaction: c.newTxn()})
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	if resp.Data == nil || resp.Data.ID == 0 {
		return nil, fmt.Errorf("creating session: response carries no id")
	}
	return newSession(c, resp.Data.ID), nil
}

// GatewayError is an error reported by the Janus core.
type GatewayError struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("janus error %d: %s", e.Code, e.Reason)
}

// PluginError is an error reported by the VideoRoom plugin.
type PluginError struct {
	Code   int
	Reason string
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("videoroom error %d: %s", e.Code, e.Reason)
}

// VideoRoom error codes the hub reacts to.
const (
	ErrorCodeNoSuchRoom = 426
	ErrorCodeRoomExists = 427
)

// IsRoomExists reports whether err says the room was already created.
func IsRoomExists(err error) bool {
	var pe *PluginError
	return errors.As(err, &pe) && pe.Code == ErrorCodeRoomExists
}

type request struct {
	Janus       string `json:"janus"`
	Transaction string `json:"transaction"`
	Plugin      string `json:"plugin,omitempty"`
	Body        any    `json:"body,omitempty"`
	JSEP        *JSEP  `json:"jsep,omitempty"`
	Candidate   any    `json:"candidate,omitempty"`
}

type idData struct {
	ID int64 `json:"id"`
}

type pluginData struct {
	Plugin string          `json:"plugin"`
	Data   json.RawMessage `json:"data"`
}

type response struct {
	Janus       string        `json:"janus"`
	Transaction string        `json:"transaction"`
	SessionID   int64         `json:"session_id"`
	Sender      int64         `json:"sender"`
	Data        *idData       `json:"data"`
	Error       *GatewayError `json:"error"`
	PluginData  *pluginData   `json:"plugindata"`
	JSEP        *JSEP         `json:"jsep"`
}

func (c *Client) post(ctx context.Context, path string, req request) (response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return response{}, fmt.Errorf("encoding %s request: %w", req.Janus, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, bytes.NewReader(payload))
	if err != nil {
		return response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return c.do(httpReq)
}

// longPoll waits for the next event of session id. An empty response means
// the poll window elapsed without events.
func (c *Client) longPoll(ctx context.Context, id int64) (response, error) {
	pollCtx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(pollCtx, http.MethodGet, fmt.Sprintf("%s/%d?maxev=1", c.url, id), nil)
	if err != nil {
		return response{}, err
	}
	resp, err := c.do(httpReq)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return response{}, nil
	}
	return resp, err
}

func (c *Client) do(httpReq *http.Request) (response, error) {
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return response{}, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return response{}, fmt.Errorf("%s %s: status %d: %s", httpReq.Method, httpReq.URL.Path, httpResp.StatusCode, bytes.TrimSpace(body))
	}

	var resp response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return response{}, fmt.Errorf("decoding %s response: %w", httpReq.URL.Path, err)
	}
	if resp.Janus == "error" {
		if resp.Error == nil {
			return resp, &GatewayError{Reason: "unspecified"}
		}
		return resp, resp.Error
	}
	return resp, nil
}
