package janus

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/tabletop-hub/internal/media"
)

// TestHelperEncoder is not a real test. It is re-executed by the encoder
// tests as a stand-in encoder process.
func TestHelperEncoder(t *testing.T) {
	if os.Getenv("HUB_HELPER_ENCODER") != "1" {
		return
	}
	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}

	mode := os.Getenv("HUB_HELPER_MODE")
	if mode == "garbage" {
		fmt.Println("not json")
		os.Exit(0)
	}

	out, _ := json.Marshal(map[string]string{"type": "offer", "sdp": strings.Join(args, " ")})
	fmt.Println(string(out))
	for _, a := range args {
		if a == "-trickle" {
			fmt.Println(`{"type":"candidate","candidate":"candidate:1 1 udp 1 127.0.0.1 5000 typ host","sdpMid":"0","sdpMLineIndex":0}`)
			fmt.Println(`{"type":"end-of-candidates"}`)
		}
	}

	in := bufio.NewScanner(os.Stdin)
	if in.Scan() {
		fmt.Fprintln(os.Stderr, "got answer", in.Text())
	}
	// Stream until killed or stdin closes.
	for in.Scan() {
	}
	os.Exit(0)
}

func helperEncoder(t *testing.T, mode string) *CommandEncoder {
	return &CommandEncoder{
		Command:    os.Args[0],
		Args:       []string{"-test.run=^TestHelperEncoder$", "--", "-re"},
		ICEServers: []string{"stun:stun.l.google.com:19302"},
		Env:        []string{"HUB_HELPER_ENCODER=1", "HUB_HELPER_MODE=" + mode},
		Logger:     zaptest.NewLogger(t),
	}
}

func TestCommandEncoderArgs(t *testing.T) {
	half := 0.5
	e := &CommandEncoder{Command: "enc", Args: []string{"-re"}, ICEServers: []string{"stun:a", "turn:b"}}

	got := e.args(media.Source{URL: "https://cdn/a.mp3", Volume: &half, Loop: true}, media.PublishOptions{Bitrate: 64000, Trickle: true})
	assert.Equal(t, []string{
		"-re", "-stream_loop", "-1", "-i", "https://cdn/a.mp3", "-af", "volume=0.5",
		"-bitrate", "64000", "-ice-server", "stun:a", "-ice-server", "turn:b", "-trickle",
	}, got)

	got = e.args(media.Source{URL: "u"}, media.PublishOptions{})
	assert.Equal(t, []string{"-re", "-i", "u", "-ice-server", "stun:a", "-ice-server", "turn:b"}, got)
}

func TestCommandEncoderOfferAnswerClose(t *testing.T) {
	e := helperEncoder(t, "")
	ctx := context.Background()

	stream, err := e.Start(ctx, media.Source{URL: "https://cdn/a.mp3"}, media.PublishOptions{Bitrate: 1000, Trickle: true})
	require.NoError(t, err)

	offer := stream.Offer()
	assert.Equal(t, "offer", offer.Type)
	assert.Equal(t, "-re -i https://cdn/a.mp3 -bitrate 1000 -ice-server stun:stun.l.google.com:19302 -trickle", offer.SDP)

	var candidates []Candidate
	for c := range stream.Candidates() {
		candidates = append(candidates, c)
	}
	require.Len(t, candidates, 1)
	assert.Equal(t, "0", candidates[0].SDPMid)

	require.NoError(t, stream.Answer(JSEP{Type: "answer", SDP: "v=0"}))

	done := make(chan struct{})
	go func() {
		_ = stream.Close()
		_ = stream.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("encoder was not stopped")
	}
}

func TestCommandEncoderContextKillsProcess(t *testing.T) {
	e := helperEncoder(t, "")
	ctx, cancel := context.WithCancel(context.Background())

	stream, err := e.Start(ctx, media.Source{URL: "u"}, media.PublishOptions{})
	require.NoError(t, err)
	cancel()

	p := stream.(*process)
	select {
	case <-p.exited:
	case <-time.After(5 * time.Second):
		t.Fatal("encoder outlived its context")
	}
	require.NoError(t, stream.Close())
}

func TestCommandEncoderRejectsMissingOffer(t *testing.T) {
	e := helperEncoder(t, "garbage")

	_, err := e.Start(context.Background(), media.Source{URL: "u"}, media.PublishOptions{})
	assert.Error(t, err)
}

func TestCommandEncoderMissingBinary(t *testing.T) {
	e := &CommandEncoder{Command: "/nonexistent/encoder"}

	_, err := e.Start(context.Background(), media.Source{URL: "u"}, media.PublishOptions{})
	assert.Error(t, err)
}
