package janus

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"

	"github.com/cory-johannsen/tabletop-hub/internal/config"
	"github.com/cory-johannsen/tabletop-hub/internal/media"
)

// JSEP is a session description exchanged with the gateway.
type JSEP struct {
	Type    string `json:"type"`
	SDP     string `json:"sdp"`
	Trickle *bool  `json:"trickle,omitempty"`
}

// Candidate is one trickled ICE candidate.
type Candidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
}

// Encoder turns a media source into a WebRTC publisher.
type Encoder interface {
	Start(ctx context.Context, src media.Source, opts media.PublishOptions) (EncoderStream, error)
}

// EncoderStream is a running encoder. Close stops it; it is safe to call more than once.
type EncoderStream interface {
	Offer() JSEP
	// Candidates is closed when gathering completes or the encoder exits.
	Candidates() <-chan Candidate
	Answer(answer JSEP) error
	Close() error
}

// CommandEncoder runs an external encoder process per stream. The process
// prints its SDP offer as the first JSON line on stdout, may follow with
// candidate lines, and reads the gateway's answer as one JSON line on stdin.
// It is killed when the stream is closed or the start context ends.
type CommandEncoder struct {
	Command    string
	Args       []string
	ICEServers []string
	// Env is appended to the hub's environment.
	Env    []string
	Logger *zap.Logger
}

// NewCommandEncoder creates a CommandEncoder from the media settings.
func NewCommandEncoder(cfg config.MediaConfig, logger *zap.Logger) *CommandEncoder {
	return &CommandEncoder{
		Command:    cfg.EncoderCommand,
		Args:       cfg.EncoderArgs,
		ICEServers: cfg.ICEServers,
		Logger:     logger,
	}
}

// args builds the command line: configured arguments, input arguments, the
// input itself, filters, then publish settings.
func (e *CommandEncoder) args(src media.Source, opts media.PublishOptions) []string {
	args := append([]string(nil), e.Args...)
	args = append(args, src.InputArgs()...)
	args = append(args, "-i", src.URL)
	args = append(args, src.FilterArgs()...)
	if opts.Bitrate > 0 {
		args = append(args, "-bitrate", strconv.Itoa(opts.Bitrate))
	}
	for _, ice := range e.ICEServers {
		args = append(args, "-ice-server", ice)
	}
	if opts.Trickle {
		args = append(args, "-trickle")
	}
	return args
}

type encoderLine struct {
	Type          string `json:"type"`
	SDP           string `json:"sdp"`
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
}

// Start launches the encoder and waits for its offer.
//
// Postcondition: Returns a running stream, or an error with the process already reaped.
func (e *CommandEncoder) Start(ctx context.Context, src media.Source, opts media.PublishOptions) (EncoderStream, error) {
	logger := e.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("source", src.URL))

	cmd := exec.CommandContext(ctx, e.Command, e.args(src, opts)...)
	cmd.Env = append(os.Environ(), e.Env...)
	stderr := &zapio.Writer{Log: logger, Level: zapcore.DebugLevel}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", e.Command, err)
	}

	p := &process{
		cmd:        cmd,
		stdin:      stdin,
		stderr:     stderr,
		logger:     logger,
		candidates: make(chan Candidate, 16),
		closing:    make(chan struct{}),
		exited:     make(chan struct{}),
	}

	lines := bufio.NewScanner(stdout)
	lines.Buffer(make([]byte, 0, 64*1024), 1<<20)
	offer, err := readOffer(lines)
	if err != nil {
		_ = cmd.Process.Kill()
		_, _ = io.Copy(io.Discard, stdout)
		_ = cmd.Wait()
		_ = stderr.Close()
		return nil, fmt.Errorf("reading offer from %s: %w", e.Command, err)
	}
	p.offer = offer

	go p.read(lines)
	return p, nil
}

func readOffer(lines *bufio.Scanner) (JSEP, error) {
	if !lines.Scan() {
		if err := lines.Err(); err != nil {
			return JSEP{}, err
		}
		return JSEP{}, io.ErrUnexpectedEOF
	}
	var l encoderLine
	if err := json.Unmarshal(lines.Bytes(), &l); err != nil {
		return JSEP{}, err
	}
	if l.Type != "offer" || l.SDP == "" {
		return JSEP{}, fmt.Errorf("expected an offer, got %q", l.Type)
	}
	return JSEP{Type: "offer", SDP: l.SDP}, nil
}

type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *zapio.Writer
	logger *zap.Logger
	offer  JSEP

	candidates chan Candidate
	gathered   sync.Once

	closeOnce sync.Once
	closing   chan struct{}
	exited    chan struct{}
	waitErr   error

	writeMu sync.Mutex
}

func (p *process) Offer() JSEP                  { return p.offer }
func (p *process) Candidates() <-chan Candidate { return p.candidates }

func (p *process) endCandidates() {
	p.gathered.Do(func() { close(p.candidates) })
}

// read consumes stdout until the process exits, then reaps it.
func (p *process) read(lines *bufio.Scanner) {
	defer close(p.exited)

	for lines.Scan() {
		var l encoderLine
		if err := json.Unmarshal(lines.Bytes(), &l); err != nil {
			p.logger.Debug("encoder output", zap.ByteString("line", lines.Bytes()))
			continue
		}
		switch l.Type {
		case "candidate":
			select {
			case p.candidates <- Candidate{Candidate: l.Candidate, SDPMid: l.SDPMid, SDPMLineIndex: l.SDPMLineIndex}:
			case <-p.closing:
			}
		case "end-of-candidates":
			p.endCandidates()
		default:
			p.logger.Debug("encoder message", zap.String("type", l.Type))
		}
	}
	p.endCandidates()

	p.waitErr = p.cmd.Wait()
	_ = p.stderr.Close()
	select {
	case <-p.closing:
	default:
		p.logger.Warn("encoder exited", zap.Error(p.waitErr))
	}
}

func (p *process) Answer(answer JSEP) error {
	line, err := json.Marshal(answer)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := p.stdin.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing answer: %w", err)
	}
	return nil
}

// Close kills the process and waits until it is reaped.
func (p *process) Close() error {
	p.closeOnce.Do(func() {
		close(p.closing)
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.logger.Warn("killing encoder", zap.Error(err))
		}
		p.writeMu.Lock()
		_ = p.stdin.Close()
		p.writeMu.Unlock()
	})
	<-p.exited
	return nil
}
