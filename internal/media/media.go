// Package media coordinates shared audio and video playback for games. At
// most one session per game and kind is live at any time; each session
// publishes into the game's room through an external media gateway.
package media

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/cory-johannsen/tabletop-hub/internal/errors"
)

// Kind is the media type of a session.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Valid reports whether k is audio or video.
func (k Kind) Valid() bool {
	return k == KindAudio || k == KindVideo
}

// DefaultBitrate is the publisher bitrate cap used when none is configured.
const DefaultBitrate = 2000000

// Source describes what the encoder should stream.
type Source struct {
	URL string
	// Volume scales audio; nil leaves it untouched.
	Volume *float64
	// Loop replays the source until the session is stopped.
	Loop bool
}

// InputArgs returns encoder arguments that must precede the input.
func (s Source) InputArgs() []string {
	if s.Loop {
		return []string{"-stream_loop", "-1"}
	}
	return nil
}

// FilterArgs returns encoder filter arguments. A volume of exactly 1.0 adds none.
func (s Source) FilterArgs() []string {
	if s.Volume == nil || *s.Volume == 1.0 {
		return nil
	}
	return []string{"-af", "volume=" + strconv.FormatFloat(*s.Volume, 'f', -1, 64)}
}

// PublishOptions tunes a publish request.
type PublishOptions struct {
	Bitrate int
	Trickle bool
}

// Gateway creates sessions on the media server.
type Gateway interface {
	CreateSession(ctx context.Context) (GatewaySession, error)
}

// GatewaySession is one media server session. Destroy releases it.
type GatewaySession interface {
	Attach(ctx context.Context) (Publisher, error)
	Destroy(ctx context.Context) error
}

// Publisher is a plugin handle that publishes one source into a room.
type Publisher interface {
	JoinAsPublisher(ctx context.Context, roomID int64, display string) error
	Publish(ctx context.Context, src Source, opts PublishOptions) error
	Leave(ctx context.Context) error
	Destroy(ctx context.Context) error
}

// Asset identifies the file a session plays.
type Asset struct {
	ExternalID string
	Name       string
	URL        string
}

// PlayRequest asks for asset to be played into the game's room.
type PlayRequest struct {
	GameID string
	RoomID int64
	Kind   Kind
	Asset  Asset
	// Duration ends the session on its own; nil plays until stopped.
	Duration *time.Duration
	// Volume must lie in [0, 1] when set.
	Volume *float64
}

// Validate checks the request before any gateway resource is acquired.
//
// Postcondition: Returns nil or an InvalidArgument error.
func (r PlayRequest) Validate() error {
	if r.GameID == "" {
		return errors.InvalidArgument("game id must not be empty")
	}
	if !r.Kind.Valid() {
		return errors.InvalidArgument("media kind must be audio or video, got %q", r.Kind)
	}
	if r.Asset.ExternalID == "" || r.Asset.URL == "" {
		return errors.InvalidArgument("%s asset must have an id and a url", r.Kind)
	}
	if r.Volume != nil && (math.IsNaN(*r.Volume) || *r.Volume < 0 || *r.Volume > 1) {
		return errors.InvalidArgument("Volume must be between 0.0 and 1.0")
	}
	if r.Duration != nil && *r.Duration < 0 {
		return errors.InvalidArgument("duration must not be negative")
	}
	return nil
}

func (r PlayRequest) source() Source {
	src := Source{URL: r.Asset.URL}
	switch r.Kind {
	case KindAudio:
		src.Volume = r.Volume
	case KindVideo:
		src.Loop = r.Duration == nil
	}
	return src
}

func (r PlayRequest) displayName() string {
	switch r.Kind {
	case KindAudio:
		return fmt.Sprintf("Audio: %s", r.Asset.Name)
	default:
		return fmt.Sprintf("Video: %s", r.Asset.Name)
	}
}

// Video publishes with trickle ICE.
func (r PlayRequest) trickle() bool {
	return r.Kind == KindVideo
}
