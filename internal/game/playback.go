package game

import (
	"context"

	"go.uber.org/zap"

	apperrors "github.com/cory-johannsen/tabletop-hub/internal/errors"
	"github.com/cory-johannsen/tabletop-hub/internal/media"
)

// MediaCoordinator is the part of media.Coordinator the service drives.
type MediaCoordinator interface {
	Play(ctx context.Context, req media.PlayRequest) (*media.Session, error)
	Stop(ctx context.Context, gameID, assetID string, kind media.Kind) bool
}

// Play starts assetID of the given kind in the game's room, superseding
// whatever of that kind is playing. Volume applies to audio only.
//
// Precondition: The game must have a room assigned.
// Postcondition: Returns the asset once playback has been scheduled. The
// session becomes audible only after the gateway accepted the publish.
func (s *Service) Play(ctx context.Context, gameID string, kind media.Kind, assetID string, volume *float64) (*Asset, error) {
	if s.media == nil {
		return nil, apperrors.Unavailable(nil, "media playback is not configured")
	}
	if !kind.Valid() {
		return nil, apperrors.InvalidArgument("media kind must be audio or video, got %q", kind)
	}
	g, err := s.game(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if g.RoomID == nil {
		return nil, apperrors.InvalidArgument("game room_id is not set")
	}
	a, err := s.asset(ctx, g, kind, assetID)
	if err != nil {
		return nil, err
	}

	req := media.PlayRequest{
		GameID:   g.ExternalID,
		RoomID:   *g.RoomID,
		Kind:     kind,
		Asset:    a.MediaAsset(),
		Duration: a.Duration(),
	}
	if kind == media.KindAudio {
		req.Volume = volume
	}
	if _, err := s.media.Play(ctx, req); err != nil {
		return nil, err
	}

	s.logger.Info("started playback",
		zap.String("game", gameID),
		zap.String("kind", string(kind)),
		zap.String("asset", a.ExternalID),
		zap.String("name", a.Name),
		zap.Int64("room", *g.RoomID),
	)
	return a, nil
}

// Stop ends playback of assetID when it is the one playing.
//
// Postcondition: Returns false, with no gateway calls made, when nothing
// matching is playing; NotFound when the asset is unknown to the game.
func (s *Service) Stop(ctx context.Context, gameID string, kind media.Kind, assetID string) (bool, error) {
	if s.media == nil {
		return false, apperrors.Unavailable(nil, "media playback is not configured")
	}
	if !kind.Valid() {
		return false, apperrors.InvalidArgument("media kind must be audio or video, got %q", kind)
	}
	g, err := s.game(ctx, gameID)
	if err != nil {
		return false, err
	}
	a, err := s.asset(ctx, g, kind, assetID)
	if err != nil {
		return false, err
	}

	stopped := s.media.Stop(ctx, g.ExternalID, a.ExternalID, kind)
	if stopped {
		s.logger.Info("stopped playback",
			zap.String("game", gameID),
			zap.String("kind", string(kind)),
			zap.String("asset", a.ExternalID),
		)
	}
	return stopped, nil
}
