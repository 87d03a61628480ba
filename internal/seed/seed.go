package seed

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/tabletop-hub/internal/game"
	"github.com/cory-johannsen/tabletop-hub/internal/media"
)

// Writer is the store surface a fixture is written through. Every method
// inserts or overwrites by external id, so seeding twice is harmless.
type Writer interface {
	UpsertMaster(ctx context.Context, externalID string) (*game.Master, error)
	UpsertGame(ctx context.Context, g *game.Game) (*game.Game, error)
	UpsertMap(ctx context.Context, m *game.Map) (*game.Map, error)
	UpsertCharacter(ctx context.Context, c *game.Character) (*game.Character, error)
	UpsertItem(ctx context.Context, i *game.Item) (*game.Item, error)
	UpsertAsset(ctx context.Context, a *game.Asset) (*game.Asset, error)
}

// Summary counts the records written by Load.
type Summary struct {
	Games      int
	Characters int
	Items      int
	Assets     int
}

// Load writes every game of f through w.
//
// Precondition: f must have passed Validate.
// Postcondition: Returns the counts written, or the first write error.
func Load(ctx context.Context, w Writer, f *Fixture, logger *zap.Logger) (Summary, error) {
	var sum Summary
	for _, gf := range f.Games {
		start := time.Now()
		g, err := loadGame(ctx, w, gf, &sum)
		if err != nil {
			return sum, fmt.Errorf("seeding game %q: %w", gf.ExternalID, err)
		}
		sum.Games++
		logger.Info("seeded game",
			zap.String("game", g.ExternalID),
			zap.String("master_join_link", g.MasterJoinLink),
			zap.Int("characters", len(gf.Characters)),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
	return sum, nil
}

func loadGame(ctx context.Context, w Writer, gf GameFixture, sum *Summary) (*game.Game, error) {
	master, err := w.UpsertMaster(ctx, gf.Master)
	if err != nil {
		return nil, fmt.Errorf("master: %w", err)
	}
	g, err := w.UpsertGame(ctx, &game.Game{
		ExternalID:      gf.ExternalID,
		Name:            gf.Name,
		MasterID:        master.ID,
		MasterJoinLink:  gf.MasterJoinLink,
		MasterAvatarURL: gf.MasterAvatarURL,
		RoomID:          gf.RoomID,
	})
	if err != nil {
		return nil, fmt.Errorf("game: %w", err)
	}
	if _, err := w.UpsertMap(ctx, &game.Map{
		ExternalID: gf.Map.ExternalID,
		GameID:     g.ID,
		URL:        gf.Map.URL,
		XCenter:    gf.Map.XCenter,
		YCenter:    gf.Map.YCenter,
		Zoom:       gf.Map.Zoom,
	}); err != nil {
		return nil, fmt.Errorf("map: %w", err)
	}

	for _, cf := range gf.Characters {
		if _, err := w.UpsertCharacter(ctx, &game.Character{
			ExternalID: cf.ExternalID,
			GameID:     g.ID,
			Name:       cf.Name,
			JoinLink:   cf.JoinLink,
			AvatarURL:  cf.AvatarURL,
			Race:       cf.Race,
			Color:      cf.Color,
			Inventory:  cf.Inventory,
			X:          cf.X,
			Y:          cf.Y,
		}); err != nil {
			return nil, fmt.Errorf("character %q: %w", cf.ExternalID, err)
		}
		sum.Characters++
	}
	for _, itf := range gf.Items {
		if _, err := w.UpsertItem(ctx, &game.Item{
			ExternalID: itf.ExternalID,
			GameID:     g.ID,
			Name:       itf.Name,
			IconURL:    itf.IconURL,
			X:          itf.X,
			Y:          itf.Y,
		}); err != nil {
			return nil, fmt.Errorf("item %q: %w", itf.ExternalID, err)
		}
		sum.Items++
	}
	for kind, assets := range map[media.Kind][]AssetFixture{media.KindAudio: gf.Audio, media.KindVideo: gf.Video} {
		for _, af := range assets {
			if _, err := w.UpsertAsset(ctx, &game.Asset{
				ExternalID:      af.ExternalID,
				GameID:          g.ID,
				Kind:            kind,
				Name:            af.Name,
				URL:             af.URL,
				DurationSeconds: af.DurationSeconds,
			}); err != nil {
				return nil, fmt.Errorf("%s %q: %w", kind, af.ExternalID, err)
			}
			sum.Assets++
		}
	}
	return g, nil
}
