// Package seed loads development fixtures of games and their content into a store.
package seed

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/tabletop-hub/internal/game"
)

// Fixture is the root of a seed YAML file.
type Fixture struct {
	Games []GameFixture `yaml:"games"`
}

// GameFixture describes one game and everything it owns.
type GameFixture struct {
	ExternalID      string             `yaml:"external_id"`
	Name            string             `yaml:"name"`
	Master          string             `yaml:"master"`
	MasterJoinLink  string             `yaml:"master_join_link"`
	MasterAvatarURL string             `yaml:"master_avatar_url"`
	RoomID          *int64             `yaml:"room_id"`
	Map             MapFixture         `yaml:"map"`
	Characters      []CharacterFixture `yaml:"characters"`
	Items           []ItemFixture      `yaml:"items"`
	Audio           []AssetFixture     `yaml:"audio"`
	Video           []AssetFixture     `yaml:"video"`
}

type MapFixture struct {
	ExternalID string  `yaml:"external_id"`
	URL        string  `yaml:"url"`
	XCenter    float64 `yaml:"x_center"`
	YCenter    float64 `yaml:"y_center"`
	Zoom       float64 `yaml:"zoom"`
}

type CharacterFixture struct {
	ExternalID string               `yaml:"external_id"`
	Name       string               `yaml:"name"`
	JoinLink   string               `yaml:"join_link"`
	AvatarURL  string               `yaml:"avatar_url"`
	Race       string               `yaml:"race"`
	Color      string               `yaml:"color"`
	Inventory  []game.InventoryItem `yaml:"inventory"`
	X          *float64             `yaml:"x"`
	Y          *float64             `yaml:"y"`
}

type ItemFixture struct {
	ExternalID string   `yaml:"external_id"`
	Name       string   `yaml:"name"`
	IconURL    string   `yaml:"icon_url"`
	X          *float64 `yaml:"x"`
	Y          *float64 `yaml:"y"`
}

type AssetFixture struct {
	ExternalID      string   `yaml:"external_id"`
	Name            string   `yaml:"name"`
	URL             string   `yaml:"url"`
	DurationSeconds *float64 `yaml:"duration_seconds"`
}

// LoadFile reads and validates the fixture at path.
//
// Postcondition: Returns a fixture with every generated identifier filled in,
// or an error naming the offending entry.
func LoadFile(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture %s: %w", path, err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse decodes a fixture, rejecting unknown fields.
func Parse(r io.Reader) (*Fixture, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f Fixture
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, fmt.Errorf("decoding fixture: %w", err)
	}
	f.fillDefaults()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func orNew(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

func (f *Fixture) fillDefaults() {
	for gi := range f.Games {
		g := &f.Games[gi]
		g.ExternalID = orNew(g.ExternalID)
		if g.Master == "" {
			g.Master = "master-" + g.ExternalID
		}
		if g.MasterJoinLink == "" {
			g.MasterJoinLink = game.MasterLinkPrefix + uuid.NewString()
		}
		g.Map.ExternalID = orNew(g.Map.ExternalID)
		if g.Map.Zoom == 0 {
			g.Map.Zoom = 1
		}
		for ci := range g.Characters {
			c := &g.Characters[ci]
			c.ExternalID = orNew(c.ExternalID)
			c.JoinLink = orNew(c.JoinLink)
			if c.Color == "" {
				c.Color = game.DefaultColor
			}
		}
		for ii := range g.Items {
			g.Items[ii].ExternalID = orNew(g.Items[ii].ExternalID)
		}
		for ai := range g.Audio {
			g.Audio[ai].ExternalID = orNew(g.Audio[ai].ExternalID)
		}
		for vi := range g.Video {
			g.Video[vi].ExternalID = orNew(g.Video[vi].ExternalID)
		}
	}
}

// Validate checks the fixture for missing fields and duplicate links.
//
// Postcondition: Returns nil, or one error listing every violation.
func (f *Fixture) Validate() error {
	var errs []string
	games := make(map[string]bool)
	links := make(map[string]string)
	claim := func(link, owner string) {
		if prev, ok := links[link]; ok {
			errs = append(errs, fmt.Sprintf("join link %q used by %s and %s", link, prev, owner))
			return
		}
		links[link] = owner
	}

	for _, g := range f.Games {
		if games[g.ExternalID] {
			errs = append(errs, fmt.Sprintf("game %q defined twice", g.ExternalID))
		}
		games[g.ExternalID] = true
		if g.Name == "" {
			errs = append(errs, fmt.Sprintf("game %q: name must not be empty", g.ExternalID))
		}
		if !strings.HasPrefix(g.MasterJoinLink, game.MasterLinkPrefix) {
			errs = append(errs, fmt.Sprintf("game %q: master_join_link must start with %q", g.ExternalID, game.MasterLinkPrefix))
		}
		claim(g.MasterJoinLink, "game "+g.ExternalID)
		if g.Map.URL == "" {
			errs = append(errs, fmt.Sprintf("game %q: map.url must not be empty", g.ExternalID))
		}
		for _, c := range g.Characters {
			if c.Name == "" {
				errs = append(errs, fmt.Sprintf("game %q: character %q: name must not be empty", g.ExternalID, c.ExternalID))
			}
			if strings.HasPrefix(c.JoinLink, game.MasterLinkPrefix) {
				errs = append(errs, fmt.Sprintf("game %q: character %q: join_link must not start with %q", g.ExternalID, c.ExternalID, game.MasterLinkPrefix))
			}
			claim(c.JoinLink, "character "+c.ExternalID)
		}
		for _, a := range append(append([]AssetFixture(nil), g.Audio...), g.Video...) {
			if a.URL == "" {
				errs = append(errs, fmt.Sprintf("game %q: asset %q: url must not be empty", g.ExternalID, a.ExternalID))
			}
			if a.DurationSeconds != nil && *a.DurationSeconds < 0 {
				errs = append(errs, fmt.Sprintf("game %q: asset %q: duration_seconds must not be negative", g.ExternalID, a.ExternalID))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid fixture: %s", strings.Join(errs, "; "))
	}
	return nil
}
