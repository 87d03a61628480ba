// Package game holds the tabletop domain records and the mutation pipeline
// that persists a change before broadcasting it to the game's live channel.
package game

import (
	"time"

	"github.com/cory-johannsen/tabletop-hub/internal/event"
	"github.com/cory-johannsen/tabletop-hub/internal/media"
)

// MasterUserID is the user id reported for the game master, who has no character row.
const MasterUserID = "master"

// MasterDisplayName is the name of the master pseudo-character.
const MasterDisplayName = "Мастер игры"

// DefaultColor is the token color of a character that has none.
const DefaultColor = "#ffffff"

// MasterLinkPrefix marks join links that resolve to the game master.
const MasterLinkPrefix = "m-"

// Master is the owner of one or more games.
type Master struct {
	ID         int64
	ExternalID string
}

// Game is one tabletop session. RoomID is the media room, nil until assigned.
type Game struct {
	ID              int64
	ExternalID      string
	Name            string
	MasterID        int64
	MasterJoinLink  string
	MasterAvatarURL string
	RoomID          *int64
}

// Map is the shared viewport of a game.
type Map struct {
	ID         int64
	ExternalID string
	GameID     int64
	URL        string
	XCenter    float64
	YCenter    float64
	Zoom       float64
}

// State returns the map.update payload for m.
func (m *Map) State() event.MapState {
	return event.MapState{
		ID:      m.ID,
		GameID:  m.GameID,
		URL:     m.URL,
		XCenter: m.XCenter,
		YCenter: m.YCenter,
		Zoom:    m.Zoom,
	}
}

// InventoryItem is one entry of a character's inventory.
type InventoryItem struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	ImageURL    string `json:"image_url" yaml:"image_url"`
	Description string `json:"description" yaml:"description"`
	Quantity    int    `json:"quantity" yaml:"quantity"`
}

// Character is a player token. Nil coordinates mean it is not placed.
type Character struct {
	ID         int64
	ExternalID string
	GameID     int64
	Name       string
	JoinLink   string
	AvatarURL  string
	Race       string
	Color      string
	Inventory  []InventoryItem
	X          *float64
	Y          *float64
}

// Position returns the character.update payload for c.
func (c *Character) Position() event.Position {
	return event.Position{ExternalID: c.ExternalID, X: c.X, Y: c.Y}
}

// Item is a non-character token on the map.
type Item struct {
	ID         int64
	ExternalID string
	GameID     int64
	Name       string
	IconURL    string
	X          *float64
	Y          *float64
}

// Position returns the item.update payload for i.
func (i *Item) Position() event.Position {
	return event.Position{ExternalID: i.ExternalID, X: i.X, Y: i.Y}
}

// FogPoint is one fog-of-war reveal circle. Points are append-only.
type FogPoint struct {
	ID        int64
	MapID     int64
	X         float64
	Y         float64
	Radius    int
	CreatedAt time.Time
}

// Asset is an audio or video file that can be played into a game's room.
type Asset struct {
	ID              int64
	ExternalID      string
	GameID          int64
	Kind            media.Kind
	Name            string
	URL             string
	DurationSeconds *float64
}

// Duration returns the planned playback length, nil for indefinite playback.
func (a *Asset) Duration() *time.Duration {
	if a.DurationSeconds == nil {
		return nil
	}
	d := time.Duration(*a.DurationSeconds * float64(time.Second))
	return &d
}

// MediaAsset converts a to the coordinator's asset reference.
func (a *Asset) MediaAsset() media.Asset {
	return media.Asset{ExternalID: a.ExternalID, Name: a.Name, URL: a.URL}
}
