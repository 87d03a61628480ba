// Package event defines the domain events fanned out to live subscribers and
// their wire encoding.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Topic discriminates a domain event on the wire.
type Topic string

const (
	TopicMapUpdate       Topic = "map.update"
	TopicCharacterUpdate Topic = "character.update"
	TopicItemUpdate      Topic = "item.update"
	TopicDiceStart       Topic = "dice.start"
	TopicDiceChange      Topic = "dice.change"
	TopicDiceResult      Topic = "dice.result"
	TopicFogPointAdd     Topic = "fog_erace_point.add"
)

var topics = map[Topic]bool{
	TopicMapUpdate:       true,
	TopicCharacterUpdate: true,
	TopicItemUpdate:      true,
	TopicDiceStart:       true,
	TopicDiceChange:      true,
	TopicDiceResult:      true,
	TopicFogPointAdd:     true,
}

// Valid reports whether t is one of the known topics.
func (t Topic) Valid() bool {
	return topics[t]
}

// Event is a topic plus its payload. Its JSON form is {"topic": ..., "data": ...}.
type Event struct {
	Topic Topic `json:"topic"`
	Data  any   `json:"data"`
}

// Encode serializes the event into its wire form.
//
// Precondition: e.Topic must be a known topic.
// Postcondition: Returns the JSON envelope or a non-nil error.
func (e Event) Encode() ([]byte, error) {
	if !e.Topic.Valid() {
		return nil, fmt.Errorf("unknown event topic %q", e.Topic)
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding %s event: %w", e.Topic, err)
	}
	return b, nil
}

// MapState is the payload of map.update. It carries the full viewport.
type MapState struct {
	ID      int64   `json:"id"`
	GameID  int64   `json:"game_id"`
	URL     string  `json:"url"`
	XCenter float64 `json:"x_center"`
	YCenter float64 `json:"y_center"`
	Zoom    float64 `json:"zoom"`
}

// Position is the payload of character.update and item.update. A nil
// coordinate means the token is not placed on the map.
type Position struct {
	ExternalID string   `json:"external_id"`
	X          *float64 `json:"x"`
	Y          *float64 `json:"y"`
}

type DiceStart struct {
	DiceID string `json:"dice_id"`
}

type DiceChange struct {
	NewDiceID string `json:"new_dice_id"`
}

type DiceResult struct {
	DiceID string `json:"dice_id"`
	Result int    `json:"result"`
}

// FogPoint is the payload of fog_erace_point.add.
type FogPoint struct {
	X             float64    `json:"x"`
	Y             float64    `json:"y"`
	MapExternalID string     `json:"map_external_id"`
	Radius        int        `json:"radius"`
	CreatedAt     *time.Time `json:"created_at"`
}

func MapUpdate(m MapState) Event { return Event{Topic: TopicMapUpdate, Data: m} }
func CharacterUpdate(p Position) Event { return Event{Topic: TopicCharacterUpdate, Data: p} }
func ItemUpdate(p Position) Event { return Event{Topic: TopicItemUpdate, Data: p} }
func DiceStarted(d DiceStart) Event { return Event{Topic: TopicDiceStart, Data: d} }
func DiceChanged(d DiceChange) Event { return Event{Topic: TopicDiceChange, Data: d} }
func DiceResulted(d DiceResult) Event { return Event{Topic: TopicDiceResult, Data: d} }
func FogPointAdded(f FogPoint) Event { return Event{Topic: TopicFogPointAdd, Data: f} }
