package httpapi

import (
	"github.com/cory-johannsen/tabletop-hub/internal/event"
	"github.com/cory-johannsen/tabletop-hub/internal/game"
)

type itemView struct {
	ExternalID string   `json:"external_id"`
	Name       string   `json:"name"`
	IconURL    string   `json:"icon_url"`
	X          *float64 `json:"x"`
	Y          *float64 `json:"y"`
}

func viewItem(i *game.Item) itemView {
	return itemView{ExternalID: i.ExternalID, Name: i.Name, IconURL: i.IconURL, X: i.X, Y: i.Y}
}

type assetView struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
}

func viewFog(r *game.RevealedPoint) event.FogPoint {
	created := r.Point.CreatedAt
	return event.FogPoint{
		X:             r.Point.X,
		Y:             r.Point.Y,
		MapExternalID: r.MapExternalID,
		Radius:        r.Point.Radius,
		CreatedAt:     &created,
	}
}

type mapUpdateRequest struct {
	XCenter *float64 `json:"x_center"`
	YCenter *float64 `json:"y_center"`
	Zoom    *float64 `json:"zoom"`
}

type positionRequest struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

type fogPointRequest struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius int     `json:"radius"`
}

type diceStartedRequest struct {
	DiceID string `json:"dice_id"`
}

type diceChangedRequest struct {
	NewDiceID string `json:"new_dice_id"`
}

type diceResultedRequest struct {
	DiceID string `json:"dice_id"`
	Result int    `json:"result"`
}

type audioRequest struct {
	AudioExternalID string   `json:"audio_external_id"`
	Volume          *float64 `json:"volume"`
}

type videoRequest struct {
	VideoExternalID string `json:"video_external_id"`
}
