package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/cory-johannsen/tabletop-hub/internal/errors"
	"github.com/cory-johannsen/tabletop-hub/internal/game"
	"github.com/cory-johannsen/tabletop-hub/internal/live"
	"github.com/cory-johannsen/tabletop-hub/internal/media"
)

var empty = gin.H{}

// fail writes err as {"code","message"} with the status its code maps to.
func fail(c *gin.Context, err error) {
	e := apperrors.Convert(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}

// bind decodes the JSON body into dst, failing the request on malformed input.
func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		fail(c, apperrors.InvalidArgument("malformed request body: %v", err))
		return false
	}
	return true
}

func (a *api) join(c *gin.Context) {
	res, err := a.svc.Join(c.Request.Context(), c.Param("link"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (a *api) getMap(c *gin.Context) {
	m, err := a.svc.Map(c.Request.Context(), c.Param("game"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m.State())
}

func (a *api) updateMap(c *gin.Context) {
	var req mapUpdateRequest
	if !bind(c, &req) {
		return
	}
	m, err := a.svc.UpdateMap(c.Request.Context(), c.Param("game"), game.MapPatch{
		XCenter: req.XCenter,
		YCenter: req.YCenter,
		Zoom:    req.Zoom,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m.State())
}

func (a *api) items(c *gin.Context) {
	items, err := a.svc.Items(c.Request.Context(), c.Param("game"))
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]itemView, 0, len(items))
	for _, i := range items {
		out = append(out, viewItem(i))
	}
	c.JSON(http.StatusOK, out)
}

func (a *api) moveItem(c *gin.Context) {
	var req positionRequest
	if !bind(c, &req) {
		return
	}
	i, err := a.svc.MoveItem(c.Request.Context(), c.Param("game"), c.Param("item"), game.PositionPatch{X: req.X, Y: req.Y})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewItem(i))
}

func (a *api) characters(c *gin.Context) {
	chars, err := a.svc.Characters(c.Request.Context(), c.Param("game"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, chars)
}

func (a *api) character(c *gin.Context) {
	v, err := a.svc.Character(c.Request.Context(), c.Param("game"), c.Param("character"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (a *api) moveCharacter(c *gin.Context) {
	var req positionRequest
	if !bind(c, &req) {
		return
	}
	if _, err := a.svc.MoveCharacter(c.Request.Context(), c.Param("game"), c.Param("character"), game.PositionPatch{X: req.X, Y: req.Y}); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, empty)
}

func (a *api) diceStarted(c *gin.Context) {
	var req diceStartedRequest
	if !bind(c, &req) {
		return
	}
	if err := a.svc.DiceStarted(c.Request.Context(), c.Param("game"), req.DiceID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, empty)
}

func (a *api) diceChanged(c *gin.Context) {
	var req diceChangedRequest
	if !bind(c, &req) {
		return
	}
	if err := a.svc.DiceChanged(c.Request.Context(), c.Param("game"), req.NewDiceID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, empty)
}

func (a *api) diceResulted(c *gin.Context) {
	var req diceResultedRequest
	if !bind(c, &req) {
		return
	}
	if err := a.svc.DiceResulted(c.Request.Context(), c.Param("game"), req.DiceID, req.Result); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, empty)
}

func (a *api) addFogPoint(c *gin.Context) {
	var req fogPointRequest
	if !bind(c, &req) {
		return
	}
	r, err := a.svc.AddFogPoint(c.Request.Context(), c.Param("game"), game.FogPointInput{X: req.X, Y: req.Y, Radius: req.Radius})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewFog(r))
}

func (a *api) fogPoints(c *gin.Context) {
	points, err := a.svc.FogPoints(c.Request.Context(), c.Param("game"))
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]any, 0, len(points))
	for _, p := range points {
		out = append(out, viewFog(p))
	}
	c.JSON(http.StatusOK, out)
}

func (a *api) audioFiles(c *gin.Context) { a.assets(c, media.KindAudio) }
func (a *api) videoFiles(c *gin.Context) { a.assets(c, media.KindVideo) }

func (a *api) assets(c *gin.Context, kind media.Kind) {
	assets, err := a.svc.Assets(c.Request.Context(), c.Param("game"), kind)
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]assetView, 0, len(assets))
	for _, as := range assets {
		out = append(out, assetView{ExternalID: as.ExternalID, Name: as.Name})
	}
	c.JSON(http.StatusOK, out)
}

func (a *api) playAudio(c *gin.Context) {
	var req audioRequest
	if !bind(c, &req) {
		return
	}
	a.play(c, media.KindAudio, req.AudioExternalID, req.Volume)
}

func (a *api) playVideo(c *gin.Context) {
	var req videoRequest
	if !bind(c, &req) {
		return
	}
	a.play(c, media.KindVideo, req.VideoExternalID, nil)
}

func (a *api) play(c *gin.Context, kind media.Kind, assetID string, volume *float64) {
	asset, err := a.svc.Play(c.Request.Context(), c.Param("game"), kind, assetID, volume)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started", idKey(kind): asset.ExternalID})
}

func (a *api) stopAudio(c *gin.Context) {
	var req audioRequest
	if !bind(c, &req) {
		return
	}
	a.stop(c, media.KindAudio, req.AudioExternalID)
}

func (a *api) stopVideo(c *gin.Context) {
	var req videoRequest
	if !bind(c, &req) {
		return
	}
	a.stop(c, media.KindVideo, req.VideoExternalID)
}

func (a *api) stop(c *gin.Context, kind media.Kind, assetID string) {
	stopped, err := a.svc.Stop(c.Request.Context(), c.Param("game"), kind, assetID)
	if err != nil {
		fail(c, err)
		return
	}
	if !stopped {
		c.JSON(http.StatusOK, gin.H{"status": "not_found", "message": notPlayingMessage(kind)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped", idKey(kind): assetID})
}

func idKey(kind media.Kind) string {
	return string(kind) + "_external_id"
}

func notPlayingMessage(kind media.Kind) string {
	if kind == media.KindVideo {
		return "Video playback not found or already stopped"
	}
	return "Audio playback not found or already stopped"
}

// liveStream upgrades to a websocket and serves the game's live channel
// until either side closes it.
func (a *api) liveStream(c *gin.Context) {
	gameID := c.Param("game")
	if _, err := a.svc.Map(c.Request.Context(), gameID); err != nil {
		fail(c, err)
		return
	}

	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		a.logger.Info("websocket upgrade failed", zap.String("game", gameID), zap.Error(err))
		return
	}
	ws := live.NewWebSocketStream(conn, a.stream, a.logger)
	if err := a.live.Serve(c.Request.Context(), gameID, ws); err != nil {
		a.logger.Info("live stream ended", zap.String("game", gameID), zap.Error(err))
	}
}
