package game

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	apperrors "github.com/cory-johannsen/tabletop-hub/internal/errors"
	"github.com/cory-johannsen/tabletop-hub/internal/event"
	"github.com/cory-johannsen/tabletop-hub/internal/live"
	"github.com/cory-johannsen/tabletop-hub/internal/media"
)

func ptr[T any](v T) *T { return &v }

func newTestService(t *testing.T) (*Service, *memStore, *recordingBroadcaster, *fakeMedia) {
	store := newMemStore()
	bc := &recordingBroadcaster{}
	fm := newFakeMedia()
	svc := NewService(store.Store(), fm, zaptest.NewLogger(t), WithBroadcaster(bc))
	return svc, store, bc, fm
}

func TestUpdateMap_PatchesOnlyPresentFields(t *testing.T) {
	svc, store, bc, _ := newTestService(t)

	m, err := svc.UpdateMap(context.Background(), "g1", MapPatch{Zoom: ptr(2.5)})
	require.NoError(t, err)

	assert.Equal(t, 2.5, m.Zoom)
	assert.Equal(t, 100.0, m.XCenter)
	assert.Equal(t, 200.0, m.YCenter)
	assert.Equal(t, 2.5, store.maps[1].Zoom)

	sent := bc.all()
	require.Len(t, sent, 1)
	assert.Equal(t, "g1", sent[0].gameID)
	assert.Equal(t, event.TopicMapUpdate, sent[0].ev.Topic)
	assert.Equal(t, m.State(), sent[0].ev.Data)
}

func TestUpdateMap_UnknownGame(t *testing.T) {
	svc, store, bc, _ := newTestService(t)

	_, err := svc.UpdateMap(context.Background(), "nope", MapPatch{Zoom: ptr(2.0)})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))
	assert.Empty(t, bc.all())
	assert.Zero(t, store.saves)
}

func TestUpdateMap_SaveFailureBroadcastsNothing(t *testing.T) {
	svc, store, bc, _ := newTestService(t)
	store.failSave = errDisk

	_, err := svc.UpdateMap(context.Background(), "g1", MapPatch{Zoom: ptr(3.0)})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeInternal))
	assert.ErrorIs(t, err, errDisk)
	assert.Empty(t, bc.all())
	assert.Equal(t, 1.0, store.maps[1].Zoom)
}

func TestUpdateMap_RejectsNonFinite(t *testing.T) {
	svc, store, bc, _ := newTestService(t)

	inf := math.Inf(1)
	_, err := svc.UpdateMap(context.Background(), "g1", MapPatch{XCenter: &inf})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidArgument))
	assert.Empty(t, bc.all())
	assert.Zero(t, store.saves)
}

func TestMoveCharacter(t *testing.T) {
	svc, store, bc, _ := newTestService(t)

	c, err := svc.MoveCharacter(context.Background(), "g1", "c1", PositionPatch{X: ptr(4.0), Y: ptr(5.0)})
	require.NoError(t, err)
	assert.Equal(t, 4.0, *c.X)
	assert.Equal(t, 5.0, *store.characters["c1"].Y)

	sent := bc.all()
	require.Len(t, sent, 1)
	assert.Equal(t, event.CharacterUpdate(event.Position{ExternalID: "c1", X: ptr(4.0), Y: ptr(5.0)}), sent[0].ev)

	// absent Y keeps the stored value
	c, err = svc.MoveCharacter(context.Background(), "g1", "c1", PositionPatch{X: ptr(7.0)})
	require.NoError(t, err)
	assert.Equal(t, 7.0, *c.X)
	assert.Equal(t, 5.0, *c.Y)
}

func TestMoveCharacter_OtherGameIsNotFound(t *testing.T) {
	svc, store, bc, _ := newTestService(t)

	_, err := svc.MoveCharacter(context.Background(), "g1", "c2", PositionPatch{X: ptr(1.0)})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))
	assert.Empty(t, bc.all())
	assert.Nil(t, store.characters["c2"].X)
}

func TestMoveItem(t *testing.T) {
	svc, _, bc, _ := newTestService(t)

	i, err := svc.MoveItem(context.Background(), "g1", "i1", PositionPatch{X: ptr(1.5), Y: ptr(-2.0)})
	require.NoError(t, err)
	assert.Equal(t, "i1", i.ExternalID)

	sent := bc.all()
	require.Len(t, sent, 1)
	assert.Equal(t, event.TopicItemUpdate, sent[0].ev.Topic)

	_, err = svc.MoveItem(context.Background(), "g1", "i2", PositionPatch{X: ptr(1.0)})
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))
	_, err = svc.MoveItem(context.Background(), "g1", "missing", PositionPatch{X: ptr(1.0)})
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))
	assert.Len(t, bc.all(), 1)
}

func TestAddFogPoint(t *testing.T) {
	svc, store, bc, _ := newTestService(t)

	r, err := svc.AddFogPoint(context.Background(), "g1", FogPointInput{X: 10, Y: 20, Radius: 30})
	require.NoError(t, err)
	assert.Equal(t, "map1", r.MapExternalID)
	assert.Equal(t, int64(10), r.Point.MapID)
	require.Len(t, store.fog, 1)

	sent := bc.all()
	require.Len(t, sent, 1)
	payload, err := sent[0].ev.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"topic":"fog_erace_point.add","data":{"x":10,"y":20,"map_external_id":"map1","radius":30,"created_at":"2026-01-02T03:04:06Z"}}`, string(payload))

	points, err := svc.FogPoints(context.Background(), "g1")
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 30, points[0].Point.Radius)
}

func TestAddFogPoint_RejectsNonPositiveRadius(t *testing.T) {
	svc, store, bc, _ := newTestService(t)

	for _, radius := range []int{0, -5} {
		_, err := svc.AddFogPoint(context.Background(), "g1", FogPointInput{X: 1, Y: 1, Radius: radius})
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.CodeInvalidArgument))
	}
	assert.Empty(t, store.fog)
	assert.Empty(t, bc.all())
}

func TestDiceAnnouncements(t *testing.T) {
	svc, _, bc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.DiceStarted(ctx, "g1", "d20"))
	require.NoError(t, svc.DiceChanged(ctx, "g1", "d6"))
	require.NoError(t, svc.DiceResulted(ctx, "g1", "d6", 4))

	sent := bc.all()
	require.Len(t, sent, 3)
	assert.Equal(t, event.DiceStarted(event.DiceStart{DiceID: "d20"}), sent[0].ev)
	assert.Equal(t, event.DiceChanged(event.DiceChange{NewDiceID: "d6"}), sent[1].ev)
	assert.Equal(t, event.DiceResulted(event.DiceResult{DiceID: "d6", Result: 4}), sent[2].ev)

	err := svc.DiceStarted(ctx, "nope", "d20")
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))
	err = svc.DiceStarted(ctx, "g1", " ")
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidArgument))
	assert.Len(t, bc.all(), 3)
}

func TestJoin(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	master, err := svc.Join(ctx, "m-g1")
	require.NoError(t, err)
	assert.Equal(t, &JoinResult{GameID: "g1", RoomID: ptr(int64(1001)), UserID: MasterUserID, IsMaster: true}, master)

	player, err := svc.Join(ctx, "join-c1")
	require.NoError(t, err)
	assert.Equal(t, &JoinResult{GameID: "g1", RoomID: ptr(int64(1001)), UserID: "c1"}, player)

	_, err = svc.Join(ctx, "m-unknown")
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))
	_, err = svc.Join(ctx, "unknown")
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))
}

func TestCharacters_AppendsMaster(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	views, err := svc.Characters(context.Background(), "g1")
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "c1", views[0].ExternalID)
	assert.Equal(t, "#ff0000", views[0].Color)
	assert.False(t, views[0].IsMaster)

	master := views[1]
	assert.Equal(t, MasterUserID, master.ExternalID)
	assert.Equal(t, MasterDisplayName, master.Name)
	assert.Equal(t, "https://cdn/master.png", master.AvatarURL)
	assert.True(t, master.IsMaster)

	one, err := svc.Character(context.Background(), "g1", MasterUserID)
	require.NoError(t, err)
	assert.Equal(t, master, *one)

	_, err = svc.Character(context.Background(), "g1", "c2")
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))
}

func TestCharacter_DefaultColorAndEmptyInventory(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	store.characters["c3"] = &Character{ID: 3, ExternalID: "c3", GameID: 1, Name: "Cole"}

	v, err := svc.Character(context.Background(), "g1", "c3")
	require.NoError(t, err)
	assert.Equal(t, DefaultColor, v.Color)

	b, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"inventory":[]`)
	assert.Contains(t, string(b), `"x":null`)
}

func TestPlay_ChecksRoomAndOwnership(t *testing.T) {
	svc, _, _, fm := newTestService(t)
	ctx := context.Background()

	a, err := svc.Play(ctx, "g1", media.KindAudio, "a1", ptr(0.5))
	require.NoError(t, err)
	assert.Equal(t, "a1", a.ExternalID)
	require.Len(t, fm.plays, 1)
	req := fm.plays[0]
	assert.Equal(t, int64(1001), req.RoomID)
	assert.Equal(t, 0.5, *req.Volume)
	require.NotNil(t, req.Duration)
	assert.Equal(t, 90*time.Second, *req.Duration)

	_, err = svc.Play(ctx, "g1", media.KindAudio, "a2", nil)
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound), "asset of another game")
	_, err = svc.Play(ctx, "g1", media.KindVideo, "a1", nil)
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound), "audio id used as video")
	_, err = svc.Play(ctx, "g2", media.KindAudio, "a2", nil)
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidArgument), "game without room")
	assert.Len(t, fm.plays, 1)
}

func TestPlay_VolumeOutOfRange(t *testing.T) {
	svc, _, _, fm := newTestService(t)

	_, err := svc.Play(context.Background(), "g1", media.KindAudio, "a1", ptr(1.5))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidArgument))
	assert.Contains(t, apperrors.Convert(err).Message, "Volume must be between 0.0 and 1.0")
	assert.Empty(t, fm.plays)
}

func TestPlay_VideoIgnoresVolume(t *testing.T) {
	svc, _, _, fm := newTestService(t)

	_, err := svc.Play(context.Background(), "g1", media.KindVideo, "v1", ptr(7.0))
	require.NoError(t, err)
	require.Len(t, fm.plays, 1)
	assert.Nil(t, fm.plays[0].Volume)
	assert.Nil(t, fm.plays[0].Duration)
}

func TestStop(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	stopped, err := svc.Stop(ctx, "g1", media.KindAudio, "a1")
	require.NoError(t, err)
	assert.False(t, stopped)

	_, err = svc.Play(ctx, "g1", media.KindAudio, "a1", nil)
	require.NoError(t, err)
	stopped, err = svc.Stop(ctx, "g1", media.KindAudio, "a1")
	require.NoError(t, err)
	assert.True(t, stopped)

	_, err = svc.Stop(ctx, "g1", media.KindAudio, "missing")
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))
}

func TestPlay_WithoutCoordinator(t *testing.T) {
	store := newMemStore()
	svc := NewService(store.Store(), nil, zaptest.NewLogger(t))

	_, err := svc.Play(context.Background(), "g1", media.KindAudio, "a1", nil)
	assert.True(t, apperrors.Is(err, apperrors.CodeUnavailable))
}

// streamRecorder is a live.Stream collecting decoded envelopes.
type streamRecorder struct {
	mu   sync.Mutex
	msgs []map[string]any
}

func (s *streamRecorder) Write(_ context.Context, msg []byte) error {
	var env map[string]any
	if err := json.Unmarshal(msg, &env); err != nil {
		return err
	}
	s.mu.Lock()
	s.msgs = append(s.msgs, env)
	s.mu.Unlock()
	return nil
}

func (s *streamRecorder) received() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.msgs...)
}

func zoomOf(env map[string]any) any {
	return env["data"].(map[string]any)["zoom"]
}

// Clients A and B see the zoom change; C joins afterwards and starts from it.
func TestZoomScenario(t *testing.T) {
	store := newMemStore()
	svc := NewService(store.Store(), nil, zaptest.NewLogger(t))
	reg := live.NewRegistry(zaptest.NewLogger(t), svc)
	svc.SetBroadcaster(reg)

	ctx, cancel := context.WithCancel(context.Background())
	var forwarders sync.WaitGroup
	t.Cleanup(func() {
		cancel()
		forwarders.Wait()
		reg.Close()
	})
	connect := func() *streamRecorder {
		stream := &streamRecorder{}
		sub, err := reg.Subscribe(ctx, "g1", stream)
		require.NoError(t, err)
		forwarders.Add(1)
		go func() {
			defer forwarders.Done()
			_ = sub.Forward(ctx)
		}()
		return stream
	}

	a, b := connect(), connect()
	for _, s := range []*streamRecorder{a, b} {
		require.Eventually(t, func() bool { return len(s.received()) == 1 }, time.Second, 5*time.Millisecond)
	}

	_, err := svc.UpdateMap(ctx, "g1", MapPatch{Zoom: ptr(2.0)})
	require.NoError(t, err)

	for _, s := range []*streamRecorder{a, b} {
		require.Eventually(t, func() bool { return len(s.received()) == 2 }, time.Second, 5*time.Millisecond)
		msgs := s.received()
		assert.Equal(t, "map.update", msgs[1]["topic"])
		assert.Equal(t, 2.0, zoomOf(msgs[1]))
	}

	c := connect()
	require.Eventually(t, func() bool { return len(c.received()) == 1 }, time.Second, 5*time.Millisecond)
	first := c.received()[0]
	assert.Equal(t, "map.update", first["topic"])
	assert.Equal(t, 2.0, zoomOf(first))
}

// Property: after any sequence of zoom updates a late joiner's snapshot
// carries the last persisted zoom.
func TestPropertyLateJoinerSeesLastWrite(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		store := newMemStore()
		svc := NewService(store.Store(), nil, zaptest.NewLogger(t))
		reg := live.NewRegistry(zaptest.NewLogger(t), svc)
		svc.SetBroadcaster(reg)
		defer reg.Close()

		zooms := rapid.SliceOfN(rapid.Float64Range(0.1, 10), 1, 20).Draw(rt, "zooms")
		for _, z := range zooms {
			if _, err := svc.UpdateMap(context.Background(), "g1", MapPatch{Zoom: ptr(z)}); err != nil {
				rt.Fatalf("UpdateMap: %v", err)
			}
		}

		ev, err := svc.MapSnapshot(context.Background(), "g1")
		if err != nil {
			rt.Fatalf("MapSnapshot: %v", err)
		}
		if got := ev.Data.(event.MapState).Zoom; got != zooms[len(zooms)-1] {
			rt.Fatalf("snapshot zoom %v, want %v", got, zooms[len(zooms)-1])
		}
	})
}
