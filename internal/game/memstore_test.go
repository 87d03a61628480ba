package game

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cory-johannsen/tabletop-hub/internal/event"
	"github.com/cory-johannsen/tabletop-hub/internal/media"
)

// memStore is an in-memory Store. failSave makes every save fail.
type memStore struct {
	mu         sync.Mutex
	games      map[int64]*Game
	maps       map[int64]*Map
	characters map[string]*Character
	items      map[string]*Item
	fog        []*FogPoint
	assets     map[string]*Asset
	failSave   error
	saves      int
}

func newMemStore() *memStore {
	room := int64(1001)
	s := &memStore{
		games: map[int64]*Game{
			1: {ID: 1, ExternalID: "g1", Name: "Dungeon", MasterID: 1, MasterJoinLink: "m-g1", MasterAvatarURL: "https://cdn/master.png", RoomID: &room},
			2: {ID: 2, ExternalID: "g2", Name: "Roomless", MasterID: 1, MasterJoinLink: "m-g2"},
		},
		maps: map[int64]*Map{
			1: {ID: 10, ExternalID: "map1", GameID: 1, URL: "https://cdn/map1.png", XCenter: 100, YCenter: 200, Zoom: 1},
			2: {ID: 20, ExternalID: "map2", GameID: 2, URL: "https://cdn/map2.png", Zoom: 1},
		},
		characters: map[string]*Character{
			"c1": {ID: 1, ExternalID: "c1", GameID: 1, Name: "Aria", JoinLink: "join-c1", Color: "#ff0000"},
			"c2": {ID: 2, ExternalID: "c2", GameID: 2, Name: "Bram", JoinLink: "join-c2"},
		},
		items: map[string]*Item{
			"i1": {ID: 1, ExternalID: "i1", GameID: 1, Name: "Chest", IconURL: "https://cdn/chest.png"},
			"i2": {ID: 2, ExternalID: "i2", GameID: 2, Name: "Key"},
		},
		assets: map[string]*Asset{},
	}
	dur := 90.0
	s.addAsset(&Asset{ID: 1, ExternalID: "a1", GameID: 1, Kind: media.KindAudio, Name: "Tavern", URL: "https://cdn/tavern.mp3", DurationSeconds: &dur})
	s.addAsset(&Asset{ID: 2, ExternalID: "a2", GameID: 2, Kind: media.KindAudio, Name: "Other", URL: "https://cdn/other.mp3"})
	s.addAsset(&Asset{ID: 3, ExternalID: "v1", GameID: 1, Kind: media.KindVideo, Name: "Intro", URL: "https://cdn/intro.mp4"})
	return s
}

func assetKey(kind media.Kind, id string) string { return string(kind) + "/" + id }

func (s *memStore) addAsset(a *Asset) { s.assets[assetKey(a.Kind, a.ExternalID)] = a }

func (s *memStore) Store() Store {
	return Store{Games: s, Maps: s, Characters: s, Items: s, Fog: s, Assets: s}
}

var errMem = fmt.Errorf("record %w", ErrNotFound)

func (s *memStore) GameByExternalID(_ context.Context, id string) (*Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.games {
		if g.ExternalID == id {
			cp := *g
			return &cp, nil
		}
	}
	return nil, errMem
}

func (s *memStore) GameByID(_ context.Context, id int64) (*Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.games[id]; ok {
		cp := *g
		return &cp, nil
	}
	return nil, errMem
}

func (s *memStore) GameByMasterLink(_ context.Context, link string) (*Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.games {
		if g.MasterJoinLink == link {
			cp := *g
			return &cp, nil
		}
	}
	return nil, errMem
}

func (s *memStore) MapByGameID(_ context.Context, gameID int64) (*Map, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.maps[gameID]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, errMem
}

func (s *memStore) SaveMap(_ context.Context, m *Map) (*Map, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave != nil {
		return nil, s.failSave
	}
	s.saves++
	cp := *m
	s.maps[m.GameID] = &cp
	out := cp
	return &out, nil
}

func (s *memStore) CharacterByExternalID(_ context.Context, id string) (*Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.characters[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, errMem
}

func (s *memStore) CharacterByJoinLink(_ context.Context, link string) (*Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.characters {
		if c.JoinLink == link {
			cp := *c
			return &cp, nil
		}
	}
	return nil, errMem
}

func (s *memStore) CharactersByGame(_ context.Context, gameID int64) ([]*Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Character
	for _, c := range s.characters {
		if c.GameID == gameID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) SaveCharacterPosition(_ context.Context, c *Character) (*Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave != nil {
		return nil, s.failSave
	}
	s.saves++
	cp := *c
	s.characters[c.ExternalID] = &cp
	out := cp
	return &out, nil
}

func (s *memStore) ItemByExternalID(_ context.Context, id string) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.items[id]; ok {
		cp := *i
		return &cp, nil
	}
	return nil, errMem
}

func (s *memStore) ItemsByGame(_ context.Context, gameID int64) ([]*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Item
	for _, i := range s.items {
		if i.GameID == gameID {
			cp := *i
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) SaveItemPosition(_ context.Context, i *Item) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave != nil {
		return nil, s.failSave
	}
	s.saves++
	cp := *i
	s.items[i.ExternalID] = &cp
	out := cp
	return &out, nil
}

func (s *memStore) AddFogPoint(_ context.Context, p *FogPoint) (*FogPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave != nil {
		return nil, s.failSave
	}
	s.saves++
	cp := *p
	cp.ID = int64(len(s.fog) + 1)
	cp.CreatedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).Add(time.Duration(cp.ID) * time.Second)
	s.fog = append(s.fog, &cp)
	out := cp
	return &out, nil
}

func (s *memStore) FogPointsByMap(_ context.Context, mapID int64) ([]*FogPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*FogPoint
	for _, p := range s.fog {
		if p.MapID == mapID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) AssetByExternalID(_ context.Context, kind media.Kind, id string) (*Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.assets[assetKey(kind, id)]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, errMem
}

func (s *memStore) AssetsByGame(_ context.Context, kind media.Kind, gameID int64) ([]*Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Asset
	for _, a := range s.assets {
		if a.Kind == kind && a.GameID == gameID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type sent struct {
	gameID string
	ev     event.Event
}

// recordingBroadcaster remembers every broadcast.
type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []sent
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, gameID string, ev event.Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sent{gameID: gameID, ev: ev})
	return 1
}

func (b *recordingBroadcaster) all() []sent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sent(nil), b.sent...)
}

// fakeMedia records play and stop requests.
type fakeMedia struct {
	mu      sync.Mutex
	plays   []media.PlayRequest
	playing map[string]string
	playErr error
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{playing: make(map[string]string)}
}

func (m *fakeMedia) Play(_ context.Context, req media.PlayRequest) (*media.Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.playErr != nil {
		return nil, m.playErr
	}
	m.plays = append(m.plays, req)
	m.playing[req.GameID+"/"+string(req.Kind)] = req.Asset.ExternalID
	return nil, nil
}

func (m *fakeMedia) Stop(_ context.Context, gameID, assetID string, kind media.Kind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := gameID + "/" + string(kind)
	if m.playing[k] != assetID {
		return false
	}
	delete(m.playing, k)
	return true
}

var errDisk = errors.New("disk full")
