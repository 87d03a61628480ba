// Package memory provides an in-process game store for development runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cory-johannsen/tabletop-hub/internal/game"
	"github.com/cory-johannsen/tabletop-hub/internal/media"
)

// Lookup sentinels, each wrapping game.ErrNotFound.
var (
	ErrGameNotFound      = fmt.Errorf("game %w", game.ErrNotFound)
	ErrMapNotFound       = fmt.Errorf("map %w", game.ErrNotFound)
	ErrCharacterNotFound = fmt.Errorf("character %w", game.ErrNotFound)
	ErrItemNotFound      = fmt.Errorf("item %w", game.ErrNotFound)
	ErrAssetNotFound     = fmt.Errorf("asset %w", game.ErrNotFound)
)

// Store keeps every record in maps guarded by one mutex. Returned records
// are copies; callers may modify them freely.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time
	seq int64

	masters    map[string]*game.Master
	games      map[int64]*game.Game
	maps       map[int64]*game.Map // by game id
	characters map[string]*game.Character
	items      map[string]*game.Item
	fog        []*game.FogPoint
	assets     map[media.Kind]map[string]*game.Asset
}

// New creates an empty Store. now stamps fog points; nil means time.Now.
func New(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		now:        now,
		masters:    make(map[string]*game.Master),
		games:      make(map[int64]*game.Game),
		maps:       make(map[int64]*game.Map),
		characters: make(map[string]*game.Character),
		items:      make(map[string]*game.Item),
		assets: map[media.Kind]map[string]*game.Asset{
			media.KindAudio: {},
			media.KindVideo: {},
		},
	}
}

// Store returns s as the domain store.
func (s *Store) Store() game.Store {
	return game.Store{Games: s, Maps: s, Characters: s, Items: s, Fog: s, Assets: s}
}

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

func clone[T any](v *T) *T {
	cp := *v
	return &cp
}

func cloneCharacter(c *game.Character) *game.Character {
	cp := *c
	cp.Inventory = append([]game.InventoryItem(nil), c.Inventory...)
	return &cp
}

// UpsertMaster returns the master with externalID, creating it when missing.
func (s *Store) UpsertMaster(_ context.Context, externalID string) (*game.Master, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.masters[externalID]
	if !ok {
		m = &game.Master{ID: s.nextID(), ExternalID: externalID}
		s.masters[externalID] = m
	}
	return clone(m), nil
}

// UpsertGame stores g keyed by its external id.
func (s *Store) UpsertGame(_ context.Context, g *game.Game) (*game.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := clone(g)
	stored.ID = 0
	for _, existing := range s.games {
		if existing.ExternalID == g.ExternalID {
			stored.ID = existing.ID
			continue
		}
		if existing.MasterJoinLink == g.MasterJoinLink {
			return nil, fmt.Errorf("master join link %q already taken", g.MasterJoinLink)
		}
	}
	if stored.ID == 0 {
		stored.ID = s.nextID()
	}
	s.games[stored.ID] = stored
	return clone(stored), nil
}

func (s *Store) findGame(match func(*game.Game) bool) (*game.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.games {
		if match(g) {
			return clone(g), nil
		}
	}
	return nil, ErrGameNotFound
}

func (s *Store) GameByExternalID(_ context.Context, externalID string) (*game.Game, error) {
	return s.findGame(func(g *game.Game) bool { return g.ExternalID == externalID })
}

func (s *Store) GameByID(_ context.Context, id int64) (*game.Game, error) {
	return s.findGame(func(g *game.Game) bool { return g.ID == id })
}

func (s *Store) GameByMasterLink(_ context.Context, link string) (*game.Game, error) {
	return s.findGame(func(g *game.Game) bool { return g.MasterJoinLink == link })
}

// UpsertMap stores m as the map of m.GameID.
func (s *Store) UpsertMap(_ context.Context, m *game.Map) (*game.Map, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[m.GameID]; !ok {
		return nil, ErrGameNotFound
	}
	stored := clone(m)
	if existing, ok := s.maps[m.GameID]; ok {
		stored.ID = existing.ID
	} else {
		stored.ID = s.nextID()
	}
	s.maps[m.GameID] = stored
	return clone(stored), nil
}

func (s *Store) MapByGameID(_ context.Context, gameID int64) (*game.Map, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.maps[gameID]; ok {
		return clone(m), nil
	}
	return nil, ErrMapNotFound
}

func (s *Store) SaveMap(_ context.Context, m *game.Map) (*game.Map, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.maps[m.GameID]
	if !ok || existing.ID != m.ID {
		return nil, ErrMapNotFound
	}
	stored := clone(m)
	s.maps[m.GameID] = stored
	return clone(stored), nil
}

// UpsertCharacter stores c keyed by its external id.
func (s *Store) UpsertCharacter(_ context.Context, c *game.Character) (*game.Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[c.GameID]; !ok {
		return nil, ErrGameNotFound
	}
	for id, existing := range s.characters {
		if id != c.ExternalID && existing.JoinLink == c.JoinLink {
			return nil, fmt.Errorf("join link %q already taken", c.JoinLink)
		}
	}
	stored := cloneCharacter(c)
	if stored.Color == "" {
		stored.Color = game.DefaultColor
	}
	if existing, ok := s.characters[c.ExternalID]; ok {
		stored.ID = existing.ID
	} else {
		stored.ID = s.nextID()
	}
	s.characters[c.ExternalID] = stored
	return cloneCharacter(stored), nil
}

func (s *Store) findCharacter(match func(*game.Character) bool) (*game.Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.characters {
		if match(c) {
			return cloneCharacter(c), nil
		}
	}
	return nil, ErrCharacterNotFound
}

func (s *Store) CharacterByExternalID(_ context.Context, externalID string) (*game.Character, error) {
	return s.findCharacter(func(c *game.Character) bool { return c.ExternalID == externalID })
}

func (s *Store) CharacterByJoinLink(_ context.Context, link string) (*game.Character, error) {
	return s.findCharacter(func(c *game.Character) bool { return c.JoinLink == link })
}

func (s *Store) CharactersByGame(_ context.Context, gameID int64) ([]*game.Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*game.Character
	for _, c := range s.characters {
		if c.GameID == gameID {
			out = append(out, cloneCharacter(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SaveCharacterPosition(_ context.Context, c *game.Character) (*game.Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.characters[c.ExternalID]
	if !ok || existing.ID != c.ID {
		return nil, ErrCharacterNotFound
	}
	existing.X, existing.Y = c.X, c.Y
	return cloneCharacter(existing), nil
}

// UpsertItem stores i keyed by its external id.
func (s *Store) UpsertItem(_ context.Context, i *game.Item) (*game.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[i.GameID]; !ok {
		return nil, ErrGameNotFound
	}
	stored := clone(i)
	if existing, ok := s.items[i.ExternalID]; ok {
		stored.ID = existing.ID
	} else {
		stored.ID = s.nextID()
	}
	s.items[i.ExternalID] = stored
	return clone(stored), nil
}

func (s *Store) ItemByExternalID(_ context.Context, externalID string) (*game.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i, ok := s.items[externalID]; ok {
		return clone(i), nil
	}
	return nil, ErrItemNotFound
}

func (s *Store) ItemsByGame(_ context.Context, gameID int64) ([]*game.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*game.Item
	for _, i := range s.items {
		if i.GameID == gameID {
			out = append(out, clone(i))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (s *Store) SaveItemPosition(_ context.Context, i *game.Item) (*game.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.items[i.ExternalID]
	if !ok || existing.ID != i.ID {
		return nil, ErrItemNotFound
	}
	existing.X, existing.Y = i.X, i.Y
	return clone(existing), nil
}

func (s *Store) AddFogPoint(_ context.Context, p *game.FogPoint) (*game.FogPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for _, m := range s.maps {
		if m.ID == p.MapID {
			found = true
			break
		}
	}
	if !found {
		return nil, ErrMapNotFound
	}
	stored := clone(p)
	stored.ID = s.nextID()
	stored.CreatedAt = s.now()
	s.fog = append(s.fog, stored)
	return clone(stored), nil
}

func (s *Store) FogPointsByMap(_ context.Context, mapID int64) ([]*game.FogPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*game.FogPoint
	for _, p := range s.fog {
		if p.MapID == mapID {
			out = append(out, clone(p))
		}
	}
	return out, nil
}

// UpsertAsset stores a under its kind keyed by external id.
func (s *Store) UpsertAsset(_ context.Context, a *game.Asset) (*game.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.assets[a.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown asset kind %q", a.Kind)
	}
	if _, ok := s.games[a.GameID]; !ok {
		return nil, ErrGameNotFound
	}
	stored := clone(a)
	if existing, ok := byID[a.ExternalID]; ok {
		stored.ID = existing.ID
	} else {
		stored.ID = s.nextID()
	}
	byID[a.ExternalID] = stored
	return clone(stored), nil
}

func (s *Store) AssetByExternalID(_ context.Context, kind media.Kind, externalID string) (*game.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.assets[kind][externalID]; ok {
		return clone(a), nil
	}
	return nil, ErrAssetNotFound
}

func (s *Store) AssetsByGame(_ context.Context, kind media.Kind, gameID int64) ([]*game.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*game.Asset
	for _, a := range s.assets[kind] {
		if a.GameID == gameID {
			out = append(out, clone(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
