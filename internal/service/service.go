// Package service implements rooms, votes, rankings and photo imports on top
// of the stores, the payload bucket and the read caches.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/vbonduro/vowselect/internal/cache"
	"github.com/vbonduro/vowselect/internal/domain"
)

// publisher broadcasts room events to live subscribers. live.Hub satisfies it.
type publisher interface {
	Publish(roomID int64, eventType string, data any)
}

type nopPublisher struct{}

func (nopPublisher) Publish(int64, string, any) {}

func orNop(p publisher) publisher {
	if p == nil {
		return nopPublisher{}
	}
	return p
}

// roomGetter is the subset of store.RoomStore used to check that a room exists.
type roomGetter interface {
	GetByID(ctx context.Context, id int64) (*domain.Room, error)
}

func requireRoom(ctx context.Context, rooms roomGetter, roomID int64) (*domain.Room, error) {
	room, err := rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	if room == nil {
		return nil, fmt.Errorf("room %d: %w", roomID, domain.ErrNotFound)
	}
	return room, nil
}

// PhotoPage is one cached page of a room's ready photos.
type PhotoPage struct {
	Photos []*domain.Photo `json:"photos"`
	Total  int             `json:"total"`
	Skip   int             `json:"skip"`
	Limit  int             `json:"limit"`
}

// Caches holds the two read caches shared by the services.
type Caches struct {
	Rankings *cache.Cache[[]*domain.PhotoRanking]
	Photos   *cache.Cache[*PhotoPage]
}

func NewCaches(rankingTTL, photoTTL time.Duration) *Caches {
	return &Caches{
		Rankings: cache.New[[]*domain.PhotoRanking](rankingTTL),
		Photos:   cache.New[*PhotoPage](photoTTL),
	}
}

func rankingKey(roomID int64) string {
	return fmt.Sprintf("rankings:%d", roomID)
}

func photoPageKey(roomID int64, skip, limit int) string {
	return fmt.Sprintf("photos:%d:%d:%d", roomID, skip, limit)
}

// photoPrefix ends with a separator so room 1 never matches room 12.
func photoPrefix(roomID int64) string {
	return fmt.Sprintf("photos:%d:", roomID)
}

// InvalidateRoom drops the room's ranking and every cached photo page, and
// returns how many entries were removed.
func (c *Caches) InvalidateRoom(roomID int64) int {
	n := 0
	if _, ok := c.Rankings.Get(rankingKey(roomID)); ok {
		n++
	}
	c.Rankings.Invalidate(rankingKey(roomID))
	return n + c.Photos.InvalidatePrefix(photoPrefix(roomID))
}
