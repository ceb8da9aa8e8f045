// Package player keeps the presence records the dispatcher consults before
// seating players in a room. Records are Redis hashes written by the
// gateway and updated here when a match is bound.
package player

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Prefix is the Redis key prefix for player hashes.
	Prefix = "player:"

	// TTL is refreshed on every write; a player silent for longer is gone.
	TTL = time.Hour
)

// Status is a player's presence state.
type Status string

const (
	StatusOnline  Status = "ONLINE"
	StatusInQueue Status = "IN_QUEUE"
	StatusInGame  Status = "IN_GAME"
	StatusOffline Status = "OFFLINE"
)

// Player is the presence record of one player.
type Player struct {
	ID            string `redis:"id"`
	Name          string `redis:"name"`
	Status        Status `redis:"status"`
	CurrentRoomID string `redis:"room_id"`
	Level         int    `redis:"level"`
	Platform      string `redis:"platform"`
	Region        string `redis:"region"`
	LastActive    int64  `redis:"last_active"`
}

// Online reports whether the player can be seated.
func (p *Player) Online() bool {
	return p != nil && p.Status != StatusOffline && p.Status != ""
}

// Directory reads and writes player records in Redis.
type Directory struct {
	client *redis.Client
}

// NewDirectory creates a directory on client.
func NewDirectory(client *redis.Client) *Directory {
	return &Directory{client: client}
}

// Register stores p with a fresh TTL.
func (d *Directory) Register(ctx context.Context, p *Player) error {
	if p.ID == "" {
		return fmt.Errorf("player: empty id")
	}
	if p.Status == "" {
		p.Status = StatusOnline
	}
	p.LastActive = time.Now().Unix()

	key := Prefix + p.ID
	pipe := d.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"id":          p.ID,
		"name":        p.Name,
		"status":      string(p.Status),
		"room_id":     p.CurrentRoomID,
		"level":       p.Level,
		"platform":    p.Platform,
		"region":      p.Region,
		"last_active": p.LastActive,
	})
	pipe.Expire(ctx, key, TTL)
	_, err := pipe.Exec(ctx)
	return err
}

// GetPlayer returns the record for id, or nil if there is none.
func (d *Directory) GetPlayer(ctx context.Context, id string) (*Player, error) {
	var p Player
	if err := d.client.HGetAll(ctx, Prefix+id).Scan(&p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, nil
	}
	return &p, nil
}

// IsOnline reports whether id has a live, non-offline record.
func (d *Directory) IsOnline(ctx context.Context, id string) (bool, error) {
	p, err := d.GetPlayer(ctx, id)
	if err != nil {
		return false, err
	}
	return p.Online(), nil
}

// UpdateStatus sets the status and refreshes the TTL.
func (d *Directory) UpdateStatus(ctx context.Context, id string, status Status) error {
	key := Prefix + id
	pipe := d.client.Pipeline()
	pipe.HSet(ctx, key, "status", string(status), "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, TTL)
	_, err := pipe.Exec(ctx)
	return err
}

// BindToRoom records the room the player was seated in.
func (d *Directory) BindToRoom(ctx context.Context, id, roomID string, status Status) error {
	key := Prefix + id
	pipe := d.client.Pipeline()
	pipe.HSet(ctx, key, "room_id", roomID, "status", string(status), "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, TTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Remove deletes the record.
func (d *Directory) Remove(ctx context.Context, id string) error {
	return d.client.Del(ctx, Prefix+id).Err()
}
