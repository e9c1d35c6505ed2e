package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/FueledByOctane/fieldtalk/internal/models"
)

// Presence tracks who is currently subscribed to a room channel. The
// gateway updates it as sockets attach and detach; the snapshot feeds
// the subscription-succeeded event for new members.
type Presence interface {
	Add(ctx context.Context, code string, p models.Participant) error
	// Remove returns the removed participant so the gateway can build
	// the member-removed payload. Returns nil, nil if unknown.
	Remove(ctx context.Context, code string, participantID string) (*models.Participant, error)
	Members(ctx context.Context, code string) ([]models.Participant, error)
}

func presenceKey(code string) string {
	return "presence:field:" + code
}

// RedisPresence stores members in a hash keyed by participant id, so
// presence survives a single gateway instance restarting and is shared
// across instances.
type RedisPresence struct {
	rdb *redis.Client
}

func NewRedisPresence(rdb *redis.Client) *RedisPresence {
	return &RedisPresence{rdb: rdb}
}

func (s *RedisPresence) Add(ctx context.Context, code string, p models.Participant) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal participant: %w", err)
	}
	if err := s.rdb.HSet(ctx, presenceKey(code), p.ID.String(), raw).Err(); err != nil {
		return fmt.Errorf("presence add: %w", err)
	}
	return nil
}

func (s *RedisPresence) Remove(ctx context.Context, code string, participantID string) (*models.Participant, error) {
	key := presenceKey(code)
	raw, err := s.rdb.HGet(ctx, key, participantID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("presence get: %w", err)
	}
	if err := s.rdb.HDel(ctx, key, participantID).Err(); err != nil {
		return nil, fmt.Errorf("presence remove: %w", err)
	}
	var p models.Participant
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("unmarshal participant: %w", err)
	}
	return &p, nil
}

func (s *RedisPresence) Members(ctx context.Context, code string) ([]models.Participant, error) {
	entries, err := s.rdb.HGetAll(ctx, presenceKey(code)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence members: %w", err)
	}
	members := make([]models.Participant, 0, len(entries))
	for _, raw := range entries {
		var p models.Participant
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			continue
		}
		members = append(members, p)
	}
	return members, nil
}

// MemoryPresence backs tests and single-node runs.
type MemoryPresence struct {
	mu    sync.Mutex
	rooms map[string]map[string]models.Participant
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{rooms: make(map[string]map[string]models.Participant)}
}

func (s *MemoryPresence) Add(_ context.Context, code string, p models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rooms[code] == nil {
		s.rooms[code] = make(map[string]models.Participant)
	}
	s.rooms[code][p.ID.String()] = p
	return nil
}

func (s *MemoryPresence) Remove(_ context.Context, code string, participantID string) (*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.rooms[code][participantID]
	if !ok {
		return nil, nil
	}
	delete(s.rooms[code], participantID)
	return &p, nil
}

func (s *MemoryPresence) Members(_ context.Context, code string) ([]models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := make([]models.Participant, 0, len(s.rooms[code]))
	for _, p := range s.rooms[code] {
		members = append(members, p)
	}
	return members, nil
}
