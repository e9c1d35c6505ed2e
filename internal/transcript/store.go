package transcript

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/FueledByOctane/fieldtalk/internal/models"
	"github.com/FueledByOctane/fieldtalk/internal/repository"
)

// cachedFields bounds how many fields keep a warm transcript window in
// memory at once.
const cachedFields = 512

// Store is the durable transcript with a read-through LRU of each
// field's recent window. The server-side transcript is the source of
// truth for model context and late-joiner sync; client copies are
// caches of it, not the other way around.
type Store struct {
	repo  repository.TranscriptRepository
	cache *lru.Cache[string, []models.Message]
	// window is the number of messages kept per cached field.
	window int
}

func NewStore(repo repository.TranscriptRepository, window int) (*Store, error) {
	if window <= 0 {
		return nil, fmt.Errorf("transcript: window must be positive, got %d", window)
	}
	cache, err := lru.New[string, []models.Message](cachedFields)
	if err != nil {
		return nil, fmt.Errorf("transcript cache: %w", err)
	}
	return &Store{repo: repo, cache: cache, window: window}, nil
}

// Append persists one message and folds it into the cached window.
// Messages are append-only; there is no update or delete path.
func (s *Store) Append(ctx context.Context, msg *models.Message) error {
	if err := s.repo.Append(ctx, msg); err != nil {
		return err
	}

	if cached, ok := s.cache.Get(msg.FieldCode); ok {
		next := append(append([]models.Message(nil), cached...), *msg)
		if len(next) > s.window {
			next = next[len(next)-s.window:]
		}
		s.cache.Add(msg.FieldCode, next)
	}
	return nil
}

// Window returns up to limit of the newest messages in arrival order,
// serving from cache when the window is warm.
func (s *Store) Window(ctx context.Context, code string, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > s.window {
		limit = s.window
	}

	if cached, ok := s.cache.Get(code); ok {
		if len(cached) > limit {
			cached = cached[len(cached)-limit:]
		}
		return append([]models.Message(nil), cached...), nil
	}

	messages, err := s.repo.ListRecent(ctx, code, s.window)
	if err != nil {
		return nil, err
	}
	s.cache.Add(code, messages)

	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return append([]models.Message(nil), messages...), nil
}

// Forget drops a field's cached window (used on deactivation).
func (s *Store) Forget(code string) {
	s.cache.Remove(code)
}
