package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FueledByOctane/fieldtalk/internal/models"
)

type TranscriptStore struct {
	pool *pgxpool.Pool
}

func NewTranscriptStore(pool *pgxpool.Pool) *TranscriptStore {
	return &TranscriptStore{pool: pool}
}

func (s *TranscriptStore) Append(ctx context.Context, msg *models.Message) error {
	// seq is a bigserial: arrival order at the store, independent of the
	// client-supplied sent_at timestamp.
	query := `
		INSERT INTO messages (id, field_code, sender_id, sender_name,
			sender_role, content, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		msg.ID,
		msg.FieldCode,
		msg.SenderID,
		msg.SenderName,
		msg.SenderRole,
		msg.Content,
		msg.SentAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListRecent returns the newest `limit` messages in ascending order,
// the shape both the model context window and a late joiner want. The
// inner query takes the tail by seq DESC, the outer one flips it back.
func (s *TranscriptStore) ListRecent(ctx context.Context, code string, limit int) ([]models.Message, error) {
	query := `
		SELECT id, field_code, sender_id, sender_name, sender_role, content, sent_at
		FROM (
			SELECT seq, id, field_code, sender_id, sender_name, sender_role, content, sent_at
			FROM messages
			WHERE field_code = $1
			ORDER BY seq DESC
			LIMIT $2
		) tail
		ORDER BY seq ASC`

	rows, err := s.pool.Query(ctx, query, code, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.FieldCode,
			&msg.SenderID,
			&msg.SenderName,
			&msg.SenderRole,
			&msg.Content,
			&msg.SentAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}
