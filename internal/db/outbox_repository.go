package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/models"
)

const publicationColumns = `id, event_id, event_type, listener_id, serialized_event, publication_date,
	completion_date, attempts, last_error, next_attempt_at, failed_date`

// OutboxRepository stores EventPublication rows. A row is pending while both
// completion_date and failed_date are NULL.
type OutboxRepository struct {
	db *sql.DB
}

func NewOutboxRepository(database *PostgresDB) *OutboxRepository {
	return &OutboxRepository{db: database.Conn}
}

func scanPublication(row interface{ Scan(...any) error }) (models.EventPublication, error) {
	var (
		p                                 models.EventPublication
		completion, nextAttempt, failedAt sql.NullTime
	)
	err := row.Scan(&p.ID, &p.EventID, &p.EventType, &p.ListenerID, &p.SerializedEvent, &p.PublicationDate,
		&completion, &p.Attempts, &p.LastError, &nextAttempt, &failedAt)
	if err != nil {
		return p, err
	}
	if completion.Valid {
		p.CompletionDate = &completion.Time
	}
	if nextAttempt.Valid {
		p.NextAttemptAt = &nextAttempt.Time
	}
	if failedAt.Valid {
		p.FailedDate = &failedAt.Time
	}
	return p, nil
}

// Append inserts publications inside the caller's transaction. Any failure
// must abort that transaction.
func (r *OutboxRepository) Append(ctx context.Context, tx *sql.Tx, publications ...models.EventPublication) error {
	query := `
		INSERT INTO event_publication (id, event_id, event_type, listener_id, serialized_event, publication_date)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for _, p := range publications {
		_, err := tx.ExecContext(ctx, query, p.ID, p.EventID, p.EventType, p.ListenerID, p.SerializedEvent, p.PublicationDate)
		if err != nil {
			return fmt.Errorf("failed to append publication %s/%s: %w", p.EventType, p.ListenerID, err)
		}
	}
	return nil
}

// MarkComplete is idempotent: completing an already complete row is a no-op.
func (r *OutboxRepository) MarkComplete(ctx context.Context, q DBTX, eventID uuid.UUID, listenerID string) error {
	query := `
		UPDATE event_publication SET completion_date = now()
		WHERE event_id = $1 AND listener_id = $2 AND completion_date IS NULL
	`
	if _, err := q.ExecContext(ctx, query, eventID, listenerID); err != nil {
		return fmt.Errorf("failed to complete publication: %w", err)
	}
	return nil
}

func (r *OutboxRepository) IsComplete(ctx context.Context, q DBTX, eventID uuid.UUID, listenerID string) (bool, error) {
	status, err := r.Status(ctx, q, eventID, listenerID)
	if err != nil {
		return false, err
	}
	return status == models.PublicationCompleted, nil
}

// Status reports where the (event, listener) delivery stands.
func (r *OutboxRepository) Status(ctx context.Context, q DBTX, eventID uuid.UUID, listenerID string) (models.PublicationStatus, error) {
	if q == nil {
		q = r.db
	}
	query := `
		SELECT completion_date IS NOT NULL, failed_date IS NOT NULL
		FROM event_publication WHERE event_id = $1 AND listener_id = $2
	`
	var completed, failed bool
	err := q.QueryRowContext(ctx, query, eventID, listenerID).Scan(&completed, &failed)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return models.PublicationMissing, nil
	case err != nil:
		return "", fmt.Errorf("failed to read publication status: %w", err)
	case completed:
		return models.PublicationCompleted, nil
	case failed:
		return models.PublicationFailed, nil
	default:
		return models.PublicationPending, nil
	}
}

// FindPending returns pending rows of the given listeners published at least
// olderThan ago, oldest first. Rows that are backing off are included so
// callers can keep publication order.
func (r *OutboxRepository) FindPending(ctx context.Context, olderThan time.Duration, listenerIDs []string, limit int) ([]models.EventPublication, error) {
	query := `
		SELECT ` + publicationColumns + `
		FROM event_publication
		WHERE completion_date IS NULL AND failed_date IS NULL AND publication_date <= $1
		AND listener_id = ANY($2)
		ORDER BY publication_date, id
		LIMIT $3
	`
	return r.list(ctx, query, time.Now().Add(-olderThan), pq.Array(listenerIDs), limit)
}

// FindUnrouted returns pending rows whose listener is not in known.
func (r *OutboxRepository) FindUnrouted(ctx context.Context, olderThan time.Duration, known []string, limit int) ([]models.EventPublication, error) {
	query := `
		SELECT ` + publicationColumns + `
		FROM event_publication
		WHERE completion_date IS NULL AND failed_date IS NULL AND publication_date <= $1
		AND listener_id <> ALL($2)
		ORDER BY publication_date, id
		LIMIT $3
	`
	return r.list(ctx, query, time.Now().Add(-olderThan), pq.Array(known), limit)
}

// GetByID returns one publication, or nil when it does not exist.
func (r *OutboxRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.EventPublication, error) {
	query := `SELECT ` + publicationColumns + ` FROM event_publication WHERE id = $1`
	p, err := scanPublication(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get publication: %w", err)
	}
	return &p, nil
}

// FindFailed returns dead-lettered rows, most recent failure first.
func (r *OutboxRepository) FindFailed(ctx context.Context, limit int) ([]models.EventPublication, error) {
	query := `
		SELECT ` + publicationColumns + `
		FROM event_publication
		WHERE completion_date IS NULL AND failed_date IS NOT NULL
		ORDER BY failed_date DESC
		LIMIT $1
	`
	return r.list(ctx, query, limit)
}

func (r *OutboxRepository) list(ctx context.Context, query string, args ...any) ([]models.EventPublication, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query publications: %w", err)
	}
	defer rows.Close()

	var pubs []models.EventPublication
	for rows.Next() {
		p, err := scanPublication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan publication: %w", err)
		}
		pubs = append(pubs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate publications: %w", err)
	}
	return pubs, nil
}

// ClaimForUpdate locks a pending row for the rest of tx. It reports false
// when the row is no longer pending or another worker holds it.
func (r *OutboxRepository) ClaimForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (bool, error) {
	query := `
		SELECT id FROM event_publication
		WHERE id = $1 AND completion_date IS NULL AND failed_date IS NULL
		FOR UPDATE SKIP LOCKED
	`
	var claimed uuid.UUID
	err := tx.QueryRowContext(ctx, query, id).Scan(&claimed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to claim publication: %w", err)
	}
	return true, nil
}

// RecordFailure keeps the row pending and schedules the next attempt.
func (r *OutboxRepository) RecordFailure(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time, lastErr string) error {
	query := `
		UPDATE event_publication SET attempts = $1, next_attempt_at = $2, last_error = $3
		WHERE id = $4 AND completion_date IS NULL
	`
	if _, err := r.db.ExecContext(ctx, query, attempts, nextAttemptAt, lastErr, id); err != nil {
		return fmt.Errorf("failed to record publication failure: %w", err)
	}
	return nil
}

// MarkFailed dead-letters the row. It stays out of FindPending until requeued.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error {
	query := `
		UPDATE event_publication SET attempts = $1, last_error = $2, failed_date = now()
		WHERE id = $3 AND completion_date IS NULL
	`
	if _, err := r.db.ExecContext(ctx, query, attempts, lastErr, id); err != nil {
		return fmt.Errorf("failed to dead-letter publication: %w", err)
	}
	return nil
}

// Requeue returns a dead-lettered row to pending with a fresh attempt budget.
// It reports false when no failed row has that id.
func (r *OutboxRepository) Requeue(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE event_publication SET failed_date = NULL, attempts = 0, next_attempt_at = NULL
		WHERE id = $1 AND failed_date IS NOT NULL AND completion_date IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to requeue publication: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected == 1, nil
}

func (r *OutboxRepository) CountPending(ctx context.Context) (int, error) {
	var n int
	query := `SELECT count(*) FROM event_publication WHERE completion_date IS NULL AND failed_date IS NULL`
	if err := r.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending publications: %w", err)
	}
	return n, nil
}
