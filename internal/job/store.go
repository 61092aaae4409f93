package job

import (
	"fmt"
	"time"

	"grabbit/internal/database"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

type (
	// Record is the persisted form of a finished job; one row per job, with
	// the first delivery's details denormalised in. The history table is an
	// operator convenience, not a recovery mechanism - queued jobs do not
	// survive a restart.
	Record struct {
		ID          uuid.UUID  `db:"id"`
		Kind        string     `db:"kind"`
		Source      string     `db:"source"`
		ChatID      int64      `db:"chat_id"`
		Status      string     `db:"status"`
		OutputPath  *string    `db:"output_path"`
		OutputSize  *int64     `db:"output_size_bytes"`
		SharedURL   *string    `db:"shared_url"`
		Failure     *string    `db:"failure"`
		CreatedAt   time.Time  `db:"created_at"`
		CompletedAt *time.Time `db:"completed_at"`
	}

	Store struct{}
)

func NewStore() *Store {
	return &Store{}
}

// Save persists a finished (complete or failed) job to the history table.
func (store *Store) Save(db database.Queryable, job *Job) error {
	record := recordFromJob(job)

	_, err := db.Exec(db.Rebind(`
		INSERT INTO jobs(id, kind, source, chat_id, status, output_path, output_size_bytes, shared_url, failure, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		record.ID, record.Kind, record.Source, record.ChatID, record.Status,
		record.OutputPath, record.OutputSize, record.SharedURL, record.Failure,
		record.CreatedAt, record.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job record: %w", err)
	}

	return nil
}

// Latest returns up to limit of the most recently created job records.
func (store *Store) Latest(db database.Queryable, limit uint64) ([]*Record, error) {
	query, args, err := squirrel.
		Select("id", "kind", "source", "chat_id", "status", "output_path", "output_size_bytes", "shared_url", "failure", "created_at", "completed_at").
		From("jobs").
		OrderBy("created_at DESC").
		Limit(limit).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct job history query: %w", err)
	}

	var results []*Record
	if err := db.Select(&results, db.Rebind(query), args...); err != nil {
		return nil, err
	}

	return results, nil
}

func recordFromJob(job *Job) *Record {
	record := &Record{
		ID:          job.ID(),
		Kind:        string(job.Kind()),
		Source:      job.Source(),
		ChatID:      job.ChatID(),
		Status:      job.Status().String(),
		CreatedAt:   job.CreatedAt(),
		CompletedAt: job.CompletedAt(),
	}

	if failure := job.Failure(); failure != nil {
		message := failure.Error()
		record.Failure = &message
	}

	if deliveries := job.Deliveries(); len(deliveries) > 0 {
		record.OutputPath = &deliveries[0].Path
		record.OutputSize = &deliveries[0].SizeBytes
		if deliveries[0].SharedURL != "" {
			record.SharedURL = &deliveries[0].SharedURL
		}
	}

	return record
}
