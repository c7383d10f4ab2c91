package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"school-session-agent/internal/domain"
)

// BackendStore persists attempts and attendance batches for the reference backend.
type BackendStore struct {
	pool *pgxpool.Pool
}

func NewBackendStore(pool *pgxpool.Pool) *BackendStore {
	return &BackendStore{pool: pool}
}

func (s *BackendStore) SaveAttempt(ctx context.Context, a domain.Attempt) error {
	var selections []byte
	if a.Selections != nil {
		raw, err := json.Marshal(a.Selections)
		if err != nil {
			return errors.Wrap(err, "marshal selections")
		}
		selections = raw
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO attempts (id, activity_id, student_id, selections, text_answer, file_name, file_data, score, max_score, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.ActivityID, a.StudentID, selections, a.Text, a.FileName, a.File, a.Score, a.MaxScore, a.SubmittedAt)
	return errors.Wrap(err, "save attempt")
}

// SaveBatch stores a batch and its records in one transaction. It reports false, and stores nothing,
// when the batch id was already delivered.
func (s *BackendStore) SaveBatch(ctx context.Context, sessionID string, batch domain.AttendanceBatch) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, errors.Wrap(err, "begin batch")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`INSERT INTO attendance_batches (id, session_id) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		batch.ID, sessionID)
	if err != nil {
		return false, errors.Wrap(err, "insert batch")
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	rows := make([][]interface{}, 0, len(batch.Records))
	for _, r := range batch.Records {
		rows = append(rows, []interface{}{
			batch.ID, sessionID, r.StudentID, r.Name, r.Grade, r.Center, string(r.Method), r.HomeworkDone, r.CapturedAt,
		})
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"attendance_records"},
		[]string{"batch_id", "session_id", "student_id", "name", "grade", "center", "method", "homework_done", "captured_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return false, errors.Wrap(err, "copy attendance records")
	}
	if err := tx.Commit(ctx); err != nil {
		return false, errors.Wrap(err, "commit batch")
	}
	return true, nil
}

func (s *BackendStore) SessionRecords(ctx context.Context, sessionID string) ([]domain.AttendanceRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT student_id, name, COALESCE(grade, ''), COALESCE(center, ''), method, homework_done, captured_at
		FROM attendance_records WHERE session_id=$1 ORDER BY id`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "query attendance records")
	}
	defer rows.Close()

	var out []domain.AttendanceRecord
	for rows.Next() {
		var (
			r      domain.AttendanceRecord
			method string
		)
		if err := rows.Scan(&r.StudentID, &r.Name, &r.Grade, &r.Center, &method, &r.HomeworkDone, &r.CapturedAt); err != nil {
			return nil, errors.Wrap(err, "scan attendance record")
		}
		r.Method = domain.CaptureMethod(method)
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "iterate attendance records")
}
