package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/maintenance-supervisor/internal/core/domain"
)

type OutcomeRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewOutcomeRepository(db *sql.DB) *OutcomeRepository {
	return &OutcomeRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *OutcomeRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101701)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS processing_records (
	seq BIGSERIAL UNIQUE,
	email_id TEXT PRIMARY KEY,
	sender TEXT NOT NULL,
	subject TEXT NOT NULL,
	received_at TIMESTAMPTZ NOT NULL,
	classification JSONB,
	task_ref JSONB,
	notification_ref JSONB,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS stage_outcomes (
	id BIGSERIAL PRIMARY KEY,
	email_id TEXT NOT NULL REFERENCES processing_records(email_id) ON DELETE CASCADE,
	stage TEXT NOT NULL,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	occurred_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_stage_outcomes_email_id ON stage_outcomes(email_id, id);
CREATE INDEX IF NOT EXISTS idx_processing_records_status ON processing_records(status);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *OutcomeRepository) Exists(ctx context.Context, emailID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM processing_records WHERE email_id = $1)`, emailID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check record exists: %w", err)
	}
	return exists, nil
}

func (r *OutcomeRepository) Get(ctx context.Context, emailID string) (*domain.ProcessingRecord, error) {
	return r.load(ctx, r.db, emailID, false)
}

func (r *OutcomeRepository) Create(ctx context.Context, email domain.EmailRecord) (*domain.ProcessingRecord, error) {
	rec := domain.NewProcessingRecord(email, r.now())
	res, err := r.db.ExecContext(ctx, `
INSERT INTO processing_records (
	email_id, sender, subject, received_at, status, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (email_id) DO NOTHING
`,
		rec.EmailID, rec.Sender, rec.Subject, rec.ReceivedAt, string(rec.Status), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("insert record rows affected: %w", err)
	}
	if affected == 0 {
		return nil, domain.WrapError(domain.ErrDuplicateRecord, "create record", fmt.Errorf("email_id=%s", email.ID))
	}
	return &rec, nil
}

func (r *OutcomeRepository) SaveClassification(ctx context.Context, emailID string, cls domain.Classification) error {
	return r.updateJSONColumn(ctx, "save classification", "classification", emailID, cls)
}

func (r *OutcomeRepository) SaveTaskReference(ctx context.Context, emailID string, ref domain.Reference) error {
	return r.updateJSONColumn(ctx, "save task reference", "task_ref", emailID, ref)
}

func (r *OutcomeRepository) SaveNotificationReference(ctx context.Context, emailID string, ref domain.Reference) error {
	return r.updateJSONColumn(ctx, "save notification reference", "notification_ref", emailID, ref)
}

// AppendOutcome inserts the outcome and recomputes the record status inside
// one transaction holding the record row lock.
func (r *OutcomeRepository) AppendOutcome(ctx context.Context, emailID string, outcome domain.StageOutcome) (*domain.ProcessingRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rec, err := r.load(ctx, tx, emailID, true)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO stage_outcomes (email_id, stage, status, error_message, occurred_at)
VALUES ($1,$2,$3,$4,$5)
`, emailID, string(outcome.Stage), string(outcome.Status), outcome.Error, outcome.Timestamp); err != nil {
		return nil, fmt.Errorf("insert stage outcome: %w", err)
	}

	rec.Outcomes = append(rec.Outcomes, outcome)
	rec.Status = domain.DeriveStatus(rec.Outcomes)
	rec.UpdatedAt = r.now()

	if _, err := tx.ExecContext(ctx, `
UPDATE processing_records
SET status = $2, updated_at = $3
WHERE email_id = $1
`, emailID, string(rec.Status), rec.UpdatedAt); err != nil {
		return nil, fmt.Errorf("update record status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append tx: %w", err)
	}
	return rec, nil
}

// All streams records in insertion order with their outcomes joined in.
func (r *OutcomeRepository) All(ctx context.Context) iter.Seq2[domain.ProcessingRecord, error] {
	return func(yield func(domain.ProcessingRecord, error) bool) {
		rows, err := r.db.QueryContext(ctx, `
SELECT r.email_id, r.sender, r.subject, r.received_at, r.classification, r.task_ref, r.notification_ref,
	r.status, r.created_at, r.updated_at, o.stage, o.status, o.error_message, o.occurred_at
FROM processing_records r
LEFT JOIN stage_outcomes o ON o.email_id = r.email_id
ORDER BY r.seq, o.id
`)
		if err != nil {
			yield(domain.ProcessingRecord{}, fmt.Errorf("query records: %w", err))
			return
		}
		defer rows.Close()

		var current *domain.ProcessingRecord
		for rows.Next() {
			rec, outcome, err := scanJoinedRow(rows)
			if err != nil {
				yield(domain.ProcessingRecord{}, err)
				return
			}
			if current != nil && current.EmailID != rec.EmailID {
				if !yield(*current, nil) {
					return
				}
				current = nil
			}
			if current == nil {
				current = rec
			}
			if outcome != nil {
				current.Outcomes = append(current.Outcomes, *outcome)
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.ProcessingRecord{}, fmt.Errorf("iterate records: %w", err))
			return
		}
		if current != nil {
			yield(*current, nil)
		}
	}
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r *OutcomeRepository) load(ctx context.Context, q queryer, emailID string, forUpdate bool) (*domain.ProcessingRecord, error) {
	query := `
SELECT email_id, sender, subject, received_at, classification, task_ref, notification_ref, status, created_at, updated_at
FROM processing_records
WHERE email_id = $1
`
	if forUpdate {
		query += "FOR UPDATE\n"
	}

	rec, err := scanRecord(q.QueryRowContext(ctx, query, emailID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrRecordNotFound, "get record", fmt.Errorf("email_id=%s", emailID))
		}
		return nil, fmt.Errorf("scan record: %w", err)
	}

	rows, err := q.QueryContext(ctx, `
SELECT stage, status, error_message, occurred_at
FROM stage_outcomes
WHERE email_id = $1
ORDER BY id
`, emailID)
	if err != nil {
		return nil, fmt.Errorf("query stage outcomes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var stage, status string
		var outcome domain.StageOutcome
		if err := rows.Scan(&stage, &status, &outcome.Error, &outcome.Timestamp); err != nil {
			return nil, fmt.Errorf("scan stage outcome: %w", err)
		}
		outcome.Stage = domain.Stage(stage)
		outcome.Status = domain.OutcomeStatus(status)
		rec.Outcomes = append(rec.Outcomes, outcome)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stage outcomes: %w", err)
	}
	return rec, nil
}

func (r *OutcomeRepository) updateJSONColumn(ctx context.Context, operation, column, emailID string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", column, err)
	}
	// column is one of a fixed set chosen by the callers above.
	res, err := r.db.ExecContext(ctx, `
UPDATE processing_records
SET `+column+` = $2, updated_at = $3
WHERE email_id = $1
`, emailID, payload, r.now())
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", operation, err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrRecordNotFound, operation, fmt.Errorf("email_id=%s", emailID))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.ProcessingRecord, error) {
	var rec domain.ProcessingRecord
	var clsRaw, taskRaw, notifyRaw []byte
	var status string
	if err := row.Scan(
		&rec.EmailID, &rec.Sender, &rec.Subject, &rec.ReceivedAt, &clsRaw, &taskRaw, &notifyRaw,
		&status, &rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := decodeRecordJSON(&rec, clsRaw, taskRaw, notifyRaw); err != nil {
		return nil, err
	}
	rec.Status = domain.RecordStatus(status)
	rec.Outcomes = []domain.StageOutcome{}
	return &rec, nil
}

func scanJoinedRow(rows *sql.Rows) (*domain.ProcessingRecord, *domain.StageOutcome, error) {
	var rec domain.ProcessingRecord
	var clsRaw, taskRaw, notifyRaw []byte
	var status string
	var stage, outcomeStatus, outcomeErr sql.NullString
	var occurredAt sql.NullTime
	if err := rows.Scan(
		&rec.EmailID, &rec.Sender, &rec.Subject, &rec.ReceivedAt, &clsRaw, &taskRaw, &notifyRaw,
		&status, &rec.CreatedAt, &rec.UpdatedAt, &stage, &outcomeStatus, &outcomeErr, &occurredAt,
	); err != nil {
		return nil, nil, fmt.Errorf("scan record row: %w", err)
	}
	if err := decodeRecordJSON(&rec, clsRaw, taskRaw, notifyRaw); err != nil {
		return nil, nil, err
	}
	rec.Status = domain.RecordStatus(status)
	rec.Outcomes = []domain.StageOutcome{}

	if !stage.Valid {
		return &rec, nil, nil
	}
	return &rec, &domain.StageOutcome{
		Stage:     domain.Stage(stage.String),
		Status:    domain.OutcomeStatus(outcomeStatus.String),
		Error:     outcomeErr.String,
		Timestamp: occurredAt.Time,
	}, nil
}

func decodeRecordJSON(rec *domain.ProcessingRecord, clsRaw, taskRaw, notifyRaw []byte) error {
	if len(clsRaw) > 0 {
		var cls domain.Classification
		if err := json.Unmarshal(clsRaw, &cls); err != nil {
			return fmt.Errorf("unmarshal classification: %w", err)
		}
		rec.Classification = &cls
	}
	if len(taskRaw) > 0 {
		var ref domain.Reference
		if err := json.Unmarshal(taskRaw, &ref); err != nil {
			return fmt.Errorf("unmarshal task ref: %w", err)
		}
		rec.TaskRef = &ref
	}
	if len(notifyRaw) > 0 {
		var ref domain.Reference
		if err := json.Unmarshal(notifyRaw, &ref); err != nil {
			return fmt.Errorf("unmarshal notification ref: %w", err)
		}
		rec.NotificationRef = &ref
	}
	return nil
}
