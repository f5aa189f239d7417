package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Outcome of a single login attempt, as stored in the audit trail.
// Never store the submitted credentials, only how the attempt ended.
const (
	OutcomeGranted       = "granted"
	OutcomeDenied        = "denied"
	OutcomeMisconfigured = "misconfigured"
	OutcomeRateLimited   = "rate-limited"
)

type LoginAttempt struct {
	Id         int       `json:"id"`
	ClientAddr string    `json:"clientAddr"`
	Outcome    string    `json:"outcome"`
	CreatedAt  time.Time `json:"createdAt"`
}

// AuditRecorder persists login attempt outcomes. Recording is best effort,
// a failed write never blocks the login flow.
type AuditRecorder interface {
	Record(ctx context.Context, attempt LoginAttempt) error
}

type AuditRepo struct {
	db *pgxpool.Pool
}

func NewAuditRepo(db *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{
		db: db,
	}
}

func (r *AuditRepo) Record(ctx context.Context, attempt LoginAttempt) error {
	if attempt.ClientAddr == "" || attempt.Outcome == "" {
		return errors.New("attempt client addr or outcome empty")
	}

	_, err := r.db.Exec(
		ctx,
		`INSERT INTO login_attempt (client_addr, outcome, created_at) VALUES ($1, $2, $3);`,
		attempt.ClientAddr, attempt.Outcome, attempt.CreatedAt,
	)
	return err
}

func (r *AuditRepo) List(ctx context.Context, since time.Time) ([]LoginAttempt, error) {
	rows, err := r.db.Query(
		ctx,
		`
			SELECT
				id, client_addr, outcome, created_at
			FROM login_attempt
			WHERE created_at >= $1
			ORDER BY created_at DESC;`,
		since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	var attempts []LoginAttempt
	for rows.Next() {
		var a LoginAttempt
		if err := rows.Scan(&a.Id, &a.ClientAddr, &a.Outcome, &a.CreatedAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}

	return attempts, nil
}
