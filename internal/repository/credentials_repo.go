package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/akshaypn/healthup/internal/models"
)

type CredentialsRepo struct {
	pool *pgxpool.Pool
}

func NewCredentialsRepo(pool *pgxpool.Pool) *CredentialsRepo {
	return &CredentialsRepo{pool: pool}
}

const credentialColumns = `user_id, remote_user_id, app_token, email_enc, password_enc, last_sync_at, created_at, updated_at`

func scanCredentials(row pgx.Row) (*models.Credentials, error) {
	c := &models.Credentials{}
	err := row.Scan(
		&c.UserID, &c.RemoteUserID, &c.AppToken, &c.EmailEnc, &c.PasswordEnc,
		&c.LastSyncAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetCredentials returns nil, nil when the user never connected.
func (r *CredentialsRepo) GetCredentials(ctx context.Context, userID uuid.UUID) (*models.Credentials, error) {
	query := `SELECT ` + credentialColumns + ` FROM wearable_credentials WHERE user_id = $1`

	c, err := scanCredentials(r.pool.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// UpsertCredentials keeps the stored account secret when c carries none.
func (r *CredentialsRepo) UpsertCredentials(ctx context.Context, c *models.Credentials) error {
	query := `INSERT INTO wearable_credentials (user_id, remote_user_id, app_token, email_enc, password_enc)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			remote_user_id = EXCLUDED.remote_user_id,
			app_token = EXCLUDED.app_token,
			email_enc = COALESCE(EXCLUDED.email_enc, wearable_credentials.email_enc),
			password_enc = COALESCE(EXCLUDED.password_enc, wearable_credentials.password_enc),
			updated_at = NOW()
		RETURNING ` + credentialColumns

	saved, err := scanCredentials(r.pool.QueryRow(ctx, query,
		c.UserID, c.RemoteUserID, c.AppToken, c.EmailEnc, c.PasswordEnc,
	))
	if err != nil {
		return err
	}
	*c = *saved
	return nil
}

// SwapToken replaces the app token only if it still equals staleToken.
// It reports false when another writer already rotated it.
func (r *CredentialsRepo) SwapToken(ctx context.Context, userID uuid.UUID, staleToken, appToken, remoteUserID string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE wearable_credentials SET app_token = $1, remote_user_id = $2, updated_at = NOW()
		WHERE user_id = $3 AND app_token = $4`,
		appToken, remoteUserID, userID, staleToken,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *CredentialsRepo) DeleteCredentials(ctx context.Context, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, "DELETE FROM wearable_credentials WHERE user_id = $1", userID)
	return err
}

func (r *CredentialsRepo) TouchLastSync(ctx context.Context, userID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		"UPDATE wearable_credentials SET last_sync_at = $1, updated_at = NOW() WHERE user_id = $2",
		at, userID,
	)
	return err
}

// ListStale returns connected users whose last sync is older than before, or
// who never synced.
func (r *CredentialsRepo) ListStale(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM wearable_credentials
		WHERE last_sync_at IS NULL OR last_sync_at < $1
		ORDER BY last_sync_at ASC NULLS FIRST
		LIMIT $2`,
		before, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}
