package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"coresuite/backend/internal/db"
	"coresuite/backend/internal/mfa/domain"
)

const deviceColumns = `id, device_uuid, user_id, label, status, provisioning_token_hash, provisioning_expires_at, pin_hash, failed_pin_attempts, pin_locked_until, last_used_at, activated_at, revoked_at, created_at, updated_at`

const challengeColumns = `id, token_hash, user_id, status, device_id, ip, user_agent, expires_at, approved_at, denied_at, created_at, updated_at`

// PostgresRepository implements Repository with handwritten SQL over database/sql (pgx stdlib driver).
type PostgresRepository struct {
	conn *sql.DB
}

// NewPostgresRepository returns an MFA repository that uses the given db.
func NewPostgresRepository(conn *sql.DB) *PostgresRepository {
	return &PostgresRepository{conn: conn}
}

var _ Repository = (*PostgresRepository)(nil)

func (r *PostgresRepository) CreateDeviceWithinLimit(ctx context.Context, d *domain.Device, limit int) (bool, error) {
	created := false
	err := db.WithTx(ctx, r.conn, func(tx *sql.Tx) error {
		// Row lock on the owner serializes concurrent enrollments for the same user.
		var owner string
		err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, d.UserID).Scan(&owner)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrUnknownUser
			}
			return err
		}
		n, err := countDevices(ctx, tx, `SELECT COUNT(*) FROM mfa_devices WHERE user_id = $1 AND status IN ('pending', 'active')`, d.UserID)
		if err != nil {
			return err
		}
		if n >= limit {
			return nil
		}
		err = tx.QueryRowContext(ctx,
			`INSERT INTO mfa_devices (device_uuid, user_id, label, status, provisioning_token_hash, provisioning_expires_at, pin_hash, failed_pin_attempts, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $8)
			RETURNING id`,
			d.UUID, d.UserID, d.Label, string(d.Status), nullString(d.ProvisioningTokenHash),
			nullTime(d.ProvisioningExpiresAt), d.PinHash, d.CreatedAt,
		).Scan(&d.ID)
		if err != nil {
			return fmt.Errorf("insert device: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// GetDeviceByID returns the device for id, or nil if not found.
func (r *PostgresRepository) GetDeviceByID(ctx context.Context, id int64) (*domain.Device, error) {
	return scanDevice(r.conn.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM mfa_devices WHERE id = $1`, id))
}

// GetDeviceByUUID returns the device for uuid, or nil if not found.
func (r *PostgresRepository) GetDeviceByUUID(ctx context.Context, uuid string) (*domain.Device, error) {
	return scanDevice(r.conn.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM mfa_devices WHERE device_uuid = $1`, uuid))
}

func (r *PostgresRepository) GetPendingDeviceByTokenHash(ctx context.Context, tokenHash string, now time.Time) (*domain.Device, error) {
	return scanDevice(r.conn.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM mfa_devices WHERE provisioning_token_hash = $1 AND status = 'pending'
		AND (provisioning_expires_at IS NULL OR provisioning_expires_at > $2)`,
		tokenHash, now))
}

func (r *PostgresRepository) ActivateDevice(ctx context.Context, id int64, now time.Time) (bool, error) {
	return affected(r.conn.ExecContext(ctx,
		`UPDATE mfa_devices SET status = 'active', provisioning_token_hash = NULL, provisioning_expires_at = NULL, activated_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'pending' AND (provisioning_expires_at IS NULL OR provisioning_expires_at > $2)`,
		id, now))
}

func (r *PostgresRepository) RevokeDevice(ctx context.Context, userID, uuid string, now time.Time) (bool, error) {
	return affected(r.conn.ExecContext(ctx,
		`UPDATE mfa_devices SET status = 'revoked', provisioning_token_hash = NULL, provisioning_expires_at = NULL, revoked_at = $3, updated_at = $3
		WHERE user_id = $1 AND device_uuid = $2 AND status <> 'revoked'`,
		userID, uuid, now))
}

func (r *PostgresRepository) RevokeExpiredPendingDevices(ctx context.Context, userID string, now time.Time) (int64, error) {
	return rowCount(r.conn.ExecContext(ctx,
		`UPDATE mfa_devices SET status = 'revoked', provisioning_token_hash = NULL, provisioning_expires_at = NULL, revoked_at = $2, updated_at = $2
		WHERE status = 'pending' AND provisioning_expires_at IS NOT NULL AND provisioning_expires_at <= $2
		AND ($1 = '' OR user_id = $1)`,
		userID, now))
}

// ListDevicesByUser returns the user's devices, newest first.
func (r *PostgresRepository) ListDevicesByUser(ctx context.Context, userID string) ([]*domain.Device, error) {
	rows, err := r.conn.QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM mfa_devices WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CountNonRevokedDevices(ctx context.Context, userID string) (int, error) {
	return countDevices(ctx, r.conn, `SELECT COUNT(*) FROM mfa_devices WHERE user_id = $1 AND status IN ('pending', 'active')`, userID)
}

func (r *PostgresRepository) CountActiveDevices(ctx context.Context, userID string) (int, error) {
	return countDevices(ctx, r.conn, `SELECT COUNT(*) FROM mfa_devices WHERE user_id = $1 AND status = 'active'`, userID)
}

// IncrementFailedPinAttempts runs as one statement; SET expressions all read the pre-update row.
func (r *PostgresRepository) IncrementFailedPinAttempts(ctx context.Context, id int64, now time.Time, limit int, lockUntil time.Time) (*domain.Device, error) {
	return scanDevice(r.conn.QueryRowContext(ctx,
		`UPDATE mfa_devices SET
			failed_pin_attempts = CASE WHEN pin_locked_until IS NOT NULL AND pin_locked_until <= $2 THEN 1 ELSE failed_pin_attempts + 1 END,
			pin_locked_until = CASE
				WHEN pin_locked_until IS NOT NULL AND pin_locked_until > $2 THEN pin_locked_until
				WHEN (CASE WHEN pin_locked_until IS NOT NULL AND pin_locked_until <= $2 THEN 1 ELSE failed_pin_attempts + 1 END) >= $3 THEN $4
				ELSE NULL
			END,
			updated_at = $2
		WHERE id = $1
		RETURNING `+deviceColumns,
		id, now, limit, lockUntil))
}

// ClaimPinAttempt is guarded on the lock, so once an attempt sets it every later claim affects no rows.
// Any lock still on a claimable row has elapsed, so the count restarts.
func (r *PostgresRepository) ClaimPinAttempt(ctx context.Context, id int64, now time.Time, limit int, lockUntil time.Time) (*domain.Device, error) {
	return scanDevice(r.conn.QueryRowContext(ctx,
		`UPDATE mfa_devices SET
			failed_pin_attempts = CASE WHEN pin_locked_until IS NOT NULL THEN 1 ELSE failed_pin_attempts + 1 END,
			pin_locked_until = CASE
				WHEN (CASE WHEN pin_locked_until IS NOT NULL THEN 1 ELSE failed_pin_attempts + 1 END) >= $3 THEN $4
				ELSE NULL
			END,
			updated_at = $2
		WHERE id = $1 AND status = 'active' AND (pin_locked_until IS NULL OR pin_locked_until <= $2)
		RETURNING `+deviceColumns,
		id, now, limit, lockUntil))
}

func (r *PostgresRepository) ResetPinFailures(ctx context.Context, id int64, now time.Time) error {
	_, err := r.conn.ExecContext(ctx,
		`UPDATE mfa_devices SET failed_pin_attempts = 0, pin_locked_until = NULL, updated_at = $2 WHERE id = $1`, id, now)
	return err
}

// CreateChallenge persists c and sets c.ID.
func (r *PostgresRepository) CreateChallenge(ctx context.Context, c *domain.Challenge) error {
	return r.conn.QueryRowContext(ctx,
		`INSERT INTO mfa_challenges (token_hash, user_id, status, ip, user_agent, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING id`,
		c.TokenHash, c.UserID, string(c.Status), c.IP, c.UserAgent, c.ExpiresAt, c.CreatedAt,
	).Scan(&c.ID)
}

// GetChallengeByID returns the challenge for id, or nil if not found.
func (r *PostgresRepository) GetChallengeByID(ctx context.Context, id int64) (*domain.Challenge, error) {
	return scanChallenge(r.conn.QueryRowContext(ctx, `SELECT `+challengeColumns+` FROM mfa_challenges WHERE id = $1`, id))
}

// GetChallengeByTokenHash returns the challenge for tokenHash, or nil if not found.
func (r *PostgresRepository) GetChallengeByTokenHash(ctx context.Context, tokenHash string) (*domain.Challenge, error) {
	return scanChallenge(r.conn.QueryRowContext(ctx, `SELECT `+challengeColumns+` FROM mfa_challenges WHERE token_hash = $1`, tokenHash))
}

func (r *PostgresRepository) ExpireChallenge(ctx context.Context, id int64, now time.Time) (bool, error) {
	return affected(r.conn.ExecContext(ctx,
		`UPDATE mfa_challenges SET status = 'expired', updated_at = $2 WHERE id = $1 AND status = 'pending' AND expires_at <= $2`,
		id, now))
}

func (r *PostgresRepository) ExpireUserChallenges(ctx context.Context, userID string, now time.Time) (int64, error) {
	return rowCount(r.conn.ExecContext(ctx,
		`UPDATE mfa_challenges SET status = 'expired', updated_at = $2 WHERE status = 'pending' AND expires_at <= $2
		AND ($1 = '' OR user_id = $1)`,
		userID, now))
}

func (r *PostgresRepository) ApproveChallenge(ctx context.Context, challengeID, deviceID int64, now time.Time) (bool, error) {
	approved := false
	err := db.WithTx(ctx, r.conn, func(tx *sql.Tx) error {
		ok, err := affected(tx.ExecContext(ctx,
			`UPDATE mfa_challenges SET status = 'approved', device_id = $2, approved_at = $3, updated_at = $3
			WHERE id = $1 AND status = 'pending' AND expires_at > $3`,
			challengeID, deviceID, now))
		if err != nil {
			return fmt.Errorf("approve challenge: %w", err)
		}
		if !ok {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE mfa_devices SET last_used_at = $2, failed_pin_attempts = 0, pin_locked_until = NULL, updated_at = $2 WHERE id = $1`,
			deviceID, now); err != nil {
			return fmt.Errorf("stamp device: %w", err)
		}
		approved = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return approved, nil
}

func (r *PostgresRepository) DenyChallenge(ctx context.Context, challengeID int64, deviceID *int64, now time.Time) (bool, error) {
	return affected(r.conn.ExecContext(ctx,
		`UPDATE mfa_challenges SET status = 'denied', device_id = COALESCE($2, device_id), denied_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'pending' AND expires_at > $3`,
		challengeID, nullInt64(deviceID), now))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*domain.Device, error) {
	var (
		d                                                         domain.Device
		status                                                    string
		tokenHash                                                 sql.NullString
		provExpires, lockedUntil, lastUsed, activated, revokedAt sql.NullTime
	)
	err := row.Scan(&d.ID, &d.UUID, &d.UserID, &d.Label, &status, &tokenHash, &provExpires, &d.PinHash,
		&d.FailedPinAttempts, &lockedUntil, &lastUsed, &activated, &revokedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	d.Status = domain.DeviceStatus(status)
	d.ProvisioningTokenHash = tokenHash.String
	d.ProvisioningExpiresAt = timePtr(provExpires)
	d.PinLockedUntil = timePtr(lockedUntil)
	d.LastUsedAt = timePtr(lastUsed)
	d.ActivatedAt = timePtr(activated)
	d.RevokedAt = timePtr(revokedAt)
	return &d, nil
}

func scanChallenge(row rowScanner) (*domain.Challenge, error) {
	var (
		c                  domain.Challenge
		status             string
		deviceID           sql.NullInt64
		approved, deniedAt sql.NullTime
	)
	err := row.Scan(&c.ID, &c.TokenHash, &c.UserID, &status, &deviceID, &c.IP, &c.UserAgent, &c.ExpiresAt,
		&approved, &deniedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.Status = domain.ChallengeStatus(status)
	if deviceID.Valid {
		id := deviceID.Int64
		c.DeviceID = &id
	}
	c.ApprovedAt = timePtr(approved)
	c.DeniedAt = timePtr(deniedAt)
	return &c, nil
}

func countDevices(ctx context.Context, q db.DBTX, query, userID string) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, query, userID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func affected(res sql.Result, err error) (bool, error) {
	n, err := rowCount(res, err)
	return n > 0, err
}

func rowCount(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
