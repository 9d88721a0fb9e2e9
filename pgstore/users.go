package pgstore

import (
	"context"
	"strings"

	custodyauth "github.com/MrEthical07/goCustodyAuth"
)

const userColumns = `id, email, password_hash, two_factor_enabled`

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*custodyauth.UserRecord, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`
	u := &custodyauth.UserRecord{}
	err := s.pool.QueryRow(ctx, q, strings.TrimSpace(email)).Scan(&u.UserID, &u.Email, &u.PasswordHash, &u.TwoFactorEnabled)
	if err != nil {
		return nil, storeErr("find user by email", err, custodyauth.ErrUserNotFound)
	}
	return u, nil
}

func (s *Store) FindUserByID(ctx context.Context, userID int64) (*custodyauth.UserRecord, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u := &custodyauth.UserRecord{}
	err := s.pool.QueryRow(ctx, q, userID).Scan(&u.UserID, &u.Email, &u.PasswordHash, &u.TwoFactorEnabled)
	if err != nil {
		return nil, storeErr("find user by id", err, custodyauth.ErrUserNotFound)
	}
	return u, nil
}

func (s *Store) FindDelegationByUserID(ctx context.Context, userID int64) (*custodyauth.DelegatedAuthState, error) {
	q := `SELECT user_id, private_key, refresh_token, external_customer_id, wallet_id, device_id
		FROM delegated_auth_states WHERE user_id = $1`
	d := &custodyauth.DelegatedAuthState{}
	err := s.pool.QueryRow(ctx, q, userID).Scan(&d.UserID, &d.PrivateKey, &d.RefreshToken, &d.ExternalCustomerID, &d.WalletID, &d.DeviceID)
	if err != nil {
		return nil, storeErr("find delegation", err, custodyauth.ErrDelegationNotFound)
	}
	return d, nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID int64, hash string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET password_hash = $1 WHERE id = $2`, hash, userID)
	if err != nil {
		return storeErr("update password hash", err, custodyauth.ErrUserNotFound)
	}
	if tag.RowsAffected() == 0 {
		return custodyauth.ErrUserNotFound
	}
	return nil
}

// CreateUser provisions an account and returns its id. The hash is stored as
// given.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (email, password_hash) VALUES ($1, $2) RETURNING id`,
		strings.ToLower(strings.TrimSpace(email)), passwordHash,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, custodyauth.ErrConflict
		}
		return 0, storeErr("create user", err, custodyauth.ErrUserNotFound)
	}
	return id, nil
}

// SaveDelegation inserts or replaces the delegated backoffice state of a user.
func (s *Store) SaveDelegation(ctx context.Context, d custodyauth.DelegatedAuthState) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO delegated_auth_states (user_id, private_key, refresh_token, external_customer_id, wallet_id, device_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			private_key = EXCLUDED.private_key,
			refresh_token = EXCLUDED.refresh_token,
			external_customer_id = EXCLUDED.external_customer_id,
			wallet_id = EXCLUDED.wallet_id,
			device_id = EXCLUDED.device_id`,
		d.UserID, d.PrivateKey, d.RefreshToken, d.ExternalCustomerID, d.WalletID, d.DeviceID,
	)
	if err != nil {
		return storeErr("save delegation", err, custodyauth.ErrUserNotFound)
	}
	return nil
}
