package db

import (
	"time"

	"github.com/google/uuid"
)

func (d *DB) CreateAccount(username, passwordHash string) (*Account, error) {
	a := &Account{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().Truncate(time.Millisecond),
	}
	_, err := d.sql.Exec(
		`INSERT INTO accounts (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		a.ID, a.Username, a.PasswordHash, a.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (d *DB) GetAccountByUsername(username string) (*Account, error) {
	return d.scanAccount(`SELECT id, username, password_hash, created_at FROM accounts WHERE username = ?`, username)
}

func (d *DB) GetAccount(id string) (*Account, error) {
	return d.scanAccount(`SELECT id, username, password_hash, created_at FROM accounts WHERE id = ?`, id)
}

func (d *DB) scanAccount(query string, arg string) (*Account, error) {
	var a Account
	var created int64
	if err := d.sql.QueryRow(query, arg).Scan(&a.ID, &a.Username, &a.PasswordHash, &created); err != nil {
		return nil, err
	}
	a.CreatedAt = time.UnixMilli(created)
	return &a, nil
}

func (d *DB) UpdateAccountPassword(id, passwordHash string) error {
	_, err := d.sql.Exec(`UPDATE accounts SET password_hash = ? WHERE id = ?`, passwordHash, id)
	return err
}

func (d *DB) CreateRefreshToken(token, accountID string, expiresAt time.Time) error {
	_, err := d.sql.Exec(
		`INSERT INTO refresh_tokens (token, account_id, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		token, accountID, expiresAt.UnixMilli(), time.Now().UnixMilli(),
	)
	return err
}

// GetRefreshToken returns sql.ErrNoRows for unknown tokens.
func (d *DB) GetRefreshToken(token string) (*RefreshToken, error) {
	var rt RefreshToken
	var expires, created int64
	err := d.sql.QueryRow(
		`SELECT token, account_id, expires_at, created_at FROM refresh_tokens WHERE token = ?`, token,
	).Scan(&rt.Token, &rt.AccountID, &expires, &created)
	if err != nil {
		return nil, err
	}
	rt.ExpiresAt = time.UnixMilli(expires)
	rt.CreatedAt = time.UnixMilli(created)
	return &rt, nil
}

func (d *DB) DeleteRefreshToken(token string) error {
	_, err := d.sql.Exec(`DELETE FROM refresh_tokens WHERE token = ?`, token)
	return err
}

func (d *DB) DeleteRefreshTokensByAccount(accountID string) error {
	_, err := d.sql.Exec(`DELETE FROM refresh_tokens WHERE account_id = ?`, accountID)
	return err
}
