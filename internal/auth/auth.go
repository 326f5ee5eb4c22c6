// Package auth implements the login boundary: verifies the deployment's
// single admin account against setup_bootstrap and mints the RSA-signed
// bearer JWT that internal/platform/middleware validates on every other
// route (spec §6 "all require a bearer token except health and setup").
package auth

import (
	"context"
	"crypto/rsa"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/jackdawsentry/sentry-core/internal/platform/dbstore"
	"github.com/jackdawsentry/sentry-core/internal/platform/errors"
	"github.com/jackdawsentry/sentry-core/internal/platform/middleware"
)

// Authenticator issues bearer tokens for the deployment's admin account.
type Authenticator struct {
	db         *dbstore.Store
	privateKey *rsa.PrivateKey
	expiry     time.Duration
}

func New(db *dbstore.Store, privateKey *rsa.PrivateKey) *Authenticator {
	return &Authenticator{db: db, privateKey: privateKey, expiry: middleware.DefaultTokenExpiry}
}

type adminRow struct {
	AdminUser    string `db:"admin_user"`
	PasswordHash string `db:"password_hash"`
}

// Login verifies username/password against the bootstrapped admin account
// and returns a signed bearer token plus its expiry.
func (a *Authenticator) Login(ctx context.Context, username, password string) (string, time.Time, error) {
	var row adminRow
	err := a.db.DB.GetContext(ctx, &row,
		`SELECT admin_user, password_hash FROM setup_bootstrap WHERE singleton = true AND admin_user = $1`, username)
	if err != nil {
		return "", time.Time{}, errors.Unauthorized("invalid username or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(row.PasswordHash), []byte(password)); err != nil {
		return "", time.Time{}, errors.Unauthorized("invalid username or password")
	}

	expiresAt := time.Now().Add(a.expiry)
	claims := middleware.UserClaims{
		UserID: row.AdminUser,
		Role:   "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   row.AdminUser,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(a.privateKey)
	if err != nil {
		return "", time.Time{}, errors.Wrap(errors.ErrCodeInternal, "failed to sign token", 500, err)
	}
	return signed, expiresAt, nil
}
