// Package setup implements the first-launch admin bootstrap: a thin
// boundary guarded by a database-level uniqueness constraint so that
// concurrent callers racing Initialize can create at most one admin
// account (SPEC_FULL §12, spec §9 testable property 9).
package setup

import (
	"context"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/jackdawsentry/sentry-core/internal/platform/dbstore"
	"github.com/jackdawsentry/sentry-core/internal/platform/errors"
)

// Status reports whether this deployment has completed first-launch setup.
type Status struct {
	SetupRequired bool
	AdminUser     string
}

// Bootstrapper is the setup boundary's public contract.
type Bootstrapper struct {
	db *dbstore.Store
}

func New(db *dbstore.Store) *Bootstrapper {
	return &Bootstrapper{db: db}
}

// Status reports whether setup has already run.
func (b *Bootstrapper) Status(ctx context.Context) (Status, error) {
	var adminUser string
	err := b.db.DB.GetContext(ctx, &adminUser, `SELECT admin_user FROM setup_bootstrap WHERE singleton = true`)
	if err != nil {
		return Status{SetupRequired: true}, nil
	}
	return Status{SetupRequired: false, AdminUser: adminUser}, nil
}

// Initialize creates the single admin account for this deployment. The
// `setup_bootstrap` table's `singleton BOOLEAN PRIMARY KEY` constraint
// rejects a second insert at the database level, so concurrent callers
// racing this method can create at most one admin account regardless of
// application-level timing (spec §9 testable property 9, scenario E1).
func (b *Bootstrapper) Initialize(ctx context.Context, username, email, password, confirmPassword string) error {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" {
		return errors.InvalidInput("username", "must not be empty")
	}
	if email == "" {
		return errors.InvalidInput("email", "must not be empty")
	}
	if password == "" || password != confirmPassword {
		return errors.InvalidInput("password", "must be non-empty and match confirm_password")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, "failed to hash admin password", 500, err)
	}

	_, err = b.db.DB.ExecContext(ctx,
		`INSERT INTO setup_bootstrap (singleton, admin_user, admin_email, password_hash) VALUES (true, $1, $2, $3)`,
		username, email, string(hash))
	if err != nil {
		return errors.Conflict("setup has already been completed for this deployment")
	}
	return nil
}
