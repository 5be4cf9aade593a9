package seed

import (
	"database/sql"
	"errors"
	"log"

	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
)

// EnsureAdmin creates the bootstrap admin account if no user with the given
// email exists yet. Calling it again is a no-op.
func EnsureAdmin(db *sqlx.DB, email, password string) (created bool, err error) {
	var id int64
	err = db.Get(&id, `SELECT id FROM users WHERE email = $1`, email)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return false, err
	}
	if _, err := db.Exec(`INSERT INTO users (email, password, role) VALUES ($1, $2, 'admin')`, email, hashed); err != nil {
		return false, err
	}
	return true, nil
}

// Bootstrap runs EnsureAdmin at startup, logging the outcome instead of
// failing the process.
func Bootstrap(db *sqlx.DB, email, password string) {
	created, err := EnsureAdmin(db, email, password)
	switch {
	case err != nil:
		log.Printf("unable to seed admin user: %v", err)
	case created:
		log.Printf("admin user %s created", email)
	default:
		log.Printf("admin user %s already exists", email)
	}
}
