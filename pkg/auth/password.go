package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/mcclellann/loandesk/pkg/models"
)

var ErrBadCredentials = errors.New("invalid staff id or password")

const minPasswordLength = 8

// HashPassword returns the bcrypt hash stored for a staff password.
func HashPassword(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Credentials is the part of the staff store a login needs.
type Credentials interface {
	GetStaff(ctx context.Context, id string) (*models.Staff, error)
	GetStaffPasswordHash(ctx context.Context, id string) (string, error)
}

// Login checks a staff password and issues a token for the staff member.
// Unknown staff, missing passwords and wrong passwords all fail the same way.
func (i *Issuer) Login(ctx context.Context, creds Credentials, staffID, password string) (string, Session, error) {
	hash, err := creds.GetStaffPasswordHash(ctx, staffID)
	if err != nil || hash == "" {
		return "", Session{}, ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", Session{}, ErrBadCredentials
	}
	st, err := creds.GetStaff(ctx, staffID)
	if err != nil {
		return "", Session{}, err
	}
	sess := Session{StaffID: st.ID, Name: st.Name, Role: st.Role, CenterIDs: st.CenterIDs}
	token, err := i.Issue(sess)
	if err != nil {
		return "", Session{}, err
	}
	return token, sess, nil
}
