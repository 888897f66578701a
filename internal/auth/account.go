package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/centralreports/reportd/internal/domain"
	"github.com/centralreports/reportd/internal/validate"
)

// NewAccount is the input for provisioning a user. Accounts are created by
// operators; there is no self sign-up.
type NewAccount struct {
	Email    string `form:"email" validate:"required,email,max=254"`
	Password string `form:"password" validate:"required,min=8,max=72"`
	Role     string `form:"role" validate:"required,oneof=super_admin unit_admin public"`
	UnitID   string `form:"unit_id" validate:"max=64"`
}

// UserCreator stores a credential and its profile together.
type UserCreator interface {
	CreateUser(ctx context.Context, cred domain.Credential, acct domain.Account) error
}

// PrepareAccount validates in and returns the rows to store. A unit admin
// without a unit is accepted: it models a unit that was deleted or never
// assigned and signs in to the "not assigned" message.
func PrepareAccount(in NewAccount) (domain.Credential, domain.Account, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.UnitID = strings.TrimSpace(in.UnitID)
	if err := validate.Struct(in); err != nil {
		return domain.Credential{}, domain.Account{}, err
	}
	role, err := domain.ParseRole(in.Role)
	if err != nil {
		return domain.Credential{}, domain.Account{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if role != domain.RoleUnitAdmin && in.UnitID != "" {
		return domain.Credential{}, domain.Account{}, fmt.Errorf("%w: only unit admins are assigned a unit", domain.ErrInvalidInput)
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return domain.Credential{}, domain.Account{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	id := uuid.NewString()
	return domain.Credential{ID: id, Email: in.Email, PasswordHash: hash},
		domain.Account{ID: id, Role: role, UnitID: in.UnitID},
		nil
}

// CreateAccount validates in and stores the new user.
func CreateAccount(ctx context.Context, store UserCreator, in NewAccount) (domain.Account, error) {
	cred, acct, err := PrepareAccount(in)
	if err != nil {
		return domain.Account{}, err
	}
	if err := store.CreateUser(ctx, cred, acct); err != nil {
		return domain.Account{}, domain.Upstream("create user", err)
	}
	return acct, nil
}
