package domain

import (
	"errors"
	"fmt"
)

var (
	ErrOwnerRequired = errors.New("owner must reference a user or an organization")
	ErrOwnerConflict = errors.New("owner cannot reference both a user and an organization")
)

// OwnerRef identifies the billing owner of an allocation or usage row:
// exactly one of UserID and OrganizationID must be set.
type OwnerRef struct {
	UserID         *uint
	OrganizationID *uint
}

func UserOwner(id uint) OwnerRef {
	return OwnerRef{UserID: &id}
}

func OrganizationOwner(id uint) OwnerRef {
	return OwnerRef{OrganizationID: &id}
}

func (owner OwnerRef) Validate() error {
	switch {
	case owner.UserID == nil && owner.OrganizationID == nil:
		return ErrOwnerRequired
	case owner.UserID != nil && owner.OrganizationID != nil:
		return ErrOwnerConflict
	}
	return nil
}

func (owner OwnerRef) IsUser() bool {
	return owner.UserID != nil
}

// Key returns a stable identifier usable for grouping and idempotency keys.
func (owner OwnerRef) Key() string {
	if owner.UserID != nil {
		return fmt.Sprintf("user:%d", *owner.UserID)
	}
	if owner.OrganizationID != nil {
		return fmt.Sprintf("org:%d", *owner.OrganizationID)
	}
	return "none"
}
