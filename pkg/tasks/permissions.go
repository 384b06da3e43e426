package tasks

import (
	"context"

	"taskhooks/pkg/storage"
)

// Authorizer decides what a user may do inside an organization.
type Authorizer interface {
	CanCreateTasks(ctx context.Context, user storage.User, org storage.Organization) (bool, error)
	CanViewTasks(ctx context.Context, user storage.User, org storage.Organization) (bool, error)
}

// MembershipAuthorizer grants access from the user's membership role.
// Viewers may read but not create.
type MembershipAuthorizer struct {
	Store storage.Store
}

// CanCreateTasks allows owners, admins and members.
func (a MembershipAuthorizer) CanCreateTasks(ctx context.Context, user storage.User, org storage.Organization) (bool, error) {
	membership, err := a.Store.GetMembership(ctx, org.ID, user.ID)
	if err != nil || membership == nil {
		return false, err
	}
	switch membership.Role {
	case storage.RoleOwner, storage.RoleAdmin, storage.RoleMember:
		return true, nil
	default:
		return false, nil
	}
}

// CanViewTasks allows any member of org.
func (a MembershipAuthorizer) CanViewTasks(ctx context.Context, user storage.User, org storage.Organization) (bool, error) {
	membership, err := a.Store.GetMembership(ctx, org.ID, user.ID)
	if err != nil || membership == nil {
		return false, err
	}
	return true, nil
}
