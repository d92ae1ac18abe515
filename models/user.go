package models

import (
	"github.com/google/uuid"
)

// Role represents a user's role within an organization
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// AccountStatus represents the verification state of an account
type AccountStatus string

const (
	AccountVerified   AccountStatus = "verified"
	AccountUnverified AccountStatus = "unverified"
)

// Membership represents a user's membership in one organization
type Membership struct {
	OrgID   uuid.UUID `json:"orgId"`
	OrgName string    `json:"orgName"`
	Role    Role      `json:"role"`
	Slug    string    `json:"slug,omitempty"`
}

// UserProfile represents the backend's view of the authenticated user.
// It is cached alongside the token pair and refreshed from the "me"
// endpoint whenever a valid token exists.
type UserProfile struct {
	ID            uuid.UUID     `json:"id"`
	Email         string        `json:"email"`
	Name          string        `json:"name,omitempty"`
	Username      string        `json:"username,omitempty"`
	AvatarURL     string        `json:"avatarUrl,omitempty"`
	AccountStatus AccountStatus `json:"accountStatus"`
	EmailVerified bool          `json:"emailVerified"`
	CurrentOrgID  *uuid.UUID    `json:"currentOrgId,omitempty"`
	Memberships   []Membership  `json:"memberships,omitempty"`
}

// IsVerified returns true if the account has completed verification
func (u *UserProfile) IsVerified() bool {
	return u.AccountStatus == AccountVerified
}

// MembershipFor returns the membership for the given organization, or nil
func (u *UserProfile) MembershipFor(orgID uuid.UUID) *Membership {
	for i := range u.Memberships {
		if u.Memberships[i].OrgID == orgID {
			return &u.Memberships[i]
		}
	}
	return nil
}

// CurrentMembership returns the membership matching CurrentOrgID, or nil
func (u *UserProfile) CurrentMembership() *Membership {
	if u.CurrentOrgID == nil {
		return nil
	}
	return u.MembershipFor(*u.CurrentOrgID)
}

// CanManageOrg returns true if the user can administer the given organization
func (u *UserProfile) CanManageOrg(orgID uuid.UUID) bool {
	m := u.MembershipFor(orgID)
	if m == nil {
		return false
	}
	return m.Role == RoleOwner || m.Role == RoleAdmin
}
