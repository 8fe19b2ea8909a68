package models

// Role enumerates the platform roles a principal can hold
type Role string

const (
	RoleSuperAdmin  Role = "superadmin"
	RoleLeadMentor  Role = "leadmentor"
	RoleSchoolAdmin Role = "schooladmin"
	RoleAdmin       Role = "admin"
	RoleMentor      Role = "mentor"
	RoleStudent     Role = "student"
	RoleGuest       Role = "guest"
	RoleManager     Role = "manager"
	RoleFinance     Role = "finance"
	RoleITAdmin     Role = "itadmin"
	RoleAuditor     Role = "auditor"
)

// notificationRoles is the allow-list of roles whose notification and
// recommendation counters are polled. All other roles never trigger a fetch.
var notificationRoles = map[Role]bool{
	RoleSuperAdmin:  true,
	RoleLeadMentor:  true,
	RoleSchoolAdmin: true,
	RoleAdmin:       true,
	RoleManager:     true,
}

// Valid reports whether the role is a known platform role
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleLeadMentor, RoleSchoolAdmin, RoleAdmin, RoleMentor,
		RoleStudent, RoleGuest, RoleManager, RoleFinance, RoleITAdmin, RoleAuditor:
		return true
	}
	return false
}

// PollsNotifications reports whether this role is in the counter allow-list
func (r Role) PollsNotifications() bool {
	return notificationRoles[r]
}

// Principal is the authenticated identity record
type Principal struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Email          string   `json:"email"`
	Role           Role     `json:"role"`
	ParentMentorID string   `json:"parent_mentor_id,omitempty"`
	Permissions    []string `json:"permissions,omitempty"`
	AvatarURL      string   `json:"avatar_url,omitempty"`
}

// IsGuest reports whether the principal holds the guest role.
// Guests never get a realtime channel or notification polling.
func (p *Principal) IsGuest() bool {
	return p == nil || p.Role == RoleGuest
}

// HasPermission checks the principal's capability tags
func (p *Principal) HasPermission(tag string) bool {
	if p == nil {
		return false
	}
	for _, perm := range p.Permissions {
		if perm == tag {
			return true
		}
	}
	return false
}
