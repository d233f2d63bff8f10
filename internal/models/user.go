package models

import "time"

type Role string

const (
	RoleClient       Role = "CLIENT"
	RoleProfessional Role = "PRO"
	RoleAdmin        Role = "ADMIN"
)

func (r Role) Valid() bool {
	return r == RoleClient || r == RoleProfessional || r == RoleAdmin
}

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Professional is the profile that owns services, bookings, blocks and
// working hours.
type Professional struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	DisplayName    string    `json:"display_name"`
	Timezone       string    `json:"timezone"`
	TelegramChatID int64     `json:"telegram_chat_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Actor is the authenticated caller of a core operation.
type Actor struct {
	UserID         int64 `json:"id"`
	Role           Role  `json:"role"`
	ProfessionalID int64 `json:"professional_id,omitempty"`
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// OwnsProfessional reports whether the actor acts for the given professional.
func (a Actor) OwnsProfessional(professionalID int64) bool {
	return a.ProfessionalID != 0 && a.ProfessionalID == professionalID
}

// SystemActor is used by automated flows.
var SystemActor = Actor{Role: RoleAdmin}
