package user

import "time"

// Role names recognised by the API.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is a registered account. PasswordHash is never serialised.
type User struct {
	ID           int64      `json:"id" db:"id"`
	FullName     string     `json:"full_name" db:"full_name"`
	Email        string     `json:"email" db:"email"`
	Role         string     `json:"role" db:"role"`
	PasswordHash string     `json:"-" db:"password"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// IsAdmin reports whether the user carries the admin role.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Patch lists the fields an update may change. Nil fields are left alone.
type Patch struct {
	FullName *string `json:"full_name"`
	Email    *string `json:"email"`
	Role     *string `json:"role"`
	Password *string `json:"password"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.FullName == nil && p.Email == nil && p.Role == nil && p.Password == nil
}
