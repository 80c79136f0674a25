package models

import "time"

// User is a registered student. EnrolledModuleIDs is materialised from the
// enrollments table in enrollment order and only ever grows.
type User struct {
	ID                string    `db:"id" json:"id"`
	FirstName         string    `db:"first_name" json:"firstName"`
	LastName          string    `db:"last_name" json:"lastName"`
	Email             string    `db:"email" json:"email"`
	Phone             string    `db:"phone" json:"phone"`
	PasswordHash      string    `db:"password_hash" json:"-"`
	EnrolledModuleIDs []string  `db:"-" json:"enrolledModuleIds"`
	CreatedAt         time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time `db:"updated_at" json:"updatedAt"`
}

// FullName joins first and last name.
func (u User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// UpdateProfileRequest changes the mutable profile fields. Phone and
// password are not editable through this call.
type UpdateProfileRequest struct {
	FirstName string `json:"firstName" validate:"required,max=100"`
	LastName  string `json:"lastName" validate:"required,max=100"`
	Email     string `json:"email" validate:"required,email,max=255"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalCount int `json:"totalCount"`
}
