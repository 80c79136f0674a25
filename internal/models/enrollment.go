package models

import "time"

// Enrollment records that a user holds a seat in a module.
type Enrollment struct {
	ID         string    `db:"id" json:"id"`
	UserID     string    `db:"user_id" json:"userId"`
	ModuleID   string    `db:"module_id" json:"moduleId"`
	EnrolledAt time.Time `db:"enrolled_at" json:"enrolledAt"`
}

// RegistrationResult confirms a successful registration.
type RegistrationResult struct {
	Module  Module        `json:"module"`
	Course  CourseSummary `json:"course"`
	Message string        `json:"message"`
}
