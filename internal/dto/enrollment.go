package dto

import "github.com/noah-isme/course-portal-api/internal/models"

// EnrollmentView pairs an enrolled module with its owning course.
type EnrollmentView struct {
	Module models.Module        `json:"module"`
	Course models.CourseSummary `json:"course"`
}

// DashboardSummary aggregates the caller's enrollments for the dashboard.
type DashboardSummary struct {
	TotalModules    int              `json:"totalModules"`
	TotalClassmates int              `json:"totalClassmates"`
	TotalCredits    int              `json:"totalCredits"`
	Enrollments     []EnrollmentView `json:"enrollments"`
}

// ModuleDetail is returned by the module lookup endpoint.
type ModuleDetail struct {
	Module    models.Module        `json:"module"`
	Course    models.CourseSummary `json:"course"`
	SeatsLeft int                  `json:"seatsLeft"`
	// Enrolled is set only when the request carries a valid access token.
	Enrolled *bool `json:"enrolled,omitempty"`
}

// CourseQuery binds course listing query parameters.
type CourseQuery struct {
	Department string `form:"department"`
	Search     string `form:"search"`
	Page       int    `form:"page" validate:"omitempty,min=1"`
	PageSize   int    `form:"pageSize" validate:"omitempty,min=1,max=100"`
}

// ExportQuery binds the timetable export parameters.
type ExportQuery struct {
	Format string `form:"format"`
}
