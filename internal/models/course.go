package models

import "strings"

// Course groups an ordered list of modules. Courses are read-only at runtime.
type Course struct {
	ID          string   `db:"id" json:"id"`
	Position    int      `db:"position" json:"-"`
	Code        string   `db:"code" json:"code"`
	Title       string   `db:"title" json:"title"`
	Description string   `db:"description" json:"description"`
	Department  string   `db:"department" json:"department"`
	Credits     int      `db:"credits" json:"credits"`
	Image       string   `db:"image" json:"image"`
	ModuleCount int      `db:"module_count" json:"moduleCount"`
	Modules     []Module `db:"-" json:"modules,omitempty"`
}

// Summary returns the compact course reference embedded in module views.
func (c Course) Summary() CourseSummary {
	return CourseSummary{
		ID:         c.ID,
		Code:       c.Code,
		Title:      c.Title,
		Credits:    c.Credits,
		Department: c.Department,
	}
}

// CourseSummary is the course reference returned next to a module.
type CourseSummary struct {
	ID         string `json:"id"`
	Code       string `json:"code"`
	Title      string `json:"title"`
	Credits    int    `json:"credits"`
	Department string `json:"department"`
}

// Module is a schedulable section of a course with a bounded seat count.
// Enrolled only moves upward and never exceeds Capacity.
type Module struct {
	ID          string `db:"id" json:"id"`
	CourseID    string `db:"course_id" json:"courseId"`
	Position    int    `db:"position" json:"-"`
	Code        string `db:"code" json:"code"`
	Title       string `db:"title" json:"title"`
	Description string `db:"description" json:"description"`
	Instructor  string `db:"instructor" json:"instructor"`
	Schedule    string `db:"schedule" json:"schedule"`
	Location    string `db:"location" json:"location"`
	StartDate   string `db:"start_date" json:"startDate"`
	EndDate     string `db:"end_date" json:"endDate"`
	Capacity    int    `db:"capacity" json:"capacity"`
	Enrolled    int    `db:"enrolled" json:"enrolled"`
}

// IsFull reports whether no seats remain.
func (m Module) IsFull() bool {
	return m.Enrolled >= m.Capacity
}

// SeatsLeft returns the remaining capacity, never negative.
func (m Module) SeatsLeft() int {
	if m.IsFull() {
		return 0
	}
	return m.Capacity - m.Enrolled
}

// Classmates is the number of other students enrolled alongside the caller.
func (m Module) Classmates() int {
	if m.Enrolled <= 1 {
		return 0
	}
	return m.Enrolled - 1
}

// DepartmentAll disables the department filter.
const DepartmentAll = "all"

// CourseFilter narrows course listings.
type CourseFilter struct {
	Department string
	Search     string
	Page       int
	PageSize   int
}

// Matches applies the filter to c in memory. Search is case-insensitive over
// title, code and description.
func (f CourseFilter) Matches(c Course) bool {
	if f.Department != "" && f.Department != DepartmentAll && c.Department != f.Department {
		return false
	}
	term := strings.ToLower(strings.TrimSpace(f.Search))
	if term == "" {
		return true
	}
	return strings.Contains(strings.ToLower(c.Title), term) ||
		strings.Contains(strings.ToLower(c.Code), term) ||
		strings.Contains(strings.ToLower(c.Description), term)
}
