package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-portal-api/internal/dto"
	"github.com/noah-isme/course-portal-api/internal/models"
	appErrors "github.com/noah-isme/course-portal-api/pkg/errors"
	"github.com/noah-isme/course-portal-api/pkg/response"
)

type catalogService interface {
	ListCourses(ctx context.Context, query dto.CourseQuery) ([]models.Course, *models.Pagination, error)
	GetCourse(ctx context.Context, id string) (*models.Course, error)
	GetModule(ctx context.Context, id string) (*dto.ModuleDetail, error)
	Departments(ctx context.Context) ([]string, error)
}

type enrollmentChecker interface {
	IsEnrolled(ctx context.Context, userID, moduleID string) (bool, error)
}

// CatalogHandler exposes read-only catalog endpoints.
type CatalogHandler struct {
	service     catalogService
	enrollments enrollmentChecker
}

// NewCatalogHandler constructs the handler. With a nil enrollments checker
// module detail never reports the caller's enrollment.
func NewCatalogHandler(svc catalogService, enrollments enrollmentChecker) *CatalogHandler {
	return &CatalogHandler{service: svc, enrollments: enrollments}
}

// ListCourses godoc
// @Summary List courses
// @Description Filter by department ("all" disables the filter) and a case-insensitive search over title, code and description
// @Tags Catalog
// @Produce json
// @Param department query string false "Department"
// @Param search query string false "Search term"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope{data=[]models.Course}
// @Failure 400 {object} response.Envelope
// @Router /courses [get]
func (h *CatalogHandler) ListCourses(c *gin.Context) {
	var query dto.CourseQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid course query"))
		return
	}

	courses, pagination, err := h.service.ListCourses(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, courses, pagination)
}

// GetCourse godoc
// @Summary Course detail
// @Tags Catalog
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope{data=models.Course}
// @Failure 404 {object} response.Envelope
// @Router /courses/{id} [get]
func (h *CatalogHandler) GetCourse(c *gin.Context) {
	course, err := h.service.GetCourse(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// GetModule godoc
// @Summary Module detail
// @Description With a valid bearer token the response also reports whether the caller is enrolled
// @Tags Catalog
// @Produce json
// @Param id path string true "Module ID"
// @Success 200 {object} response.Envelope{data=dto.ModuleDetail}
// @Failure 404 {object} response.Envelope
// @Router /modules/{id} [get]
func (h *CatalogHandler) GetModule(c *gin.Context) {
	detail, err := h.service.GetModule(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if claims := claimsFromContext(c); claims != nil && claims.UserID() != "" && h.enrollments != nil {
		enrolled, err := h.enrollments.IsEnrolled(c.Request.Context(), claims.UserID(), detail.Module.ID)
		if err != nil {
			response.Error(c, err)
			return
		}
		detail.Enrolled = &enrolled
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Departments godoc
// @Summary List departments
// @Tags Catalog
// @Produce json
// @Success 200 {object} response.Envelope{data=[]string}
// @Router /departments [get]
func (h *CatalogHandler) Departments(c *gin.Context) {
	departments, err := h.service.Departments(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, departments, nil)
}
