package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-portal-api/internal/dto"
	"github.com/noah-isme/course-portal-api/internal/models"
	appErrors "github.com/noah-isme/course-portal-api/pkg/errors"
	"github.com/noah-isme/course-portal-api/pkg/export"
	"github.com/noah-isme/course-portal-api/pkg/response"
)

type enrollmentService interface {
	Register(ctx context.Context, userID, moduleID string) (*models.RegistrationResult, error)
	ListForUser(ctx context.Context, userID string) ([]dto.EnrollmentView, error)
	Dashboard(ctx context.Context, userID string) (*dto.DashboardSummary, error)
	ExportTimetable(ctx context.Context, userID, format string) ([]byte, export.Format, error)
}

// EnrollmentHandler exposes registration and the caller's enrollments.
type EnrollmentHandler struct {
	service enrollmentService
	now     func() time.Time
}

// NewEnrollmentHandler constructs the handler.
func NewEnrollmentHandler(svc enrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{service: svc, now: time.Now}
}

// Register godoc
// @Summary Register for a module
// @Description The user is taken from the access token. Capacity is checked before duplicate enrollment.
// @Tags Enrollment
// @Produce json
// @Security BearerAuth
// @Param id path string true "Module ID"
// @Success 200 {object} response.Envelope{data=models.RegistrationResult}
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /modules/{id}/register [post]
func (h *EnrollmentHandler) Register(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	result, err := h.service.Register(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result.Message, result)
}

// List godoc
// @Summary Current user's enrollments
// @Tags Enrollment
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope{data=[]dto.EnrollmentView}
// @Failure 401 {object} response.Envelope
// @Router /me/enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	views, err := h.service.ListForUser(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, views, nil)
}

// Dashboard godoc
// @Summary Dashboard summary
// @Description Modules enrolled, total classmates and credits of distinct courses
// @Tags Enrollment
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope{data=dto.DashboardSummary}
// @Failure 401 {object} response.Envelope
// @Router /me/dashboard [get]
func (h *EnrollmentHandler) Dashboard(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	summary, err := h.service.Dashboard(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// Export godoc
// @Summary Export timetable
// @Tags Enrollment
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param format query string false "csv or pdf" Enums(csv, pdf)
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /me/enrollments/export [get]
func (h *EnrollmentHandler) Export(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var query dto.ExportQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid export query"))
		return
	}

	body, format, err := h.service.ExportTimetable(c.Request.Context(), userID, query.Format)
	if err != nil {
		response.Error(c, err)
		return
	}

	filename := fmt.Sprintf("timetable-%s.%s", h.now().UTC().Format("20060102"), format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, format.ContentType(), body)
}
