package handler

import (
	"github.com/gin-gonic/gin"
)

// Handlers groups the HTTP handlers mounted by RegisterRoutes.
type Handlers struct {
	Auth       *AuthHandler
	Catalog    *CatalogHandler
	Enrollment *EnrollmentHandler
	Ops        *MetricsHandler
}

// RegisterRoutes mounts ops endpoints at the root and the API under prefix.
// requireAuth guards every route that acts on the caller's identity.
// optionalAuth attaches an identity when one is presented without blocking.
func RegisterRoutes(r *gin.Engine, prefix string, h Handlers, requireAuth, optionalAuth gin.HandlerFunc) {
	r.GET("/health", h.Ops.Health)
	r.GET("/ready", h.Ops.Ready)
	r.GET("/metrics", h.Ops.Prometheus)

	api := r.Group(prefix)

	auth := api.Group("/auth")
	auth.POST("/signup", h.Auth.Signup)
	auth.POST("/login", h.Auth.Login)
	auth.POST("/refresh", h.Auth.Refresh)
	auth.POST("/logout", requireAuth, h.Auth.Logout)
	auth.GET("/me", requireAuth, h.Auth.Me)
	auth.PUT("/me", requireAuth, h.Auth.UpdateMe)

	api.GET("/courses", h.Catalog.ListCourses)
	api.GET("/courses/:id", h.Catalog.GetCourse)
	api.GET("/departments", h.Catalog.Departments)
	api.GET("/modules/:id", optionalAuth, h.Catalog.GetModule)
	api.POST("/modules/:id/register", requireAuth, h.Enrollment.Register)

	me := api.Group("/me", requireAuth)
	me.GET("/enrollments", h.Enrollment.List)
	me.GET("/enrollments/export", h.Enrollment.Export)
	me.GET("/dashboard", h.Enrollment.Dashboard)
}
