package roster

import (
	"net/http"
	"strconv"

	"schooldesk/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(protected *gin.RouterGroup) {
	students := protected.Group("/students")
	{
		students.GET("/me", h.GetOwnStudentProfile)
		students.GET("", h.ListStudents)
	}
	protected.GET("/teachers", h.ListTeachers)
}

func (h *Handler) ListStudents(c *gin.Context) {
	limit, offset := pagination(c)

	students, err := h.service.ListStudents(c.Request.Context(), limit, offset)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "LIST_FAILED", "Failed to list students")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"students": students})
}

func (h *Handler) GetOwnStudentProfile(c *gin.Context) {
	userID := c.GetInt64("user_id")
	if userID == 0 {
		response.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}

	student, err := h.service.GetOwnStudentProfile(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, http.StatusNotFound, "NOT_FOUND", "Student profile not found")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"student": student})
}

func (h *Handler) ListTeachers(c *gin.Context) {
	limit, offset := pagination(c)

	teachers, err := h.service.ListTeachers(c.Request.Context(), limit, offset)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "LIST_FAILED", "Failed to list teachers")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"teachers": teachers})
}

func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.Query("limit"))
	offset, _ = strconv.Atoi(c.Query("offset"))
	return limit, offset
}
