// Package handler is the presentation boundary. It talks only to the
// session, roster and identity services; it never reads or writes the
// document store directly, and treats every returned entity as a snapshot
// that can go stale.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"rollcall/internal/errs"
	"rollcall/internal/identity"
	"rollcall/internal/model"
	"rollcall/internal/queue"
	"rollcall/internal/roster"
	"rollcall/internal/session"
)

type Handler struct {
	sessions *session.Service
	rosters  *roster.Service
	gateway  *identity.TokenGateway
	repairs  queue.Queue
	log      zerolog.Logger
}

func New(sessions *session.Service, rosters *roster.Service, gateway *identity.TokenGateway, repairs queue.Queue, log zerolog.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		rosters:  rosters,
		gateway:  gateway,
		repairs:  repairs,
		log:      log.With().Str("component", "handler").Logger(),
	}
}

// Register wires all routes onto the engine. Everything except auth sits
// behind the bearer-token middleware.
func (h *Handler) Register(r *gin.Engine) {
	r.POST("/v1/auth/login", h.Login)
	r.POST("/v1/auth/reset", h.ResetCredential)

	authed := r.Group("/v1", identity.Auth(h.gateway))
	authed.POST("/auth/signout", h.SignOut)

	authed.POST("/classes", h.CreateClass)
	authed.GET("/classes/:key", h.LoadClass)
	authed.POST("/classes/:key/enroll", h.Enroll)
	authed.POST("/classes/:key/join", h.Join)
	authed.POST("/classes/:key/unenroll", h.Unenroll)
	authed.POST("/classes/:key/leave", h.Leave)
	authed.GET("/classes/:key/meetings", h.ListMeetings)
	authed.POST("/classes/:key/meetings", h.CreateMeeting)

	authed.GET("/meetings/:key", h.GetMeeting)
	authed.DELETE("/meetings/:key", h.DeleteMeeting)
	authed.POST("/meetings/:key/conclude", h.ConcludeMeeting)
	authed.POST("/meetings/:key/reopen", h.ReopenMeeting)
	authed.POST("/meetings/:key/cancel", h.CancelMeeting)
	authed.POST("/meetings/:key/check-ins", h.CheckIn)
	authed.PATCH("/meetings/:key/check-ins/:student", h.UpdateCheckInStatus)
	authed.POST("/meetings/:key/check-ins/:student/comments", h.AddCheckInComment)

	authed.GET("/users/:key/classes", h.Keeping)
	authed.POST("/admin/repair/:key", h.EnqueueRepair)
}

// fail maps the service error taxonomy onto HTTP codes in one place.
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errs.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// ---------- Auth ----------

func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		FullName string `json:"fullName"`
		Role     string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, pair, err := h.gateway.Login(c.Request.Context(), req.Email, req.FullName, req.Role)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":          id,
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"expires_at":    pair.AccessExp.Unix(),
	})
}

func (h *Handler) SignOut(c *gin.Context) {
	if err := h.gateway.SignOut(c.Request.Context(), identity.BearerToken(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "signed out"})
}

func (h *Handler) ResetCredential(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// Deliberately the same response whether or not the account exists.
	if err := h.gateway.ResetCredential(c.Request.Context(), req.Email); err != nil && !errors.Is(err, errs.ErrNotFound) {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "reset requested"})
}

// ---------- Classes & roster ----------

func (h *Handler) CreateClass(c *gin.Context) {
	var req struct {
		Name         string `json:"name" binding:"required"`
		ClassCode    string `json:"classCode" binding:"required"`
		Section      string `json:"section"`
		AcademicYear string `json:"academicYear"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cls, err := h.rosters.CreateClass(c.Request.Context(), model.Class{
		Name:         req.Name,
		ClassCode:    req.ClassCode,
		Section:      req.Section,
		AcademicYear: req.AcademicYear,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, cls)
}

func (h *Handler) LoadClass(c *gin.Context) {
	cls, err := h.rosters.LoadClass(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cls)
}

type memberRequest struct {
	Key      string `json:"key" binding:"required"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

func (m memberRequest) user() model.User {
	return model.User{Key: m.Key, FullName: m.FullName, Email: m.Email, Role: m.Role}
}

func (h *Handler) Enroll(c *gin.Context) {
	var req memberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.rosters.Enroll(c.Request.Context(), c.Param("key"), req.user()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "enrolled"})
}

func (h *Handler) Join(c *gin.Context) {
	var req memberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.rosters.Join(c.Request.Context(), c.Param("key"), req.user()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "joined"})
}

func (h *Handler) Unenroll(c *gin.Context) {
	var req struct {
		Key string `json:"key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.rosters.Unenroll(c.Request.Context(), c.Param("key"), req.Key); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unenrolled"})
}

func (h *Handler) Leave(c *gin.Context) {
	var req struct {
		Key string `json:"key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.rosters.Leave(c.Request.Context(), c.Param("key"), req.Key); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "left"})
}

func (h *Handler) Keeping(c *gin.Context) {
	keeping, err := h.rosters.Keeping(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, keeping)
}

func (h *Handler) EnqueueRepair(c *gin.Context) {
	msg := queue.Message{Type: queue.TypeRepair, Body: c.Param("key")}
	if err := h.repairs.Publish(c.Request.Context(), msg); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "repair queued"})
}

// ---------- Meetings & check-ins ----------

func (h *Handler) CreateMeeting(c *gin.Context) {
	var req struct {
		Date    string `json:"date" binding:"required"`
		Teacher string `json:"teacher"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	teacher := req.Teacher
	if teacher == "" {
		if id, ok := identity.FromContext(c.Request.Context()); ok {
			teacher = id.Key
		}
	}
	meeting, err := h.sessions.CreateMeeting(c.Request.Context(), c.Param("key"), req.Date, teacher)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, meeting)
}

func (h *Handler) ListMeetings(c *gin.Context) {
	meetings, err := h.sessions.ListMeetings(c.Request.Context(), c.Param("key"), c.Query("student"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"meetings": meetings})
}

func (h *Handler) GetMeeting(c *gin.Context) {
	meeting, err := h.sessions.GetMeeting(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, meeting)
}

func (h *Handler) CheckIn(c *gin.Context) {
	var req struct {
		Student string `json:"student"`
		Status  string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	student := req.Student
	if student == "" {
		if id, ok := identity.FromContext(c.Request.Context()); ok {
			student = id.Key
		}
	}
	rec, err := h.sessions.CheckIn(c.Request.Context(), c.Param("key"), student, model.CheckInStatus(req.Status))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h *Handler) UpdateCheckInStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required,oneof=check-in absent late present"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := h.sessions.UpdateCheckInStatus(c.Request.Context(), c.Param("key"), c.Param("student"), model.CheckInStatus(req.Status))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) AddCheckInComment(c *gin.Context) {
	var req struct {
		Message string `json:"message" binding:"required"`
		Author  string `json:"author"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	author := req.Author
	if author == "" {
		if id, ok := identity.FromContext(c.Request.Context()); ok {
			author = id.Key
		}
	}
	rec, err := h.sessions.AddCheckInComment(c.Request.Context(), c.Param("key"), c.Param("student"), author, req.Message)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) ConcludeMeeting(c *gin.Context) { h.transition(c, h.sessions.ConcludeMeeting) }
func (h *Handler) ReopenMeeting(c *gin.Context)   { h.transition(c, h.sessions.ReopenMeeting) }
func (h *Handler) CancelMeeting(c *gin.Context)   { h.transition(c, h.sessions.CancelMeeting) }

func (h *Handler) transition(c *gin.Context, op func(ctx context.Context, key string) error) {
	if err := op(c.Request.Context(), c.Param("key")); err != nil {
		h.fail(c, err)
		return
	}
	meeting, err := h.sessions.GetMeeting(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, meeting)
}

func (h *Handler) DeleteMeeting(c *gin.Context) {
	if err := h.sessions.DeleteMeeting(c.Request.Context(), c.Param("key")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
