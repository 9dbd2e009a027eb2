package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/example/face-attendance/internal/auth"
	"github.com/example/face-attendance/internal/facematch"
	"github.com/example/face-attendance/internal/logging"
	"github.com/example/face-attendance/internal/repository"
	"github.com/example/face-attendance/internal/usecase"
)

// MaxBodySize bounds JSON request bodies. A 128-value descriptor is a few KB; enrollment
// payloads may carry several.
const MaxBodySize = 1 << 20

// FaceService is the use case surface the HTTP layer depends on.
type FaceService interface {
	Match(ctx context.Context, probe json.RawMessage) (*usecase.MatchOutcome, error)
	CheckIn(ctx context.Context, operatorID string, probe json.RawMessage) (*usecase.CheckInRecord, error)
	GetCheckIn(ctx context.Context, requestID string) (*usecase.CheckInRecord, error)
	Enroll(ctx context.Context, in usecase.EnrollInput) (*repository.Identity, error)
	GetIdentity(ctx context.Context, id uint) (*repository.Identity, error)
	SetIdentityStatus(ctx context.Context, id uint, active bool) error
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

// RouteOptions carries the middleware RegisterRoutes needs.
type RouteOptions struct {
	Auth      gin.HandlerFunc
	RateLimit gin.HandlerFunc
	Logger    *zap.Logger
}

type probeRequest struct {
	Descriptor json.RawMessage `json:"descriptor"`
}

type enrollRequest struct {
	Name       string          `json:"name" binding:"required,max=255"`
	Email      string          `json:"email" binding:"required,email,max=255"`
	Descriptor json.RawMessage `json:"descriptor"`
}

type statusRequest struct {
	Active *bool `json:"active" binding:"required"`
}

type identityResponse struct {
	ID    uint   `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type handler struct {
	svc    FaceService
	logger *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc FaceService, opts RouteOptions) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{svc: svc, logger: logger.Named("handlers")}

	authenticate := opts.Auth
	if authenticate == nil {
		authenticate = auth.JWTMiddleware("", "")
	}
	limit := opts.RateLimit
	if limit == nil {
		limit = func(c *gin.Context) { c.Next() }
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	api.POST("/face/match", limit, h.match)

	secured := api.Group("", authenticate)
	secured.POST("/checkins", limit, h.checkIn)
	secured.GET("/checkins/:id", h.getCheckIn)
	secured.POST("/identities", h.enroll)
	secured.GET("/identities/:id", h.getIdentity)
	secured.PATCH("/identities/:id/status", h.setStatus)
	secured.GET("/metrics/summary", h.metricsSummary)
}

func (h *handler) match(c *gin.Context) {
	var req probeRequest
	if !h.bind(c, &req) {
		return
	}

	outcome, err := h.svc.Match(c.Request.Context(), req.Descriptor)
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := gin.H{
		"request_id": outcome.RequestID,
		"matched":    outcome.Matched,
	}
	if outcome.Matched {
		resp["confidence"] = outcome.Confidence
		resp["distance"] = outcome.Distance
		resp["identity"] = identityResponse{
			ID:    outcome.Identity.ID,
			Name:  outcome.Identity.Name,
			Email: outcome.Identity.Email,
		}
	} else {
		resp["message"] = "face not recognized"
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handler) checkIn(c *gin.Context) {
	operatorID, ok := auth.GetOperatorID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req probeRequest
	if !h.bind(c, &req) {
		return
	}

	record, err := h.svc.CheckIn(c.Request.Context(), operatorID, req.Descriptor)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *handler) getCheckIn(c *gin.Context) {
	requestID := c.Param("id")
	if requestID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}

	record, err := h.svc.GetCheckIn(c.Request.Context(), requestID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *handler) enroll(c *gin.Context) {
	var req enrollRequest
	if !h.bind(c, &req) {
		return
	}

	identity, err := h.svc.Enroll(c.Request.Context(), usecase.EnrollInput{
		Name:       req.Name,
		Email:      req.Email,
		Descriptor: req.Descriptor,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":     identity.ID,
		"name":   identity.Name,
		"email":  identity.Email,
		"status": identity.Status,
	})
}

func (h *handler) getIdentity(c *gin.Context) {
	id, ok := identityID(c)
	if !ok {
		return
	}

	identity, err := h.svc.GetIdentity(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":         identity.ID,
		"name":       identity.Name,
		"email":      identity.Email,
		"status":     identity.Status,
		"created_at": identity.CreatedAt,
	})
}

func (h *handler) setStatus(c *gin.Context) {
	id, ok := identityID(c)
	if !ok {
		return
	}

	var req statusRequest
	if !h.bind(c, &req) {
		return
	}

	if err := h.svc.SetIdentityStatus(c.Request.Context(), id, *req.Active); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "active": *req.Active})
}

func (h *handler) metricsSummary(c *gin.Context) {
	summary, err := h.svc.GetMetricsSummary(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func identityID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid identity id"})
		return 0, false
	}
	return uint(id), true
}

// bind decodes a size-limited JSON body into dst, writing the error response itself.
func (h *handler) bind(c *gin.Context, dst any) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodySize)
	if err := c.ShouldBindJSON(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return false
	}
	return true
}

func (h *handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, facematch.ErrInvalidProbeFormat):
		c.JSON(http.StatusBadRequest, gin.H{"error": facematch.ErrInvalidProbeFormat.Error()})
	case errors.Is(err, usecase.ErrNoDescriptors):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": usecase.ErrNoDescriptors.Error()})
	case errors.Is(err, repository.ErrDuplicateEmail):
		c.JSON(http.StatusConflict, gin.H{"error": repository.ErrDuplicateEmail.Error()})
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("operation", logging.OperationOf(err)),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
