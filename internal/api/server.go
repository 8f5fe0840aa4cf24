// Package api exposes the knock market over HTTP.
//
// Mutating routes identify the caller with the X-Knock-Caller header. The
// header is trusted as-is; authentication belongs to whatever fronts knockd.
// Amounts are accepted in native units ("0.02") and returned in wei strings.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/knock/internal/engine"
	"github.com/roach88/knock/internal/identity"
)

// CallerHeader carries the acting participant on mutating requests.
const CallerHeader = "X-Knock-Caller"

// Profiles is the administrative identity surface served under /v1/profiles.
type Profiles interface {
	Register(ctx context.Context, participant string) (identity.Profile, error)
	Ban(ctx context.Context, participant string) error
	Unban(ctx context.Context, participant string) error
	Profile(ctx context.Context, participant string) (identity.Profile, error)
}

// Server holds the handlers' collaborators.
type Server struct {
	engine   *engine.Engine
	profiles Profiles
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// NewServer creates a Server. gatherer may be nil to omit /metrics.
func NewServer(e *engine.Engine, profiles Profiles, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: e, profiles: profiles, gatherer: gatherer, logger: logger}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/v1")
	{
		v1.GET("/day", s.currentDay)

		v1.POST("/knocks", s.submitKnock)
		v1.GET("/knocks/:id", s.getKnock)
		v1.GET("/knocks/:id/transfers", s.knockTransfers)
		v1.POST("/knocks/:id/accept", s.acceptKnock)
		v1.POST("/knocks/:id/reject", s.rejectKnock)
		v1.POST("/knocks/:id/expire", s.expireKnock)

		v1.GET("/senders/:sender/pending", s.pendingKnocks)
		v1.GET("/refunds", s.unpaidRefunds)
		v1.POST("/refunds/:id/retry", s.retryRefund)

		v1.PUT("/settings", s.setDailySlots)
		v1.GET("/receivers/:receiver/settings", s.getSettings)
		v1.GET("/receivers/:receiver/stats", s.getStats)
		v1.GET("/receivers/:receiver/queue", s.settledQueue)
		v1.POST("/receivers/:receiver/settle", s.settle)
		v1.GET("/receivers/:receiver/days/:day/bucket", s.dayBucket)
		v1.GET("/receivers/:receiver/days/:day", s.daySettlement)

		v1.GET("/balances/:account", s.getBalance)
		v1.GET("/events", s.listEvents)

		v1.POST("/profiles", s.registerProfile)
		v1.GET("/profiles/:participant", s.getProfile)
		v1.POST("/profiles/:participant/ban", s.banProfile)
		v1.POST("/profiles/:participant/unban", s.unbanProfile)
	}
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"caller", c.GetHeader(CallerHeader),
			"duration", time.Since(start))
	}
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	KnockID int64  `json:"knock_id,omitempty"`
}

// statusFor maps an error onto an HTTP status.
func statusFor(err error) int {
	switch engine.CodeOf(err) {
	case engine.ErrCodeNoProfile, engine.ErrCodeSelfTarget, engine.ErrCodeBidTooLow,
		engine.ErrCodeInvalidSlots, engine.ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case engine.ErrCodeNotAuthorized:
		return http.StatusForbidden
	case engine.ErrCodeNotFound:
		return http.StatusNotFound
	case engine.ErrCodeTooManyPending, engine.ErrCodeAlreadySettled, engine.ErrCodeDayNotClosed,
		engine.ErrCodeWrongStatus, engine.ErrCodeNotExpired:
		return http.StatusConflict
	case engine.ErrCodeTransferFailed:
		return http.StatusBadGateway
	}
	switch {
	case errors.Is(err, identity.ErrReservedParticipant):
		return http.StatusBadRequest
	case errors.Is(err, identity.ErrUnknownParticipant):
		return http.StatusNotFound
	case errors.Is(err, identity.ErrAlreadyRegistered):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	body := errorBody{Code: string(engine.CodeOf(err)), Message: err.Error()}

	var me *engine.Error
	if errors.As(err, &me) {
		body.Message = me.Message
		body.KnockID = me.KnockID
	}
	switch {
	case errors.Is(err, identity.ErrReservedParticipant):
		body.Code = string(engine.ErrCodeInvalidArgument)
	case errors.Is(err, identity.ErrUnknownParticipant):
		body.Code = "UNKNOWN_PARTICIPANT"
	case errors.Is(err, identity.ErrAlreadyRegistered):
		body.Code = "ALREADY_REGISTERED"
	case status == http.StatusInternalServerError:
		body.Code = "INTERNAL"
		body.Message = "internal error"
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}

func (s *Server) badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": errorBody{
		Code:    string(engine.ErrCodeInvalidArgument),
		Message: msg,
	}})
}
