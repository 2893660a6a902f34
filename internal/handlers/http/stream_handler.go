package http

import (
	stderrors "errors"
	"net/http"
	"sync"

	"reelcast/internal/core/domain"
	"reelcast/internal/core/ports"
	"reelcast/pkg/errors"
	"reelcast/pkg/logger"
	"reelcast/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LocalStreamSource opens the capture side of a new broadcast. The service
// stops the stream on cleanup, so each broadcast gets a fresh one.
type LocalStreamSource func(streamID domain.StreamID) (ports.LocalStream, error)

// StreamHandler exposes a LiveStreamService as a local control API.
type StreamHandler struct {
	service ports.LiveStreamService
	source  LocalStreamSource
	logger  *zap.SugaredLogger

	// broadcastMu keeps the role check, source open and start of one
	// broadcast request from interleaving with another.
	broadcastMu sync.Mutex
}

func NewStreamHandler(service ports.LiveStreamService, source LocalStreamSource, logger *zap.SugaredLogger) *StreamHandler {
	return &StreamHandler{
		service: service,
		source:  source,
		logger:  logger,
	}
}

func (h *StreamHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/connect", h.Connect)
		api.POST("/disconnect", h.Disconnect)
		api.GET("/status", h.Status)

		api.POST("/broadcast", h.StartBroadcast)
		api.POST("/end", h.EndStream)
		api.DELETE("/viewers/:id", h.RemoveViewer)

		api.POST("/join", h.JoinStream)
		api.POST("/leave", h.Leave)

		api.POST("/message", h.SendMessage)
		api.POST("/like", h.SendLike)
	}
}

type participantRequest struct {
	StreamID domain.StreamID `json:"stream_id"`
	UserID   domain.UserID   `json:"user_id" binding:"required"`
	UserName string          `json:"user_name"`
}

// bind decodes and validates the body. The user name is sanitized in place.
func (r *participantRequest) bind(c *gin.Context) error {
	if err := c.ShouldBindJSON(r); err != nil {
		return err
	}
	r.UserName = validation.SanitizeText(r.UserName)
	if r.StreamID != "" {
		if err := validation.ValidateStreamID(string(r.StreamID)); err != nil {
			return err
		}
	}
	if err := validation.ValidateUserID(string(r.UserID)); err != nil {
		return err
	}
	return validation.ValidateUserName(r.UserName)
}

func (r participantRequest) participant() domain.Participant {
	return domain.Participant{UserID: r.UserID, UserName: r.UserName}
}

func (h *StreamHandler) Connect(c *gin.Context) {
	if err := h.service.Connect(c.Request.Context()); err != nil {
		_ = c.Error(serviceError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"connected": true})
}

func (h *StreamHandler) Disconnect(c *gin.Context) {
	if err := h.service.Disconnect(); err != nil {
		h.logger.Warnw("disconnect signaling transport", "error", err)
	}
	c.JSON(http.StatusOK, gin.H{"connected": false})
}

func (h *StreamHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Status())
}

func (h *StreamHandler) StartBroadcast(c *gin.Context) {
	var req participantRequest
	if err := req.bind(c); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	h.broadcastMu.Lock()
	defer h.broadcastMu.Unlock()

	if h.service.Status().Role != domain.RoleNone {
		_ = c.Error(serviceError(domain.ErrRoleConflict))
		return
	}

	streamID := req.StreamID
	if streamID == "" {
		streamID = domain.NewStreamID()
	}

	var local ports.LocalStream
	if h.source != nil {
		var err error
		local, err = h.source(streamID)
		if err != nil {
			_ = c.Error(errors.WrapError(err, errors.ErrCodeInternal, "open local media", http.StatusInternalServerError))
			return
		}
		if err := h.service.SetLocalStream(local); err != nil {
			local.Stop()
			_ = c.Error(serviceError(err))
			return
		}
	}

	c.Request = c.Request.WithContext(logger.WithStreamID(c.Request.Context(), string(streamID)))
	streamID, err := h.service.StartBroadcast(c.Request.Context(), streamID, req.participant())
	if err != nil {
		if local != nil && !stderrors.Is(err, domain.ErrRoleConflict) {
			local.Stop()
		}
		_ = c.Error(serviceError(err))
		return
	}

	c.JSON(http.StatusCreated, gin.H{"stream_id": streamID})
}

func (h *StreamHandler) EndStream(c *gin.Context) {
	if err := h.service.EndStream(c.Request.Context()); err != nil {
		_ = c.Error(serviceError(err))
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *StreamHandler) RemoveViewer(c *gin.Context) {
	viewerID := domain.SessionID(c.Param("id"))
	if err := outcomeError(h.service.RemoveViewer(viewerID)); err != nil {
		_ = c.Error(err.WithContext("viewer_id", viewerID))
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *StreamHandler) JoinStream(c *gin.Context) {
	var req participantRequest
	if err := req.bind(c); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	c.Request = c.Request.WithContext(logger.WithStreamID(c.Request.Context(), string(req.StreamID)))
	if err := h.service.JoinStream(c.Request.Context(), req.StreamID, req.participant()); err != nil {
		_ = c.Error(serviceError(err))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"stream_id": req.StreamID})
}

// Leave drops the local participation without telling the server, which is
// how a viewer leaves.
func (h *StreamHandler) Leave(c *gin.Context) {
	h.service.Cleanup()
	c.Status(http.StatusNoContent)
}

func (h *StreamHandler) SendMessage(c *gin.Context) {
	var req struct {
		Message string `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	req.Message = validation.SanitizeText(req.Message)
	if err := validation.ValidateChatMessage(req.Message); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	outcome, err := h.service.SendMessage(c.Request.Context(), req.Message)
	h.respondOutcome(c, outcome, err)
}

func (h *StreamHandler) SendLike(c *gin.Context) {
	outcome, err := h.service.SendLike(c.Request.Context())
	h.respondOutcome(c, outcome, err)
}

func (h *StreamHandler) respondOutcome(c *gin.Context, outcome domain.Outcome, err error) {
	if err != nil {
		_ = c.Error(serviceError(err))
		return
	}
	if appErr := outcomeError(outcome); appErr != nil {
		_ = c.Error(appErr)
		return
	}
	c.Status(http.StatusAccepted)
}

// serviceError maps service errors onto control API errors.
func serviceError(err error) *errors.AppError {
	switch {
	case stderrors.Is(err, domain.ErrRoleConflict):
		return errors.WrapError(err, errors.ErrCodeConflict, "a stream role is already active", http.StatusConflict)
	case stderrors.Is(err, domain.ErrNoLocalStream):
		return errors.WrapError(err, errors.ErrCodePrecondition, "no local media stream", http.StatusPreconditionFailed)
	case stderrors.Is(err, domain.ErrInvalidStreamID):
		return errors.WrapError(err, errors.ErrCodeInvalidInput, "stream_id is required", http.StatusBadRequest)
	case stderrors.Is(err, domain.ErrNotConnected):
		return errors.NewServiceUnavailableError("signaling server unreachable", err)
	default:
		return errors.WrapError(err, errors.ErrCodeInternal, err.Error(), http.StatusInternalServerError)
	}
}

func outcomeError(outcome domain.Outcome) *errors.AppError {
	switch outcome {
	case domain.OutcomeOK:
		return nil
	case domain.OutcomeRateLimited:
		return errors.NewRateLimitError()
	case domain.OutcomeNoActiveStream:
		return errors.NewPreconditionError("no active stream")
	case domain.OutcomeSessionNotFound:
		return errors.NewNotFoundError("viewer")
	case domain.OutcomeIgnored:
		return errors.NewPreconditionError("not available in the current role")
	default:
		return errors.NewConflictError(outcome.String())
	}
}
