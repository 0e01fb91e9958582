package call

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"medipredict-backend/internal/domain"
	"medipredict-backend/internal/signaling"
	"medipredict-backend/pkg/constants"
	apperrors "medipredict-backend/pkg/errors"
	"medipredict-backend/pkg/logger"
	"medipredict-backend/pkg/pagination"
	"medipredict-backend/pkg/response"
)

// HistoryReader looks up finished calls by participant
type HistoryReader interface {
	GetByParticipant(ctx context.Context, participantID string, limit, offset int) ([]*domain.CallRecord, error)
}

// PresenceLookup resolves the live presence entry of a participant
type PresenceLookup interface {
	Entry(participantID string) (signaling.PresenceEntry, bool)
}

// Handler serves call history and presence reads
type Handler struct {
	history  HistoryReader
	presence PresenceLookup
}

// NewHandler creates a new call handler. history may be nil when the call
// store is unavailable; history reads then answer 503.
func NewHandler(history HistoryReader, presence PresenceLookup) *Handler {
	return &Handler{
		history:  history,
		presence: presence,
	}
}

// PresenceResponse is the public view of a participant's presence
type PresenceResponse struct {
	ParticipantID string                `json:"participant_id"`
	Status        domain.PresenceStatus `json:"status"`
	Role          domain.Role           `json:"role,omitempty"`
}

// RegisterRoutes mounts the handler under group
func (h *Handler) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("/calls/history", h.GetHistory)
	group.GET("/presence/:participant_id", h.GetPresence)
}

// GetHistory lists the calls of a participant, newest first
// GET /v1/calls/history?participant_id=&limit=&offset=
func (h *Handler) GetHistory(c *gin.Context) {
	participantID := domain.NormalizeID(c.Query("participant_id"))
	caller := c.GetString("participant_id")
	if participantID == "" {
		participantID = caller
	}
	if participantID == "" {
		response.ValidationError(c, "participant_id is required")
		return
	}
	if len(participantID) > constants.MaxParticipantIDLength {
		response.ValidationError(c, "participant_id is too long")
		return
	}
	// Authenticated callers only see their own calls
	if caller != "" && caller != participantID {
		response.Forbidden(c, "Cannot read another participant's calls")
		return
	}

	page, err := pagination.Parse(c.Query("limit"), c.Query("offset"))
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	if h.history == nil {
		response.FromError(c, apperrors.ServiceUnavailableError("Call history is unavailable"))
		return
	}

	records, err := h.history.GetByParticipant(c.Request.Context(), participantID, page.Limit, page.Offset)
	if err != nil {
		logger.FromContext(c.Request.Context()).Error("Failed to read call history",
			zap.String("participant_id", participantID),
			zap.Error(err))
		response.FromError(c, apperrors.DatabaseError(err))
		return
	}

	response.Paginated(c, records, response.Page{
		Limit:  page.Limit,
		Offset: page.Offset,
		Count:  len(records),
	})
}

// GetPresence reports whether a participant is currently connected
// GET /v1/presence/:participant_id
func (h *Handler) GetPresence(c *gin.Context) {
	participantID := domain.NormalizeID(c.Param("participant_id"))
	if participantID == "" {
		response.ValidationError(c, "participant_id is required")
		return
	}

	out := PresenceResponse{
		ParticipantID: participantID,
		Status:        domain.PresenceOffline,
	}
	if entry, ok := h.presence.Entry(participantID); ok {
		out.Status = domain.PresenceOnline
		out.Role = entry.Role
	}

	response.Success(c, 200, out)
}
