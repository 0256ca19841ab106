package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/voyago/voyago/internal/ai"
	"github.com/voyago/voyago/internal/common"
	"github.com/voyago/voyago/internal/convo"
	"github.com/voyago/voyago/internal/httpapi/middleware"
)

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

// failTurnErr maps service errors onto the status taxonomy: caller mistakes
// are 4xx, backend trouble is 502/503, storage trouble is 500.
func failTurnErr(c *gin.Context, err error) {
	var vErr *convo.ValidationError
	if errors.As(err, &vErr) {
		common.Fail(c, http.StatusBadRequest, 10010, vErr.Msg)
		return
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		common.Fail(c, http.StatusNotFound, 40402, "session not found")
		return
	}
	var netErr *ai.NetworkError
	if errors.As(err, &netErr) {
		log.Printf("[chat] backend unreachable: %v", err)
		common.Fail(c, http.StatusServiceUnavailable, 50301, "generation backend unreachable")
		return
	}
	var genErr *ai.GenerationError
	if errors.As(err, &genErr) {
		log.Printf("[chat] generation failed: %v", err)
		common.Fail(c, http.StatusBadGateway, 50201, "generation failed")
		return
	}
	log.Printf("[chat] internal error: %v", err)
	common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
}

func (h *Handler) CreateChatSession(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	sess, err := h.Convo.CreateSession(c.Request.Context(), uid)
	if err != nil {
		failTurnErr(c, err)
		return
	}

	common.OK(c, gin.H{
		"session_id": sess.SessionID,
		"title":      sess.Title,
	})
}

type sendTurnReq struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message" binding:"required"`
}

// SendTurn runs one full conversational turn. An empty session_id starts a
// new session.
func (h *Handler) SendTurn(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req sendTurnReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	res, err := h.Convo.ProcessTurn(c.Request.Context(), uid, req.SessionID, req.Message)
	if err != nil {
		failTurnErr(c, err)
		return
	}

	common.OK(c, res)
}

func (h *Handler) ListChatSessions(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	sessions, err := h.Convo.ListSessions(c.Request.Context(), uid)
	if err != nil {
		failTurnErr(c, err)
		return
	}

	common.OK(c, gin.H{"sessions": sessions})
}

func (h *Handler) GetChatSession(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	sessionID := c.Param("session_id")
	sess, msgs, err := h.Convo.GetSession(c.Request.Context(), uid, sessionID)
	if err != nil {
		failTurnErr(c, err)
		return
	}

	common.OK(c, gin.H{
		"session":  sess,
		"messages": msgs,
	})
}

type patchSessionReq struct {
	Title    *string `json:"title"`
	Archived *bool   `json:"archived"`
}

func (h *Handler) PatchChatSession(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req patchSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Title == nil && req.Archived == nil {
		common.Fail(c, http.StatusBadRequest, 10011, "nothing to update")
		return
	}

	sessionID := c.Param("session_id")
	sess, err := h.Convo.PatchSession(c.Request.Context(), uid, sessionID, req.Title, req.Archived)
	if err != nil {
		failTurnErr(c, err)
		return
	}

	common.OK(c, gin.H{"session": sess})
}
