package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/tanpawarit/lead-capture-agent/agent/agents/dialogue"
	contractx "github.com/tanpawarit/lead-capture-agent/agent/contract"
	"github.com/tanpawarit/lead-capture-agent/agent/lead"
)

const (
	maxChatBodyBytes = 64 << 10

	// Wire roles. The widget calls the assistant "model".
	wireRoleUser  = "user"
	wireRoleModel = "model"
)

type ChatService interface {
	HandleTurn(ctx context.Context, in dialogue.TurnInput) (dialogue.TurnOutput, error)
}

type historyItem struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type chatRequest struct {
	Message string        `json:"message"`
	History []historyItem `json:"history"`
	LeadID  *string       `json:"leadId"`
}

type chatResponse struct {
	Text     string  `json:"text"`
	LeadID   *string `json:"leadId"`
	DBStatus string  `json:"db_status"`
	DBError  *string `json:"db_error"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (r chatRequest) toTurnInput(now time.Time) (dialogue.TurnInput, error) {
	in := dialogue.TurnInput{
		Message: r.Message,
		History: make([]lead.Turn, 0, len(r.History)),
	}
	if r.LeadID != nil {
		in.LeadID = strings.TrimSpace(*r.LeadID)
	}
	for i, item := range r.History {
		var role lead.Role
		switch strings.ToLower(strings.TrimSpace(item.Role)) {
		case wireRoleUser:
			role = lead.RoleUser
		case wireRoleModel:
			role = lead.RoleAssistant
		default:
			return dialogue.TurnInput{}, fmt.Errorf("%w: history[%d].role must be %q or %q", contractx.ErrMalformedRequest, i, wireRoleUser, wireRoleModel)
		}
		in.History = append(in.History, lead.NewTurn(role, item.Text, now))
	}
	return in, nil
}

func newChatResponse(out dialogue.TurnOutput) chatResponse {
	resp := chatResponse{
		Text:     out.Reply,
		DBStatus: string(out.Status),
	}
	if out.LeadID != "" {
		id := out.LeadID
		resp.LeadID = &id
	}
	if out.Error != "" {
		msg := out.Error
		resp.DBError = &msg
	}
	return resp
}

func (s *Server) handleChat(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxChatBodyBytes)

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	in, err := req.toTurnInput(time.Now())
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	out, err := s.chat.HandleTurn(c.Request.Context(), in)
	if err != nil {
		if errors.Is(err, contractx.ErrMalformedRequest) {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "message is required"})
			return
		}
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("chat turn failed")
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	c.JSON(http.StatusOK, newChatResponse(out))
}
