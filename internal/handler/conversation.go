package handler

import (
	"context"
	"net/http"

	"github.com/networkup/chat/internal/logger"
	"github.com/networkup/chat/internal/middleware"
	"github.com/networkup/chat/internal/model"
)

// ConversationService: операции над диалогами, нужные HTTP-слою.
type ConversationService interface {
	FindOrCreateIndividual(ctx context.Context, a, b int64) (*model.Conversation, bool, error)
	CreateGroup(ctx context.Context, creator int64, name string, memberIDs []int64) (*model.Conversation, error)
	ListConversations(ctx context.Context, identityID int64) ([]model.ConversationSummary, error)
	ListMessages(ctx context.Context, conversationID, requester int64) ([]model.Message, int64, error)
	ActiveParticipantIDs(ctx context.Context, conversationID int64) ([]int64, error)
}

// Broadcaster доставляет события в комнаты WebSocket (реализуется ws.Hub).
type Broadcaster interface {
	BroadcastRead(ctx context.Context, conversationID, readerID int64) error
	JoinConversation(ctx context.Context, conv *model.Conversation, identityIDs []int64) error
}

type ConversationHandler struct {
	svc ConversationService
	hub Broadcaster
}

func NewConversationHandler(svc ConversationService, hub Broadcaster) *ConversationHandler {
	return &ConversationHandler{svc: svc, hub: hub}
}

type CreateIndividualRequest struct {
	IdentityID int64 `json:"identityId" validate:"required,gt=0"`
}

type CreateGroupRequest struct {
	Name      string  `json:"name" validate:"max=200"`
	MemberIDs []int64 `json:"memberIds" validate:"required,min=1,dive,gt=0"`
}

type ConversationResponse struct {
	Conversation *model.Conversation `json:"conversation"`
	WasExisting  bool                `json:"wasExisting"`
}

func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListConversations(r.Context(), middleware.GetIdentityID(r.Context()))
	if err != nil {
		writeServiceError(w, r, "conversations.List", err)
		return
	}
	if list == nil {
		list = []model.ConversationSummary{}
	}
	writeJSON(w, http.StatusOK, list)
}

// CreateIndividual возвращает существующий диалог (200) или создаёт новый (201).
func (h *ConversationHandler) CreateIndividual(w http.ResponseWriter, r *http.Request) {
	var req CreateIndividualRequest
	if !decodeBody(w, r, &req) {
		return
	}
	me := middleware.GetIdentityID(r.Context())
	conv, existing, err := h.svc.FindOrCreateIndividual(r.Context(), me, req.IdentityID)
	if err != nil {
		writeServiceError(w, r, "conversations.CreateIndividual", err)
		return
	}
	if existing {
		writeJSON(w, http.StatusOK, ConversationResponse{Conversation: conv, WasExisting: true})
		return
	}
	h.join(r.Context(), conv, []int64{me, req.IdentityID})
	writeJSON(w, http.StatusCreated, ConversationResponse{Conversation: conv})
}

func (h *ConversationHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if !decodeBody(w, r, &req) {
		return
	}
	conv, err := h.svc.CreateGroup(r.Context(), middleware.GetIdentityID(r.Context()), req.Name, req.MemberIDs)
	if err != nil {
		writeServiceError(w, r, "conversations.CreateGroup", err)
		return
	}
	ids, err := h.svc.ActiveParticipantIDs(r.Context(), conv.ID)
	if err != nil {
		logger.Errorf("conversations.CreateGroup participants conv=%d: %v", conv.ID, err)
	} else {
		h.join(r.Context(), conv, ids)
	}
	writeJSON(w, http.StatusCreated, ConversationResponse{Conversation: conv})
}

// join подписывает живые соединения участников на новую комнату. Ошибка relay не ломает ответ:
// соединения подпишутся лениво при первом send/read.
func (h *ConversationHandler) join(ctx context.Context, conv *model.Conversation, ids []int64) {
	if err := h.hub.JoinConversation(ctx, conv, ids); err != nil {
		logger.Errorf("conversations join room conv=%d: %v", conv.ID, err)
	}
}

// Messages отдаёт историю и помечает входящие как прочитанные.
func (h *ConversationHandler) Messages(w http.ResponseWriter, r *http.Request) {
	convID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	me := middleware.GetIdentityID(r.Context())
	msgs, flipped, err := h.svc.ListMessages(r.Context(), convID, me)
	if err != nil {
		writeServiceError(w, r, "conversations.Messages", err)
		return
	}
	if flipped > 0 {
		if err := h.hub.BroadcastRead(r.Context(), convID, me); err != nil {
			logger.Errorf("conversations.Messages broadcast read conv=%d: %v", convID, err)
		}
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}
