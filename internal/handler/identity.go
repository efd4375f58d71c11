package handler

import (
	"context"
	"net/http"

	"github.com/networkup/chat/internal/middleware"
	"github.com/networkup/chat/internal/model"
)

type IdentitySearcher interface {
	SearchIdentities(ctx context.Context, requester int64, fragment string) ([]model.Identity, error)
}

type IdentityHandler struct {
	svc IdentitySearcher
}

func NewIdentityHandler(svc IdentitySearcher) *IdentityHandler {
	return &IdentityHandler{svc: svc}
}

// Search ищет пользователей по имени или email (без себя, не больше 10).
func (h *IdentityHandler) Search(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.SearchIdentities(r.Context(), middleware.GetIdentityID(r.Context()), r.URL.Query().Get("q"))
	if err != nil {
		writeServiceError(w, r, "identities.Search", err)
		return
	}
	if list == nil {
		list = []model.Identity{}
	}
	writeJSON(w, http.StatusOK, list)
}
