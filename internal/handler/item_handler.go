package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"swap-service/internal/service"
	"swap-service/internal/token"
)

// ItemHandler exposes the item listing endpoints. Reads are public,
// writes require an access token.
type ItemHandler struct {
	items  *service.ItemService
	tokens *token.Service
}

func NewItemHandler(items *service.ItemService, tokens *token.Service) *ItemHandler {
	return &ItemHandler{items: items, tokens: tokens}
}

func (h *ItemHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Get("/search", h.Search)
	r.Get("/{itemID}", h.Get)

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(h.tokens, token.Access))
		r.Post("/", h.Create)
		r.Get("/mine", h.ListMine)
		r.Patch("/{itemID}", h.Update)
		r.Delete("/{itemID}", h.Delete)
	})

	return r
}

func (h *ItemHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing credentials")
		return
	}

	var req service.ItemCreateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	item, err := h.items.Create(r.Context(), claims.Subject, &req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidItemInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create item")
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *ItemHandler) Get(w http.ResponseWriter, r *http.Request) {
	item, err := h.items.Get(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		if errors.Is(err, service.ErrItemNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load item")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *ItemHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.items.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *ItemHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing credentials")
		return
	}
	items, err := h.items.ListByOwner(r.Context(), claims.Subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *ItemHandler) Update(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing credentials")
		return
	}

	var req service.ItemUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	item, err := h.items.Update(r.Context(), claims.Subject, chi.URLParam(r, "itemID"), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrItemNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrNotItemOwner):
			writeError(w, http.StatusForbidden, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to update item")
		}
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *ItemHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing credentials")
		return
	}

	err := h.items.Delete(r.Context(), claims.Subject, chi.URLParam(r, "itemID"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrItemNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrNotItemOwner):
			writeError(w, http.StatusForbidden, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to delete item")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ItemHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q query parameter is required")
		return
	}

	items, err := h.items.Search(r.Context(), query)
	if err != nil {
		if errors.Is(err, service.ErrSearchUnavailable) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, items)
}
