package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pliu/quasar-chat/internal/hooks"
)

// Service is the six-method service shape exposed over REST. T is the
// writable input and R the returned record.
type Service[T, R any] interface {
	Find(ctx context.Context, params *hooks.Params) ([]R, error)
	Get(ctx context.Context, id string, params *hooks.Params) (R, error)
	Create(ctx context.Context, data T, params *hooks.Params) (R, error)
	Update(ctx context.Context, id string, data T, params *hooks.Params) (R, error)
	Patch(ctx context.Context, id string, data T, params *hooks.Params) (R, error)
	Remove(ctx context.Context, id string, params *hooks.Params) (R, error)
}

// Resource serves one service under a path:
//
//	GET    /path       find
//	GET    /path/{id}  get
//	POST   /path       create
//	PUT    /path/{id}  update
//	PATCH  /path/{id}  patch
//	DELETE /path/{id}  remove
type Resource[T, R any] struct {
	Service Service[T, R]
	Logger  *slog.Logger
}

// Mount registers the resource routes on r.
func (h *Resource[T, R]) Mount(r *mux.Router, path string) {
	r.HandleFunc(path, h.Find).Methods(http.MethodGet)
	r.HandleFunc(path, h.Create).Methods(http.MethodPost)
	r.HandleFunc(path+"/{id}", h.Get).Methods(http.MethodGet)
	r.HandleFunc(path+"/{id}", h.Update).Methods(http.MethodPut)
	r.HandleFunc(path+"/{id}", h.Patch).Methods(http.MethodPatch)
	r.HandleFunc(path+"/{id}", h.Remove).Methods(http.MethodDelete)
}

func (h *Resource[T, R]) Find(w http.ResponseWriter, r *http.Request) {
	params, err := restParams(r)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	records, err := h.Service.Find(r.Context(), params)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Resource[T, R]) Get(w http.ResponseWriter, r *http.Request) {
	params, err := restParams(r)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	record, err := h.Service.Get(r.Context(), mux.Vars(r)["id"], params)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Resource[T, R]) Create(w http.ResponseWriter, r *http.Request) {
	var data T
	if err := decodeJSON(r, &data); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	params, err := restParams(r)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	record, err := h.Service.Create(r.Context(), data, params)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (h *Resource[T, R]) Update(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, h.Service.Update)
}

func (h *Resource[T, R]) Patch(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, h.Service.Patch)
}

func (h *Resource[T, R]) write(w http.ResponseWriter, r *http.Request, fn func(context.Context, string, T, *hooks.Params) (R, error)) {
	var data T
	if err := decodeJSON(r, &data); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	params, err := restParams(r)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	record, err := fn(r.Context(), mux.Vars(r)["id"], data, params)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Resource[T, R]) Remove(w http.ResponseWriter, r *http.Request) {
	params, err := restParams(r)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	record, err := h.Service.Remove(r.Context(), mux.Vars(r)["id"], params)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}
