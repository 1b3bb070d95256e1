package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pliu/quasar-chat/internal/apperr"
	"github.com/pliu/quasar-chat/internal/middleware"
	"github.com/pliu/quasar-chat/internal/models"
	"github.com/pliu/quasar-chat/internal/service"
	"github.com/pliu/quasar-chat/internal/ws"
)

type Deps struct {
	Users    *service.UserService
	Messages *service.MessageService
	Auth     *service.Authenticator
	Store    Pinger

	Hub        *ws.Hub
	Dispatcher *ws.Dispatcher

	Logger      *slog.Logger
	CORSOrigins []string
	StaticDir   string
}

// NewRouter wires every endpoint and wraps the router in the middleware
// chain. The chain wraps the whole router so CORS preflights and
// unmatched routes pass through it too.
func NewRouter(d Deps) http.Handler {
	r := mux.NewRouter()

	authHandler := &AuthHandler{Auth: d.Auth, Logger: d.Logger}
	r.HandleFunc("/authentication", authHandler.Create).Methods(http.MethodPost)
	r.HandleFunc("/authentication", authHandler.Remove).Methods(http.MethodDelete)

	users := &Resource[models.UserInput, *models.User]{Service: d.Users, Logger: d.Logger}
	users.Mount(r, "/"+service.UsersPath)
	messages := &Resource[models.MessageInput, *models.Message]{Service: d.Messages, Logger: d.Logger}
	messages.Mount(r, "/"+service.MessagesPath)

	health := &HealthHandler{Store: d.Store, Logger: d.Logger}
	r.HandleFunc("/healthz", health.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", health.Readyz).Methods(http.MethodGet)

	r.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(d.Hub, d.Dispatcher, w, r)
	})

	r.NotFoundHandler = notFound(d)

	var h http.Handler = r
	h = middleware.BearerToken(h)
	h = middleware.CORS(d.CORSOrigins)(h)
	h = middleware.Logger(d.Logger)(h)
	h = middleware.Recoverer(d.Logger)(h)
	h = middleware.RequestID(h)
	return h
}

// notFound answers unmatched routes. With a static dir, GET and HEAD fall
// back to the single-page app; every other method gets a NotFound payload.
func notFound(d Deps) http.Handler {
	var spa http.Handler
	if d.StaticDir != "" {
		spa = Static(d.StaticDir)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if spa != nil && (r.Method == http.MethodGet || r.Method == http.MethodHead) {
			spa.ServeHTTP(w, r)
			return
		}
		writeError(w, r, d.Logger, apperr.NotFound("Page not found"))
	})
}
