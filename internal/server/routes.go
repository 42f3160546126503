package server

import (
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/amalgammas/link/internal/metrics"
	"github.com/amalgammas/link/internal/room"
	"github.com/amalgammas/link/internal/signaling"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Options configures the HTTP surface.
type Options struct {
	// BaseURL is the public origin used when minting room links.
	BaseURL string

	// AllowedOrigins restricts cross-origin API and websocket access.
	// Empty means any origin.
	AllowedOrigins []string

	// ICEServers are handed to the browser endpoint.
	ICEServers []string
}

// Status is the liveness payload served on "/".
type Status struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// CreatedRoom is the response to POST /api/rooms.
type CreatedRoom struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
}

type roomPage struct {
	RoomID     string
	ICEServers []string
}

type handler struct {
	rooms    *room.Registry
	hub      *signaling.Hub
	metrics  *metrics.Metrics
	opts     Options
	upgrader websocket.Upgrader
}

// NewRouter wires every route: liveness, room pages, the room minting API,
// the signaling websocket and Prometheus metrics.
func NewRouter(rooms *room.Registry, hub *signaling.Hub, m *metrics.Metrics, opts Options) http.Handler {
	h := &handler{
		rooms:   rooms,
		hub:     hub,
		metrics: m,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  logrus.StandardLogger(),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)

	allowed := opts.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/", h.status)
	r.Get("/health", h.health)
	r.Get("/room/{id}", h.roomPage)
	r.Post("/api/rooms", h.createRoom)
	r.Get("/ws", h.serveWs)
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}

	return r
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, Status{Status: "ok", Message: "link backend is running"})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Signaling server is healthy."))
}

func (h *handler) roomPage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	log := logrus.WithField("room_id", id)

	rm, ok := h.rooms.Get(id)
	if !ok {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		if err := pages.ExecuteTemplate(w, "not_found.html", nil); err != nil {
			log.WithError(err).Error("render not found page")
		}
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	page := roomPage{RoomID: rm.ID, ICEServers: h.opts.ICEServers}
	if err := pages.ExecuteTemplate(w, "room.html", page); err != nil {
		log.WithError(err).Error("render room page")
	}
}

func (h *handler) createRoom(w http.ResponseWriter, r *http.Request) {
	rm := h.rooms.Create()
	h.metrics.RoomCreated()

	logrus.WithField("room_id", rm.ID).Info("room created via api")

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, CreatedRoom{
		ID:        rm.ID,
		URL:       room.Link(h.opts.BaseURL, rm.ID),
		CreatedAt: rm.CreatedAt,
	})
}

// serveWs upgrades the request and starts the connection's pumps.
func (h *handler) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("failed to upgrade connection")
		return
	}

	client := signaling.NewClient(h.hub, conn)
	if !h.hub.Register(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Native clients send no Origin header.
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
