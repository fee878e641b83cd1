package statushandler

import (
	"encoding/json"
	"github.com/OliverSchlueter/goutils/problems"
	"github.com/OliverSchlueter/mailcmd/internal/scheduler"
	"net/http"
	"strconv"
)

type History interface {
	List() []scheduler.Record
	Get(id string) (scheduler.Record, bool)
}

type Handler struct {
	history History
}

func New(history History) *Handler {
	return &Handler{
		history: history,
	}
}

func (h *Handler) Register(prefix string, mux *http.ServeMux) {
	mux.HandleFunc(prefix+"/runs", h.handleRuns)
	mux.HandleFunc(prefix+"/runs/{id}", h.handleRun)
}

func (h *Handler) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getRuns(w, r)
	default:
		problems.MethodNotAllowed(r.Method, []string{http.MethodGet}).WriteToHTTP(w)
	}
}

func (h *Handler) getRuns(w http.ResponseWriter, r *http.Request) {
	runs := h.history.List()

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			problems.ValidationError("limit", "Limit must be a non-negative number").WriteToHTTP(w)
			return
		}
		if limit < len(runs) {
			runs = runs[:limit]
		}
	}

	data, err := json.Marshal(runs)
	if err != nil {
		problems.InternalServerError("Error marshalling runs").WriteToHTTP(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	switch r.Method {
	case http.MethodGet:
		h.getRun(w, r, id)
	default:
		problems.MethodNotAllowed(r.Method, []string{http.MethodGet}).WriteToHTTP(w)
	}
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request, id string) {
	run, ok := h.history.Get(id)
	if !ok {
		problems.NotFound("run", id).WriteToHTTP(w)
		return
	}

	data, err := json.Marshal(run)
	if err != nil {
		problems.InternalServerError("Error marshalling run").WriteToHTTP(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
