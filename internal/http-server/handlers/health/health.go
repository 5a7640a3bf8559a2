// Package health отдаёт статус процесса для платформы хостинга.
package health

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

// RunningStatus значение поля status, пока процесс жив.
const RunningStatus = "MicroAnalysis Bot is Running"

// Body тело ответа.
type Body struct {
	Status   string `json:"status"`
	Platform string `json:"platform"`
}

// Handler обработчик GET /.
type Handler struct {
	log      *slog.Logger
	platform string
}

// New создаёт Handler.
func New(log *slog.Logger, platform string) *Handler {
	return &Handler{
		log:      log,
		platform: platform,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.health"

	h.log.Debug("health check",
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	render.Status(r, http.StatusOK)
	render.JSON(w, r, Body{
		Status:   RunningStatus,
		Platform: h.platform,
	})
}
