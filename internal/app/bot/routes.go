package bot

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/magabrotheeeer/microanalysis-bot/internal/http-server/handlers/health"
	"github.com/magabrotheeeer/microanalysis-bot/internal/http-server/mware"
	"github.com/magabrotheeeer/microanalysis-bot/internal/http-server/response"
)

// RegisterRoutes регистрирует маршруты сервера проверки жизнеспособности.
func RegisterRoutes(r chi.Router, logger *slog.Logger, platform string, gatherer prometheus.Gatherer) {
	r.Use(
		middleware.RequestID,
		mware.Logger(logger),
		middleware.Recoverer,
	)

	r.Get("/", health.New(logger, platform).ServeHTTP)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("not found"))
	})
}
