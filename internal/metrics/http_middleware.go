package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// HTTPMiddleware снимает счётчик и тайминг на каждый запрос.
// Метка route — шаблон chi, а не сырой URL, чтобы не раздувать кардинальность.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		start := time.Now()
		next.ServeHTTP(ww, r)

		ObserveHTTPRequest(r.Method, routeLabel(r), strconv.Itoa(ww.Status()), time.Since(start))
	})
}

// routeLabel — шаблон совпавшего маршрута; вне chi-контекста (404 и т.п.)
// остаётся путь как есть.
func routeLabel(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
