package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

const unmatchedRoute = "unmatched"

// HTTPMiddleware считает запросы по шаблону маршрута chi, а не по пути:
// иначе каждый /messages/{id} давал бы отдельную серию.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			// handler wrote nothing
			status = http.StatusOK
		}
		ObserveHTTPRequest(r.Method, routeLabel(r), fmtInt(int64(status)), time.Since(start))
	})
}

func routeLabel(r *http.Request) string {
	rc := chi.RouteContext(r.Context())
	if rc == nil {
		return unmatchedRoute
	}
	if p := rc.RoutePattern(); p != "" {
		return p
	}
	return unmatchedRoute
}
