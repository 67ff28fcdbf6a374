package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"querybridge/metrics"
)

// NotFoundBody is the body of every non-POST response.
const NotFoundBody = "NotFound"

// NewRouter sends POST requests on any path to bridge and answers everything else with 404.
func NewRouter(bridge http.Handler, m *metrics.Metrics) *mux.Router {
	router := mux.NewRouter()
	router.SkipClean(true)
	router.PathPrefix("/").Methods(http.MethodPost).Handler(bridge)

	notFound := NotFoundHandler(m)
	router.NotFoundHandler = notFound
	router.MethodNotAllowedHandler = notFound
	return router
}

// NotFoundHandler writes the fixed 404 response. m may be nil.
func NotFoundHandler(m *metrics.Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m != nil {
			m.IncrementNotFound()
		}
		writeBody(w, http.StatusNotFound, []byte(NotFoundBody))
		logRequest(r, http.StatusNotFound, "-")
	})
}
