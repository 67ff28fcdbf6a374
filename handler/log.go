package handler

import (
	"net/http"

	"github.com/sirupsen/logrus"
	"querybridge/logging"
)

var log *logrus.Logger

func init() {
	log = logging.GetLogger()
}

func logRequest(req *http.Request, status int, requestID string) {
	log.Infof("%s -- %s -- %s -- %d -- %s", req.RemoteAddr, req.Method, req.URL.Path, status, requestID)
}

func logAndReturnError(w http.ResponseWriter, r *http.Request, httpResponseStr string, code int, consoleStr ...string) {
	// consoleStr is optional.
	if len(consoleStr) > 0 {
		log.Errorln(consoleStr[0])
	} else {
		log.Errorln(httpResponseStr)
	}
	http.Error(w, httpResponseStr, code)
	logRequest(r, code, w.Header().Get(requestIDHeader))
}
