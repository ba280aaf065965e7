//go:build linux

package agent

import (
	"encoding/json"
	"net/http"
	"runtime"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newDebugServer builds the local diagnostics server. It is off unless an
// address is configured; it is not part of the host protocol.
func (a *Agent) newDebugServer() *http.Server {
	router := httprouter.New()
	router.GET("/healthz", a.debugHealthz)
	router.GET("/version", a.debugVersion)
	router.GET("/status", a.debugStatus)
	router.Handler(http.MethodGet, "/metrics",
		promhttp.HandlerFor(a.metrics.registry, promhttp.HandlerOpts{}))
	return &http.Server{Addr: a.debugListenAddr, Handler: router}
}

func (a *Agent) debugHealthz(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

func (a *Agent) debugVersion(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, struct {
		Version   string `json:"version"`
		GoVersion string `json:"go_version"`
	}{
		Version:   a.version,
		GoVersion: runtime.Version(),
	})
}

func (a *Agent) debugStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	status, err := a.selfStatus()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, status)
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "application/json")
	w.Write(b)
}
