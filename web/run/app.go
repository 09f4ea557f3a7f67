// Package webapp serves the read-only query interface over HTTP. It only
// ever reads the store; the scan writer keeps exclusive ownership of the
// write transaction.
package webapp

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-hclog"

	"github.com/gallonr/server-analyzer/models"
	"github.com/gallonr/server-analyzer/store"
)

type WebApp struct {
	Store     *store.Store
	AppConfig *models.AppConfig
	Log       hclog.Logger
}

func NewWebApp(st *store.Store, cfg *models.AppConfig, log hclog.Logger) *WebApp {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &WebApp{Store: st, AppConfig: cfg, Log: log.Named("web")}
}

func (webapp *WebApp) GetListenAddr() string {
	port := 8080
	if webapp.AppConfig != nil && webapp.AppConfig.Server.Port > 0 {
		port = webapp.AppConfig.Server.Port
	}
	return fmt.Sprintf(":%d", port)
}

func (webapp *WebApp) GetRouter() http.Handler {
	return router(webapp)
}

func (webapp *WebApp) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		webapp.Log.Error("failed to encode response", "error", err)
	}
}

func (webapp *WebApp) writeError(w http.ResponseWriter, status int, msg string) {
	webapp.writeJSON(w, status, map[string]string{"error": msg})
}
