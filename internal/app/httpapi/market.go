package httpapi

import (
	"net/http"

	"github.com/R3E-Network/agentchat/internal/httputil"
)

func (h *handler) listMarket(w http.ResponseWriter, r *http.Request) {
	quotes, err := h.app.Market.List(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"data": quotes})
}

// marketSocket upgrades to a websocket that receives the current snapshot
// followed by every update.
func (h *handler) marketSocket(w http.ResponseWriter, r *http.Request) {
	quotes, err := h.app.Market.List(r.Context())
	if err != nil {
		h.log.WithContext(r.Context()).WithError(err).Warn("market snapshot for websocket failed")
		quotes = nil
	}
	h.app.Hub.Serve(w, r, quotes)
}
