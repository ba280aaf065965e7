//go:build linux

package agent

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// newWSServer builds the server that carries the frame protocol's messages
// over a websocket, so the agent can be driven on machines without a
// hypervisor. Each websocket message holds one JSON request or response; the
// length-prefix framing is unnecessary because websocket messages are already
// delimited.
func (a *Agent) newWSServer() *http.Server {
	router := httprouter.New()
	router.GET("/session", a.wsSession)
	return &http.Server{Addr: a.wsListenAddr, Handler: router}
}

func (a *Agent) wsSession(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	log := a.logger.Named("ws_session").With("RemoteAddr", r.RemoteAddr)

	wsConn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Debugf("websocket accept error: %s", err)
		return
	}

	// same exclusivity as the vsock path: one session at a time
	a.sessionMut.Lock()
	defer a.sessionMut.Unlock()

	log.Infof("session started")
	defer log.Infof("session ended")

	ctx := r.Context()
	for {
		if a.stopping() {
			wsConn.Close(websocket.StatusGoingAway, "agent shutting down")
			return
		}

		var raw json.RawMessage
		if err := wsjson.Read(ctx, wsConn, &raw); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				log.Debugf("got normal closure")
			} else {
				log.Debugf("read error: %s", err)
				wsConn.Close(websocket.StatusInternalError, "read failed")
			}
			return
		}

		resp := a.dispatch(raw)
		if err := wsjson.Write(ctx, wsConn, resp); err != nil {
			log.Debugf("write error: %s", err)
			wsConn.Close(websocket.StatusInternalError, "write failed")
			return
		}
	}
}
