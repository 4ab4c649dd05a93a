// Package ws streams a PTY session over a websocket: replay first, then live
// output. Binary frames from the client are terminal input; text frames carry
// control messages.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/peterje/rootrepl/internal/logging"
	ptymgr "github.com/peterje/rootrepl/internal/pty"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type resizeMsg struct {
	Type string `json:"type"`
	Data struct {
		Rows uint16 `json:"rows"`
		Cols uint16 `json:"cols"`
	} `json:"data"`
}

type Handler struct {
	manager ptymgr.SessionManager
	log     *logging.Logger
}

func NewHandler(manager ptymgr.SessionManager, log *logging.Logger) *Handler {
	return &Handler{manager: manager, log: log.With("component", "ws")}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		http.Error(w, "missing session name", http.StatusBadRequest)
		return
	}

	sess := h.manager.Get(name)
	if sess == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", "session", name, "error", err)
		return
	}
	defer conn.Close()

	log := h.log.With("session", name)
	log.Info("client connected")

	// Output written between subscribing and the snapshot arrives on both;
	// trim drops it from the live stream.
	replay, outputCh, trim, unsub, err := ptymgr.Attach(sess)
	if err != nil {
		log.Warn("replay failed", "error", err)
		return
	}
	defer unsub()

	if len(replay) > 0 {
		if err := conn.WriteMessage(websocket.BinaryMessage, replay); err != nil {
			log.Warn("replay send failed", "error", err)
			return
		}
	}

	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for data := range outputCh {
			if data = trim.Trim(data); len(data) == 0 {
				continue
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				log.Debug("write to client failed", "error", err)
				return
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		for {
			msgType, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			switch msgType {
			case websocket.BinaryMessage:
				sess.Write(msg)
			case websocket.TextMessage:
				var resize resizeMsg
				if json.Unmarshal(msg, &resize) == nil && resize.Type == "resize" {
					if err := h.manager.Resize(name, resize.Data.Rows, resize.Data.Cols); err != nil {
						log.Debug("resize failed", "error", err)
					}
				}
			}
		}
	}()

	select {
	case <-done:
		log.Info("client disconnected")
	case <-sess.Done():
		log.Info("session ended")
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
	}

	unsub()
	conn.Close()
	wg.Wait()
}
