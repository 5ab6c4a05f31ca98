package webserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zsprackett/tmux-control/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

type wsClientMsg struct {
	Type    string `json:"type"` // "command"
	ID      string `json:"id"`   // echoed back on the result
	Command string `json:"command"`
}

type wsResult struct {
	Type    string   `json:"type"` // "result"
	ID      string   `json:"id,omitempty"`
	Success bool     `json:"success"`
	Output  []string `json:"output,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// handleWS streams every broadcast event to the client as a JSON text
// message and runs {"type":"command"} messages through the control
// client. All writes happen on this goroutine.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := make(chan events.Event, 64)
	s.addClient(ch)
	defer s.removeClient(ch)

	results := make(chan wsResult, 8)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg wsClientMsg
			if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != "command" {
				continue
			}
			res := wsResult{Type: "result", ID: msg.ID}
			if s.ctl == nil {
				res.Error = "no control client"
			} else if resp, _, err := s.exec(r.Context(), msg.Command); err != nil {
				res.Error = err.Error()
			} else {
				res.Success, res.Output = resp.Success, resp.Output
			}
			select {
			case results <- res:
			case <-r.Context().Done():
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		var err error
		select {
		case <-readDone:
			return
		case e := <-ch:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			err = conn.WriteJSON(e)
		case res := <-results:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			err = conn.WriteJSON(res)
		case <-ping.C:
			err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
		}
		if err != nil {
			return
		}
	}
}
