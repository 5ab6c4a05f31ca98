package events

import (
	"strings"
	"time"

	"github.com/zsprackett/tmux-control/internal/control"
)

// Lanes an event can arrive on.
const (
	LaneReply        = "reply"
	LaneNotification = "notification"
)

// Event is the JSON envelope pushed to web clients and written to the
// journal. Type is the header without its leading '%'.
type Event struct {
	Type    string         `json:"type"`
	Lane    string         `json:"lane,omitempty"`
	Header  string         `json:"header,omitempty"`
	Time    time.Time      `json:"time,omitzero"`
	Fields  map[string]any `json:"fields,omitempty"`
	Body    []string       `json:"body,omitempty"`
	Success *bool          `json:"success,omitempty"`
}

// Broadcaster sends events to connected web clients.
// A nil Broadcaster is safe to use -- Broadcast becomes a no-op.
type Broadcaster interface {
	Broadcast(e Event)
}

// FromControl converts a decoded control-mode event into its envelope.
func FromControl(ev control.Event, at time.Time) Event {
	e := Event{
		Type:   strings.TrimPrefix(ev.Header(), "%"),
		Header: ev.Header(),
		Time:   at,
	}
	if r, ok := ev.(*control.Reply); ok {
		ok := r.Success()
		e.Type = "reply"
		e.Lane = LaneReply
		e.Body = r.Lines()
		e.Success = &ok
		e.Fields = map[string]any{
			"number":    r.Begin.Number,
			"timestamp": r.Begin.Timestamp,
			"flags":     r.Begin.Flags,
			"end":       r.End.Token,
		}
		return e
	}
	e.Lane = LaneNotification
	e.Fields = fields(ev)
	return e
}

func fields(ev control.Event) map[string]any {
	switch n := ev.(type) {
	case *control.PaneModeChanged:
		return map[string]any{"pane": n.Pane.String()}
	case *control.WindowPaneChanged:
		return map[string]any{"window": n.Window.String(), "pane": n.Pane.String()}
	case *control.WindowClose:
		return map[string]any{"window": n.Window.String()}
	case *control.UnlinkedWindowClose:
		return map[string]any{"window": n.Window.String()}
	case *control.WindowAdd:
		return map[string]any{"window": n.Window.String()}
	case *control.UnlinkedWindowAdd:
		return map[string]any{"window": n.Window.String()}
	case *control.WindowRenamed:
		return map[string]any{"window": n.Window.String(), "name": n.Name}
	case *control.UnlinkedWindowRenamed:
		return map[string]any{"window": n.Window.String(), "name": n.Name}
	case *control.SessionChanged:
		return map[string]any{"session": n.Session.String(), "name": n.Name}
	case *control.ClientSessionChanged:
		return map[string]any{"client": n.Client, "session": n.Session.String(), "name": n.Name}
	case *control.SessionRenamed:
		return map[string]any{"session": n.Session.String(), "name": n.Name}
	case *control.SessionWindowChanged:
		return map[string]any{"session": n.Session.String(), "window": n.Window.String()}
	case *control.ClientDetached:
		return map[string]any{"client": n.Client}
	case *control.Continue:
		return map[string]any{"pane": n.Pane.String()}
	case *control.Pause:
		return map[string]any{"pane": n.Pane.String()}
	case *control.Exit:
		if n.Reason == "" {
			return nil
		}
		return map[string]any{"reason": n.Reason}
	case *control.Output:
		return map[string]any{"pane": n.Pane.String(), "data": string(n.Data())}
	case *control.ExtendedOutput:
		return map[string]any{"pane": n.Pane.String(), "age": n.Age, "rest": string(n.Rest)}
	case *control.LayoutChange:
		return map[string]any{
			"window":         n.Window.String(),
			"layout":         n.Layout,
			"visible_layout": n.VisibleLayout,
			"flags":          n.Flags,
		}
	case *control.SubscriptionChanged:
		f := map[string]any{
			"name":    n.Name,
			"session": n.Session.String(),
			"window":  "-",
			"index":   n.WindowIndex,
			"pane":    "-",
			"rest":    string(n.Rest),
		}
		if n.Window != control.NoWindow {
			f["window"] = n.Window.String()
		}
		if n.Pane != control.NoPane {
			f["pane"] = n.Pane.String()
		}
		return f
	case *control.ConfigError:
		return map[string]any{"message": n.Message}
	case *control.Message:
		return map[string]any{"text": n.Text}
	case *control.PasteBufferChanged:
		return map[string]any{"name": n.Name}
	case *control.PasteBufferDeleted:
		return map[string]any{"name": n.Name}
	}
	return nil
}
