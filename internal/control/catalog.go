package control

import "sort"

type decodeFunc func(args string) (Notification, error)

// notificationCatalog maps each oneline header to its decoder.
var notificationCatalog = map[string]decodeFunc{
	"%pane-mode-changed":       decodePaneModeChanged,
	"%window-pane-changed":     decodeWindowPaneChanged,
	"%window-close":            decodeWindowClose,
	"%unlinked-window-close":   decodeUnlinkedWindowClose,
	"%window-add":              decodeWindowAdd,
	"%unlinked-window-add":     decodeUnlinkedWindowAdd,
	"%window-renamed":          decodeWindowRenamed,
	"%unlinked-window-renamed": decodeUnlinkedWindowRenamed,
	"%session-changed":         decodeSessionChanged,
	"%client-session-changed":  decodeClientSessionChanged,
	"%session-renamed":         decodeSessionRenamed,
	"%sessions-changed":        decodeSessionsChanged,
	"%session-window-changed":  decodeSessionWindowChanged,
	"%client-detached":         decodeClientDetached,
	"%continue":                decodeContinue,
	"%pause":                   decodePause,
	"%exit":                    decodeExit,
	"%output":                  decodeOutput,
	"%extended-output":         decodeExtendedOutput,
	"%layout-change":           decodeLayoutChange,
	"%subscription-changed":    decodeSubscriptionChanged,
	"%config-error":            decodeConfigError,
	"%message":                 decodeMessage,
	"%paste-buffer-changed":    decodePasteBufferChanged,
	"%paste-buffer-deleted":    decodePasteBufferDeleted,
}

var blockStarts = map[string]bool{HeaderBegin: true}

var blockEnds = map[string]bool{HeaderEnd: true, HeaderError: true}

// IsNotificationHeader reports whether header names a oneline event.
func IsNotificationHeader(header string) bool {
	_, ok := notificationCatalog[header]
	return ok
}

// NotificationHeaders returns the catalog's headers in sorted order.
func NotificationHeaders() []string {
	out := make([]string, 0, len(notificationCatalog))
	for h := range notificationCatalog {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// DecodeNotification decodes a single notification line.
func DecodeNotification(line []byte) (Notification, error) {
	header, err := headerOf(line)
	if err != nil {
		return nil, err
	}
	decode, ok := notificationCatalog[header]
	if !ok {
		return nil, protocolError(line, "unknown notification "+header)
	}
	return decodeWith(decode, header, line)
}

func decodeWith(decode decodeFunc, header string, line []byte) (Notification, error) {
	text := string(trimNewline(line))
	args := ""
	if len(text) > len(header) {
		args = text[len(header)+1:]
	}
	n, err := decode(args)
	if err != nil {
		return nil, &ProtocolError{Line: text, Message: header + ": " + err.Error()}
	}
	return n, nil
}
