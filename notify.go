package shopauth

import "log/slog"

// NotificationKind categorizes user facing notices
type NotificationKind string

const (
	NotifySessionExpired   NotificationKind = "session_expired"
	NotifyPermissionDenied NotificationKind = "permission_denied"
	NotifyValidationFailed NotificationKind = "validation_failed"
	NotifyNotFound         NotificationKind = "not_found"
	NotifyServerError      NotificationKind = "server_error"
	NotifyNetworkError     NotificationKind = "network_error"
)

// Notification is a toast-style notice for the UI layer. Message is a default
// wording; presentation layers are free to replace it based on Kind.
type Notification struct {
	Kind    NotificationKind
	Message string
	Fields  map[string][]string
}

// Notifier lets applications surface notices their own way
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to the Notifier interface
type NotifierFunc func(n Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// NopNotifier drops every notification
type NopNotifier struct{}

func (NopNotifier) Notify(Notification) {}

// ConsoleNotifier is a development implementation that logs notices
type ConsoleNotifier struct{}

func (c *ConsoleNotifier) Notify(n Notification) {
	args := []any{"kind", n.Kind, "message", n.Message}
	for field, msgs := range n.Fields {
		args = append(args, "field."+field, msgs)
	}
	slog.Info("notification", args...)
}

// NotificationFor returns the default notice for a failure, if the failure should be
// shown at all. Deferred auth races and unsupported token grants stay invisible.
func NotificationFor(err *Error) (Notification, bool) {
	if err == nil {
		return Notification{}, false
	}
	n := Notification{Message: err.Message}
	switch err.Kind {
	case ErrorKindAuthExpired:
		n.Kind = NotifySessionExpired
		if n.Message == "" {
			n.Message = "Your session has expired. Please log in again."
		}
	case ErrorKindPermissionDenied:
		n.Kind = NotifyPermissionDenied
		if n.Message == "" {
			n.Message = "You do not have permission to perform this action."
		}
	case ErrorKindValidationFailed:
		n.Kind = NotifyValidationFailed
		n.Fields = err.Fields
		if n.Message == "" {
			n.Message = "Please check the highlighted fields."
		}
	case ErrorKindResourceNotFound:
		n.Kind = NotifyNotFound
		if n.Message == "" {
			n.Message = "The requested resource was not found."
		}
	case ErrorKindServerFault:
		n.Kind = NotifyServerError
		if n.Message == "" {
			n.Message = "Something went wrong on our side. Please try again later."
		}
	case ErrorKindTransportUnreachable:
		n.Kind = NotifyNetworkError
		n.Message = "Unable to reach the server. Check your connection."
	default:
		return Notification{}, false
	}
	return n, true
}
