package session

import "cercasp-go/internal/cercasp"

// Notifier shows a message to the signed-in user.
type Notifier interface {
	Notify(message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(message string)

func (f NotifierFunc) Notify(message string) { f(message) }

// LogNotifier writes notices to the log at Warn.
type LogNotifier struct {
	Logger cercasp.Logger
}

func (n LogNotifier) Notify(message string) {
	n.Logger.Warn(message)
}
