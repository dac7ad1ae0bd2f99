package editsession

import (
	"context"
	"log/slog"
)

// NoticeKind classifies user-facing notifications.
type NoticeKind string

const (
	NoticeLockDenied         NoticeKind = "lock_denied"
	NoticeLockNoPermission   NoticeKind = "lock_no_permission"
	NoticeLockFailed         NoticeKind = "lock_failed"
	NoticeLockLost           NoticeKind = "lock_lost"
	NoticeValidationFailed   NoticeKind = "validation_failed"
	NoticeAutosaveFailed     NoticeKind = "autosave_failed"
	NoticeAutosaveRecovered  NoticeKind = "autosave_recovered"
	NoticeSaved              NoticeKind = "saved"
	NoticeSaveFailed         NoticeKind = "save_failed"
	NoticeUnexpectedNoChange NoticeKind = "unexpected_no_change"
)

// Severity selects between a blocking dialog and a passive toast.
type Severity int

const (
	Toast Severity = iota
	Blocking
)

func (s Severity) String() string {
	if s == Blocking {
		return "blocking"
	}
	return "toast"
}

// Notice is one user-facing notification.
type Notice struct {
	Kind     NoticeKind
	Severity Severity
	FieldID  string
	Status   int
	Message  string
	Err      error
}

// Notifier surfaces notices to the user.
type Notifier interface {
	Notify(n Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

// LogNotifier writes notices to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(n Notice) {
	level := slog.LevelInfo
	if n.Severity == Blocking {
		level = slog.LevelWarn
	}
	attrs := []slog.Attr{
		slog.String("kind", string(n.Kind)),
		slog.String("severity", n.Severity.String()),
	}
	if n.FieldID != "" {
		attrs = append(attrs, slog.String("field_id", n.FieldID))
	}
	if n.Status != 0 {
		attrs = append(attrs, slog.Int("status", n.Status))
	}
	if n.Err != nil {
		attrs = append(attrs, slog.String("error", n.Err.Error()))
	}
	l.Logger.LogAttrs(context.Background(), level, n.Message, attrs...)
}

// Navigator receives the redirect issued by a save-and-close.
type Navigator interface {
	Navigate(url string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(url string)

func (f NavigatorFunc) Navigate(url string) { f(url) }

type noopNavigator struct{}

func (noopNavigator) Navigate(string) {}
