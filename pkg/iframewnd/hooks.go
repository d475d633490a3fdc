package iframewnd

import (
	"context"
	"time"
)

// UIHooks are the page signals and controls the lifecycle and the senders
// rely on. They are consumed, never implemented, by this package.
type UIHooks interface {
	LoginFormVisible() bool
	Authenticated() bool
	// InCompanionContext is true when this process is itself the companion.
	InCompanionContext() bool
	PauseAutoRefresh()
	ResumeAutoRefresh()
	ShowSpinner()
	HideSpinner()
	ShowPopup(text string)
	// WaitForToast blocks until a toast containing text appears or the
	// timeout elapses, and reports whether it appeared.
	WaitForToast(ctx context.Context, text string, timeout time.Duration) bool
}

// NopUIHooks is a headless page: always authenticated, never showing a
// login form, and every toast is considered seen.
type NopUIHooks struct{}

func (NopUIHooks) LoginFormVisible() bool   { return false }
func (NopUIHooks) Authenticated() bool      { return true }
func (NopUIHooks) InCompanionContext() bool { return false }
func (NopUIHooks) PauseAutoRefresh()        {}
func (NopUIHooks) ResumeAutoRefresh()       {}
func (NopUIHooks) ShowSpinner()             {}
func (NopUIHooks) HideSpinner()             {}
func (NopUIHooks) ShowPopup(string)         {}

func (NopUIHooks) WaitForToast(context.Context, string, time.Duration) bool { return true }

var _ UIHooks = NopUIHooks{}

// Window is an open companion.
type Window interface {
	Close() error
}

// WindowHost opens companions.
type WindowHost interface {
	Open(ctx context.Context, route string) (Window, error)
}

// Timer is a pending one-shot callback.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func systemAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
