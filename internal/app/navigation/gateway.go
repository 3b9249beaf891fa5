// Package navigation provides the navigation gateway contract and an
// in-memory screen stack that reports focus changes.
package navigation

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Errors
var (
	ErrEmptyScreen = errors.New("screen name is empty")
	ErrNoHistory   = errors.New("no screen to go back to")
)

// FocusEvent reports that a screen gained or lost navigation focus.
type FocusEvent struct {
	Screen  string
	Focused bool
}

// FocusFunc receives focus events.
type FocusFunc func(FocusEvent)

// Gateway performs screen transitions and reports focus changes.
type Gateway interface {
	GoBack(ctx context.Context) error
	Navigate(ctx context.Context, screen string, params map[string]any) error
	// SubscribeFocus registers fn and returns a function that removes it.
	SubscribeFocus(fn FocusFunc) (unsubscribe func())
}
