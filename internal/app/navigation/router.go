package navigation

import (
	"context"
	"maps"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"

	zlog "github.com/rs/zerolog/log"
)

// Route is one entry of the screen stack.
type Route struct {
	Screen string         `json:"screen"`
	Params map[string]any `json:"params,omitempty"`
}

type focusSubscription struct {
	id string
	fn FocusFunc
}

// Router is an in-memory Gateway. The top of the stack is the focused screen.
// Focus events are delivered synchronously, in subscription order, after the
// stack has changed. Concurrent navigations are serialized together with
// their notifications, so subscribers see events in stack order. A FocusFunc
// must not navigate.
type Router struct {
	// notifyMu is held from the stack change until its events are delivered.
	notifyMu sync.Mutex

	mu    sync.Mutex
	stack []Route
	subs  []focusSubscription
}

// NewRouter creates a router whose stack holds only root.
func NewRouter(root string) *Router {
	return &Router{
		stack: []Route{{Screen: root}},
	}
}

// Navigate pushes screen. Navigating to the focused screen only replaces its params.
func (r *Router) Navigate(ctx context.Context, screen string, params map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if screen == "" {
		return ErrEmptyScreen
	}

	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	top := r.stack[len(r.stack)-1]
	if top.Screen == screen {
		r.stack[len(r.stack)-1].Params = maps.Clone(params)
		r.mu.Unlock()
		zlog.Debug().Msgf("navigation: already on screen=%s", screen)
		return nil
	}
	r.stack = append(r.stack, Route{Screen: screen, Params: maps.Clone(params)})
	subs := r.subscribersLocked()
	r.mu.Unlock()

	zlog.Info().Msgf("navigation: navigate from=%s to=%s", top.Screen, screen)
	notify(subs, FocusEvent{Screen: top.Screen, Focused: false})
	notify(subs, FocusEvent{Screen: screen, Focused: true})
	return nil
}

// GoBack pops the focused screen.
func (r *Router) GoBack(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	if len(r.stack) <= 1 {
		r.mu.Unlock()
		return ErrNoHistory
	}
	popped := r.stack[len(r.stack)-1]
	r.stack = r.stack[:len(r.stack)-1]
	top := r.stack[len(r.stack)-1]
	subs := r.subscribersLocked()
	r.mu.Unlock()

	zlog.Info().Msgf("navigation: back from=%s to=%s", popped.Screen, top.Screen)
	notify(subs, FocusEvent{Screen: popped.Screen, Focused: false})
	notify(subs, FocusEvent{Screen: top.Screen, Focused: true})
	return nil
}

// Report forwards a focus change observed outside the router, such as a
// platform back gesture that leaves the screen mounted but unfocused.
func (r *Router) Report(ev FocusEvent) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	subs := r.subscribersLocked()
	r.mu.Unlock()

	zlog.Debug().Msgf("navigation: focus reported: screen=%s focused=%v", ev.Screen, ev.Focused)
	notify(subs, ev)
}

// SubscribeFocus registers fn for focus events.
func (r *Router) SubscribeFocus(fn FocusFunc) func() {
	id := uuid.New().String()

	r.mu.Lock()
	r.subs = append(r.subs, focusSubscription{id: id, fn: fn})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.subs = lo.Filter(r.subs, func(s focusSubscription, _ int) bool {
			return s.id != id
		})
	}
}

// Current returns the focused route.
func (r *Router) Current() Route {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stack[len(r.stack)-1]
}

// Screens returns the stack from root to top.
func (r *Router) Screens() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Map(r.stack, func(rt Route, _ int) string {
		return rt.Screen
	})
}

func (r *Router) subscribersLocked() []focusSubscription {
	return append([]focusSubscription(nil), r.subs...)
}

func notify(subs []focusSubscription, ev FocusEvent) {
	for _, s := range subs {
		s.fn(ev)
	}
}
