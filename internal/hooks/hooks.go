// Package hooks composes service calls as explicit, ordered chains of
// functions run before a call reaches the store and after it returns.
//
// A Pipeline is built once per service. Hooks registered without methods
// apply to every method; hooks run in registration order and the first
// error aborts the call.
package hooks

import (
	"context"

	"github.com/pliu/quasar-chat/internal/store"
)

// Method is a service method name.
type Method string

const (
	Find   Method = "find"
	Get    Method = "get"
	Create Method = "create"
	Update Method = "update"
	Patch  Method = "patch"
	Remove Method = "remove"
)

// Methods lists every service method.
var Methods = []Method{Find, Get, Create, Update, Patch, Remove}

// Providers
const (
	ProviderInternal = ""
	ProviderREST     = "rest"
	ProviderSocket   = "socket"
)

// Params carries per-call information that is not part of the data.
type Params struct {
	// Provider is empty for internal calls.
	Provider string

	// AccessToken is the raw bearer token presented by the caller.
	AccessToken string

	// UserID is the verified caller. It is filled by Authenticate; internal
	// callers may set it directly to act as a user.
	UserID string

	Query store.Query
}

// External reports whether the call came from a remote client.
func (p *Params) External() bool {
	return p.Provider != ProviderInternal
}

// Call describes one service method invocation.
type Call struct {
	Service string
	Method  Method
	ID      string
	Params  *Params
}

// Before transforms or validates incoming data. data is nil for find, get
// and remove.
type Before[T any] func(ctx context.Context, call *Call, data *T) error

// After transforms outgoing records. Single-record methods pass a slice of
// one.
type After[R any] func(ctx context.Context, call *Call, records []R) ([]R, error)

// Pipeline holds the before and after chains of one service.
type Pipeline[T, R any] struct {
	before map[Method][]Before[T]
	after  map[Method][]After[R]
}

func NewPipeline[T, R any]() *Pipeline[T, R] {
	return &Pipeline[T, R]{
		before: make(map[Method][]Before[T]),
		after:  make(map[Method][]After[R]),
	}
}

func methodsOrAll(methods []Method) []Method {
	if len(methods) == 0 {
		return Methods
	}
	return methods
}

// Before appends hook to the before chain of methods (all when omitted).
func (p *Pipeline[T, R]) Before(hook Before[T], methods ...Method) *Pipeline[T, R] {
	for _, m := range methodsOrAll(methods) {
		p.before[m] = append(p.before[m], hook)
	}
	return p
}

// After appends hook to the after chain of methods (all when omitted).
func (p *Pipeline[T, R]) After(hook After[R], methods ...Method) *Pipeline[T, R] {
	for _, m := range methodsOrAll(methods) {
		p.after[m] = append(p.after[m], hook)
	}
	return p
}

func (p *Pipeline[T, R]) RunBefore(ctx context.Context, call *Call, data *T) error {
	for _, hook := range p.before[call.Method] {
		if err := hook(ctx, call, data); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline[T, R]) RunAfter(ctx context.Context, call *Call, records []R) ([]R, error) {
	var err error
	for _, hook := range p.after[call.Method] {
		if records, err = hook(ctx, call, records); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// When runs hooks only for calls matching pred.
func When[R any](pred func(*Call) bool, hooks ...After[R]) After[R] {
	return func(ctx context.Context, call *Call, records []R) ([]R, error) {
		if !pred(call) {
			return records, nil
		}
		var err error
		for _, hook := range hooks {
			if records, err = hook(ctx, call, records); err != nil {
				return nil, err
			}
		}
		return records, nil
	}
}

// IsProvider matches calls coming from a remote client.
func IsProvider(call *Call) bool {
	return call.Params.External()
}

// Each applies fn to every record.
func Each[R any](fn func(R) R) After[R] {
	return func(_ context.Context, _ *Call, records []R) ([]R, error) {
		out := make([]R, len(records))
		for i, r := range records {
			out[i] = fn(r)
		}
		return out, nil
	}
}
