// Package transport defines the lifecycle contract the proxy's
// listeners run under, letting the main server and the metrics server
// start and stop uniformly regardless of how many transports a given
// deployment runs. Grounded on tavern's transport.Server, trimmed of
// the kratos app registry it otherwise plugs into (this engine starts
// its transports directly from cmd/proxycached, see DESIGN.md).
package transport

import "context"

// Server is anything with an independent listen/serve lifecycle.
type Server interface {
	Start(context.Context) error
	Stop(context.Context) error
}

// AppContext identifies which transport a goroutine is running,
// for log lines shared across the main and metrics listeners.
type AppContext interface {
	Kind() Kind
}

// Kind names a transport (e.g. "http", "metrics").
type Kind string

func (k Kind) String() string {
	return string(k)
}

type appContextKey struct{}

type simpleAppContext struct {
	kind Kind
}

func (c simpleAppContext) Kind() Kind {
	return c.kind
}

// NewContext attaches an AppContext identifying the running transport.
func NewContext(ctx context.Context, kind Kind) context.Context {
	return context.WithValue(ctx, appContextKey{}, simpleAppContext{kind: kind})
}

// FromContext retrieves the AppContext attached by NewContext, or nil
// if none was attached.
func FromContext(ctx context.Context) AppContext {
	v, _ := ctx.Value(appContextKey{}).(AppContext)
	return v
}
