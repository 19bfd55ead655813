// Package transport defines the I/O boundary the cache core calls
// into: the core performs no network I/O itself and instead calls an
// application-supplied Http/Ws pair shaped by the contract here. This
// package carries that contract plus concrete net/http and
// gorilla/websocket adapters.
package transport

import "context"

// HttpContext mirrors spec §6's HttpContext exactly.
type HttpContext struct {
	OperationType string // "query" | "mutation"
	Query         string
	Variables     map[string]interface{}
	Meta          map[string]interface{}
}

// WsContext mirrors spec §6's WsContext.
type WsContext struct {
	Query     string
	Variables map[string]interface{}
}

// Result is the {data, error} pair every Http call and every Ws Next
// resolves with -- never a raised error, per spec §7 ("Network errors
// ... are propagated as result values, not raised").
type Result struct {
	Data  map[string]interface{}
	Error error
}

// HttpFunc executes one query or mutation against the network.
type HttpFunc func(ctx context.Context, hctx HttpContext) Result

// Observer is the {next, error, complete} callback set a Ws
// subscription is driven with.
type Observer struct {
	Next     func(Result)
	Error    func(error)
	Complete func()
}

// Subscription is the disposer returned by Conn.Subscribe.
type Subscription interface {
	Unsubscribe()
}

// Conn is what a WsFunc call returns: something observers can subscribe
// to, spec §6 "an observable with next/error/complete".
type Conn interface {
	Subscribe(observer Observer) Subscription
}

// WsFunc opens one subscription stream.
type WsFunc func(ctx context.Context, wctx WsContext) Conn

// Transport bundles both boundary collaborators (spec §6
// "transport: { http(ctx) ..., ws?(ctx) ... }"). Ws may be nil; calling
// ExecuteSubscription without one raises ConfigurationError.
type Transport struct {
	Http HttpFunc
	Ws   WsFunc
}
