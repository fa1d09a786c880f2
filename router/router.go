// Package router defines a thin, routing-library-independent contract used
// by webhookapi so handlers can read path parameters without importing
// httprouter directly. router/httprouter provides the concrete adapter.
package router

import (
	"context"
	"net/http"
)

// Param is a single named path parameter, e.g. {Key: "sender", Value: "+1555..."}.
type Param struct {
	Key   string
	Value string
}

// Params is the ordered set of path parameters matched for a request.
type Params []Param

// ByName returns the value of the first parameter with the given name, or
// the empty string if none matches.
func (p Params) ByName(name string) string {
	for _, param := range p {
		if param.Key == name {
			return param.Value
		}
	}
	return ""
}

// ParamGeter extracts the Params a concrete router stashed on the request
// context. Each router adapter (e.g. router/httprouter) provides its own
// implementation.
type ParamGeter interface {
	Get(ctx context.Context) Params
}

// Mux is the subset of routing behavior webhookapi depends on: registering
// handlers per method and path, and serving requests.
type Mux interface {
	http.Handler
	Handle(method, path string, handler http.Handler)
}
