// Package httprouter adapts github.com/julienschmidt/httprouter to the
// router.Mux/router.ParamGeter contracts.
package httprouter

import (
	"context"
	"net/http"

	"github.com/convobridge/gateway/router"
	jshttprouter "github.com/julienschmidt/httprouter"
)

// Router wraps *httprouter.Router to satisfy router.Mux.
type Router struct {
	*jshttprouter.Router
}

func New() *Router {
	r := jshttprouter.New()
	r.SaveMatchedRoutePath = false
	return &Router{r}
}

// Get registers a GET handler. Kept alongside Handle for call sites that
// only ever register GET routes.
func (r *Router) Get(path string, handler http.Handler) {
	r.Handler(http.MethodGet, path, handler)
}

// Handle satisfies router.Mux.
func (r *Router) Handle(method, path string, handler http.Handler) {
	r.Handler(method, path, handler)
}

// paramGeter implements router.ParamGeter against httprouter's context key.
type paramGeter struct{}

func (paramGeter) Get(ctx context.Context) router.Params {
	raw, _ := ctx.Value(jshttprouter.ParamsKey).(jshttprouter.Params)
	if len(raw) == 0 {
		return nil
	}
	params := make(router.Params, len(raw))
	for i, v := range raw {
		params[i] = router.Param{Key: v.Key, Value: v.Value}
	}
	return params
}

// NewParamGeter returns the router.ParamGeter for this adapter.
func NewParamGeter() router.ParamGeter {
	return paramGeter{}
}
