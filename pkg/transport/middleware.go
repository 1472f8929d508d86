package transport

import "slices"

// Middleware decorates an Inferer.
type Middleware func(Inferer) Inferer

// Chain composes middlewares into one. The first one listed sees each
// request first and each response last.
func Chain(middlewares ...Middleware) Middleware {
	return func(inner Inferer) Inferer {
		for _, mw := range slices.Backward(middlewares) {
			inner = mw(inner)
		}
		return inner
	}
}
