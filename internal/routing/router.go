package routing

import (
	"net/http"
	"slices"
)

type Router struct {
	classifier *Classifier
	routes     map[string]map[string]routeEntry
	patterns   []patternEntry
	onPanic    func(r *http.Request, rec any)
}

type routeEntry struct {
	rc      RouteClass
	handler http.Handler
}

type patternEntry struct {
	pattern PathPattern
	methods map[string]routeEntry
}

type RouteInfo struct {
	Method string
	Path   string
	Class  RouteClass
}

func NewRouter(classifier *Classifier) *Router {
	return &Router{
		classifier: classifier,
		routes:     make(map[string]map[string]routeEntry),
	}
}

// OnPanic registers a hook called with the recovered value before the 500
// response is written.
func (r *Router) OnPanic(fn func(r *http.Request, rec any)) {
	r.onPanic = fn
}

func (r *Router) Handle(rc RouteClass, method string, path string, h http.Handler) {
	entry := routeEntry{
		rc: rc,
		handler: http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if r.onPanic != nil {
						r.onPanic(req, rec)
					}
					WriteError(w, req, rc, http.StatusInternalServerError, "internal_error", "internal error")
				}
			}()
			h.ServeHTTP(w, req)
		}),
	}

	if p, ok := parsePathPattern(path); ok {
		for i := range r.patterns {
			if r.patterns[i].pattern.raw == path {
				r.patterns[i].methods[method] = entry
				return
			}
		}
		r.patterns = append(r.patterns, patternEntry{pattern: p, methods: map[string]routeEntry{method: entry}})
		return
	}

	if r.routes[path] == nil {
		r.routes[path] = make(map[string]routeEntry)
	}
	r.routes[path][method] = entry
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	methods, ok := r.routes[req.URL.Path]
	if !ok {
		for _, p := range r.patterns {
			params, matched := p.pattern.Params(req.URL.Path)
			if !matched {
				continue
			}
			for k, v := range params {
				req.SetPathValue(k, v)
			}
			methods, ok = p.methods, true
			break
		}
	}
	if !ok {
		WriteError(w, req, r.classifier.Classify(req.URL.Path), http.StatusNotFound, "not_found", "not found")
		return
	}
	entry, ok := methods[req.Method]
	if !ok {
		WriteError(w, req, entrypointClass(methods, r.classifier.Classify(req.URL.Path)), http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	entry.handler.ServeHTTP(w, req)
}

// Routes lists every registered route, sorted by path then method.
func (r *Router) Routes() []RouteInfo {
	var out []RouteInfo
	for path, methods := range r.routes {
		for m, e := range methods {
			out = append(out, RouteInfo{Method: m, Path: path, Class: e.rc})
		}
	}
	for _, p := range r.patterns {
		for m, e := range p.methods {
			out = append(out, RouteInfo{Method: m, Path: p.pattern.raw, Class: e.rc})
		}
	}
	slices.SortFunc(out, func(a, b RouteInfo) int {
		if a.Path != b.Path {
			if a.Path < b.Path {
				return -1
			}
			return 1
		}
		if a.Method < b.Method {
			return -1
		}
		if a.Method > b.Method {
			return 1
		}
		return 0
	})
	return out
}

func entrypointClass(methods map[string]routeEntry, fallback RouteClass) RouteClass {
	for _, e := range methods {
		return e.rc
	}
	return fallback
}
