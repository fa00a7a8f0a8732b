// debug.go: pprof debug routes served next to /metrics
package telemetry

import (
	"net/http"
	"net/http/pprof"
)

const debugPath = "/debug/pprof/"

// RegisterDebugHandlers adds pprof routes to mux. The engine pump and the
// client timer are the goroutines worth profiling; block and mutex
// profiles only carry data when their rates are enabled.
func RegisterDebugHandlers(mux *http.ServeMux) {
	mux.HandleFunc(debugPath, pprof.Index)
	mux.HandleFunc(debugPath+"cmdline", pprof.Cmdline)
	mux.HandleFunc(debugPath+"profile", pprof.Profile)
	mux.HandleFunc(debugPath+"symbol", pprof.Symbol)
	mux.HandleFunc(debugPath+"trace", pprof.Trace)
	for _, name := range []string{"allocs", "goroutine", "heap", "threadcreate", "block", "mutex"} {
		mux.Handle(debugPath+name, pprof.Handler(name))
	}
}
