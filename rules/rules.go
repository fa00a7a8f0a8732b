//go:build ruleguard

// Package gorules contains project lint rules for golangci-lint via ruleguard.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// RealtimeNoLogging flags logging from files whose code runs inside the
// host audio callback or the lock-free ring. Those paths must not block.
func RealtimeNoLogging(m dsl.Matcher) {
	m.Match(`GetLogger()`, `logger.Global()`).
		Where(m.File().Name.Matches(`^(audio_ring|command_queue|status|pitch)\.go$`)).
		Report("real-time path must not log; count the event and report it from the pump or the client timer")
}

// RealtimeNoFmt flags string formatting on the real-time path, which
// allocates.
func RealtimeNoFmt(m dsl.Matcher) {
	m.Match(`fmt.$_($*_)`).
		Where(m.File().Name.Matches(`^(audio_ring|pitch)\.go$`)).
		Report("fmt allocates; keep it off the real-time path")
}

// EnhancedErrorComponent requires a component on errors built outside
// the conf package, so telemetry can group them.
func EnhancedErrorComponent(m dsl.Matcher) {
	m.Match(
		`errors.New($e).Category($c).Build()`,
		`errors.Newf($*args).Category($c).Build()`,
		`errors.New($e).Category($c).Context($*ctx).Build()`,
		`errors.Newf($*args).Category($c).Context($*ctx).Build()`,
	).
		Where(!m.File().PkgPath.Matches(`/internal/conf$`)).
		Report("set .Component(...) on enhanced errors")
}

// WaitGroupGo prefers wg.Go over a manual Add/Done pair.
func WaitGroupGo(m dsl.Matcher) {
	m.Match(`$wg.Add(1); go func() { defer $wg.Done(); $*body }()`).
		Where(m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Is("sync.WaitGroup")).
		Report("use $wg.Go(func() { $body })").
		Suggest("$wg.Go(func() { $body })")
}

// TestingContext prefers t.Context() in tests so work is cancelled when
// the test ends.
func TestingContext(m dsl.Matcher) {
	m.Match(`context.Background()`, `context.TODO()`).
		Where(m.File().Name.Matches(`_test\.go$`)).
		Report("use t.Context() in tests")
}
