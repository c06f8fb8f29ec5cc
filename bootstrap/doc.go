// Package bootstrap wires a compiled WebAssembly binary into a host.
//
// A Bootstrapper runs a fixed two-branch sequence when the host's load
// event fires:
//
//	loader missing  -> report "loader facility is not defined", stop
//	loader present  -> fetch artifact -> Loader.Instantiate -> Loader.Run
//
// The loader facility is passed in explicitly rather than looked up from
// ambient state. Every failure in the asynchronous chain (fetch, compile,
// instantiate, entry execution, or a panic in any of them) is converted to
// a single *errors.Error and handed to the Sink exactly once. Nothing is
// retried and nothing escapes to the caller.
//
// # Usage
//
//	hook := lifecycle.New()
//	boot := bootstrap.New(loader, source, bootstrap.NewLogSink(logger))
//	hook.OnLoad("wasm", boot.Handler())
//	hook.Fire(ctx)
//	outcome := boot.Wait()
//
// Run can also be called directly; given the same loader and source it
// takes the same branch as the event-driven path.
package bootstrap
