// Package wasmboot loads a compiled WebAssembly binary into a Go host and
// runs its entry point once, when the host's load event fires.
//
// # Architecture Overview
//
//	wasmboot/           Root package with the host-side Memory interfaces
//	├── bootstrap/      Load-event handler: check loader, fetch, instantiate, run
//	├── lifecycle/      Single-shot load event
//	├── artifact/       Artifact path resolution, fetching and header checks
//	├── engine/         wazero-backed loader facility
//	├── config/         TOML and flag configuration
//	├── errors/         Structured error types for diagnostics
//	└── cmd/wasmboot/   Command-line host
//
// # Quick Start
//
//	ld, err := engine.New(ctx, &engine.Config{EnableThreads: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ld.Close(ctx)
//
//	src, err := artifact.Resolve("https://example.com/app/", "pkg/shared_memory_bg.wasm")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	hook := lifecycle.New(logger)
//	boot := bootstrap.New(ld, src, bootstrap.NewLogSink(logger))
//	_ = hook.OnLoad("wasm", boot.Handler())
//	hook.Fire(ctx)
//	outcome := boot.Wait()
//
// The bootstrap never returns an error to the event source. Failures are
// logged through the sink and are also available on the Outcome.
package wasmboot
