// Package engine provides the wazero-backed loader facility.
//
// A Loader owns one wazero runtime. Instantiate compiles a core module,
// provides the WASI preview1 host module when the binary imports it, and
// instantiates the module with start functions disabled. Run then calls
// the configured entry export (default "run") exactly once.
//
//	ld, err := engine.New(ctx, &engine.Config{EnableThreads: true})
//	if err != nil {
//	    return err
//	}
//	defer ld.Close(ctx)
//
//	inst, err := ld.Instantiate(ctx, wasmBytes)
//	if err != nil {
//	    return err
//	}
//	defer inst.Close(ctx)
//	err = ld.Run(ctx, inst)
//
// # Exit status
//
// WASI guests end by calling proc_exit. Exit status 0 is treated as a
// normal return; any other status is reported as errors.KindExit.
//
// # Threads
//
// Config.EnableThreads turns on the WebAssembly threads proposal so that
// modules declaring shared memory and atomics compile. Atomic operations
// are guest-only; the host sees shared memory through Instance.Memory like
// any other linear memory.
//
// # Thread Safety
//
// Loader is safe for concurrent use. Instance is NOT thread-safe and
// should be used by a single goroutine.
package engine
