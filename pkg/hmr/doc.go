// Package hmr implements an in-process hot module runtime.
//
// A runtime owns a Registry of modules described by compiler-supplied
// descriptors. Modules are materialized lazily, executed in dependency
// order and may later be swapped in place by the update Coordinator.
//
// # Descriptors
//
// The compiler emits a RawTable keyed by ModuleID. Each value is one of:
//
//   - true: the module is already materialized, nothing to register
//   - RawESM (or a 5-element []any tuple): encoded dependency list, export
//     names, star imports, a LoadFunc and an async flag
//   - CommonJSFunc: a body receiving the module and its CommonJS handle
//
// Dependency lists are encoded with back-references: a string names a
// module, an integer points at an earlier position of the same list.
// Decode resolves them before anything reaches the loader.
//
// # Loading
//
//	reg := hmr.NewRegistry(hmr.Options{})
//	if err := reg.RegisterTable(table); err != nil {
//	    log.Fatal(err)
//	}
//	exports, err := reg.EnsureLoaded(ctx, "app/main.go")
//
// ESM modules resolve every dependency before their body runs. CommonJS
// modules resolve lazily through Require; a circular Require observes the
// partially populated exports of the module that is still loading. ESM
// cycles observe the same object, but reading a binding that has not been
// assigned yet fails with ErrNotInitialized.
//
// # Updates
//
// The Coordinator applies update batches one generation at a time. It walks
// from every replaced module towards the root set. A path that meets a
// boundary (a self-accepting module, or one the refresh capability
// recognizes) is patched in place; a path that reaches a root without a
// boundary turns the whole batch into a full reload.
//
//	res, err := coord.Apply(ctx, hmr.Batch{Generation: 2, Modules: changed})
//	if res.Outcome == hmr.OutcomeFullReload {
//	    // ask the host to reload
//	}
package hmr
