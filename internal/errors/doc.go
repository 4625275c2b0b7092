// Package errors provides coded, operator-facing errors for the hmr tools.
//
// Library packages return plain sentinel errors (hmr.ErrModuleNotFound,
// history.ErrGap, ...). The CLI and the dev server translate them with
// FromRuntime into an HMRError carrying a stable code, a category, an
// explanation and a hint, and print it with Format, FormatCompact or
// FormatJSON.
//
// # Error Codes
//
//   - H001-H019: runtime and update errors reported by a client
//   - E120-E139: hmr.json configuration errors
//   - E140-E159: CLI errors
//
// # Usage
//
//	err := errors.New("H002").
//	    WithModule("app/routes/index.js").
//	    WithSuggestion("Check that the manifest lists the module")
//
//	fmt.Println(err.Format())
//	// Output:
//	// ERROR H002: Module not found
//	//
//	//   app/routes/index.js
//	//
//	//   The requested module identifier is not in the registry.
//	//
//	//   Hint: Check that the manifest lists the module
package errors
