package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category   Category
	Message    string
	Detail     string
	Suggestion string
	DocURL     string
}

const docBase = "https://vango.dev/docs/hmr/errors/"

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Runtime Errors (H001-H009)
	// ============================================

	"H001": {
		Category:   CategoryRuntime,
		Message:    "Malformed module descriptor",
		Detail:     "A descriptor does not follow the compiler contract: a bad dependency entry, a back-reference that points forward, or an unknown shape.",
		Suggestion: "Rebuild the bundle; the manifest and the runtime are out of step",
		DocURL:     docBase + "H001",
	},
	"H002": {
		Category: CategoryRuntime,
		Message:  "Module not found",
		Detail:   "The requested module identifier is not in the registry.",
		DocURL:   docBase + "H002",
	},
	"H003": {
		Category:   CategoryRuntime,
		Message:    "Binding accessed before initialization",
		Detail:     "A module read an export of a module that is still loading. This happens inside import cycles.",
		Suggestion: "Read the binding lazily, inside a function, instead of at module top level",
		DocURL:     docBase + "H003",
	},
	"H004": {
		Category: CategoryRuntime,
		Message:  "No such export",
		Detail:   "The module does not declare the requested export name.",
		DocURL:   docBase + "H004",
	},
	"H005": {
		Category:   CategoryRuntime,
		Message:    "Synchronous module would suspend",
		Detail:     "A synchronous module body imported a module that is not loaded and is not one of its declared dependencies.",
		Suggestion: "Import the module statically or mark the importing module async",
		DocURL:     docBase + "H005",
	},
	"H006": {
		Category: CategoryRuntime,
		Message:  "Module failed to load",
		Detail:   "The module body, or one of its dependencies, returned an error or panicked. The error is cached until the module is replaced.",
		DocURL:   docBase + "H006",
	},
	"H009": {
		Category: CategoryRuntime,
		Message:  "Registry closed",
		Detail:   "The runtime has been shut down.",
		DocURL:   docBase + "H009",
	},

	// ============================================
	// Update Errors (H007-H008, H010-H012)
	// ============================================

	"H007": {
		Category:   CategoryUpdate,
		Message:    "Stale or out-of-order update",
		Detail:     "An update batch did not follow the client's current generation.",
		Suggestion: "The client reloads and resynchronises automatically",
		DocURL:     docBase + "H007",
	},
	"H008": {
		Category: CategoryUpdate,
		Message:  "Update already in progress",
		Detail:   "A batch arrived while the previous one was still being applied.",
		DocURL:   docBase + "H008",
	},
	"H010": {
		Category:   CategoryUpdate,
		Message:    "Unknown body symbol",
		Detail:     "An update names a module body the running program was not compiled with.",
		Suggestion: "Restart the program so it picks up newly compiled modules",
		DocURL:     docBase + "H010",
	},
	"H011": {
		Category: CategoryProtocol,
		Message:  "Handshake rejected",
		Detail:   "The client and the dev server disagree on the protocol version or the configuration key.",
		DocURL:   docBase + "H011",
	},
	"H012": {
		Category:   CategoryHistory,
		Message:    "Update history gap",
		Detail:     "The generations a client missed are no longer retained.",
		Suggestion: "Increase history.limit in hmr.json",
		DocURL:     docBase + "H012",
	},

	// ============================================
	// Configuration Errors (E120-E139)
	// ============================================

	"E120": {
		Category: CategoryConfig,
		Message:  "Invalid hmr.json",
		Detail:   "The hmr.json configuration file is malformed.",
		DocURL:   docBase + "E120",
	},
	"E121": {
		Category: CategoryConfig,
		Message:  "Missing required configuration",
		Detail:   "A required configuration value is not set.",
		DocURL:   docBase + "E121",
	},
	"E122": {
		Category: CategoryConfig,
		Message:  "Invalid port number",
		Detail:   "The configured port number is invalid or already in use.",
		DocURL:   docBase + "E122",
	},
	"E123": {
		Category: CategoryConfig,
		Message:  "Invalid history backend",
		Detail:   "history.backend must be one of memory, disk or s3.",
		DocURL:   docBase + "E123",
	},

	// ============================================
	// CLI Errors (E140-E159)
	// ============================================

	"E140": {
		Category:   CategoryCLI,
		Message:    "Project already initialized",
		Detail:     "hmr.json already exists in the target directory.",
		Suggestion: "Pass --force to overwrite it",
		DocURL:     docBase + "E140",
	},
	"E141": {
		Category: CategoryCLI,
		Message:  "Not an hmr project",
		Detail:   "The current directory is not an hmr project. Run this command from a directory with hmr.json.",
		DocURL:   docBase + "E141",
	},
	"E142": {
		Category: CategoryCLI,
		Message:  "Manifest unreadable",
		Detail:   "The module manifest could not be read or decoded.",
		DocURL:   docBase + "E142",
	},
	"E143": {
		Category: CategoryCLI,
		Message:  "Template not found",
		Detail:   "The requested project template does not exist.",
		DocURL:   docBase + "E143",
	},
}

// GetAllCodes returns all registered error codes.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}

// Register adds a new error template to the registry.
func Register(code string, template ErrorTemplate) {
	registry[code] = template
}
