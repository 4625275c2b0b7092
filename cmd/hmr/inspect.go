package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/vango-dev/hmr/internal/config"
	"github.com/vango-dev/hmr/internal/dev"
	"github.com/vango-dev/hmr/internal/errors"
	"github.com/vango-dev/hmr/pkg/hmr"
)

func inspectCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect [manifest]",
		Short: "Decode a module manifest",
		Long: `Decode a module manifest and print the load order from the
root set, the roots themselves and dependency encoding statistics.

Without an argument the manifest configured in hmr.json is used.

Examples:
  hmr inspect
  hmr inspect dist/hmr-manifest.json --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := manifestPath(args)
			if err != nil {
				return err
			}
			m, err := dev.LoadManifest(path)
			if err != nil {
				return errors.New("E142").WithDetail(path).Wrap(err)
			}
			r, err := buildReport(m)
			if err != nil {
				return errors.FromRuntime(err)
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(r)
			}
			printReport(cmd.OutOrStdout(), path, r)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")

	return cmd
}

func manifestPath(args []string) (string, error) {
	if len(args) == 1 {
		return filepath.Abs(args[0])
	}
	cfg, err := config.LoadFromWorkingDir()
	if err != nil {
		return "", err
	}
	return cfg.ManifestPath(), nil
}

// report summarizes a decoded manifest.
type report struct {
	Main        hmr.ModuleID   `json:"main"`
	Version     string         `json:"version"`
	Modules     int            `json:"modules"`
	ESM         int            `json:"esm"`
	CommonJS    int            `json:"commonjs"`
	Async       int            `json:"async"`
	Roots       []hmr.ModuleID `json:"roots"`
	LoadOrder   []hmr.ModuleID `json:"loadOrder"`
	Unreachable []hmr.ModuleID `json:"unreachable,omitempty"`
	Missing     []hmr.ModuleID `json:"missing,omitempty"`
	Deps        depStats       `json:"deps"`
}

// depStats counts dependency list entries.
type depStats struct {
	Entries  int `json:"entries"`
	BackRefs int `json:"backRefs"`
	// SavedBytes is the identifier text the back-references avoid.
	SavedBytes int `json:"savedBytes"`
	// Reencoded is the back-reference count after re-encoding every list.
	Reencoded int `json:"reencoded"`
}

// buildReport decodes every dependency list and walks the graph from the
// root set in execution order: dependencies before their importers.
func buildReport(m *dev.Manifest) (*report, error) {
	r := &report{
		Main:    m.Main,
		Version: m.Version,
		Modules: len(m.Modules),
		Roots:   m.RootIDs(),
	}

	deps := make(map[hmr.ModuleID][]hmr.ModuleID, len(m.Modules))
	for _, id := range m.IDs() {
		mod := m.Modules[id]
		switch mod.Kind {
		case dev.KindESM:
			r.ESM++
		case dev.KindCommonJS:
			r.CommonJS++
		}
		if mod.Async {
			r.Async++
		}

		entries, err := hmr.ParseDepEntries(mod.Deps)
		if err != nil {
			return nil, &hmr.DecodeError{ID: id, Reason: err.Error()}
		}
		ids, err := hmr.DecodeDeps(entries)
		if err != nil {
			return nil, &hmr.DecodeError{ID: id, Reason: err.Error()}
		}
		deps[id] = ids

		r.Deps.Entries += len(entries)
		for i, e := range entries {
			if _, ok := e.(hmr.BackRef); ok {
				r.Deps.BackRefs++
				r.Deps.SavedBytes += len(ids[i])
			}
		}
		for _, e := range hmr.EncodeDeps(ids) {
			if _, ok := e.(hmr.BackRef); ok {
				r.Deps.Reencoded++
			}
		}
	}

	visited := make(map[hmr.ModuleID]bool, len(m.Modules))
	missing := make(map[hmr.ModuleID]bool)
	var visit func(id hmr.ModuleID)
	visit = func(id hmr.ModuleID) {
		if visited[id] {
			return
		}
		visited[id] = true
		if _, ok := m.Modules[id]; !ok {
			missing[id] = true
			return
		}
		for _, d := range deps[id] {
			visit(d)
		}
		r.LoadOrder = append(r.LoadOrder, id)
	}
	for _, root := range r.Roots {
		visit(root)
	}

	for _, id := range m.IDs() {
		if !visited[id] {
			r.Unreachable = append(r.Unreachable, id)
		}
	}
	for id := range missing {
		r.Missing = append(r.Missing, id)
	}
	sort.Slice(r.Missing, func(i, j int) bool { return r.Missing[i] < r.Missing[j] })
	return r, nil
}

func printReport(w io.Writer, path string, r *report) {
	fmt.Fprintf(w, "Manifest %s\n", path)
	fmt.Fprintf(w, "  main:     %s\n", r.Main)
	fmt.Fprintf(w, "  version:  %s\n", r.Version)
	fmt.Fprintf(w, "  modules:  %d (%d esm, %d commonjs, %d async)\n", r.Modules, r.ESM, r.CommonJS, r.Async)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Roots")
	for _, id := range r.Roots {
		fmt.Fprintf(w, "  %s\n", id)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Load order")
	for i, id := range r.LoadOrder {
		fmt.Fprintf(w, "  %3d  %s\n", i+1, id)
	}
	if len(r.Unreachable) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Unreachable from the roots")
		for _, id := range r.Unreachable {
			fmt.Fprintf(w, "  %s\n", id)
		}
	}
	if len(r.Missing) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Imported but not in the table")
		for _, id := range r.Missing {
			fmt.Fprintf(w, "  %s\n", id)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Dependency lists")
	fmt.Fprintf(w, "  entries:          %d\n", r.Deps.Entries)
	fmt.Fprintf(w, "  back-references:  %d (%d bytes saved)\n", r.Deps.BackRefs, r.Deps.SavedBytes)
	fmt.Fprintf(w, "  after re-encode:  %d\n", r.Deps.Reencoded)
}
