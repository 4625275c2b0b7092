package templates

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"text/template"

	"github.com/vango-dev/hmr/internal/config"
	"github.com/vango-dev/hmr/internal/errors"
)

// Config contains template configuration.
type Config struct {
	// ProjectName is the name of the project.
	ProjectName string

	// Port is the dev server port.
	Port int

	// Bucket and Region configure the s3 template.
	Bucket string
	Region string

	// Force overwrites an existing hmr.json.
	Force bool
}

// Template represents a project template.
type Template struct {
	// Name is the template name.
	Name string

	// Description describes the template.
	Description string

	// Files is a map of relative paths to file contents.
	Files map[string]string
}

// Available templates.
var templates = map[string]*Template{
	config.BackendMemory: historyTemplate(config.BackendMemory, "History kept in memory", ""),
	config.BackendDisk: historyTemplate(config.BackendDisk, "History kept under .hmr/history", `,
    "dir": ".hmr/history"`),
	config.BackendS3: historyTemplate(config.BackendS3, "History kept in an S3 bucket", `,
    "bucket": "{{.Bucket}}",
    "prefix": "{{.ProjectName}}/",
    "region": "{{.Region}}"`),
}

// Get returns a template by name.
func Get(name string) (*Template, error) {
	tmpl, ok := templates[name]
	if !ok {
		return nil, errors.New("E143").
			WithDetail("Template '" + name + "' not found").
			WithSuggestion("Available templates: memory, disk, s3")
	}
	return tmpl, nil
}

// List returns all available template names, sorted.
func List() []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create writes the template into dir. The generated hmr.json is loaded
// back and validated before Create returns.
func (t *Template) Create(dir string, cfg Config) error {
	if cfg.ProjectName == "" {
		cfg.ProjectName = filepath.Base(dir)
	}
	if cfg.Port == 0 {
		cfg.Port = config.DefaultPort
	}
	if t.Name == config.BackendS3 && cfg.Bucket == "" {
		return errors.New("E121").WithDetail("--bucket is required for the s3 template")
	}
	if !cfg.Force && config.Exists(dir) {
		return errors.New("E140").WithDetail(filepath.Join(dir, config.ConfigFileName) + " already exists")
	}

	for relPath, content := range t.Files {
		tmpl, err := template.New(relPath).Parse(content)
		if err != nil {
			return errors.Newf(errors.CategoryCLI, "invalid template %s: %v", relPath, err)
		}

		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, cfg); err != nil {
			return errors.Newf(errors.CategoryCLI, "template execute error %s: %v", relPath, err)
		}

		fullPath := filepath.Join(dir, relPath)
		if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(fullPath, buf.Bytes(), 0644); err != nil {
			return err
		}
	}

	loaded, err := config.Load(dir)
	if err != nil {
		return err
	}
	return loaded.Validate()
}

func historyTemplate(backend, description, extra string) *Template {
	return &Template{
		Name:        backend,
		Description: description,
		Files: map[string]string{
			config.ConfigFileName: `{
  "name": "{{.ProjectName}}",
  "dev": {
    "port": {{.Port}},
    "manifest": "` + config.DefaultManifest + `"
  },
  "runtime": {
    "console": true
  },
  "history": {
    "backend": "` + backend + `"` + extra + `,
    "limit": 500
  }
}
`,
			config.DefaultManifest: starterManifest,
		},
	}
}

// starterManifest is a one-module table the compiler overwrites on its
// first build.
const starterManifest = `{
  "main": "main.js",
  "version": "{{.ProjectName}}-0",
  "roots": [0],
  "files": ["main.js"],
  "modules": {
    "main.js": {"kind": "esm", "symbol": "main#0", "exportKeys": ["default"]}
  }
}
`
