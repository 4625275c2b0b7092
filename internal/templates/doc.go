// Package templates provides project scaffolding templates.
//
// A template writes hmr.json and a starter module manifest so that
// "hmr serve" works right away.
//
// # Available Templates
//
//   - memory: history kept in memory (default)
//   - disk: history kept under .hmr/history
//   - s3: history kept in an S3 bucket
//
// # Usage
//
//	tmpl, err := templates.Get("disk")
//	if err != nil {
//	    return err
//	}
//	if err := tmpl.Create(projectDir, templates.Config{ProjectName: "shop"}); err != nil {
//	    return err
//	}
//
// # Template Variables
//
//	{{.ProjectName}}  - Name of the project
//	{{.Port}}         - Dev server port
//	{{.Bucket}}       - S3 bucket (s3 template)
//	{{.Region}}       - S3 region (s3 template)
package templates
