package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vango-dev/hmr/internal/config"
	"github.com/vango-dev/hmr/internal/templates"
)

type initOptions struct {
	template string
	port     int
	bucket   string
	region   string
	force    bool
}

func initCmd() *cobra.Command {
	var opts initOptions

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Create hmr.json and a starter manifest",
		Long: `Create hmr.json and a starter module manifest.

The template picks where update history is kept:
  memory  history lives in the server process (default)
  disk    history survives restarts under .hmr/history
  s3      history is shared through an S3 bucket

Examples:
  hmr init
  hmr init web --template=disk
  hmr init --template=s3 --bucket=dev-builds --region=eu-west-1`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			return runInit(cmd.OutOrStdout(), dir, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.template, "template", "t", config.BackendMemory,
		"Template: "+strings.Join(templates.List(), ", "))
	cmd.Flags().IntVarP(&opts.port, "port", "p", config.DefaultPort, "Dev server port")
	cmd.Flags().StringVar(&opts.bucket, "bucket", "", "S3 bucket (s3 template)")
	cmd.Flags().StringVar(&opts.region, "region", "", "S3 region (s3 template)")
	cmd.Flags().BoolVarP(&opts.force, "force", "f", false, "Overwrite an existing hmr.json")

	return cmd
}

func runInit(w io.Writer, dir string, opts initOptions) error {
	tmpl, err := templates.Get(opts.template)
	if err != nil {
		return err
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return err
	}

	err = tmpl.Create(abs, templates.Config{
		ProjectName: filepath.Base(abs),
		Port:        opts.port,
		Bucket:      opts.bucket,
		Region:      opts.region,
		Force:       opts.force,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Created %s (%s template)\n", filepath.Join(abs, config.ConfigFileName), tmpl.Name)
	fmt.Fprintf(w, "Point your compiler at %s, then run:\n\n", config.DefaultManifest)
	if dir != "." {
		fmt.Fprintf(w, "  cd %s\n", dir)
	}
	fmt.Fprintln(w, "  hmr serve")
	return nil
}
