package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/csiro-fair/marimba/internal/distribution"
	"github.com/csiro-fair/marimba/internal/models"
	"github.com/csiro-fair/marimba/internal/pipeline"
	"github.com/csiro-fair/marimba/internal/project"
)

// overrideFlags collects repeated -set key=value flags into typed override
// values. Bare strings that parse as bool/int/float are coerced so they can
// satisfy schemas with non-string defaults.
type overrideFlags map[string]any

func (o overrideFlags) String() string { return fmt.Sprintf("%v", map[string]any(o)) }

func (o overrideFlags) Set(v string) error {
	key, raw, ok := strings.Cut(v, "=")
	if !ok || key == "" {
		return fmt.Errorf("expected key=value, got %q", v)
	}
	o[key] = parseOverride(raw)
	return nil
}

func parseOverride(raw string) any {
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	if i, err := strconv.Atoi(raw); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func openProject(root string, reg *pipeline.Registry) (*project.Project, error) {
	if root == "" {
		root = "."
	}
	p, err := project.Load(root, reg)
	if err != nil {
		return nil, err
	}
	p.SetLogOutput(os.Stderr)
	return p, nil
}

func cmdNew(args []string) error {
	fs := flag.NewFlagSet("new", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: marimba new <project-dir>")
	}

	p, err := project.Create(fs.Arg(0), pipeline.NewRegistry())
	if err != nil {
		return err
	}
	defer p.Close()

	fmt.Printf("created project %s\n", p.Root())
	return nil
}

func cmdInstall(args []string, reg *pipeline.Registry) error {
	fs := flag.NewFlagSet("install", flag.ExitOnError)
	root := fs.String("project", ".", "project directory")
	name := fs.String("name", "", "pipeline name within the project")
	impl := fs.String("impl", pipeline.PassthroughKey, "registered implementation key")
	version := fs.String("version", "0.1.0", "pipeline version")
	overrides := overrideFlags{}
	fs.Var(overrides, "set", "pipeline config override key=value (repeatable)")
	fs.Parse(args)

	p, err := openProject(*root, reg)
	if err != nil {
		return err
	}
	defer p.Close()

	installed, err := p.InstallPipeline(*name, *impl, *version, overrides)
	if err != nil {
		return err
	}
	fmt.Printf("installed pipeline %s (%s %s)\n", installed.Manifest.Name, *impl, *version)
	return nil
}

func cmdCollection(args []string, reg *pipeline.Registry) error {
	fs := flag.NewFlagSet("collection", flag.ExitOnError)
	root := fs.String("project", ".", "project directory")
	name := fs.String("name", "", "collection name")
	overrides := overrideFlags{}
	fs.Var(overrides, "set", "collection config override key=value (repeatable)")
	fs.Parse(args)

	p, err := openProject(*root, reg)
	if err != nil {
		return err
	}
	defer p.Close()

	col, err := p.CreateCollection(*name, overrides)
	if err != nil {
		return err
	}
	fmt.Printf("created collection %s\n", col.Name())
	return nil
}

func cmdRun(ctx context.Context, args []string, reg *pipeline.Registry) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	root := fs.String("project", ".", "project directory")
	op := fs.String("op", "", "operation: import or process")
	pipelines := fs.String("pipelines", "", "comma-separated pipeline filter (default all)")
	collections := fs.String("collections", "", "comma-separated collection filter (default all)")
	source := fs.String("source", "", "source directory (import only)")
	mode := fs.String("mode", "", "file transfer mode: copy, move or link (import only)")
	dryRun := fs.Bool("dry-run", false, "log intended actions without mutating anything")
	workers := fs.Int("workers", 0, "concurrent cells (default NumCPU)")
	extra := overrideFlags{}
	fs.Var(extra, "arg", "operation extra argument key=value (repeatable)")
	fs.Parse(args)

	kind, err := models.ParseOperationKind(*op)
	if err != nil {
		return err
	}
	if kind == models.KindPackage {
		return fmt.Errorf("use the package command to run the package operation")
	}
	transferMode, err := models.ParseOperation(*mode)
	if err != nil {
		return err
	}

	p, err := openProject(*root, reg)
	if err != nil {
		return err
	}
	defer p.Close()

	report, err := p.Run(ctx, project.RunOptions{
		Kind:        kind,
		Pipelines:   splitList(*pipelines),
		Collections: splitList(*collections),
		Source:      *source,
		Mode:        transferMode,
		DryRun:      *dryRun,
		Extra:       pipeline.ExtraArgs(extra),
		Workers:     *workers,
	})
	if err != nil {
		return err
	}

	printReport(report)
	if report.FailedCells > 0 {
		return fmt.Errorf("%d of %d cells failed", report.FailedCells, report.TotalCells)
	}
	return nil
}

func cmdPackage(ctx context.Context, args []string, reg *pipeline.Registry) error {
	fs := flag.NewFlagSet("package", flag.ExitOnError)
	root := fs.String("project", ".", "project directory")
	name := fs.String("name", "", "dataset name")
	version := fs.String("version", "1.0.0", "dataset version")
	contact := fs.String("contact", "", "dataset contact")
	pipelines := fs.String("pipelines", "", "comma-separated pipeline filter (default all)")
	collections := fs.String("collections", "", "comma-separated collection filter (default all)")
	mode := fs.String("mode", "", "file transfer mode: copy, move or link")
	workers := fs.Int("workers", 0, "concurrent cells (default NumCPU)")
	extra := overrideFlags{}
	fs.Var(extra, "arg", "operation extra argument key=value (repeatable)")
	fs.Parse(args)

	transferMode, err := models.ParseOperation(*mode)
	if err != nil {
		return err
	}

	p, err := openProject(*root, reg)
	if err != nil {
		return err
	}
	defer p.Close()

	ds, report, err := p.Package(ctx, project.PackageOptions{
		Name:        *name,
		Version:     *version,
		Contact:     *contact,
		Pipelines:   splitList(*pipelines),
		Collections: splitList(*collections),
		Mode:        transferMode,
		Extra:       pipeline.ExtraArgs(extra),
		Workers:     *workers,
	})
	if report != nil {
		printReport(report)
	}
	if err != nil {
		return err
	}

	fmt.Printf("packaged dataset %s at %s\n", ds.Name(), ds.Root())
	return nil
}

func cmdDistribute(ctx context.Context, args []string, reg *pipeline.Registry) error {
	fs := flag.NewFlagSet("distribute", flag.ExitOnError)
	root := fs.String("project", ".", "project directory")
	name := fs.String("dataset", "", "dataset name under the project datasets directory")
	endpoint := fs.String("endpoint", "", "S3 endpoint host:port")
	bucket := fs.String("bucket", "", "destination bucket")
	prefix := fs.String("prefix", "", "key prefix within the bucket")
	secure := fs.Bool("secure", true, "use TLS")
	fs.Parse(args)

	p, err := openProject(*root, reg)
	if err != nil {
		return err
	}
	defer p.Close()

	ds, err := p.Dataset(*name)
	if err != nil {
		return err
	}

	target, err := distribution.NewS3Target(distribution.S3Config{
		Endpoint:  *endpoint,
		AccessKey: os.Getenv("MARIMBA_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("MARIMBA_S3_SECRET_KEY"),
		Secure:    *secure,
		Bucket:    *bucket,
		Prefix:    *prefix,
	}, p.Logger())
	if err != nil {
		return err
	}

	if err := target.Distribute(ctx, ds); err != nil {
		return err
	}
	fmt.Printf("distributed dataset %s to %s/%s\n", ds.Name(), *endpoint, *bucket)
	return nil
}

func printReport(report *models.RunReport) {
	fmt.Printf("run %s: %s (%d/%d cells succeeded in %.2fs)\n",
		report.RunID, report.Status, report.CompletedCells, report.TotalCells, report.DurationSec)
	for _, outcome := range report.Outcomes {
		if outcome.Error != nil {
			fmt.Printf("  FAILED %s/%s: [%s] %s\n",
				outcome.Pipeline, outcome.Collection, outcome.Error.Type, outcome.Error.Message)
		}
	}
}
