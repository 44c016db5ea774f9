// Command fetchmodel installs the depth model and the onnxruntime library
// the "onnx" depth mode needs, and reports on the other dependencies.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/schollz/progressbar/v3"

	"github.com/namuol/magic-eye-mirror/deps"
	"github.com/namuol/magic-eye-mirror/downloads"
)

func main() {
	only := flag.String("only", "", "comma-separated dependency IDs to install (default: all missing)")
	check := flag.Bool("check", false, "only report what is installed")
	force := flag.Bool("force", false, "reinstall even if present")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Stdout, downloads.Default, *only, *check, *force); err != nil {
		log.Fatal(err)
	}
}

// progressBar renders download progress on stderr. Resumed bytes are
// counted as already done.
func progressBar(name string) downloads.ProgressFunc {
	return func(total, resumed int64) io.Writer {
		bar := progressbar.DefaultBytes(total, name)
		if resumed > 0 {
			_ = bar.Add64(resumed)
		}
		return bar
	}
}

// selected returns the dependencies named in only, or all of them.
func selected(only string) ([]*deps.Dependency, error) {
	if only == "" {
		return deps.GetAll(), nil
	}
	var out []*deps.Dependency
	for _, id := range strings.Split(only, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		d, ok := deps.Get(id)
		if !ok {
			return nil, fmt.Errorf("unknown dependency %q", id)
		}
		out = append(out, d)
	}
	return out, nil
}

func run(ctx context.Context, w io.Writer, client *downloads.Client, only string, checkOnly, force bool) error {
	list, err := selected(only)
	if err != nil {
		return err
	}

	var failed []string
	for _, d := range list {
		exists, version, err := d.Check(ctx)
		if err != nil {
			fmt.Fprintf(w, "%-12s error: %v\n", d.ID, err)
			failed = append(failed, d.ID)
			continue
		}
		if exists && !force {
			fmt.Fprintf(w, "%-12s installed (%s)\n", d.ID, version)
			continue
		}
		if checkOnly {
			fmt.Fprintf(w, "%-12s missing\n", d.ID)
			continue
		}
		if d.ManualOnly || d.Install == nil {
			fmt.Fprintf(w, "%-12s missing, install manually: %s\n", d.ID, d.InstallURL)
			continue
		}

		fmt.Fprintf(w, "%-12s installing %s into %s\n", d.ID, d.LatestVersion, d.TargetDir)
		if err := d.Install(ctx, client, progressBar(d.Name)); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(w, "%-12s failed: %v\n", d.ID, err)
			failed = append(failed, d.ID)
			continue
		}
		fmt.Fprintf(w, "%-12s installed\n", d.ID)
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed: %s", strings.Join(failed, ", "))
	}
	return nil
}
