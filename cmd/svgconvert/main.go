// Command svgconvert sends one SVG file through the conversion workflow and
// reports where the resulting G-code can be downloaded.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"multisvg/models"
	"multisvg/services"
	"multisvg/workflow"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"
	_ "go.uber.org/automaxprocs"
)

var version = "dev"

type options struct {
	backend string
	params  models.Params
	output  string
	noColor bool
}

func main() {
	os.Exit(run())
}

func run() int {
	defaults := models.DefaultParams()

	var (
		opts        options
		mode        string
		showVersion bool
	)
	flag.StringVar(&opts.backend, "backend", envOr("BACKEND_URL", "http://localhost:8080"), "conversion backend base URL")
	flag.StringVar(&mode, "mode", string(defaults.Mode), "conversion mode: drilling or drawing")
	flag.IntVar(&opts.params.LaserPower, "laser-power", defaults.LaserPower, "laser power")
	flag.Float64Var(&opts.params.Speed, "speed", defaults.Speed, "feed speed")
	flag.IntVar(&opts.params.PassDepth, "pass-depth", defaults.PassDepth, "pass depth")
	flag.StringVarP(&opts.output, "output", "o", "", "download the G-code to this path")
	flag.BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: svgconvert [flags] FILE.svg\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Println("svgconvert", version)
		return 0
	}
	if opts.noColor {
		color.NoColor = true
	}
	if flag.NArg() != 1 {
		flag.Usage()
		return 2
	}

	opts.params.Mode = models.Mode(mode)
	if err := opts.params.Validate(); err != nil {
		color.Red("%v", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := convert(ctx, flag.Arg(0), opts); err != nil {
		color.Red("%v", err)
		return 1
	}
	return 0
}

func convert(ctx context.Context, path string, opts options) error {
	if !workflow.AcceptsFile(path) {
		return workflow.ErrUnsupportedFile
	}
	if err := opts.params.Validate(); err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	backend := services.NewBackendClient(opts.backend)
	ctrl := workflow.NewController(backend, workflow.NewMemoryPreviewStore(), workflow.Options{Params: &opts.params})
	defer ctrl.Close(context.Background())

	progress := color.New(color.FgCyan)
	unsubscribe := ctrl.Subscribe(func(ev workflow.Event) {
		switch ev.Kind {
		case workflow.EventSubmitted:
			progress.Fprintf(os.Stderr, "Converting %s (%s)...\n", ev.Snapshot.Filename, ev.Snapshot.Params.Mode.Label())
		case workflow.EventTick:
			progress.Fprintf(os.Stderr, "\rProcessing... %.1fs", ev.Snapshot.Elapsed.Seconds())
		case workflow.EventCompleted:
			fmt.Fprintln(os.Stderr)
		}
	})
	defer unsubscribe()

	if err := ctrl.SelectFile(ctx, path, data); err != nil {
		return err
	}
	if _, err := ctrl.Submit(ctx); err != nil {
		return err
	}
	if err := ctrl.Wait(ctx); err != nil {
		return fmt.Errorf("interrupted: %w", err)
	}

	res := ctrl.Snapshot().Result
	if res == nil {
		return errors.New(workflow.FallbackMessage)
	}
	if !res.Success {
		return errors.New(res.Message)
	}

	link, err := backend.ResolveURL(res.DownloadURL)
	if err != nil {
		return err
	}
	color.Green("Download: %s", link)
	if res.ProcessingTime != nil {
		fmt.Printf("Processing time: %gs\n", *res.ProcessingTime)
	}

	if opts.output != "" {
		if err := download(ctx, backend, res.DownloadURL, opts.output); err != nil {
			return err
		}
		color.Green("Saved %s", opts.output)
	}
	return nil
}

func download(ctx context.Context, backend *services.BackendClient, locator, dest string) error {
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}

	if _, err := backend.FetchArtifact(ctx, locator, f); err != nil {
		f.Close()
		os.Remove(dest)
		return err
	}
	return f.Close()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
