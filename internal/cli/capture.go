package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/kmsgrab/pkg/bufimport"
	"github.com/matzehuels/kmsgrab/pkg/kms"
	"github.com/matzehuels/kmsgrab/pkg/pipeline"
	"github.com/matzehuels/kmsgrab/pkg/sink"
)

// captureOpts holds the command-line flags for the capture command.
type captureOpts struct {
	output   string
	format   string
	device   string
	strategy string
	retries  int
	pick     bool
}

// merge fills unset flags from the config.
func (o *captureOpts) merge(cmd *cobra.Command, cfg Config) {
	flags := cmd.Flags()
	if !flags.Changed("device") {
		o.device = cfg.Device
	}
	if !flags.Changed("output") {
		o.output = cfg.Output
	}
	if !flags.Changed("format") {
		// an explicit output extension wins over the configured format
		if o.output != "" && flags.Changed("output") {
			o.format = sink.FormatFromPath(o.output)
		} else {
			o.format = cfg.Format
		}
	}
	if !flags.Changed("strategy") {
		o.strategy = cfg.Strategy
	}
	if !flags.Changed("retries") {
		o.retries = cfg.Retries
	}
	if o.output == "" {
		o.output = sink.DefaultOutput(o.format)
	}
}

// captureCommand creates the capture command.
func (c *CLI) captureCommand() *cobra.Command {
	var opts captureOpts

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture the active display to an image file",
		Long: `Capture the framebuffer currently scanned out on the first connected output.

The image is written atomically: a failed capture never leaves a partial file.
Linear single-plane buffers are mapped directly; tiled or multi-plane buffers
need a build with libgbm (-tags gbm).`,
		Example: `  kmsgrab capture
  kmsgrab capture -o screen.png
  kmsgrab capture --device /dev/dri/card1 --strategy direct`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.merge(cmd, c.Config)
			return c.runCapture(cmd, opts)
		},
	}

	opts.bind(cmd)
	return cmd
}

func (o *captureOpts) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.output, "output", "o", "", "output file (default output.<format>)")
	cmd.Flags().StringVarP(&o.format, "format", "f", "", "image format: bmp, png (default from output extension)")
	cmd.Flags().StringVar(&o.device, "device", "", "DRM device node (default: first that opens)")
	cmd.Flags().StringVar(&o.strategy, "strategy", "", "import strategy: auto, direct, single, multi")
	cmd.Flags().IntVar(&o.retries, "retries", defaultRetries, "extra attempts after a transient failure")
	cmd.Flags().BoolVarP(&o.pick, "pick", "p", false, "choose the device interactively")
}

func (c *CLI) runCapture(cmd *cobra.Command, opts captureOpts) error {
	ctx := cmd.Context()
	logger := loggerFromContext(ctx)

	strategy, err := bufimport.ParseStrategy(opts.strategy)
	if err != nil {
		return err
	}
	if err := sink.ValidateFormat(opts.format); err != nil {
		return err
	}

	if opts.pick {
		cards, err := probeCards(kms.DefaultCardGlob)
		if err != nil {
			return err
		}
		if opts.device, err = pickCard(cards); err != nil {
			return err
		}
	}

	dev, err := openDevice(opts.device, logger)
	if err != nil {
		return err
	}
	defer dev.Close()

	// The spinner owns the terminal line; only warnings get through while
	// it runs.
	runLogger := logger
	var spinner *Spinner
	if logger.GetLevel() > log.DebugLevel && isTerminal(os.Stderr) {
		runLogger = logger.With()
		runLogger.SetLevel(log.WarnLevel)
		spinner = newSpinner(ctx, os.Stderr, fmt.Sprintf("Capturing %s...", dev.card.Path()))
		spinner.Start()
	}

	result, err := dev.runner(runLogger).CaptureToFile(ctx, pipeline.Options{
		Strategy: strategy,
		Format:   opts.format,
		Retries:  opts.retries,
	}, opts.output)
	if err != nil {
		if spinner != nil {
			spinner.Stop()
		}
		return err
	}

	desc := result.Descriptor
	msg := fmt.Sprintf("Captured %s at %dx%d", desc.Connector.Name(), result.Image.Width, result.Image.Height)
	if spinner != nil {
		spinner.StopWithSuccess("%s", msg)
	} else {
		printSuccess("%s", msg)
	}
	printFile(absPath(result.Path))
	printStats(result)
	return nil
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
