package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/matzehuels/kmsgrab/pkg/kms"
	"github.com/matzehuels/kmsgrab/pkg/scanout"
)

// infoCommand creates the info command, which resolves the scanout buffer
// without mapping it.
func (c *CLI) infoCommand() *cobra.Command {
	var device string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Describe the buffer the active display scans out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("device") {
				device = c.Config.Device
			}
			logger := loggerFromContext(cmd.Context())

			dev, err := openDevice(device, logger)
			if err != nil {
				return err
			}
			defer dev.Close()

			desc, err := dev.runner(logger).Describe(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(desc)
			}
			printDescriptor(dev.card.Path(), desc, dev.gbm != nil)
			return nil
		},
	}

	cmd.Flags().StringVar(&device, "device", "", "DRM device node (default: first that opens)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the descriptor as JSON")

	return cmd
}

// printDescriptor prints a scanout descriptor as key/value lines and a plane
// table.
func printDescriptor(path string, desc *scanout.Descriptor, gbm bool) {
	fmt.Println(StyleTitle.Render("Scanout"))
	printKeyValue("Device", path)
	printKeyValue("Output", desc.Connector.Name())
	printKeyValue("CRTC", strconv.FormatUint(uint64(desc.CrtcID), 10))
	printKeyValue("Framebuffer", strconv.FormatUint(uint64(desc.FramebufferID), 10))
	printKeyValue("Size", fmt.Sprintf("%dx%d", desc.Width, desc.Height))
	printKeyValue("Format", kms.FormatName(desc.Format))
	printKeyValue("Modifier", desc.ModifierName())
	printNewline()
	fmt.Println(planeTable(desc))

	if desc.Format != kms.FormatXRGB8888 {
		printWarning("%s cannot be captured; only XR24 is supported", kms.FormatName(desc.Format))
	} else if !desc.Linear() || len(desc.Planes) > 1 {
		if gbm {
			printDetail("capture will use the multi-plane import")
		} else {
			printWarning("this layout needs a build with libgbm (-tags gbm)")
		}
	}
}

// planeTable renders the planes of desc.
func planeTable(desc *scanout.Descriptor) string {
	rows := make([][]string, len(desc.Planes))
	for i, p := range desc.Planes {
		rows[i] = []string{
			strconv.Itoa(i),
			strconv.FormatUint(uint64(p.Handle), 10),
			strconv.FormatUint(uint64(p.Offset), 10),
			strconv.FormatUint(uint64(p.Stride), 10),
		}
	}

	headerStyle := lipgloss.NewStyle().Foreground(colorGray).Bold(true)
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("Plane", "Handle", "Offset", "Stride").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == -1 {
				return headerStyle
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Render()
}
