package cli

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/matzehuels/kmsgrab/pkg/kms"
)

// devicesCommand creates the devices command.
func (c *CLI) devicesCommand() *cobra.Command {
	var pattern string

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List DRM devices and their outputs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFromContext(cmd.Context())
			prog := newProgress(logger)
			cards, err := probeCards(pattern)
			if err != nil {
				return err
			}
			logger.Debug("probed devices", "count", len(cards), "elapsed", prog.elapsed())
			if len(cards) == 0 {
				printInfo("No DRM devices match %s", pattern)
				return nil
			}

			fmt.Println(cardTable(cards))
			for _, ci := range cards {
				if ci.selectable() {
					printNextStep("Capture", fmt.Sprintf("%s capture --device %s", appName, ci.Path))
					break
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&pattern, "glob", kms.DefaultCardGlob, "device node pattern")

	return cmd
}

// cardTable renders the probed cards.
func cardTable(cards []cardInfo) string {
	rows := make([][]string, len(cards))
	for i, ci := range cards {
		output := "—"
		if a := ci.Active(); a != nil && ci.Err == nil {
			output = a.Name()
		}
		rows[i] = []string{ci.Path, output, ci.Summary()}
	}

	headerStyle := lipgloss.NewStyle().Foreground(colorGray).Bold(true)
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("Device", "Output", "Connectors").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == -1 {
				return headerStyle
			}
			if row >= 0 && row < len(cards) && cards[row].Err != nil {
				return lipgloss.NewStyle().Foreground(colorRed)
			}
			return lipgloss.NewStyle()
		}).
		Render()
}
