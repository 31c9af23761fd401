package cli

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/matzehuels/kmsgrab/pkg/errors"
)

// List styles
var (
	listDimStyle = lipgloss.NewStyle().Foreground(colorDim)
)

// =============================================================================
// CardListModel - Interactive device selection
// =============================================================================

// CardListModel is the bubbletea model for interactive device selection.
// Only cards with an active output can be selected.
type CardListModel struct {
	Cards    []cardInfo
	Cursor   int
	Selected *cardInfo
}

// NewCardListModel creates a card list model with the cursor on the first
// selectable card.
func NewCardListModel(cards []cardInfo) CardListModel {
	m := CardListModel{Cards: cards}
	for i, c := range cards {
		if c.selectable() {
			m.Cursor = i
			break
		}
	}
	return m
}

func (ci cardInfo) selectable() bool {
	return ci.Err == nil && ci.Active() != nil
}

func (m CardListModel) Init() tea.Cmd {
	return nil
}

func (m CardListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "up", "k":
			if m.Cursor > 0 {
				m.Cursor--
			}
		case "down", "j":
			if m.Cursor < len(m.Cards)-1 {
				m.Cursor++
			}
		case "enter":
			if len(m.Cards) == 0 || !m.Cards[m.Cursor].selectable() {
				return m, nil
			}
			card := m.Cards[m.Cursor]
			m.Selected = &card
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m CardListModel) View() string {
	var b strings.Builder

	b.WriteString(StyleTitle.Render("Select Device"))
	b.WriteString("\n")
	b.WriteString(listDimStyle.Render("↑/↓ navigate  ⏎ select  q quit"))
	b.WriteString("\n\n")

	rows := make([][]string, len(m.Cards))
	for i, c := range m.Cards {
		cursor := "  "
		if i == m.Cursor {
			cursor = "▸ "
		}
		active := "—"
		if a := c.Active(); a != nil && c.Err == nil {
			active = a.Name()
		}
		rows[i] = []string{cursor, c.Path, active, c.Summary()}
	}

	headerStyle := lipgloss.NewStyle().Foreground(colorGray).Bold(true)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("", "Device", "Output", "Connectors").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == -1 {
				return headerStyle
			}
			if row < 0 || row >= len(m.Cards) {
				return lipgloss.NewStyle()
			}
			base := lipgloss.NewStyle()
			if row == m.Cursor {
				base = base.Bold(true)
			}
			if m.Cards[row].selectable() {
				return base.Foreground(colorGreen)
			}
			return base.Foreground(colorDim)
		})

	b.WriteString(t.Render())
	b.WriteString("\n\n")
	b.WriteString(listDimStyle.Render(fmt.Sprintf("  [%d/%d]", m.Cursor+1, len(m.Cards))))

	return b.String()
}

// pickCard runs the interactive selector and returns the chosen path.
func pickCard(cards []cardInfo) (string, error) {
	if len(cards) == 0 {
		return "", errors.New(errors.ErrCodeDeviceOpenFailed, "no DRM devices found")
	}

	final, err := tea.NewProgram(NewCardListModel(cards)).Run()
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInternal, err, "device selector")
	}
	m, ok := final.(CardListModel)
	if !ok || m.Selected == nil {
		return "", context.Canceled
	}
	return m.Selected.Path, nil
}
