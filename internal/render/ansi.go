package render

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	textStyle      = lipgloss.NewStyle()
	reasoningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Italic(true)
	toolStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#0099FF"))
	toolOkStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	toolErrStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
)

// FormatCard renders a card as a single styled terminal line, for the tail
// subcommand.
func FormatCard(card Card) string {
	switch card.Kind {
	case CardText:
		return textStyle.Render(card.Body)
	case CardReasoning:
		return reasoningStyle.Render(card.Body)
	case CardTool:
		return toolStyle.Render(fmt.Sprintf("→ %s %s", card.ToolName, card.Body))
	case CardToolResult:
		if card.IsError {
			return toolErrStyle.Render(fmt.Sprintf("✗ %s", card.Body))
		}
		return toolOkStyle.Render(fmt.Sprintf("✓ %s", card.Body))
	}
	return ""
}
