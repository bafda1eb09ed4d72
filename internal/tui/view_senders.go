package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/lipgloss"

	"mailtally/internal/model"
)

// senderItem wraps SenderCount for the list display.
type senderItem struct {
	model.SenderCount
}

func (s senderItem) FilterValue() string { return s.Sender }
func (s senderItem) Title() string       { return s.Sender }
func (s senderItem) Description() string {
	if s.Count == 1 {
		return "1 message"
	}
	return fmt.Sprintf("%d messages", s.Count)
}

var footerStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("241")).
	PaddingTop(1)

var summaryStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("39"))

func sendersFooter(canSync bool) string {
	if canSync {
		return footerStyle.Render("/: filter  o: flip order  r: reload  s: sync again  q: quit")
	}
	return footerStyle.Render("/: filter  o: flip order  r: reload  q: quit")
}

func sendersToItems(senders []model.SenderCount) []list.Item {
	items := make([]list.Item, len(senders))
	for i, s := range senders {
		items[i] = senderItem{s}
	}
	return items
}

func sendersTitle(senders []model.SenderCount) string {
	total := 0
	for _, s := range senders {
		total += s.Count
	}
	return fmt.Sprintf("Senders (%d senders, %d messages)", len(senders), total)
}

func summaryLine(s model.RunSummary) string {
	if s.RunID == "" {
		return ""
	}
	return summaryStyle.Render(fmt.Sprintf("Last run %s: %d new, %d skipped, %d pages, %d errors",
		s.Status, s.New, s.Skipped, s.Pages, s.Errors))
}
