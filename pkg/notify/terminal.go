package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

var (
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("86")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214"))

	linkStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33"))

	metaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)
)

// Terminal is the direct surface: it prints a boxed notification to w.
type Terminal struct {
	mu sync.Mutex
	w  io.Writer
}

func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{w: w}
}

func (t *Terminal) Name() string { return "terminal" }

func (t *Terminal) Available() bool { return t.w != nil }

func (t *Terminal) Show(_ context.Context, n Notification) error {
	if t.w == nil {
		return ErrUnavailable
	}

	lines := []string{titleStyle.Render(n.Title)}
	if n.Body != "" {
		lines = append(lines, n.Body)
	}
	if n.URL != "" {
		lines = append(lines, linkStyle.Render(n.URL))
	}
	lines = append(lines, metaStyle.Render(fmt.Sprintf("%s  %s", n.Tag, n.CreatedAt.Format("15:04:05"))))

	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := fmt.Fprintln(t.w, boxStyle.Render(strings.Join(lines, "\n")))
	return err
}
