package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/tOgg1/crmchat/internal/crm"
)

const maxPreviewWidth = 60

// styles colors terminal output. Styling is off unless out is a terminal.
type styles struct {
	enabled  bool
	header   lipgloss.Style
	inbound  lipgloss.Style
	outbound lipgloss.Style
	unread   lipgloss.Style
	muted    lipgloss.Style
	warning  lipgloss.Style
}

func newStyles(out io.Writer, noColor bool) styles {
	return styles{
		enabled:  !noColor && os.Getenv("NO_COLOR") == "" && isTerminal(out),
		header:   lipgloss.NewStyle().Bold(true),
		inbound:  lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		outbound: lipgloss.NewStyle().Foreground(lipgloss.Color("78")),
		unread:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
		muted:    lipgloss.NewStyle().Faint(true),
		warning:  lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
	}
}

func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (s styles) render(style lipgloss.Style, text string) string {
	if !s.enabled || text == "" {
		return text
	}
	return style.Render(text)
}

func (s styles) warn(text string) string { return s.render(s.warning, text) }

func (s styles) dim(text string) string { return s.render(s.muted, text) }

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// messageView is the JSON shape of a message: the wire fields plus the
// resolved time.
type messageView struct {
	crm.Message
	Conversation string     `json:"conversation"`
	Time         *time.Time `json:"time,omitempty"`
}

func newMessageView(m crm.Message) messageView {
	v := messageView{Message: m, Conversation: crm.Identify(m)}
	if !m.ResolvedAt.IsZero() {
		t := m.ResolvedAt
		v.Time = &t
	}
	return v
}

func messageViews(msgs []crm.Message) []messageView {
	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, newMessageView(m))
	}
	return out
}

// conversationView is the JSON shape of a conversation row.
type conversationView struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Target      string       `json:"target"`
	UnreadCount int          `json:"unread_count"`
	LastMessage *messageView `json:"last_message,omitempty"`
}

func newConversationView(c crm.Conversation) conversationView {
	v := conversationView{
		ID:          c.ID,
		Name:        c.Name(),
		Target:      c.Target().String(),
		UnreadCount: c.UnreadCount,
	}
	if c.LastMessage != nil {
		mv := newMessageView(*c.LastMessage)
		v.LastMessage = &mv
	}
	return v
}

// formatWhen renders a resolved time relative to now. Unknown times render
// as "-".
func formatWhen(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func formatClock(t time.Time) string {
	if t.IsZero() {
		return "--:--"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func directionMarker(d crm.Direction) string {
	if d == crm.DirectionOutbound {
		return "->"
	}
	return "<-"
}

func preview(text string, width int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= width {
		return text
	}
	if width <= 3 {
		return string(runes[:width])
	}
	return string(runes[:width-3]) + "..."
}

func (s styles) messageLine(m crm.Message) string {
	marker := directionMarker(m.Direction)
	style := s.inbound
	if m.Direction == crm.DirectionOutbound {
		style = s.outbound
	}
	line := fmt.Sprintf("%s  %s  %s", s.dim(formatClock(m.ResolvedAt)), s.render(style, marker), m.Text())
	if m.Unread() {
		line += " " + s.render(s.unread, "*")
	}
	return line
}

func writeMessages(out io.Writer, s styles, msgs []crm.Message) error {
	for _, m := range msgs {
		if _, err := fmt.Fprintln(out, s.messageLine(m)); err != nil {
			return err
		}
	}
	return nil
}

func (s styles) conversationRows(convs []crm.Conversation, now time.Time) [][]string {
	rows := make([][]string, 0, len(convs))
	for _, c := range convs {
		unread := "0"
		if c.UnreadCount > 0 {
			unread = s.render(s.unread, humanize.Comma(int64(c.UnreadCount)))
		}
		last, when := "", "-"
		if c.LastMessage != nil {
			last = directionMarker(c.LastMessage.Direction) + " " + preview(c.LastMessage.Text(), maxPreviewWidth)
			when = formatWhen(c.LastMessage.ResolvedAt, now)
		}
		rows = append(rows, []string{c.Target().String(), c.Name(), unread, s.dim(when), last})
	}
	return rows
}

func formatCount(n int, singular, plural string) string {
	if n == 1 {
		return "1 " + singular
	}
	return humanize.Comma(int64(n)) + " " + plural
}
