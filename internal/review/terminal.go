package review

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	postStyle    = lipgloss.NewStyle().Padding(0, 1)
	commentStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("10")).
			Padding(0, 1).
			Width(78)
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Terminal prompts on a line-oriented terminal.
type Terminal struct {
	lines chan lineResult
	out   io.Writer
	now   func() time.Time
}

type lineResult struct {
	text string
	err  error
}

// NewTerminal reads answers from in and writes cards to out.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	t := &Terminal{lines: make(chan lineResult), out: out, now: time.Now}
	go t.readLines(bufio.NewReader(in))
	return t
}

func (t *Terminal) readLines(r *bufio.Reader) {
	for {
		line, err := r.ReadString('\n')
		if err != nil && line == "" {
			t.lines <- lineResult{err: err}
			close(t.lines)
			return
		}
		t.lines <- lineResult{text: strings.TrimSpace(line)}
	}
}

// readLine waits for the next input line or ctx.
func (t *Terminal) readLine(ctx context.Context, prompt string) (string, error) {
	fmt.Fprint(t.out, prompt)
	select {
	case <-ctx.Done():
		fmt.Fprintln(t.out)
		return "", ctx.Err()
	case res, ok := <-t.lines:
		if !ok || res.err != nil {
			return "", ErrQuit
		}
		return res.text, nil
	}
}

func (t *Terminal) Show(_ context.Context, item Item) error {
	var b strings.Builder
	b.WriteString("\n" + headerStyle.Render(fmt.Sprintf("Comment %d/%d", item.Index, item.Total)) + "\n")

	if p := item.Post; p != nil {
		fmt.Fprintf(&b, "%s @%s (%s)\n", labelStyle.Render("Author:"), p.Author.Username, p.Author.Name)
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("URL:"), p.Ref().URL())
		fmt.Fprintf(&b, "%s %.1f minutes ago\n", labelStyle.Render("Posted:"), t.now().Sub(p.CreatedAt).Minutes())
		fmt.Fprintf(&b, "%s %.2f/100\n", labelStyle.Render("Trend score:"), p.TrendingScore)
		fmt.Fprintf(&b, "%s %d likes  %d reposts  %d replies\n", labelStyle.Render("Engagement:"),
			p.LikeCount, p.RepostCount, p.ReplyCount)
		b.WriteString(postStyle.Render(p.Text) + "\n")
	} else {
		fmt.Fprintf(&b, "%s %s (not available)\n", labelStyle.Render("Post:"), item.Comment.PostID)
	}

	b.WriteString(commentStyle.Render(item.Comment.Content) + "\n")
	fmt.Fprintf(&b, "%s %d characters\n", labelStyle.Render("Length:"), utf8.RuneCountInString(item.Comment.Content))
	_, err := io.WriteString(t.out, b.String())
	return err
}

func (t *Terminal) Ask(ctx context.Context) (Action, error) {
	fmt.Fprintln(t.out, helpStyle.Render("[p] publish now  [a] approve for later  [r] refine  [s] skip  [q] quit"))
	line, err := t.readLine(ctx, "Your choice: ")
	if err != nil {
		return "", err
	}
	return Action(strings.ToLower(line)), nil
}

func (t *Terminal) Feedback(ctx context.Context) (string, error) {
	fmt.Fprintln(t.out, helpStyle.Render("How should the comment change? e.g. shorter, no emoji, more technical"))
	return t.readLine(ctx, "Your feedback: ")
}

func (t *Terminal) KeepForLater(ctx context.Context, cause error) (bool, error) {
	fmt.Fprintf(t.out, "Publishing failed: %v\n", cause)
	line, err := t.readLine(ctx, "Keep it approved to retry later? [y/n]: ")
	if err != nil {
		return false, err
	}
	return strings.EqualFold(line, "y") || strings.EqualFold(line, "yes"), nil
}

func (t *Terminal) Notify(_ context.Context, msg string) error {
	_, err := fmt.Fprintln(t.out, msg)
	return err
}
