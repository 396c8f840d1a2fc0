package history

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultMaxEntries    = 10
	DefaultRecentEntries = 3
	DefaultSummaryChars  = 100
	SummarySeparator     = " | "
)

type Config struct {
	RecentEntries int
	SummaryChars  int
}

// History renders a Store's entries for the prompt.
type History struct {
	store  Store
	recent int
	chars  int
	now    func() time.Time
}

func New(store Store, cfg Config) *History {
	if cfg.RecentEntries <= 0 {
		cfg.RecentEntries = DefaultRecentEntries
	}
	if cfg.SummaryChars <= 0 {
		cfg.SummaryChars = DefaultSummaryChars
	}
	return &History{store: store, recent: cfg.RecentEntries, chars: cfg.SummaryChars, now: time.Now}
}

func (h *History) Store() Store { return h.store }

// Record appends one user/assistant exchange.
func (h *History) Record(ctx context.Context, user, prompt, response string) error {
	now := h.now()
	err := h.store.Append(ctx, user,
		Entry{Role: RoleUser, Content: prompt, CreatedAt: now},
		Entry{Role: RoleAssistant, Content: response, CreatedAt: now},
	)
	if err != nil {
		return fmt.Errorf("failed to record conversation: %w", err)
	}
	return nil
}

func (h *History) Clear(ctx context.Context, user string) error {
	if err := h.store.Clear(ctx, user); err != nil {
		return fmt.Errorf("failed to clear conversation: %w", err)
	}
	return nil
}

// Context renders the user's history: one summary line of the older
// entries, each cut to the summary length, then the most recent entries
// verbatim. An empty history renders as "".
func (h *History) Context(ctx context.Context, user string) (string, error) {
	entries, err := h.store.Entries(ctx, user)
	if err != nil {
		return "", fmt.Errorf("failed to read conversation: %w", err)
	}
	return Render(entries, h.recent, h.chars), nil
}

func Render(entries []Entry, recent, summaryChars int) string {
	if len(entries) == 0 {
		return ""
	}
	split := max(0, len(entries)-recent)

	var b strings.Builder
	if split > 0 {
		parts := make([]string, 0, split)
		for _, e := range entries[:split] {
			parts = append(parts, fmt.Sprintf("%s: %s", e.Role, truncate(e.Content, summaryChars)))
		}
		b.WriteString("Earlier in this conversation: ")
		b.WriteString(strings.Join(parts, SummarySeparator))
		b.WriteString("\n")
	}

	b.WriteString("Recent conversation:\n")
	for _, e := range entries[split:] {
		fmt.Fprintf(&b, "%s: %s\n", label(e.Role), e.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

func label(r Role) string {
	if r == RoleAssistant {
		return "Assistant"
	}
	return "User"
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
