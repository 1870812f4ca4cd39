package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ArticlesPodcast/internal/domain"
	"ArticlesPodcast/internal/ports"
)

const defaultAPIBase = "https://api.telegram.org"

// Notifier sends item status updates to a Telegram chat via bot API.
type Notifier struct {
	apiBase  string
	botToken string
	chatID   string
	client   *http.Client
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier registers bot token and chat identifier.
func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		apiBase:  defaultAPIBase,
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// WithAPIBase points the notifier at another Bot API server.
func (n *Notifier) WithAPIBase(base string) *Notifier {
	n.apiBase = strings.TrimSuffix(base, "/")
	return n
}

// PublishStatus posts a plain-text message describing the item's state.
func (n *Notifier) PublishStatus(ctx context.Context, item domain.WorkItem) error {
	if n.botToken == "" || n.chatID == "" || n.client == nil {
		return fmt.Errorf("telegram notifier misconfigured")
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.botToken)
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", statusMessage(item))
	form.Set("disable_web_page_preview", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram error: %s", resp.Status)
	}

	return nil
}

func statusMessage(item domain.WorkItem) string {
	var b strings.Builder
	switch {
	case item.State == domain.StateAudioReady:
		b.WriteString("Ready to listen: ")
		b.WriteString(item.Title)
		if item.AudioDurationSeconds != nil {
			d := time.Duration(*item.AudioDurationSeconds * float64(time.Second)).Round(time.Second)
			fmt.Fprintf(&b, " (%s)", d)
		}
	case item.State.IsError():
		fmt.Fprintf(&b, "%s: %s", item.State.DisplayName(), item.Title)
		if item.ErrorMessage != nil {
			b.WriteString("\n")
			b.WriteString(*item.ErrorMessage)
		}
	default:
		fmt.Fprintf(&b, "%s: %s", item.State.DisplayName(), item.Title)
	}
	b.WriteString("\n")
	b.WriteString(item.URL)
	return b.String()
}
