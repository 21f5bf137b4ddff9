package delivery

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tele "gopkg.in/telebot.v4"
)

// Telegram message ceiling, in characters.
const telegramChunkLimit = 4096

// Telegram delivers chunks to a chat through the Bot API. It is an
// alternative to the default webhook transport for setups without a
// Discord channel.
type Telegram struct {
	token  string
	chatID int64
	bot    *tele.Bot
}

func NewTelegram(token string, chatID int64) *Telegram {
	return &Telegram{token: token, chatID: chatID}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Limit() int { return telegramChunkLimit }

// Validate checks credentials and performs the bot handshake (getMe), so a
// bad token is caught before any chunk is attempted.
func (t *Telegram) Validate() error {
	if t.token == "" {
		return fmt.Errorf("telegram: bot token is not configured")
	}
	if t.chatID == 0 {
		return fmt.Errorf("telegram: chat id is not configured")
	}
	if t.bot != nil {
		return nil
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  t.token,
		Client: &http.Client{Timeout: 10 * time.Second},
	})
	if err != nil {
		return fmt.Errorf("telegram: bot handshake: %w", err)
	}
	t.bot = b
	return nil
}

// Send delivers one chunk. telebot's API calls do not take a context, so the
// call runs in a goroutine and cancellation abandons it; the call itself is
// still bounded by the bot's HTTP client timeout.
func (t *Telegram) Send(ctx context.Context, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.bot == nil {
		return fmt.Errorf("telegram: transport not validated")
	}

	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(tele.ChatID(t.chatID), content, &tele.SendOptions{
			DisableWebPagePreview: true,
		})
		done <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("telegram: send: %w", err)
		}
		return nil
	}
}
