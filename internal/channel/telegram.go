// Package channel implements the outbound-messaging boundary: a real
// Telegram adapter and a simulated adapter with identical contracts. The
// dispatcher never knows which one it is talking to; selection happens once
// at startup based on whether bot credentials are configured.
package channel

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"agroalert/internal/types"
)

// Compile-time assertion that TelegramChannel implements types.ChannelAdapter.
var _ types.ChannelAdapter = (*TelegramChannel)(nil)

// botAPI is the slice of tgbotapi.BotAPI the adapter uses, extracted so tests
// can fake the Telegram backend.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramChannel delivers alerts as Telegram messages. Recipients are chat
// IDs rendered as decimal strings.
type TelegramChannel struct {
	bot     botAPI
	timeout time.Duration
}

// NewTelegramChannel authenticates against the Bot API and returns the
// adapter. Fails fast on a bad token so misconfiguration is caught at
// startup rather than on the first dispatch tick.
func NewTelegramChannel(token string, timeout time.Duration) (*TelegramChannel, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("authenticating telegram bot: %w", err)
	}
	return newTelegramChannel(bot, timeout), nil
}

func newTelegramChannel(bot botAPI, timeout time.Duration) *TelegramChannel {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &TelegramChannel{bot: bot, timeout: timeout}
}

// Name identifies the adapter in logs and the health endpoint.
func (t *TelegramChannel) Name() string { return "telegram" }

// Send delivers one message to the chat identified by recipient. The send
// runs with a bounded timeout so a stalled Bot API call cannot stall a whole
// dispatch tick; tgbotapi has no context support, so the call is raced
// against the deadline in a goroutine.
func (t *TelegramChannel) Send(ctx context.Context, recipient string, message string) (string, error) {
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeValidationMissingField,
			fmt.Sprintf("recipient %q is not a telegram chat id", recipient), err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type result struct {
		msg tgbotapi.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := t.bot.Send(tgbotapi.NewMessage(chatID, message))
		done <- result{msg: msg, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", types.NewAppError(types.ErrCodeUpstreamChannel, "telegram send timed out", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return "", types.NewAppError(types.ErrCodeUpstreamChannel, "telegram send failed", res.err)
		}
		return strconv.Itoa(res.msg.MessageID), nil
	}
}
