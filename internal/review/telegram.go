package review

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
)

// Bot is the part of the Telegram client the prompter uses.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Telegram prompts through a Telegram chat. Decisions arrive as inline
// keyboard callbacks; feedback is the next text message in the chat.
type Telegram struct {
	bot     Bot
	chatID  int64
	updates <-chan tgbotapi.Update

	// card is the message whose buttons are live. Presses on older
	// messages are ignored.
	card int
}

// NewTelegram creates a prompter for chatID fed by updates.
func NewTelegram(bot Bot, chatID int64, updates <-chan tgbotapi.Update) *Telegram {
	return &Telegram{bot: bot, chatID: chatID, updates: updates}
}

// ConnectTelegram logs in with token and starts receiving updates. The
// returned stop function ends polling.
func ConnectTelegram(token string, chatID int64) (*Telegram, func(), error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to telegram: %w", err)
	}
	log.Infof("Telegram review bot authorized as @%s", api.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := api.GetUpdatesChan(u)
	return NewTelegram(api, chatID, updates), api.StopReceivingUpdates, nil
}

var actionKeyboard = tgbotapi.NewInlineKeyboardMarkup(
	tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("🚀 Publish", string(ActionPublish)),
		tgbotapi.NewInlineKeyboardButtonData("✅ Approve", string(ActionApprove)),
		tgbotapi.NewInlineKeyboardButtonData("✏️ Refine", string(ActionRefine)),
	),
	tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("⏭ Skip", string(ActionSkip)),
		tgbotapi.NewInlineKeyboardButtonData("🚪 Quit", string(ActionQuit)),
	),
)

var keepKeyboard = tgbotapi.NewInlineKeyboardMarkup(
	tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Keep approved", "y"),
		tgbotapi.NewInlineKeyboardButtonData("Reject", "n"),
	),
)

func (t *Telegram) Show(_ context.Context, item Item) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Comment %d/%d\n\n", item.Index, item.Total)
	if p := item.Post; p != nil {
		fmt.Fprintf(&b, "@%s · score %.2f · %d❤️ %d🔁 %d💬\n%s\n%s\n\n",
			p.Author.Username, p.TrendingScore, p.LikeCount, p.RepostCount, p.ReplyCount,
			p.Ref().URL(), p.Text)
	} else {
		fmt.Fprintf(&b, "Post %s (not available)\n\n", item.Comment.PostID)
	}
	fmt.Fprintf(&b, "Draft:\n%s", item.Comment.Content)

	msg := tgbotapi.NewMessage(t.chatID, b.String())
	msg.ReplyMarkup = actionKeyboard
	return t.sendCard(msg)
}

func (t *Telegram) sendCard(msg tgbotapi.MessageConfig) error {
	sent, err := t.bot.Send(msg)
	if err != nil {
		return err
	}
	t.card = sent.MessageID
	return nil
}

// next waits for a callback or text message from the review chat.
func (t *Telegram) next(ctx context.Context) (tgbotapi.Update, error) {
	for {
		select {
		case <-ctx.Done():
			return tgbotapi.Update{}, ctx.Err()
		case u, ok := <-t.updates:
			if !ok {
				return tgbotapi.Update{}, ErrQuit
			}
			if chat := u.FromChat(); chat == nil || chat.ID != t.chatID {
				continue
			}
			return u, nil
		}
	}
}

// choice waits for a button press on the current card and acknowledges it.
func (t *Telegram) choice(ctx context.Context) (string, error) {
	for {
		u, err := t.next(ctx)
		if err != nil {
			return "", err
		}
		cb := u.CallbackQuery
		if cb == nil {
			continue
		}
		if cb.Message == nil || cb.Message.MessageID != t.card {
			t.ack(cb.ID, "This card is no longer active.")
			continue
		}
		t.ack(cb.ID, "")
		return cb.Data, nil
	}
}

func (t *Telegram) ack(id, text string) {
	if _, err := t.bot.Request(tgbotapi.NewCallback(id, text)); err != nil {
		log.Debugf("Acknowledging telegram callback: %v", err)
	}
}

func (t *Telegram) Ask(ctx context.Context) (Action, error) {
	data, err := t.choice(ctx)
	if err != nil {
		return "", err
	}
	return Action(data), nil
}

func (t *Telegram) Feedback(ctx context.Context) (string, error) {
	if err := t.Notify(ctx, "Send your feedback for this comment."); err != nil {
		return "", err
	}
	for {
		u, err := t.next(ctx)
		if err != nil {
			return "", err
		}
		if u.Message != nil && u.Message.Text != "" {
			return strings.TrimSpace(u.Message.Text), nil
		}
	}
}

func (t *Telegram) KeepForLater(ctx context.Context, cause error) (bool, error) {
	msg := tgbotapi.NewMessage(t.chatID, fmt.Sprintf("Publishing failed: %v\nKeep it approved to retry later?", cause))
	msg.ReplyMarkup = keepKeyboard
	if err := t.sendCard(msg); err != nil {
		return false, err
	}
	data, err := t.choice(ctx)
	if err != nil {
		return false, err
	}
	return data == "y", nil
}

func (t *Telegram) Notify(_ context.Context, msg string) error {
	_, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, msg))
	return err
}
