package telegram

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/harrisonrobin/taskbot/pkg/bot"
	"github.com/harrisonrobin/taskbot/pkg/util"
)

// maxMessageLength is Telegram's limit for one text message.
const maxMessageLength = 4096

// Handler is implemented by bot.Router.
type Handler interface {
	Handle(ctx context.Context, ev bot.Event) []bot.Reply
}

// Bot long-polls Telegram and runs every update on its own goroutine.
type Bot struct {
	api     *tgbotapi.BotAPI
	handler Handler
	wg      sync.WaitGroup
}

func New(token string, handler Handler) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to Telegram: %w", err)
	}
	log.Printf("[telegram] authorized as @%s", api.Self.UserName)
	return &Bot{api: api, handler: handler}, nil
}

// RegisterCommands publishes the command list shown by Telegram clients.
func (b *Bot) RegisterCommands(commands []bot.Command) error {
	var list []tgbotapi.BotCommand
	for _, c := range commands {
		list = append(list, tgbotapi.BotCommand{Command: c.Name, Description: c.Description})
	}
	if _, err := b.api.Request(tgbotapi.NewSetMyCommands(list...)); err != nil {
		return fmt.Errorf("unable to register commands: %w", err)
	}
	return nil
}

// Run polls for updates until ctx is done, then waits for in-flight handlers.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	defer b.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.dispatch(ctx, update)
			}()
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, update tgbotapi.Update) {
	if q := update.CallbackQuery; q != nil {
		if _, err := b.api.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
			log.Printf("[telegram] could not answer callback: %v", err)
		}
	}
	ev, ok := toEvent(update)
	if !ok {
		return
	}
	for _, reply := range b.handler.Handle(ctx, ev) {
		if err := b.Send(ctx, reply); err != nil {
			log.Printf("[telegram] send to chat %s failed: %v", reply.ChatID, err)
		}
	}
}

// Send implements bot.Sender.
func (b *Bot) Send(ctx context.Context, r bot.Reply) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := toMessage(r)
	if err != nil {
		return err
	}
	_, err = b.api.Send(msg)
	return err
}

// toEvent converts messages and button presses; other updates are ignored.
func toEvent(update tgbotapi.Update) (bot.Event, bool) {
	if q := update.CallbackQuery; q != nil {
		if q.Message == nil || q.Message.Chat == nil || q.From == nil {
			return bot.Event{}, false
		}
		return bot.Event{
			ChatID: strconv.FormatInt(q.Message.Chat.ID, 10),
			UserID: q.From.ID,
			Kind:   bot.KindButton,
			Text:   q.Data,
		}, true
	}

	m := update.Message
	if m == nil || m.Chat == nil || m.From == nil {
		return bot.Event{}, false
	}
	ev := bot.Event{
		ChatID: strconv.FormatInt(m.Chat.ID, 10),
		UserID: m.From.ID,
		Kind:   bot.KindText,
		Text:   m.Text,
	}
	if m.IsCommand() {
		ev.Kind = bot.KindCommand
		ev.Command = m.Command()
		ev.Args = m.CommandArguments()
	}
	return ev, true
}

func toMessage(r bot.Reply) (tgbotapi.MessageConfig, error) {
	chatID, err := strconv.ParseInt(r.ChatID, 10, 64)
	if err != nil {
		return tgbotapi.MessageConfig{}, fmt.Errorf("invalid chat id %q: %w", r.ChatID, err)
	}
	msg := tgbotapi.NewMessage(chatID, util.Truncate(r.Text, maxMessageLength))
	msg.DisableWebPagePreview = true

	switch {
	case len(r.Buttons) > 0:
		var rows [][]tgbotapi.InlineKeyboardButton
		for _, row := range r.Buttons {
			var buttons []tgbotapi.InlineKeyboardButton
			for _, btn := range row {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(btn.Label, btn.Action.Encode()))
			}
			rows = append(rows, buttons)
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	case r.Menu:
		var rows [][]tgbotapi.KeyboardButton
		for _, row := range bot.MenuLayout {
			var buttons []tgbotapi.KeyboardButton
			for _, label := range row {
				buttons = append(buttons, tgbotapi.NewKeyboardButton(label))
			}
			rows = append(rows, buttons)
		}
		keyboard := tgbotapi.NewReplyKeyboard(rows...)
		keyboard.ResizeKeyboard = true
		msg.ReplyMarkup = keyboard
	}
	return msg, nil
}
