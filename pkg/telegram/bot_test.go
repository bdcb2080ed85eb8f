package telegram

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/harrisonrobin/taskbot/pkg/bot"
	"github.com/harrisonrobin/taskbot/pkg/model"
)

func TestToEvent(t *testing.T) {
	chat := &tgbotapi.Chat{ID: -1001}
	user := &tgbotapi.User{ID: 7}

	tests := []struct {
		name   string
		update tgbotapi.Update
		want   bot.Event
		ok     bool
	}{
		{
			name:   "text",
			update: tgbotapi.Update{Message: &tgbotapi.Message{Chat: chat, From: user, Text: "Buy milk"}},
			want:   bot.Event{ChatID: "-1001", UserID: 7, Kind: bot.KindText, Text: "Buy milk"},
			ok:     true,
		},
		{
			name: "command with arguments",
			update: tgbotapi.Update{Message: &tgbotapi.Message{Chat: chat, From: user, Text: "/done 3",
				Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 5}}}},
			want: bot.Event{ChatID: "-1001", UserID: 7, Kind: bot.KindCommand, Text: "/done 3", Command: "done", Args: "3"},
			ok:   true,
		},
		{
			name: "button",
			update: tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{ID: "q", From: user, Data: "done:3",
				Message: &tgbotapi.Message{Chat: chat}}},
			want: bot.Event{ChatID: "-1001", UserID: 7, Kind: bot.KindButton, Text: "done:3"},
			ok:   true,
		},
		{
			name:   "channel post",
			update: tgbotapi.Update{ChannelPost: &tgbotapi.Message{Chat: chat, Text: "hi"}},
		},
	}
	for _, tt := range tests {
		got, ok := toEvent(tt.update)
		if ok != tt.ok || got != tt.want {
			t.Errorf("%s: expected %+v (%v), got %+v (%v)", tt.name, tt.want, tt.ok, got, ok)
		}
	}
}

func TestToMessageButtons(t *testing.T) {
	msg, err := toMessage(bot.Reply{ChatID: "42", Text: "Choose priority:", Buttons: [][]bot.Button{{
		{Label: "high", Action: bot.Action{Kind: bot.ActSetPriority, TaskID: 3, Priority: model.HIGH}},
	}}})
	if err != nil {
		t.Fatal(err)
	}
	if msg.ChatID != 42 {
		t.Errorf("Expected chat 42, got %d", msg.ChatID)
	}
	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok {
		t.Fatalf("Expected inline keyboard, got %T", msg.ReplyMarkup)
	}
	btn := markup.InlineKeyboard[0][0]
	if btn.CallbackData == nil || *btn.CallbackData != "setprio:3:high" {
		t.Errorf("Expected callback data setprio:3:high, got %v", btn.CallbackData)
	}
}

func TestToMessageMenu(t *testing.T) {
	msg, err := toMessage(bot.Reply{ChatID: "42", Text: "Choose an action:", Menu: true})
	if err != nil {
		t.Fatal(err)
	}
	markup, ok := msg.ReplyMarkup.(tgbotapi.ReplyKeyboardMarkup)
	if !ok {
		t.Fatalf("Expected reply keyboard, got %T", msg.ReplyMarkup)
	}
	if got := markup.Keyboard[0][0].Text; got != bot.MenuAdd {
		t.Errorf("Expected first button %q, got %q", bot.MenuAdd, got)
	}
}

func TestToMessageRejectsBadChatID(t *testing.T) {
	if _, err := toMessage(bot.Reply{ChatID: "chat-a", Text: "x"}); err == nil {
		t.Error("Expected error for non-numeric chat id")
	}
}
