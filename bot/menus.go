package bot

import (
	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
)

// Command lists for Telegram's menu button (the "/" icon in the chat input).
// Admins get their own list through BotCommandScopeChat.

var commandsUser = []tgbotapi.BotCommand{
	{Command: "start", Description: "Start the bot"},
	{Command: "protect", Description: "Generate a protected link"},
	{Command: "mylinks", Description: "List your links"},
	{Command: "revoke", Description: "Revoke one of your links"},
	{Command: "help", Description: "Show available commands"},
}

var commandsAdmin = append(append([]tgbotapi.BotCommand{}, commandsUser...),
	tgbotapi.BotCommand{Command: "stats", Description: "Bot statistics"},
	tgbotapi.BotCommand{Command: "users", Description: "Recent users"},
	tgbotapi.BotCommand{Command: "broadcast", Description: "Message all users"},
)

// setDefaultCommands sets the bot menu for everyone.
func (t *TgBot) setDefaultCommands() {
	_, err := t.api.SetMyCommands(commandsUser, &tgbotapi.SetMyCommandsOpts{
		Scope: tgbotapi.BotCommandScopeDefault{},
	})
	if err != nil {
		t.log.Warn("setting default commands", "error", err)
	}
}

// syncAdminMenus sets the extended menu for each configured admin.
func (t *TgBot) syncAdminMenus() {
	t.mu.RLock()
	adminIds := make([]int64, len(t.adminIds))
	copy(adminIds, t.adminIds)
	t.mu.RUnlock()

	for _, id := range adminIds {
		_, err := t.api.SetMyCommands(commandsAdmin, &tgbotapi.SetMyCommandsOpts{
			Scope: tgbotapi.BotCommandScopeChat{ChatId: id},
		})
		if err != nil {
			t.log.Warn("setting admin commands", "chat_id", id, "error", err)
		}
	}
}
