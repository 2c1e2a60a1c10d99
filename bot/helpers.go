package bot

import (
	"fmt"
	"linkgate/lib/sl"
	"log/slog"
	"strings"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
)

const maxTelegramMessageLen = 4096

func (t *TgBot) plainResponse(chatId int64, text string) {
	if text == "" {
		t.log.With("id", chatId).Debug("empty message")
		return
	}

	_, err := t.api.SendMessage(chatId, text, &tgbotapi.SendMessageOpts{
		ParseMode: "MarkdownV2",
	})
	if err != nil {
		t.log.With(slog.Int64("id", chatId)).Warn("sending message", sl.Err(err))
		_, err = t.api.SendMessage(chatId, text, &tgbotapi.SendMessageOpts{})
		if err != nil {
			t.log.With(slog.Int64("id", chatId)).Error("sending safe message", sl.Err(err))
		}
	}
}

// Sanitize escapes the MarkdownV2 reserved characters.
func Sanitize(input string) string {
	reservedChars := "\\_{}#+-.!|()[]=*~`>"
	var sb strings.Builder
	for _, char := range input {
		if strings.ContainsRune(reservedChars, char) {
			sb.WriteRune('\\')
		}
		sb.WriteRune(char)
	}
	return sb.String()
}

// commandArgs returns the words after the command itself.
func commandArgs(text string) []string {
	args := strings.Fields(text)
	if len(args) < 2 {
		return nil
	}
	return args[1:]
}

// parseStartPayload extracts the link id from a deep link payload.
// Both "<id>" and "verify_<id>" are accepted.
func parseStartPayload(payload string) string {
	payload = strings.TrimSpace(payload)
	return strings.TrimPrefix(payload, "verify_")
}

func (t *TgBot) deepLink(linkId string) string {
	return fmt.Sprintf("https://t.me/%s?start=%s", t.Username(), linkId)
}

func (t *TgBot) notifyAdmins(msg string) {
	t.mu.RLock()
	adminIds := make([]int64, len(t.adminIds))
	copy(adminIds, t.adminIds)
	t.mu.RUnlock()

	for _, id := range adminIds {
		t.plainResponse(id, msg)
	}
}

func splitMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			parts = append(parts, text)
			break
		}
		// Try to split at newline
		cutAt := maxLen
		nlIdx := strings.LastIndex(text[:maxLen], "\n")
		if nlIdx > 0 {
			cutAt = nlIdx + 1
		}
		parts = append(parts, text[:cutAt])
		text = text[cutAt:]
	}
	return parts
}

func displayName(id int64, username, firstName string) string {
	switch {
	case username != "":
		return fmt.Sprintf("@%s (%d)", username, id)
	case firstName != "":
		return fmt.Sprintf("%s (%d)", firstName, id)
	}
	return fmt.Sprintf("%d", id)
}

// sendWithKeyboard sends a message with an inline keyboard attached.
func (t *TgBot) sendWithKeyboard(chatId int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) {
	if text == "" {
		return
	}
	_, err := t.api.SendMessage(chatId, text, &tgbotapi.SendMessageOpts{
		ParseMode:   "MarkdownV2",
		ReplyMarkup: keyboard,
	})
	if err != nil {
		t.log.With(slog.Int64("id", chatId)).Warn("sending message with keyboard", sl.Err(err))
		// Fallback: try without markdown
		_, err = t.api.SendMessage(chatId, text, &tgbotapi.SendMessageOpts{
			ReplyMarkup: keyboard,
		})
		if err != nil {
			t.log.With(slog.Int64("id", chatId)).Error("sending message with keyboard fallback", sl.Err(err))
		}
	}
}

// editMessage replaces the text and keyboard of the message a callback came from.
func (t *TgBot) editMessage(chatId int64, msg tgbotapi.MaybeInaccessibleMessage, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	if msg == nil {
		return
	}
	im, ok := msg.(tgbotapi.Message)
	if !ok {
		return
	}
	opts := &tgbotapi.EditMessageTextOpts{
		ChatId:    chatId,
		MessageId: im.MessageId,
		ParseMode: "MarkdownV2",
	}
	if keyboard != nil {
		opts.ReplyMarkup = *keyboard
	}
	_, _, err := t.api.EditMessageText(text, opts)
	if err != nil {
		t.log.With(slog.Int64("id", chatId)).Warn("editing message", sl.Err(err))
	}
}

// reportError logs the error, notifies admins with details, and sends a neutral message to the user.
func (t *TgBot) reportError(chatId int64, command string, err error) {
	t.log.Error("bot command failed",
		slog.String("command", command),
		slog.Int64("user_id", chatId),
		sl.Err(err),
	)
	t.notifyAdmins(fmt.Sprintf(
		"Command `%s` failed\nUser: `%d`\nError: `%s`",
		Sanitize(command), chatId, Sanitize(err.Error()),
	))
	t.plainResponse(chatId, "Something went wrong\\. Please try again later\\.")
}
