package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
)

// DeliverChallenge sends the verification code privately to the principal.
func (t *TgBot) DeliverChallenge(ctx context.Context, principal int64, code string) error {
	text := fmt.Sprintf("🔢 *Verification code*\n\n`%s`\n\nEnter it in the verification panel\\.", Sanitize(code))
	_, err := t.api.SendMessageWithContext(ctx, principal, text, &tgbotapi.SendMessageOpts{
		ParseMode: "MarkdownV2",
	})
	if err != nil {
		return fmt.Errorf("send challenge: %w", err)
	}
	return nil
}

// DeliverSessionPrompt sends the Web App button that opens the redeem page.
func (t *TgBot) DeliverSessionPrompt(ctx context.Context, principal int64, redeemURL string) error {
	text := "🔒 *PROTECTED LINK ACCESS*\n\n" +
		"Click the button below to open the verification panel\\.\n\n" +
		"⚠️ _The session expires soon and can be used once_"
	_, err := t.api.SendMessageWithContext(ctx, principal, text, &tgbotapi.SendMessageOpts{
		ParseMode:   "MarkdownV2",
		ReplyMarkup: sessionKeyboard(redeemURL),
	})
	if err != nil {
		return fmt.Errorf("send session prompt: %w", err)
	}
	return nil
}

// NotifyAdmins forwards a MarkdownV2 message to every configured admin.
func (t *TgBot) NotifyAdmins(msg string) {
	t.notifyAdmins(msg)
}

// Broadcast sends plain text to every principal in ids; returns delivered and failed counts.
func (t *TgBot) Broadcast(ctx context.Context, ids []int64, text string) (int, int) {
	sent, failed := 0, 0
	for _, id := range ids {
		if ctx.Err() != nil {
			failed += len(ids) - sent - failed
			break
		}
		_, err := t.api.SendMessageWithContext(ctx, id, text, &tgbotapi.SendMessageOpts{})
		if err != nil {
			failed++
			continue
		}
		sent++
	}
	return sent, failed
}
