package bot

import (
	"errors"
	"fmt"
	"linkgate/entity"
	"linkgate/impl/core"
	"net/url"
	"strings"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
)

// Callback data prefixes. Telegram limits callback data to 64 bytes.
const (
	cbCheck = "ck:" // ck:<link id> or ck: for a plain membership check
	cbCopy  = "cp:" // cp:<link id>
)

func sessionKeyboard(redeemURL string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{{
			{Text: "🔐 OPEN VERIFICATION PANEL", WebApp: &tgbotapi.WebAppInfo{Url: redeemURL}},
		}},
	}
}

// joinKeyboard lists one button per missing group followed by a re-check button.
func joinKeyboard(invites []entity.Invite, linkId string) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, invite := range invites {
		text := "✅ Join channel"
		if invite.Title != "" {
			text = "✅ Join " + invite.Title
		}
		rows = append(rows, []tgbotapi.InlineKeyboardButton{{Text: text, Url: invite.URL}})
	}
	rows = append(rows, []tgbotapi.InlineKeyboardButton{{
		Text:         "🔁 I've joined - check now",
		CallbackData: cbCheck + linkId,
	}})
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func (t *TgBot) shareKeyboard(linkId string) tgbotapi.InlineKeyboardMarkup {
	shareUrl := fmt.Sprintf("https://t.me/share/url?url=%s&text=%s",
		url.QueryEscape(t.deepLink(linkId)),
		url.QueryEscape("Join via protected link"),
	)
	return tgbotapi.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{{
			{Text: "📤 Share link", Url: shareUrl},
			{Text: "📋 Copy link", CallbackData: cbCopy + linkId},
		}},
	}
}

// onCheckCallback re-runs the gate after the user says they joined.
func (t *TgBot) onCheckCallback(_ *tgbotapi.Bot, ctx *ext.Context) error {
	cq := ctx.CallbackQuery
	chatId := cq.From.Id
	linkId := strings.TrimPrefix(cq.Data, cbCheck)

	c, cancel := requestContext()
	defer cancel()

	if linkId == "" {
		err := t.core.CheckMembership(c, chatId)
		if err != nil {
			_, _ = cq.Answer(t.api, &tgbotapi.AnswerCallbackQueryOpts{Text: denialText(err), ShowAlert: true})
			return nil
		}
		t.editMessage(chatId, cq.Message, "✅ *Channel verified\\!*\n\nYou can now use the bot\\.", nil)
		_, _ = cq.Answer(t.api, &tgbotapi.AnswerCallbackQueryOpts{Text: "Verified"})
		return nil
	}

	_, err := t.core.RequestAccess(c, principalOf(&cq.From), linkId)
	if err != nil {
		var join *core.JoinRequiredError
		if errors.As(err, &join) {
			_, _ = cq.Answer(t.api, &tgbotapi.AnswerCallbackQueryOpts{Text: denialText(err), ShowAlert: true})
			return nil
		}
		_, _ = cq.Answer(t.api, &tgbotapi.AnswerCallbackQueryOpts{Text: accessErrorText(err), ShowAlert: true})
		return nil
	}

	t.editMessage(chatId, cq.Message, "✅ *Channel verified\\!*\n\nOpen the verification panel sent below\\.", nil)
	_, _ = cq.Answer(t.api, &tgbotapi.AnswerCallbackQueryOpts{Text: "Verified"})
	return nil
}

// onCopyCallback replaces the share buttons with the plain deep link.
func (t *TgBot) onCopyCallback(_ *tgbotapi.Bot, ctx *ext.Context) error {
	cq := ctx.CallbackQuery
	chatId := cq.From.Id
	linkId := strings.TrimPrefix(cq.Data, cbCopy)
	if linkId == "" {
		_, _ = cq.Answer(t.api, &tgbotapi.AnswerCallbackQueryOpts{Text: "Invalid link"})
		return nil
	}

	t.editMessage(chatId, cq.Message,
		fmt.Sprintf("✅ *Protected link*\n\n`%s`", Sanitize(t.deepLink(linkId))),
		nil,
	)
	_, _ = cq.Answer(t.api, &tgbotapi.AnswerCallbackQueryOpts{})
	return nil
}

// denialText explains a membership failure without leaking lookup details.
func denialText(err error) string {
	if errors.Is(err, entity.ErrUpstreamUnavailable) {
		return "Membership could not be checked right now. Please try again later."
	}
	return "You are not a member yet. Please join the channel first."
}

// accessErrorText is the user-facing text for a failed access request.
func accessErrorText(err error) string {
	switch {
	case errors.Is(err, entity.ErrLinkRevoked):
		return "This link has been revoked by its owner."
	case errors.Is(err, entity.ErrLinkNotFound):
		return "The link is invalid or has expired."
	case errors.Is(err, entity.ErrUnauthorized):
		return denialText(err)
	}
	return "Something went wrong. Please try again later."
}
