package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
)

const (
	recentUsersLimit = 10
	broadcastTimeout = 10 * time.Minute
)

func (t *TgBot) stats(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveUser.Id
	if !t.isAdmin(chatId) {
		t.plainResponse(chatId, "Admin access required\\.")
		return nil
	}

	c, cancel := requestContext()
	defer cancel()

	s, err := t.core.Stats(c)
	if err != nil {
		t.reportError(chatId, "/stats", err)
		return nil
	}

	store := "durable"
	if !s.Durable {
		store = "in\\-memory"
	}
	var sb strings.Builder
	sb.WriteString("📊 *Bot statistics*\n\n")
	sb.WriteString(fmt.Sprintf("👥 Users: %d\n", s.Users))
	sb.WriteString(fmt.Sprintf("🟢 Active today: %d\n", s.ActiveToday))
	sb.WriteString(fmt.Sprintf("🔗 Links: %d\n", s.Links))
	sb.WriteString(fmt.Sprintf("🔐 Live sessions: %d\n", s.Sessions))
	sb.WriteString(fmt.Sprintf("💾 Store: %s\n", store))
	t.plainResponse(chatId, sb.String())
	return nil
}

// usersCmd lists the most recently active principals.
func (t *TgBot) usersCmd(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveUser.Id
	if !t.isAdmin(chatId) {
		t.plainResponse(chatId, "Admin access required\\.")
		return nil
	}

	c, cancel := requestContext()
	defer cancel()

	users, err := t.core.RecentPrincipals(c, recentUsersLimit)
	if err != nil {
		t.reportError(chatId, "/users", err)
		return nil
	}
	if len(users) == 0 {
		t.plainResponse(chatId, "No users found\\.")
		return nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("*Recent users* \\(%d\\)\n\n", len(users)))
	for _, u := range users {
		sb.WriteString(fmt.Sprintf("%s \\| links:%d \\| verified:%d \\| %s\n",
			Sanitize(displayName(u.Id, u.Username, u.FirstName)),
			u.TotalLinks,
			u.TotalVerifications,
			Sanitize(u.LastActive.UTC().Format("2006-01-02 15:04")),
		))
	}
	for _, part := range splitMessage(sb.String(), maxTelegramMessageLen) {
		t.plainResponse(chatId, part)
	}
	return nil
}

// broadcast sends plain text to every principal in the ledger.
// Delivery runs in the background; the admin gets a summary when it ends.
func (t *TgBot) broadcast(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveUser.Id
	if !t.isAdmin(chatId) {
		t.plainResponse(chatId, "Admin access required\\.")
		return nil
	}

	text := strings.TrimSpace(strings.TrimPrefix(ctx.EffectiveMessage.Text, "/broadcast"))
	if i := strings.IndexAny(text, " \n"); strings.HasPrefix(text, "@") && i > 0 {
		// /broadcast@botname text
		text = strings.TrimSpace(text[i:])
	}
	if text == "" {
		t.plainResponse(chatId, "Usage: `/broadcast <text>`")
		return nil
	}

	c, cancel := requestContext()
	users, err := t.core.RecentPrincipals(c, 0)
	cancel()
	if err != nil {
		t.reportError(chatId, "/broadcast", err)
		return nil
	}

	ids := make([]int64, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.Id)
	}
	t.plainResponse(chatId, fmt.Sprintf("Broadcasting to %d users\\.\\.\\.", len(ids)))

	go func() {
		bc, bcancel := context.WithTimeout(context.Background(), broadcastTimeout)
		defer bcancel()
		sent, failed := t.Broadcast(bc, ids, text)
		t.log.With("sent", sent, "failed", failed).Info("broadcast finished")
		t.plainResponse(chatId, fmt.Sprintf("📢 Broadcast finished\nSent: %d\nFailed: %d", sent, failed))
	}()
	return nil
}
