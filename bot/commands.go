package bot

import (
	"errors"
	"fmt"
	"linkgate/entity"
	"linkgate/impl/core"
	"strings"
	"time"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
)

const separator = "━━━━━━━━━━━━━━━━━━━━━━"

func (t *TgBot) start(_ *tgbotapi.Bot, ctx *ext.Context) error {
	user := ctx.EffectiveUser
	if user == nil {
		return nil
	}
	chatId := user.Id

	c, cancel := requestContext()
	defer cancel()

	args := commandArgs(ctx.EffectiveMessage.Text)
	if len(args) > 0 {
		linkId := parseStartPayload(args[0])
		t.requestAccess(chatId, user, linkId)
		return nil
	}

	t.core.TouchPrincipal(c, principalOf(user))
	if err := t.core.CheckMembership(c, chatId); err != nil {
		t.sendJoinRequired(chatId, err, "")
		return nil
	}

	name := user.FirstName
	if name == "" {
		name = "User"
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s\n🎊 *Welcome %s*\n%s\n\n", separator, Sanitize(name), separator))
	sb.WriteString("🤖 *I protect links to your channels and groups\\.*\n\n")
	sb.WriteString("💡 *How to use:*\n")
	sb.WriteString("1\\. Send `/protect <your link>`\n")
	sb.WriteString("2\\. Share the protected link\n")
	sb.WriteString("3\\. Users verify via the Web App\n")
	sb.WriteString("4\\. Verified users get the real link once\n")
	t.plainResponse(chatId, sb.String())
	return nil
}

// requestAccess runs the gate for a deep link and answers with whatever the
// user must do next. On success the session prompt is sent by the notifier.
func (t *TgBot) requestAccess(chatId int64, user *tgbotapi.User, linkId string) {
	c, cancel := requestContext()
	defer cancel()

	_, err := t.core.RequestAccess(c, principalOf(user), linkId)
	if err == nil {
		return
	}

	var join *core.JoinRequiredError
	switch {
	case errors.As(err, &join):
		t.sendJoinRequired(chatId, err, linkId)
	case errors.Is(err, entity.ErrLinkRevoked), errors.Is(err, entity.ErrLinkNotFound):
		t.plainResponse(chatId, fmt.Sprintf("%s\n❌ *Invalid link*\n%s\n\n%s", separator, separator, Sanitize(accessErrorText(err))))
	default:
		t.reportError(chatId, "/start "+linkId, err)
	}
}

// sendJoinRequired shows invite buttons for every missing group.
func (t *TgBot) sendJoinRequired(chatId int64, err error, linkId string) {
	if errors.Is(err, entity.ErrUpstreamUnavailable) {
		t.plainResponse(chatId, Sanitize(denialText(err)))
		return
	}
	var invites []entity.Invite
	var join *core.JoinRequiredError
	if errors.As(err, &join) {
		invites = join.Invites
	}
	if len(invites) == 0 {
		t.plainResponse(chatId, "Please contact the admin to get the channel invite link\\.")
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s\n📢 *Channel verification required*\n%s\n\n", separator, separator))
	sb.WriteString("To continue, join the channel first:\n")
	sb.WriteString("1\\. Click the join button\n")
	sb.WriteString("2\\. Join the channel\n")
	sb.WriteString("3\\. Come back and click *I've joined \\- check now*\n")
	t.sendWithKeyboard(chatId, sb.String(), joinKeyboard(invites, linkId))
}

func (t *TgBot) protect(_ *tgbotapi.Bot, ctx *ext.Context) error {
	user := ctx.EffectiveUser
	if user == nil {
		return nil
	}
	chatId := user.Id

	c, cancel := requestContext()
	defer cancel()

	if err := t.core.CheckMembership(c, chatId); err != nil {
		t.sendJoinRequired(chatId, err, "")
		return nil
	}
	if ctx.EffectiveChat != nil && ctx.EffectiveChat.Type != "private" {
		t.plainResponse(ctx.EffectiveChat.Id, "Please use this command in private chat\\.")
		return nil
	}

	args := commandArgs(ctx.EffectiveMessage.Text)
	if len(args) == 0 {
		var sb strings.Builder
		sb.WriteString("*Usage:* `/protect <group link>`\n\n")
		sb.WriteString("*Supported links:*\n")
		sb.WriteString("• Public group: `https://t.me/groupname`\n")
		sb.WriteString("• Approval link: `https://t.me/joinchat/xxxxx`\n")
		sb.WriteString("• Private link: `https://t.me/\\+invitecode`\n")
		sb.WriteString("• Channel link: `https://t.me/c/xxxxx`\n")
		t.plainResponse(chatId, sb.String())
		return nil
	}

	link, err := t.core.CreateLink(c, principalOf(user), args[0])
	if err != nil {
		if errors.Is(err, entity.ErrInvalidDestination) {
			t.plainResponse(chatId, "❌ *Invalid Telegram link*\n\nPlease provide a valid Telegram group or channel link\\.")
			return nil
		}
		t.reportError(chatId, "/protect", err)
		return nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s\n✅ *LINK PROTECTED*\n%s\n\n", separator, separator))
	sb.WriteString(fmt.Sprintf("*Protected link:*\n`%s`\n\n", Sanitize(t.deepLink(link.Id))))
	sb.WriteString(fmt.Sprintf("*Link ID:* `%s`\n", Sanitize(link.Id)))
	if t.linkTTL > 0 {
		sb.WriteString(fmt.Sprintf("*Expires:* %s\n", Sanitize(formatTTL(t.linkTTL))))
	}
	sb.WriteString(fmt.Sprintf("\nRevoke with `/revoke %s`", Sanitize(link.Id)))
	t.sendWithKeyboard(chatId, sb.String(), t.shareKeyboard(link.Id))
	return nil
}

func (t *TgBot) revoke(_ *tgbotapi.Bot, ctx *ext.Context) error {
	user := ctx.EffectiveUser
	if user == nil {
		return nil
	}
	chatId := user.Id

	args := commandArgs(ctx.EffectiveMessage.Text)
	if len(args) == 0 {
		t.plainResponse(chatId, "Usage: `/revoke <link id>`")
		return nil
	}
	linkId := parseStartPayload(args[0])

	c, cancel := requestContext()
	defer cancel()
	t.core.TouchPrincipal(c, principalOf(user))

	_, err := t.core.RevokeLink(c, linkId, chatId)
	switch {
	case err == nil:
		t.plainResponse(chatId, fmt.Sprintf("Link `%s` revoked\\.", Sanitize(linkId)))
	case errors.Is(err, entity.ErrForbidden):
		t.plainResponse(chatId, "Only the owner can revoke this link\\.")
	case errors.Is(err, entity.ErrNotFound):
		t.plainResponse(chatId, "Link not found\\.")
	default:
		t.reportError(chatId, "/revoke", err)
	}
	return nil
}

func (t *TgBot) myLinks(_ *tgbotapi.Bot, ctx *ext.Context) error {
	user := ctx.EffectiveUser
	if user == nil {
		return nil
	}
	chatId := user.Id

	c, cancel := requestContext()
	defer cancel()
	t.core.TouchPrincipal(c, principalOf(user))

	links, err := t.core.ListLinks(c, chatId)
	if err != nil {
		t.reportError(chatId, "/mylinks", err)
		return nil
	}
	if len(links) == 0 {
		t.plainResponse(chatId, "You have no protected links\\. Use `/protect <link>` to create one\\.")
		return nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("*Your links* \\(%d\\)\n\n", len(links)))
	for _, l := range links {
		state := "active"
		if !l.Active {
			state = "revoked"
		}
		sb.WriteString(fmt.Sprintf("`%s` \\| %s \\| opens:%d \\| users:%d\n",
			Sanitize(l.Id),
			Sanitize(state),
			l.AccessCount,
			len(l.UniquePrincipals),
		))
	}
	for _, part := range splitMessage(sb.String(), maxTelegramMessageLen) {
		t.plainResponse(chatId, part)
	}
	return nil
}

func (t *TgBot) help(_ *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveUser.Id

	var sb strings.Builder
	sb.WriteString("*Available Commands*\n\n")
	sb.WriteString("`/start` \\- Start the bot\n")
	sb.WriteString("`/protect <link>` \\- Generate a protected link\n")
	sb.WriteString("`/mylinks` \\- List your links\n")
	sb.WriteString("`/revoke <id>` \\- Revoke one of your links\n")
	sb.WriteString("`/help` \\- Show this help\n")

	if t.isAdmin(chatId) {
		sb.WriteString("\n*Admin Commands:*\n")
		sb.WriteString("`/stats` \\- Bot statistics\n")
		sb.WriteString("`/users` \\- Recent users\n")
		sb.WriteString("`/broadcast <text>` \\- Message all users\n")
	}

	t.plainResponse(chatId, sb.String())
	return nil
}

func formatTTL(ttl time.Duration) string {
	if ttl >= 24*time.Hour && ttl%(24*time.Hour) == 0 {
		return fmt.Sprintf("%d days", int(ttl/(24*time.Hour)))
	}
	return ttl.String()
}
