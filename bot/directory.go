package bot

import (
	"context"
	"errors"
	"fmt"
	"linkgate/entity"
	"linkgate/impl/membership"
	"strings"
	"time"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
)

// Directory answers membership lookups through the Bot API.
// The bot must be an administrator of every required group.
type Directory struct {
	api *tgbotapi.Bot
}

func (t *TgBot) Directory() *Directory {
	return &Directory{api: t.api}
}

func (d *Directory) MemberStatus(ctx context.Context, groupId, principal int64) (entity.MemberStatus, error) {
	member, err := d.api.GetChatMemberWithContext(ctx, groupId, principal, nil)
	if err != nil {
		return entity.StatusNone, classify(err)
	}
	return entity.MemberStatus(member.GetStatus()), nil
}

// CreateInviteLink creates a single-use invite link expiring at expireAt.
func (d *Directory) CreateInviteLink(ctx context.Context, groupId int64, expireAt time.Time) (string, error) {
	link, err := d.api.CreateChatInviteLinkWithContext(ctx, groupId, &tgbotapi.CreateChatInviteLinkOpts{
		ExpireDate:  expireAt.Unix(),
		MemberLimit: 1,
	})
	if err != nil {
		return "", classify(err)
	}
	return link.InviteLink, nil
}

// classify maps Bot API rejections onto the membership lookup errors.
// Anything that is not a definite rejection counts as an upstream failure.
func classify(err error) error {
	var tgErr *tgbotapi.TelegramError
	if !errors.As(err, &tgErr) {
		return fmt.Errorf("%w: %w", entity.ErrUpstreamUnavailable, err)
	}
	desc := strings.ToLower(tgErr.Description)
	switch {
	case strings.Contains(desc, "user not found"), strings.Contains(desc, "participant_id_invalid"):
		return fmt.Errorf("%w: %s", membership.ErrPrincipalUnknown, tgErr.Description)
	case strings.Contains(desc, "chat not found"):
		return fmt.Errorf("%w: %s", membership.ErrGroupUnknown, tgErr.Description)
	case tgErr.Code == 403, strings.Contains(desc, "not enough rights"), strings.Contains(desc, "chat_admin_required"):
		return fmt.Errorf("%w: %s", membership.ErrNoRights, tgErr.Description)
	}
	return fmt.Errorf("%w: %w", entity.ErrUpstreamUnavailable, err)
}
