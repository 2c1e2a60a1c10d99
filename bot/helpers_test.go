package bot

import (
	"errors"
	"fmt"
	"linkgate/entity"
	"linkgate/impl/core"
	"linkgate/impl/membership"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	assert.Equal(t, "https://t\\.me/\\+abc\\_1", Sanitize("https://t.me/+abc_1"))
	assert.Equal(t, "a\\>b \\~ \\`c\\`", Sanitize("a>b ~ `c`"))
	assert.Equal(t, "plain", Sanitize("plain"))
}

func TestParseStartPayload(t *testing.T) {
	assert.Equal(t, "Abc123", parseStartPayload("Abc123"))
	assert.Equal(t, "Abc123", parseStartPayload("verify_Abc123"))
	assert.Equal(t, "", parseStartPayload(" "))
}

func TestCommandArgs(t *testing.T) {
	assert.Nil(t, commandArgs("/start"))
	assert.Equal(t, []string{"https://t.me/group"}, commandArgs("/protect  https://t.me/group"))
}

func TestSplitMessage(t *testing.T) {
	text := strings.Repeat("line\n", 10)
	parts := splitMessage(text, 12)
	require.Greater(t, len(parts), 1)
	assert.Equal(t, text, strings.Join(parts, ""))
	for _, p := range parts {
		assert.LessOrEqual(t, len(p), 12)
	}
	assert.Equal(t, []string{"short"}, splitMessage("short", 12))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"user", &tgbotapi.TelegramError{Code: 400, Description: "Bad Request: user not found"}, membership.ErrPrincipalUnknown},
		{"participant", &tgbotapi.TelegramError{Code: 400, Description: "Bad Request: PARTICIPANT_ID_INVALID"}, membership.ErrPrincipalUnknown},
		{"chat", &tgbotapi.TelegramError{Code: 400, Description: "Bad Request: chat not found"}, membership.ErrGroupUnknown},
		{"forbidden", &tgbotapi.TelegramError{Code: 403, Description: "Forbidden: bot was kicked"}, membership.ErrNoRights},
		{"rights", &tgbotapi.TelegramError{Code: 400, Description: "Bad Request: not enough rights"}, membership.ErrNoRights},
		{"server", &tgbotapi.TelegramError{Code: 502, Description: "Bad Gateway"}, entity.ErrUpstreamUnavailable},
		{"transport", errors.New("dial tcp: i/o timeout"), entity.ErrUpstreamUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify(tt.err), tt.want)
		})
	}
}

func TestJoinKeyboard(t *testing.T) {
	kb := joinKeyboard([]entity.Invite{
		{GroupID: -100, URL: "https://t.me/+a"},
		{GroupID: -200, Title: "News", URL: "https://t.me/+b"},
	}, "Abc123")

	require.Len(t, kb.InlineKeyboard, 3)
	assert.Equal(t, "https://t.me/+a", kb.InlineKeyboard[0][0].Url)
	assert.Equal(t, "✅ Join News", kb.InlineKeyboard[1][0].Text)
	assert.Equal(t, "ck:Abc123", kb.InlineKeyboard[2][0].CallbackData)
	assert.LessOrEqual(t, len(kb.InlineKeyboard[2][0].CallbackData), 64)
}

func TestSessionKeyboard(t *testing.T) {
	kb := sessionKeyboard("https://example.com/join?token=abc")
	require.Len(t, kb.InlineKeyboard, 1)
	require.NotNil(t, kb.InlineKeyboard[0][0].WebApp)
	assert.Equal(t, "https://example.com/join?token=abc", kb.InlineKeyboard[0][0].WebApp.Url)
}

func TestAccessErrorText(t *testing.T) {
	revoked := fmt.Errorf("%w: %w", entity.ErrLinkNotFound, entity.ErrLinkRevoked)
	assert.Contains(t, accessErrorText(revoked), "revoked")
	assert.Contains(t, accessErrorText(entity.ErrLinkNotFound), "invalid")

	upstream := &core.JoinRequiredError{Err: &entity.MembershipError{
		Principal: 1,
		Denials:   []entity.Denial{{GroupID: -100, Reason: entity.DenyUpstream}},
	}}
	assert.Contains(t, accessErrorText(upstream), "could not be checked")

	notMember := &core.JoinRequiredError{Err: &entity.MembershipError{
		Principal: 1,
		Denials:   []entity.Denial{{GroupID: -100, Reason: entity.DenyNotMember}},
	}}
	assert.Contains(t, accessErrorText(notMember), "not a member")
}

func TestFormatTTL(t *testing.T) {
	assert.Equal(t, "30 days", formatTTL(720*time.Hour))
	assert.Equal(t, "1h30m0s", formatTTL(90*time.Minute))
}
