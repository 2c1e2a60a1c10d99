// Package bot is the Telegram surface of the link gate.
//
// Layout:
//   - tgbot.go     - TgBot struct, lifecycle (Start/Stop), Core interface
//   - commands.go  - /start, /protect, /revoke, /mylinks, /help
//   - admin.go     - /stats, /users, /broadcast
//   - callbacks.go - inline keyboards and callback handlers (ck:, cp:)
//   - directory.go - membership.Directory over getChatMember/createChatInviteLink
//   - messaging.go - Notifier for the gate, admin notifications for the logger
//   - menus.go     - command menus per role
//   - helpers.go   - Sanitize, plainResponse, sendWithKeyboard, reportError
//
// Data flow for a protected link:
//
//	/start <id> → Core.RequestAccess → membership gate → (challenge) → session
//	  → DeliverSessionPrompt sends the Web App button with the redeem URL
//	  → on JoinRequiredError the user gets invite buttons and a "check now" callback
package bot

import (
	"context"
	"fmt"
	"linkgate/entity"
	"linkgate/impl/core"
	"linkgate/lib/sl"
	"log/slog"
	"sync"
	"time"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/callbackquery"
)

const requestTimeout = 10 * time.Second

// Core is the part of the gate orchestrator the bot drives.
// Implemented by impl/core.
type Core interface {
	IsAdmin(principal int64) bool
	TouchPrincipal(ctx context.Context, p entity.Principal)
	CheckMembership(ctx context.Context, principal int64) error
	RequestAccess(ctx context.Context, p entity.Principal, linkId string) (*core.AccessGrant, error)
	CreateLink(ctx context.Context, owner entity.Principal, destination string) (*entity.LinkRecord, error)
	RevokeLink(ctx context.Context, id string, requester int64) (*entity.LinkRecord, error)
	ListLinks(ctx context.Context, owner int64) ([]*entity.LinkRecord, error)
	Stats(ctx context.Context) (*entity.Stats, error)
	RecentPrincipals(ctx context.Context, limit int) ([]*entity.Principal, error)
}

type TgBot struct {
	log      *slog.Logger
	api      *tgbotapi.Bot
	core     Core
	updater  *ext.Updater
	mu       sync.RWMutex // guards adminIds and updater
	adminIds []int64
	linkTTL  time.Duration
}

func NewTgBot(apiKey string, adminIds []int64, log *slog.Logger) (*TgBot, error) {
	tgBot := &TgBot{
		log:      log.With(sl.Module("tgbot")),
		adminIds: append([]int64(nil), adminIds...),
	}

	api, err := tgbotapi.NewBot(apiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating api instance: %v", err)
	}
	tgBot.api = api

	return tgBot, nil
}

func (t *TgBot) SetCore(c Core) {
	t.core = c
}

// SetLinkTTL is only used to tell link owners how long a link lives.
func (t *TgBot) SetLinkTTL(ttl time.Duration) {
	t.linkTTL = ttl
}

// Username of the bot account, used to build deep links.
func (t *TgBot) Username() string {
	if t.api == nil {
		return ""
	}
	return t.api.Username
}

// Start registers handlers and blocks while polling.
func (t *TgBot) Start() error {
	if t.core == nil {
		return fmt.Errorf("core not connected")
	}

	dispatcher := ext.NewDispatcher(&ext.DispatcherOpts{
		Error: func(b *tgbotapi.Bot, ctx *ext.Context, err error) ext.DispatcherAction {
			t.log.Error("handling update:", sl.Err(err))
			return ext.DispatcherActionNoop
		},
		MaxRoutines: ext.DefaultMaxRoutines,
	})
	updater := ext.NewUpdater(dispatcher, nil)
	t.mu.Lock()
	t.updater = updater
	t.mu.Unlock()

	// User commands
	dispatcher.AddHandler(handlers.NewCommand("start", t.start))
	dispatcher.AddHandler(handlers.NewCommand("protect", t.protect))
	dispatcher.AddHandler(handlers.NewCommand("revoke", t.revoke))
	dispatcher.AddHandler(handlers.NewCommand("mylinks", t.myLinks))
	dispatcher.AddHandler(handlers.NewCommand("help", t.help))

	// Admin commands
	dispatcher.AddHandler(handlers.NewCommand("stats", t.stats))
	dispatcher.AddHandler(handlers.NewCommand("users", t.usersCmd))
	dispatcher.AddHandler(handlers.NewCommand("broadcast", t.broadcast))

	// Callback query handlers
	dispatcher.AddHandler(handlers.NewCallback(callbackquery.Prefix(cbCheck), t.onCheckCallback))
	dispatcher.AddHandler(handlers.NewCallback(callbackquery.Prefix(cbCopy), t.onCopyCallback))

	t.setDefaultCommands()
	t.syncAdminMenus()

	err := updater.StartPolling(t.api, &ext.PollingOpts{
		DropPendingUpdates: true,
		GetUpdatesOpts: &tgbotapi.GetUpdatesOpts{
			Timeout: 9,
			RequestOpts: &tgbotapi.RequestOpts{
				Timeout: time.Second * 10,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start polling: %w", err)
	}

	updater.Idle()
	return nil
}

func (t *TgBot) Stop() {
	t.mu.RLock()
	updater := t.updater
	t.mu.RUnlock()
	if updater != nil {
		t.log.Info("stopping telegram bot")
		updater.Stop()
	}
}

func (t *TgBot) isAdmin(id int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, a := range t.adminIds {
		if a == id {
			return true
		}
	}
	return false
}

// principalOf converts the sender of an update into a ledger entry.
func principalOf(user *tgbotapi.User) entity.Principal {
	if user == nil {
		return entity.Principal{}
	}
	return entity.Principal{
		Id:        user.Id,
		Username:  user.Username,
		FirstName: user.FirstName,
	}
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}
