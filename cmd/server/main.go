package main

import (
	"context"
	"errors"
	"flag"
	"linkgate/bot"
	"linkgate/impl/challenge"
	"linkgate/impl/core"
	"linkgate/impl/membership"
	"linkgate/impl/reaper"
	"linkgate/impl/registry"
	"linkgate/impl/session"
	"linkgate/internal/cache"
	"linkgate/internal/config"
	"linkgate/internal/database"
	"linkgate/internal/http-server/api"
	"linkgate/internal/http-server/middleware/authenticate"
	"linkgate/internal/metrics"
	"linkgate/lib/clock"
	"linkgate/lib/logger"
	"linkgate/lib/sl"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("conf", "config.yml", "path to config file")
	logPath := flag.String("log", "/var/log/", "path to log file directory")
	flag.Parse()

	conf := config.MustLoad(*configPath)
	log := logger.SetupLogger(conf.Env, *logPath)
	log.Info("starting linkgate", slog.String("config", *configPath), slog.String("env", conf.Env))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	clk := clock.System()

	var tgBot *bot.TgBot
	if conf.Telegram.Enabled {
		var err error
		tgBot, err = bot.NewTgBot(conf.Telegram.ApiKey, conf.Telegram.AdminIds, log)
		if err != nil {
			log.Error("telegram bot", sl.Err(err))
			os.Exit(1)
		}
		log = slog.New(logger.NewTelegramHandler(log.Handler(), tgBot, slog.LevelError))
		log.With(sl.Secret("token", conf.Telegram.ApiKey), slog.String("username", tgBot.Username())).Info("telegram bot created")
	}

	store, err := database.Open(ctx, conf, log)
	if err != nil {
		log.Error("database", sl.Err(err))
		os.Exit(1)
	}

	var inviteBackend membership.InviteBackend = membership.NewMemoryInvites(clk)
	opts := api.Options{
		Auth: authenticate.KeyRing(conf.Api.Keys),
	}
	if conf.Metrics.Enabled {
		opts.Metrics = m.Handler()
	}
	if conf.Redis.Enabled {
		client, err := cache.NewClient(ctx, conf.Redis)
		if err != nil {
			log.Error("redis unavailable; using in-process invite cache without rate limit", sl.Err(err))
		} else {
			defer client.Close()
			inviteBackend = cache.NewInvites(client)
			opts.Limiter = cache.NewLimiter(client, conf.Api.RateLimit, conf.Api.RateWindow)
		}
	}

	var dir membership.Directory
	if tgBot != nil {
		dir = tgBot.Directory()
	}
	gate := membership.New(dir, conf.Telegram.RequiredGroups, conf.Gate.MembershipTimeout, m, log)
	invites := membership.NewInvites(dir, inviteBackend, conf.Gate.InviteTTL, clk, log)

	links := registry.New(store, conf.Gate.LinkTTL, clk, m, log)
	sessions := session.New(store, links, session.Config{
		Window:      conf.Gate.SessionTTL,
		MaxAttempts: conf.Gate.MaxAttempts,
	}, clk, m, log)
	challenges := challenge.New(store, conf.Gate.ChallengeTTL, clk, m, log)

	gateCore := core.New(core.Config{
		Captcha:   conf.Gate.Captcha,
		PublicUrl: conf.PublicUrl,
		Admins:    conf.Telegram.AdminIds,
	}, links, sessions, gate, store, clk, m, log)
	gateCore.SetChallenges(challenges)
	gateCore.SetInvites(invites)

	if tgBot != nil {
		gateCore.SetNotifier(tgBot)
		tgBot.SetCore(gateCore)
		tgBot.SetLinkTTL(conf.Gate.LinkTTL)
	}

	sweeper := reaper.New(conf.Gate.ReapInterval, clk, m, log, sessions, challenges, links)
	sweeper.Start()

	server := api.New(conf, log, gateCore, opts)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if tgBot != nil {
		group.Go(func() error {
			return tgBot.Start()
		})
	}
	group.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if tgBot != nil {
			tgBot.Stop()
		}
		sweeper.Stop()
		if err := server.Shutdown(sctx); err != nil {
			log.Error("api shutdown", sl.Err(err))
		}
		if err := store.Close(sctx); err != nil {
			log.Error("database close", sl.Err(err))
		}
		return nil
	})

	if err = group.Wait(); err != nil {
		log.Error("server stopped", sl.Err(err))
		os.Exit(1)
	}
	log.Info("server stopped")
}
