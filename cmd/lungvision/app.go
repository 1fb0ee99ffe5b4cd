package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goliatone/go-logger/glog"
	accounts "github.com/lungvision/go-accounts"
	"github.com/lungvision/go-accounts/activitylog"
	"github.com/lungvision/go-accounts/cache"
	"github.com/lungvision/go-accounts/config"
	"github.com/lungvision/go-accounts/notify"
	"github.com/lungvision/go-accounts/persistence"
	"github.com/uptrace/bun"
)

// App holds the shared process state for every command.
type App struct {
	config  config.Config
	logger  *glog.BaseLogger
	db      *bun.DB
	repo    accounts.RepositoryManager
	closers []func() error
}

// Services is the wired account module.
type Services struct {
	Dispatcher   *accounts.NotificationDispatcher
	Machine      accounts.ApprovalStateMachine
	Registration *accounts.RegistrationHandler
	Tokens       *accounts.TokenServiceImpl
	Auther       *accounts.Auther
	Console      *accounts.AdminConsole
}

func (a *App) Config() config.Config {
	return a.config
}

// GetLogger returns a named logger. Debug output is dropped unless the
// configured level is debug or trace.
func (a *App) GetLogger(name string) accounts.Logger {
	level := strings.ToLower(a.config.Log.Level)
	return leveledLogger{
		Logger: a.logger.GetLogger(name),
		debug:  level == "debug" || level == "trace" || a.config.Server.Debug,
	}
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// WithPersistence opens the database and prepares the repositories.
func (a *App) WithPersistence(ctx context.Context) error {
	db, err := persistence.Open(ctx, persistence.Options{
		Driver:       a.config.Database.Driver,
		DSN:          a.config.Database.DSN,
		MaxOpenConns: a.config.Database.MaxOpenConns,
	})
	if err != nil {
		return err
	}
	a.onClose(db.Close)

	a.db = db
	a.repo = accounts.NewRepositoryManager(db)
	a.repo.MustValidate()

	return nil
}

// Notifier builds the configured email transport. With the kafka transport
// and runWorker set, a consumer delivering over SMTP runs until ctx ends.
func (a *App) Notifier(ctx context.Context, runWorker bool) (accounts.Notifier, error) {
	switch a.config.Notifications.Transport {
	case config.TransportSMTP:
		return a.smtpMailer()

	case config.TransportKafka:
		kcfg := notify.KafkaConfig{
			Brokers: a.config.Notifications.KafkaBrokers,
			Topic:   a.config.Notifications.KafkaTopic,
			GroupID: a.config.Notifications.KafkaGroupID,
		}

		queue := notify.NewQueueMailer(notify.NewKafkaWriter(kcfg), a.GetLogger("notify:queue"))
		a.onClose(queue.Close)

		if runWorker {
			mailer, err := a.smtpMailer()
			if err != nil {
				return nil, err
			}
			worker := notify.NewQueueWorker(notify.NewKafkaReader(kcfg), mailer, a.GetLogger("notify:worker"))
			a.onClose(worker.Close)

			logger := a.GetLogger("notify:worker")
			go func() {
				if err := worker.Run(ctx); err != nil {
					logger.Error("notification worker stopped", "error", err)
				}
			}()
		}
		return queue, nil

	case config.TransportLog, "":
		return notify.NewLogMailer(a.GetLogger("notify:log")), nil
	}

	return nil, fmt.Errorf("unknown notification transport %q", a.config.Notifications.Transport)
}

func (a *App) smtpMailer() (*notify.SMTPMailer, error) {
	mail := a.config.Mail
	return notify.NewSMTPMailer(notify.SMTPConfig{
		Host:     mail.Host,
		Port:     mail.Port,
		Username: mail.Username,
		Password: mail.Password,
		From:     mail.From,
		ReplyTo:  mail.ReplyTo,
		Timeout:  mail.Timeout.Duration,
	}, notify.WithSMTPLogger(a.GetLogger("notify:smtp")))
}

// Denylist returns the shared Redis denylist when configured, otherwise an
// in-process one sized to the refresh token lifetime.
func (a *App) Denylist(ctx context.Context) (accounts.TokenDenylist, error) {
	if addr := strings.TrimSpace(a.config.Redis.Addr); addr != "" {
		client := cache.NewRedisClient(cache.RedisOptions{
			Addrs:      strings.Split(addr, ","),
			Password:   a.config.Redis.Password,
			DB:         a.config.Redis.DB,
			UseCluster: strings.Contains(addr, ","),
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.onClose(client.Close)
		return cache.NewRedisDenylist(client, ""), nil
	}

	local, err := accounts.NewLocalDenylist(ctx, a.config.GetRefreshTokenTTL())
	if err != nil {
		return nil, err
	}
	a.onClose(local.Close)
	return local, nil
}

// Services wires the account module around the open database.
func (a *App) Services(notifier accounts.Notifier, denylist accounts.TokenDenylist) (*Services, error) {
	if a.repo == nil {
		return nil, errors.New("persistence not initialized")
	}

	sink := accounts.MultiActivitySink{
		activitylog.NewSink(a.db, activitylog.WithDefaultChannel("accounts")),
	}

	dispatcher := accounts.NewNotificationDispatcher(notifier,
		accounts.WithDispatcherLogger(a.GetLogger("accounts:notify")),
		accounts.WithDispatcherLoginURL(a.config.Mail.FrontendLoginURL),
	)

	machine := accounts.NewApprovalStateMachine(a.repo.Accounts(),
		accounts.WithStateMachineNotifier(dispatcher),
		accounts.WithStateMachineActivitySink(sink),
		accounts.WithStateMachineLogger(a.GetLogger("accounts:approval")),
	)

	registration := accounts.NewRegistrationHandler(a.repo,
		accounts.WithRegistrationActivitySink(sink),
		accounts.WithRegistrationLogger(a.GetLogger("accounts:register")),
		accounts.WithRegistrationHashid(a.config.Auth.UseHashid),
	)

	tokens := accounts.NewTokenService(a.config, accounts.WithTokenLogger(a.GetLogger("accounts:tokens")))

	auther := accounts.NewAuthenticator(a.repo.Accounts(), tokens,
		accounts.WithAutherDenylist(denylist),
		accounts.WithAutherActivitySink(sink),
		accounts.WithAutherLogger(a.GetLogger("accounts:auth")),
	)

	console := accounts.NewAdminConsole(a.repo, machine,
		accounts.WithConsoleDispatcher(dispatcher),
		accounts.WithConsoleLogger(a.GetLogger("accounts:console")),
	)

	return &Services{
		Dispatcher:   dispatcher,
		Machine:      machine,
		Registration: registration,
		Tokens:       tokens,
		Auther:       auther,
		Console:      console,
	}, nil
}

type leveledLogger struct {
	glog.Logger
	debug bool
}

func (l leveledLogger) Debug(msg string, args ...any) {
	if l.debug {
		l.Logger.Debug(msg, args...)
	}
}
