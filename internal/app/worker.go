package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/mailwatch/internal/credential"
	"github.com/nhle/mailwatch/internal/model"
	"github.com/nhle/mailwatch/internal/notify"
	"github.com/nhle/mailwatch/internal/source"
	"github.com/nhle/mailwatch/internal/source/gmail"
	"github.com/nhle/mailwatch/internal/source/imap"
	"github.com/nhle/mailwatch/internal/store"
	appsync "github.com/nhle/mailwatch/internal/sync"
)

// Worker bundles everything a poll loop needs. Close releases the store.
type Worker struct {
	Loop  *appsync.PollLoop
	Store store.DedupStore
}

// Close releases the dedup store.
func (w *Worker) Close() error {
	return w.Store.Close()
}

// BuildWorker resolves credentials and constructs the fetcher, store,
// notifier and loop. Credential failures surface as *credential.AuthError.
func BuildWorker(ctx context.Context, cfg *model.AppConfig, loc *time.Location, log *zap.SugaredLogger) (*Worker, error) {
	fetcher, err := buildFetcher(ctx, cfg, loc, log)
	if err != nil {
		return nil, err
	}

	dedup, err := store.Open(ctx, cfg.State)
	if err != nil {
		return nil, fmt.Errorf("opening %s state store: %w", cfg.State.Backend, err)
	}

	notifier := notify.New(cfg.Slack, cfg.Gmail.Query, log.Named("notify"))
	loop := appsync.New(fetcher, dedup, notifier, cfg.Gmail.Query, cfg.PollInterval(), log.Named("poller"))

	return &Worker{Loop: loop, Store: dedup}, nil
}

func buildFetcher(ctx context.Context, cfg *model.AppConfig, loc *time.Location, log *zap.SugaredLogger) (source.Fetcher, error) {
	switch cfg.Provider {
	case "imap":
		imapCfg := cfg.IMAP
		if imapCfg.Password == "" {
			password, err := imapPasswordFromKeyring()
			if err != nil {
				return nil, err
			}
			imapCfg.Password = password
		}
		return imap.New(imapCfg, loc, cfg.FullBody, log.Named("imap")), nil

	default:
		grants, err := credential.OpenGrantStore(cfg.Auth)
		if err != nil {
			return nil, err
		}
		cred, err := credential.NewDefaultManager(cfg, grants, log.Named("auth")).Obtain(ctx)
		if err != nil {
			return nil, err
		}
		f, err := gmail.New(ctx, cred.Client(ctx), loc, cfg.FullBody)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
}

func imapPasswordFromKeyring() (string, error) {
	ring, err := credential.OpenKeyring()
	if err != nil {
		return "", fmt.Errorf("imap.password is not set and the keyring is unavailable: %w", err)
	}
	password, err := ring.Get(credential.IMAPPasswordKey)
	if errors.Is(err, credential.ErrSecretNotFound) {
		return "", fmt.Errorf("imap.password is not set; store it with `mailwatch auth set-secret %s`", credential.IMAPPasswordKey)
	}
	if err != nil {
		return "", err
	}
	return password, nil
}
