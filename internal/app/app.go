// Package app assembles the pipeline from configuration. Both the API server
// and the worker binary build the same graph and differ only in what they run.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailpipe/internal/api"
	"github.com/ignite/mailpipe/internal/config"
	"github.com/ignite/mailpipe/internal/domain"
	"github.com/ignite/mailpipe/internal/pkg/distlock"
	"github.com/ignite/mailpipe/internal/pkg/logger"
	"github.com/ignite/mailpipe/internal/queue"
	"github.com/ignite/mailpipe/internal/repository/memory"
	"github.com/ignite/mailpipe/internal/repository/postgres"
	"github.com/ignite/mailpipe/internal/service/campaign"
	"github.com/ignite/mailpipe/internal/service/delivery"
	"github.com/ignite/mailpipe/internal/service/identity"
	"github.com/ignite/mailpipe/internal/service/sendgate"
	"github.com/ignite/mailpipe/internal/service/suppression"
	"github.com/ignite/mailpipe/internal/transport"
	"github.com/ignite/mailpipe/internal/worker"
)

// App holds every long-lived component.
type App struct {
	Config *config.Config
	DB     *sql.DB
	Redis  *redis.Client
	Locks  distlock.Factory

	Queue        *queue.Failover
	Identity     *identity.Service
	Suppressions *suppression.Service
	Gate         *sendgate.Gate
	Delivery     *delivery.Service
	Campaigns    *campaign.Service
}

// stores groups the repositories for one persistence backend.
type stores struct {
	identities   identity.Repository
	suppressions suppression.Repository
	delivery     delivery.Log
	campaigns    interface {
		campaign.Repository
		campaign.SubscriberStore
		campaign.TemplateStore
	}
}

// Build connects to Postgres and Redis when configured and wires the
// services. Without DATABASE_URL every store is in memory.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	st := stores{
		identities:   memory.NewIdentityRepo(),
		suppressions: memory.NewSuppressionRepo(),
		delivery:     memory.NewDeliveryLog(),
		campaigns:    memory.NewCampaignRepo(),
	}
	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.DB = db
		st = stores{
			identities:   postgres.NewIdentityRepo(db),
			suppressions: postgres.NewSuppressionRepo(db),
			delivery:     postgres.NewDeliveryLog(db),
			campaigns:    postgres.NewCampaignRepo(db),
		}
	} else {
		logger.Warn("no database configured, using in-memory stores")
	}

	if cfg.Redis.Enabled() {
		client, err := newRedis(cfg.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = client
	}

	if a.Redis != nil || a.DB != nil {
		a.Locks = distlock.BackendFactory{Redis: a.Redis, DB: a.DB}
	} else {
		a.Locks = distlock.NewLocal()
	}

	tr, err := transport.New(ctx, cfg.Transport)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("transport: %w", err)
	}

	opts := []identity.Option{}
	if cfg.Domains.EncryptionKey != "" {
		cipher, err := identity.NewKeyCipher(cfg.Domains.EncryptionKey)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("dkim encryption key: %w", err)
		}
		opts = append(opts, identity.WithCipher(cipher))
	}
	if f, ok := st.identities.(identity.OwnerFlagger); ok {
		opts = append(opts, identity.WithOwnerFlagger(f))
	}
	if cfg.Domains.Route53.Enabled {
		pub, err := identity.NewRoute53Publisher(ctx, cfg.Domains.Route53)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("route53: %w", err)
		}
		opts = append(opts, identity.WithPublisher(pub))
	}
	a.Identity = identity.NewService(st.identities, a.Locks, identity.SettingsFromConfig(cfg), opts...)

	a.Suppressions = suppression.NewService(st.suppressions)
	a.Gate = sendgate.New(a.Identity, sendgate.PolicyFromConfig(cfg.Policy))
	a.Delivery = delivery.NewService(st.delivery, tr)

	qopts := queue.OptionsFromConfig(cfg.Queue)
	a.Queue = queue.Assemble(queue.Open(ctx, a.Redis, qopts), a.Delivery.Handle, qopts)

	a.Campaigns = campaign.NewService(campaign.Deps{
		Campaigns:   st.campaigns,
		Subscribers: st.campaigns,
		Templates:   st.campaigns,
		Suppression: a.Suppressions,
		Gate:        a.Gate,
		Queue:       a.Queue,
	}, campaign.SettingsFromConfig(cfg))

	logger.Info("pipeline assembled",
		"queue_mode", string(a.Queue.Mode()), "transport", tr.Name(),
		"postgres", a.DB != nil, "dkim_signing", a.Identity.SigningAvailable())
	return a, nil
}

func newRedis(cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.URL != "" {
		opt, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), nil
}

// Router maps every job kind to its handler.
func (a *App) Router() *worker.Router {
	return worker.NewRouter().
		Handle(domain.JobSingleEmail, a.Delivery.Handle).
		Handle(domain.JobCampaignBatch, a.Campaigns.HandleJob).
		Handle(domain.JobScheduledCampaign, a.Campaigns.HandleJob)
}

// Maintenance returns the cron sweeps for this process.
func (a *App) Maintenance() *worker.Maintenance {
	return worker.NewMaintenance(a.Config.Maintenance, a.Locks, a.Queue, a.Identity)
}

// APIDeps exposes the services to the HTTP layer.
func (a *App) APIDeps() api.Deps {
	return api.Deps{
		Domains:      a.Identity,
		Suppressions: a.Suppressions,
		Campaigns:    a.Campaigns,
		Queue:        a.Queue,
		Health:       api.NewHealthChecker(a.DB, a.Redis, a.Queue),
	}
}

// Close releases connections.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logger.Warn("close redis", "error", err)
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			logger.Warn("close database", "error", err)
		}
	}
}
