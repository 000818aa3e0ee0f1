package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/router-for-me/wearsync/internal/api"
	"github.com/router-for-me/wearsync/internal/api/handlers/integration"
	"github.com/router-for-me/wearsync/internal/auth/wearable"
	"github.com/router-for-me/wearsync/internal/config"
	"github.com/router-for-me/wearsync/internal/health"
	"github.com/router-for-me/wearsync/internal/logging"
	"github.com/router-for-me/wearsync/internal/notify"
	"github.com/router-for-me/wearsync/internal/store"
	"github.com/router-for-me/wearsync/internal/util"
	"github.com/router-for-me/wearsync/internal/watcher"
	"github.com/router-for-me/wearsync/internal/webhook"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	storeInitTimeout   = 30 * time.Second
	memoryDeadLetters  = 1000
	defaultGitStoreDir = "gitstore"
)

// StoreOptions selects the persistence backends. Zero values keep everything on local disk.
type StoreOptions struct {
	Postgres *store.PostgresStoreConfig
	Object   *store.ObjectStoreConfig

	GitRemote   string
	GitUser     string
	GitPassword string
	GitRepoDir  string
	UseGitStore bool
}

// ServiceOptions configures StartService.
type ServiceOptions struct {
	Stores StoreOptions

	// OnReady runs once the HTTP listener is about to start.
	OnReady func(cfg *config.Config)
}

// service groups the long-lived components so shutdown can walk them in reverse.
type service struct {
	cfg        *config.Config
	configPath string

	ledger      wearable.CodeLedger
	coordinator *wearable.Coordinator

	authenticator *webhook.Authenticator
	queue         *webhook.Queue
	processor     *webhook.Processor
	stats         *webhook.Stats
	spoolPath     string

	dispatcher *notify.Dispatcher
	alerts     *health.AlertTrigger
	server     *api.Server
	watcher    *watcher.Watcher

	closers []func() error
}

// StartService wires every component and blocks until ctx is cancelled or a
// component fails. Pending queue items are spooled to disk on the way out.
func StartService(ctx context.Context, cfg *config.Config, configPath string, opts ServiceOptions) error {
	dataDir, err := util.ResolveDataDir(cfg.DataDir)
	if err != nil {
		return err
	}
	cfg.DataDir = dataDir
	if err = os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	svc := &service{cfg: cfg, configPath: configPath}
	defer svc.close()

	if err = svc.build(ctx, opts.Stores); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	svc.coordinator.Sessions().StartSweeper(runCtx, cfg.Provider.SessionSweep())
	svc.dispatcher.Start(runCtx)
	svc.processor.Start(runCtx)

	if configPath != "" {
		w, errWatcher := watcher.NewWatcher(configPath, svc.applyConfig)
		if errWatcher != nil {
			log.WithError(errWatcher).Warn("config watcher disabled")
		} else {
			w.SetConfig(cfg)
			if errStart := w.Start(runCtx); errStart != nil {
				log.WithError(errStart).Warn("config watcher disabled")
			} else {
				svc.watcher = w
			}
		}
	}

	if opts.OnReady != nil {
		opts.OnReady(cfg)
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(svc.server.Start)
	g.Go(func() error {
		<-gctx.Done()
		return svc.server.Stop(context.WithoutCancel(gctx))
	})

	err = g.Wait()
	svc.shutdown()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *service) build(ctx context.Context, storeOpts StoreOptions) error {
	cfg := s.cfg

	if cfg.Redis.Addr != "" {
		ledger, err := wearable.NewRedisLedger(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.UsedCodeTTL())
		if err != nil {
			return err
		}
		s.closers = append(s.closers, ledger.Close)
		s.ledger = ledger
		log.Infof("used-code ledger: redis at %s", cfg.Redis.Addr)
	} else {
		s.ledger = wearable.NewMemoryLedger()
		log.Info("used-code ledger: in-memory")
	}

	tokens := wearable.NewFileTokenStore(filepath.Join(cfg.DataDir, "tokens"))
	sessions := wearable.NewSessionStore(cfg.Provider.SessionTTL())
	s.coordinator = wearable.NewCoordinator(cfg.Provider, sessions, s.ledger, wearable.NewOAuth2Exchanger(cfg), tokens)

	s.authenticator = webhook.NewAuthenticator(cfg.Webhook.Secret, cfg.Webhook.ReplayWindow())
	s.queue = webhook.NewQueue(cfg.Webhook.MaxAttempts)
	s.spoolPath = filepath.Join(cfg.DataDir, "queue", "spool.json")
	if n, err := webhook.LoadSpool(s.spoolPath, s.queue); err != nil {
		log.WithError(err).Warn("failed to restore queue spool")
	} else if n > 0 {
		log.Infof("restored %d queued item(s) from spool", n)
	}
	s.stats = webhook.NewStats(cfg.Webhook.StatsRetention())

	backends, err := openStores(ctx, cfg, storeOpts)
	if err != nil {
		return err
	}
	s.closers = append(s.closers, backends.closers...)

	memoryLetters := webhook.NewMemoryDeadLetters(memoryDeadLetters)
	deadSinks := webhook.MultiDeadLetterSink{memoryLetters}
	journal, err := webhook.NewJournalDeadLetters(filepath.Join(logging.ResolveLogDirectory(cfg), logging.DeadLetterJournalFile))
	if err != nil {
		log.WithError(err).Warn("dead-letter journal disabled")
	} else {
		s.closers = append(s.closers, journal.Close)
		deadSinks = append(deadSinks, journal)
	}
	deadSinks = append(deadSinks, backends.deadLetterSinks...)
	var deadLister webhook.DeadLetterLister = memoryLetters
	if backends.deadLetterLister != nil {
		deadLister = backends.deadLetterLister
	}

	s.dispatcher = notify.NewDispatcher()
	s.dispatcher.Register(notify.LogNotifier{})
	if cfg.Alerts.NotifyURL != "" {
		s.dispatcher.Register(notify.NewHTTPNotifier(cfg))
	}
	s.alerts = health.NewAlertTrigger(cfg.Alerts, s.dispatcher)
	pipeline := health.NewPipeline(health.NewProfileUpdater(backends.records, backends.profiles), s.alerts)

	s.processor = webhook.NewProcessor(s.queue, pipeline, webhook.ProcessorOptions{
		Interval:    cfg.Webhook.PollInterval(),
		Workers:     cfg.Webhook.Workers,
		DeadLetters: deadSinks,
		Stats:       s.stats,
	})

	handler := integration.NewHandler(integration.Options{
		Coordinator:   s.coordinator,
		Authenticator: s.authenticator,
		Queue:         s.queue,
		Processor:     s.processor,
		Stats:         s.stats,
		DeadLetters:   deadLister,
		Registrations: backends.registrations,
		Profiles:      backends.profiles,
		DoneURL:       cfg.Provider.DoneURL,
		MaxBodyBytes:  cfg.Webhook.MaxBodyBytes,
	})
	s.server = api.NewServer(cfg, handler)
	return nil
}

// applyConfig is the watcher callback. Settings that need a restart are
// reported by the watcher and left untouched here.
func (s *service) applyConfig(_, newCfg *config.Config) {
	if newCfg == nil {
		return
	}
	s.authenticator.Update(newCfg.Webhook.Secret, newCfg.Webhook.ReplayWindow())
	s.queue.SetMaxAttempts(newCfg.Webhook.MaxAttempts)
	s.alerts.SetThresholds(newCfg.Alerts)
	s.server.UpdateConfig(newCfg)
	log.Info("configuration reloaded")
}

func (s *service) shutdown() {
	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			log.WithError(err).Debug("config watcher stop")
		}
	}
	s.processor.Stop()
	s.dispatcher.Stop()
	if n, err := webhook.SaveSpool(s.spoolPath, s.queue); err != nil {
		log.WithError(err).Error("failed to spool pending queue items")
	} else if n > 0 {
		log.Infof("spooled %d pending item(s) to %s", n, s.spoolPath)
	}
	s.queue.Close()
}

func (s *service) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.WithError(err).Debug("close")
		}
	}
	s.closers = nil
}

type backends struct {
	records          health.RecordStore
	profiles         health.ProfileStore
	registrations    webhook.RegistrationStore
	deadLetterSinks  []webhook.DeadLetterSink
	deadLetterLister webhook.DeadLetterLister
	closers          []func() error
}

// openStores picks the primary store (Postgres when configured, local files
// otherwise) and attaches object and git stores as record archives.
func openStores(ctx context.Context, cfg *config.Config, opts StoreOptions) (*backends, error) {
	b := &backends{}
	var archives []store.NamedRecordStore

	if opts.Postgres != nil {
		initCtx, cancel := context.WithTimeout(ctx, storeInitTimeout)
		defer cancel()
		pg, err := store.NewPostgresStore(initCtx, *opts.Postgres)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, pg.Close)
		if err = pg.EnsureSchema(initCtx); err != nil {
			return nil, err
		}
		b.records, b.profiles, b.registrations = pg, pg, pg
		b.deadLetterSinks = append(b.deadLetterSinks, pg)
		b.deadLetterLister = pg
		log.Info("record store: postgres")
	} else {
		fs, err := store.NewFileStore(filepath.Join(cfg.DataDir, "store"))
		if err != nil {
			return nil, err
		}
		b.records, b.profiles, b.registrations = fs, fs, fs
		log.Infof("record store: local files under %s", fs.BaseDir())
	}

	if opts.Object != nil {
		obj, err := store.NewObjectStore(*opts.Object)
		if err != nil {
			return nil, err
		}
		archives = append(archives, store.NamedRecordStore{Name: "object", Store: obj})
		b.deadLetterSinks = append(b.deadLetterSinks, obj)
		log.Infof("record archive: object storage bucket %s", opts.Object.Bucket)
	}

	if opts.UseGitStore {
		repoDir := opts.GitRepoDir
		if repoDir == "" {
			repoDir = filepath.Join(cfg.DataDir, defaultGitStoreDir)
		}
		git := store.NewGitStore(repoDir, opts.GitRemote, opts.GitUser, opts.GitPassword)
		if err := git.EnsureRepository(); err != nil {
			return nil, err
		}
		archives = append(archives, store.NamedRecordStore{Name: "git", Store: git})
		log.Infof("record archive: git repository at %s", git.RepoDir())
	}

	if len(archives) > 0 {
		b.records = &store.MirroredRecords{Primary: b.records, Archives: archives}
	}
	return b, nil
}
