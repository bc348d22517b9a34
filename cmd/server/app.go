package main

import (
	"context"
	"fmt"
	"os"

	"splat-orchestrator/config"
	"splat-orchestrator/core/bootstrap"
	"splat-orchestrator/core/events"
	"splat-orchestrator/core/executor"
	"splat-orchestrator/core/pipeline"
	"splat-orchestrator/core/repository"
	rm "splat-orchestrator/core/resource_manager"
	"splat-orchestrator/providers/aws"
	"splat-orchestrator/providers/lambda"
	"splat-orchestrator/storage"

	"github.com/rs/zerolog/log"
)

// app holds every wired service. Commands build only what they need.
type app struct {
	cfg       *config.Config
	events    *events.Broadcaster
	tracker   *pipeline.Tracker
	ssh       *executor.SSHClient
	store     *storage.ArtifactStore
	manager   *rm.InstanceManager
	lifecycle *rm.Lifecycle
	trainer   *pipeline.Trainer
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newProvider(ctx context.Context, cfg *config.Config) (rm.CloudProvider, error) {
	switch cfg.CloudProvider {
	case "aws":
		return aws.NewClient(ctx, aws.Options{
			Regions:         cfg.EC2Regions,
			InstanceTypes:   cfg.InstanceTypes,
			AMIID:           cfg.EC2AMIID,
			InstanceProfile: cfg.EC2InstanceProfile,
		})
	default:
		return lambda.NewClient(cfg.LambdaAPIKey, cfg.LambdaAPIURL, nil), nil
	}
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	provider, err := newProvider(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s provider: %w", cfg.CloudProvider, err)
	}
	manager := rm.NewInstanceManager(provider, rm.ManagerConfig{
		SSHKeyNames:  cfg.SSHKeyNames,
		PollInterval: cfg.PollInterval,
		MaxWait:      cfg.ProvisionMaxWait,
	})

	key, err := os.ReadFile(cfg.SSHKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read SSH key: %w", err)
	}
	sshClient, err := executor.NewSSHClient(key, executor.SSHConfig{
		User:           cfg.SSHUser,
		Port:           cfg.SSHPort,
		DialTimeout:    cfg.SSHDialTimeout,
		KeepAlive:      cfg.SSHKeepAlive,
		KnownHostsPath: cfg.SSHKnownHosts,
	})
	if err != nil {
		return nil, err
	}

	store, err := storage.NewArtifactStore(storage.Config{
		Endpoint:   cfg.S3Endpoint,
		AccessKey:  cfg.AWSAccessKeyID,
		SecretKey:  cfg.AWSSecretAccessKey,
		Region:     cfg.AWSRegion,
		Bucket:     cfg.S3Bucket,
		UseSSL:     cfg.S3UseSSL,
		PresignTTL: cfg.PresignTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize artifact store: %w", err)
	}

	boot := bootstrap.NewBootstrapper(bootstrap.Config{
		Home:    cfg.RemoteHome,
		Profile: cfg.Pipeline.Profile,
		Credentials: bootstrap.StorageCredentials{
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			Region:          cfg.AWSRegion,
		},
		Policy: cfg.Pipeline.Setup(),
		Mode:   cfg.Pipeline.Classify(),
	})
	lifecycle := rm.NewLifecycle(manager, sshClient, boot, rm.LifecycleConfig{
		InstanceTypes: cfg.InstanceTypes,
		Regions:       cfg.AllowedRegions,
	})

	broadcaster := events.NewBroadcaster()
	tracker := pipeline.NewTracker()
	broadcaster.Subscribe("", tracker.Handle)

	seq := pipeline.NewSequencer(sshClient, broadcaster, store, pipeline.SequencerConfig{
		Home:              cfg.RemoteHome,
		Profile:           cfg.Pipeline.Profile,
		Mode:              cfg.Pipeline.Classify(),
		ConvertMode:       cfg.Pipeline.Convert(),
		HeartbeatInterval: cfg.Pipeline.HeartbeatInterval,
	})
	trainer := pipeline.NewTrainer(manager, store, seq, broadcaster, tracker, pipeline.TrainerConfig{
		InstanceTypes: cfg.InstanceTypes,
		Regions:       cfg.AllowedRegions,
	})

	log.Info().
		Str("provider", cfg.CloudProvider).
		Strs("instance_types", cfg.InstanceTypes).
		Str("bucket", cfg.S3Bucket).
		Str("convert_mode", string(cfg.Pipeline.Convert())).
		Msg("services initialized")

	return &app{
		cfg:       cfg,
		events:    broadcaster,
		tracker:   tracker,
		ssh:       sshClient,
		store:     store,
		manager:   manager,
		lifecycle: lifecycle,
		trainer:   trainer,
	}, nil
}

// openJournal connects to DATABASE_URL and subscribes a journal to every
// room. It returns nil when no database is configured.
func (a *app) openJournal(ctx context.Context) (*repository.DB, *repository.EventRepository, *repository.Journal, error) {
	if a.cfg.DatabaseURL == "" {
		log.Info().Msg("DATABASE_URL not set; event journal disabled")
		return nil, nil, nil, nil
	}
	db, err := repository.NewDB(a.cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	repo := repository.NewEventRepository(db)
	journal := repository.NewJournal(repo, 0)
	a.events.Subscribe("", journal.Handle)
	log.Info().Msg("event journal connected")
	return db, repo, journal, nil
}
