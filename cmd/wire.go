package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bnema/meetjot/internal/adapters/audio/ffmpeg"
	"github.com/bnema/meetjot/internal/adapters/events/natsbus"
	"github.com/bnema/meetjot/internal/adapters/integrations/gcal"
	"github.com/bnema/meetjot/internal/adapters/integrations/jira"
	reasoningopenai "github.com/bnema/meetjot/internal/adapters/reasoning/openai"
	draftsrender "github.com/bnema/meetjot/internal/adapters/render/drafts"
	sqliterepo "github.com/bnema/meetjot/internal/adapters/repo/sqlite"
	tomlrepo "github.com/bnema/meetjot/internal/adapters/repo/toml"
	chainstore "github.com/bnema/meetjot/internal/adapters/secrets/chain"
	speechopenai "github.com/bnema/meetjot/internal/adapters/speech/openai"
	"github.com/bnema/meetjot/internal/application"
	"github.com/bnema/meetjot/internal/config"
	"github.com/bnema/meetjot/internal/domain"
	"github.com/bnema/meetjot/internal/logging"
	"github.com/bnema/meetjot/internal/metrics"
	"github.com/bnema/meetjot/internal/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/viper"
)

type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	location *time.Location

	repo        ports.DraftRepository
	secretStore *chainstore.Store
	events      ports.EventPublisher
	httpClient  *http.Client

	resolver    *application.ContextResolver
	transcriber *application.TranscriptionClient
	extractor   *application.ExtractionEngine
	staging     *application.StagingService
	dispatcher  *application.ExecutionDispatcher

	draftRenderer func([]domain.ActionDraft, draftsrender.RenderOptions) (string, error)
	now           func() time.Time

	closers []func() error
}

func wireApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(viper.New(), configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("wire logger: %w", err)
	}

	location, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:           cfg,
		logger:        logger,
		registry:      prometheus.NewRegistry(),
		location:      location,
		httpClient:    &http.Client{},
		draftRenderer: draftsrender.Render,
		now:           time.Now,
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	if err := a.wireStores(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	clock := ports.SystemClock{}
	schemas := cfg.SchemaSet()

	speech := speechopenai.NewClient(speechopenai.Config{
		BaseURL:           cfg.Speech.BaseURL,
		Model:             cfg.Speech.Model,
		Language:          cfg.Speech.Language,
		APIKeyRef:         cfg.Speech.APIKeyRef,
		RequestsPerMinute: cfg.Speech.RequestsPerMinute,
		Timeout:           cfg.Speech.Timeout,
	}, a.secretStore, a.httpClient)
	reasoner := reasoningopenai.NewClient(reasoningopenai.Config{
		BaseURL:           cfg.Reasoning.BaseURL,
		Model:             cfg.Reasoning.Model,
		APIKeyRef:         cfg.Reasoning.APIKeyRef,
		Temperature:       cfg.Reasoning.Temperature,
		RequestsPerMinute: cfg.Reasoning.RequestsPerMinute,
		Timeout:           cfg.Reasoning.Timeout,
	}, a.secretStore, a.httpClient)

	a.resolver = application.NewContextResolver(clock, location)
	a.transcriber = application.NewTranscriptionClient(speech, retryPolicy(cfg.Retry.Transcription), clock, logger, a.metrics)
	a.extractor = application.NewExtractionEngine(reasoner, a.repo, a.events, schemas, retryPolicy(cfg.Retry.Reasoning), clock, logger, a.metrics)
	a.staging = application.NewStagingService(a.repo, a.events, schemas, clock, logger, a.metrics)
	a.dispatcher = application.NewExecutionDispatcher(a.repo, a.integrations(), a.events, retryPolicy(cfg.Retry.Integration), cfg.Execution.CallTimeout, clock, logger, a.metrics)
	a.closers = append(a.closers, func() error {
		a.dispatcher.Close()
		return nil
	})

	return a, nil
}

func (a *app) wireStores(ctx context.Context) error {
	switch a.cfg.Staging.Backend {
	case config.BackendTOML:
		repo, err := tomlrepo.NewRepository(a.cfg.StagingPath())
		if err != nil {
			return fmt.Errorf("wire draft repository: %w", err)
		}
		a.repo = repo
	default:
		repo, err := sqliterepo.Open(ctx, a.cfg.StagingPath())
		if err != nil {
			return fmt.Errorf("wire draft repository: %w", err)
		}
		a.repo = repo
		a.closers = append(a.closers, repo.Close)
	}

	secretStore, err := chainstore.NewEnvFirstWithFileFallback(a.cfg.Secrets.Dir)
	if err != nil {
		return fmt.Errorf("wire secret store chain: %w", err)
	}
	a.secretStore = secretStore

	a.events = ports.NoopPublisher{}
	if a.cfg.Events.NatsURL != "" {
		publisher, err := natsbus.Connect(a.cfg.Events.NatsURL, a.cfg.Events.SubjectPrefix)
		if err != nil {
			return fmt.Errorf("wire draft events: %w", err)
		}
		a.events = publisher
		a.closers = append(a.closers, publisher.Close)
	}
	return nil
}

// integrations returns the targets that have enough configuration to be
// called. Drafts for a missing target fail at execution time.
func (a *app) integrations() []ports.Integration {
	var out []ports.Integration
	if a.cfg.Ticket.BaseURL != "" {
		out = append(out, jira.NewClient(jira.Config{
			BaseURL:  a.cfg.Ticket.BaseURL,
			Project:  a.cfg.Ticket.Project,
			User:     a.cfg.Ticket.User,
			TokenRef: a.cfg.Ticket.TokenRef,
			Label:    a.cfg.Ticket.Label,
			Timeout:  a.cfg.Execution.CallTimeout,
		}, a.secretStore, a.httpClient))
	}
	if a.cfg.Calendar.BaseURL != "" {
		out = append(out, gcal.NewClient(gcal.Config{
			BaseURL:    a.cfg.Calendar.BaseURL,
			CalendarID: a.cfg.Calendar.CalendarID,
			TokenRef:   a.cfg.Calendar.TokenRef,
			Timeout:    a.cfg.Execution.CallTimeout,
		}, a.secretStore, a.httpClient))
	}
	return out
}

func (a *app) captureFactory() *ffmpeg.Factory {
	return ffmpeg.NewFactory(ffmpeg.Config{
		FFmpegPath:  a.cfg.Capture.FFmpegPath,
		InputFormat: a.cfg.Capture.InputFormat,
		SampleRate:  a.cfg.Capture.SampleRate,
		Devices: map[domain.Channel]string{
			domain.ChannelMic:    a.cfg.Capture.MicDevice,
			domain.ChannelSystem: a.cfg.Capture.SystemDevice,
		},
	})
}

func (a *app) newSessionService(sources ports.AudioSourceFactory, channels []domain.Channel) *application.SessionService {
	return application.NewSessionService(sources, application.SessionOptions{
		Capture: application.CaptureOptions{
			SegmentDuration: a.cfg.SegmentDuration(),
			Channels:        channels,
			Mix:             a.cfg.Capture.Mix,
			BlockFrames:     a.cfg.Capture.BlockFrames,
		},
		DrainTimeout:       a.cfg.Session.DrainTimeout,
		ExtractionInterval: a.cfg.Session.ExtractionInterval,
		MaxInflight:        a.cfg.Session.MaxInflight,
	}, a.transcriber, a.extractor, a.resolver, ports.SystemClock{}, a.logger, a.metrics)
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}

func retryPolicy(cfg config.RetryPolicyConfig) application.RetryPolicy {
	return application.RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		BaseBackoff: cfg.BaseBackoff,
		MaxBackoff:  cfg.MaxBackoff,
	}
}
