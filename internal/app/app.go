package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/speakgenie/speakgenie/internal/eventlog"
	"github.com/speakgenie/speakgenie/internal/httpapi"
	"github.com/speakgenie/speakgenie/internal/llm"
	"github.com/speakgenie/speakgenie/internal/scenario"
)

type App struct {
	cfg      Config
	logger   *log.Logger
	db       *pgxpool.Pool
	eventLog *eventlog.Logger
	model    llm.Client
	catalog  *scenario.Catalog
	sessions *httpapi.SessionRegistry
}

func New(cfg Config, logger *log.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	catalog, err := scenario.Load(cfg.ScenariosPath)
	if err != nil {
		return nil, fmt.Errorf("load scenarios: %w", err)
	}

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		db, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, err
		}
		// Migrations are applied externally (migrations/*.sql).
	} else {
		logger.Printf("DATABASE_URL not set, session events are not recorded")
	}

	// Shared HTTP client with connection pooling for the language model.
	// Keeps TCP connections alive to reduce latency for repeated turns.
	httpClient := &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10, // OpenAI is single host
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	model := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:     cfg.OpenAIAPIKey,
		Model:      cfg.OpenAIModel,
		Endpoint:   cfg.OpenAIBaseURL,
		HTTPClient: httpClient,
	})

	return &App{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		eventLog: eventlog.New(db),
		model:    model,
		catalog:  catalog,
		sessions: httpapi.NewSessionRegistry(),
	}, nil
}

// Sessions returns the registry of live websocket sessions.
func (a *App) Sessions() *httpapi.SessionRegistry {
	return a.sessions
}

func (a *App) Router() http.Handler {
	routerCfg := httpapi.RouterConfig{
		DeepgramAPIKey:    a.cfg.DeepgramAPIKey,
		ElevenLabsAPIKey:  a.cfg.ElevenLabsAPIKey,
		STTLanguage:       a.cfg.STTLanguage,
		STTEncoding:       a.cfg.STTEncoding,
		STTSampleRate:     a.cfg.STTSampleRate,
		STTEndpointingMs:  a.cfg.STTEndpointingMs,
		STTUtteranceEndMs: a.cfg.STTUtteranceEndMs,
		TTSVoiceID:        a.cfg.TTSVoiceID,
		TTSStability:      a.cfg.TTSStability,
		TTSSimilarity:     a.cfg.TTSSimilarity,
		JWTSecret:         a.cfg.JWTSecret,
	}
	return httpapi.NewRouter(routerCfg, a.logger, a.model, a.catalog, a.sessions, a.eventLog)
}

func (a *App) Close() error {
	if a.db != nil {
		a.db.Close()
	}
	return nil
}
