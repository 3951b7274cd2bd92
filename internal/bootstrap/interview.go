package bootstrap

import (
	"log/slog"

	"github.com/candor-labs/interview-agent/internal/capture"
	"github.com/candor-labs/interview-agent/internal/conversation"
	"github.com/candor-labs/interview-agent/internal/gateway"
	"github.com/candor-labs/interview-agent/internal/health"
	"github.com/candor-labs/interview-agent/internal/interview"
	"github.com/candor-labs/interview-agent/internal/question"
	"github.com/candor-labs/interview-agent/internal/shared"
	"github.com/candor-labs/interview-agent/internal/transcription"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

// defaultQuestions seeds local runs that have no question database.
func defaultQuestions() []*question.Question {
	return []*question.Question{
		{
			ID:          "q_role",
			InterviewID: "default",
			Text:        "What is your role on the team?",
			InputType:   shared.InputTypeText,
			Section:     "background",
		},
		{
			ID:          "q_team_health",
			InterviewID: "default",
			Text:        "How is your team doing this quarter?",
			InputType:   shared.InputTypeOpenEnded,
			Section:     "team",
		},
		{
			ID:          "q_blockers",
			InterviewID: "default",
			Text:        "What is the biggest thing slowing you down right now?",
			InputType:   shared.InputTypeOpenEnded,
			Section:     "team",
		},
	}
}

func ProvideQuestionProvider(db *gorm.DB, redisClient *redis.Client, logger *slog.Logger) (question.Provider, error) {
	var inner question.Provider
	if db != nil {
		store := question.NewStore(db)
		if err := store.Migrate(); err != nil {
			return nil, err
		}
		inner = store
	} else {
		logger.Info("no database configured, using built-in questions")
		inner = question.NewStaticProvider(defaultQuestions())
	}
	return question.NewCache(inner, redisClient), nil
}

func ProvideCaptureConfig(cfg *Config, logger *slog.Logger) capture.Config {
	return capture.Config{
		Device: capture.NewPortAudioDevice(),
		Constraints: capture.Constraints{
			SampleRate:       cfg.SampleRate,
			Channels:         1,
			EchoCancellation: true,
			NoiseSuppression: true,
		},
		Log: logger,
	}
}

func ProvideSTTConfig(cfg *Config) transcription.Config {
	return transcription.Config{
		URL:        cfg.TranscriptionURL,
		Language:   cfg.Language,
		SampleRate: cfg.SampleRate,
		Channels:   1,
		Encoding:   "linear16",
	}
}

// ProvideTurnConfig hands the token source itself to the controller so
// every request carries a current credential, not one frozen at startup.
func ProvideTurnConfig(cfg *Config, ts oauth2.TokenSource, logger *slog.Logger) conversation.Config {
	return conversation.Config{
		Endpoint: cfg.TurnEndpoint,
		Tokens:   ts,
		Log:      logger,
	}
}

func ProvideInterviewManager(
	questions question.Provider,
	ts oauth2.TokenSource,
	captureCfg capture.Config,
	sttCfg transcription.Config,
	turnCfg conversation.Config,
	logger *slog.Logger,
) *interview.Manager {
	return interview.NewManager(interview.ManagerConfig{
		Questions: questions,
		Tokens:    ts,
		Capture:   captureCfg,
		STT:       sttCfg,
		Turns:     turnCfg,
		Log:       logger,
	})
}

func ProvideGatewayHandler(manager *interview.Manager, questions question.Provider, logger *slog.Logger) *gateway.Handler {
	return gateway.NewHandler(manager, questions, logger)
}

func ProvideHealthHandler(
	db *gorm.DB,
	redisClient *redis.Client,
	cfg *Config,
	manager *interview.Manager,
) *health.Handler {
	return health.NewHandler(db, redisClient, cfg.TranscriptionURL, cfg.TurnEndpoint, manager, Version)
}

type RouteParams struct {
	fx.In

	Gateway *gateway.Handler
	Health  *health.Handler
}

func RegisterRoutes(e *echo.Echo, params RouteParams) {
	params.Gateway.RegisterRoutes(e.Group("/v1/interview"))
	params.Health.RegisterRoutes(e)
}

var InterviewModule = fx.Options(
	fx.Provide(
		ProvideQuestionProvider,
		ProvideCaptureConfig,
		ProvideSTTConfig,
		ProvideTurnConfig,
		ProvideInterviewManager,
		ProvideGatewayHandler,
		ProvideHealthHandler,
	),
	fx.Invoke(RegisterRoutes),
)
