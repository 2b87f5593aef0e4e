package service

import (
	"context"
	"fmt"
	"log"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/redis/go-redis/v9"

	"github.com/EmiMaldonado/glaub-session-api/internal/config"
	"github.com/EmiMaldonado/glaub-session-api/internal/realtime"
	"github.com/EmiMaldonado/glaub-session-api/internal/repository"
	"github.com/EmiMaldonado/glaub-session-api/internal/service/auth"
	"github.com/EmiMaldonado/glaub-session-api/internal/service/event"
	"github.com/EmiMaldonado/glaub-session-api/internal/service/insight"
	"github.com/EmiMaldonado/glaub-session-api/internal/service/pause"
	"github.com/EmiMaldonado/glaub-session-api/internal/service/session"
	"github.com/EmiMaldonado/glaub-session-api/internal/service/summary"
)

// Services 服务集合
type Services struct {
	Auth         *auth.Service
	Session      *session.Service
	Orchestrator *pause.Orchestrator
	Monitor      *pause.Monitor
	Bus          *event.Bus
	Hub          *realtime.Hub

	cfg *config.Config
}

// NewServices 创建并装配所有服务
// 装配顺序有讲究：编排器依赖 Hub（音频/导航/通知），
// 会话服务依赖编排器，监视器的暂停回调又指向会话服务，
// 因此监视器和 Hub 的信号下游在最后注入
func NewServices(repo *repository.Repositories, cfg *config.Config, redisClient *redis.Client) (*Services, error) {
	ctx := context.Background()

	var store event.Store
	if redisClient != nil {
		store = event.NewRedisStore(redisClient)
	}
	bus := event.NewBus(store)

	hub := realtime.NewHub()
	bus.Subscribe(hub)

	extractor := summary.NewExtractor()

	orch := pause.NewOrchestrator(cfg.Session, repo.Session, repo.Snapshot, extractor, bus, hub, hub, hub)

	gen, err := newInsightGenerator(ctx, cfg)
	if err != nil {
		// AI 不可用时会话核心照常工作，只是没有回复和画像
		log.Printf("[service] insight generator unavailable: %v", err)
	}

	sessionSvc := session.NewService(repo.Session, repo.Snapshot, cfg.Session, bus, gen, orch)

	monitor := pause.NewMonitor(cfg.Session.GracePeriod, sessionSvc.Pause, hub, bus)
	sessionSvc.SetMonitor(monitor)
	hub.SetSink(sessionSvc)

	return &Services{
		Auth:         auth.NewService(repo),
		Session:      sessionSvc,
		Orchestrator: orch,
		Monitor:      monitor,
		Bus:          bus,
		Hub:          hub,
		cfg:          cfg,
	}, nil
}

// Shutdown 按依赖逆序释放各服务
// 先停信号入口，再停会话时钟，最后让在途暂停跑完
func (s *Services) Shutdown() {
	s.Monitor.Dispose()
	s.Session.Dispose()
	s.Orchestrator.Dispose()
}

// newInsightGenerator 创建洞察生成器
func newInsightGenerator(ctx context.Context, cfg *config.Config) (session.Generator, error) {
	chat, err := newChatModel(ctx, cfg)
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(cfg.AI.OpenAI.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return insight.NewGenerator(chat, timeout), nil
}

// newChatModel 根据配置创建 ChatModel
func newChatModel(ctx context.Context, cfg *config.Config) (einomodel.ChatModel, error) {
	aiCfg := cfg.AI

	switch aiCfg.Provider {
	case "openai", "":
	default:
		return nil, fmt.Errorf("unsupported ai provider: %s", aiCfg.Provider)
	}

	if aiCfg.OpenAI.APIKey == "" {
		return nil, fmt.Errorf("api_key is required for provider openai")
	}

	modelName := aiCfg.OpenAI.Model
	if modelName == "" {
		modelName = "gpt-4o-mini"
	}

	temperature := float32(0.7)

	return openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:      aiCfg.OpenAI.APIKey,
		BaseURL:     aiCfg.OpenAI.BaseURL,
		Model:       modelName,
		Temperature: &temperature,
	})
}
