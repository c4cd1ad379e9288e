package main

import (
	"context"
	"os"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/nauanbek/saqshy/internal/adapters"
	"github.com/nauanbek/saqshy/internal/adapters/classifier"
	"github.com/nauanbek/saqshy/internal/adapters/embeddings"
	"github.com/nauanbek/saqshy/internal/adapters/llm/gemini"
	"github.com/nauanbek/saqshy/internal/adapters/llm/openai"
	"github.com/nauanbek/saqshy/internal/arbiter"
	"github.com/nauanbek/saqshy/internal/bot"
	"github.com/nauanbek/saqshy/internal/cache"
	"github.com/nauanbek/saqshy/internal/config"
	"github.com/nauanbek/saqshy/internal/db/sqlite"
	"github.com/nauanbek/saqshy/internal/decision"
	"github.com/nauanbek/saqshy/internal/event"
	"github.com/nauanbek/saqshy/internal/handlers/moderation"
	"github.com/nauanbek/saqshy/internal/infra"
	"github.com/nauanbek/saqshy/internal/infrastructure/telegram"
	"github.com/nauanbek/saqshy/internal/lifecycle"
	"github.com/nauanbek/saqshy/internal/lists"
	"github.com/nauanbek/saqshy/internal/observability"
	"github.com/nauanbek/saqshy/internal/pipeline"
	"github.com/nauanbek/saqshy/internal/scoring"
	"github.com/nauanbek/saqshy/internal/signal"
	"github.com/nauanbek/saqshy/internal/sources"
	"github.com/nauanbek/saqshy/internal/trust"
)

const dbFileName = "saqshy.db"

func main() {
	cfg, err := config.Load()
	log.SetFormatter(&config.Formatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.Level(cfg.LogLevel))
	if err != nil {
		log.WithError(err).Fatalln("cant load config")
	}

	go infra.GoRecoverable(-1, "bot", func() {
		run(cfg)
	})

	<-infra.MonitorExecutable(context.Background())
	log.Errorln("executable file was modified")
	os.Exit(0)
}

func run(cfg config.Config) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer event.RunWorker()()

	if err := observability.Init(ctx, cfg.MetricsListenAddr); err != nil {
		log.WithError(err).Fatalln("cant initialize observability")
	}

	botAPI, err := api.NewBotAPI(cfg.TelegramAPIToken)
	if err != nil {
		log.WithError(err).Errorln("cant initialize bot api")
		time.Sleep(1 * time.Second)
		log.Fatalln("exiting")
	}
	if log.Level(cfg.LogLevel) == log.TraceLevel {
		botAPI.Debug = true
	}
	defer botAPI.StopReceivingUpdates()

	dbClient, err := sqlite.NewSQLiteClient(ctx, infra.GetWorkDir(), dbFileName)
	if err != nil {
		log.WithError(err).Fatalln("cant open database")
	}
	defer dbClient.Close()

	store := newCacheStore(ctx, cfg)

	catalog := signal.NewCatalog()
	engine := scoring.NewEngine(catalog)
	if cfg.CalibrationPath != "" {
		calibration, err := config.LoadCalibration(cfg.CalibrationPath)
		if err != nil {
			log.WithError(err).Fatalln("cant load calibration")
		}
		if err := calibration.Apply(engine); err != nil {
			log.WithError(err).Fatalln("cant apply calibration")
		}
	}

	machineParams := trust.DefaultParams()
	machineParams.SandboxDuration = cfg.Trust.SandboxDuration
	machine := trust.NewMachine(machineParams)

	membership := telegram.NewMembershipChecker(botAPI, store)
	listsService := lists.NewService(dbClient)

	var embedder *embeddings.OpenAI
	if cfg.Embeddings.APIKey != "" {
		embedder = embeddings.NewOpenAI(
			cfg.Embeddings.APIKey,
			cfg.Embeddings.Model,
			cfg.Embeddings.BaseURL,
			log.WithField("object", "EmbeddingsClient"),
		)
	}

	behavior := sources.NewBehavior(catalog, store, membership)
	reputation := sources.NewReputation(catalog, store, listsService)
	var simEmbedder sources.Embedder
	if embedder != nil {
		simEmbedder = embedder
	}
	similarity := sources.NewSimilarity(catalog, simEmbedder, dbClient)

	specs := []pipeline.Spec{
		{
			Name:     sources.SourceContent,
			Source:   sources.NewContent(catalog),
			Timeout:  500 * time.Millisecond,
			Required: true,
		},
		{
			Name:     sources.SourceProfile,
			Source:   sources.NewProfile(catalog),
			Timeout:  500 * time.Millisecond,
			Fallback: pipeline.FallbackSkip,
			MinLevel: pipeline.LevelReduced,
		},
		{
			Name:     sources.SourceBehavior,
			Source:   behavior,
			Timeout:  800 * time.Millisecond,
			Fallback: pipeline.FallbackAssumeNegative,
			MinLevel: pipeline.LevelReduced,
		},
		{
			Name:     sources.SourceReputation,
			Source:   reputation,
			Timeout:  700 * time.Millisecond,
			Fallback: pipeline.FallbackAssumeNegative,
			MinLevel: pipeline.LevelFull,
		},
		{
			Name:      sources.SourceSimilarity,
			Source:    similarity,
			Timeout:   1200 * time.Millisecond,
			Fallback:  pipeline.FallbackSkip,
			MinLevel:  pipeline.LevelFull,
			DependsOn: []string{sources.SourceContent},
		},
	}

	var zeroShot *classifier.ZeroShot
	if cfg.Classifier.Enabled {
		zeroShot = classifier.NewZeroShot(catalog, cfg.Classifier.ModelsDir, cfg.Classifier.Model, cfg.Classifier.Threshold)
		specs = append(specs, pipeline.Spec{
			Name:      classifier.SourceName,
			Source:    zeroShot,
			Timeout:   2 * time.Second,
			Fallback:  pipeline.FallbackSkip,
			MinLevel:  pipeline.LevelReduced,
			DependsOn: []string{sources.SourceContent},
		})
	}

	orchestrator, err := pipeline.NewOrchestrator(
		cfg.Pipeline.Deadline,
		pipeline.BreakerParams{
			Threshold: cfg.Pipeline.BreakerThreshold,
			Window:    time.Minute,
			Cooldown:  cfg.Pipeline.BreakerCooldown,
		},
		specs...,
	)
	if err != nil {
		log.WithError(err).Fatalln("cant assemble signal pipeline")
	}

	coordinatorDeps := decision.Deps{
		Collector:  orchestrator,
		Engine:     engine,
		Machine:    machine,
		Trust:      dbClient,
		Audit:      dbClient,
		Membership: membership,
	}
	if cfg.Arbiter.APIKey != "" {
		coordinatorDeps.Arbiter = newArbiter(cfg.Arbiter)
	}
	coordinator, err := decision.NewCoordinator(coordinatorDeps, decision.Params{
		Deadline:      cfg.Pipeline.Deadline,
		MaxConcurrent: cfg.Pipeline.MaxConcurrent,
	})
	if err != nil {
		log.WithError(err).Fatalln("cant assemble decision coordinator")
	}

	service := bot.NewService(botAPI, dbClient)
	builder := bot.NewContextBuilder(botAPI, store)
	operations := telegram.NewOperations(botAPI)

	actionDeps := moderation.ActionDeps{
		Bot:        botAPI,
		Enforcer:   operations,
		Store:      dbClient,
		Cache:      store,
		Behavior:   behavior,
		Reputation: reputation,
	}
	if embedder != nil {
		actionDeps.Embedder = embedder
	}
	actions, err := moderation.NewActionService(cfg.Moderation, actionDeps)
	if err != nil {
		log.WithError(err).Fatalln("cant assemble action service")
	}

	guard, err := moderation.NewGuard(moderation.GuardDeps{
		Service:  service,
		Builder:  builder,
		Decider:  coordinator,
		Actions:  actions,
		Journal:  behavior,
		Lists:    listsService,
		Enforcer: operations,
	})
	if err != nil {
		log.WithError(err).Fatalln("cant assemble guard")
	}
	bot.RegisterUpdateHandler("guard", guard)
	moderation.RegisterOutcomeRecorder(behavior, reputation)

	runtime := lifecycle.NewRuntime(listsService, actions)
	if zeroShot != nil {
		runtime.Register(zeroShot)
	}
	if err := runtime.Start(ctx); err != nil {
		log.WithError(err).Fatalln("cant start components")
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := runtime.Stop(stopCtx); err != nil {
			log.WithError(err).Errorln("cant stop components")
		}
	}()

	updateConfig := api.NewUpdate(0)
	updateConfig.Timeout = 60
	updateConfig.AllowedUpdates = []string{
		"message", "edited_message", "callback_query",
		"my_chat_member", "chat_member", "chat_join_request",
	}
	updateProcessor := bot.NewUpdateProcessor(service)
	updateChan, errorChan := bot.GetUpdatesChans(ctx, botAPI, updateConfig)

	for {
		select {
		case err := <-errorChan:
			log.WithError(err).Fatalln("bot api get updates error")
		case update := <-updateChan:
			if err := updateProcessor.Process(ctx, &update); err != nil {
				log.WithError(err).Errorln("cant process update")
			}
		case <-ctx.Done():
			log.WithError(ctx.Err()).Errorln("no more updates")
			return
		}
	}
}

func newArbiter(cfg config.Arbiter) *arbiter.Arbiter {
	var model adapters.LLM
	switch cfg.Type {
	case "gemini":
		model = gemini.NewGemini(cfg.APIKey, cfg.Model, log.WithField("object", "GeminiArbiter"))
	default:
		model = openai.NewOpenAI(cfg.APIKey, cfg.Model, cfg.BaseURL, log.WithField("object", "OpenAIArbiter"))
	}
	params := arbiter.DefaultParams()
	params.Timeout = cfg.Timeout
	params.RatePerMin = cfg.RatePerMin
	params.Gate.BandLow = cfg.BandLow
	params.Gate.BandHigh = cfg.BandHigh
	params.Gate.FirstMessageFloor = cfg.FirstMessageFloor
	return arbiter.New(model, params)
}

func newCacheStore(ctx context.Context, cfg config.Config) cache.Store {
	if cfg.RedisURL == "" {
		return cache.NewMemory()
	}
	store, err := cache.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		log.WithError(err).Warnln("cant connect to redis, falling back to in-memory cache")
		return cache.NewMemory()
	}
	return store
}
