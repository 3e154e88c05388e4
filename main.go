package main

import (
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"quizparty/config"
	"quizparty/handlers"
	"quizparty/middleware"
	"quizparty/routes"
	"quizparty/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	redisClient := config.InitRedis(cfg)
	if redisClient == nil {
		log.Info().Msg("redis not configured, upstream lookups are uncached")
	}

	store := services.NewStore()
	questionSource := services.NewGeminiQuestionSource(cfg.GeminiAPIKey, cfg.GeminiModel, redisClient, log.Logger)
	songSearcher := services.NewYouTubeSongSearcher(cfg.YouTubeAPIKey, redisClient, log.Logger)

	hub := services.NewHub(log.Logger)
	gameService := services.NewGameService(store, questionSource, songSearcher, hub, services.GameConfig{
		MaxPlayers:        cfg.MaxPlayers,
		QuestionTimeLimit: cfg.QuestionTimeLimit,
		LatencyBuffer:     cfg.LatencyBuffer,
		ScoringDelay:      cfg.ScoringDelay,
	}, log.Logger)

	wsHandler := handlers.NewWSHandler(gameService, hub, log.Logger)
	hub.SetHandler(wsHandler)
	go hub.Run()

	router := gin.Default()
	router.Use(middleware.CORS())
	routes.SetupRoutes(router, hub, cfg.StaticDir)

	addr := cfg.BindAddress + ":" + cfg.Port
	log.Info().Str("addr", addr).Msg("server starting")
	if err := router.Run(addr); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}
