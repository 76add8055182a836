package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/yourusername/gameshow-api/internal/config"
	"github.com/yourusername/gameshow-api/internal/handler"
	"github.com/yourusername/gameshow-api/internal/middleware"
	pgRepo "github.com/yourusername/gameshow-api/internal/repository/postgres"
	redisRepo "github.com/yourusername/gameshow-api/internal/repository/redis"
	"github.com/yourusername/gameshow-api/internal/service"
	"github.com/yourusername/gameshow-api/internal/service/gameengine"
	ws "github.com/yourusername/gameshow-api/internal/websocket"
	"github.com/yourusername/gameshow-api/pkg/auth"
	"github.com/yourusername/gameshow-api/pkg/database"
)

// engineConfig переводит настройки конфигурации в параметры движка игр.
// Незаполненные значения остаются умолчаниями движка.
func engineConfig(cfg config.GameConfig) *gameengine.Config {
	engine := gameengine.DefaultConfig()
	if cfg.AbandonTimeoutMin > 0 {
		engine.AbandonTimeout = time.Duration(cfg.AbandonTimeoutMin) * time.Minute
	}
	if cfg.AbandonExtensionMin > 0 {
		engine.AbandonExtension = time.Duration(cfg.AbandonExtensionMin) * time.Minute
	}
	if cfg.BuzzerWindowMs > 0 {
		engine.BuzzerWindow = time.Duration(cfg.BuzzerWindowMs) * time.Millisecond
	}
	if cfg.SnapshotTTLHours > 0 {
		engine.SnapshotTTL = time.Duration(cfg.SnapshotTTLHours) * time.Hour
	}
	if cfg.FiringBuffer > 0 {
		engine.FiringBuffer = cfg.FiringBuffer
	}
	return engine
}

func main() {
	// Загружаем конфигурацию
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	log.Printf("Загрузка конфигурации из %s", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		os.Exit(1)
	}

	// Инициализируем подключение к PostgreSQL
	db, err := database.NewPostgresDB(cfg.Database.PostgresConnectionString())
	if err != nil {
		log.Printf("Failed to connect to database: %v", err)
		os.Exit(1)
	}

	// Применяем миграции
	if err := database.MigrateDB(db); err != nil {
		log.Printf("Failed to migrate database: %v", err)
		os.Exit(1)
	}

	// Инициализируем подключение к Redis с использованием унифицированной конфигурации
	redisClient, err := database.NewUniversalRedisClient(cfg.Redis)
	if err != nil {
		log.Printf("Failed to connect to Redis: %v", err)
		os.Exit(1)
	}
	log.Println("Successfully connected to Redis")

	// Инициализируем репозитории
	eventRepo := pgRepo.NewGameEventRepo(db)
	questionRepo := pgRepo.NewQuestionRepo(db)

	cacheRepo, err := redisRepo.NewCacheRepo(redisClient)
	if err != nil {
		log.Printf("Failed to initialize CacheRepo: %v", err)
		os.Exit(1)
	}

	// Создаем JWTService для выдачи WebSocket-тикетов
	jwtService, err := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.WSTicketExpirySec)
	if err != nil {
		log.Printf("Failed to initialize JWTService: %v", err)
		os.Exit(1)
	}

	// --- Инициализация WebSocket (PubSubProvider создается здесь) ---
	var wsHub ws.HubInterface
	var pubSubProvider ws.PubSubProvider = &ws.NoOpPubSub{} // Провайдер по умолчанию

	// Создаем PubSubProvider только если кластеризация включена
	if cfg.WebSocket.Cluster.Enabled {
		log.Println("Инициализация Redis PubSub для кластеризации WebSocket...")
		redisPubSubClient, errPubSub := database.NewUniversalRedisClient(cfg.Redis)
		if errPubSub != nil {
			log.Printf("Ошибка при инициализации Redis клиента для PubSub: %v. Кластеризация WS будет неактивна.", errPubSub)
			pubSubProvider = &ws.NoOpPubSub{}
		} else {
			redisProvider, errProv := ws.NewRedisPubSub(redisPubSubClient)
			if errProv != nil {
				log.Printf("Ошибка при создании Redis PubSub провайдера: %v. Кластеризация WS будет неактивна.", errProv)
				redisPubSubClient.Close()
				pubSubProvider = &ws.NoOpPubSub{}
			} else {
				log.Println("Redis PubSub провайдер успешно инициализирован")
				pubSubProvider = redisProvider
			}
		}
	}

	// Инициализация WebSocket Hub
	shardedHub := ws.NewShardedHub(cfg.WebSocket, pubSubProvider, cacheRepo)
	go shardedHub.Run() // Запускаем обработчик шардов
	wsHub = shardedHub

	wsManager := ws.NewManager(wsHub)
	// --- Конец инициализации WebSocket ---

	// Инициализируем сервисы
	questionService := service.NewQuestionService(questionRepo, cacheRepo)
	gameManager := service.NewGameManager(eventRepo, questionService, cacheRepo, wsManager, engineConfig(cfg.Game))

	// Инициализируем обработчики
	gameHandler := handler.NewGameHandler(gameManager, questionService, jwtService)
	wsHandler := handler.NewWSHandler(wsHub, wsManager, gameManager, jwtService)

	// Инициализируем rate limiter
	rateLimiter := middleware.NewRateLimiter(redisClient)

	isProduction := gin.Mode() == gin.ReleaseMode

	// Инициализируем роутер Gin
	router := gin.Default()

	// Настройка доверенных прокси для корректной работы c.ClientIP()
	// В production (GIN_MODE=release): не доверяем прокси (защита от IP spoofing)
	// В development: доверяем localhost
	// При деплое на VM с load balancer: добавьте IP балансировщика в список
	if isProduction {
		if err := router.SetTrustedProxies(nil); err != nil {
			log.Printf("Warning: failed to set trusted proxies: %v", err)
		}
	} else {
		if err := router.SetTrustedProxies([]string{"127.0.0.1", "::1"}); err != nil {
			log.Printf("Warning: failed to set trusted proxies: %v", err)
		}
	}

	// Настройка CORS
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"https://gameshow.vercel.app", "https://gameshowadmin.vercel.app", "http://localhost:5173", "http://localhost:8000", "http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Настраиваем маршруты API
	api := router.Group("/api")
	{
		// Банк вопросов
		questionSets := api.Group("/question-sets")
		{
			questionSets.GET("", gameHandler.ListQuestionSets)

			setWithID := questionSets.Group("/:id")
			setWithID.Use(middleware.ExtractUintParam("id", "setID"))
			{
				setWithID.GET("/questions", gameHandler.ListSetQuestions)
			}
		}

		// Игры
		games := api.Group("/games")
		games.Use(rateLimiter.LimitByIP(middleware.DefaultGameRateLimitConfig()))
		{
			games.POST("", gameHandler.CreateGame)

			// Группа маршрутов, требующих gameID
			gameWithID := games.Group("/:id")
			gameWithID.Use(middleware.ExtractUUIDParam("id", "gameID")) // Применяем middleware
			{
				gameWithID.GET("", gameHandler.GetGame)
				gameWithID.GET("/events", gameHandler.GetGameEvents)
				gameWithID.POST("/players", gameHandler.AddPlayer)
				gameWithID.DELETE("/players/:username", gameHandler.RemovePlayer)
				gameWithID.POST("/start", gameHandler.StartGame)
				gameWithID.POST("/next-question", gameHandler.AskNextQuestion)

				// Выдача WS-тикетов защищена отдельным строгим лимитом
				gameWithID.POST("/ws-ticket",
					rateLimiter.Limit(middleware.WSTicketRateLimitConfig()),
					gameHandler.CreateWSTicket)

				// Группа маршрутов, требующих questionID
				questionWithID := gameWithID.Group("/questions/:questionId")
				questionWithID.Use(middleware.ExtractUUIDParam("questionId", "questionID"))
				{
					questionWithID.POST("/answers", gameHandler.SubmitAnswer)
					questionWithID.PUT("/answers/:userId", gameHandler.OverrideAnswer)
					questionWithID.POST("/buzzes", gameHandler.SubmitBuzz)
					questionWithID.POST("/buzzer-answer", gameHandler.JudgeBuzzerAnswer)
					questionWithID.POST("/close", gameHandler.CloseQuestion)
					questionWithID.POST("/rating", gameHandler.RateQuestion)
				}
			}
		}
	}

	// WebSocket маршрут
	router.GET("/ws", wsHandler.HandleConnection)

	// Метрики и здоровье WebSocket-подсистемы
	router.GET("/ws/metrics", gin.WrapF(ws.WebSocketMetricsHandler(shardedHub)))
	router.GET("/ws/metrics/detailed", gin.WrapF(ws.DetailedWebSocketMetricsHandler(shardedHub)))
	router.GET("/ws/health", gin.WrapF(ws.WebSocketHealthCheckHandler(shardedHub)))
	router.GET("/ws/alerts", gin.WrapF(ws.WebSocketSystemAlertsHandler(shardedHub)))

	// Возобновление активных игр
	// После перезапуска сервера таймеры заброшенности нужно взвести заново
	go func() {
		if err := gameManager.ResumeActiveGames(); err != nil {
			log.Printf("Failed to resume active games: %v", err)
		}
	}()

	// Настраиваем HTTP сервер с тайм-аутами для защиты от slow client attacks
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Запускаем сервер в горутине
	go func() {
		log.Printf("Starting server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Failed to start server: %v", err)
		}
	}()

	log.Printf("Server started on port %s", cfg.Server.Port)

	// После получения сигнала SIGINT или SIGTERM вызываем cancel() для завершения горутин
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Останавливаем менеджер игр (таймеры и обработчик дедлайнов)
	gameManager.Shutdown()

	// Закрываем WebSocket-хаб и PubSubProvider
	shardedHub.Close()
	if pubSubProvider != nil {
		if err := pubSubProvider.Close(); err != nil {
			log.Printf("Error closing PubSub provider: %v", err)
		}
	}

	// Создаем контекст с таймаутом для graceful shutdown сервера
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
		os.Exit(1)
	}

	log.Println("Server exited properly")
}
