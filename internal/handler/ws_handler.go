package handler

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"github.com/yourusername/gameshow-api/internal/service"
	"github.com/yourusername/gameshow-api/internal/websocket"
	"github.com/yourusername/gameshow-api/pkg/auth"
)

// WSHandler обрабатывает WebSocket соединения
type WSHandler struct {
	wsHub       websocket.HubInterface
	wsManager   *websocket.Manager
	gameManager *service.GameManager
	jwtService  *auth.JWTService
}

// NewWSHandler создает новый обработчик WebSocket
func NewWSHandler(
	wsHub websocket.HubInterface,
	wsManager *websocket.Manager,
	gameManager *service.GameManager,
	jwtService *auth.JWTService,
) *WSHandler {
	handler := &WSHandler{
		wsHub:       wsHub,
		wsManager:   wsManager,
		gameManager: gameManager,
		jwtService:  jwtService,
	}

	// Регистрируем обработчики сообщений один раз при создании обработчика
	handler.registerMessageHandlers()

	return handler
}

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		// Если Origin пустой - это не браузерный клиент (мобильное приложение, curl и т.д.)
		// Разрешаем такие подключения
		if origin == "" {
			return true
		}

		// Список разрешенных origin (синхронизирован с CORS в main.go)
		// При добавлении новых доменов - добавьте их также в CORS config
		allowedOrigins := []string{
			"https://gameshow.vercel.app",
			"https://gameshowadmin.vercel.app",
			"http://localhost:5173",
			"http://localhost:8000",
			"http://localhost:3000",
		}

		for _, allowed := range allowedOrigins {
			if origin == allowed {
				return true
			}
		}

		log.Printf("WebSocket: rejected unauthorized origin: %s", origin)
		return false
	},
	EnableCompression: true,
}

// HandleConnection обрабатывает входящее WebSocket соединение
func (h *WSHandler) HandleConnection(c *gin.Context) {
	// Получаем тикет из запроса (?ticket=...)
	// НЕ логируем тикет - это секретные данные аутентификации
	ticket := c.Query("ticket")
	if ticket == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing authentication ticket parameter"})
		return
	}

	// Проверяем тикет с использованием специальной функции ParseWSTicket
	claims, err := h.jwtService.ParseWSTicket(ticket)
	if err != nil {
		log.Printf("WebSocket: Invalid or expired ticket - %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired ticket"})
		return
	}

	// Устанавливаем соединение
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Error upgrading connection: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to upgrade: %v", err)})
		return
	}

	log.Printf("WebSocket: Connection upgraded for UserID: %s", claims.UserID)

	// Создаем нового клиента. Игра из тикета запоминается сразу: подписка
	// на её события произойдёт по user:ready.
	client := websocket.NewClient(h.wsHub, conn, claims.UserID)
	if claims.GameID != "" {
		client.SetGameID(claims.GameID)
	}

	// Запускаем прослушивание сообщений
	client.StartPumps(h.wsManager.HandleMessage)
}

// registerMessageHandlers регистрирует обработчики для различных типов сообщений
func (h *WSHandler) registerMessageHandlers() {
	// Обработчик для события готовности пользователя
	h.wsManager.RegisterHandler("user:ready", func(data json.RawMessage, client *websocket.Client) error {
		var readyEvent struct {
			GameID string `json:"game_id"`
		}
		// Ошибка парсинга - фатальна для этого сообщения
		if err := json.Unmarshal(data, &readyEvent); err != nil {
			log.Printf("[WSHandler] Ошибка парсинга user:ready: %v, Data: %s", err, string(data))
			h.wsManager.SendErrorToClient(client, "invalid_format", "Failed to parse user:ready event")
			return fmt.Errorf("failed to parse user:ready event: %w", err)
		}

		if readyEvent.GameID == "" {
			readyEvent.GameID = client.GetGameID()
		}
		if readyEvent.GameID == "" {
			h.wsManager.SendErrorToClient(client, "missing_game_id", "user:ready requires game_id")
			return nil
		}

		// Устанавливаем GameID у клиента
		client.SetGameID(readyEvent.GameID)
		log.Printf("[WSHandler] User %s set GameID to %s", client.UserID, readyEvent.GameID)

		if err := h.wsManager.SubscribeClientToGame(client, readyEvent.GameID); err != nil {
			// Логируем ошибку подписки, но не закрываем соединение
			log.Printf("[WSHandler] Ошибка при подписке User %s на Game %s: %v", client.UserID, readyEvent.GameID, err)
			h.wsManager.SendErrorToClient(client, "subscribe_error", fmt.Sprintf("Failed to subscribe to game %s", readyEvent.GameID))
			return nil
		}

		// Сообщаем подписчикам игры, кто сейчас на связи
		if subscribers, err := h.wsManager.GetActiveSubscribers(readyEvent.GameID); err == nil {
			presence := map[string]interface{}{
				"game_id": readyEvent.GameID,
				"online":  subscribers,
				"count":   len(subscribers),
			}
			if err := h.wsManager.BroadcastEventToGame(readyEvent.GameID, map[string]interface{}{
				"type": websocket.GAME_PRESENCE,
				"data": presence,
			}); err != nil {
				log.Printf("[WSHandler] Ошибка рассылки game:presence для игры %s: %v", readyEvent.GameID, err)
			}
		}
		return nil
	})

	// Обработчик для события ответа на вопрос
	h.wsManager.RegisterHandler("user:answer", func(data json.RawMessage, client *websocket.Client) error {
		var answerEvent struct {
			QuestionID string `json:"question_id"`
			Answer     string `json:"answer"`
		}
		// Ошибка парсинга - фатальна
		if err := json.Unmarshal(data, &answerEvent); err != nil {
			log.Printf("[WSHandler] Ошибка парсинга user:answer: %v, Data: %s", err, string(data))
			h.wsManager.SendErrorToClient(client, "invalid_format", "Failed to parse user:answer event")
			return err
		}

		gameID := client.GetGameID()
		if gameID == "" {
			h.wsManager.SendErrorToClient(client, "not_ready", "Send user:ready before answering")
			return nil
		}

		// Вызываем GameManager, логируем ошибку, но не закрываем соединение
		if _, err := h.gameManager.SubmitAnswer(gameID, answerEvent.QuestionID, client.UserID, answerEvent.Answer); err != nil {
			log.Printf("[WSHandler] Ошибка при обработке SubmitAnswer для пользователя %s, вопроса %s: %v", client.UserID, answerEvent.QuestionID, err)
			h.wsManager.SendErrorToClient(client, "answer_error", err.Error())
		}
		return nil
	})

	// Обработчик для нажатия кнопки
	h.wsManager.RegisterHandler("user:buzz", func(data json.RawMessage, client *websocket.Client) error {
		var buzzEvent struct {
			QuestionID string `json:"question_id"`
			ClientTime int64  `json:"client_time"`
		}
		// Ошибка парсинга - фатальна
		if err := json.Unmarshal(data, &buzzEvent); err != nil {
			log.Printf("[WSHandler] Ошибка парсинга user:buzz: %v, Data: %s", err, string(data))
			h.wsManager.SendErrorToClient(client, "invalid_format", "Failed to parse user:buzz event")
			return err
		}

		gameID := client.GetGameID()
		if gameID == "" {
			h.wsManager.SendErrorToClient(client, "not_ready", "Send user:ready before buzzing")
			return nil
		}

		// Порядок применения определяет победителя гонки; клиентская метка
		// времени сохраняется только для отображения
		if _, err := h.gameManager.SubmitBuzz(gameID, buzzEvent.QuestionID, client.UserID, buzzEvent.ClientTime); err != nil {
			log.Printf("[WSHandler] Ошибка при обработке SubmitBuzz для пользователя %s, вопроса %s: %v", client.UserID, buzzEvent.QuestionID, err)
			h.wsManager.SendErrorToClient(client, "buzz_error", err.Error())
		}
		return nil
	})

	// Обработчик для проверки соединения
	h.wsManager.RegisterHandler("user:heartbeat", func(data json.RawMessage, client *websocket.Client) error {
		// Отправляем ответ клиенту
		heartbeatResponse := map[string]interface{}{
			"timestamp": time.Now().UnixNano() / int64(time.Millisecond),
		}
		// Ошибка отправки здесь может быть проигнорирована или залогирована
		if err := h.wsManager.SendEventToUser(client.UserID, "server:heartbeat", heartbeatResponse); err != nil {
			log.Printf("[WSHandler] WARNING: Ошибка при отправке server:heartbeat пользователю %s: %v", client.UserID, err)
		}
		return nil // Никогда не закрываем соединение из-за heartbeat
	})
}
