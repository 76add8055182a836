package websocket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Время на запись одного сообщения клиенту
	writeWait = 10 * time.Second

	// Время ожидания pong-ответа. Короткий срок быстрее обнаруживает
	// оборванные соединения посреди игры.
	pongWait = 30 * time.Second

	// Периодичность отправки ping-сообщений клиенту
	pingPeriod = (pongWait * 9) / 10

	// Максимальный размер входящего сообщения
	maxMessageSize = 512

	// Размер буфера исходящих сообщений соединения
	defaultClientBufferSize = 128

	// Количество предупреждений о переполнении буфера до принудительного
	// отключения клиента
	maxBufferWarnings = 3
)

var (
	newline = []byte{'\n'}
	space   = []byte{' '}
)

// ClientConfig содержит настройки соединения
type ClientConfig struct {
	// BufferSize определяет размер буфера канала отправки сообщений
	BufferSize int

	// PingInterval определяет интервал между ping-сообщениями
	PingInterval time.Duration

	// PongWait определяет время ожидания pong-ответа
	PongWait time.Duration

	// WriteWait определяет тайм-аут для записи сообщений
	WriteWait time.Duration

	// MaxMessageSize определяет максимальный размер сообщения
	MaxMessageSize int64
}

// DefaultClientConfig возвращает конфигурацию соединения по умолчанию
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BufferSize:     defaultClientBufferSize,
		PingInterval:   pingPeriod,
		PongWait:       pongWait,
		WriteWait:      writeWait,
		MaxMessageSize: maxMessageSize,
	}
}

// Client является посредником между WebSocket соединением и хабом.
// Один пользователь может переподключаться; каждое соединение получает
// собственный ConnectionID.
type Client struct {
	// ID пользователя из билета подключения
	UserID string

	// Уникальный ID соединения
	ConnectionID string

	// Хаб, которому принадлежит клиент (*Shard или *ShardedHub)
	hub interface{}

	// WebSocket соединение
	conn *websocket.Conn

	// Буферизованный канал исходящих сообщений
	send chan []byte

	// Флаг закрытия канала send, защищает от повторного close
	sendClosed atomic.Bool

	// Время последней активности клиента
	lastActivity time.Time

	// Канал для ожидания завершения регистрации в шарде
	registrationComplete chan struct{}

	// Типы сообщений, на которые подписано соединение
	subscriptions sync.Map

	// Мьютекс подписок и ролей
	subMutex sync.RWMutex

	// Роли соединения ("player", "moderator", "spectator")
	roles map[string]bool

	// ID игры, к которой привязано соединение (пустая строка вне игры)
	currentGameID atomic.Value

	// Счетчик предупреждений о переполнении буфера
	bufferWarningCount int32
	bufferWarningMutex sync.Mutex
}

// NewClient создает клиента с буфером по умолчанию
func NewClient(hub interface{}, conn *websocket.Conn, userID string) *Client {
	return NewClientWithConfig(hub, conn, userID, DefaultClientConfig())
}

// NewClientWithConfig создает клиента с указанной конфигурацией
func NewClientWithConfig(hub interface{}, conn *websocket.Conn, userID string, config ClientConfig) *Client {
	if config.BufferSize <= 0 {
		config.BufferSize = defaultClientBufferSize
	}

	return &Client{
		hub:                  hub,
		conn:                 conn,
		send:                 make(chan []byte, config.BufferSize),
		UserID:               userID,
		ConnectionID:         uuid.New().String(),
		lastActivity:         time.Now(),
		registrationComplete: make(chan struct{}, 1),
		roles:                make(map[string]bool),
	}
}

// SetGameID привязывает соединение к игре
func (c *Client) SetGameID(gameID string) {
	c.currentGameID.Store(gameID)
	log.Printf("[Client %s][Conn %s] привязан к игре %s", c.UserID, c.ConnectionID, gameID)
}

// GetGameID возвращает ID игры соединения или пустую строку
func (c *Client) GetGameID() string {
	if v := c.currentGameID.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// ClearGameID отвязывает соединение от игры
func (c *Client) ClearGameID() {
	c.currentGameID.Store("")
	log.Printf("[Client %s][Conn %s] отвязан от игры", c.UserID, c.ConnectionID)
}

// readPump читает сообщения от клиента и передает их обработчику
func (c *Client) readPump(messageHandler func(message []byte, client *Client) error) {
	defer func() {
		log.Printf("WebSocket: остановлено чтение для клиента %s (Conn: %s)", c.UserID, c.ConnectionID)
		switch hub := c.hub.(type) {
		case *Shard:
			hub.unregister <- c
		case *ShardedHub:
			hub.UnregisterClient(c)
		default:
			log.Printf("WebSocket: неизвестный тип хаба у клиента %s при отписке", c.UserID)
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.lastActivity = time.Now()
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("WebSocket: клиент %s (Conn: %s) закрыл соединение: %v", c.UserID, c.ConnectionID, err)
			} else {
				log.Printf("WebSocket: ошибка чтения от клиента %s (Conn: %s): %v", c.UserID, c.ConnectionID, err)
			}
			break
		}

		c.lastActivity = time.Now()

		if handlerErr := safeHandleMessage(message, c, messageHandler); handlerErr != nil {
			// Ошибка обработчика фатальна для соединения
			log.Printf("WebSocket: обработчик сообщения клиента %s (Conn: %s) вернул ошибку: %v. Закрываем соединение.",
				c.UserID, c.ConnectionID, handlerErr)
			break
		}

		// Любое сообщение от клиента сбрасывает накопленные предупреждения
		c.resetBufferWarningCount()
	}
}

// safeHandleMessage вызывает обработчик с перехватом паники.
// Паника обработчика считается фатальной ошибкой соединения.
func safeHandleMessage(message []byte, client *Client, messageHandler func(message []byte, client *Client) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("WebSocket: PANIC в обработчике сообщения клиента %s (Conn: %s): %v\n%s",
				client.UserID, client.ConnectionID, r, string(debug.Stack()))
			err = fmt.Errorf("panic recovered: %v", r)
		}
	}()

	message = bytes.TrimSpace(bytes.Replace(message, newline, space, -1))
	if messageHandler != nil {
		err = messageHandler(message, client)
	} else {
		log.Printf("WebSocket: для клиента %s не зарегистрирован обработчик сообщений", client.UserID)
	}
	return err
}

// writePump отправляет сообщения клиенту из канала send и шлет пинги
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		log.Printf("WebSocket: остановлена запись для клиента %s (Conn: %s)", c.UserID, c.ConnectionID)
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Printf("WebSocket: SetWriteDeadline для клиента %s (Conn: %s): %v", c.UserID, c.ConnectionID, err)
				return
			}

			if !ok {
				// Хаб закрыл канал клиента
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				log.Printf("WebSocket: NextWriter для клиента %s (Conn: %s): %v", c.UserID, c.ConnectionID, err)
				return
			}

			if _, err := w.Write(message); err != nil {
				log.Printf("WebSocket: ошибка записи клиенту %s (Conn: %s): %v", c.UserID, c.ConnectionID, err)
			}

			if err := w.Close(); err != nil {
				log.Printf("WebSocket: ошибка закрытия writer клиента %s (Conn: %s): %v", c.UserID, c.ConnectionID, err)
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Printf("WebSocket: SetWriteDeadline (ping) для клиента %s (Conn: %s): %v", c.UserID, c.ConnectionID, err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("WebSocket: ошибка ping клиенту %s (Conn: %s): %v", c.UserID, c.ConnectionID, err)
				return
			}
		}
	}
}

// StartPumps регистрирует клиента в хабе и запускает горутины чтения и записи
func (c *Client) StartPumps(messageHandler func(message []byte, client *Client) error) {
	if c.UserID == "" {
		log.Printf("WebSocket: у клиента нет UserID, регистрация пропущена")
		c.conn.Close()
		return
	}

	if sh, ok := c.hub.(*ShardedHub); ok {
		sh.RegisterSync(c, c.registrationComplete)
	} else if sh, ok := c.hub.(*Shard); ok {
		sh.register <- c
	} else {
		log.Printf("WebSocket: неизвестный тип хаба (%T) у клиента %s, регистрация пропущена", c.hub, c.UserID)
		c.conn.Close()
		return
	}

	select {
	case <-c.registrationComplete:
		log.Printf("WebSocket: клиент %s зарегистрирован, запускаем обмен", c.UserID)
	case <-time.After(5 * time.Second):
		log.Printf("WebSocket: тайм-аут регистрации клиента %s", c.UserID)
		c.conn.Close()
		return
	}

	go c.writePump()
	go c.readPump(messageHandler)
}

// IsSubscribed проверяет, подписан ли клиент на указанный тип сообщений.
// Пустой тип означает все сообщения.
func (c *Client) IsSubscribed(messageType string) bool {
	if messageType == "" {
		return true
	}

	_, ok := c.subscriptions.Load(messageType)
	return ok
}

// Subscribe подписывает клиента на указанный тип сообщений
func (c *Client) Subscribe(messageType string) {
	if messageType == "" {
		return
	}
	c.subscriptions.Store(messageType, true)
}

// Unsubscribe отменяет подписку клиента на указанный тип сообщений
func (c *Client) Unsubscribe(messageType string) {
	if messageType == "" {
		return
	}
	c.subscriptions.Delete(messageType)
}

// GetSubscriptions возвращает список типов сообщений, на которые подписан клиент
func (c *Client) GetSubscriptions() []string {
	var subscriptions []string

	c.subscriptions.Range(func(key, value interface{}) bool {
		if messageType, ok := key.(string); ok {
			subscriptions = append(subscriptions, messageType)
		}
		return true
	})

	return subscriptions
}

// SubscribeToGameEvents подписывает соединение на все серверные сообщения игры
func (c *Client) SubscribeToGameEvents() {
	for _, messageType := range gameEventTypes {
		c.Subscribe(messageType)
	}
	log.Printf("WebSocket: клиент %s подписан на события игры", c.UserID)
}

// HasRole проверяет, есть ли у клиента указанная роль
func (c *Client) HasRole(role string) bool {
	c.subMutex.RLock()
	defer c.subMutex.RUnlock()
	return c.roles[role]
}

// AddRole добавляет клиенту указанную роль
func (c *Client) AddRole(role string) {
	c.subMutex.Lock()
	defer c.subMutex.Unlock()
	c.roles[role] = true
}

// RemoveRole удаляет у клиента указанную роль
func (c *Client) RemoveRole(role string) {
	c.subMutex.Lock()
	defer c.subMutex.Unlock()
	delete(c.roles, role)
}

// incrementBufferWarningCount увеличивает счетчик предупреждений и возвращает
// новое значение
func (c *Client) incrementBufferWarningCount() int32 {
	c.bufferWarningMutex.Lock()
	defer c.bufferWarningMutex.Unlock()
	c.bufferWarningCount++
	return c.bufferWarningCount
}

// resetBufferWarningCount сбрасывает счетчик предупреждений
func (c *Client) resetBufferWarningCount() {
	c.bufferWarningMutex.Lock()
	defer c.bufferWarningMutex.Unlock()
	c.bufferWarningCount = 0
}

func (c *Client) getBufferWarningCount() int32 {
	c.bufferWarningMutex.Lock()
	defer c.bufferWarningMutex.Unlock()
	return c.bufferWarningCount
}

// CloseSend безопасно закрывает канал send. Возвращает true, если канал
// закрыт этим вызовом, false если уже был закрыт.
func (c *Client) CloseSend() bool {
	if c.sendClosed.CompareAndSwap(false, true) {
		close(c.send)
		return true
	}
	return false
}

// IsSendClosed проверяет, закрыт ли канал send
func (c *Client) IsSendClosed() bool {
	return c.sendClosed.Load()
}

// messageTypeFromBytes извлекает тип сообщения из JSON для логов
func messageTypeFromBytes(message []byte) string {
	var event struct {
		Type string `json:"type"`
	}
	if json.Unmarshal(message, &event) == nil && event.Type != "" {
		return event.Type
	}
	return "unknown"
}
