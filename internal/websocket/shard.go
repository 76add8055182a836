package websocket

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/yourusername/gameshow-api/internal/domain/repository"
)

// Shard обрабатывает свое подмножество клиентов независимо от остальных
// шардов, что снимает конкуренцию за общие структуры при большом числе
// соединений.
type Shard struct {
	id         int           // Номер шарда
	clients    sync.Map      // Ключ: *Client, значение: bool
	userMap    sync.Map      // Ключ: UserID, значение: *Client
	broadcast  chan []byte   // Канал широковещательных сообщений шарда
	register   chan *Client  // Канал регистрации клиентов
	unregister chan *Client  // Канал отмены регистрации
	done       chan struct{} // Сигнал завершения работы шарда
	metrics    *ShardMetrics // Метрики шарда
	parent     interface{}   // Родительский хаб (ShardedHub)
	maxClients int           // Рекомендуемый максимум клиентов в шарде

	// Настройки очистки неактивных соединений
	cleanupInterval   time.Duration
	inactivityTimeout time.Duration

	// Индекс рассылки по играм. Ключ: gameID (string),
	// значение: *sync.Map клиентов игры.
	gameSubscriptions sync.Map

	// Кеш для проверки маркеров выбывших игроков
	cacheRepo repository.CacheRepository
}

// ShardMetrics содержит метрики отдельного шарда
type ShardMetrics struct {
	id                     int
	activeConnections      int64
	messagesSent           int64
	messagesReceived       int64
	connectionErrors       int64
	inactiveClientsRemoved int64
	lastCleanupTime        time.Time
	mu                     sync.RWMutex
}

// NewShard создает новый шард
func NewShard(id int, parent interface{}, maxClients int, cleanupInterval time.Duration, inactivityTimeout time.Duration, cacheRepo repository.CacheRepository) *Shard {
	if maxClients <= 0 {
		maxClients = 2000
	}

	shard := &Shard{
		id:         id,
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client, 100),
		unregister: make(chan *Client, 100),
		done:       make(chan struct{}),
		metrics: &ShardMetrics{
			id:              id,
			lastCleanupTime: time.Now(),
		},
		parent:            parent,
		maxClients:        maxClients,
		cleanupInterval:   cleanupInterval,
		inactivityTimeout: inactivityTimeout,
		cacheRepo:         cacheRepo,
	}

	go shard.runCleanupTicker()

	log.Printf("[Шард %d] Создан, максимум клиентов %d", id, maxClients)
	return shard
}

// Run запускает цикл обработки сообщений шарда
func (s *Shard) Run() {
	for {
		select {
		case client := <-s.register:
			s.handleRegister(client)
		case client := <-s.unregister:
			s.handleUnregister(client)
		case message := <-s.broadcast:
			s.handleBroadcast(message)
		case <-s.done:
			log.Printf("[Шард %d] Получен сигнал завершения, останавливаемся", s.id)
			s.cleanupAllClients()
			return
		}
	}
}

// handleRegister регистрирует клиента в шарде. Повторное подключение того же
// пользователя вытесняет старое соединение с небольшой задержкой, чтобы
// успели дойти уже поставленные в очередь сообщения.
func (s *Shard) handleRegister(client *Client) {
	if existingClient, loaded := s.userMap.LoadOrStore(client.UserID, client); loaded {
		oldClient, ok := existingClient.(*Client)
		if ok && oldClient != client {
			s.userMap.Store(client.UserID, client)
			log.Printf("[Шард %d] Клиент %s переподключился, вытесняем старое соединение %s",
				s.id, client.UserID, oldClient.ConnectionID)

			go func() {
				time.Sleep(500 * time.Millisecond)
				s.clients.Delete(oldClient)
				s.userMap.CompareAndDelete(client.UserID, oldClient)

				if oldClient.conn != nil {
					oldClient.conn.Close()
				}
				oldClient.CloseSend()

				s.metrics.mu.Lock()
				s.metrics.activeConnections--
				s.metrics.mu.Unlock()
			}()
		}
	}

	s.clients.Store(client, true)
	client.lastActivity = time.Now()

	s.metrics.mu.Lock()
	s.metrics.activeConnections++
	s.metrics.mu.Unlock()

	log.Printf("[Шард %d] Клиент %s зарегистрирован", s.id, client.UserID)

	if client.registrationComplete != nil {
		select {
		case client.registrationComplete <- struct{}{}:
		default:
		}
	}
}

// handleUnregister удаляет клиента из шарда
func (s *Shard) handleUnregister(client *Client) {
	s.UnsubscribeFromGame(client)

	if _, ok := s.clients.LoadAndDelete(client); ok {
		// Удаляем из userMap, только если там тот же экземпляр
		if existingClient, loaded := s.userMap.Load(client.UserID); loaded {
			if existingClient == client {
				s.userMap.Delete(client.UserID)
			}
		}

		if client.conn != nil {
			client.conn.Close()
		}
		client.CloseSend()

		s.metrics.mu.Lock()
		s.metrics.activeConnections--
		s.metrics.mu.Unlock()

		log.Printf("[Шард %d] Клиент %s отключен", s.id, client.UserID)
	}
}

// handleBroadcast отправляет сообщение клиентам шарда с учетом подписок.
// Служебные сообщения сервера доставляются всем без фильтрации.
func (s *Shard) handleBroadcast(message []byte) {
	var clientCount int

	var messageType string
	if len(message) > 2 {
		var event struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(message, &event); err == nil {
			messageType = event.Type
		}
	}

	isServiceMessage := strings.HasPrefix(messageType, "server:")

	s.clients.Range(func(key, value interface{}) bool {
		client, ok := key.(*Client)
		if !ok {
			return true
		}

		if messageType != "" && !isServiceMessage && !client.IsSubscribed(messageType) {
			return true
		}

		clientCount++
		select {
		case client.send <- message:
			client.resetBufferWarningCount()
		default:
			s.handleFullBuffer(client, nil)
		}
		return true
	})

	if clientCount > 0 {
		s.metrics.mu.Lock()
		s.metrics.messagesSent += int64(clientCount)
		s.metrics.mu.Unlock()
	}

	if messageType != "" {
		log.Printf("[Шард %d] Сообщение %s разослано %d клиентам", s.id, messageType, clientCount)
	}
}

// handleFullBuffer обрабатывает переполнение буфера клиента: до порога шлет
// предупреждение, после порога отключает клиента. gameMap, если передана,
// чистится от клиента при отключении.
func (s *Shard) handleFullBuffer(client *Client, gameMap *sync.Map) {
	newCount := client.incrementBufferWarningCount()

	if newCount >= maxBufferWarnings {
		log.Printf("[Шард %d] Клиент %s (Conn: %s) превысил лимит предупреждений (%d), отключаем",
			s.id, client.UserID, client.ConnectionID, maxBufferWarnings)

		s.clients.Delete(client)
		if gameMap != nil {
			gameMap.Delete(client)
		}

		if existingClient, loaded := s.userMap.Load(client.UserID); loaded && existingClient == client {
			s.userMap.Delete(client.UserID)
		}

		s.UnsubscribeFromGame(client)

		if client.conn != nil {
			client.conn.Close()
		}
		client.CloseSend()

		s.metrics.mu.Lock()
		if s.metrics.activeConnections > 0 {
			s.metrics.activeConnections--
		}
		s.metrics.connectionErrors++
		s.metrics.mu.Unlock()
		return
	}

	log.Printf("[Шард %d] Буфер клиента %s (Conn: %s) переполнен, предупреждение %d/%d",
		s.id, client.UserID, client.ConnectionID, newCount, maxBufferWarnings)

	warningMsg := map[string]interface{}{
		"type": SERVER_BUFFER_WARNING,
		"data": map[string]interface{}{
			"warning_count": newCount,
			"max_warnings":  maxBufferWarnings,
			"message":       "Соединение не успевает принимать сообщения и скоро будет закрыто",
		},
	}
	jsonWarning, _ := json.Marshal(warningMsg)
	select {
	case client.send <- jsonWarning:
	default:
		// Предупреждение тоже не влезло, сработает счетчик
	}
}

// SubscribeToGame добавляет клиента в индекс рассылки указанной игры
func (s *Shard) SubscribeToGame(client *Client, gameID string) {
	if gameID == "" {
		s.UnsubscribeFromGame(client)
		return
	}

	oldGameID := client.GetGameID()
	if oldGameID != "" && oldGameID != gameID {
		s.unsubscribeInternal(client, oldGameID)
	}

	gameMapUntyped, _ := s.gameSubscriptions.LoadOrStore(gameID, &sync.Map{})
	gameMap, ok := gameMapUntyped.(*sync.Map)
	if !ok {
		log.Printf("[Шард %d] Некорректный тип в индексе игры %s: %T", s.id, gameID, gameMapUntyped)
		newMap := &sync.Map{}
		newMap.Store(client, struct{}{})
		s.gameSubscriptions.Store(gameID, newMap)
		return
	}

	gameMap.Store(client, struct{}{})
	log.Printf("[Шард %d] Клиент %s подключен к рассылке игры %s", s.id, client.UserID, gameID)
}

// UnsubscribeFromGame убирает клиента из индекса рассылки его текущей игры
func (s *Shard) UnsubscribeFromGame(client *Client) {
	gameID := client.GetGameID()
	if gameID != "" {
		s.unsubscribeInternal(client, gameID)
		client.ClearGameID()
	}
}

func (s *Shard) unsubscribeInternal(client *Client, gameID string) {
	if gameMapUntyped, ok := s.gameSubscriptions.Load(gameID); ok {
		gameMap, ok := gameMapUntyped.(*sync.Map)
		if !ok {
			log.Printf("[Шард %d] Некорректный тип в индексе игры %s при отписке: %T", s.id, gameID, gameMapUntyped)
			return
		}
		gameMap.Delete(client)
	}
}

// BroadcastToGame отправляет сообщение клиентам шарда, подключенным к
// рассылке указанной игры
func (s *Shard) BroadcastToGame(gameID string, message []byte) {
	gameMapUntyped, ok := s.gameSubscriptions.Load(gameID)
	if !ok {
		return
	}
	gameMap, ok := gameMapUntyped.(*sync.Map)
	if !ok {
		log.Printf("[Шард %d] Некорректный тип в индексе игры %s при рассылке: %T", s.id, gameID, gameMapUntyped)
		return
	}

	clientCount := 0
	gameMap.Range(func(key, value interface{}) bool {
		client, ok := key.(*Client)
		if !ok {
			return true
		}

		select {
		case client.send <- message:
			clientCount++
			client.resetBufferWarningCount()
		default:
			s.handleFullBuffer(client, gameMap)
		}
		return true
	})

	if clientCount > 0 {
		s.metrics.mu.Lock()
		s.metrics.messagesSent += int64(clientCount)
		s.metrics.mu.Unlock()
		log.Printf("[Шард %d] Сообщение %s игры %s разослано %d клиентам",
			s.id, messageTypeFromBytes(message), gameID, clientCount)
	}
}

// runCleanupTicker периодически инициирует очистку неактивных клиентов
func (s *Shard) runCleanupTicker() {
	if s.cleanupInterval <= 0 {
		log.Printf("[Шард %d] Очистка неактивных клиентов отключена", s.id)
		return
	}

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupInactiveClients(s.inactivityTimeout)
		case <-s.done:
			return
		}
	}
}

// cleanupInactiveClients отправляет молчащих клиентов на отключение
func (s *Shard) cleanupInactiveClients(timeout time.Duration) {
	inactiveCount := 0
	s.clients.Range(func(key, value interface{}) bool {
		client, ok := key.(*Client)
		if !ok {
			return true
		}

		if time.Since(client.lastActivity) > timeout {
			inactiveCount++
			select {
			case s.unregister <- client:
			default:
				log.Printf("[Шард %d] Канал unregister переполнен, клиент %s (Conn: %s) будет снят на следующем проходе",
					s.id, client.UserID, client.ConnectionID)
			}
		}
		return true
	})

	s.metrics.mu.Lock()
	s.metrics.lastCleanupTime = time.Now()
	s.metrics.inactiveClientsRemoved += int64(inactiveCount)
	s.metrics.mu.Unlock()

	if inactiveCount > 0 {
		log.Printf("[Шард %d] Найдено %d неактивных клиентов", s.id, inactiveCount)
	}
}

// cleanupAllClients закрывает все соединения перед остановкой шарда
func (s *Shard) cleanupAllClients() {
	s.clients.Range(func(key, value interface{}) bool {
		client, ok := key.(*Client)
		if !ok {
			return true
		}

		if client.conn != nil {
			client.conn.Close()
		}
		client.CloseSend()

		s.clients.Delete(client)
		return true
	})

	log.Printf("[Шард %d] Все клиенты отключены", s.id)
}

// SendToUser отправляет сообщение конкретному пользователю шарда.
// Возвращает false, если пользователь не найден или сообщение не доставлено.
func (s *Shard) SendToUser(userID string, message []byte) bool {
	clientInterface, exists := s.userMap.Load(userID)
	if !exists {
		return false
	}

	client, ok := clientInterface.(*Client)
	if !ok {
		return false
	}

	select {
	case client.send <- message:
		s.metrics.mu.Lock()
		s.metrics.messagesSent++
		s.metrics.mu.Unlock()
		client.resetBufferWarningCount()
		return true
	default:
		s.handleFullBuffer(client, nil)
		return false
	}
}

// BroadcastBytes ставит сообщение в очередь рассылки шарда
func (s *Shard) BroadcastBytes(message []byte) {
	select {
	case s.broadcast <- message:
	default:
		log.Printf("[Шард %d] Канал рассылки переполнен, сообщение потеряно", s.id)
	}
}

// BroadcastJSON сериализует объект и рассылает его клиентам шарда
func (s *Shard) BroadcastJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	s.BroadcastBytes(data)
	return nil
}

// GetMetrics возвращает метрики шарда
func (s *Shard) GetMetrics() map[string]interface{} {
	s.metrics.mu.RLock()
	defer s.metrics.mu.RUnlock()

	clientCount := s.GetClientCount()
	loadPercentage := float64(clientCount) / float64(s.maxClients) * 100

	return map[string]interface{}{
		"shard_id":           s.id,
		"active_connections": clientCount,
		"max_clients":        s.maxClients,
		"messages_sent":      s.metrics.messagesSent,
		"messages_received":  s.metrics.messagesReceived,
		"connection_errors":  s.metrics.connectionErrors,
		"load_percentage":    loadPercentage,
		"last_cleanup":       s.metrics.lastCleanupTime.Format(time.RFC3339),
		"inactive_removed":   s.metrics.inactiveClientsRemoved,
	}
}

// GetClientCount возвращает количество активных клиентов в шарде
func (s *Shard) GetClientCount() int {
	var count int
	s.clients.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}

// Close закрывает шард и освобождает ресурсы
func (s *Shard) Close() {
	close(s.done)
}

// getActiveSubscribersForGame возвращает UserID подключенных к игре клиентов
// шарда, не помеченных как выбывшие. Ошибка проверки маркера в кеше не
// блокирует игру: такой пользователь считается активным.
func (s *Shard) getActiveSubscribersForGame(gameID string) ([]string, error) {
	var activeSubscribers []string

	gameMapUntyped, ok := s.gameSubscriptions.Load(gameID)
	if !ok {
		return activeSubscribers, nil
	}

	gameMap, ok := gameMapUntyped.(*sync.Map)
	if !ok {
		log.Printf("[Шард %d] Некорректный тип в индексе игры %s при опросе подписчиков: %T", s.id, gameID, gameMapUntyped)
		return activeSubscribers, nil
	}

	gameMap.Range(func(key, value interface{}) bool {
		client, ok := key.(*Client)
		if !ok || client == nil || client.UserID == "" {
			return true
		}

		removedKey := fmt.Sprintf("game:%s:removed:%s", gameID, client.UserID)
		removed, err := s.cacheRepo.Exists(removedKey)
		if err != nil {
			log.Printf("[Шард %d] Ошибка проверки маркера выбывания %s: %v. Пользователь считается активным.",
				s.id, removedKey, err)
			removed = false
		}

		if !removed {
			activeSubscribers = append(activeSubscribers, client.UserID)
		}
		return true
	})

	return activeSubscribers, nil
}
