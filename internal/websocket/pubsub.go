package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/yourusername/gameshow-api/internal/config"
)

// Типы межузловых сообщений кластера
const (
	clusterMsgBroadcast   = "broadcast"    // рассылка всем клиентам всех узлов
	clusterMsgDirect      = "direct"       // доставка конкретному пользователю, где бы он ни был подключен
	clusterMsgMetrics     = "metrics"      // периодический отчет узла о своем состоянии
	clusterMsgPeerRemoved = "peer_removed" // узел корректно покидает кластер
)

// ClusterAwareHub - то, что ClusterHub требует от локального хаба.
// Реализуется ShardedHub.
type ClusterAwareHub interface {
	// BroadcastBytes рассылает сообщение локальным клиентам этого узла.
	// В кластер сообщение не уходит.
	BroadcastBytes(message []byte)

	// BroadcastBytesLocal рассылает сообщение только локальным клиентам.
	// Используется для сообщений, пришедших из кластера, чтобы не
	// зациклить рассылку.
	BroadcastBytesLocal(message []byte)

	// SendToUser доставляет сообщение локально подключенному пользователю.
	// false означает, что пользователь не подключен к этому узлу.
	SendToUser(userID string, message []byte) bool

	// GetInstanceID возвращает идентификатор этого узла в кластере.
	GetInstanceID() string

	// GetMetrics возвращает локальные метрики узла для публикации в кластер.
	GetMetrics() map[string]interface{}

	// AddClusterPeer сохраняет или обновляет сведения о другом узле.
	AddClusterPeer(instanceID string, metrics json.RawMessage)

	// RemoveClusterPeer забывает узел, покинувший кластер.
	RemoveClusterPeer(instanceID string)
}

// PubSubProvider - транспорт межузловых сообщений
type PubSubProvider interface {
	// Publish отправляет сообщение в канал
	Publish(channel string, message []byte) error

	// Subscribe подписывается на канал; подписка живет, пока жив ctx
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)

	// Close останавливает подписки и освобождает ресурсы
	Close() error
}

// ClusterMessage - конверт, в котором узлы обмениваются сообщениями
type ClusterMessage struct {
	// MessageType - один из clusterMsg*-типов
	MessageType string `json:"type"`

	// RecipientID заполняется только для direct-сообщений
	RecipientID string `json:"recipient_id,omitempty"`

	// InstanceID - отправитель; по нему узел отбрасывает собственные сообщения
	InstanceID string `json:"instance_id"`

	// Payload - содержимое, как его увидит клиент
	Payload json.RawMessage `json:"payload"`

	// Timestamp - момент отправки
	Timestamp time.Time `json:"timestamp"`
}

// NoOpPubSub - провайдер для одноузлового режима: публикации уходят в никуда,
// подписки молчат до отмены контекста
type NoOpPubSub struct{}

func (p *NoOpPubSub) Publish(channel string, message []byte) error {
	return nil
}

func (p *NoOpPubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	msgCh := make(chan []byte)
	go func() {
		<-ctx.Done()
		close(msgCh)
	}()
	return msgCh, nil
}

func (p *NoOpPubSub) Close() error {
	return nil
}

// ClusterHub связывает локальный хаб с остальными узлами через Pub/Sub.
// Он пересылает широковещательные и адресные сообщения между узлами и
// ведет обмен метриками, по которому узлы узнают друг о друге.
type ClusterHub struct {
	config   config.ClusterConfig
	parent   ClusterAwareHub
	Provider PubSubProvider
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewClusterHub создает ClusterHub поверх переданного провайдера.
// Пустой InstanceID в конфигурации заменяется сгенерированным,
// nil-провайдер - заглушкой NoOpPubSub.
func NewClusterHub(parent ClusterAwareHub, cfg config.ClusterConfig, provider PubSubProvider) *ClusterHub {
	ctx, cancel := context.WithCancel(context.Background())

	if cfg.InstanceID == "" {
		cfg.InstanceID = generateInstanceID()
		log.Printf("[ClusterHub] InstanceID не задан в конфигурации, сгенерирован: %s", cfg.InstanceID)
	}

	if provider == nil {
		log.Println("[ClusterHub] Провайдер Pub/Sub не передан, используется NoOpPubSub")
		provider = &NoOpPubSub{}
	}

	return &ClusterHub{
		config:   cfg,
		parent:   parent,
		Provider: provider,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start запускает слушателей каналов кластера и публикацию метрик.
// При выключенном кластерном режиме ничего не делает.
func (ch *ClusterHub) Start() error {
	if !ch.config.Enabled {
		log.Println("[ClusterHub] Кластерный режим выключен, узел работает автономно")
		return nil
	}

	log.Printf("[ClusterHub] Запуск кластерного режима, узел %s", ch.config.InstanceID)

	ch.wg.Add(1)
	go func() {
		defer ch.wg.Done()
		ch.handleBroadcastMessages()
	}()

	ch.wg.Add(1)
	go func() {
		defer ch.wg.Done()
		ch.handleDirectMessages()
	}()

	ch.wg.Add(1)
	go func() {
		defer ch.wg.Done()
		ch.handleMetricsMessages()
	}()

	ch.wg.Add(1)
	go func() {
		defer ch.wg.Done()
		ch.publishMetrics()
	}()

	return nil
}

// Stop останавливает слушателей и дожидается их завершения
func (ch *ClusterHub) Stop() {
	if !ch.config.Enabled {
		return
	}

	log.Println("[ClusterHub] Остановка кластерного режима")
	ch.cancel()
	ch.wg.Wait()
}

// BroadcastToCluster публикует сообщение для клиентов всех узлов кластера
func (ch *ClusterHub) BroadcastToCluster(payload []byte) error {
	if !ch.config.Enabled {
		return nil
	}

	msg := ClusterMessage{
		MessageType: clusterMsgBroadcast,
		InstanceID:  ch.config.InstanceID,
		Payload:     payload,
		Timestamp:   time.Now(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return ch.Provider.Publish(ch.config.BroadcastChannel, data)
}

// SendToUserInCluster публикует адресное сообщение: его доставит тот узел,
// к которому пользователь подключен
func (ch *ClusterHub) SendToUserInCluster(userID string, payload []byte) error {
	if !ch.config.Enabled {
		return nil
	}

	msg := ClusterMessage{
		MessageType: clusterMsgDirect,
		RecipientID: userID,
		InstanceID:  ch.config.InstanceID,
		Payload:     payload,
		Timestamp:   time.Now(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return ch.Provider.Publish(ch.config.DirectChannel, data)
}

// handleBroadcastMessages раздает локальным клиентам сообщения,
// опубликованные другими узлами
func (ch *ClusterHub) handleBroadcastMessages() {
	broadcastCh, err := ch.Provider.Subscribe(ch.ctx, ch.config.BroadcastChannel)
	if err != nil {
		log.Printf("[ClusterHub] Не удалось подписаться на канал %s: %v", ch.config.BroadcastChannel, err)
		return
	}

	log.Printf("[ClusterHub] Слушаем широковещательный канал %s", ch.config.BroadcastChannel)

	for {
		select {
		case <-ch.ctx.Done():
			return
		case data, ok := <-broadcastCh:
			if !ok {
				log.Println("[ClusterHub] Широковещательный канал закрыт")
				return
			}

			var msg ClusterMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Printf("[ClusterHub] Не удалось разобрать сообщение из %s: %v", ch.config.BroadcastChannel, err)
				continue
			}

			// Собственные публикации узел уже раздал локально
			if msg.InstanceID == ch.parent.GetInstanceID() {
				continue
			}

			switch msg.MessageType {
			case clusterMsgBroadcast:
				// Только локальная раздача, иначе сообщение снова уйдет в кластер
				ch.parent.BroadcastBytesLocal(msg.Payload)
			case clusterMsgMetrics:
				// Некоторые узлы публикуют метрики в общий канал
				ch.parent.AddClusterPeer(msg.InstanceID, msg.Payload)
			default:
				log.Printf("[ClusterHub] Сообщение неизвестного типа %q от узла %s", msg.MessageType, msg.InstanceID)
			}
		}
	}
}

// handleDirectMessages доставляет адресные сообщения, если получатель
// подключен к этому узлу
func (ch *ClusterHub) handleDirectMessages() {
	if ch.config.DirectChannel == "" {
		log.Println("[ClusterHub] Канал адресных сообщений не настроен, слушатель не запущен")
		return
	}

	msgCh, err := ch.Provider.Subscribe(ch.ctx, ch.config.DirectChannel)
	if err != nil {
		log.Printf("[ClusterHub] Не удалось подписаться на канал %s: %v", ch.config.DirectChannel, err)
		return
	}
	log.Printf("[ClusterHub] Слушаем канал адресных сообщений %s", ch.config.DirectChannel)

	for {
		select {
		case <-ch.ctx.Done():
			return
		case msgBytes, ok := <-msgCh:
			if !ok {
				log.Println("[ClusterHub] Канал адресных сообщений закрыт")
				return
			}

			var msg ClusterMessage
			if err := json.Unmarshal(msgBytes, &msg); err != nil {
				log.Printf("[ClusterHub] Не удалось разобрать сообщение из %s: %v", ch.config.DirectChannel, err)
				continue
			}

			if msg.InstanceID == ch.config.InstanceID {
				continue
			}

			if msg.MessageType != clusterMsgDirect || msg.RecipientID == "" {
				log.Printf("[ClusterHub] В канале %s сообщение без получателя или неверного типа: %q", ch.config.DirectChannel, msg.MessageType)
				continue
			}

			// false означает лишь, что получатель подключен к другому узлу
			_ = ch.parent.SendToUser(msg.RecipientID, msg.Payload)
		}
	}
}

// handleMetricsMessages поддерживает актуальный список узлов кластера
// по их отчетам и уведомлениям об уходе
func (ch *ClusterHub) handleMetricsMessages() {
	if ch.config.MetricsChannel == "" {
		log.Println("[ClusterHub] Канал метрик не настроен, слушатель не запущен")
		return
	}

	msgCh, err := ch.Provider.Subscribe(ch.ctx, ch.config.MetricsChannel)
	if err != nil {
		log.Printf("[ClusterHub] Не удалось подписаться на канал %s: %v", ch.config.MetricsChannel, err)
		return
	}
	log.Printf("[ClusterHub] Слушаем канал метрик %s", ch.config.MetricsChannel)

	for {
		select {
		case <-ch.ctx.Done():
			return
		case msgBytes, ok := <-msgCh:
			if !ok {
				log.Println("[ClusterHub] Канал метрик закрыт")
				return
			}

			var msg ClusterMessage
			if err := json.Unmarshal(msgBytes, &msg); err != nil {
				log.Printf("[ClusterHub] Не удалось разобрать сообщение из %s: %v", ch.config.MetricsChannel, err)
				continue
			}

			if msg.InstanceID == ch.config.InstanceID {
				continue
			}

			switch msg.MessageType {
			case clusterMsgMetrics:
				ch.parent.AddClusterPeer(msg.InstanceID, msg.Payload)
			case clusterMsgPeerRemoved:
				log.Printf("[ClusterHub] Узел %s покинул кластер", msg.InstanceID)
				ch.parent.RemoveClusterPeer(msg.InstanceID)
			default:
				log.Printf("[ClusterHub] В канале %s сообщение неизвестного типа %q", ch.config.MetricsChannel, msg.MessageType)
			}
		}
	}
}

// publishMetrics периодически публикует метрики узла; перед остановкой
// уведомляет кластер об уходе
func (ch *ClusterHub) publishMetrics() {
	if ch.config.MetricsInterval <= 0 {
		log.Println("[ClusterHub] Публикация метрик выключена (интервал <= 0)")
		return
	}

	interval := time.Duration(ch.config.MetricsInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[ClusterHub] Публикуем метрики узла каждые %v", interval)

	for {
		select {
		case <-ch.ctx.Done():
			ch.sendPeerRemovalMessage()
			return
		case <-ticker.C:
			payload, err := json.Marshal(ch.parent.GetMetrics())
			if err != nil {
				log.Printf("[ClusterHub] Не удалось сериализовать метрики: %v", err)
				continue
			}

			msg := ClusterMessage{
				MessageType: clusterMsgMetrics,
				InstanceID:  ch.parent.GetInstanceID(),
				Payload:     payload,
				Timestamp:   time.Now(),
			}

			data, err := json.Marshal(msg)
			if err != nil {
				log.Printf("[ClusterHub] Не удалось сериализовать отчет о метриках: %v", err)
				continue
			}

			if err := ch.Provider.Publish(ch.config.MetricsChannel, data); err != nil {
				log.Printf("[ClusterHub] Не удалось опубликовать метрики в %s: %v", ch.config.MetricsChannel, err)
			}
		}
	}
}

// sendPeerRemovalMessage сообщает кластеру, что узел уходит, чтобы пиры
// не ждали таймаута его отчетов
func (ch *ClusterHub) sendPeerRemovalMessage() {
	if ch.config.MetricsChannel == "" {
		return
	}

	log.Printf("[ClusterHub] Уведомляем кластер об уходе узла %s", ch.parent.GetInstanceID())
	msg := ClusterMessage{
		MessageType: clusterMsgPeerRemoved,
		InstanceID:  ch.parent.GetInstanceID(),
		Timestamp:   time.Now(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[ClusterHub] Не удалось сериализовать уведомление об уходе: %v", err)
		return
	}
	if err := ch.Provider.Publish(ch.config.MetricsChannel, data); err != nil {
		log.Printf("[ClusterHub] Не удалось опубликовать уведомление об уходе: %v", err)
	}
}

// RedisPubSub реализует PubSubProvider поверх Redis Pub/Sub.
// Подписка на канал открывается один раз; повторные подписчики получают
// прокси-канал поверх уже существующей.
type RedisPubSub struct {
	client        redis.UniversalClient
	ctx           context.Context
	cancel        context.CancelFunc
	subscriptions sync.Map   // channel -> *redis.PubSub
	mu            sync.Mutex // сериализует Subscribe и Close
}

// NewRedisPubSub оборачивает готовый UniversalClient. Клиент проверяется
// пингом, чтобы ошибка конфигурации всплыла при старте, а не при первой
// публикации.
func NewRedisPubSub(client redis.UniversalClient) (*RedisPubSub, error) {
	if client == nil {
		return nil, errors.New("redis client is required for RedisPubSub")
	}

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &RedisPubSub{
		client: client,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Publish отправляет сообщение в канал Redis
func (p *RedisPubSub) Publish(channel string, message []byte) error {
	cmd := p.client.Publish(p.ctx, channel, message)
	if err := cmd.Err(); err != nil {
		return fmt.Errorf("failed to publish to Redis channel %s: %w", channel, err)
	}
	return nil
}

// Subscribe подписывается на канал Redis и возвращает канал сообщений.
// Канал закрывается при отмене ctx или остановке провайдера.
func (p *RedisPubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// На канал уже подписаны: раздаем сообщения существующей подписки
	// через прокси, чтобы новый подписчик не мог закрыть оригинал
	if sub, ok := p.subscriptions.Load(channel); ok {
		if redisSub, ok := sub.(*redis.PubSub); ok {
			msgChProxy := make(chan []byte, 100)
			go func() {
				origCh := redisSub.Channel()
				for {
					select {
					case msg, ok := <-origCh:
						if !ok {
							close(msgChProxy)
							return
						}
						select {
						case msgChProxy <- []byte(msg.Payload):
						default:
							log.Printf("[RedisPubSub] Прокси-канал %s переполнен, сообщение отброшено", channel)
						}
					case <-ctx.Done():
						close(msgChProxy)
						return
					case <-p.ctx.Done():
						close(msgChProxy)
						return
					}
				}
			}()
			return msgChProxy, nil
		}
	}

	pubsub := p.client.Subscribe(p.ctx, channel)

	// Дожидаемся подтверждения, чтобы не потерять ранние публикации
	if _, err := pubsub.Receive(p.ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to Redis channel %s: %w", channel, err)
	}

	p.subscriptions.Store(channel, pubsub)
	log.Printf("[RedisPubSub] Подписка на канал %s открыта", channel)

	msgCh := make(chan []byte, 100)

	go func() {
		defer func() {
			p.mu.Lock()
			p.subscriptions.Delete(channel)
			p.mu.Unlock()
			pubsub.Close()
			close(msgCh)
			log.Printf("[RedisPubSub] Подписка на канал %s закрыта", channel)
		}()

		redisCh := pubsub.Channel()
		for {
			select {
			case msg, ok := <-redisCh:
				if !ok {
					return
				}
				select {
				case msgCh <- []byte(msg.Payload):
				case <-p.ctx.Done():
					return
				case <-ctx.Done():
					return
				}
			case <-p.ctx.Done():
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return msgCh, nil
}

// Close останавливает все подписки и закрывает клиента Redis
func (p *RedisPubSub) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cancel()

	var lastErr error

	p.subscriptions.Range(func(key, value interface{}) bool {
		if pubsub, ok := value.(*redis.PubSub); ok {
			if err := pubsub.Close(); err != nil {
				log.Printf("[RedisPubSub] Ошибка закрытия подписки на %s: %v", key.(string), err)
				lastErr = err
			}
		}
		return true
	})

	if p.client != nil {
		if err := p.client.Close(); err != nil {
			log.Printf("[RedisPubSub] Ошибка закрытия клиента Redis: %v", err)
			lastErr = err
		}
	}

	return lastErr
}

// generateInstanceID выдает идентификатор узла, когда он не задан в
// конфигурации. Временная метка оставлена для удобства чтения логов.
func generateInstanceID() string {
	return "node_" + time.Now().Format("20060102150405") + "_" + uuid.NewString()[:8]
}
