package gameengine

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"
)

// Firing - сработавший дедлайн игры
type Firing struct {
	GameID string
	Name   string
}

// DeadlineScheduler взводит именованные дедлайны игр и доставляет
// срабатывания в канал Firings. Планировщик не трогает состояние игр:
// что делать со сработавшим дедлайном, решает потребитель канала.
type DeadlineScheduler struct {
	ctx     context.Context
	firings chan Firing
	timers  sync.Map // map[string]*deadlineTimer, ключ "gameID/name"
}

type deadlineTimer struct {
	cancel context.CancelFunc
}

// NewDeadlineScheduler создает новый планировщик дедлайнов. Контекст
// ограничивает жизнь всех таймеров временем работы сервиса.
func NewDeadlineScheduler(ctx context.Context, buffer int) *DeadlineScheduler {
	return &DeadlineScheduler{
		ctx:     ctx,
		firings: make(chan Firing, buffer),
	}
}

// Firings возвращает канал сработавших дедлайнов
func (s *DeadlineScheduler) Firings() <-chan Firing {
	return s.firings
}

func timerKey(gameID, name string) string {
	return gameID + "/" + name
}

// Schedule взводит дедлайн игры через delay. Уже взведённый дедлайн
// с тем же именем снимается и замещается новым.
func (s *DeadlineScheduler) Schedule(gameID, name string, delay time.Duration) {
	key := timerKey(gameID, name)
	tctx, cancel := context.WithCancel(s.ctx)
	timer := &deadlineTimer{cancel: cancel}

	if prev, loaded := s.timers.Swap(key, timer); loaded {
		prev.(*deadlineTimer).cancel()
	}

	go func() {
		select {
		case <-time.After(delay):
			// Таймер снимается с учёта до доставки: Cancel после
			// срабатывания - пустая операция
			s.timers.CompareAndDelete(key, timer)
			select {
			case s.firings <- Firing{GameID: gameID, Name: name}:
			case <-s.ctx.Done():
			}
		case <-tctx.Done():
		}
	}()

	log.Printf("[DeadlineScheduler] Игра %s: дедлайн %s взведён через %v", gameID, name, delay)
}

// Cancel снимает взведённый дедлайн игры. Снятие невзведённого дедлайна -
// пустая операция.
func (s *DeadlineScheduler) Cancel(gameID, name string) {
	if timer, loaded := s.timers.LoadAndDelete(timerKey(gameID, name)); loaded {
		timer.(*deadlineTimer).cancel()
		log.Printf("[DeadlineScheduler] Игра %s: дедлайн %s снят", gameID, name)
	}
}

// CancelAll снимает все дедлайны игры. Вызывается при переходе игры
// в терминальный статус.
func (s *DeadlineScheduler) CancelAll(gameID string) {
	prefix := gameID + "/"
	s.timers.Range(func(key, value interface{}) bool {
		if strings.HasPrefix(key.(string), prefix) {
			if timer, loaded := s.timers.LoadAndDelete(key); loaded {
				timer.(*deadlineTimer).cancel()
			}
		}
		return true
	})
	log.Printf("[DeadlineScheduler] Игра %s: все дедлайны сняты", gameID)
}
