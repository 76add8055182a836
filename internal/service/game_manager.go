package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/gameshow-api/internal/domain/entity"
	"github.com/yourusername/gameshow-api/internal/domain/repository"
	"github.com/yourusername/gameshow-api/internal/service/gameengine"
)

// GameBroadcaster доставляет события игры её подписчикам. Реализуется
// websocket.Manager; в тестах подменяется моком.
type GameBroadcaster interface {
	BroadcastEventToGame(gameID string, event interface{}) error
}

// GameManager связывает движок игр с внешним миром: выполняет команды
// через реестр, переводит записанные события в побочные эффекты
// (таймеры, рассылка, снимки состояния) и возвращает дедлайны обратно
// в движок. Все команды одной игры сериализованы реестром.
type GameManager struct {
	registry  *gameengine.GameRegistry
	scheduler *gameengine.DeadlineScheduler
	config    *gameengine.Config

	eventRepo   repository.GameEventRepository
	questionSvc *QuestionService
	cacheRepo   repository.CacheRepository
	broadcaster GameBroadcaster

	// Контекст для управления жизненным циклом
	ctx    context.Context
	cancel context.CancelFunc
}

// NewGameManager создает новый менеджер игр и запускает обработчик дедлайнов
func NewGameManager(
	eventRepo repository.GameEventRepository,
	questionSvc *QuestionService,
	cacheRepo repository.CacheRepository,
	broadcaster GameBroadcaster,
	config *gameengine.Config,
) *GameManager {
	if config == nil {
		config = gameengine.DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	gm := &GameManager{
		registry:    gameengine.NewGameRegistry(eventRepo),
		scheduler:   gameengine.NewDeadlineScheduler(ctx, config.FiringBuffer),
		config:      config,
		eventRepo:   eventRepo,
		questionSvc: questionSvc,
		cacheRepo:   cacheRepo,
		broadcaster: broadcaster,
		ctx:         ctx,
		cancel:      cancel,
	}

	go gm.handleDeadlines()

	log.Println("[GameManager] Менеджер игр успешно инициализирован")
	return gm
}

// ==================================================================
// Команды
// ==================================================================

// CreateGame создает игру: разрешает набор вопросов, валидирует конфигурацию
// и записывает GameCreated вместе с начальным ростером. Отклонённое создание
// не оставляет в журнале ни одного события.
func (gm *GameManager) CreateGame(cfg entity.GameConfig, moderatorName string, playerNames []string) (*entity.Game, error) {
	source, err := gm.questionSvc.ResolveSet(cfg.QuestionSetID, cfg.NumQuestions)
	if err != nil {
		return nil, err
	}

	gameID := uuid.NewString()
	events, game, err := gm.registry.Create(gameID, func(g *entity.Game) error {
		return g.Create(gameID, cfg, source, moderatorName, playerNames)
	})
	if err != nil {
		return nil, err
	}

	gm.applySideEffects(gameID, events, game)
	log.Printf("[GameManager] Игра %s создана: %d мест, %d вопросов из набора %d",
		gameID, cfg.MaxPlayers, game.TargetQuestions(), cfg.QuestionSetID)
	return game, nil
}

// AddPlayer добавляет игрока в ростер и возвращает его сгенерированный профиль
func (gm *GameManager) AddPlayer(gameID, username string) (*entity.Game, entity.User, error) {
	var user entity.User
	game, err := gm.execute(gameID, func(g *entity.Game) error {
		added, err := g.AddUser(username)
		if err != nil {
			return err
		}
		user = added
		return nil
	})
	if err != nil {
		return nil, entity.User{}, err
	}
	return game, user, nil
}

// RemovePlayer исключает участника из игры. Уход модератора или опустевший
// ростер отменяют игру.
func (gm *GameManager) RemovePlayer(gameID, username string) (*entity.Game, error) {
	return gm.execute(gameID, func(g *entity.Game) error {
		return g.RemoveUser(username)
	})
}

// StartGame переводит игру в активную фазу и задает первый вопрос
func (gm *GameManager) StartGame(gameID string) (*entity.Game, error) {
	return gm.execute(gameID, func(g *entity.Game) error {
		return g.Start()
	})
}

// SubmitAnswer принимает первый ответ игрока на вопрос
func (gm *GameManager) SubmitAnswer(gameID, questionID, userID, answer string) (*entity.Game, error) {
	return gm.execute(gameID, func(g *entity.Game) error {
		return g.AnswerQuestion(questionID, userID, answer)
	})
}

// OverrideAnswer заменяет ранее принятый ответ игрока. Работает и на
// закрытом вопросе: поздняя правка фиксируется отдельным событием.
func (gm *GameManager) OverrideAnswer(gameID, questionID, userID, answer string) (*entity.Game, error) {
	return gm.execute(gameID, func(g *entity.Game) error {
		return g.OverrideAnswer(questionID, userID, answer)
	})
}

// SubmitBuzz регистрирует нажатие кнопки игроком
func (gm *GameManager) SubmitBuzz(gameID, questionID, userID string, clientTime int64) (*entity.Game, error) {
	return gm.execute(gameID, func(g *entity.Game) error {
		return g.Buzz(questionID, userID, clientTime)
	})
}

// JudgeBuzzerAnswer фиксирует оценку устного ответа победителя гонки
func (gm *GameManager) JudgeBuzzerAnswer(gameID, questionID string, correct bool) (*entity.Game, error) {
	return gm.execute(gameID, func(g *entity.Game) error {
		return g.JudgeBuzzerAnswer(questionID, correct)
	})
}

// CloseQuestion закрывает вопрос. Повторное закрытие - успешная пустая операция.
func (gm *GameManager) CloseQuestion(gameID, questionID string) (*entity.Game, error) {
	return gm.execute(gameID, func(g *entity.Game) error {
		return g.CloseQuestion(questionID)
	})
}

// RateQuestion выставляет очки за вопрос. При auto очки считаются по
// правильному ответу; в зачёт идут только игроки текущего ростера.
func (gm *GameManager) RateQuestion(gameID, questionID string, points map[string]int, auto bool) (*entity.Game, error) {
	return gm.execute(gameID, func(g *entity.Game) error {
		grade := points
		if auto {
			q := g.Question(questionID)
			if q == nil {
				return fmt.Errorf("game %s, question %s: %w", g.ID, questionID, entity.ErrQuestionNotFound)
			}
			grade = make(map[string]int)
			for userID, pts := range q.AutoGrade() {
				if g.IsPlayer(userID) {
					grade[userID] = pts
				}
			}
		}
		return g.RateQuestion(questionID, grade)
	})
}

// AskNextQuestion задаёт следующий вопрос либо завершает игру, когда все
// вопросы набора заданы и оценены
func (gm *GameManager) AskNextQuestion(gameID string) (*entity.Game, error) {
	return gm.execute(gameID, func(g *entity.Game) error {
		return g.AskNextQuestion()
	})
}

// ==================================================================
// Чтение состояния
// ==================================================================

// GetGame возвращает проекцию состояния игры: сначала пробует снимок в кеше,
// при промахе сворачивает журнал
func (gm *GameManager) GetGame(gameID string) (*entity.Game, error) {
	var snapshot entity.Game
	if err := gm.cacheRepo.GetJSON(gameSnapshotKey(gameID), &snapshot); err == nil && snapshot.ID == gameID {
		return &snapshot, nil
	}
	return gm.registry.Inspect(gameID)
}

// ListEvents возвращает страницу журнала игры после указанного номера.
// Для несуществующей игры возвращает ErrNotFound.
func (gm *GameManager) ListEvents(gameID string, afterSeq int) ([]entity.GameEventRecord, error) {
	records, err := gm.eventRepo.ListByGameAfter(gameID, afterSeq)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		// Пустая страница не отличает хвост журнала от неизвестной игры
		if _, err := gm.registry.Inspect(gameID); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// ==================================================================
// Жизненный цикл
// ==================================================================

// ResumeActiveGames перепланирует таймер заброшенности всех незавершённых игр.
// Вызывается при старте сервера: таймеры живут в памяти и рестарт их теряет.
// Блокировка в Redis не даёт нескольким экземплярам дублировать работу.
func (gm *GameManager) ResumeActiveGames() error {
	ids, err := gm.eventRepo.ListActiveGameIDs()
	if err != nil {
		return fmt.Errorf("list active games: %w", err)
	}

	resumed := 0
	for _, gameID := range ids {
		acquired, err := gm.cacheRepo.SetNX(fmt.Sprintf("game:%s:resume_lock", gameID), "1", time.Minute)
		if err != nil {
			// Redis недоступен: лучше два таймера, чем ни одного
			log.Printf("[GameManager] Не удалось взять блокировку возобновления игры %s: %v", gameID, err)
			acquired = true
		}
		if !acquired {
			continue
		}
		gm.scheduler.Schedule(gameID, gameengine.DeadlineGameAbandoned, gm.config.AbandonTimeout)
		resumed++
	}

	log.Printf("[GameManager] Возобновлено %d активных игр из %d", resumed, len(ids))
	return nil
}

// Shutdown останавливает обработчик дедлайнов и все таймеры менеджера
func (gm *GameManager) Shutdown() {
	log.Println("[GameManager] Завершение работы менеджера игр")
	gm.cancel()
}

// ==================================================================
// Внутренняя кухня
// ==================================================================

// execute прогоняет команду через реестр и применяет побочные эффекты
// записанных событий. Занятая позиция журнала означает, что другой
// экземпляр дописал события первым: кеш сброшен, команда повторяется
// один раз на свежем состоянии.
func (gm *GameManager) execute(gameID string, fn gameengine.CommandFunc) (*entity.Game, error) {
	for attempt := 0; ; attempt++ {
		events, game, err := gm.registry.Execute(gameID, fn)
		if err != nil {
			if errors.Is(err, repository.ErrEventConflict) && attempt == 0 {
				log.Printf("[GameManager] Журнал игры %s ушёл вперёд, повторяем команду", gameID)
				continue
			}
			return nil, err
		}
		gm.applySideEffects(gameID, events, game)
		return game, nil
	}
}

// handleDeadlines возвращает сработавшие таймеры в движок. Обработчики
// дедлайнов идут через тот же реестр, что и команды, поэтому не
// пересекаются с ними на одной игре.
func (gm *GameManager) handleDeadlines() {
	for {
		select {
		case <-gm.ctx.Done():
			return
		case firing, ok := <-gm.scheduler.Firings():
			if !ok {
				return
			}
			gm.handleDeadline(firing)
		}
	}
}

func (gm *GameManager) handleDeadline(firing gameengine.Firing) {
	var fn gameengine.CommandFunc
	switch firing.Name {
	case gameengine.DeadlineGameAbandoned:
		fn = func(g *entity.Game) error { return g.HandleAbandonDeadline() }
	case gameengine.DeadlineQuestionClose:
		fn = func(g *entity.Game) error { return g.HandleQuestionCloseDeadline() }
	case gameengine.DeadlineQuestionBuzzer:
		fn = func(g *entity.Game) error { return g.HandleBuzzerDeadline() }
	default:
		log.Printf("[GameManager] Неизвестный дедлайн %q игры %s", firing.Name, firing.GameID)
		return
	}

	if _, err := gm.execute(firing.GameID, fn); err != nil {
		log.Printf("[GameManager] Дедлайн %s игры %s не обработан: %v", firing.Name, firing.GameID, err)
	}
}

// applySideEffects выполняет эффекты записанных событий: таймеры, рассылку
// подписчикам, снимок состояния и маркеры выбывших игроков. Вызывается
// только после успешной записи журнала.
func (gm *GameManager) applySideEffects(gameID string, events []entity.GameEvent, game *entity.Game) {
	if len(events) == 0 {
		return
	}

	gm.adjustDeadlines(gameID, events, game)
	gm.broadcastEvents(gameID, events, game)
	gm.storeSnapshot(game)

	if game.IsFinished() {
		gm.registry.Evict(gameID)
	}
}

// adjustDeadlines планирует и снимает таймеры по записанным событиям
func (gm *GameManager) adjustDeadlines(gameID string, events []entity.GameEvent, game *entity.Game) {
	for _, ev := range events {
		switch e := ev.(type) {
		case entity.GameCreated:
			gm.scheduler.Schedule(gameID, gameengine.DeadlineGameAbandoned, gm.config.AbandonTimeout)

		case entity.QuestionAsked:
			gm.scheduler.Schedule(gameID, gameengine.DeadlineGameAbandoned, gm.config.AbandonExtension)
			if e.Mode == entity.QuestionModeCollective && e.TimeToAnswerMs > 0 {
				gm.scheduler.Schedule(gameID, gameengine.DeadlineQuestionClose,
					time.Duration(e.TimeToAnswerMs)*time.Millisecond)
			}

		case entity.QuestionBuzzed:
			// Окно оценки открывает только первый базз вопроса
			if q := game.Question(e.QuestionID); q != nil && q.NumBuzzes() == 1 {
				gm.scheduler.Schedule(gameID, gameengine.DeadlineQuestionBuzzer, gm.config.BuzzerWindow)
			}

		case entity.QuestionClosed:
			gm.scheduler.Cancel(gameID, gameengine.DeadlineQuestionClose)
			gm.scheduler.Cancel(gameID, gameengine.DeadlineQuestionBuzzer)

		case entity.QuestionBuzzerAnswered, entity.QuestionRated:
			gm.scheduler.Cancel(gameID, gameengine.DeadlineQuestionClose)
			gm.scheduler.Cancel(gameID, gameengine.DeadlineQuestionBuzzer)

		case entity.GameEnded, entity.GameCanceled:
			gm.scheduler.CancelAll(gameID)
		}
	}
}

// broadcastEvents рассылает события подписчикам игры и помечает выбывших
// игроков в кеше для проверок на стороне WebSocket
func (gm *GameManager) broadcastEvents(gameID string, events []entity.GameEvent, game *entity.Game) {
	for _, ev := range events {
		if removed, ok := ev.(entity.UserRemoved); ok && !removed.Moderator {
			key := fmt.Sprintf("game:%s:removed:%s", gameID, removed.User.ID)
			if err := gm.cacheRepo.Set(key, "1", gm.config.SnapshotTTL); err != nil {
				log.Printf("[GameManager] Не удалось пометить выбывшего игрока %s: %v", removed.User.ID, err)
			}
		}

		if gm.broadcaster == nil {
			continue
		}
		msgType, data := presentGameEvent(ev, game)
		fullEvent := map[string]interface{}{
			"type": msgType,
			"data": data,
		}
		if err := gm.broadcaster.BroadcastEventToGame(gameID, fullEvent); err != nil {
			log.Printf("[GameManager] Ошибка рассылки %s для игры %s: %v", msgType, gameID, err)
		}
	}
}

// storeSnapshot сохраняет снимок состояния для дешёвых чтений. Журнал
// остаётся источником истины: потеря снимка безвредна.
func (gm *GameManager) storeSnapshot(game *entity.Game) {
	if err := gm.cacheRepo.SetJSON(gameSnapshotKey(game.ID), game, gm.config.SnapshotTTL); err != nil {
		log.Printf("[GameManager] Не удалось сохранить снимок игры %s: %v", game.ID, err)
	}
}

func gameSnapshotKey(gameID string) string {
	return fmt.Sprintf("game:%s:state", gameID)
}

// presentGameEvent переводит событие журнала в сообщение для подписчиков.
// Правильный ответ не попадает в рассылку, пока вопрос открыт: question:asked
// уходит без ответа, question:closed раскрывает его.
func presentGameEvent(ev entity.GameEvent, game *entity.Game) (string, interface{}) {
	switch e := ev.(type) {
	case entity.GameCreated:
		data := map[string]interface{}{
			"game_id":          e.GameID,
			"config":           e.Config,
			"target_questions": len(e.Questions),
			"created_at":       e.CreatedAt,
		}
		if e.Moderator != nil {
			data["moderator"] = e.Moderator
		}
		return "game:created", data

	case entity.UserAdded:
		return "user:added", e

	case entity.UserRemoved:
		return "user:removed", e

	case entity.GameStarted:
		return "game:started", e

	case entity.QuestionAsked:
		return "question:asked", map[string]interface{}{
			"game_id":           e.GameID,
			"question_id":       e.QuestionID,
			"seq":               e.Seq,
			"mode":              e.Mode,
			"moderated":         e.Moderated,
			"phrase":            e.Content.Phrase,
			"image_url":         e.Content.ImageURL,
			"options":           e.Content.Options,
			"points":            e.Content.Points,
			"time_to_answer_ms": e.TimeToAnswerMs,
			"asked_at":          e.AskedAt,
		}

	case entity.QuestionAnswered:
		// Текст ответа до закрытия вопроса знают только игрок и сервер
		return "question:answered", map[string]interface{}{
			"game_id":     e.GameID,
			"question_id": e.QuestionID,
			"user_id":     e.UserID,
			"answered_at": e.AnsweredAt,
		}

	case entity.QuestionAnswerOverridden:
		return "question:answer_overridden", map[string]interface{}{
			"game_id":     e.GameID,
			"question_id": e.QuestionID,
			"user_id":     e.UserID,
			"answered_at": e.AnsweredAt,
		}

	case entity.QuestionBuzzed:
		return "question:buzzed", e

	case entity.QuestionBuzzerAnswered:
		return "question:buzzer_answered", e

	case entity.QuestionClosed:
		data := map[string]interface{}{
			"game_id":     e.GameID,
			"question_id": e.QuestionID,
			"closed_at":   e.ClosedAt,
		}
		if q := game.Question(e.QuestionID); q != nil {
			data["answer"] = q.Content.Answer
			data["num_answers"] = q.NumAnswers()
		}
		return "question:closed", data

	case entity.QuestionRated:
		return "question:rated", map[string]interface{}{
			"game_id":     e.GameID,
			"question_id": e.QuestionID,
			"points":      e.Points,
			"scores":      game.Scores,
			"rated_at":    e.RatedAt,
		}

	case entity.GameEnded:
		return "game:ended", map[string]interface{}{
			"game_id":  e.GameID,
			"scores":   game.Scores,
			"ended_at": e.EndedAt,
		}

	case entity.GameCanceled:
		return "game:canceled", e

	default:
		return "game:event", e
	}
}
