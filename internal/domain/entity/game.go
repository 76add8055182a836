package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GameStatus - статус жизненного цикла игры
type GameStatus string

const (
	// GameStatusCreated - игра создана, идёт набор игроков
	GameStatusCreated GameStatus = "CREATED"
	// GameStatusStarted - игра идёт, вопросы задаются и оцениваются
	GameStatusStarted GameStatus = "STARTED"
	// GameStatusEnded - все вопросы заданы и оценены (терминальный)
	GameStatusEnded GameStatus = "ENDED"
	// GameStatusCanceled - игра прервана до завершения (терминальный)
	GameStatusCanceled GameStatus = "CANCELED"
)

// User - участник игры: игрок ростера либо модератор
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// GameConfig - неизменяемая конфигурация игры
type GameConfig struct {
	MaxPlayers         int  `json:"max_players"`
	NumQuestions       int  `json:"num_questions"`
	SecondsPerQuestion int  `json:"seconds_per_question"`
	Buzzer             bool `json:"buzzer"`
	QuestionSetID      uint `json:"question_set_id"`
}

// Validate проверяет конфигурацию при создании игры
func (c GameConfig) Validate(hasModerator bool) error {
	if c.MaxPlayers <= 0 {
		return fmt.Errorf("max_players must be positive: %w", ErrInvalidGameConfig)
	}
	if c.NumQuestions <= 0 {
		return fmt.Errorf("num_questions must be positive: %w", ErrInvalidGameConfig)
	}
	if c.SecondsPerQuestion < 0 {
		return fmt.Errorf("seconds_per_question must not be negative: %w", ErrInvalidGameConfig)
	}
	if c.Buzzer && !hasModerator {
		return fmt.Errorf("buzzer game requires a moderator: %w", ErrInvalidGameConfig)
	}
	return nil
}

// Game - агрегат игры. Состояние строится свёрткой событий журнала (Apply);
// командные методы проверяют предусловия и добавляют новые события через emit.
// Команда, вернувшая ошибку, не оставляет событий в журнале.
type Game struct {
	ID           string           `json:"id"`
	Config       GameConfig       `json:"config"`
	Status       GameStatus       `json:"status"`
	Source       []SourceQuestion `json:"source"`
	Players      []User           `json:"players"`
	Moderator    *User            `json:"moderator,omitempty"`
	Questions    []*GameQuestion  `json:"questions"`
	Scores       map[string]int   `json:"scores"`
	CreatedAt    time.Time        `json:"created_at"`
	StartedAt    *time.Time       `json:"started_at,omitempty"`
	FinishedAt   *time.Time       `json:"finished_at,omitempty"`
	CancelReason string           `json:"cancel_reason,omitempty"`

	version int
	pending []GameEvent
}

// NewGame возвращает пустой агрегат для создания игры или восстановления из журнала
func NewGame() *Game {
	return &Game{
		Scores: make(map[string]int),
	}
}

// Version - количество применённых к агрегату событий
func (g *Game) Version() int {
	return g.version
}

// HasPending сообщает, есть ли несохранённые события
func (g *Game) HasPending() bool {
	return len(g.pending) > 0
}

// DrainPending возвращает накопленные события и очищает буфер
func (g *Game) DrainPending() []GameEvent {
	events := g.pending
	g.pending = nil
	return events
}

// ApplyHistory восстанавливает состояние из событий журнала в порядке записи
func (g *Game) ApplyHistory(events []GameEvent) {
	for _, ev := range events {
		g.Apply(ev)
	}
}

// emit применяет событие к состоянию и ставит его в очередь на запись
func (g *Game) emit(ev GameEvent) {
	g.Apply(ev)
	g.pending = append(g.pending, ev)
}

// Apply применяет одно событие к состоянию. Журнал считается доверенным:
// свёртка не возвращает ошибок.
func (g *Game) Apply(ev GameEvent) {
	switch e := ev.(type) {
	case GameCreated:
		g.ID = e.GameID
		g.Config = e.Config
		g.Status = GameStatusCreated
		g.Source = e.Questions
		g.Moderator = e.Moderator
		g.CreatedAt = e.CreatedAt
		if g.Scores == nil {
			g.Scores = make(map[string]int)
		}
	case UserAdded:
		g.Players = append(g.Players, e.User)
	case UserRemoved:
		if e.Moderator {
			g.Moderator = nil
		} else {
			for i, p := range g.Players {
				if p.ID == e.User.ID {
					g.Players = append(g.Players[:i], g.Players[i+1:]...)
					break
				}
			}
		}
	case GameStarted:
		g.Status = GameStatusStarted
		startedAt := e.StartedAt
		g.StartedAt = &startedAt
	case QuestionAsked:
		g.Questions = append(g.Questions, &GameQuestion{
			ID:             e.QuestionID,
			Seq:            e.Seq,
			BankID:         e.BankID,
			Mode:           e.Mode,
			Content:        e.Content,
			Moderated:      e.Moderated,
			TimeToAnswerMs: e.TimeToAnswerMs,
			AskedAt:        e.AskedAt,
			Answers:        make(map[string]PlayerAnswer),
			Points:         make(map[string]int),
		})
	case QuestionAnswered:
		if q := g.Question(e.QuestionID); q != nil {
			q.Answers[e.UserID] = PlayerAnswer{
				UserID:     e.UserID,
				Text:       e.Answer,
				AnsweredAt: e.AnsweredAt,
			}
		}
	case QuestionAnswerOverridden:
		if q := g.Question(e.QuestionID); q != nil {
			q.Answers[e.UserID] = PlayerAnswer{
				UserID:     e.UserID,
				Text:       e.Answer,
				Overridden: true,
				AnsweredAt: e.AnsweredAt,
			}
		}
	case QuestionBuzzed:
		if q := g.Question(e.QuestionID); q != nil {
			q.Buzzes = append(q.Buzzes, Buzz{
				UserID:       e.UserID,
				ClientTime:   e.ClientTime,
				RegisteredAt: e.RegisteredAt,
			})
		}
	case QuestionBuzzerAnswered:
		if q := g.Question(e.QuestionID); q != nil {
			q.Points = map[string]int{e.UserID: e.Points}
			q.Closed = true
			q.Rated = true
			g.Scores[e.UserID] += e.Points
		}
	case QuestionClosed:
		if q := g.Question(e.QuestionID); q != nil {
			q.Closed = true
		}
	case QuestionRated:
		if q := g.Question(e.QuestionID); q != nil {
			q.Closed = true
			q.Rated = true
			q.Points = make(map[string]int, len(e.Points))
			for userID, pts := range e.Points {
				q.Points[userID] = pts
				g.Scores[userID] += pts
			}
		}
	case GameEnded:
		g.Status = GameStatusEnded
		endedAt := e.EndedAt
		g.FinishedAt = &endedAt
	case GameCanceled:
		g.Status = GameStatusCanceled
		g.CancelReason = e.Reason
		canceledAt := e.CanceledAt
		g.FinishedAt = &canceledAt
	}
	g.version++
}

// --- Запросы к состоянию ---

// Question возвращает заданный вопрос по идентификатору или nil
func (g *Game) Question(questionID string) *GameQuestion {
	for _, q := range g.Questions {
		if q.ID == questionID {
			return q
		}
	}
	return nil
}

// OpenQuestion возвращает первый незакрытый вопрос или nil
func (g *Game) OpenQuestion() *GameQuestion {
	for _, q := range g.Questions {
		if !q.Closed {
			return q
		}
	}
	return nil
}

// UnratedQuestion возвращает первый неоценённый вопрос или nil
func (g *Game) UnratedQuestion() *GameQuestion {
	for _, q := range g.Questions {
		if !q.Rated {
			return q
		}
	}
	return nil
}

// Player возвращает игрока ростера по имени или nil
func (g *Game) Player(username string) *User {
	for i := range g.Players {
		if g.Players[i].Username == username {
			return &g.Players[i]
		}
	}
	return nil
}

// IsPlayer проверяет, входит ли пользователь в ростер
func (g *Game) IsPlayer(userID string) bool {
	for _, p := range g.Players {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// IsFinished сообщает, находится ли игра в терминальном статусе
func (g *Game) IsFinished() bool {
	return g.Status == GameStatusEnded || g.Status == GameStatusCanceled
}

// QuestionIDs возвращает идентификаторы вопросов банка в порядке показа
func (g *Game) QuestionIDs() []uint {
	ids := make([]uint, len(g.Source))
	for i, src := range g.Source {
		ids[i] = src.BankID
	}
	return ids
}

// TargetQuestions - эффективное число вопросов игры
func (g *Game) TargetQuestions() int {
	return len(g.Source)
}

// --- Команды ---

// Create инициализирует новую игру. source упорядочен источником вопросов;
// список обрезается до настроенного числа вопросов. Каждое имя из playerNames
// сразу занимает место в ростере.
func (g *Game) Create(id string, cfg GameConfig, source []SourceQuestion, moderatorName string, playerNames []string) error {
	var moderator *User
	if moderatorName != "" {
		moderator = &User{ID: uuid.NewString(), Username: moderatorName}
	}
	if err := cfg.Validate(moderator != nil); err != nil {
		return err
	}
	if len(source) == 0 {
		return fmt.Errorf("question set %d: %w", cfg.QuestionSetID, ErrQuestionSetEmpty)
	}
	if len(source) > cfg.NumQuestions {
		source = source[:cfg.NumQuestions]
	}
	if len(playerNames) > cfg.MaxPlayers {
		return fmt.Errorf("game %s: %w", id, ErrGameFull)
	}
	seen := make(map[string]struct{}, len(playerNames))
	for _, name := range playerNames {
		if name == "" {
			return fmt.Errorf("game %s: %w", id, ErrInvalidUsername)
		}
		if moderator != nil && moderator.Username == name {
			return fmt.Errorf("game %s, username %q: %w", id, name, ErrUsernameTaken)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("game %s, username %q: %w", id, name, ErrUsernameTaken)
		}
		seen[name] = struct{}{}
	}

	g.emit(GameCreated{
		GameID:    id,
		Config:    cfg,
		Questions: source,
		Moderator: moderator,
		CreatedAt: time.Now().UTC(),
	})

	for _, name := range playerNames {
		if _, err := g.AddUser(name); err != nil {
			return err
		}
	}
	return nil
}

// AddUser добавляет игрока в ростер и возвращает созданного участника.
// Разрешено до и во время игры, пока есть свободные места.
func (g *Game) AddUser(username string) (User, error) {
	if g.IsFinished() {
		return User{}, g.finishedError()
	}
	if username == "" {
		return User{}, fmt.Errorf("game %s: %w", g.ID, ErrInvalidUsername)
	}
	if len(g.Players) >= g.Config.MaxPlayers {
		return User{}, fmt.Errorf("game %s: %w", g.ID, ErrGameFull)
	}
	if g.Player(username) != nil || (g.Moderator != nil && g.Moderator.Username == username) {
		return User{}, fmt.Errorf("game %s, username %q: %w", g.ID, username, ErrUsernameTaken)
	}

	user := User{ID: uuid.NewString(), Username: username}
	g.emit(UserAdded{GameID: g.ID, User: user, AddedAt: time.Now().UTC()})
	return user, nil
}

// RemoveUser удаляет участника по имени. Уход модератора или последнего
// игрока отменяет игру; отмена необратима.
func (g *Game) RemoveUser(username string) error {
	if g.IsFinished() {
		return g.finishedError()
	}

	if g.Moderator != nil && g.Moderator.Username == username {
		moderator := *g.Moderator
		g.emit(UserRemoved{GameID: g.ID, User: moderator, Moderator: true, RemovedAt: time.Now().UTC()})
		g.cancelGame(CancelReasonModeratorLeft)
		return nil
	}

	player := g.Player(username)
	if player == nil {
		return fmt.Errorf("game %s, username %q: %w", g.ID, username, ErrUserNotFound)
	}
	removed := *player
	g.emit(UserRemoved{GameID: g.ID, User: removed, RemovedAt: time.Now().UTC()})
	if len(g.Players) == 0 {
		g.cancelGame(CancelReasonRosterEmpty)
		return nil
	}
	if g.Status == GameStatusStarted {
		if q := g.OpenQuestion(); q != nil && g.rosterAnswered(q) {
			g.closeQuestion(q)
		}
	}
	return nil
}

// Start переводит игру из CREATED в STARTED и задаёт первый вопрос
func (g *Game) Start() error {
	if g.IsFinished() {
		return g.finishedError()
	}
	if g.Status != GameStatusCreated {
		return fmt.Errorf("game %s: %w", g.ID, ErrGameAlreadyStarted)
	}
	if g.Config.Buzzer && len(g.Players) < 2 {
		return fmt.Errorf("game %s has %d players: %w", g.ID, len(g.Players), ErrNotEnoughPlayers)
	}

	g.emit(GameStarted{GameID: g.ID, StartedAt: time.Now().UTC()})
	g.askNext()
	return nil
}

// AnswerQuestion принимает первый ответ игрока на открытый вопрос. Когда
// ответили все игроки ростера, вопрос закрывается той же командой.
func (g *Game) AnswerQuestion(questionID, userID, answer string) error {
	if err := g.requireStarted(); err != nil {
		return err
	}
	q, err := g.requireQuestion(questionID)
	if err != nil {
		return err
	}
	if q.Closed {
		return fmt.Errorf("game %s, question %s: %w", g.ID, questionID, ErrQuestionClosed)
	}
	if !g.IsPlayer(userID) {
		return fmt.Errorf("game %s, user %s: %w", g.ID, userID, ErrUserNotFound)
	}
	if q.HasAnswer(userID) {
		return fmt.Errorf("game %s, question %s, user %s: %w", g.ID, questionID, userID, ErrAnswerExists)
	}

	g.emit(QuestionAnswered{
		GameID:     g.ID,
		QuestionID: questionID,
		UserID:     userID,
		Answer:     answer,
		AnsweredAt: time.Now().UTC(),
	})
	if g.rosterAnswered(q) {
		g.closeQuestion(q)
	}
	return nil
}

// OverrideAnswer заменяет ранее принятый ответ игрока. Работает и на
// закрытом вопросе: модератор правит запись перед оценкой.
func (g *Game) OverrideAnswer(questionID, userID, answer string) error {
	if err := g.requireStarted(); err != nil {
		return err
	}
	q, err := g.requireQuestion(questionID)
	if err != nil {
		return err
	}
	if !q.HasAnswer(userID) {
		return fmt.Errorf("game %s, question %s, user %s: %w", g.ID, questionID, userID, ErrAnswerNotFound)
	}

	g.emit(QuestionAnswerOverridden{
		GameID:     g.ID,
		QuestionID: questionID,
		UserID:     userID,
		Answer:     answer,
		AnsweredAt: time.Now().UTC(),
	})
	return nil
}

// Buzz регистрирует нажатие кнопки. clientTime - метка клиента в миллисекундах;
// победитель определяется порядком применения событий, а не этой меткой.
func (g *Game) Buzz(questionID, userID string, clientTime int64) error {
	if err := g.requireStarted(); err != nil {
		return err
	}
	q, err := g.requireQuestion(questionID)
	if err != nil {
		return err
	}
	if q.Closed {
		return fmt.Errorf("game %s, question %s: %w", g.ID, questionID, ErrQuestionClosed)
	}
	if q.Mode != QuestionModeBuzzer {
		return fmt.Errorf("game %s, question %s: %w", g.ID, questionID, ErrNotBuzzerQuestion)
	}
	if !g.IsPlayer(userID) {
		return fmt.Errorf("game %s, user %s: %w", g.ID, userID, ErrUserNotFound)
	}
	if q.HasBuzz(userID) {
		return fmt.Errorf("game %s, question %s, user %s: %w", g.ID, questionID, userID, ErrBuzzExists)
	}

	g.emit(QuestionBuzzed{
		GameID:       g.ID,
		QuestionID:   questionID,
		UserID:       userID,
		ClientTime:   clientTime,
		RegisteredAt: time.Now().UTC(),
	})
	return nil
}

// JudgeBuzzerAnswer оценивает устный ответ победителя гонки баззов: полный
// балл за верный ответ, ноль за неверный. Закрывает и оценивает вопрос.
func (g *Game) JudgeBuzzerAnswer(questionID string, correct bool) error {
	if err := g.requireStarted(); err != nil {
		return err
	}
	q, err := g.requireQuestion(questionID)
	if err != nil {
		return err
	}
	if q.Rated {
		return fmt.Errorf("game %s, question %s: %w", g.ID, questionID, ErrQuestionRated)
	}
	winner := q.BuzzWinner()
	if winner == nil {
		return fmt.Errorf("game %s, question %s: %w", g.ID, questionID, ErrNoBuzzes)
	}

	points := 0
	if correct {
		points = q.Content.Points
	}
	g.emit(QuestionBuzzerAnswered{
		GameID:     g.ID,
		QuestionID: questionID,
		UserID:     winner.UserID,
		Correct:    correct,
		Points:     points,
		JudgedAt:   time.Now().UTC(),
	})
	return nil
}

// CloseQuestion закрывает вопрос. Закрытие уже закрытого вопроса - успешная
// пустая операция.
func (g *Game) CloseQuestion(questionID string) error {
	if err := g.requireStarted(); err != nil {
		return err
	}
	q, err := g.requireQuestion(questionID)
	if err != nil {
		return err
	}
	if q.Closed {
		return nil
	}
	g.closeQuestion(q)
	return nil
}

// RateQuestion выставляет игрокам очки за вопрос. Оценка закрывает вопрос
// и финальна. Каждый ключ points должен быть игроком ростера.
func (g *Game) RateQuestion(questionID string, points map[string]int) error {
	if err := g.requireStarted(); err != nil {
		return err
	}
	q, err := g.requireQuestion(questionID)
	if err != nil {
		return err
	}
	if q.Rated {
		return fmt.Errorf("game %s, question %s: %w", g.ID, questionID, ErrQuestionRated)
	}
	for userID := range points {
		if !g.IsPlayer(userID) {
			return fmt.Errorf("game %s, user %s: %w", g.ID, userID, ErrUserNotFound)
		}
	}

	g.emit(QuestionRated{
		GameID:     g.ID,
		QuestionID: questionID,
		Points:     points,
		RatedAt:    time.Now().UTC(),
	})
	return nil
}

// AskNextQuestion переходит к следующему вопросу либо завершает игру,
// когда лимит вопросов исчерпан. Требует оценки всех заданных вопросов.
func (g *Game) AskNextQuestion() error {
	if err := g.requireStarted(); err != nil {
		return err
	}
	if q := g.UnratedQuestion(); q != nil {
		return fmt.Errorf("game %s, question %s: %w", g.ID, q.ID, ErrQuestionUnrated)
	}
	if len(g.Questions) >= g.TargetQuestions() {
		g.emit(GameEnded{GameID: g.ID, EndedAt: time.Now().UTC()})
		return nil
	}
	g.askNext()
	return nil
}

// --- Обработчики дедлайнов ---

// HandleAbandonDeadline отменяет заброшенную игру. Для завершённых игр -
// единственная молчаливая пустая операция в системе.
func (g *Game) HandleAbandonDeadline() error {
	if g.IsFinished() {
		return nil
	}
	g.cancelGame(CancelReasonAbandoned)
	return nil
}

// HandleQuestionCloseDeadline закрывает первый незакрытый вопрос по истечении
// окна ответов. Пустая операция, если открытых вопросов нет.
func (g *Game) HandleQuestionCloseDeadline() error {
	if g.Status != GameStatusStarted {
		return nil
	}
	if q := g.OpenQuestion(); q != nil {
		g.closeQuestion(q)
	}
	return nil
}

// HandleBuzzerDeadline закрывает окно приёма баззов первого незакрытого
// вопроса. После закрытия модератор оценивает ответ победителя гонки.
func (g *Game) HandleBuzzerDeadline() error {
	if g.Status != GameStatusStarted {
		return nil
	}
	q := g.OpenQuestion()
	if q == nil || q.Mode != QuestionModeBuzzer || q.NumBuzzes() == 0 {
		return nil
	}
	g.closeQuestion(q)
	return nil
}

// --- Внутренние помощники ---

// askNext задаёт следующий вопрос списка. Вызывающий гарантирует, что лимит
// не исчерпан.
func (g *Game) askNext() {
	next := g.Source[len(g.Questions)]
	mode := QuestionModeCollective
	if g.Config.Buzzer {
		mode = QuestionModeBuzzer
	}
	g.emit(QuestionAsked{
		GameID:         g.ID,
		QuestionID:     uuid.NewString(),
		BankID:         next.BankID,
		Seq:            len(g.Questions) + 1,
		Mode:           mode,
		Content:        next.Content,
		Moderated:      g.Moderator != nil,
		TimeToAnswerMs: int64(g.Config.SecondsPerQuestion) * 1000,
		AskedAt:        time.Now().UTC(),
	})
}

// rosterAnswered проверяет, ответил ли на вопрос весь текущий ростер.
// Ответы выбывших игроков остаются в записи, но здесь не учитываются.
func (g *Game) rosterAnswered(q *GameQuestion) bool {
	for _, p := range g.Players {
		if !q.HasAnswer(p.ID) {
			return false
		}
	}
	return len(g.Players) > 0
}

func (g *Game) closeQuestion(q *GameQuestion) {
	g.emit(QuestionClosed{GameID: g.ID, QuestionID: q.ID, ClosedAt: time.Now().UTC()})
}

func (g *Game) cancelGame(reason string) {
	g.emit(GameCanceled{GameID: g.ID, Reason: reason, CanceledAt: time.Now().UTC()})
}

func (g *Game) requireStarted() error {
	if g.IsFinished() {
		return g.finishedError()
	}
	if g.Status != GameStatusStarted {
		return fmt.Errorf("game %s: %w", g.ID, ErrGameNotStarted)
	}
	return nil
}

func (g *Game) requireQuestion(questionID string) (*GameQuestion, error) {
	q := g.Question(questionID)
	if q == nil {
		return nil, fmt.Errorf("game %s, question %s: %w", g.ID, questionID, ErrQuestionNotFound)
	}
	return q, nil
}

func (g *Game) finishedError() error {
	return fmt.Errorf("game %s is %s: %w", g.ID, g.Status, ErrGameFinished)
}

// Clone возвращает глубокую копию состояния без несохранённых событий.
// Копию можно безопасно читать вне блокировки игры.
func (g *Game) Clone() *Game {
	clone := *g
	clone.pending = nil

	clone.Source = append([]SourceQuestion(nil), g.Source...)
	clone.Players = append([]User(nil), g.Players...)
	if g.Moderator != nil {
		moderator := *g.Moderator
		clone.Moderator = &moderator
	}
	clone.Questions = make([]*GameQuestion, len(g.Questions))
	for i, q := range g.Questions {
		clone.Questions[i] = q.clone()
	}
	clone.Scores = make(map[string]int, len(g.Scores))
	for userID, pts := range g.Scores {
		clone.Scores[userID] = pts
	}
	if g.StartedAt != nil {
		startedAt := *g.StartedAt
		clone.StartedAt = &startedAt
	}
	if g.FinishedAt != nil {
		finishedAt := *g.FinishedAt
		clone.FinishedAt = &finishedAt
	}
	return &clone
}
