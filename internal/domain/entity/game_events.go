package entity

import (
	"encoding/json"
	"fmt"
	"time"
)

// Типы событий игры. Значения записываются в колонку event_type таблицы
// game_events и не должны меняться после появления первых журналов.
const (
	EventGameCreated              = "GAME_CREATED"
	EventUserAdded                = "USER_ADDED"
	EventUserRemoved              = "USER_REMOVED"
	EventGameStarted              = "GAME_STARTED"
	EventQuestionAsked            = "QUESTION_ASKED"
	EventQuestionAnswered         = "QUESTION_ANSWERED"
	EventQuestionAnswerOverridden = "QUESTION_ANSWER_OVERRIDDEN"
	EventQuestionBuzzed           = "QUESTION_BUZZED"
	EventQuestionBuzzerAnswered   = "QUESTION_BUZZER_ANSWERED"
	EventQuestionClosed           = "QUESTION_CLOSED"
	EventQuestionRated            = "QUESTION_RATED"
	EventGameEnded                = "GAME_ENDED"
	EventGameCanceled             = "GAME_CANCELED"
)

// Причины отмены игры, фиксируемые в GameCanceled
const (
	CancelReasonAbandoned     = "abandoned"
	CancelReasonModeratorLeft = "moderator_left"
	CancelReasonRosterEmpty   = "roster_empty"
)

// GameEvent - неизменяемый факт из журнала игры. Текущее состояние игры
// является свёрткой всех её событий в порядке записи.
type GameEvent interface {
	EventType() string
}

// SourceQuestion связывает вопрос банка с его содержимым на момент создания игры
type SourceQuestion struct {
	BankID  uint            `json:"bank_id"`
	Content QuestionContent `json:"content"`
}

// GameCreated записывается первым событием каждой игры
type GameCreated struct {
	GameID    string           `json:"game_id"`
	Config    GameConfig       `json:"config"`
	Questions []SourceQuestion `json:"questions"`
	Moderator *User            `json:"moderator,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// EventType возвращает тип события
func (GameCreated) EventType() string { return EventGameCreated }

// UserAdded - игрок занял место в ростере
type UserAdded struct {
	GameID  string    `json:"game_id"`
	User    User      `json:"user"`
	AddedAt time.Time `json:"added_at"`
}

// EventType возвращает тип события
func (UserAdded) EventType() string { return EventUserAdded }

// UserRemoved - участник покинул игру. Поле Moderator отмечает уход модератора.
type UserRemoved struct {
	GameID    string    `json:"game_id"`
	User      User      `json:"user"`
	Moderator bool      `json:"moderator"`
	RemovedAt time.Time `json:"removed_at"`
}

// EventType возвращает тип события
func (UserRemoved) EventType() string { return EventUserRemoved }

// GameStarted - игра перешла в активную фазу
type GameStarted struct {
	GameID    string    `json:"game_id"`
	StartedAt time.Time `json:"started_at"`
}

// EventType возвращает тип события
func (GameStarted) EventType() string { return EventGameStarted }

// QuestionAsked - игрокам задан очередной вопрос
type QuestionAsked struct {
	GameID         string          `json:"game_id"`
	QuestionID     string          `json:"question_id"`
	BankID         uint            `json:"bank_id"`
	Seq            int             `json:"seq"`
	Mode           QuestionMode    `json:"mode"`
	Content        QuestionContent `json:"content"`
	Moderated      bool            `json:"moderated"`
	TimeToAnswerMs int64           `json:"time_to_answer_ms"`
	AskedAt        time.Time       `json:"asked_at"`
}

// EventType возвращает тип события
func (QuestionAsked) EventType() string { return EventQuestionAsked }

// QuestionAnswered - принят первый ответ игрока на вопрос
type QuestionAnswered struct {
	GameID     string    `json:"game_id"`
	QuestionID string    `json:"question_id"`
	UserID     string    `json:"user_id"`
	Answer     string    `json:"answer"`
	AnsweredAt time.Time `json:"answered_at"`
}

// EventType возвращает тип события
func (QuestionAnswered) EventType() string { return EventQuestionAnswered }

// QuestionAnswerOverridden - ранее принятый ответ игрока заменён
type QuestionAnswerOverridden struct {
	GameID     string    `json:"game_id"`
	QuestionID string    `json:"question_id"`
	UserID     string    `json:"user_id"`
	Answer     string    `json:"answer"`
	AnsweredAt time.Time `json:"answered_at"`
}

// EventType возвращает тип события
func (QuestionAnswerOverridden) EventType() string { return EventQuestionAnswerOverridden }

// QuestionBuzzed - зарегистрировано нажатие кнопки
type QuestionBuzzed struct {
	GameID       string    `json:"game_id"`
	QuestionID   string    `json:"question_id"`
	UserID       string    `json:"user_id"`
	ClientTime   int64     `json:"client_time"`
	RegisteredAt time.Time `json:"registered_at"`
}

// EventType возвращает тип события
func (QuestionBuzzed) EventType() string { return EventQuestionBuzzed }

// QuestionBuzzerAnswered - модератор оценил устный ответ победителя гонки.
// Событие закрывает и оценивает вопрос: победитель получает Points очков.
type QuestionBuzzerAnswered struct {
	GameID     string    `json:"game_id"`
	QuestionID string    `json:"question_id"`
	UserID     string    `json:"user_id"`
	Correct    bool      `json:"correct"`
	Points     int       `json:"points"`
	JudgedAt   time.Time `json:"judged_at"`
}

// EventType возвращает тип события
func (QuestionBuzzerAnswered) EventType() string { return EventQuestionBuzzerAnswered }

// QuestionClosed - вопрос больше не принимает ответы и баззы
type QuestionClosed struct {
	GameID     string    `json:"game_id"`
	QuestionID string    `json:"question_id"`
	ClosedAt   time.Time `json:"closed_at"`
}

// EventType возвращает тип события
func (QuestionClosed) EventType() string { return EventQuestionClosed }

// QuestionRated - игрокам выставлены очки за вопрос
type QuestionRated struct {
	GameID     string         `json:"game_id"`
	QuestionID string         `json:"question_id"`
	Points     map[string]int `json:"points"`
	RatedAt    time.Time      `json:"rated_at"`
}

// EventType возвращает тип события
func (QuestionRated) EventType() string { return EventQuestionRated }

// GameEnded - все вопросы заданы и оценены, игра завершена
type GameEnded struct {
	GameID  string    `json:"game_id"`
	EndedAt time.Time `json:"ended_at"`
}

// EventType возвращает тип события
func (GameEnded) EventType() string { return EventGameEnded }

// GameCanceled - игра прервана до завершения
type GameCanceled struct {
	GameID     string    `json:"game_id"`
	Reason     string    `json:"reason"`
	CanceledAt time.Time `json:"canceled_at"`
}

// EventType возвращает тип события
func (GameCanceled) EventType() string { return EventGameCanceled }

// DecodeGameEvent восстанавливает типизированное событие из записи журнала
func DecodeGameEvent(eventType string, payload []byte) (GameEvent, error) {
	var (
		ev  GameEvent
		err error
	)

	switch eventType {
	case EventGameCreated:
		var e GameCreated
		err = json.Unmarshal(payload, &e)
		ev = e
	case EventUserAdded:
		var e UserAdded
		err = json.Unmarshal(payload, &e)
		ev = e
	case EventUserRemoved:
		var e UserRemoved
		err = json.Unmarshal(payload, &e)
		ev = e
	case EventGameStarted:
		var e GameStarted
		err = json.Unmarshal(payload, &e)
		ev = e
	case EventQuestionAsked:
		var e QuestionAsked
		err = json.Unmarshal(payload, &e)
		ev = e
	case EventQuestionAnswered:
		var e QuestionAnswered
		err = json.Unmarshal(payload, &e)
		ev = e
	case EventQuestionAnswerOverridden:
		var e QuestionAnswerOverridden
		err = json.Unmarshal(payload, &e)
		ev = e
	case EventQuestionBuzzed:
		var e QuestionBuzzed
		err = json.Unmarshal(payload, &e)
		ev = e
	case EventQuestionBuzzerAnswered:
		var e QuestionBuzzerAnswered
		err = json.Unmarshal(payload, &e)
		ev = e
	case EventQuestionClosed:
		var e QuestionClosed
		err = json.Unmarshal(payload, &e)
		ev = e
	case EventQuestionRated:
		var e QuestionRated
		err = json.Unmarshal(payload, &e)
		ev = e
	case EventGameEnded:
		var e GameEnded
		err = json.Unmarshal(payload, &e)
		ev = e
	case EventGameCanceled:
		var e GameCanceled
		err = json.Unmarshal(payload, &e)
		ev = e
	default:
		return nil, fmt.Errorf("unknown game event type %q", eventType)
	}

	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	return ev, nil
}
