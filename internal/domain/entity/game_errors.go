package entity

import "errors"

// Ошибки команд игры. HTTP-обработчики сопоставляют их со статусами ответов
// через errors.Is; команды оборачивают их идентификаторами игры, вопроса
// и участника через fmt.Errorf("%w").
var (
	// Ошибки конфигурации
	ErrInvalidGameConfig = errors.New("invalid game configuration")
	ErrQuestionSetEmpty  = errors.New("question set has no questions")
	ErrInvalidUsername   = errors.New("username must not be empty")

	// Конфликты состояния игры
	ErrGameAlreadyStarted = errors.New("game has already started")
	ErrGameNotStarted     = errors.New("game has not started yet")
	ErrGameFinished       = errors.New("game is already finished")
	ErrGameFull           = errors.New("game roster is full")
	ErrUsernameTaken      = errors.New("username is already taken in this game")
	ErrNotEnoughPlayers   = errors.New("buzzer game requires at least two players")

	// Конфликты состояния вопроса
	ErrQuestionClosed    = errors.New("question is already closed")
	ErrQuestionRated     = errors.New("question is already rated")
	ErrQuestionUnrated   = errors.New("question has not been rated yet")
	ErrAnswerExists      = errors.New("user has already answered this question")
	ErrAnswerNotFound    = errors.New("user has no recorded answer on this question")
	ErrBuzzExists        = errors.New("user has already buzzed on this question")
	ErrNotBuzzerQuestion = errors.New("question does not accept buzzes")
	ErrNoBuzzes          = errors.New("no buzzes registered on this question")

	// Не найдено
	ErrQuestionNotFound = errors.New("question not found in this game")
	ErrUserNotFound     = errors.New("user is not a member of this game")
)
