package handler

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/gameshow-api/internal/domain/entity"
	"github.com/yourusername/gameshow-api/internal/domain/repository"
	"github.com/yourusername/gameshow-api/internal/handler/dto"
	apperrors "github.com/yourusername/gameshow-api/internal/pkg/errors"
	"github.com/yourusername/gameshow-api/internal/service"
	"github.com/yourusername/gameshow-api/pkg/auth"
)

// GameHandler обрабатывает запросы, связанные с играми
type GameHandler struct {
	gameManager     *service.GameManager
	questionService *service.QuestionService
	jwtService      *auth.JWTService
}

// NewGameHandler создает новый обработчик игр
func NewGameHandler(
	gameManager *service.GameManager,
	questionService *service.QuestionService,
	jwtService *auth.JWTService,
) *GameHandler {
	return &GameHandler{
		gameManager:     gameManager,
		questionService: questionService,
		jwtService:      jwtService,
	}
}

// CreateGameRequest представляет запрос на создание игры
type CreateGameRequest struct {
	MaxPlayers         int      `json:"max_players" binding:"required,min=1,max=100"`
	NumQuestions       int      `json:"num_questions" binding:"required,min=1,max=100"`
	SecondsPerQuestion int      `json:"seconds_per_question" binding:"omitempty,min=0,max=600"`
	Buzzer             bool     `json:"buzzer"`
	QuestionSetID      uint     `json:"question_set_id" binding:"required"`
	Moderator          string   `json:"moderator,omitempty"`
	Players            []string `json:"players,omitempty"`
}

// CreateGame обрабатывает запрос на создание игры
func (h *GameHandler) CreateGame(c *gin.Context) {
	var req CreateGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg := entity.GameConfig{
		MaxPlayers:         req.MaxPlayers,
		NumQuestions:       req.NumQuestions,
		SecondsPerQuestion: req.SecondsPerQuestion,
		Buzzer:             req.Buzzer,
		QuestionSetID:      req.QuestionSetID,
	}

	game, err := h.gameManager.CreateGame(cfg, req.Moderator, req.Players)
	if err != nil {
		h.handleGameError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewGameResponse(game))
}

// GetGame возвращает проекцию состояния игры
func (h *GameHandler) GetGame(c *gin.Context) {
	gameID := c.MustGet("gameID").(string) // Получаем из контекста

	game, err := h.gameManager.GetGame(gameID)
	if err != nil {
		h.handleGameError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewGameResponse(game))
}

// GetGameEvents возвращает страницу журнала событий игры
// GET /api/games/:id/events?after=N
func (h *GameHandler) GetGameEvents(c *gin.Context) {
	gameID := c.MustGet("gameID").(string)

	afterStr := c.DefaultQuery("after", "0")
	after, err := strconv.Atoi(afterStr)
	if err != nil || after < 0 {
		after = 0
	}

	records, err := h.gameManager.ListEvents(gameID, after)
	if err != nil {
		h.handleGameError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"game_id": gameID,
		"after":   after,
		"events":  records,
		"count":   len(records),
	})
}

// AddPlayerRequest представляет запрос на добавление игрока
type AddPlayerRequest struct {
	Username string `json:"username" binding:"required,min=1,max=50"`
}

// AddPlayer добавляет игрока в ростер игры
func (h *GameHandler) AddPlayer(c *gin.Context) {
	gameID := c.MustGet("gameID").(string)

	var req AddPlayerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	game, user, err := h.gameManager.AddPlayer(gameID, req.Username)
	if err != nil {
		h.handleGameError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"user": user,
		"game": dto.NewGameResponse(game),
	})
}

// RemovePlayer исключает участника из игры
// DELETE /api/games/:id/players/:username
func (h *GameHandler) RemovePlayer(c *gin.Context) {
	gameID := c.MustGet("gameID").(string)
	username := c.Param("username")

	game, err := h.gameManager.RemovePlayer(gameID, username)
	if err != nil {
		h.handleGameError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewGameResponse(game))
}

// StartGame переводит игру в активную фазу
func (h *GameHandler) StartGame(c *gin.Context) {
	gameID := c.MustGet("gameID").(string)

	game, err := h.gameManager.StartGame(gameID)
	if err != nil {
		h.handleGameError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewGameResponse(game))
}

// SubmitAnswerRequest представляет запрос на ответ игрока
type SubmitAnswerRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Answer string `json:"answer" binding:"required"`
}

// SubmitAnswer принимает первый ответ игрока на вопрос
// POST /api/games/:id/questions/:questionId/answers
func (h *GameHandler) SubmitAnswer(c *gin.Context) {
	gameID := c.MustGet("gameID").(string)
	questionID := c.MustGet("questionID").(string)

	var req SubmitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	game, err := h.gameManager.SubmitAnswer(gameID, questionID, req.UserID, req.Answer)
	if err != nil {
		h.handleGameError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewGameResponse(game))
}

// OverrideAnswerRequest представляет запрос на замену ответа
type OverrideAnswerRequest struct {
	Answer string `json:"answer" binding:"required"`
}

// OverrideAnswer заменяет ранее принятый ответ игрока
// PUT /api/games/:id/questions/:questionId/answers/:userId
func (h *GameHandler) OverrideAnswer(c *gin.Context) {
	gameID := c.MustGet("gameID").(string)
	questionID := c.MustGet("questionID").(string)
	userID := c.Param("userId")

	var req OverrideAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	game, err := h.gameManager.OverrideAnswer(gameID, questionID, userID, req.Answer)
	if err != nil {
		h.handleGameError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewGameResponse(game))
}

// SubmitBuzzRequest представляет запрос на регистрацию нажатия кнопки
type SubmitBuzzRequest struct {
	UserID     string `json:"user_id" binding:"required"`
	ClientTime int64  `json:"client_time"`
}

// SubmitBuzz регистрирует нажатие кнопки игроком
// POST /api/games/:id/questions/:questionId/buzzes
func (h *GameHandler) SubmitBuzz(c *gin.Context) {
	gameID := c.MustGet("gameID").(string)
	questionID := c.MustGet("questionID").(string)

	var req SubmitBuzzRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	game, err := h.gameManager.SubmitBuzz(gameID, questionID, req.UserID, req.ClientTime)
	if err != nil {
		h.handleGameError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewGameResponse(game))
}

// JudgeBuzzerRequest представляет оценку устного ответа победителя гонки
type JudgeBuzzerRequest struct {
	Correct *bool `json:"correct" binding:"required"`
}

// JudgeBuzzerAnswer фиксирует оценку устного ответа победителя гонки баззов
// POST /api/games/:id/questions/:questionId/buzzer-answer
func (h *GameHandler) JudgeBuzzerAnswer(c *gin.Context) {
	gameID := c.MustGet("gameID").(string)
	questionID := c.MustGet("questionID").(string)

	var req JudgeBuzzerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	game, err := h.gameManager.JudgeBuzzerAnswer(gameID, questionID, *req.Correct)
	if err != nil {
		h.handleGameError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewGameResponse(game))
}

// CloseQuestion закрывает вопрос для новых ответов
// POST /api/games/:id/questions/:questionId/close
func (h *GameHandler) CloseQuestion(c *gin.Context) {
	gameID := c.MustGet("gameID").(string)
	questionID := c.MustGet("questionID").(string)

	game, err := h.gameManager.CloseQuestion(gameID, questionID)
	if err != nil {
		h.handleGameError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewGameResponse(game))
}

// RateQuestionRequest представляет запрос на выставление очков за вопрос
type RateQuestionRequest struct {
	Points map[string]int `json:"points,omitempty"`
	Auto   bool           `json:"auto,omitempty"`
}

// RateQuestion выставляет очки за вопрос: явной таблицей или автооценкой
// POST /api/games/:id/questions/:questionId/rating
func (h *GameHandler) RateQuestion(c *gin.Context) {
	gameID := c.MustGet("gameID").(string)
	questionID := c.MustGet("questionID").(string)

	var req RateQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Auto && req.Points == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "either points or auto is required"})
		return
	}

	game, err := h.gameManager.RateQuestion(gameID, questionID, req.Points, req.Auto)
	if err != nil {
		h.handleGameError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewGameResponse(game))
}

// AskNextQuestion задаёт следующий вопрос либо завершает игру
// POST /api/games/:id/next-question
func (h *GameHandler) AskNextQuestion(c *gin.Context) {
	gameID := c.MustGet("gameID").(string)

	game, err := h.gameManager.AskNextQuestion(gameID)
	if err != nil {
		h.handleGameError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewGameResponse(game))
}

// WSTicketRequest представляет запрос на выдачу WebSocket-тикета
type WSTicketRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// CreateWSTicket выдает короткоживущий тикет для WebSocket-подключения.
// Тикет получает только текущий участник игры.
// POST /api/games/:id/ws-ticket
func (h *GameHandler) CreateWSTicket(c *gin.Context) {
	gameID := c.MustGet("gameID").(string)

	var req WSTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	game, err := h.gameManager.GetGame(gameID)
	if err != nil {
		h.handleGameError(c, err)
		return
	}

	isModerator := game.Moderator != nil && game.Moderator.ID == req.UserID
	if !isModerator && !game.IsPlayer(req.UserID) {
		h.handleGameError(c, apperrors.ErrUnauthorized)
		return
	}

	ticket, expiresIn, err := h.jwtService.GenerateWSTicket(req.UserID, gameID)
	if err != nil {
		log.Printf("[GameHandler] Ошибка генерации WS-тикета для игры %s: %v", gameID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate ticket"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ticket":     ticket,
		"expires_in": expiresIn,
	})
}

// ListSetQuestions возвращает вопросы набора банка (без правильных ответов)
// GET /api/question-sets/:id/questions
func (h *GameHandler) ListSetQuestions(c *gin.Context) {
	setID := c.MustGet("setID").(uint)

	questions, err := h.questionService.ListQuestions(setID)
	if err != nil {
		h.handleGameError(c, err)
		return
	}
	if len(questions) == 0 {
		h.handleGameError(c, apperrors.ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"question_set_id": setID,
		"questions":       dto.NewListBankQuestionResponse(questions),
		"count":           len(questions),
	})
}

// ListQuestionSets возвращает сводку наборов банка вопросов
// GET /api/question-sets
func (h *GameHandler) ListQuestionSets(c *gin.Context) {
	sets, err := h.questionService.ListSets()
	if err != nil {
		h.handleGameError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sets":  sets,
		"count": len(sets),
	})
}

// Ошибки конфигурации и входных данных, отклонённые доменом после разбора запроса
var gameValidationErrors = []error{
	entity.ErrInvalidGameConfig,
	entity.ErrQuestionSetEmpty,
	entity.ErrInvalidUsername,
	apperrors.ErrValidation,
}

// Ошибки несовместимости команды с текущим состоянием игры или вопроса
var gameConflictErrors = []error{
	entity.ErrGameAlreadyStarted,
	entity.ErrGameNotStarted,
	entity.ErrGameFinished,
	entity.ErrGameFull,
	entity.ErrUsernameTaken,
	entity.ErrNotEnoughPlayers,
	entity.ErrQuestionClosed,
	entity.ErrQuestionRated,
	entity.ErrQuestionUnrated,
	entity.ErrAnswerExists,
	entity.ErrBuzzExists,
	entity.ErrNotBuzzerQuestion,
	entity.ErrNoBuzzes,
	repository.ErrEventConflict,
	apperrors.ErrConflict,
}

// Отсутствующие ресурсы внутри существующей игры
var gameNotFoundErrors = []error{
	apperrors.ErrNotFound,
	entity.ErrQuestionNotFound,
	entity.ErrUserNotFound,
	entity.ErrAnswerNotFound,
}

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// handleGameError обрабатывает ошибки от движка игр и отправляет соответствующий HTTP ответ
func (h *GameHandler) handleGameError(c *gin.Context, err error) {
	if matchesAny(err, gameNotFoundErrors) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	} else if matchesAny(err, gameConflictErrors) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	} else if matchesAny(err, gameValidationErrors) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	} else if errors.Is(err, apperrors.ErrUnauthorized) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	} else {
		log.Printf("ERROR: Internal server error in GameHandler: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
