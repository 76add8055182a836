package dto

import (
	"time"

	"github.com/yourusername/gameshow-api/internal/domain/entity"
	"github.com/yourusername/gameshow-api/internal/handler/helper"
)

// GameQuestionResponse представляет заданный вопрос игры в формате для клиента.
// Правильный ответ и тексты ответов игроков появляются только после закрытия вопроса.
type GameQuestionResponse struct {
	ID             string                         `json:"id"`
	Seq            int                            `json:"seq"`
	Mode           string                         `json:"mode"`
	Moderated      bool                           `json:"moderated"`
	Phrase         string                         `json:"phrase"`
	ImageURL       string                         `json:"image_url,omitempty"`
	Options        []helper.QuestionOption        `json:"options,omitempty"`
	PointValue     int                            `json:"point_value"`
	TimeToAnswerMs int64                          `json:"time_to_answer_ms"`
	AskedAt        time.Time                      `json:"asked_at"`
	Closed         bool                           `json:"closed"`
	Rated          bool                           `json:"rated"`
	NumAnswers     int                            `json:"num_answers"`
	Answer         string                         `json:"answer,omitempty"`
	Answers        map[string]entity.PlayerAnswer `json:"answers,omitempty"`
	Buzzes         []entity.Buzz                  `json:"buzzes,omitempty"`
	Points         map[string]int                 `json:"points,omitempty"`
}

// GameResponse представляет проекцию состояния игры для клиента
type GameResponse struct {
	ID              string                 `json:"id"`
	Status          string                 `json:"status"`
	Config          entity.GameConfig      `json:"config"`
	Moderator       *entity.User           `json:"moderator,omitempty"`
	Players         []entity.User          `json:"players"`
	Scores          map[string]int         `json:"scores"`
	TargetQuestions int                    `json:"target_questions"`
	Questions       []GameQuestionResponse `json:"questions"`
	CreatedAt       time.Time              `json:"created_at"`
	StartedAt       *time.Time             `json:"started_at,omitempty"`
	FinishedAt      *time.Time             `json:"finished_at,omitempty"`
	CancelReason    string                 `json:"cancel_reason,omitempty"`
}

// BankQuestionResponse представляет вопрос банка для витрины наборов.
// Правильный ответ наружу не отдаётся.
type BankQuestionResponse struct {
	ID            uint                    `json:"id"`
	QuestionSetID uint                    `json:"question_set_id"`
	Position      int                     `json:"position"`
	Phrase        string                  `json:"phrase"`
	ImageURL      string                  `json:"image_url,omitempty"`
	Options       []helper.QuestionOption `json:"options"`
	PointValue    int                     `json:"point_value"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

// NewGameQuestionResponse создает DTO для заданного вопроса
func NewGameQuestionResponse(q *entity.GameQuestion) GameQuestionResponse {
	resp := GameQuestionResponse{
		ID:             q.ID,
		Seq:            q.Seq,
		Mode:           string(q.Mode),
		Moderated:      q.Moderated,
		Phrase:         q.Content.Phrase,
		ImageURL:       q.Content.ImageURL,
		Options:        helper.ConvertOptionsToObjects(q.Content.Options),
		PointValue:     q.Content.Points,
		TimeToAnswerMs: q.TimeToAnswerMs,
		AskedAt:        q.AskedAt,
		Closed:         q.Closed,
		Rated:          q.Rated,
		NumAnswers:     q.NumAnswers(),
		Buzzes:         q.Buzzes,
	}

	// Открытый вопрос не раскрывает ни правильный ответ, ни чужие ответы
	if q.Closed {
		resp.Answer = q.Content.Answer
		resp.Answers = q.Answers
	}
	if q.Rated {
		resp.Points = q.Points
	}
	return resp
}

// NewGameResponse создает DTO для состояния игры
func NewGameResponse(game *entity.Game) *GameResponse {
	if game == nil {
		return nil
	}

	questions := make([]GameQuestionResponse, len(game.Questions))
	for i, q := range game.Questions {
		questions[i] = NewGameQuestionResponse(q)
	}

	players := game.Players
	if players == nil {
		players = []entity.User{}
	}

	return &GameResponse{
		ID:              game.ID,
		Status:          string(game.Status),
		Config:          game.Config,
		Moderator:       game.Moderator,
		Players:         players,
		Scores:          game.Scores,
		TargetQuestions: game.TargetQuestions(),
		Questions:       questions,
		CreatedAt:       game.CreatedAt,
		StartedAt:       game.StartedAt,
		FinishedAt:      game.FinishedAt,
		CancelReason:    game.CancelReason,
	}
}

// NewBankQuestionResponse создает DTO для вопроса банка
func NewBankQuestionResponse(q *entity.Question) BankQuestionResponse {
	return BankQuestionResponse{
		ID:            q.ID,
		QuestionSetID: q.QuestionSetID,
		Position:      q.Position,
		Phrase:        q.Phrase,
		ImageURL:      q.ImageURL,
		Options:       helper.ConvertOptionsToObjects(q.Options),
		PointValue:    q.PointValue,
		CreatedAt:     q.CreatedAt,
		UpdatedAt:     q.UpdatedAt,
	}
}

// NewListBankQuestionResponse создает слайс DTO для списка вопросов набора
func NewListBankQuestionResponse(questions []entity.Question) []BankQuestionResponse {
	list := make([]BankQuestionResponse, len(questions))
	for i := range questions {
		list[i] = NewBankQuestionResponse(&questions[i])
	}
	return list
}
