package repository

import (
	"github.com/yourusername/gameshow-api/internal/domain/entity"
)

// QuestionSetSummary - сводка набора вопросов банка
type QuestionSetSummary struct {
	QuestionSetID uint  `json:"question_set_id"`
	NumQuestions  int64 `json:"num_questions"`
}

// QuestionRepository определяет методы чтения банка вопросов.
// Наполнение банка - забота операционных инструментов, не сервера.
type QuestionRepository interface {
	// ListBySet возвращает вопросы набора в порядке показа (position, id)
	ListBySet(setID uint) ([]entity.Question, error)
	// ListSets возвращает сводку по всем наборам банка
	ListSets() ([]QuestionSetSummary, error)
}
