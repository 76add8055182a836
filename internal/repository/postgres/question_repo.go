package postgres

import (
	"gorm.io/gorm"

	"github.com/yourusername/gameshow-api/internal/domain/entity"
	"github.com/yourusername/gameshow-api/internal/domain/repository"
)

// QuestionRepo реализует repository.QuestionRepository
type QuestionRepo struct {
	db *gorm.DB
}

// NewQuestionRepo создает новый репозиторий банка вопросов
func NewQuestionRepo(db *gorm.DB) *QuestionRepo {
	return &QuestionRepo{db: db}
}

// ListBySet возвращает вопросы набора в порядке показа
func (r *QuestionRepo) ListBySet(setID uint) ([]entity.Question, error) {
	var questions []entity.Question
	err := r.db.Where("question_set_id = ?", setID).Order("position, id").Find(&questions).Error
	if err != nil {
		return nil, err
	}
	return questions, nil
}

// ListSets возвращает сводку по всем наборам банка
func (r *QuestionRepo) ListSets() ([]repository.QuestionSetSummary, error) {
	var summaries []repository.QuestionSetSummary
	err := r.db.Model(&entity.Question{}).
		Select("question_set_id, COUNT(*) AS num_questions").
		Group("question_set_id").
		Order("question_set_id").
		Scan(&summaries).Error
	if err != nil {
		return nil, err
	}
	return summaries, nil
}
