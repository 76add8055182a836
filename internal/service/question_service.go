package service

import (
	"fmt"
	"log"
	"time"

	"github.com/yourusername/gameshow-api/internal/domain/entity"
	"github.com/yourusername/gameshow-api/internal/domain/repository"
)

// questionSetCacheTTL ограничивает расхождение кеша с банком вопросов
const questionSetCacheTTL = 10 * time.Minute

// QuestionService отдаёт содержимое банка вопросов. Наборы кешируются
// целиком: игра при создании замораживает свои вопросы, поэтому кешу
// достаточно короткого TTL.
type QuestionService struct {
	questionRepo repository.QuestionRepository
	cacheRepo    repository.CacheRepository
}

// NewQuestionService создает новый сервис банка вопросов
func NewQuestionService(questionRepo repository.QuestionRepository, cacheRepo repository.CacheRepository) *QuestionService {
	return &QuestionService{
		questionRepo: questionRepo,
		cacheRepo:    cacheRepo,
	}
}

// ResolveSet возвращает содержимое набора вопросов, обрезанное до limit.
// Набор короче лимита не ошибка: игра получит столько вопросов, сколько есть.
func (s *QuestionService) ResolveSet(setID uint, limit int) ([]entity.SourceQuestion, error) {
	key := fmt.Sprintf("question_set:%d:source", setID)

	var source []entity.SourceQuestion
	if err := s.cacheRepo.GetJSON(key, &source); err == nil && len(source) > 0 {
		return truncateSource(source, limit), nil
	}

	questions, err := s.questionRepo.ListBySet(setID)
	if err != nil {
		return nil, fmt.Errorf("load question set %d: %w", setID, err)
	}

	source = make([]entity.SourceQuestion, len(questions))
	for i := range questions {
		source[i] = entity.SourceQuestion{
			BankID:  questions[i].ID,
			Content: questions[i].Content(),
		}
	}

	if len(source) > 0 {
		if err := s.cacheRepo.SetJSON(key, source, questionSetCacheTTL); err != nil {
			log.Printf("[QuestionService] Не удалось закешировать набор %d: %v", setID, err)
		}
	}

	return truncateSource(source, limit), nil
}

// ListQuestions возвращает вопросы набора для витрины банка. Правильные
// ответы не сериализуются наружу.
func (s *QuestionService) ListQuestions(setID uint) ([]entity.Question, error) {
	return s.questionRepo.ListBySet(setID)
}

// ListSets возвращает сводку наборов банка
func (s *QuestionService) ListSets() ([]repository.QuestionSetSummary, error) {
	return s.questionRepo.ListSets()
}

func truncateSource(source []entity.SourceQuestion, limit int) []entity.SourceQuestion {
	if limit > 0 && len(source) > limit {
		return source[:limit]
	}
	return source
}
