package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/gameshow-api/internal/domain/entity"
	"github.com/yourusername/gameshow-api/internal/domain/repository"
	apperrors "github.com/yourusername/gameshow-api/internal/pkg/errors"
)

func TestQuestionService_ResolveSet_LoadsAndCachesBank(t *testing.T) {
	// Arrange
	questionRepo := new(MockQuestionRepository)
	cacheRepo := new(MockCacheRepository)
	svc := NewQuestionService(questionRepo, cacheRepo)

	questionRepo.On("ListBySet", uint(1)).Return(testBankQuestions(3), nil)
	cacheRepo.On("GetJSON", "question_set:1:source", mock.Anything).Return(apperrors.ErrNotFound)
	cacheRepo.On("SetJSON", "question_set:1:source", mock.Anything, questionSetCacheTTL).Return(nil)

	// Act
	source, err := svc.ResolveSet(1, 0)

	// Assert: кешируется представление с ответами, а не gorm-модель,
	// у которой Answer скрыт от сериализации
	require.NoError(t, err)
	require.Len(t, source, 3)
	assert.Equal(t, uint(1), source[0].BankID)
	assert.Equal(t, "Ответ 1", source[0].Content.Answer)
	cacheRepo.AssertCalled(t, "SetJSON", "question_set:1:source",
		mock.MatchedBy(func(value interface{}) bool {
			cached, ok := value.([]entity.SourceQuestion)
			return ok && len(cached) == 3 && cached[0].Content.Answer != ""
		}), questionSetCacheTTL)
}

func TestQuestionService_ResolveSet_CacheHitSkipsBank(t *testing.T) {
	// Arrange
	questionRepo := new(MockQuestionRepository)
	cacheRepo := new(MockCacheRepository)
	svc := NewQuestionService(questionRepo, cacheRepo)

	cached := []entity.SourceQuestion{
		{BankID: 7, Content: entity.QuestionContent{Phrase: "Вопрос", Answer: "Ответ", Points: 10}},
	}
	cacheRepo.On("GetJSON", "question_set:2:source", mock.Anything).
		Run(func(args mock.Arguments) {
			dest := args.Get(1).(*[]entity.SourceQuestion)
			*dest = cached
		}).
		Return(nil)

	// Act
	source, err := svc.ResolveSet(2, 0)

	// Assert
	require.NoError(t, err)
	require.Len(t, source, 1)
	assert.Equal(t, uint(7), source[0].BankID)
	questionRepo.AssertNotCalled(t, "ListBySet", mock.Anything)
}

func TestQuestionService_ResolveSet_TruncatesToLimit(t *testing.T) {
	// Arrange
	questionRepo := new(MockQuestionRepository)
	cacheRepo := new(MockCacheRepository)
	svc := NewQuestionService(questionRepo, cacheRepo)

	questionRepo.On("ListBySet", uint(1)).Return(testBankQuestions(5), nil)
	cacheRepo.On("GetJSON", mock.Anything, mock.Anything).Return(apperrors.ErrNotFound)
	cacheRepo.On("SetJSON", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	// Act
	source, err := svc.ResolveSet(1, 2)

	// Assert: в кеш уходит полный набор, вызывающему - обрезанный
	require.NoError(t, err)
	assert.Len(t, source, 2)
	cacheRepo.AssertCalled(t, "SetJSON", mock.Anything,
		mock.MatchedBy(func(value interface{}) bool {
			cached, ok := value.([]entity.SourceQuestion)
			return ok && len(cached) == 5
		}), mock.Anything)
}

func TestQuestionService_ResolveSet_ShortSetReturnedAsIs(t *testing.T) {
	// Arrange
	questionRepo := new(MockQuestionRepository)
	cacheRepo := new(MockCacheRepository)
	svc := NewQuestionService(questionRepo, cacheRepo)

	questionRepo.On("ListBySet", uint(1)).Return(testBankQuestions(2), nil)
	cacheRepo.On("GetJSON", mock.Anything, mock.Anything).Return(apperrors.ErrNotFound)
	cacheRepo.On("SetJSON", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	// Act
	source, err := svc.ResolveSet(1, 10)

	// Assert
	require.NoError(t, err)
	assert.Len(t, source, 2, "набор короче лимита отдаётся целиком")
}

func TestQuestionService_ResolveSet_EmptySetNotCached(t *testing.T) {
	// Arrange
	questionRepo := new(MockQuestionRepository)
	cacheRepo := new(MockCacheRepository)
	svc := NewQuestionService(questionRepo, cacheRepo)

	questionRepo.On("ListBySet", uint(3)).Return([]entity.Question{}, nil)
	cacheRepo.On("GetJSON", mock.Anything, mock.Anything).Return(apperrors.ErrNotFound)

	// Act
	source, err := svc.ResolveSet(3, 0)

	// Assert: пустой результат не оседает в кеше, пополнение банка
	// станет видно без ожидания TTL
	require.NoError(t, err)
	assert.Empty(t, source)
	cacheRepo.AssertNotCalled(t, "SetJSON", mock.Anything, mock.Anything, mock.Anything)
}

func TestQuestionService_ResolveSet_BankErrorWrapped(t *testing.T) {
	// Arrange
	questionRepo := new(MockQuestionRepository)
	cacheRepo := new(MockCacheRepository)
	svc := NewQuestionService(questionRepo, cacheRepo)

	bankErr := errors.New("connection refused")
	questionRepo.On("ListBySet", uint(1)).Return(nil, bankErr)
	cacheRepo.On("GetJSON", mock.Anything, mock.Anything).Return(apperrors.ErrNotFound)

	// Act
	_, err := svc.ResolveSet(1, 0)

	// Assert
	require.ErrorIs(t, err, bankErr)
	assert.Contains(t, err.Error(), "question set 1")
}

func TestQuestionService_ListSets_Passthrough(t *testing.T) {
	// Arrange
	questionRepo := new(MockQuestionRepository)
	cacheRepo := new(MockCacheRepository)
	svc := NewQuestionService(questionRepo, cacheRepo)

	summaries := []repository.QuestionSetSummary{
		{QuestionSetID: 1, NumQuestions: 10},
		{QuestionSetID: 2, NumQuestions: 4},
	}
	questionRepo.On("ListSets").Return(summaries, nil)

	// Act
	got, err := svc.ListSets()

	// Assert
	require.NoError(t, err)
	assert.Equal(t, summaries, got)
}
