package gameengine

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/gameshow-api/internal/domain/entity"
	"github.com/yourusername/gameshow-api/internal/domain/repository"
	apperrors "github.com/yourusername/gameshow-api/internal/pkg/errors"
)

// ============================================================================
// Моки для GameRegistry
// ============================================================================

// MockGameEventRepo реализует repository.GameEventRepository
type MockGameEventRepo struct {
	mock.Mock
}

func (m *MockGameEventRepo) Append(records []*entity.GameEventRecord) error {
	args := m.Called(records)
	return args.Error(0)
}

func (m *MockGameEventRepo) ListByGame(gameID string) ([]entity.GameEventRecord, error) {
	args := m.Called(gameID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.GameEventRecord), args.Error(1)
}

func (m *MockGameEventRepo) ListByGameAfter(gameID string, afterSeq int) ([]entity.GameEventRecord, error) {
	args := m.Called(gameID, afterSeq)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.GameEventRecord), args.Error(1)
}

func (m *MockGameEventRepo) ListActiveGameIDs() ([]string, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// ============================================================================
// Помощники
// ============================================================================

func testEngineSource(n int) []entity.SourceQuestion {
	source := make([]entity.SourceQuestion, n)
	for i := range source {
		source[i] = entity.SourceQuestion{
			BankID: uint(i + 1),
			Content: entity.QuestionContent{
				Phrase: fmt.Sprintf("Вопрос %d", i+1),
				Answer: fmt.Sprintf("Ответ %d", i+1),
				Points: 10,
			},
		}
	}
	return source
}

func testEngineConfig() entity.GameConfig {
	return entity.GameConfig{
		MaxPlayers:         16,
		NumQuestions:       3,
		SecondsPerQuestion: 30,
		QuestionSetID:      1,
	}
}

// seededJournal строит журнал созданной игры с двумя игроками
func seededJournal(t *testing.T, gameID string) []entity.GameEventRecord {
	t.Helper()

	g := entity.NewGame()
	require.NoError(t, g.Create(gameID, testEngineConfig(), testEngineSource(3), "Ведущий", []string{"Алиса", "Борис"}))

	events := g.DrainPending()
	records := make([]entity.GameEventRecord, len(events))
	for i, ev := range events {
		record, err := entity.NewGameEventRecord(gameID, i+1, ev)
		require.NoError(t, err)
		records[i] = *record
	}
	return records
}

// ============================================================================
// Тесты
// ============================================================================

func TestGameRegistry_Create_PersistsEvents(t *testing.T) {
	// Arrange
	eventRepo := new(MockGameEventRepo)
	registry := NewGameRegistry(eventRepo)

	var appended []*entity.GameEventRecord
	eventRepo.On("Append", mock.Anything).Run(func(args mock.Arguments) {
		appended = args.Get(0).([]*entity.GameEventRecord)
	}).Return(nil)

	// Act
	events, game, err := registry.Create("game-1", func(g *entity.Game) error {
		return g.Create("game-1", testEngineConfig(), testEngineSource(3), "Ведущий", []string{"Алиса", "Борис"})
	})

	// Assert
	require.NoError(t, err)
	require.NotNil(t, game)
	assert.Equal(t, "game-1", game.ID)
	assert.Len(t, events, 3, "GameCreated и по UserAdded на игрока")

	require.Len(t, appended, 3)
	for i, record := range appended {
		assert.Equal(t, "game-1", record.GameID)
		assert.Equal(t, i+1, record.Seq, "Нумерация журнала начинается с единицы")
	}
	assert.Equal(t, entity.EventGameCreated, appended[0].EventType)
	eventRepo.AssertExpectations(t)
}

func TestGameRegistry_Create_RejectedCommandAppendsNothing(t *testing.T) {
	// Arrange
	eventRepo := new(MockGameEventRepo)
	registry := NewGameRegistry(eventRepo)

	// Act: конфигурация без вопросов отклоняется агрегатом
	_, _, err := registry.Create("game-1", func(g *entity.Game) error {
		return g.Create("game-1", testEngineConfig(), nil, "Ведущий", nil)
	})

	// Assert
	require.ErrorIs(t, err, entity.ErrQuestionSetEmpty)
	eventRepo.AssertNotCalled(t, "Append", mock.Anything)
}

func TestGameRegistry_Execute_LoadsFromJournal(t *testing.T) {
	// Arrange: реестр пуст, журнал игры лежит в репозитории
	eventRepo := new(MockGameEventRepo)
	registry := NewGameRegistry(eventRepo)
	eventRepo.On("ListByGame", "game-1").Return(seededJournal(t, "game-1"), nil).Once()

	var appended []*entity.GameEventRecord
	eventRepo.On("Append", mock.Anything).Run(func(args mock.Arguments) {
		appended = args.Get(0).([]*entity.GameEventRecord)
	}).Return(nil)

	// Act
	events, game, err := registry.Execute("game-1", func(g *entity.Game) error {
		_, err := g.AddUser("Вера")
		return err
	})

	// Assert: журнал свёрнут, новое событие продолжает нумерацию
	require.NoError(t, err)
	assert.Len(t, game.Players, 3)
	require.Len(t, events, 1)
	require.Len(t, appended, 1)
	assert.Equal(t, 4, appended[0].Seq, "Номер продолжает журнал после трёх событий создания")
	eventRepo.AssertExpectations(t)
}

func TestGameRegistry_Execute_UnknownGame(t *testing.T) {
	// Arrange
	eventRepo := new(MockGameEventRepo)
	registry := NewGameRegistry(eventRepo)
	eventRepo.On("ListByGame", "missing").Return([]entity.GameEventRecord{}, nil)

	// Act
	_, _, err := registry.Execute("missing", func(g *entity.Game) error {
		_, err := g.AddUser("Вера")
		return err
	})

	// Assert
	assert.ErrorIs(t, err, apperrors.ErrNotFound, "Игра без журнала не существует")
	eventRepo.AssertNotCalled(t, "Append", mock.Anything)
}

func TestGameRegistry_Execute_CachesStateBetweenCommands(t *testing.T) {
	// Arrange
	eventRepo := new(MockGameEventRepo)
	registry := NewGameRegistry(eventRepo)
	eventRepo.On("ListByGame", "game-1").Return(seededJournal(t, "game-1"), nil).Once()
	eventRepo.On("Append", mock.Anything).Return(nil)

	// Act: две команды подряд
	_, _, err := registry.Execute("game-1", func(g *entity.Game) error {
		_, err := g.AddUser("Вера")
		return err
	})
	require.NoError(t, err)
	_, game, err := registry.Execute("game-1", func(g *entity.Game) error {
		_, err := g.AddUser("Глеб")
		return err
	})

	// Assert: журнал читался один раз, состояние накапливается
	require.NoError(t, err)
	assert.Len(t, game.Players, 4)
	eventRepo.AssertNumberOfCalls(t, "ListByGame", 1)
}

func TestGameRegistry_Execute_AppendConflictInvalidatesCache(t *testing.T) {
	// Arrange: журнал ушёл вперёд, запись отклоняется
	eventRepo := new(MockGameEventRepo)
	registry := NewGameRegistry(eventRepo)
	eventRepo.On("ListByGame", "game-1").Return(seededJournal(t, "game-1"), nil).Twice()
	eventRepo.On("Append", mock.Anything).Return(repository.ErrEventConflict).Once()
	eventRepo.On("Append", mock.Anything).Return(nil).Once()

	// Act: первая команда натыкается на конфликт
	_, _, err := registry.Execute("game-1", func(g *entity.Game) error {
		_, err := g.AddUser("Вера")
		return err
	})
	require.ErrorIs(t, err, repository.ErrEventConflict)

	// Act: повтор на свежем состоянии проходит
	_, game, err := registry.Execute("game-1", func(g *entity.Game) error {
		_, err := g.AddUser("Вера")
		return err
	})

	// Assert: после конфликта состояние свёрнуто из журнала заново
	require.NoError(t, err)
	assert.Len(t, game.Players, 3)
	eventRepo.AssertNumberOfCalls(t, "ListByGame", 2)
}

func TestGameRegistry_Execute_NoEventsSkipsAppend(t *testing.T) {
	// Arrange: игра с закрытым вопросом
	gameID := "game-1"
	g := entity.NewGame()
	require.NoError(t, g.Create(gameID, testEngineConfig(), testEngineSource(3), "Ведущий", []string{"Алиса", "Борис"}))
	require.NoError(t, g.Start())
	questionID := g.Questions[0].ID
	require.NoError(t, g.CloseQuestion(questionID))

	events := g.DrainPending()
	records := make([]entity.GameEventRecord, len(events))
	for i, ev := range events {
		record, err := entity.NewGameEventRecord(gameID, i+1, ev)
		require.NoError(t, err)
		records[i] = *record
	}

	eventRepo := new(MockGameEventRepo)
	registry := NewGameRegistry(eventRepo)
	eventRepo.On("ListByGame", gameID).Return(records, nil).Once()

	// Act: повторное закрытие - успешная пустая операция
	emitted, game, err := registry.Execute(gameID, func(g *entity.Game) error {
		return g.CloseQuestion(questionID)
	})

	// Assert: без событий нет и записи
	require.NoError(t, err)
	assert.Empty(t, emitted)
	assert.NotNil(t, game)
	eventRepo.AssertNotCalled(t, "Append", mock.Anything)
}

func TestGameRegistry_Execute_SerializesConcurrentCommands(t *testing.T) {
	// Arrange
	eventRepo := new(MockGameEventRepo)
	registry := NewGameRegistry(eventRepo)
	eventRepo.On("ListByGame", "game-1").Return(seededJournal(t, "game-1"), nil).Once()

	var mu sync.Mutex
	var seqs []int
	eventRepo.On("Append", mock.Anything).Run(func(args mock.Arguments) {
		records := args.Get(0).([]*entity.GameEventRecord)
		mu.Lock()
		defer mu.Unlock()
		for _, record := range records {
			seqs = append(seqs, record.Seq)
		}
	}).Return(nil)

	// Act: десять конкурентных команд одной игры
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _, err := registry.Execute("game-1", func(g *entity.Game) error {
				_, err := g.AddUser(fmt.Sprintf("Игрок %d", n))
				return err
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// Assert: номера журнала непрерывны и без повторов
	sort.Ints(seqs)
	require.Len(t, seqs, 10)
	for i, seq := range seqs {
		assert.Equal(t, i+4, seq, "Команды одной игры должны выполняться строго по очереди")
	}

	game, err := registry.Inspect("game-1")
	require.NoError(t, err)
	assert.Len(t, game.Players, 12)
}

func TestGameRegistry_Inspect_ReturnsIndependentCopy(t *testing.T) {
	// Arrange
	eventRepo := new(MockGameEventRepo)
	registry := NewGameRegistry(eventRepo)
	eventRepo.On("ListByGame", "game-1").Return(seededJournal(t, "game-1"), nil).Once()

	// Act
	first, err := registry.Inspect("game-1")
	require.NoError(t, err)
	first.Players = nil
	first.Scores["чужой"] = 100

	second, err := registry.Inspect("game-1")

	// Assert: правки копии не видны реестру
	require.NoError(t, err)
	assert.Len(t, second.Players, 2)
	assert.NotContains(t, second.Scores, "чужой")
}

func TestGameRegistry_Evict_ForcesReload(t *testing.T) {
	// Arrange
	eventRepo := new(MockGameEventRepo)
	registry := NewGameRegistry(eventRepo)
	eventRepo.On("ListByGame", "game-1").Return(seededJournal(t, "game-1"), nil).Twice()

	_, err := registry.Inspect("game-1")
	require.NoError(t, err)

	// Act
	registry.Evict("game-1")
	_, err = registry.Inspect("game-1")

	// Assert
	require.NoError(t, err)
	eventRepo.AssertNumberOfCalls(t, "ListByGame", 2)
}
