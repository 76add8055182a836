package entity

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSourceQuestions создаёт n вопросов банка для игры
func testSourceQuestions(n int) []SourceQuestion {
	source := make([]SourceQuestion, n)
	for i := range source {
		source[i] = SourceQuestion{
			BankID: uint(i + 1),
			Content: QuestionContent{
				Phrase: fmt.Sprintf("Вопрос %d", i+1),
				Answer: fmt.Sprintf("Ответ %d", i+1),
				Points: 10,
			},
		}
	}
	return source
}

func testConfig() GameConfig {
	return GameConfig{
		MaxPlayers:         4,
		NumQuestions:       3,
		SecondsPerQuestion: 30,
		QuestionSetID:      1,
	}
}

// newCreatedGame создаёт игру с модератором и двумя игроками
func newCreatedGame(t *testing.T) (*Game, User, User) {
	t.Helper()

	game := NewGame()
	err := game.Create("game-1", testConfig(), testSourceQuestions(3), "Ведущий", nil)
	require.NoError(t, err, "Create не должен возвращать ошибку")

	playerA, err := game.AddUser("Алиса")
	require.NoError(t, err)
	playerB, err := game.AddUser("Борис")
	require.NoError(t, err)
	return game, playerA, playerB
}

// newStartedGame создаёт и запускает игру с двумя игроками
func newStartedGame(t *testing.T) (*Game, User, User) {
	t.Helper()

	game, playerA, playerB := newCreatedGame(t)
	require.NoError(t, game.Start())
	game.DrainPending()
	return game, playerA, playerB
}

func TestGame_Create(t *testing.T) {
	// Arrange
	game := NewGame()

	// Act
	err := game.Create("game-1", testConfig(), testSourceQuestions(3), "Ведущий", nil)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "game-1", game.ID)
	assert.Equal(t, GameStatusCreated, game.Status)
	assert.Equal(t, 3, game.TargetQuestions())
	require.NotNil(t, game.Moderator, "Модератор должен быть установлен при создании")
	assert.Equal(t, "Ведущий", game.Moderator.Username)
	assert.NotEmpty(t, game.Moderator.ID, "Модератор должен получить сгенерированный идентификатор")

	events := game.DrainPending()
	require.Len(t, events, 1)
	created, ok := events[0].(GameCreated)
	require.True(t, ok, "Первым событием игры должно быть GameCreated")
	assert.Equal(t, "game-1", created.GameID)
	assert.Len(t, created.Questions, 3)
}

func TestGame_Create_TruncatesQuestionList(t *testing.T) {
	// Arrange: в наборе больше вопросов, чем настроено
	game := NewGame()
	cfg := testConfig()
	cfg.NumQuestions = 2

	// Act
	err := game.Create("game-1", cfg, testSourceQuestions(5), "Ведущий", nil)

	// Assert: эффективное число вопросов = min(настроено, доступно)
	require.NoError(t, err)
	assert.Equal(t, 2, game.TargetQuestions(), "Список вопросов должен быть обрезан до настроенного числа")
	assert.Equal(t, []uint{1, 2}, game.QuestionIDs(), "Порядок набора должен сохраниться")
}

func TestGame_Create_ShortQuestionSet(t *testing.T) {
	// Arrange: в наборе меньше вопросов, чем настроено
	game := NewGame()
	cfg := testConfig()
	cfg.NumQuestions = 10

	// Act
	err := game.Create("game-1", cfg, testSourceQuestions(3), "Ведущий", nil)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 3, game.TargetQuestions(), "Эффективное число вопросов ограничено размером набора")
}

func TestGame_Create_InvalidConfig(t *testing.T) {
	// Arrange
	testCases := []struct {
		name      string
		mutate    func(*GameConfig)
		moderator string
	}{
		{"нулевой лимит игроков", func(c *GameConfig) { c.MaxPlayers = 0 }, "Ведущий"},
		{"нулевое число вопросов", func(c *GameConfig) { c.NumQuestions = 0 }, "Ведущий"},
		{"отрицательное окно ответа", func(c *GameConfig) { c.SecondsPerQuestion = -1 }, "Ведущий"},
		{"базз без модератора", func(c *GameConfig) { c.Buzzer = true }, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			game := NewGame()
			cfg := testConfig()
			tc.mutate(&cfg)

			// Act
			err := game.Create("game-1", cfg, testSourceQuestions(3), tc.moderator, nil)

			// Assert: отклонённая команда не оставляет событий
			require.ErrorIs(t, err, ErrInvalidGameConfig)
			assert.False(t, game.HasPending(), "Отклонённая команда не должна оставлять событий")
		})
	}
}

func TestGame_Create_EmptyQuestionSet(t *testing.T) {
	// Arrange
	game := NewGame()

	// Act
	err := game.Create("game-1", testConfig(), nil, "Ведущий", nil)

	// Assert
	require.ErrorIs(t, err, ErrQuestionSetEmpty)
	assert.False(t, game.HasPending())
}

func TestGame_Create_WithInitialPlayers(t *testing.T) {
	// Arrange
	game := NewGame()

	// Act
	err := game.Create("game-1", testConfig(), testSourceQuestions(3), "Ведущий", []string{"Алиса", "Борис"})

	// Assert: GameCreated + UserAdded на каждого игрока
	require.NoError(t, err)
	assert.Len(t, game.Players, 2)

	events := game.DrainPending()
	require.Len(t, events, 3)
	assert.Equal(t, EventGameCreated, events[0].EventType())
	assert.Equal(t, EventUserAdded, events[1].EventType())
	assert.Equal(t, EventUserAdded, events[2].EventType())
}

func TestGame_Create_RejectedRosterLeavesNoEvents(t *testing.T) {
	// Arrange: стартовый ростер проверяется целиком до первого события
	testCases := []struct {
		name    string
		players []string
		wantErr error
	}{
		{"повтор имени в ростере", []string{"Алиса", "Алиса"}, ErrUsernameTaken},
		{"имя модератора в ростере", []string{"Алиса", "Ведущий"}, ErrUsernameTaken},
		{"пустое имя в ростере", []string{"Алиса", ""}, ErrInvalidUsername},
		{"ростер больше лимита мест", []string{"Алиса", "Борис", "Вера", "Глеб", "Дана"}, ErrGameFull},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			game := NewGame()

			// Act
			err := game.Create("game-1", testConfig(), testSourceQuestions(3), "Ведущий", tc.players)

			// Assert: ни применённых, ни ожидающих записи событий
			require.ErrorIs(t, err, tc.wantErr)
			assert.False(t, game.HasPending(), "Отклонённая команда не должна оставлять событий")
			assert.Equal(t, 0, game.Version(), "Отклонённое создание не должно менять агрегат")
			assert.Empty(t, game.ID)
		})
	}
}

func TestGame_AddUser_RosterNet(t *testing.T) {
	// Arrange
	game := NewGame()
	require.NoError(t, game.Create("game-1", testConfig(), testSourceQuestions(3), "Ведущий", nil))

	// Act: три добавления и одно удаление
	_, err := game.AddUser("Алиса")
	require.NoError(t, err)
	_, err = game.AddUser("Борис")
	require.NoError(t, err)
	_, err = game.AddUser("Вера")
	require.NoError(t, err)
	require.NoError(t, game.RemoveUser("Борис"))

	// Assert: ростер равен числу добавлений минус число удалений
	assert.Len(t, game.Players, 2)
	assert.NotNil(t, game.Player("Алиса"))
	assert.Nil(t, game.Player("Борис"))
	assert.NotNil(t, game.Player("Вера"))
}

func TestGame_AddUser_CapacityExceeded(t *testing.T) {
	// Arrange
	game := NewGame()
	cfg := testConfig()
	cfg.MaxPlayers = 2
	require.NoError(t, game.Create("game-1", cfg, testSourceQuestions(3), "Ведущий", []string{"Алиса", "Борис"}))
	eventsBefore := len(game.DrainPending())
	require.Equal(t, 3, eventsBefore)

	// Act
	_, err := game.AddUser("Вера")

	// Assert: переполнение ростера не оставляет событий
	require.ErrorIs(t, err, ErrGameFull)
	assert.False(t, game.HasPending(), "Отклонённая команда не должна оставлять событий")
	assert.Len(t, game.Players, 2)
}

func TestGame_AddUser_UsernameTaken(t *testing.T) {
	// Arrange
	game, _, _ := newCreatedGame(t)

	// Act & Assert: имя игрока занято
	_, err := game.AddUser("Алиса")
	assert.ErrorIs(t, err, ErrUsernameTaken)

	// Act & Assert: имя модератора тоже занято
	_, err = game.AddUser("Ведущий")
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestGame_AddUser_EmptyUsername(t *testing.T) {
	// Arrange
	game, _, _ := newCreatedGame(t)

	// Act
	_, err := game.AddUser("")

	// Assert
	assert.ErrorIs(t, err, ErrInvalidUsername)
}

func TestGame_AddUser_WhileStarted(t *testing.T) {
	// Arrange
	game, _, _ := newStartedGame(t)

	// Act: подключение по ходу игры разрешено
	user, err := game.AddUser("Вера")

	// Assert
	require.NoError(t, err)
	assert.True(t, game.IsPlayer(user.ID))
}

func TestGame_RemoveUser_Moderator(t *testing.T) {
	// Arrange
	game, _, _ := newCreatedGame(t)
	game.DrainPending()

	// Act: уход модератора отменяет игру
	err := game.RemoveUser("Ведущий")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, GameStatusCanceled, game.Status)
	assert.Equal(t, CancelReasonModeratorLeft, game.CancelReason)

	events := game.DrainPending()
	require.Len(t, events, 2)
	assert.Equal(t, EventUserRemoved, events[0].EventType())
	assert.Equal(t, EventGameCanceled, events[1].EventType())

	// Assert: отмена необратима
	_, err = game.AddUser("Гена")
	assert.ErrorIs(t, err, ErrGameFinished, "Отменённая игра не должна принимать команды")
}

func TestGame_RemoveUser_LastPlayer(t *testing.T) {
	// Arrange
	game := NewGame()
	require.NoError(t, game.Create("game-1", testConfig(), testSourceQuestions(3), "Ведущий", []string{"Алиса"}))

	// Act: ростер опустел
	err := game.RemoveUser("Алиса")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, GameStatusCanceled, game.Status)
	assert.Equal(t, CancelReasonRosterEmpty, game.CancelReason)
}

func TestGame_RemoveUser_Unknown(t *testing.T) {
	// Arrange
	game, _, _ := newCreatedGame(t)

	// Act
	err := game.RemoveUser("Неизвестный")

	// Assert
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestGame_Start(t *testing.T) {
	// Arrange
	game, _, _ := newCreatedGame(t)
	game.DrainPending()

	// Act
	err := game.Start()

	// Assert: запуск сразу задаёт первый вопрос
	require.NoError(t, err)
	assert.Equal(t, GameStatusStarted, game.Status)
	require.Len(t, game.Questions, 1)

	first := game.Questions[0]
	assert.Equal(t, 1, first.Seq, "Нумерация вопросов начинается с единицы")
	assert.Equal(t, QuestionModeCollective, first.Mode)
	assert.True(t, first.Moderated, "Вопрос в игре с модератором должен быть модерируемым")
	assert.Equal(t, int64(30000), first.TimeToAnswerMs, "Окно ответа хранится в миллисекундах")

	events := game.DrainPending()
	require.Len(t, events, 2)
	assert.Equal(t, EventGameStarted, events[0].EventType())
	assert.Equal(t, EventQuestionAsked, events[1].EventType())
}

func TestGame_Start_Twice(t *testing.T) {
	// Arrange
	game, _, _ := newStartedGame(t)

	// Act
	err := game.Start()

	// Assert
	assert.ErrorIs(t, err, ErrGameAlreadyStarted)
}

func TestGame_Start_BuzzerRequiresTwoPlayers(t *testing.T) {
	// Arrange
	game := NewGame()
	cfg := testConfig()
	cfg.Buzzer = true
	require.NoError(t, game.Create("game-1", cfg, testSourceQuestions(3), "Ведущий", []string{"Алиса"}))

	// Act
	err := game.Start()

	// Assert
	require.ErrorIs(t, err, ErrNotEnoughPlayers)
	assert.Equal(t, GameStatusCreated, game.Status)
}

func TestGame_AnswerQuestion_AutoClose(t *testing.T) {
	// Arrange
	game, playerA, playerB := newStartedGame(t)
	question := game.Questions[0]

	// Act: отвечают все игроки ростера
	require.NoError(t, game.AnswerQuestion(question.ID, playerA.ID, "Ответ 1"))
	assert.True(t, question.IsOpen(), "Вопрос должен оставаться открытым, пока ответили не все")
	require.NoError(t, game.AnswerQuestion(question.ID, playerB.ID, "другой"))

	// Assert: последний ответ закрывает вопрос той же командой
	assert.True(t, question.Closed, "Вопрос должен закрыться, когда ответили все игроки")

	events := game.DrainPending()
	require.Len(t, events, 3)
	assert.Equal(t, EventQuestionAnswered, events[0].EventType())
	assert.Equal(t, EventQuestionAnswered, events[1].EventType())
	assert.Equal(t, EventQuestionClosed, events[2].EventType())
}

func TestGame_AnswerQuestion_AutoCloseIgnoresRemovedPlayers(t *testing.T) {
	// Arrange: ответивший игрок выбыл, в ростере остались двое
	game := NewGame()
	require.NoError(t, game.Create("game-1", testConfig(), testSourceQuestions(3), "Ведущий", []string{"Алиса", "Борис", "Вера"}))
	require.NoError(t, game.Start())
	question := game.Questions[0]
	require.NoError(t, game.AnswerQuestion(question.ID, game.Player("Вера").ID, "Ответ 1"))
	require.NoError(t, game.RemoveUser("Вера"))
	game.DrainPending()
	require.True(t, question.IsOpen())

	// Act: отвечает весь оставшийся ростер
	require.NoError(t, game.AnswerQuestion(question.ID, game.Player("Алиса").ID, "Ответ 1"))
	require.NoError(t, game.AnswerQuestion(question.ID, game.Player("Борис").ID, "другой"))

	// Assert: ответ выбывшего остаётся в записи, но в подсчёте не участвует
	assert.True(t, question.Closed, "Вопрос должен закрыться по ответам текущего ростера")
	assert.Equal(t, 3, question.NumAnswers())
}

func TestGame_RemoveUser_ClosesQuestionWhenRosterAnswered(t *testing.T) {
	// Arrange: из трёх игроков ответили двое
	game := NewGame()
	require.NoError(t, game.Create("game-1", testConfig(), testSourceQuestions(3), "Ведущий", []string{"Алиса", "Борис", "Вера"}))
	require.NoError(t, game.Start())
	game.DrainPending()
	question := game.Questions[0]
	require.NoError(t, game.AnswerQuestion(question.ID, game.Player("Алиса").ID, "Ответ 1"))
	require.NoError(t, game.AnswerQuestion(question.ID, game.Player("Борис").ID, "другой"))
	require.True(t, question.IsOpen())

	// Act: уходит единственный неответивший игрок
	err := game.RemoveUser("Вера")

	// Assert: удаление переоценивает условие закрытия
	require.NoError(t, err)
	assert.True(t, question.Closed, "Вопрос должен закрыться, когда весь оставшийся ростер ответил")

	events := game.DrainPending()
	require.Len(t, events, 4)
	assert.Equal(t, EventUserRemoved, events[2].EventType())
	assert.Equal(t, EventQuestionClosed, events[3].EventType())
}

func TestGame_AnswerQuestion_SecondAnswerRejected(t *testing.T) {
	// Arrange
	game, playerA, _ := newStartedGame(t)
	question := game.Questions[0]
	require.NoError(t, game.AnswerQuestion(question.ID, playerA.ID, "первый"))
	game.DrainPending()

	// Act: повторный ответ обычным путём отклоняется, замена - только через override
	err := game.AnswerQuestion(question.ID, playerA.ID, "второй")

	// Assert
	require.ErrorIs(t, err, ErrAnswerExists)
	assert.False(t, game.HasPending())
	assert.Equal(t, "первый", question.Answers[playerA.ID].Text, "Принятый ответ не должен измениться")
}

func TestGame_AnswerQuestion_Closed(t *testing.T) {
	// Arrange
	game, playerA, _ := newStartedGame(t)
	question := game.Questions[0]
	require.NoError(t, game.CloseQuestion(question.ID))

	// Act
	err := game.AnswerQuestion(question.ID, playerA.ID, "поздно")

	// Assert
	assert.ErrorIs(t, err, ErrQuestionClosed)
}

func TestGame_AnswerQuestion_NotPlayer(t *testing.T) {
	// Arrange
	game, _, _ := newStartedGame(t)
	question := game.Questions[0]

	// Act
	err := game.AnswerQuestion(question.ID, "user-unknown", "ответ")

	// Assert
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestGame_AnswerQuestion_UnknownQuestion(t *testing.T) {
	// Arrange
	game, playerA, _ := newStartedGame(t)

	// Act
	err := game.AnswerQuestion("question-unknown", playerA.ID, "ответ")

	// Assert
	assert.ErrorIs(t, err, ErrQuestionNotFound)
}

func TestGame_OverrideAnswer(t *testing.T) {
	// Arrange
	game, playerA, _ := newStartedGame(t)
	question := game.Questions[0]
	require.NoError(t, game.AnswerQuestion(question.ID, playerA.ID, "черновик"))

	// Act
	err := game.OverrideAnswer(question.ID, playerA.ID, "чистовик")

	// Assert: в состоянии остаётся последний ответ с пометкой замены
	require.NoError(t, err)
	answer := question.Answers[playerA.ID]
	assert.Equal(t, "чистовик", answer.Text)
	assert.True(t, answer.Overridden)
	assert.Equal(t, 1, question.NumAnswers(), "Замена не должна создавать второй ответ")
}

func TestGame_OverrideAnswer_OnClosedQuestion(t *testing.T) {
	// Arrange: замена работает и после закрытия вопроса
	game, playerA, _ := newStartedGame(t)
	question := game.Questions[0]
	require.NoError(t, game.AnswerQuestion(question.ID, playerA.ID, "черновик"))
	require.NoError(t, game.CloseQuestion(question.ID))

	// Act
	err := game.OverrideAnswer(question.ID, playerA.ID, "чистовик")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "чистовик", question.Answers[playerA.ID].Text)
}

func TestGame_OverrideAnswer_NoPriorAnswer(t *testing.T) {
	// Arrange
	game, playerA, _ := newStartedGame(t)
	question := game.Questions[0]

	// Act
	err := game.OverrideAnswer(question.ID, playerA.ID, "ответ")

	// Assert
	require.ErrorIs(t, err, ErrAnswerNotFound)
	assert.False(t, game.HasPending())
}

// newBuzzerGame создаёт запущенную игру в режиме базза
func newBuzzerGame(t *testing.T) (*Game, User, User) {
	t.Helper()

	game := NewGame()
	cfg := testConfig()
	cfg.Buzzer = true
	require.NoError(t, game.Create("game-1", cfg, testSourceQuestions(3), "Ведущий", nil))
	playerA, err := game.AddUser("Алиса")
	require.NoError(t, err)
	playerB, err := game.AddUser("Борис")
	require.NoError(t, err)
	require.NoError(t, game.Start())
	game.DrainPending()
	return game, playerA, playerB
}

func TestGame_Buzz_WinnerByApplicationOrder(t *testing.T) {
	// Arrange
	game, playerA, playerB := newBuzzerGame(t)
	question := game.Questions[0]
	require.Equal(t, QuestionModeBuzzer, question.Mode)

	// Act: клиентская метка второго базза раньше, но применён он позже
	require.NoError(t, game.Buzz(question.ID, playerA.ID, 9000))
	require.NoError(t, game.Buzz(question.ID, playerB.ID, 1000))

	// Assert: победитель - первый применённый базз, метки клиента не учитываются
	winner := question.BuzzWinner()
	require.NotNil(t, winner)
	assert.Equal(t, playerA.ID, winner.UserID)
}

func TestGame_Buzz_Duplicate(t *testing.T) {
	// Arrange
	game, playerA, _ := newBuzzerGame(t)
	question := game.Questions[0]
	require.NoError(t, game.Buzz(question.ID, playerA.ID, 100))

	// Act
	err := game.Buzz(question.ID, playerA.ID, 200)

	// Assert
	assert.ErrorIs(t, err, ErrBuzzExists)
}

func TestGame_Buzz_CollectiveQuestion(t *testing.T) {
	// Arrange: в коллективном режиме баззы не принимаются
	game, playerA, _ := newStartedGame(t)
	question := game.Questions[0]

	// Act
	err := game.Buzz(question.ID, playerA.ID, 100)

	// Assert
	assert.ErrorIs(t, err, ErrNotBuzzerQuestion)
}

func TestGame_Buzz_ClosedQuestion(t *testing.T) {
	// Arrange
	game, playerA, _ := newBuzzerGame(t)
	question := game.Questions[0]
	require.NoError(t, game.CloseQuestion(question.ID))

	// Act
	err := game.Buzz(question.ID, playerA.ID, 100)

	// Assert
	assert.ErrorIs(t, err, ErrQuestionClosed)
}

func TestGame_JudgeBuzzerAnswer_Correct(t *testing.T) {
	// Arrange
	game, playerA, playerB := newBuzzerGame(t)
	question := game.Questions[0]
	require.NoError(t, game.Buzz(question.ID, playerA.ID, 100))
	require.NoError(t, game.Buzz(question.ID, playerB.ID, 50))

	// Act: модератор подтверждает устный ответ победителя
	err := game.JudgeBuzzerAnswer(question.ID, true)

	// Assert: полный балл победителю, вопрос закрыт и оценён
	require.NoError(t, err)
	assert.True(t, question.Closed)
	assert.True(t, question.Rated)
	assert.Equal(t, 10, question.Points[playerA.ID])
	assert.Equal(t, 10, game.Scores[playerA.ID])
	assert.Zero(t, game.Scores[playerB.ID])
}

func TestGame_JudgeBuzzerAnswer_Incorrect(t *testing.T) {
	// Arrange
	game, playerA, _ := newBuzzerGame(t)
	question := game.Questions[0]
	require.NoError(t, game.Buzz(question.ID, playerA.ID, 100))

	// Act
	err := game.JudgeBuzzerAnswer(question.ID, false)

	// Assert: ноль очков, но вопрос оценён
	require.NoError(t, err)
	assert.True(t, question.Rated)
	assert.Zero(t, question.Points[playerA.ID])
	assert.Zero(t, game.Scores[playerA.ID])
}

func TestGame_JudgeBuzzerAnswer_NoBuzzes(t *testing.T) {
	// Arrange
	game, _, _ := newBuzzerGame(t)
	question := game.Questions[0]

	// Act
	err := game.JudgeBuzzerAnswer(question.ID, true)

	// Assert
	assert.ErrorIs(t, err, ErrNoBuzzes)
}

func TestGame_JudgeBuzzerAnswer_AlreadyRated(t *testing.T) {
	// Arrange
	game, playerA, _ := newBuzzerGame(t)
	question := game.Questions[0]
	require.NoError(t, game.Buzz(question.ID, playerA.ID, 100))
	require.NoError(t, game.JudgeBuzzerAnswer(question.ID, true))

	// Act
	err := game.JudgeBuzzerAnswer(question.ID, true)

	// Assert
	assert.ErrorIs(t, err, ErrQuestionRated)
}

func TestGame_CloseQuestion_Idempotent(t *testing.T) {
	// Arrange
	game, _, _ := newStartedGame(t)
	question := game.Questions[0]
	require.NoError(t, game.CloseQuestion(question.ID))
	game.DrainPending()

	// Act: повторное закрытие - успешная пустая операция
	err := game.CloseQuestion(question.ID)

	// Assert
	require.NoError(t, err, "Повторное закрытие не должно возвращать ошибку")
	assert.False(t, game.HasPending(), "Повторное закрытие не должно порождать событий")
}

func TestGame_RateQuestion(t *testing.T) {
	// Arrange
	game, playerA, playerB := newStartedGame(t)
	question := game.Questions[0]
	require.NoError(t, game.AnswerQuestion(question.ID, playerA.ID, "Ответ 1"))
	require.NoError(t, game.AnswerQuestion(question.ID, playerB.ID, "мимо"))

	// Act
	err := game.RateQuestion(question.ID, map[string]int{playerA.ID: 10, playerB.ID: 0})

	// Assert
	require.NoError(t, err)
	assert.True(t, question.Closed, "Оценка должна закрывать вопрос")
	assert.True(t, question.Rated)
	assert.Equal(t, 10, game.Scores[playerA.ID])
	assert.Zero(t, game.Scores[playerB.ID])
}

func TestGame_RateQuestion_Twice(t *testing.T) {
	// Arrange
	game, playerA, _ := newStartedGame(t)
	question := game.Questions[0]
	require.NoError(t, game.RateQuestion(question.ID, map[string]int{playerA.ID: 5}))

	// Act
	err := game.RateQuestion(question.ID, map[string]int{playerA.ID: 10})

	// Assert: оценка финальна
	require.ErrorIs(t, err, ErrQuestionRated)
	assert.Equal(t, 5, game.Scores[playerA.ID], "Повторная оценка не должна менять очки")
}

func TestGame_RateQuestion_UnknownUser(t *testing.T) {
	// Arrange
	game, _, _ := newStartedGame(t)
	question := game.Questions[0]

	// Act
	err := game.RateQuestion(question.ID, map[string]int{"user-unknown": 10})

	// Assert
	require.ErrorIs(t, err, ErrUserNotFound)
	assert.False(t, question.Rated)
}

func TestGame_AskNextQuestion_GatedOnRating(t *testing.T) {
	// Arrange
	game, _, _ := newStartedGame(t)

	// Act: первый вопрос ещё не оценён
	err := game.AskNextQuestion()

	// Assert
	require.ErrorIs(t, err, ErrQuestionUnrated)
	assert.Len(t, game.Questions, 1, "Переход к следующему вопросу должен быть заблокирован")
}

func TestGame_AskNextQuestion_AsksInOrder(t *testing.T) {
	// Arrange
	game, playerA, _ := newStartedGame(t)
	require.NoError(t, game.RateQuestion(game.Questions[0].ID, map[string]int{playerA.ID: 10}))

	// Act
	err := game.AskNextQuestion()

	// Assert
	require.NoError(t, err)
	require.Len(t, game.Questions, 2)
	second := game.Questions[1]
	assert.Equal(t, 2, second.Seq)
	assert.Equal(t, uint(2), second.BankID, "Вопросы задаются в порядке набора")
	assert.NotEqual(t, game.Questions[0].ID, second.ID, "Каждый заданный вопрос получает свой идентификатор")
}

func TestGame_AskNextQuestion_EndsGame(t *testing.T) {
	// Arrange: игра на один вопрос
	game := NewGame()
	cfg := testConfig()
	cfg.NumQuestions = 1
	require.NoError(t, game.Create("game-1", cfg, testSourceQuestions(1), "Ведущий", []string{"Алиса"}))
	playerA := game.Players[0]
	require.NoError(t, game.Start())
	require.NoError(t, game.RateQuestion(game.Questions[0].ID, map[string]int{playerA.ID: 10}))
	game.DrainPending()

	// Act
	err := game.AskNextQuestion()

	// Assert
	require.NoError(t, err)
	assert.Equal(t, GameStatusEnded, game.Status)

	events := game.DrainPending()
	require.Len(t, events, 1)
	assert.Equal(t, EventGameEnded, events[0].EventType())
}

func TestGame_FullPlaythrough(t *testing.T) {
	// Arrange: игра на один вопрос с двумя игроками
	game := NewGame()
	cfg := testConfig()
	cfg.NumQuestions = 1
	require.NoError(t, game.Create("game-1", cfg, testSourceQuestions(1), "Ведущий", nil))
	playerA, err := game.AddUser("Алиса")
	require.NoError(t, err)
	playerB, err := game.AddUser("Борис")
	require.NoError(t, err)
	require.NoError(t, game.Start())

	question := game.Questions[0]

	// Act: оба отвечают (второй ответ закрывает вопрос), модератор оценивает,
	// переход к следующему вопросу завершает игру
	require.NoError(t, game.AnswerQuestion(question.ID, playerA.ID, "Ответ 1"))
	require.NoError(t, game.AnswerQuestion(question.ID, playerB.ID, "мимо"))
	require.True(t, question.Closed, "Вопрос должен закрыться после ответов всех игроков")
	require.NoError(t, game.RateQuestion(question.ID, map[string]int{playerA.ID: 10, playerB.ID: 0}))
	require.NoError(t, game.AskNextQuestion())

	// Assert
	assert.Equal(t, GameStatusEnded, game.Status)
	assert.Equal(t, 10, game.Scores[playerA.ID])
	assert.Zero(t, game.Scores[playerB.ID])
}

func TestGame_TerminalImmutability(t *testing.T) {
	// Arrange: отменённая игра
	game, playerA, _ := newCreatedGame(t)
	require.NoError(t, game.RemoveUser("Ведущий"))
	require.Equal(t, GameStatusCanceled, game.Status)
	game.DrainPending()

	// Act & Assert: ни одна команда не проходит и не порождает событий
	commands := []struct {
		name string
		run  func() error
	}{
		{"AddUser", func() error { _, err := game.AddUser("Гена"); return err }},
		{"RemoveUser", func() error { return game.RemoveUser("Алиса") }},
		{"Start", func() error { return game.Start() }},
		{"AnswerQuestion", func() error { return game.AnswerQuestion("q", playerA.ID, "a") }},
		{"OverrideAnswer", func() error { return game.OverrideAnswer("q", playerA.ID, "a") }},
		{"Buzz", func() error { return game.Buzz("q", playerA.ID, 1) }},
		{"JudgeBuzzerAnswer", func() error { return game.JudgeBuzzerAnswer("q", true) }},
		{"CloseQuestion", func() error { return game.CloseQuestion("q") }},
		{"RateQuestion", func() error { return game.RateQuestion("q", nil) }},
		{"AskNextQuestion", func() error { return game.AskNextQuestion() }},
	}

	for _, cmd := range commands {
		t.Run(cmd.name, func(t *testing.T) {
			err := cmd.run()
			assert.ErrorIs(t, err, ErrGameFinished, "Терминальная игра должна отклонять команду")
			assert.False(t, game.HasPending(), "Терминальная игра не должна порождать событий")
		})
	}
}

func TestGame_ReplayEquivalence(t *testing.T) {
	// Arrange: полная партия с накоплением всех событий журнала
	var history []GameEvent
	drain := func(g *Game) {
		history = append(history, g.DrainPending()...)
	}

	game := NewGame()
	cfg := testConfig()
	cfg.NumQuestions = 2
	require.NoError(t, game.Create("game-1", cfg, testSourceQuestions(2), "Ведущий", nil))
	drain(game)
	playerA, err := game.AddUser("Алиса")
	require.NoError(t, err)
	playerB, err := game.AddUser("Борис")
	require.NoError(t, err)
	drain(game)
	require.NoError(t, game.Start())
	drain(game)

	q1 := game.Questions[0]
	require.NoError(t, game.AnswerQuestion(q1.ID, playerA.ID, "Ответ 1"))
	require.NoError(t, game.AnswerQuestion(q1.ID, playerB.ID, "мимо"))
	require.NoError(t, game.OverrideAnswer(q1.ID, playerB.ID, "Ответ 1"))
	require.NoError(t, game.RateQuestion(q1.ID, map[string]int{playerA.ID: 10, playerB.ID: 10}))
	require.NoError(t, game.AskNextQuestion())
	drain(game)

	q2 := game.Questions[1]
	require.NoError(t, game.RateQuestion(q2.ID, map[string]int{playerA.ID: 5}))
	require.NoError(t, game.AskNextQuestion())
	drain(game)
	require.Equal(t, GameStatusEnded, game.Status)

	// Act: свёртка журнала в свежий агрегат
	replayed := NewGame()
	replayed.ApplyHistory(history)

	// Assert: восстановленное состояние неотличимо от исходного
	assert.Equal(t, game.Clone(), replayed.Clone(), "Свёртка журнала должна давать то же состояние")
	assert.Equal(t, game.Version(), replayed.Version())
}

func TestGame_ReplayEquivalence_ThroughCodec(t *testing.T) {
	// Arrange: события проходят сериализацию в записи журнала и обратно
	game := NewGame()
	require.NoError(t, game.Create("game-1", testConfig(), testSourceQuestions(3), "Ведущий", []string{"Алиса", "Борис"}))
	require.NoError(t, game.Start())
	events := game.DrainPending()

	// Act
	replayed := NewGame()
	for i, ev := range events {
		record, err := NewGameEventRecord("game-1", i+1, ev)
		require.NoError(t, err, "Событие должно сериализоваться в запись журнала")
		decoded, err := record.Decode()
		require.NoError(t, err, "Запись журнала должна декодироваться обратно")
		replayed.Apply(decoded)
	}

	// Assert
	assert.Equal(t, game.Clone(), replayed.Clone(), "Кодек журнала не должен терять данные событий")
}

func TestGame_HandleAbandonDeadline(t *testing.T) {
	// Arrange
	game, _, _ := newCreatedGame(t)
	game.DrainPending()

	// Act
	err := game.HandleAbandonDeadline()

	// Assert
	require.NoError(t, err)
	assert.Equal(t, GameStatusCanceled, game.Status)
	assert.Equal(t, CancelReasonAbandoned, game.CancelReason)
}

func TestGame_HandleAbandonDeadline_Terminal(t *testing.T) {
	// Arrange: дедлайн настигает уже завершённую игру
	game, _, _ := newCreatedGame(t)
	require.NoError(t, game.RemoveUser("Ведущий"))
	game.DrainPending()

	// Act
	err := game.HandleAbandonDeadline()

	// Assert: единственная молчаливая пустая операция
	require.NoError(t, err)
	assert.False(t, game.HasPending(), "Дедлайн на терминальной игре не должен порождать событий")
	assert.Equal(t, CancelReasonModeratorLeft, game.CancelReason, "Причина отмены не должна перезаписываться")
}

func TestGame_HandleQuestionCloseDeadline(t *testing.T) {
	// Arrange
	game, _, _ := newStartedGame(t)
	question := game.Questions[0]

	// Act
	err := game.HandleQuestionCloseDeadline()

	// Assert
	require.NoError(t, err)
	assert.True(t, question.Closed, "Дедлайн должен закрыть первый открытый вопрос")

	// Act: повторное срабатывание без открытых вопросов
	game.DrainPending()
	require.NoError(t, game.HandleQuestionCloseDeadline())

	// Assert
	assert.False(t, game.HasPending(), "Без открытых вопросов дедлайн - пустая операция")
}

func TestGame_HandleBuzzerDeadline(t *testing.T) {
	// Arrange
	game, playerA, _ := newBuzzerGame(t)
	question := game.Questions[0]
	require.NoError(t, game.Buzz(question.ID, playerA.ID, 100))

	// Act: окно приёма баззов истекло
	err := game.HandleBuzzerDeadline()

	// Assert: вопрос закрыт, победитель определён порядком применения
	require.NoError(t, err)
	assert.True(t, question.Closed)
	winner := question.BuzzWinner()
	require.NotNil(t, winner)
	assert.Equal(t, playerA.ID, winner.UserID)
}

func TestGame_HandleBuzzerDeadline_NoBuzzes(t *testing.T) {
	// Arrange
	game, _, _ := newBuzzerGame(t)
	question := game.Questions[0]
	game.DrainPending()

	// Act
	err := game.HandleBuzzerDeadline()

	// Assert: без баззов вопрос остаётся открытым
	require.NoError(t, err)
	assert.False(t, question.Closed)
	assert.False(t, game.HasPending())
}

func TestGame_Clone_Independent(t *testing.T) {
	// Arrange
	game, playerA, _ := newStartedGame(t)

	// Act
	cp := game.Clone()
	cp.Scores[playerA.ID] = 100
	cp.Players = append(cp.Players, User{ID: "user-x", Username: "Хакер"})
	cp.Questions[0].Closed = true

	// Assert: изменения копии не затрагивают агрегат
	assert.Zero(t, game.Scores[playerA.ID])
	assert.Len(t, game.Players, 2)
	assert.False(t, game.Questions[0].Closed)
}
