package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGameQuestion_BuzzWinner_ApplicationOrder(t *testing.T) {
	// Arrange: клиентские метки времени противоречат порядку применения
	question := &GameQuestion{
		ID:   "q-1",
		Mode: QuestionModeBuzzer,
		Buzzes: []Buzz{
			{UserID: "user-a", ClientTime: 9000, RegisteredAt: time.Now()},
			{UserID: "user-b", ClientTime: 1000, RegisteredAt: time.Now()},
		},
	}

	// Act
	winner := question.BuzzWinner()

	// Assert: победитель определяется порядком применения, а не метками клиента
	require.NotNil(t, winner, "BuzzWinner должен вернуть победителя при наличии баззов")
	assert.Equal(t, "user-a", winner.UserID, "Победителем должен быть первый применённый базз")
}

func TestGameQuestion_BuzzWinner_NoBuzzes(t *testing.T) {
	// Arrange
	question := &GameQuestion{ID: "q-1", Mode: QuestionModeBuzzer}

	// Act & Assert
	assert.Nil(t, question.BuzzWinner(), "BuzzWinner должен вернуть nil без баззов")
}

func TestGameQuestion_HasBuzz(t *testing.T) {
	// Arrange
	question := &GameQuestion{
		Buzzes: []Buzz{{UserID: "user-a"}},
	}

	// Act & Assert
	assert.True(t, question.HasBuzz("user-a"))
	assert.False(t, question.HasBuzz("user-b"))
}

func TestGameQuestion_AnswerQueries(t *testing.T) {
	// Arrange
	question := &GameQuestion{
		Answers: map[string]PlayerAnswer{
			"user-a": {UserID: "user-a", Text: "42"},
			"user-b": {UserID: "user-b", Text: "41", Overridden: true},
		},
	}

	// Act & Assert
	assert.Equal(t, 2, question.NumAnswers())
	assert.True(t, question.HasAnswer("user-a"))
	assert.False(t, question.HasAnswer("user-c"))
}

func TestGameQuestion_IsOpen(t *testing.T) {
	// Arrange & Act & Assert
	open := &GameQuestion{Closed: false}
	closed := &GameQuestion{Closed: true}

	assert.True(t, open.IsOpen(), "Незакрытый вопрос должен быть открыт")
	assert.False(t, closed.IsOpen(), "Закрытый вопрос не должен быть открыт")
}

func TestGameQuestion_AutoGrade(t *testing.T) {
	// Arrange
	question := &GameQuestion{
		Content: QuestionContent{Answer: "Париж", Points: 10},
		Answers: map[string]PlayerAnswer{
			"user-a": {UserID: "user-a", Text: "париж"},
			"user-b": {UserID: "user-b", Text: " Париж "},
			"user-c": {UserID: "user-c", Text: "Берлин"},
		},
	}

	// Act
	points := question.AutoGrade()

	// Assert: полный балл за совпадение без учёта регистра и пробелов
	assert.Equal(t, 10, points["user-a"], "Ответ в другом регистре должен получить полный балл")
	assert.Equal(t, 10, points["user-b"], "Ответ с крайними пробелами должен получить полный балл")
	assert.Equal(t, 0, points["user-c"], "Неверный ответ должен получить ноль")
	assert.Len(t, points, 3, "Каждый ответивший игрок должен получить оценку")
}

func TestGameQuestion_AutoGrade_NoAnswers(t *testing.T) {
	// Arrange
	question := &GameQuestion{
		Content: QuestionContent{Answer: "42", Points: 5},
		Answers: map[string]PlayerAnswer{},
	}

	// Act
	points := question.AutoGrade()

	// Assert
	assert.Empty(t, points, "Вопрос без ответов должен дать пустую оценку")
}

func TestGameQuestion_Clone_Independent(t *testing.T) {
	// Arrange
	original := &GameQuestion{
		ID:      "q-1",
		Content: QuestionContent{Answer: "42", Options: StringArray{"41", "42"}},
		Answers: map[string]PlayerAnswer{"user-a": {UserID: "user-a", Text: "41"}},
		Buzzes:  []Buzz{{UserID: "user-a"}},
		Points:  map[string]int{"user-a": 0},
	}

	// Act
	cp := original.clone()
	cp.Answers["user-b"] = PlayerAnswer{UserID: "user-b", Text: "42"}
	cp.Buzzes = append(cp.Buzzes, Buzz{UserID: "user-b"})
	cp.Points["user-b"] = 5

	// Assert: изменения копии не видны в оригинале
	assert.Len(t, original.Answers, 1, "Ответы оригинала не должны меняться")
	assert.Len(t, original.Buzzes, 1, "Баззы оригинала не должны меняться")
	assert.Len(t, original.Points, 1, "Очки оригинала не должны меняться")
}
