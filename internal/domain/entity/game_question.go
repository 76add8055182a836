package entity

import (
	"strings"
	"time"
)

// QuestionMode определяет способ ответа на вопрос игры
type QuestionMode string

const (
	// QuestionModeCollective - все игроки отвечают одновременно
	QuestionModeCollective QuestionMode = "COLLECTIVE"
	// QuestionModeBuzzer - игроки соревнуются за право ответа кнопкой
	QuestionModeBuzzer QuestionMode = "BUZZER"
)

// QuestionContent - содержимое вопроса, зафиксированное в событии.
// Копируется из банка при создании игры, чтобы воспроизведение журнала
// не зависело от последующих правок банка.
type QuestionContent struct {
	Phrase   string      `json:"phrase"`
	ImageURL string      `json:"image_url,omitempty"`
	Options  StringArray `json:"options,omitempty"`
	Answer   string      `json:"answer"`
	Points   int         `json:"points"`
}

// PlayerAnswer - последний принятый ответ игрока на вопрос
type PlayerAnswer struct {
	UserID     string    `json:"user_id"`
	Text       string    `json:"text"`
	Overridden bool      `json:"overridden"`
	AnsweredAt time.Time `json:"answered_at"`
}

// Buzz - нажатие кнопки игроком. Порядок применения событий авторитетен;
// клиентская метка времени хранится только для отображения.
type Buzz struct {
	UserID       string    `json:"user_id"`
	ClientTime   int64     `json:"client_time"`
	RegisteredAt time.Time `json:"registered_at"`
}

// GameQuestion представляет заданный в игре вопрос
type GameQuestion struct {
	ID             string                  `json:"id"`
	Seq            int                     `json:"seq"`
	BankID         uint                    `json:"bank_id"`
	Mode           QuestionMode            `json:"mode"`
	Content        QuestionContent         `json:"content"`
	Moderated      bool                    `json:"moderated"`
	TimeToAnswerMs int64                   `json:"time_to_answer_ms"`
	AskedAt        time.Time               `json:"asked_at"`
	Answers        map[string]PlayerAnswer `json:"answers"`
	Buzzes         []Buzz                  `json:"buzzes"`
	Closed         bool                    `json:"closed"`
	Rated          bool                    `json:"rated"`
	Points         map[string]int          `json:"points"`
}

// NumAnswers возвращает количество ответивших игроков
func (q *GameQuestion) NumAnswers() int {
	return len(q.Answers)
}

// HasAnswer проверяет, есть ли у игрока принятый ответ на вопрос
func (q *GameQuestion) HasAnswer(userID string) bool {
	_, ok := q.Answers[userID]
	return ok
}

// NumBuzzes возвращает количество зарегистрированных баззов
func (q *GameQuestion) NumBuzzes() int {
	return len(q.Buzzes)
}

// HasBuzz проверяет, нажимал ли игрок кнопку на этом вопросе
func (q *GameQuestion) HasBuzz(userID string) bool {
	for _, b := range q.Buzzes {
		if b.UserID == userID {
			return true
		}
	}
	return false
}

// BuzzWinner возвращает первый применённый базз (победителя гонки) или nil
func (q *GameQuestion) BuzzWinner() *Buzz {
	if len(q.Buzzes) == 0 {
		return nil
	}
	return &q.Buzzes[0]
}

// IsOpen сообщает, принимает ли вопрос ответы и баззы
func (q *GameQuestion) IsOpen() bool {
	return !q.Closed
}

// AutoGrade выставляет очки за вопрос без модератора: полный балл за ответ,
// совпавший с правильным без учёта регистра и крайних пробелов, ноль за любой другой
func (q *GameQuestion) AutoGrade() map[string]int {
	points := make(map[string]int, len(q.Answers))
	for userID, ans := range q.Answers {
		if strings.EqualFold(strings.TrimSpace(ans.Text), strings.TrimSpace(q.Content.Answer)) {
			points[userID] = q.Content.Points
		} else {
			points[userID] = 0
		}
	}
	return points
}

// clone возвращает глубокую копию вопроса
func (q *GameQuestion) clone() *GameQuestion {
	cp := *q
	cp.Answers = make(map[string]PlayerAnswer, len(q.Answers))
	for userID, ans := range q.Answers {
		cp.Answers[userID] = ans
	}
	cp.Buzzes = append([]Buzz(nil), q.Buzzes...)
	cp.Points = make(map[string]int, len(q.Points))
	for userID, pts := range q.Points {
		cp.Points[userID] = pts
	}
	cp.Content.Options = append(StringArray(nil), q.Content.Options...)
	return &cp
}
