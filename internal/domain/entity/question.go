package entity

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// StringArray - пользовательский тип для работы с JSONB
type StringArray []string

// Scan реализует интерфейс sql.Scanner для StringArray
// Используется GORM для чтения JSONB данных из базы
func (o *StringArray) Scan(value interface{}) error {
	// Обработка NULL значений из базы данных
	if value == nil {
		*o = StringArray{}
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("failed to unmarshal JSONB value: expected []byte")
	}

	// Обработка пустого массива байтов
	if len(bytes) == 0 {
		*o = StringArray{}
		return nil
	}

	return json.Unmarshal(bytes, o)
}

// Value реализует интерфейс driver.Valuer для StringArray
// Используется GORM для записи StringArray в JSONB в базе
func (o StringArray) Value() (driver.Value, error) {
	if o == nil || len(o) == 0 {
		return []byte("[]"), nil // Возвращаем пустой JSON массив вместо null
	}
	return json.Marshal(o)
}

// Question представляет вопрос банка вопросов. Вопросы сгруппированы в наборы
// (question_set_id); порядок показа внутри набора задаёт поле Position.
type Question struct {
	ID            uint        `gorm:"primaryKey" json:"id"`
	QuestionSetID uint        `gorm:"not null;index" json:"question_set_id"`
	Position      int         `gorm:"not null;default:0" json:"position"`
	Phrase        string      `gorm:"size:500;not null" json:"phrase"`
	ImageURL      string      `gorm:"size:500" json:"image_url,omitempty"`
	Options       StringArray `gorm:"type:jsonb;not null" json:"options"`
	Answer        string      `gorm:"size:500;not null" json:"-"` // Скрыто от клиента
	PointValue    int         `gorm:"not null;default:10" json:"point_value"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// TableName определяет имя таблицы для GORM
func (Question) TableName() string {
	return "questions"
}

// IsCorrect сравнивает ответ с правильным без учёта регистра и крайних пробелов
func (q *Question) IsCorrect(answer string) bool {
	return strings.EqualFold(strings.TrimSpace(answer), strings.TrimSpace(q.Answer))
}

// OptionsCount возвращает количество вариантов ответа
func (q *Question) OptionsCount() int {
	return len(q.Options)
}

// IsValidOption проверяет, входит ли ответ в список вариантов.
// Вопросы без вариантов принимают произвольный текст.
func (q *Question) IsValidOption(answer string) bool {
	if len(q.Options) == 0 {
		return true
	}
	for _, opt := range q.Options {
		if strings.EqualFold(opt, answer) {
			return true
		}
	}
	return false
}

// Content возвращает содержимое вопроса в виде, фиксируемом в событиях игры
func (q *Question) Content() QuestionContent {
	return QuestionContent{
		Phrase:   q.Phrase,
		ImageURL: q.ImageURL,
		Options:  q.Options,
		Answer:   q.Answer,
		Points:   q.PointValue,
	}
}
