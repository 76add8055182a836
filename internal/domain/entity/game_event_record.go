package entity

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// JSONPayload - пользовательский тип для хранения полезной нагрузки события
// в колонке JSONB
type JSONPayload []byte

// Scan реализует интерфейс sql.Scanner для JSONPayload
func (p *JSONPayload) Scan(value interface{}) error {
	if value == nil {
		*p = JSONPayload("{}")
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("failed to unmarshal JSONB value: expected []byte")
	}

	// Драйвер может переиспользовать буфер, поэтому копируем
	*p = append(JSONPayload(nil), bytes...)
	return nil
}

// Value реализует интерфейс driver.Valuer для JSONPayload
func (p JSONPayload) Value() (driver.Value, error) {
	if len(p) == 0 {
		return []byte("{}"), nil
	}
	return []byte(p), nil
}

// MarshalJSON возвращает полезную нагрузку как вложенный JSON, а не base64
func (p JSONPayload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

// UnmarshalJSON сохраняет вложенный JSON без изменений
func (p *JSONPayload) UnmarshalJSON(data []byte) error {
	*p = append((*p)[0:0], data...)
	return nil
}

// GameEventRecord - строка журнала событий игры. Пара (game_id, seq)
// уникальна; seq нумеруется с единицы в пределах игры, порядок строк
// определяет порядок свёртки.
type GameEventRecord struct {
	ID        uint        `gorm:"primaryKey" json:"id"`
	GameID    string      `gorm:"type:uuid;not null;uniqueIndex:idx_game_events_game_seq,priority:1" json:"game_id"`
	Seq       int         `gorm:"not null;uniqueIndex:idx_game_events_game_seq,priority:2" json:"seq"`
	EventType string      `gorm:"size:64;not null" json:"event_type"`
	Payload   JSONPayload `gorm:"type:jsonb;not null" json:"payload"`
	CreatedAt time.Time   `json:"created_at"`
}

// TableName определяет имя таблицы для GORM
func (GameEventRecord) TableName() string {
	return "game_events"
}

// NewGameEventRecord упаковывает доменное событие в строку журнала
func NewGameEventRecord(gameID string, seq int, ev GameEvent) (*GameEventRecord, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", ev.EventType(), err)
	}
	return &GameEventRecord{
		GameID:    gameID,
		Seq:       seq,
		EventType: ev.EventType(),
		Payload:   payload,
	}, nil
}

// Decode восстанавливает типизированное событие из строки журнала
func (r *GameEventRecord) Decode() (GameEvent, error) {
	return DecodeGameEvent(r.EventType, r.Payload)
}
