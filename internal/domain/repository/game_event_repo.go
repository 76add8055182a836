package repository

import (
	"github.com/yourusername/gameshow-api/internal/domain/entity"
)

// GameEventRepository определяет методы для работы с журналом событий игр.
// Журнал - единственный источник истины о состоянии игры.
type GameEventRepository interface {
	// Append атомарно дописывает пакет записей в журнал. Если пара
	// (game_id, seq) уже занята, возвращает ErrEventConflict, не записав
	// ни одной строки пакета.
	Append(records []*entity.GameEventRecord) error
	// ListByGame возвращает все записи игры в порядке seq
	ListByGame(gameID string) ([]entity.GameEventRecord, error)
	// ListByGameAfter возвращает записи игры с seq строго больше заданного
	ListByGameAfter(gameID string, afterSeq int) ([]entity.GameEventRecord, error)
	// ListActiveGameIDs возвращает идентификаторы игр без терминального события
	ListActiveGameIDs() ([]string, error)
}
