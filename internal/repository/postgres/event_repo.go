package postgres

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/yourusername/gameshow-api/internal/domain/entity"
	"github.com/yourusername/gameshow-api/internal/domain/repository"
)

// GameEventRepo реализует repository.GameEventRepository
type GameEventRepo struct {
	db *gorm.DB
}

// NewGameEventRepo создает новый репозиторий журнала событий игр
func NewGameEventRepo(db *gorm.DB) *GameEventRepo {
	return &GameEventRepo{db: db}
}

// Append атомарно дописывает пакет записей в журнал.
// Уникальный индекс (game_id, seq) гарантирует линейность журнала:
// - 23505 (unique violation) → ErrEventConflict, пакет откатывается целиком
// - другая ошибка БД → возвращается как есть
func (r *GameEventRepo) Append(records []*entity.GameEventRecord) error {
	if len(records) == 0 {
		return nil
	}

	err := r.db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&records).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: game %s seq %d", repository.ErrEventConflict, records[0].GameID, records[0].Seq)
		}
		return fmt.Errorf("append %d events to game %s failed: %w", len(records), records[0].GameID, err)
	}
	return nil
}

// ListByGame возвращает все записи игры в порядке seq
func (r *GameEventRepo) ListByGame(gameID string) ([]entity.GameEventRecord, error) {
	var records []entity.GameEventRecord
	err := r.db.Where("game_id = ?", gameID).Order("seq").Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// ListByGameAfter возвращает записи игры с seq строго больше заданного
func (r *GameEventRepo) ListByGameAfter(gameID string, afterSeq int) ([]entity.GameEventRecord, error) {
	var records []entity.GameEventRecord
	err := r.db.Where("game_id = ? AND seq > ?", gameID, afterSeq).Order("seq").Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// ListActiveGameIDs возвращает идентификаторы игр, в журнале которых нет
// терминального события. Используется при старте сервиса для перезапуска
// таймеров заброшенности.
func (r *GameEventRepo) ListActiveGameIDs() ([]string, error) {
	var ids []string
	sql := `
		SELECT game_id FROM game_events
		GROUP BY game_id
		HAVING bool_or(event_type IN (?, ?)) = false
	`
	err := r.db.Raw(sql, entity.EventGameEnded, entity.EventGameCanceled).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// isUniqueViolation проверяет Postgres unique violation (23505) для pgconn и lib/pq драйверов
func isUniqueViolation(err error) bool {
	// pgx/v5 driver (pgconn.PgError)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	// lib/pq driver
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return true
	}
	return false
}
