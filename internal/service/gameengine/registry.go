package gameengine

import (
	"fmt"
	"sync"

	"github.com/yourusername/gameshow-api/internal/domain/entity"
	"github.com/yourusername/gameshow-api/internal/domain/repository"
	apperrors "github.com/yourusername/gameshow-api/internal/pkg/errors"
)

// CommandFunc применяет одну команду к агрегату игры
type CommandFunc func(g *entity.Game) error

// GameRegistry сериализует команды к каждой игре и связывает агрегат
// с журналом событий: команды одной игры выполняются строго по очереди,
// порождённые события атомарно дописываются в журнал перед публикацией.
type GameRegistry struct {
	events repository.GameEventRepository

	mu    sync.Mutex
	games map[string]*gameSlot
}

// gameSlot - слот игры в реестре. Мьютекс слота сериализует команды игры;
// game кеширует свёрнутое состояние между командами (nil до первой загрузки).
type gameSlot struct {
	mu   sync.Mutex
	game *entity.Game
}

// NewGameRegistry создает новый реестр игр
func NewGameRegistry(events repository.GameEventRepository) *GameRegistry {
	return &GameRegistry{
		events: events,
		games:  make(map[string]*gameSlot),
	}
}

func (r *GameRegistry) slot(gameID string) *gameSlot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.games[gameID]
	if !ok {
		s = &gameSlot{}
		r.games[gameID] = s
	}
	return s
}

// Create выполняет команду создания игры с заданным идентификатором.
// Возвращает записанные события и копию нового состояния.
func (r *GameRegistry) Create(gameID string, fn CommandFunc) ([]entity.GameEvent, *entity.Game, error) {
	s := r.slot(gameID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.game != nil {
		return nil, nil, fmt.Errorf("game %s already exists: %w", gameID, repository.ErrEventConflict)
	}

	g := entity.NewGame()
	if err := fn(g); err != nil {
		return nil, nil, err
	}

	events := g.DrainPending()
	if len(events) == 0 {
		return nil, g.Clone(), nil
	}
	if err := r.append(gameID, g.Version(), events); err != nil {
		return nil, nil, err
	}
	s.game = g
	return events, g.Clone(), nil
}

// Execute выполняет команду над существующей игрой. Состояние лениво
// сворачивается из журнала и кешируется в слоте. Возвращает записанные
// события (пустой срез для команд без событий) и копию состояния после
// команды.
func (r *GameRegistry) Execute(gameID string, fn CommandFunc) ([]entity.GameEvent, *entity.Game, error) {
	s := r.slot(gameID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.game == nil {
		g, err := r.load(gameID)
		if err != nil {
			return nil, nil, err
		}
		s.game = g
	}

	g := s.game
	if err := fn(g); err != nil {
		// Команда, отказавшая после применения части событий, оставила бы
		// кеш впереди журнала; такой кеш сбрасывается до следующей загрузки
		if g.HasPending() {
			s.game = nil
		}
		return nil, nil, err
	}

	events := g.DrainPending()
	if len(events) == 0 {
		return nil, g.Clone(), nil
	}
	if err := r.append(gameID, g.Version(), events); err != nil {
		s.game = nil
		return nil, nil, err
	}
	return events, g.Clone(), nil
}

// Inspect возвращает копию текущего состояния игры без выполнения команд
func (r *GameRegistry) Inspect(gameID string) (*entity.Game, error) {
	s := r.slot(gameID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.game == nil {
		g, err := r.load(gameID)
		if err != nil {
			return nil, err
		}
		s.game = g
	}
	return s.game.Clone(), nil
}

// Evict выбрасывает игру из памяти реестра. Журнал при этом не трогается:
// следующая команда свернёт состояние заново.
func (r *GameRegistry) Evict(gameID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.games, gameID)
}

// load сворачивает состояние игры из журнала событий
func (r *GameRegistry) load(gameID string) (*entity.Game, error) {
	records, err := r.events.ListByGame(gameID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("game %s: %w", gameID, apperrors.ErrNotFound)
	}

	g := entity.NewGame()
	for i := range records {
		ev, err := records[i].Decode()
		if err != nil {
			return nil, fmt.Errorf("game %s: corrupt journal at seq %d: %w", gameID, records[i].Seq, err)
		}
		g.Apply(ev)
	}
	return g, nil
}

// append упаковывает события в записи журнала. Номер первой записи
// продолжает текущую версию агрегата; занятый номер означает, что журнал
// ушёл вперёд, и запись отклоняется целиком.
func (r *GameRegistry) append(gameID string, version int, events []entity.GameEvent) error {
	records := make([]*entity.GameEventRecord, len(events))
	baseSeq := version - len(events) + 1
	for i, ev := range events {
		record, err := entity.NewGameEventRecord(gameID, baseSeq+i, ev)
		if err != nil {
			return err
		}
		records[i] = record
	}
	return r.events.Append(records)
}
