package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"github.com/yourusername/gameshow-api/internal/domain/entity"
)

// gamectl - операторская утилита: просмотр журнала событий игры и
// обслуживание миграций напрямую, минуя API.
//
// Примеры:
//
//	gamectl -game 4f9d...            # распечатать журнал и финальное состояние
//	gamectl -force-version 3         # снять dirty-флаг миграций
func main() {
	gameID := flag.String("game", "", "ID игры: распечатать журнал событий и свёрнутое состояние")
	forceVersion := flag.Int("force-version", -1, "принудительно выставить версию миграций (снимает dirty-флаг)")
	migrationsPath := flag.String("migrations", "file://migrations", "путь к каталогу миграций")
	flag.Parse()

	connStr := connectionString()

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	switch {
	case *forceVersion >= 0:
		if err := forceMigrationVersion(db, *migrationsPath, *forceVersion); err != nil {
			log.Fatalf("Failed to force migration version: %v", err)
		}
	case *gameID != "":
		if err := dumpGame(db, *gameID); err != nil {
			log.Fatalf("Failed to dump game: %v", err)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
}

// connectionString собирает DSN из тех же переменных окружения, что и сервер
func connectionString() string {
	get := func(key, def string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return def
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		get("DATABASE_HOST", "localhost"),
		get("DATABASE_PORT", "5432"),
		get("DATABASE_USER", "postgres"),
		os.Getenv("DATABASE_PASSWORD"),
		get("DATABASE_DBNAME", "gameshow_db"),
		get("DATABASE_SSLMODE", "disable"),
	)
}

// forceMigrationVersion выставляет версию миграций и снимает dirty-флаг.
// Нужна, когда миграция упала на полпути и golang-migrate отказывается работать.
func forceMigrationVersion(db *sql.DB, migrationsPath string, version int) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	fmt.Printf("Forcing migration version to %d...\n", version)
	if err := m.Force(version); err != nil {
		return fmt.Errorf("force version: %w", err)
	}

	fmt.Println("Done. Dirty state cleaned.")
	return nil
}

// dumpGame читает журнал игры в порядке seq, печатает каждое событие
// и финальное состояние после свёртки
func dumpGame(db *sql.DB, gameID string) error {
	rows, err := db.Query(
		`SELECT seq, event_type, payload, created_at FROM game_events WHERE game_id = $1 ORDER BY seq ASC`,
		gameID,
	)
	if err != nil {
		return fmt.Errorf("query game events: %w", err)
	}
	defer rows.Close()

	game := entity.NewGame()
	count := 0

	fmt.Printf("=== Журнал игры %s ===\n", gameID)
	for rows.Next() {
		var rec entity.GameEventRecord
		if err := rows.Scan(&rec.Seq, &rec.EventType, &rec.Payload, &rec.CreatedAt); err != nil {
			return fmt.Errorf("scan event row: %w", err)
		}

		fmt.Printf("#%-4d %-28s %s  %s\n",
			rec.Seq, rec.EventType, rec.CreatedAt.Format("2006-01-02 15:04:05"), string(rec.Payload))

		ev, err := rec.Decode()
		if err != nil {
			return fmt.Errorf("decode event seq=%d: %w", rec.Seq, err)
		}
		game.Apply(ev)
		count++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate event rows: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("game %s not found: no events in log", gameID)
	}

	state, err := json.MarshalIndent(game, "", "  ")
	if err != nil {
		return fmt.Errorf("encode game state: %w", err)
	}

	fmt.Printf("\n=== Состояние после %d событий (версия %d) ===\n", count, game.Version())
	fmt.Println(string(state))
	return nil
}
