package gameengine

import "time"

// Имена дедлайнов игры. Пара (игра, имя) идентифицирует таймер:
// повторное планирование замещает предыдущий.
const (
	// DeadlineGameAbandoned - отмена игры, оставленной без активности
	DeadlineGameAbandoned = "GAME_ABANDONED"
	// DeadlineQuestionClose - закрытие вопроса по истечении окна ответов
	DeadlineQuestionClose = "QUESTION_CLOSE"
	// DeadlineQuestionBuzzer - закрытие окна приёма баззов после первого нажатия
	DeadlineQuestionBuzzer = "QUESTION_BUZZER"
)

// Config содержит настройки движка игр
type Config struct {
	// AbandonTimeout - срок отмены игры без активности после создания
	AbandonTimeout time.Duration
	// AbandonExtension - продление таймера заброшенности после каждого вопроса
	AbandonExtension time.Duration
	// BuzzerWindow - окно приёма остальных баззов после первого нажатия
	BuzzerWindow time.Duration
	// SnapshotTTL - время жизни снимка состояния игры в кеше
	SnapshotTTL time.Duration
	// FiringBuffer - ёмкость канала сработавших дедлайнов
	FiringBuffer int
}

// DefaultConfig возвращает конфигурацию движка по умолчанию
func DefaultConfig() *Config {
	return &Config{
		AbandonTimeout:   30 * time.Minute,
		AbandonExtension: 15 * time.Minute,
		BuzzerWindow:     500 * time.Millisecond,
		SnapshotTTL:      24 * time.Hour,
		FiringBuffer:     64,
	}
}
