package gameengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitFiring ждёт срабатывание дедлайна не дольше timeout
func waitFiring(t *testing.T, s *DeadlineScheduler, timeout time.Duration) (Firing, bool) {
	t.Helper()
	select {
	case f := <-s.Firings():
		return f, true
	case <-time.After(timeout):
		return Firing{}, false
	}
}

func TestDeadlineScheduler_FiresAfterDelay(t *testing.T) {
	// Arrange
	scheduler := NewDeadlineScheduler(context.Background(), 4)

	// Act
	scheduler.Schedule("game-1", DeadlineQuestionClose, 20*time.Millisecond)

	// Assert
	firing, ok := waitFiring(t, scheduler, time.Second)
	require.True(t, ok, "Дедлайн должен сработать после задержки")
	assert.Equal(t, "game-1", firing.GameID)
	assert.Equal(t, DeadlineQuestionClose, firing.Name)
}

func TestDeadlineScheduler_CancelPreventsFiring(t *testing.T) {
	// Arrange
	scheduler := NewDeadlineScheduler(context.Background(), 4)
	scheduler.Schedule("game-1", DeadlineQuestionClose, 50*time.Millisecond)

	// Act
	scheduler.Cancel("game-1", DeadlineQuestionClose)

	// Assert
	_, ok := waitFiring(t, scheduler, 150*time.Millisecond)
	assert.False(t, ok, "Снятый дедлайн не должен срабатывать")
}

func TestDeadlineScheduler_RescheduleSupersedes(t *testing.T) {
	// Arrange: первый таймер длинный, второй с тем же именем короткий
	scheduler := NewDeadlineScheduler(context.Background(), 4)
	scheduler.Schedule("game-1", DeadlineGameAbandoned, 10*time.Second)

	// Act
	scheduler.Schedule("game-1", DeadlineGameAbandoned, 20*time.Millisecond)

	// Assert: срабатывает ровно один раз
	_, ok := waitFiring(t, scheduler, time.Second)
	require.True(t, ok, "Замещающий дедлайн должен сработать")

	_, second := waitFiring(t, scheduler, 100*time.Millisecond)
	assert.False(t, second, "Замещённый дедлайн не должен срабатывать")
}

func TestDeadlineScheduler_CancelAll(t *testing.T) {
	// Arrange: два дедлайна одной игры и один у другой
	scheduler := NewDeadlineScheduler(context.Background(), 4)
	scheduler.Schedule("game-1", DeadlineQuestionClose, 30*time.Millisecond)
	scheduler.Schedule("game-1", DeadlineGameAbandoned, 30*time.Millisecond)
	scheduler.Schedule("game-2", DeadlineQuestionClose, 30*time.Millisecond)

	// Act
	scheduler.CancelAll("game-1")

	// Assert: выживает только дедлайн другой игры
	firing, ok := waitFiring(t, scheduler, time.Second)
	require.True(t, ok)
	assert.Equal(t, "game-2", firing.GameID)

	_, more := waitFiring(t, scheduler, 100*time.Millisecond)
	assert.False(t, more, "Дедлайны отменённой игры не должны срабатывать")
}

func TestDeadlineScheduler_CancelUnknownIsNoop(t *testing.T) {
	// Arrange
	scheduler := NewDeadlineScheduler(context.Background(), 4)

	// Act & Assert: снятие невзведённого дедлайна не паникует
	scheduler.Cancel("game-1", DeadlineQuestionBuzzer)
	scheduler.CancelAll("game-1")
}

func TestDeadlineScheduler_ContextCancelStopsTimers(t *testing.T) {
	// Arrange
	ctx, cancel := context.WithCancel(context.Background())
	scheduler := NewDeadlineScheduler(ctx, 4)
	scheduler.Schedule("game-1", DeadlineQuestionClose, 30*time.Millisecond)

	// Act: остановка сервиса снимает все таймеры
	cancel()

	// Assert
	_, ok := waitFiring(t, scheduler, 150*time.Millisecond)
	assert.False(t, ok, "После остановки контекста дедлайны не должны срабатывать")
}
