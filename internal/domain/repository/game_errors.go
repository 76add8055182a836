package repository

import "errors"

var (
	// ErrEventConflict означает, что позиция (game_id, seq) в журнале уже занята:
	// команду обогнала конкурирующая запись, и её нужно повторить на свежем состоянии.
	ErrEventConflict = errors.New("game event log position already taken")
)
