package websocket

// Серверные сообщения о ходе игры. Значение константы совпадает с полем
// type исходящего конверта.
const (
	// GAME_CREATED сообщает о создании игры и составе начального ростера
	GAME_CREATED = "game:created"

	// USER_ADDED сообщает о входе игрока в ростер
	USER_ADDED = "user:added"

	// USER_REMOVED сообщает о выходе игрока или модератора
	USER_REMOVED = "user:removed"

	// GAME_STARTED сообщает о старте игры
	GAME_STARTED = "game:started"

	// QUESTION_ASKED сообщает о новом вопросе (без правильного ответа)
	QUESTION_ASKED = "question:asked"

	// QUESTION_ANSWERED сообщает, что игрок ответил (без текста ответа)
	QUESTION_ANSWERED = "question:answered"

	// QUESTION_ANSWER_OVERRIDDEN сообщает о правке ответа модератором
	QUESTION_ANSWER_OVERRIDDEN = "question:answer_overridden"

	// QUESTION_BUZZED сообщает о нажатии кнопки
	QUESTION_BUZZED = "question:buzzed"

	// QUESTION_BUZZER_ANSWERED сообщает об оценке устного ответа победителя гонки
	QUESTION_BUZZER_ANSWERED = "question:buzzer_answered"

	// QUESTION_CLOSED сообщает о закрытии вопроса и раскрывает правильный ответ
	QUESTION_CLOSED = "question:closed"

	// QUESTION_RATED сообщает об оценке вопроса и новом счёте
	QUESTION_RATED = "question:rated"

	// GAME_ENDED сообщает о завершении игры с итоговым счётом
	GAME_ENDED = "game:ended"

	// GAME_CANCELED сообщает об отмене игры до завершения
	GAME_CANCELED = "game:canceled"

	// GAME_PRESENCE сообщает список подключенных участников игры
	GAME_PRESENCE = "game:presence"
)

// Команды клиента
const (
	// USER_READY подписывает соединение на события игры
	USER_READY = "user:ready"

	// USER_ANSWER передает ответ игрока на текущий вопрос
	USER_ANSWER = "user:answer"

	// USER_BUZZ передает нажатие кнопки
	USER_BUZZ = "user:buzz"

	// USER_HEARTBEAT подтверждает активность соединения
	USER_HEARTBEAT = "user:heartbeat"
)

// Служебные сообщения сервера. Рассылаются всем соединениям, минуя
// фильтр подписок.
const (
	// SERVER_ERROR сообщает клиенту об ошибке обработки его команды
	SERVER_ERROR = "server:error"

	// SERVER_BUFFER_WARNING предупреждает медленного клиента о скором отключении
	SERVER_BUFFER_WARNING = "server:buffer_warning"

	// SERVER_SHUTDOWN уведомляет о плановой остановке сервера
	SERVER_SHUTDOWN = "server:shutdown"
)

// gameEventTypes перечисляет серверные сообщения игры, на которые
// подписывается соединение командой user:ready
var gameEventTypes = []string{
	GAME_CREATED,
	USER_ADDED,
	USER_REMOVED,
	GAME_STARTED,
	QUESTION_ASKED,
	QUESTION_ANSWERED,
	QUESTION_ANSWER_OVERRIDDEN,
	QUESTION_BUZZED,
	QUESTION_BUZZER_ANSWERED,
	QUESTION_CLOSED,
	QUESTION_RATED,
	GAME_ENDED,
	GAME_CANCELED,
	GAME_PRESENCE,
}
