// Package sl содержит вспомогательные функции для работы с логгером slog.
// Все пакеты используют одни и те же ключи структурированных полей лога.
package sl

import "log/slog"

// Err возвращает slog.Attr с ключом "error" и значением текста ошибки.
//
// Пример:
//
//	log.Error("failed to send offer", sl.Err(err))
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

// UserID возвращает slog.Attr с идентификатором пользователя Telegram.
func UserID(id int64) slog.Attr {
	return slog.Int64("user_id", id)
}

// Component возвращает slog.Attr с именем компонента.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}
