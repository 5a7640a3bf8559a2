// Package response содержит общий формат JSON-ответов HTTP-сервера.
package response

// Response ответ об ошибке.
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

const StatusError = "Error"

// Error ответ с описанием ошибки.
func Error(msg string) Response {
	return Response{
		Status: StatusError,
		Error:  msg,
	}
}
