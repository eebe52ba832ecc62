// recover.go — граничный обработчик паник.
// Любая паника в цепочке обработчиков превращается в 500 JSON;
// детали паники отдаются клиенту только вне production.
package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	apierrors "github.com/bigkaa/paperstore/internal/api/errors"
)

// Recover возвращает middleware, перехватывающий паники обработчиков.
func Recover(logger *slog.Logger, production bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				// http.ErrAbortHandler — штатный способ оборвать ответ
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logger.Error("Паника в обработчике запроса",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Any("panic", rec),
					slog.String("stack", string(debug.Stack())),
				)

				message := "Внутренняя ошибка сервера"
				if !production {
					message = fmt.Sprintf("Внутренняя ошибка сервера: %v", rec)
				}
				apierrors.WriteError(w, http.StatusInternalServerError,
					apierrors.CodeInternalError, message)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
