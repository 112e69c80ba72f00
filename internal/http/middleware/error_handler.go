package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/marketplace-backend/internal/logger"
	"github.com/ignatzorin/marketplace-backend/internal/pkg/apperror"
)

// ErrorHandler обрабатывает накопленные в контексте ошибки централизованно.
// Доменные ошибки транслируются в статус-коды по их коду, всё остальное
// маскируется как внутренняя ошибка.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() || len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err

		statusCode := http.StatusInternalServerError
		message := "внутренняя ошибка сервера"
		code := string(apperror.ErrCodeInternal)

		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			statusCode = appErr.HTTPStatus
			message = appErr.Message
			code = string(appErr.Code)
		}

		entry := logger.WithComponent("http").WithFields(logrus.Fields{
			"error":  err.Error(),
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
			"code":   code,
		})
		if statusCode >= http.StatusInternalServerError {
			entry.Error("ошибка обработки запроса")
		} else {
			entry.Debug("запрос отклонён")
		}

		c.JSON(statusCode, gin.H{"error": message, "code": code})
	}
}
