package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/casting-agency/internal/apperr"
)

// errorResponse is the envelope every failure is rendered in. Message is
// a string, or a {code, description} object for auth failures.
type errorResponse struct {
	Success bool `json:"success"`
	Error   int  `json:"error"`
	Message any  `json:"message"`
}

// NewErrorHandler returns the Echo error handler. It may be called twice
// for one request (once by the request logger), so it does nothing once
// the response is committed. 5xx errors are logged.
func NewErrorHandler(log logrus.FieldLogger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status := apperr.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			log.WithFields(logrus.Fields{
				"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
				"method":     c.Request().Method,
				"uri":        c.Request().RequestURI,
			}).WithError(err).Error("unhandled error")
		}

		body := errorResponse{Success: false, Error: status, Message: apperr.Message(err)}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			log.WithError(err).Warn("write error response")
		}
	}
}
