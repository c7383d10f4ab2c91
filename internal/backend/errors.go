package backend

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"school-session-agent/internal/domain"
	"school-session-agent/internal/logging"
)

// newHTTPErrorHandler returns an echo.HTTPErrorHandler that knows how to map domain errors.
func newHTTPErrorHandler(logger logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		var (
			code    int
			message interface{}
			herr    *echo.HTTPError
			verr    *domain.ValidationError
		)

		switch {
		case errors.As(err, &herr):
			code = herr.Code
			message = herr.Message
		case errors.As(err, &verr):
			code = http.StatusBadRequest
			if len(verr.Fields) > 0 {
				fldErrs := make(map[string]string, len(verr.Fields))
				for _, f := range verr.Fields {
					fldErrs[f.Field] = f.Error
				}
				message = fldErrs
			} else {
				message = verr.Error()
			}
		case errors.Is(err, domain.ErrActivityNotFound):
			code = http.StatusNotFound
			message = err.Error()
		case errors.Is(err, domain.ErrUnauthorized):
			code = http.StatusUnauthorized
			message = err.Error()
		default: // any other error is a server error
			code = http.StatusInternalServerError
			message = http.StatusText(code)
			logger.Errorf("%s %s: %+v", c.Request().Method, c.Path(), err)
		}

		if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		if !c.Response().Committed {
			if c.Request().Method == http.MethodHead {
				err = c.NoContent(code)
			} else {
				err = c.JSON(code, message)
			}
			if err != nil {
				logger.Errorf("write error response: %v", err)
			}
		}
	}
}
