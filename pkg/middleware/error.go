package middleware

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/distribution"
	"github.com/Ramsey-B/clover/pkg/importer"
	"github.com/Ramsey-B/clover/pkg/sheet"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/Ramsey-B/clover/pkg/uploads"
)

type ErrorResponse struct {
	Message   string         `json:"message"`
	RequestID string         `json:"request_id"`
	TraceID   string         `json:"trace_id"`
	Meta      map[string]any `json:"meta"`
}

// domainStatus maps pipeline sentinels to HTTP status codes.
var domainStatus = []struct {
	err  error
	code int
}{
	{distribution.ErrNoTargets, http.StatusBadRequest},
	{distribution.ErrInvalidStrategy, http.StatusBadRequest},
	{distribution.ErrInvalidQuantity, http.StatusBadRequest},
	{distribution.ErrLeadNotFound, http.StatusNotFound},
	{distribution.ErrAgentNotFound, http.StatusNotFound},
	{distribution.ErrAlreadyAssigned, http.StatusConflict},
	{importer.ErrAlreadyRunning, http.StatusConflict},
	{importer.ErrInvalidMapping, http.StatusBadRequest},
	{uploads.ErrTooLarge, http.StatusRequestEntityTooLarge},
	{uploads.ErrInvalidFilename, http.StatusBadRequest},
	{uploads.ErrNotFound, http.StatusNotFound},
	{sheet.ErrUnsupportedFormat, http.StatusBadRequest},
}

func statusFor(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	if httperror.IsHTTPError(err) {
		return httperror.GetStatusCode(err)
	}
	for _, d := range domainStatus {
		if errors.Is(err, d.err) {
			return d.code
		}
	}
	return http.StatusInternalServerError
}

func Error(logger ectologger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		ctx := c.Request().Context()
		if c.Response().Committed {
			return
		}

		code := statusFor(err)
		message := "Internal Server Error"
		meta := map[string]any{}

		var he *echo.HTTPError
		var fatal *importer.RunFatalError
		switch {
		case errors.As(err, &he):
			if msg, ok := he.Message.(string); ok {
				message = msg
			} else {
				message = http.StatusText(code)
			}
		case httperror.IsHTTPError(err):
			httperr := httperror.ToHTTPError(err)
			message = httperr.Error()
			if httperr.Meta != nil {
				meta = httperr.Meta
			}
		case errors.As(err, &fatal):
			message = fatal.Error()
			if fatal.RunID != "" {
				meta["run_id"] = fatal.RunID
			}
		case code != http.StatusInternalServerError:
			message = err.Error()
		}

		if code >= http.StatusInternalServerError {
			logger.WithContext(ctx).WithError(err).Error("api is returning an error")
		} else {
			logger.WithContext(ctx).WithError(err).Warn("api is returning a client error")
		}

		_ = c.JSON(code, ErrorResponse{
			Message:   message,
			RequestID: appctx.GetRequestID(ctx),
			TraceID:   tracing.GetTraceID(ctx),
			Meta:      meta,
		})
	}
}
