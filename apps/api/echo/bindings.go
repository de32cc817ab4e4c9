package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/emsu/emsu/core"
)

const (
	limitParam  = "limit"
	offsetParam = "offset"
	isReadParam = "is_read"
)

// listQuery holds the query params shared by the list endpoints.
type listQuery struct {
	Page   core.Page
	IsRead *bool
}

func (q *listQuery) Bind(ctx echo.Context) error {
	var isRead bool
	err := echo.QueryParamsBinder(ctx).
		Int(limitParam, &q.Page.Limit).
		Int(offsetParam, &q.Page.Offset).
		Bool(isReadParam, &isRead).
		BindError()
	if err != nil {
		var bErr *echo.BindingError
		if errors.As(err, &bErr) {
			return core.NewValidationError(nil, core.FieldError{Field: bErr.Field, Error: "invalid value"})
		}
		return core.NewValidationError(err)
	}
	if ctx.QueryParam(isReadParam) != "" {
		q.IsRead = &isRead
	}
	return nil
}
