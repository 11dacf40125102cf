package webapp

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/feedback360/core"
	"github.com/trezcool/feedback360/core/user"
)

// paramID parses a positive integer path parameter.
func paramID(ctx echo.Context, name string) (int, error) {
	id, err := strconv.Atoi(ctx.Param(name))
	if err != nil || id <= 0 {
		return 0, echo.ErrNotFound
	}
	return id, nil
}

// queryInt parses an optional integer query parameter, returning 0 when absent or invalid.
func queryInt(ctx echo.Context, name string) int {
	v, _ := strconv.Atoi(ctx.QueryParam(name))
	return v
}

// bind binds the request form into dst. Malformed values are reported as a validation error.
func bind(ctx echo.Context, dst interface{}) error {
	if err := ctx.Bind(dst); err != nil {
		var herr *echo.HTTPError
		if errors.As(err, &herr) {
			return core.NewValidationError(errors.New("formulário inválido"))
		}
		return errors.Wrap(err, "binding form")
	}
	return nil
}

// formInts parses the repeated integer form values of name.
func formInts(ctx echo.Context, name string) ([]int, error) {
	params, err := ctx.FormParams()
	if err != nil {
		return nil, errors.Wrap(err, "parsing form")
	}
	vals := params[name]
	ids := make([]int, 0, len(vals))
	for _, v := range vals {
		id, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, core.NewValidationError(nil, core.FieldError{Field: name, Error: "valor inválido"})
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func mustSession(ctx echo.Context) user.Session {
	sess, _ := contextSession(ctx)
	return sess
}
