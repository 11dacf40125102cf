package webapp

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/feedback360/core"
)

const (
	msgNotFound  = "A página solicitada não foi encontrada."
	msgIntegrity = "A operação conflita com registros existentes."
	msgLogin     = "Entre para acessar esta página."
	msgCSRF      = "O formulário expirou. Tente novamente."
	msgForbidden = "Você não tem permissão para fazer isso."
)

// httpErrorHandler maps errors to user facing responses: user errors are flashed and the user is
// redirected back (POST/redirect/GET), unexpected errors render the error page and are logged.
// The server is shut down gracefully whenever a core.shutdown error is caught.
func (s *Server) httpErrorHandler(err error, ctx echo.Context) {
	if ctx.Response().Committed {
		return
	}

	var (
		valErr  *core.ValidationError
		nfErr   *core.NotFoundError
		permErr *core.PermissionError
		intErr  *core.IntegrityError
		httpErr *echo.HTTPError
	)
	switch {
	case errors.Cause(err) == errLoginRequired:
		s.addFlash(ctx, flashWarning, msgLogin)
		err = s.redirect(ctx, "/")
	case errors.As(err, &valErr):
		for _, msg := range validationMessages(valErr) {
			s.addFlash(ctx, flashDanger, msg)
		}
		err = s.redirect(ctx, s.backURL(ctx))
	case errors.As(err, &nfErr):
		s.addFlash(ctx, flashWarning, msgNotFound)
		err = s.redirect(ctx, s.homeURL(ctx))
	case errors.As(err, &permErr):
		msg := permErr.Reason
		if msg == "" {
			msg = msgForbidden
		}
		s.addFlash(ctx, flashDanger, msg)
		err = s.redirect(ctx, s.homeURL(ctx))
	case errors.As(err, &intErr):
		s.addFlash(ctx, flashDanger, msgIntegrity)
		err = s.redirect(ctx, s.backURL(ctx))
	case errors.As(err, &httpErr):
		if httpErr.Internal != nil {
			if herr, ok := httpErr.Internal.(*echo.HTTPError); ok {
				httpErr = herr
			}
		}
		if strings.Contains(fmt.Sprint(httpErr.Message), "csrf") {
			s.addFlash(ctx, flashDanger, msgCSRF)
			err = s.redirect(ctx, s.backURL(ctx))
			break
		}
		err = s.errorPage(ctx, httpErr.Code, err)
	default: // any other error is a server error
		msg := http.StatusText(http.StatusInternalServerError)
		if sess, ok := contextSession(ctx); ok {
			s.opts.Logger.Error(msg, errors.Wrap(err, msg), sess)
		} else {
			s.opts.Logger.Error(msg, errors.Wrap(err, msg))
		}
		shutdown := core.IsShutdown(err)
		err = s.errorPage(ctx, http.StatusInternalServerError, err)

		// shutting down...
		if shutdown {
			s.signalShutdown()
		}
	}

	if err != nil {
		ctx.Echo().Logger.Error(err)
	}
}

func validationMessages(err *core.ValidationError) []string {
	msgs := make([]string, 0, len(err.Fields)+1)
	if err.Err != nil {
		msgs = append(msgs, err.Err.Error())
	}
	for _, fld := range err.Fields {
		msgs = append(msgs, fld.Field+": "+fld.Error)
	}
	if len(msgs) == 0 {
		msgs = append(msgs, err.Error())
	}
	return msgs
}

func (s *Server) errorPage(ctx echo.Context, code int, cause error) error {
	if ctx.Request().Method == http.MethodHead {
		return ctx.NoContent(code)
	}
	data := echo.Map{"Code": code, "Status": http.StatusText(code)}
	if ctx.Echo().Debug {
		data["Detail"] = cause.Error()
	}
	return s.renderStatus(ctx, code, "error", data)
}

func (s *Server) redirect(ctx echo.Context, to string) error {
	return ctx.Redirect(http.StatusSeeOther, to)
}

func (s *Server) homeURL(ctx echo.Context) string {
	if _, ok := contextSession(ctx); ok {
		return "/home"
	}
	return "/"
}

// backURL returns the path of the same-origin referring page, so a failed form submission
// redirects to the form it came from. It falls back to the home page.
func (s *Server) backURL(ctx echo.Context) string {
	req := ctx.Request()
	if ref, err := url.Parse(req.Referer()); err == nil && ref.Path != "" {
		if ref.Host == "" || ref.Host == req.Host {
			if req.Method != http.MethodGet || ref.Path != req.URL.Path {
				back := ref.Path
				if ref.RawQuery != "" {
					back += "?" + ref.RawQuery
				}
				return back
			}
		}
	}
	return s.homeURL(ctx)
}
