package webapp

import (
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"

	"github.com/trezcool/feedback360/core"
)

const flashSession = "f360_flash"

// flash kinds, also used as css classes
const (
	flashSuccess = "success"
	flashInfo    = "info"
	flashWarning = "warning"
	flashDanger  = "danger"
)

var flashKinds = []string{flashDanger, flashWarning, flashSuccess, flashInfo}

// Flash is a one-time message shown on the next rendered page.
type Flash struct {
	Kind    string
	Message string
}

func newFlashStore(conf *core.Config) *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(conf.SecretKey))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   3600,
		HttpOnly: true,
		Secure:   !conf.Debug,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

func (s *Server) addFlash(ctx echo.Context, kind, msg string) {
	sess, err := s.flashes.Get(ctx.Request(), flashSession)
	if err != nil && sess == nil {
		s.opts.Logger.Warn("loading flash session", err)
		return
	}
	sess.AddFlash(msg, kind)
	if err = sess.Save(ctx.Request(), ctx.Response()); err != nil {
		s.opts.Logger.Warn("saving flash session", err)
	}
}

// popFlashes returns and clears the pending flashes.
func (s *Server) popFlashes(ctx echo.Context) []Flash {
	sess, err := s.flashes.Get(ctx.Request(), flashSession)
	if err != nil && sess == nil {
		return nil
	}

	var flashes []Flash
	for _, kind := range flashKinds {
		for _, val := range sess.Flashes(kind) {
			if msg, ok := val.(string); ok {
				flashes = append(flashes, Flash{Kind: kind, Message: msg})
			}
		}
	}
	if len(flashes) > 0 {
		if err = sess.Save(ctx.Request(), ctx.Response()); err != nil {
			s.opts.Logger.Warn("saving flash session", err)
		}
	}
	return flashes
}
