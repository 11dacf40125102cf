package webapp

import (
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/feedback360/core/evaluation"
	"github.com/trezcool/feedback360/core/user"
	appfs "github.com/trezcool/feedback360/fs"
)

const (
	templatesDir = "assets/templates/web"
	layoutFile   = "_layout.gohtml"
	csrfField    = "csrf"
)

var templateFuncs = template.FuncMap{
	"date":      func(t time.Time) string { return t.Local().Format("02/01/2006") },
	"datetime":  func(t time.Time) string { return t.Local().Format("02/01/2006 15:04") },
	"inputDate": func(t time.Time) string { return t.Format("2006-01-02") },
	"ratings":   func() []int { return ratingScale },
	"hasInt":    hasInt,
	"score":     scoreOf,
	"avg":       func(v float64) string { return fmt.Sprintf("%.2f", v) },
	"avgOf":     avgOf,
	"roleLabel": func(r user.Role) string { return r.Label() },
	"roles":     func() []user.Role { return user.LoginPrecedence },
	"add":       func(a, b int) int { return a + b },
	"overdue":   func(t time.Time) bool { return time.Now().After(t) },
	"dict":      dict,
}

var ratingScale = func() []int {
	scale := make([]int, 0, evaluation.MaxRating-evaluation.MinRating+1)
	for r := evaluation.MinRating; r <= evaluation.MaxRating; r++ {
		scale = append(scale, r)
	}
	return scale
}()

func hasInt(ids []int, id int) bool {
	for _, i := range ids {
		if i == id {
			return true
		}
	}
	return false
}

// dict builds a map from key/value pairs, to pass several values to a partial.
func dict(pairs ...interface{}) (map[string]interface{}, error) {
	if len(pairs)%2 != 0 {
		return nil, errors.New("dict: odd number of arguments")
	}
	m := make(map[string]interface{}, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			return nil, errors.Errorf("dict: key %v is not a string", pairs[i])
		}
		m[key] = pairs[i+1]
	}
	return m, nil
}

// avgOf formats the average of id in m, or "-" when there is none.
func avgOf(m map[int]float64, id int) string {
	if v, ok := m[id]; ok {
		return fmt.Sprintf("%.2f", v)
	}
	return "-"
}

// scoreOf returns the rating given to a competency, or 0.
func scoreOf(scores []evaluation.Score, competencyID int) int {
	for _, sc := range scores {
		if sc.CompetencyID == competencyID {
			return sc.Rating
		}
	}
	return 0
}

// renderer renders the pages of templatesDir. Every page is parsed along with the layout and the
// partials (files starting with "_"), and defines the "title" and "content" templates.
type renderer struct {
	pages map[string]*template.Template
}

func newRenderer() (*renderer, error) {
	return parsePages(appfs.FS, templatesDir)
}

func parsePages(fsys fs.FS, dir string) (*renderer, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	var shared, pages []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || path.Ext(name) != ".gohtml" {
			continue
		}
		if strings.HasPrefix(name, "_") {
			shared = append(shared, path.Join(dir, name))
		} else {
			pages = append(pages, name)
		}
	}

	r := &renderer{pages: make(map[string]*template.Template, len(pages))}
	for _, page := range pages {
		files := append(append([]string{}, shared...), path.Join(dir, page))
		tmpl, err := template.New(layoutFile).Funcs(templateFuncs).ParseFS(fsys, files...)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %s", page)
		}
		r.pages[strings.TrimSuffix(page, ".gohtml")] = tmpl
	}
	return r, nil
}

func (r *renderer) Render(w io.Writer, name string, data interface{}, _ echo.Context) error {
	tmpl, ok := r.pages[name]
	if !ok {
		return errors.Errorf("template %q not found", name)
	}
	return tmpl.ExecuteTemplate(w, "base", data)
}

// viewData is the root object of every page.
type viewData struct {
	AppName   string
	Session   *user.Session
	Flashes   []Flash
	CSRF      string
	CSRFField string
	Unread    int
	Pending   int
	Path      string
	Data      echo.Map
}

func (s *Server) render(ctx echo.Context, name string, data echo.Map) error {
	return s.renderStatus(ctx, http.StatusOK, name, data)
}

func (s *Server) renderStatus(ctx echo.Context, code int, name string, data echo.Map) error {
	if data == nil {
		data = echo.Map{}
	}
	vd := viewData{
		AppName:   s.opts.Conf.AppName,
		CSRFField: csrfField,
		Path:      ctx.Request().URL.Path,
		Data:      data,
	}
	if token, ok := ctx.Get("csrf").(string); ok {
		vd.CSRF = token
	}

	if sess, ok := contextSession(ctx); ok {
		vd.Session = &sess
		reqCtx := ctx.Request().Context()
		unread, err := s.opts.Notifications.UnreadCount(reqCtx, sess)
		if err != nil {
			return errors.Wrap(err, "counting unread notifications")
		}
		vd.Unread = unread
		if sess.IsStudent() {
			pending, err := s.opts.Evaluations.Pending(reqCtx, sess.ID)
			if err != nil {
				return errors.Wrap(err, "counting pending evaluations")
			}
			vd.Pending = pending.Total
		}
	}
	vd.Flashes = s.popFlashes(ctx)

	return ctx.Render(code, name, vd)
}
