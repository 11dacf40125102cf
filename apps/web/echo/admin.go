package webapp

import (
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/feedback360/core"
	"github.com/trezcool/feedback360/core/catalog"
	"github.com/trezcool/feedback360/core/user"
)

const importFileField = "arquivo"

var userOrdering = []string{"name", "email", "created_at"}

func (s *Server) registerAdminRoutes() {
	g := s.app.Group("/admin", requireStaff)
	g.GET("", s.adminDashboard)

	ug := g.Group("/usuarios", requireRole(user.RoleAdmin))
	ug.GET("/:role", s.usersPage)
	ug.POST("/:role", s.userCreateSubmit)
	ug.GET("/:role/:id", s.userEditPage)
	ug.POST("/:role/:id", s.userUpdateSubmit)
	ug.POST("/:role/:id/excluir", s.userDeleteSubmit)
	ug.POST("/:role/:id/reset", s.userPasswordResetSubmit)

	g.GET("/importar", s.importPage, requireRole(user.RoleAdmin))
	g.POST("/importar", s.importSubmit, requireRole(user.RoleAdmin))

	s.registerCatalogRoutes(g)
}

func (s *Server) adminDashboard(ctx echo.Context) error {
	sess := mustSession(ctx)
	reqCtx := ctx.Request().Context()

	counts := make(map[user.Role]int, len(user.LoginPrecedence))
	if sess.IsAdmin() {
		for _, role := range user.LoginPrecedence {
			n, err := s.opts.Users.Count(reqCtx, role)
			if err != nil {
				return errors.Wrapf(err, "counting %s", role)
			}
			counts[role] = n
		}
	}
	courses, err := s.opts.Catalog.QueryCourses(reqCtx)
	if err != nil {
		return errors.Wrap(err, "listing courses")
	}
	classes, err := s.opts.Catalog.VisibleClasses(reqCtx, sess)
	if err != nil {
		return errors.Wrap(err, "listing classes")
	}
	comps, err := s.opts.Catalog.QueryCompetencies(reqCtx)
	if err != nil {
		return errors.Wrap(err, "listing competencies")
	}
	return s.render(ctx, "admin_dashboard", echo.Map{
		"UserCounts":   counts,
		"Courses":      len(courses),
		"Classes":      len(classes),
		"Competencies": len(comps),
	})
}

// Users

func roleParam(ctx echo.Context) (user.Role, error) {
	role, err := user.ParseRole(ctx.Param("role"))
	if err != nil {
		return "", echo.ErrNotFound
	}
	return role, nil
}

func (s *Server) usersPage(ctx echo.Context) error {
	role, err := roleParam(ctx)
	if err != nil {
		return err
	}
	reqCtx := ctx.Request().Context()

	var filter user.QueryFilter
	if err = ctx.Bind(&filter); err != nil {
		return core.NewValidationError(errors.New("filtro inválido"))
	}
	ordering := core.ParseOrdering(ctx.QueryParam("ordering"), userOrdering...)
	users, err := s.opts.Users.Query(reqCtx, role, &filter, ordering)
	if err != nil {
		return errors.Wrapf(err, "querying %s", role)
	}
	courses, err := s.opts.Catalog.QueryCourses(reqCtx)
	if err != nil {
		return errors.Wrap(err, "listing courses")
	}
	return s.render(ctx, "admin_users", echo.Map{
		"Role":    role,
		"Users":   userRows(users, courseNames(courses)),
		"Filter":  filter,
		"Courses": courses,
	})
}

func (s *Server) userCreateSubmit(ctx echo.Context) error {
	role, err := roleParam(ctx)
	if err != nil {
		return err
	}
	var nu user.NewUser
	if err = bind(ctx, &nu); err != nil {
		return err
	}
	nu.Role = role
	usr, err := s.opts.Users.Create(ctx.Request().Context(), mustSession(ctx), nu)
	if err != nil {
		return err
	}
	s.addFlash(ctx, flashSuccess, fmt.Sprintf("%s %q criado.", role.Label(), usr.Acct().Name))
	return s.redirect(ctx, "/admin/usuarios/"+string(role))
}

func (s *Server) userEditPage(ctx echo.Context) error {
	role, err := roleParam(ctx)
	if err != nil {
		return err
	}
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	reqCtx := ctx.Request().Context()
	usr, err := s.opts.Users.Get(reqCtx, role, id)
	if err != nil {
		return err
	}
	courses, err := s.opts.Catalog.QueryCourses(reqCtx)
	if err != nil {
		return errors.Wrap(err, "listing courses")
	}

	data := echo.Map{"Role": role, "User": usr.Acct(), "Courses": courses}
	switch u := usr.(type) {
	case *user.Student:
		data["EnrollmentNumber"] = u.EnrollmentNumber
		data["CourseID"] = u.CourseID
	case *user.Coordinator:
		data["CourseID"] = u.CourseID.Int
	}
	return s.render(ctx, "admin_user_edit", data)
}

func (s *Server) userUpdateSubmit(ctx echo.Context) error {
	role, err := roleParam(ctx)
	if err != nil {
		return err
	}
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	var uu user.UpdateUser
	if err = bind(ctx, &uu); err != nil {
		return err
	}
	usr, err := s.opts.Users.Update(ctx.Request().Context(), mustSession(ctx), role, id, uu)
	if err != nil {
		return err
	}
	s.addFlash(ctx, flashSuccess, fmt.Sprintf("%s %q atualizado.", role.Label(), usr.Acct().Name))
	return s.redirect(ctx, "/admin/usuarios/"+string(role))
}

func (s *Server) userDeleteSubmit(ctx echo.Context) error {
	role, err := roleParam(ctx)
	if err != nil {
		return err
	}
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	if err = s.opts.Users.Delete(ctx.Request().Context(), mustSession(ctx), role, id); err != nil {
		return err
	}
	s.addFlash(ctx, flashSuccess, role.Label()+" excluído.")
	return s.redirect(ctx, "/admin/usuarios/"+string(role))
}

// userPasswordResetSubmit mails a password reset link to an account.
func (s *Server) userPasswordResetSubmit(ctx echo.Context) error {
	role, err := roleParam(ctx)
	if err != nil {
		return err
	}
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	reqCtx := ctx.Request().Context()
	usr, err := s.opts.Users.Get(reqCtx, role, id)
	if err != nil {
		return err
	}
	if err = s.opts.Users.SendPasswordReset(reqCtx, usr); err != nil {
		return errors.Wrap(err, "sending password reset")
	}
	s.addFlash(ctx, flashSuccess, "Link de redefinição enviado para "+usr.Acct().Email+".")
	return s.redirect(ctx, fmt.Sprintf("/admin/usuarios/%s/%d", role, id))
}

// Import

func (s *Server) importPage(ctx echo.Context) error {
	return s.render(ctx, "admin_import", echo.Map{"Layouts": importLayouts()})
}

type importLayout struct {
	Role    user.Role
	Columns []string
}

func importLayouts() []importLayout {
	var layouts []importLayout
	for _, role := range user.LoginPrecedence {
		if cols := user.ImportColumns(role); cols != nil {
			layouts = append(layouts, importLayout{Role: role, Columns: cols})
		}
	}
	return layouts
}

func (s *Server) importSubmit(ctx echo.Context) error {
	role, err := user.ParseRole(ctx.FormValue("role"))
	if err != nil {
		return err
	}
	fh, err := ctx.FormFile(importFileField)
	if err != nil {
		return core.NewValidationError(nil, core.FieldError{Field: importFileField, Error: "selecione um arquivo"})
	}
	f, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening uploaded file")
	}
	defer f.Close()

	report, err := s.opts.Users.Import(ctx.Request().Context(), mustSession(ctx), role, f, fh.Filename)
	if err != nil {
		return err
	}
	if len(report.Errors) == 0 {
		s.addFlash(ctx, flashSuccess, fmt.Sprintf("%d contas criadas.", len(report.Created)))
	} else {
		s.addFlash(ctx, flashWarning, fmt.Sprintf("%d de %d linhas importadas.", len(report.Created), report.Total()))
	}
	return s.render(ctx, "admin_import", echo.Map{"Layouts": importLayouts(), "Report": report})
}

// userRow flattens a User for listing.
type userRow struct {
	ID               int
	Name             string
	Email            string
	EnrollmentNumber string
	Course           string
	CreatedAt        time.Time
}

func userRows(users []user.User, courses map[int]string) []userRow {
	rows := make([]userRow, 0, len(users))
	for _, usr := range users {
		acct := usr.Acct()
		row := userRow{ID: acct.ID, Name: acct.Name, Email: acct.Email, CreatedAt: acct.CreatedAt}
		switch u := usr.(type) {
		case *user.Student:
			row.EnrollmentNumber = u.EnrollmentNumber
			row.Course = courses[u.CourseID]
		case *user.Coordinator:
			if u.CourseID.Valid {
				row.Course = courses[u.CourseID.Int]
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// courseNames maps course ids to names.
func courseNames(courses []catalog.Course) map[int]string {
	names := make(map[int]string, len(courses))
	for _, c := range courses {
		names[c.ID] = c.Name
	}
	return names
}
