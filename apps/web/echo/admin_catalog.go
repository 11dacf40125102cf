package webapp

import (
	"fmt"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/feedback360/core/catalog"
	"github.com/trezcool/feedback360/core/user"
)

// editParam is the query parameter selecting the entity to edit on a listing page.
const editParam = "editar"

func (s *Server) registerCatalogRoutes(g *echo.Group) {
	g.GET("/cursos", s.coursesPage)
	g.POST("/cursos", s.courseCreateSubmit)
	g.POST("/cursos/:id", s.courseUpdateSubmit)
	g.POST("/cursos/:id/excluir", s.courseDeleteSubmit)

	g.GET("/disciplinas", s.disciplinesPage)
	g.POST("/disciplinas", s.disciplineCreateSubmit)
	g.POST("/disciplinas/:id", s.disciplineUpdateSubmit)
	g.POST("/disciplinas/:id/excluir", s.disciplineDeleteSubmit)

	g.GET("/semestres", s.termsPage)
	g.POST("/semestres", s.termCreateSubmit)
	g.POST("/semestres/:id/excluir", s.termDeleteSubmit)

	g.GET("/turmas", s.classesPage)
	g.POST("/turmas", s.classCreateSubmit)
	g.POST("/turmas/:id", s.classUpdateSubmit)
	g.POST("/turmas/:id/excluir", s.classDeleteSubmit)
	g.GET("/turmas/:id/alunos", s.classStudentsPage)
	g.POST("/turmas/:id/alunos", s.enrollSubmit)
	g.POST("/turmas/:id/alunos/:student/excluir", s.unenrollSubmit)

	g.GET("/competencias", s.competenciesPage)
	g.POST("/competencias", s.competencyCreateSubmit)
	g.POST("/competencias/:id", s.competencyUpdateSubmit)
	g.POST("/competencias/:id/excluir", s.competencyDeleteSubmit)
}

// Courses

func (s *Server) coursesPage(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	courses, err := s.opts.Catalog.QueryCourses(reqCtx)
	if err != nil {
		return errors.Wrap(err, "listing courses")
	}
	data := echo.Map{"Courses": courses}
	if id := queryInt(ctx, editParam); id > 0 {
		course, err := s.opts.Catalog.GetCourse(reqCtx, id)
		if err != nil {
			return err
		}
		data["Edit"] = course
	}
	return s.render(ctx, "admin_courses", data)
}

func (s *Server) courseCreateSubmit(ctx echo.Context) error {
	var nc catalog.NewCourse
	if err := bind(ctx, &nc); err != nil {
		return err
	}
	course, err := s.opts.Catalog.CreateCourse(ctx.Request().Context(), mustSession(ctx), nc)
	if err != nil {
		return err
	}
	s.addFlash(ctx, flashSuccess, fmt.Sprintf("Curso %q criado.", course.Name))
	return s.redirect(ctx, "/admin/cursos")
}

func (s *Server) courseUpdateSubmit(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	var nc catalog.NewCourse
	if err = bind(ctx, &nc); err != nil {
		return err
	}
	course, err := s.opts.Catalog.UpdateCourse(ctx.Request().Context(), mustSession(ctx), id, nc)
	if err != nil {
		return err
	}
	s.addFlash(ctx, flashSuccess, fmt.Sprintf("Curso %q atualizado.", course.Name))
	return s.redirect(ctx, "/admin/cursos")
}

func (s *Server) courseDeleteSubmit(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	if err = s.opts.Catalog.DeleteCourse(ctx.Request().Context(), mustSession(ctx), id); err != nil {
		return err
	}
	s.addFlash(ctx, flashSuccess, "Curso excluído.")
	return s.redirect(ctx, "/admin/cursos")
}

// Disciplines

func (s *Server) disciplinesPage(ctx echo.Context) error {
	sess := mustSession(ctx)
	reqCtx := ctx.Request().Context()

	var filter catalog.DisciplineFilter
	cid, err := s.opts.Catalog.CoordinatorCourse(reqCtx, sess)
	if err != nil {
		return errors.Wrap(err, "getting coordinator course")
	}
	filter.CourseID = cid
	discs, err := s.opts.Catalog.QueryDisciplines(reqCtx, filter)
	if err != nil {
		return errors.Wrap(err, "listing disciplines")
	}
	courses, err := s.opts.Catalog.QueryCourses(reqCtx)
	if err != nil {
		return errors.Wrap(err, "listing courses")
	}
	data := echo.Map{"Disciplines": discs, "Courses": courses}
	if id := queryInt(ctx, editParam); id > 0 {
		disc, err := s.opts.Catalog.GetDiscipline(reqCtx, id)
		if err != nil {
			return err
		}
		data["Edit"] = disc
	}
	return s.render(ctx, "admin_disciplines", data)
}

func (s *Server) disciplineCreateSubmit(ctx echo.Context) error {
	var nd catalog.NewDiscipline
	if err := bind(ctx, &nd); err != nil {
		return err
	}
	disc, err := s.opts.Catalog.CreateDiscipline(ctx.Request().Context(), mustSession(ctx), nd)
	if err != nil {
		return err
	}
	s.addFlash(ctx, flashSuccess, fmt.Sprintf("Disciplina %q criada.", disc.Name))
	return s.redirect(ctx, "/admin/disciplinas")
}

func (s *Server) disciplineUpdateSubmit(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	var nd catalog.NewDiscipline
	if err = bind(ctx, &nd); err != nil {
		return err
	}
	disc, err := s.opts.Catalog.UpdateDiscipline(ctx.Request().Context(), mustSession(ctx), id, nd)
	if err != nil {
		return err
	}
	s.addFlash(ctx, flashSuccess, fmt.Sprintf("Disciplina %q atualizada.", disc.Name))
	return s.redirect(ctx, "/admin/disciplinas")
}

func (s *Server) disciplineDeleteSubmit(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	if err = s.opts.Catalog.DeleteDiscipline(ctx.Request().Context(), mustSession(ctx), id); err != nil {
		return err
	}
	s.addFlash(ctx, flashSuccess, "Disciplina excluída.")
	return s.redirect(ctx, "/admin/disciplinas")
}

// Terms

func (s *Server) termsPage(ctx echo.Context) error {
	terms, err := s.opts.Catalog.QueryTerms(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "listing terms")
	}
	return s.render(ctx, "admin_terms", echo.Map{"Terms": terms})
}

func (s *Server) termCreateSubmit(ctx echo.Context) error {
	var nt catalog.NewTerm
	if err := bind(ctx, &nt); err != nil {
		return err
	}
	term, err := s.opts.Catalog.CreateTerm(ctx.Request().Context(), mustSession(ctx), nt)
	if err != nil {
		return err
	}
	s.addFlash(ctx, flashSuccess, fmt.Sprintf("Semestre %s criado.", term))
	return s.redirect(ctx, "/admin/semestres")
}

func (s *Server) termDeleteSubmit(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	if err = s.opts.Catalog.DeleteTerm(ctx.Request().Context(), mustSession(ctx), id); err != nil {
		return err
	}
	s.addFlash(ctx, flashSuccess, "Semestre excluído.")
	return s.redirect(ctx, "/admin/semestres")
}

// Classes

func (s *Server) classesPage(ctx echo.Context) error {
	sess := mustSession(ctx)
	reqCtx := ctx.Request().Context()

	classes, err := s.opts.Catalog.VisibleClasses(reqCtx, sess)
	if err != nil {
		return errors.Wrap(err, "listing classes")
	}
	cid, err := s.opts.Catalog.CoordinatorCourse(reqCtx, sess)
	if err != nil {
		return errors.Wrap(err, "getting coordinator course")
	}
	discs, err := s.opts.Catalog.QueryDisciplines(reqCtx, catalog.DisciplineFilter{CourseID: cid})
	if err != nil {
		return errors.Wrap(err, "listing disciplines")
	}
	terms, err := s.opts.Catalog.QueryTerms(reqCtx)
	if err != nil {
		return errors.Wrap(err, "listing terms")
	}
	profs, err := s.opts.Users.Query(reqCtx, user.RoleProfessor, nil, nil)
	if err != nil {
		return errors.Wrap(err, "listing professors")
	}

	data := echo.Map{
		"Classes":     classes,
		"Disciplines": discs,
		"Terms":       terms,
		"Professors":  userRows(profs, nil),
	}
	if id := queryInt(ctx, editParam); id > 0 {
		class, err := s.opts.Catalog.GetClass(reqCtx, id)
		if err != nil {
			return err
		}
		data["Edit"] = class
	}
	return s.render(ctx, "admin_classes", data)
}

func (s *Server) classCreateSubmit(ctx echo.Context) error {
	var nc catalog.NewClass
	if err := bind(ctx, &nc); err != nil {
		return err
	}
	class, err := s.opts.Catalog.CreateClass(ctx.Request().Context(), mustSession(ctx), nc)
	if err != nil {
		return err
	}
	s.addFlash(ctx, flashSuccess, fmt.Sprintf("Turma %s criada.", class.Label()))
	return s.redirect(ctx, "/admin/turmas")
}

func (s *Server) classUpdateSubmit(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	var nc catalog.NewClass
	if err = bind(ctx, &nc); err != nil {
		return err
	}
	class, err := s.opts.Catalog.UpdateClass(ctx.Request().Context(), mustSession(ctx), id, nc)
	if err != nil {
		return err
	}
	s.addFlash(ctx, flashSuccess, fmt.Sprintf("Turma %s atualizada.", class.Label()))
	return s.redirect(ctx, "/admin/turmas")
}

func (s *Server) classDeleteSubmit(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	if err = s.opts.Catalog.DeleteClass(ctx.Request().Context(), mustSession(ctx), id); err != nil {
		return err
	}
	s.addFlash(ctx, flashSuccess, "Turma excluída.")
	return s.redirect(ctx, "/admin/turmas")
}

// classStudentsPage lists the roster of a class and the students of its course that can be enrolled.
func (s *Server) classStudentsPage(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	reqCtx := ctx.Request().Context()
	class, err := s.opts.Catalog.GetClass(reqCtx, id)
	if err != nil {
		return err
	}
	if err = s.opts.Catalog.CanManageCourse(reqCtx, mustSession(ctx), class.CourseID); err != nil {
		return err
	}
	roster, err := s.opts.Catalog.Roster(reqCtx, id)
	if err != nil {
		return errors.Wrap(err, "getting roster")
	}
	students, err := s.opts.Users.Query(reqCtx, user.RoleStudent, &user.QueryFilter{CourseID: class.CourseID}, nil)
	if err != nil {
		return errors.Wrap(err, "listing students")
	}

	enrolled := make(map[int]bool, len(roster))
	for _, st := range roster {
		enrolled[st.ID] = true
	}
	var candidates []user.User
	for _, st := range students {
		if !enrolled[st.Acct().ID] {
			candidates = append(candidates, st)
		}
	}
	return s.render(ctx, "admin_class_students", echo.Map{
		"Class":      class,
		"Roster":     roster,
		"Candidates": userRows(candidates, nil),
	})
}

type enrollForm struct {
	StudentIDs []int `form:"student_ids"`
}

func (s *Server) enrollSubmit(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	var form enrollForm
	if err = bind(ctx, &form); err != nil {
		return err
	}
	sess := mustSession(ctx)
	reqCtx := ctx.Request().Context()
	for _, sid := range form.StudentIDs {
		if _, err = s.opts.Catalog.Enroll(reqCtx, sess, id, sid); err != nil {
			return err
		}
	}
	s.addFlash(ctx, flashSuccess, fmt.Sprintf("%d alunos matriculados.", len(form.StudentIDs)))
	return s.redirect(ctx, fmt.Sprintf("/admin/turmas/%d/alunos", id))
}

func (s *Server) unenrollSubmit(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	sid, err := paramID(ctx, "student")
	if err != nil {
		return err
	}
	if err = s.opts.Catalog.Unenroll(ctx.Request().Context(), mustSession(ctx), id, sid); err != nil {
		return err
	}
	s.addFlash(ctx, flashSuccess, "Matrícula removida.")
	return s.redirect(ctx, fmt.Sprintf("/admin/turmas/%d/alunos", id))
}

// Competencies

func (s *Server) competenciesPage(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	comps, err := s.opts.Catalog.QueryCompetencies(reqCtx)
	if err != nil {
		return errors.Wrap(err, "listing competencies")
	}
	data := echo.Map{"Competencies": comps}
	if id := queryInt(ctx, editParam); id > 0 {
		comp, err := s.opts.Catalog.GetCompetency(reqCtx, id)
		if err != nil {
			return err
		}
		data["Edit"] = comp
	}
	return s.render(ctx, "admin_competencies", data)
}

func (s *Server) competencyCreateSubmit(ctx echo.Context) error {
	var nc catalog.NewCompetency
	if err := bind(ctx, &nc); err != nil {
		return err
	}
	comp, err := s.opts.Catalog.CreateCompetency(ctx.Request().Context(), mustSession(ctx), nc)
	if err != nil {
		return err
	}
	s.addFlash(ctx, flashSuccess, fmt.Sprintf("Competência %q criada.", comp.Name))
	return s.redirect(ctx, "/admin/competencias")
}

func (s *Server) competencyUpdateSubmit(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	var nc catalog.NewCompetency
	if err = bind(ctx, &nc); err != nil {
		return err
	}
	comp, err := s.opts.Catalog.UpdateCompetency(ctx.Request().Context(), mustSession(ctx), id, nc)
	if err != nil {
		return err
	}
	s.addFlash(ctx, flashSuccess, fmt.Sprintf("Competência %q atualizada.", comp.Name))
	return s.redirect(ctx, "/admin/competencias")
}

func (s *Server) competencyDeleteSubmit(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	if err = s.opts.Catalog.DeleteCompetency(ctx.Request().Context(), mustSession(ctx), id); err != nil {
		return err
	}
	s.addFlash(ctx, flashSuccess, "Competência excluída.")
	return s.redirect(ctx, "/admin/competencias")
}
