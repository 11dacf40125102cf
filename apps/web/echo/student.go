package webapp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/feedback360/core"
	"github.com/trezcool/feedback360/core/user"
)

// ratingFieldPrefix prefixes the rating fields of the evaluation form: competency_<id>.
const ratingFieldPrefix = "competency_"

func (s *Server) registerStudentRoutes() {
	s.app.GET("/atividades", s.activitiesPage, requireLogin)
	s.app.GET("/atividade/:id", s.activityPage, requireLogin)

	student := requireRole(user.RoleStudent)
	s.app.GET("/avaliar/:id", s.evaluationPage, student)
	s.app.POST("/avaliar/:id", s.evaluationSubmit, student)
	s.app.POST("/autoavaliacao/:id", s.selfAssessmentSubmit, student)
	s.app.GET("/notas", s.gradesPage, student)
}

// activitiesPage lists the activities of a student, or of the classes of a staff member.
func (s *Server) activitiesPage(ctx echo.Context) error {
	sess := mustSession(ctx)
	reqCtx := ctx.Request().Context()

	if sess.IsStudent() {
		acts, err := s.opts.Evaluations.StudentActivities(reqCtx, sess.ID)
		if err != nil {
			return errors.Wrap(err, "listing student activities")
		}
		return s.render(ctx, "student_activities", echo.Map{"Activities": acts})
	}

	classes, err := s.opts.Catalog.VisibleClasses(reqCtx, sess)
	if err != nil {
		return errors.Wrap(err, "listing classes")
	}
	items, err := s.opts.Evaluations.StaffActivities(reqCtx, sess, classes)
	if err != nil {
		return errors.Wrap(err, "listing activities")
	}
	return s.render(ctx, "staff_activities", echo.Map{"Activities": items})
}

func (s *Server) activityPage(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	sess := mustSession(ctx)
	reqCtx := ctx.Request().Context()

	if sess.IsStudent() {
		detail, err := s.opts.Evaluations.StudentActivityDetail(reqCtx, sess, id)
		if err != nil {
			return err
		}
		return s.render(ctx, "student_activity", echo.Map{"Detail": detail})
	}

	overview, err := s.opts.Evaluations.ActivityOverview(reqCtx, sess, id)
	if err != nil {
		return err
	}
	return s.render(ctx, "activity_overview", echo.Map{"Overview": overview})
}

func (s *Server) evaluationPage(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	form, err := s.opts.Evaluations.EvaluationForm(ctx.Request().Context(), mustSession(ctx), id)
	if err != nil {
		return err
	}
	return s.render(ctx, "evaluate", echo.Map{"Form": form, "FieldPrefix": ratingFieldPrefix})
}

func (s *Server) evaluationSubmit(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	ratings, err := parseRatings(ctx)
	if err != nil {
		return err
	}

	sess := mustSession(ctx)
	reqCtx := ctx.Request().Context()
	if err = s.opts.Evaluations.SubmitScores(reqCtx, sess, id, ratings); err != nil {
		return err
	}
	s.addFlash(ctx, flashSuccess, "Avaliação enviada com sucesso.")

	ev, err := s.opts.Evaluations.EvaluationForm(reqCtx, sess, id)
	if err != nil {
		return errors.Wrap(err, "getting submitted evaluation")
	}
	return s.redirect(ctx, fmt.Sprintf("/atividade/%d", ev.Activity.ID))
}

// parseRatings reads the competency_<id> fields of the evaluation form.
func parseRatings(ctx echo.Context) (map[int]int, error) {
	params, err := ctx.FormParams()
	if err != nil {
		return nil, errors.Wrap(err, "parsing form")
	}

	ratings := make(map[int]int)
	var flds []core.FieldError
	for name, vals := range params {
		if !strings.HasPrefix(name, ratingFieldPrefix) || len(vals) == 0 {
			continue
		}
		cid, err := strconv.Atoi(strings.TrimPrefix(name, ratingFieldPrefix))
		if err != nil || cid <= 0 {
			flds = append(flds, core.FieldError{Field: name, Error: "competência desconhecida"})
			continue
		}
		rating, err := strconv.Atoi(strings.TrimSpace(vals[0]))
		if err != nil {
			flds = append(flds, core.FieldError{Field: name, Error: "a nota deve ser um número"})
			continue
		}
		ratings[cid] = rating
	}
	if len(flds) > 0 {
		return nil, core.NewValidationError(nil, flds...)
	}
	return ratings, nil
}

func (s *Server) selfAssessmentSubmit(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	ev, err := s.opts.Evaluations.EnsureSelfAssessment(ctx.Request().Context(), mustSession(ctx), id)
	if err != nil {
		return err
	}
	return s.redirect(ctx, fmt.Sprintf("/avaliar/%d", ev.ID))
}

func (s *Server) gradesPage(ctx echo.Context) error {
	grades, err := s.opts.Evaluations.StudentGrades(ctx.Request().Context(), mustSession(ctx).ID)
	if err != nil {
		return errors.Wrap(err, "computing grades")
	}
	return s.render(ctx, "grades", echo.Map{"Grades": grades})
}
