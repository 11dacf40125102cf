package webapp

import (
	"fmt"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/feedback360/core"
	"github.com/trezcool/feedback360/core/evaluation"
)

const (
	dueDateField  = "due_date"
	dueDateLayout = "2006-01-02"

	xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

func (s *Server) registerProfessorRoutes() {
	s.app.GET("/criar-atividade", s.activityFormPage, requireStaff)
	s.app.POST("/criar-atividade", s.activityCreateSubmit, requireStaff)
	s.app.GET("/atividade/:id/editar", s.activityFormPage, requireStaff)
	s.app.POST("/atividade/:id/editar", s.activityUpdateSubmit, requireStaff)
	s.app.POST("/atividade/:id/excluir", s.activityDeleteSubmit, requireStaff)
	s.app.GET("/atividade/:id/relatorio", s.activityReport, requireStaff)
	s.app.GET("/criar-grupo/:id", s.groupFormPage, requireStaff)
	s.app.POST("/criar-grupo/:id", s.groupCreateSubmit, requireStaff)
	s.app.POST("/grupo/:id/excluir", s.groupDeleteSubmit, requireStaff)
}

// bindActivity binds the activity form. The due date is a plain date, due at the end of the day.
func bindActivity(ctx echo.Context) (evaluation.NewActivity, error) {
	var na evaluation.NewActivity
	if err := bind(ctx, &na); err != nil {
		return na, err
	}
	if raw := strings.TrimSpace(ctx.FormValue(dueDateField)); raw != "" {
		due, err := time.ParseInLocation(dueDateLayout, raw, time.Local)
		if err != nil {
			return na, core.NewValidationError(nil, core.FieldError{Field: dueDateField, Error: "data inválida"})
		}
		na.DueDate = due.Add(24*time.Hour - time.Second)
	}
	return na, nil
}

// activityFormPage renders the activity form, empty or filled with the activity to edit.
func (s *Server) activityFormPage(ctx echo.Context) error {
	sess := mustSession(ctx)
	reqCtx := ctx.Request().Context()

	data := echo.Map{"ClassID": queryInt(ctx, "turma"), "Selected": []int(nil)}
	if ctx.Param("id") != "" {
		id, err := paramID(ctx, "id")
		if err != nil {
			return err
		}
		ov, err := s.opts.Evaluations.ActivityOverview(reqCtx, sess, id)
		if err != nil {
			return err
		}
		data["Activity"] = ov.Activity
		data["ClassID"] = ov.Activity.ClassID
		data["Selected"] = ov.Activity.CompetencyIDs
	}

	classes, err := s.opts.Catalog.VisibleClasses(reqCtx, sess)
	if err != nil {
		return errors.Wrap(err, "listing classes")
	}
	comps, err := s.opts.Catalog.QueryCompetencies(reqCtx)
	if err != nil {
		return errors.Wrap(err, "listing competencies")
	}
	data["Classes"] = classes
	data["Competencies"] = comps
	return s.render(ctx, "activity_form", data)
}

func (s *Server) activityCreateSubmit(ctx echo.Context) error {
	na, err := bindActivity(ctx)
	if err != nil {
		return err
	}
	act, err := s.opts.Evaluations.CreateActivity(ctx.Request().Context(), mustSession(ctx), na)
	if err != nil {
		return err
	}
	s.addFlash(ctx, flashSuccess, fmt.Sprintf("Atividade %q criada.", act.Title))
	return s.redirect(ctx, fmt.Sprintf("/atividade/%d", act.ID))
}

func (s *Server) activityUpdateSubmit(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	na, err := bindActivity(ctx)
	if err != nil {
		return err
	}
	act, err := s.opts.Evaluations.UpdateActivity(ctx.Request().Context(), mustSession(ctx), id, na)
	if err != nil {
		return err
	}
	s.addFlash(ctx, flashSuccess, fmt.Sprintf("Atividade %q atualizada.", act.Title))
	return s.redirect(ctx, fmt.Sprintf("/atividade/%d", act.ID))
}

func (s *Server) activityDeleteSubmit(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	if err = s.opts.Evaluations.DeleteActivity(ctx.Request().Context(), mustSession(ctx), id); err != nil {
		return err
	}
	s.addFlash(ctx, flashSuccess, "Atividade excluída.")
	return s.redirect(ctx, "/atividades")
}

// activityReport renders the activity report, or downloads it as a workbook with ?formato=xlsx.
func (s *Server) activityReport(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	rep, err := s.opts.Evaluations.ActivityReport(ctx.Request().Context(), mustSession(ctx), id)
	if err != nil {
		return err
	}

	if ctx.QueryParam("formato") == "xlsx" {
		res := ctx.Response()
		res.Header().Set(echo.HeaderContentType, xlsxMIME)
		res.Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", rep.Filename()))
		return errors.Wrap(rep.WriteXLSX(res), "writing report")
	}
	return s.render(ctx, "report", echo.Map{"Report": rep})
}

func (s *Server) groupFormPage(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	ov, err := s.opts.Evaluations.ActivityOverview(ctx.Request().Context(), mustSession(ctx), id)
	if err != nil {
		return err
	}
	return s.render(ctx, "group_form", echo.Map{"Overview": ov})
}

func (s *Server) groupCreateSubmit(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	var ng evaluation.NewGroup
	if err = bind(ctx, &ng); err != nil {
		return err
	}
	grp, err := s.opts.Evaluations.CreateGroup(ctx.Request().Context(), mustSession(ctx), id, ng)
	if err != nil {
		return err
	}
	s.addFlash(ctx, flashSuccess, fmt.Sprintf("Grupo %q criado com %d alunos.", grp.Name, len(grp.MemberIDs)))
	return s.redirect(ctx, fmt.Sprintf("/atividade/%d", id))
}

func (s *Server) groupDeleteSubmit(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	grp, err := s.opts.Evaluations.DeleteGroup(ctx.Request().Context(), mustSession(ctx), id)
	if err != nil {
		return err
	}
	s.addFlash(ctx, flashSuccess, fmt.Sprintf("Grupo %q excluído.", grp.Name))
	return s.redirect(ctx, fmt.Sprintf("/atividade/%d", grp.ActivityID))
}
