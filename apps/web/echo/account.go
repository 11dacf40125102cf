package webapp

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/feedback360/core"
	"github.com/trezcool/feedback360/core/evaluation"
	"github.com/trezcool/feedback360/core/user"
)

type (
	loginForm struct {
		Email    string `form:"email"`
		Password string `form:"password"`
	}

	passwordResetForm struct {
		Email string `form:"email"`
	}

	profileForm struct {
		Name  string `form:"name"`
		Email string `form:"email"`
	}
)

func (s *Server) registerAuthRoutes() {
	s.app.GET("/", s.loginPage)
	s.app.POST("/", s.loginSubmit)
	s.app.POST("/logout", s.logoutSubmit)
	s.app.GET("/reset-password", s.passwordResetPage)
	s.app.POST("/reset-password", s.passwordResetSubmit)
	s.app.GET("/reset-password/confirm/:token", s.passwordResetConfirmPage)
	s.app.POST("/reset-password/confirm/:token", s.passwordResetConfirmSubmit)
}

func (s *Server) registerAccountRoutes() {
	s.app.GET("/home", s.home, requireLogin)
	s.app.GET("/perfil", s.profilePage, requireLogin)
	s.app.POST("/perfil", s.profileSubmit, requireLogin)
	s.app.POST("/perfil/senha", s.changePasswordSubmit, requireLogin)
	s.app.GET("/notificacoes", s.notificationsPage, requireLogin)
	s.app.POST("/notificacoes/lidas", s.markAllReadSubmit, requireLogin)
	s.app.POST("/notificacoes/:id/lida", s.markReadSubmit, requireLogin)
}

// Auth

func (s *Server) loginPage(ctx echo.Context) error {
	if _, ok := contextSession(ctx); ok {
		return s.redirect(ctx, "/home")
	}
	return s.render(ctx, "login", nil)
}

func (s *Server) loginSubmit(ctx echo.Context) error {
	var form loginForm
	if err := bind(ctx, &form); err != nil {
		return err
	}
	usr, err := s.opts.Users.Authenticate(ctx.Request().Context(), form.Email, form.Password)
	if err != nil {
		if core.IsValidation(err) {
			s.addFlash(ctx, flashDanger, "E-mail ou senha inválidos.")
			return s.redirect(ctx, "/")
		}
		return errors.Wrap(err, "authenticating")
	}
	if err = s.login(ctx, usr); err != nil {
		return errors.Wrap(err, "logging in")
	}
	s.addFlash(ctx, flashSuccess, "Bem-vindo, "+usr.Acct().Name+"!")
	return s.redirect(ctx, "/home")
}

func (s *Server) logoutSubmit(ctx echo.Context) error {
	s.logout(ctx)
	s.addFlash(ctx, flashInfo, "Você saiu da sua conta.")
	return s.redirect(ctx, "/")
}

func (s *Server) passwordResetPage(ctx echo.Context) error {
	return s.render(ctx, "password_reset", nil)
}

// passwordResetSubmit always reports success so that registered emails cannot be enumerated.
func (s *Server) passwordResetSubmit(ctx echo.Context) error {
	var form passwordResetForm
	if err := bind(ctx, &form); err != nil {
		return err
	}
	if err := s.opts.Users.RequestPasswordReset(ctx.Request().Context(), form.Email); err != nil && !core.IsNotFound(err) {
		return errors.Wrap(err, "requesting password reset")
	}
	s.addFlash(ctx, flashInfo, "Se o e-mail estiver cadastrado, você receberá um link para redefinir sua senha.")
	return s.redirect(ctx, "/")
}

func (s *Server) passwordResetConfirmPage(ctx echo.Context) error {
	token := ctx.Param("token")
	usr, err := s.opts.Users.GetByResetToken(ctx.Request().Context(), token)
	if err != nil {
		if core.IsValidation(err) {
			s.addFlash(ctx, flashDanger, "Link de redefinição inválido ou já utilizado.")
			return s.redirect(ctx, "/reset-password")
		}
		return errors.Wrap(err, "getting user by reset token")
	}
	return s.render(ctx, "password_reset_confirm", echo.Map{"Token": token, "Name": usr.Acct().Name})
}

func (s *Server) passwordResetConfirmSubmit(ctx echo.Context) error {
	var form user.ResetUserPassword
	if err := bind(ctx, &form); err != nil {
		return err
	}
	form.Token = ctx.Param("token")
	if err := s.opts.Users.ResetPassword(ctx.Request().Context(), form); err != nil {
		return err
	}
	s.addFlash(ctx, flashSuccess, "Senha redefinida. Entre com a nova senha.")
	return s.redirect(ctx, "/")
}

// Account

// home is the landing page of each role.
func (s *Server) home(ctx echo.Context) error {
	sess := mustSession(ctx)
	reqCtx := ctx.Request().Context()

	switch sess.Role {
	case user.RoleAdmin:
		return s.redirect(ctx, "/admin")
	case user.RoleStudent:
		acts, err := s.opts.Evaluations.StudentActivities(reqCtx, sess.ID)
		if err != nil {
			return errors.Wrap(err, "listing student activities")
		}
		var pending []evaluation.StudentActivity
		for _, act := range acts {
			if act.IsPending() {
				pending = append(pending, act)
			}
		}
		notifs, err := s.opts.Notifications.List(reqCtx, sess, true, 5)
		if err != nil {
			return errors.Wrap(err, "listing notifications")
		}
		return s.render(ctx, "home_student", echo.Map{"Activities": pending, "Notifications": notifs})
	default:
		classes, err := s.opts.Catalog.VisibleClasses(reqCtx, sess)
		if err != nil {
			return errors.Wrap(err, "listing classes")
		}
		items, err := s.opts.Evaluations.StaffActivities(reqCtx, sess, classes)
		if err != nil {
			return errors.Wrap(err, "listing activities")
		}
		return s.render(ctx, "home_staff", echo.Map{"Classes": classes, "Activities": items})
	}
}

func (s *Server) profilePage(ctx echo.Context) error {
	usr, _ := contextUser(ctx)
	return s.render(ctx, "profile", echo.Map{"User": usr.Acct()})
}

func (s *Server) profileSubmit(ctx echo.Context) error {
	var form profileForm
	if err := bind(ctx, &form); err != nil {
		return err
	}
	usr, _ := contextUser(ctx)
	uu := user.UpdateUser{Name: form.Name, Email: form.Email}
	if _, err := s.opts.Users.Update(ctx.Request().Context(), mustSession(ctx), usr.Role(), usr.Acct().ID, uu); err != nil {
		return err
	}
	s.addFlash(ctx, flashSuccess, "Perfil atualizado.")
	return s.redirect(ctx, "/perfil")
}

func (s *Server) changePasswordSubmit(ctx echo.Context) error {
	var form user.ChangePassword
	if err := bind(ctx, &form); err != nil {
		return err
	}
	if err := s.opts.Users.ChangePassword(ctx.Request().Context(), mustSession(ctx), form); err != nil {
		return err
	}
	s.addFlash(ctx, flashSuccess, "Senha alterada.")
	return s.redirect(ctx, "/perfil")
}

// Notifications

func (s *Server) notificationsPage(ctx echo.Context) error {
	unreadOnly := ctx.QueryParam("nao-lidas") != ""
	notifs, err := s.opts.Notifications.List(ctx.Request().Context(), mustSession(ctx), unreadOnly, 0)
	if err != nil {
		return errors.Wrap(err, "listing notifications")
	}
	return s.render(ctx, "notifications", echo.Map{"Notifications": notifs, "UnreadOnly": unreadOnly})
}

// markReadSubmit marks a notification read and follows its link.
func (s *Server) markReadSubmit(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	n, err := s.opts.Notifications.MarkRead(ctx.Request().Context(), mustSession(ctx), id)
	if err != nil {
		return err
	}
	if n.Link.Valid && n.Link.String != "" {
		return s.redirect(ctx, n.Link.String)
	}
	return s.redirect(ctx, "/notificacoes")
}

func (s *Server) markAllReadSubmit(ctx echo.Context) error {
	if err := s.opts.Notifications.MarkAllRead(ctx.Request().Context(), mustSession(ctx)); err != nil {
		return err
	}
	s.addFlash(ctx, flashSuccess, "Todas as notificações foram marcadas como lidas.")
	return s.redirect(ctx, "/notificacoes")
}
