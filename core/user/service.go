package user

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/mail"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/feedback360/core"
)

var (
	// errors
	ErrNotFound             = core.NewNotFoundError("user")
	ErrEmailExists          = errors.New("já existe uma conta com este e-mail")
	ErrEnrollmentExists     = errors.New("já existe um aluno com esta matrícula")
	ErrAuthenticationFailed = core.NewValidationError(errors.New("e-mail ou senha inválidos"))
	ErrInvalidResetToken    = core.NewValidationError(errors.New("link de redefinição de senha inválido ou já utilizado"))
	ErrWrongPassword        = core.NewValidationError(nil, core.FieldError{Field: "current_password", Error: "senha incorreta"})
	ErrLastAdmin            = core.NewPermissionError("deve existir pelo menos um administrador")
	ErrAccountInUse         = core.NewPermissionError("a conta é referenciada por outros registros")
	ErrSelfDelete           = core.NewPermissionError("você não pode excluir a própria conta")
	ErrAdminOnly            = core.NewPermissionError("apenas administradores podem gerenciar contas")

	nowFunc = time.Now // mockable
)

type (
	Repository interface {
		CheckEmailUniqueness(ctx context.Context, role Role, email string, excludeID int) error
		CheckEnrollmentNumberUniqueness(ctx context.Context, number string, excludeID int) error
		CreateUser(ctx context.Context, usr User) (User, error)
		UpdateUser(ctx context.Context, usr User) (User, error)
		GetUser(ctx context.Context, role Role, filter GetFilter) (User, error)
		QueryUsers(ctx context.Context, role Role, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error)
		CountUsers(ctx context.Context, role Role) (int, error)
		DeleteUser(ctx context.Context, role Role, id int) error
	}

	// DeletionGuard reports whether an account is still referenced by other records:
	// students by evaluations, professors by classes.
	DeletionGuard interface {
		AccountInUse(ctx context.Context, role Role, id int) (bool, error)
	}

	Service struct {
		repo      Repository
		guard     DeletionGuard
		mailSvc   core.EmailService
		validator *core.Validator
		conf      *core.Config
	}
)

func NewService(repo Repository, guard DeletionGuard, mailSvc core.EmailService, v *core.Validator, conf *core.Config) *Service {
	InitValidators(v)
	return &Service{
		repo:      repo,
		guard:     guard,
		mailSvc:   mailSvc,
		validator: v,
		conf:      conf,
	}
}

func (svc *Service) checkUniqueness(ctx context.Context, role Role, email, enrollment string, excludeID int) error {
	if err := svc.repo.CheckEmailUniqueness(ctx, role, email, excludeID); err != nil {
		if err == ErrEmailExists {
			return core.NewValidationError(err, core.FieldError{Field: "email", Error: err.Error()})
		}
		return errors.Wrap(err, "checking email uniqueness")
	}
	if role == RoleStudent && enrollment != "" {
		if err := svc.repo.CheckEnrollmentNumberUniqueness(ctx, enrollment, excludeID); err != nil {
			if err == ErrEnrollmentExists {
				return core.NewValidationError(err, core.FieldError{Field: "enrollment_number", Error: err.Error()})
			}
			return errors.Wrap(err, "checking enrollment number uniqueness")
		}
	}
	return nil
}

// Authenticate returns the first account, in LoginPrecedence order, matching email and password.
func (svc *Service) Authenticate(ctx context.Context, email, pwd string) (User, error) {
	email = core.CleanString(email, true /* lower */)
	if email == "" || pwd == "" {
		return nil, ErrAuthenticationFailed
	}
	for _, role := range LoginPrecedence {
		usr, err := svc.repo.GetUser(ctx, role, GetFilter{Email: email})
		if err != nil {
			if core.IsNotFound(err) {
				continue
			}
			return nil, errors.Wrapf(err, "finding %s by email", role)
		}
		if err = usr.Acct().CheckPassword(pwd); err != nil {
			continue
		}
		return usr, nil
	}
	return nil, ErrAuthenticationFailed
}

func (svc *Service) Get(ctx context.Context, role Role, id int) (User, error) {
	return svc.repo.GetUser(ctx, role, GetFilter{ID: id})
}

func (svc *Service) GetStudent(ctx context.Context, id int) (*Student, error) {
	usr, err := svc.Get(ctx, RoleStudent, id)
	if err != nil {
		return nil, err
	}
	return usr.(*Student), nil
}

func (svc *Service) Query(ctx context.Context, role Role, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error) {
	if filter != nil {
		filter.Clean()
	}
	return svc.repo.QueryUsers(ctx, role, filter, ordering)
}

func (svc *Service) Count(ctx context.Context, role Role) (int, error) {
	return svc.repo.CountUsers(ctx, role)
}

// Create validates nu and creates the account in the table of nu.Role. Only admins create accounts.
func (svc *Service) Create(ctx context.Context, sess Session, nu NewUser) (User, error) {
	if !sess.IsAdmin() {
		return nil, ErrAdminOnly
	}
	return svc.create(ctx, nu)
}

func (svc *Service) create(ctx context.Context, nu NewUser) (User, error) {
	nu.clean()
	if !nu.Role.Valid() {
		return nil, core.NewValidationError(nil, core.FieldError{Field: "role", Error: "perfil inválido"})
	}
	if err := svc.validator.Struct(nu); err != nil {
		return nil, err
	}
	if err := svc.checkUniqueness(ctx, nu.Role, nu.Email, nu.EnrollmentNumber, 0); err != nil {
		return nil, err
	}

	usr, err := New(nu.Role)
	if err != nil {
		return nil, err
	}
	now := nowFunc().UTC()
	acct := usr.Acct()
	acct.Name = nu.Name
	acct.Email = nu.Email
	acct.CreatedAt = now
	acct.UpdatedAt = now
	if err = acct.SetPassword(nu.Password); err != nil {
		return nil, errors.Wrap(err, "hashing password")
	}

	switch u := usr.(type) {
	case *Student:
		u.EnrollmentNumber = nu.EnrollmentNumber
		u.CourseID = nu.CourseID
	case *Coordinator:
		u.CourseID = null.NewInt(nu.CourseID, nu.CourseID > 0)
	case *Professor, *Admin:
	}
	return svc.repo.CreateUser(ctx, usr)
}

// CreateTrusted creates an account skipping the password policy and the admin check
// (CLI, bootstrap admin, bulk import).
func (svc *Service) CreateTrusted(ctx context.Context, nu NewUser) (User, error) {
	nu.skipPasswordPolicy = true
	nu.PasswordConfirm = nu.Password
	return svc.create(ctx, nu)
}

// Update changes an account. Admins update any account; everybody else may only change
// the name and email of their own.
func (svc *Service) Update(ctx context.Context, sess Session, role Role, id int, uu UpdateUser) (User, error) {
	admin := sess.IsAdmin()
	if !admin {
		if !sess.Is(role, id) {
			return nil, ErrAdminOnly
		}
		uu.EnrollmentNumber, uu.CourseID = "", 0
	}
	uu.clean()
	if err := svc.validator.Struct(uu); err != nil {
		return nil, err
	}
	usr, err := svc.Get(ctx, role, id)
	if err != nil {
		return nil, err
	}

	acct := usr.Acct()
	if uu.Name != "" {
		acct.Name = uu.Name
	}
	if uu.Email != "" {
		acct.Email = uu.Email
	}
	var enrollment string
	switch u := usr.(type) {
	case *Student:
		if uu.EnrollmentNumber != "" {
			u.EnrollmentNumber = uu.EnrollmentNumber
		}
		if uu.CourseID > 0 {
			u.CourseID = uu.CourseID
		}
		enrollment = u.EnrollmentNumber
	case *Coordinator:
		if admin {
			u.CourseID = null.NewInt(uu.CourseID, uu.CourseID > 0)
		}
	case *Professor, *Admin:
	}
	if err = svc.checkUniqueness(ctx, role, acct.Email, enrollment, id); err != nil {
		return nil, err
	}
	acct.UpdatedAt = nowFunc().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

// ChangePassword sets a new password after checking the current one.
func (svc *Service) ChangePassword(ctx context.Context, sess Session, cp ChangePassword) error {
	usr, err := svc.Get(ctx, sess.Role, sess.ID)
	if err != nil {
		return err
	}
	acct := usr.Acct()
	cp.name, cp.email = acct.Name, acct.Email
	if err = svc.validator.Struct(cp); err != nil {
		return err
	}
	if err = acct.CheckPassword(cp.CurrentPassword); err != nil {
		return ErrWrongPassword
	}
	return svc.SetPassword(ctx, usr, cp.Password)
}

// SetPassword sets pwd without applying the password policy and clears any pending reset token.
func (svc *Service) SetPassword(ctx context.Context, usr User, pwd string) error {
	acct := usr.Acct()
	if err := acct.SetPassword(pwd); err != nil {
		return errors.Wrap(err, "hashing password")
	}
	acct.ResetToken = null.String{}
	acct.UpdatedAt = nowFunc().UTC()
	_, err := svc.repo.UpdateUser(ctx, usr)
	return errors.Wrap(err, "updating user")
}

// Delete removes an account. The last admin, the current user, and accounts still referenced
// by other records cannot be deleted.
func (svc *Service) Delete(ctx context.Context, sess Session, role Role, id int) error {
	if !sess.IsAdmin() {
		return ErrAdminOnly
	}
	if sess.Is(role, id) {
		return ErrSelfDelete
	}
	if _, err := svc.Get(ctx, role, id); err != nil {
		return err
	}

	switch role {
	case RoleAdmin:
		cnt, err := svc.repo.CountUsers(ctx, RoleAdmin)
		if err != nil {
			return errors.Wrap(err, "counting admins")
		}
		if cnt <= 1 {
			return ErrLastAdmin
		}
	case RoleStudent, RoleProfessor:
		inUse, err := svc.guard.AccountInUse(ctx, role, id)
		if err != nil {
			return errors.Wrap(err, "checking account references")
		}
		if inUse {
			return ErrAccountInUse
		}
	}

	if err := svc.repo.DeleteUser(ctx, role, id); err != nil {
		if core.IsIntegrity(err) {
			return ErrAccountInUse
		}
		return errors.Wrap(err, "deleting user")
	}
	return nil
}

// EnsureAdmin creates an admin from the given credentials when no admin exists.
func (svc *Service) EnsureAdmin(ctx context.Context, name, email, pwd string) (created bool, err error) {
	cnt, err := svc.repo.CountUsers(ctx, RoleAdmin)
	if err != nil {
		return false, errors.Wrap(err, "counting admins")
	}
	if cnt > 0 {
		return false, nil
	}
	if _, err = svc.CreateTrusted(ctx, NewUser{Role: RoleAdmin, Name: name, Email: email, Password: pwd}); err != nil {
		return false, errors.Wrap(err, "creating admin")
	}
	return true, nil
}

// FindByEmail returns the first account matching email in LoginPrecedence order,
// or in the given role's table only.
func (svc *Service) FindByEmail(ctx context.Context, email string, role ...Role) (User, error) {
	email = core.CleanString(email, true /* lower */)
	roles := LoginPrecedence
	if len(role) > 0 && role[0] != "" {
		roles = role[:1]
	}
	for _, r := range roles {
		usr, err := svc.repo.GetUser(ctx, r, GetFilter{Email: email})
		if err == nil {
			return usr, nil
		}
		if !core.IsNotFound(err) {
			return nil, errors.Wrapf(err, "finding %s by email", r)
		}
	}
	return nil, ErrNotFound
}

// RequestPasswordReset stores a new reset token on the account matching email and mails the reset link.
// It returns ErrNotFound when no account matches.
func (svc *Service) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	return svc.SendPasswordReset(ctx, usr)
}

// SendPasswordReset stores a new reset token on usr and mails the reset link.
func (svc *Service) SendPasswordReset(ctx context.Context, usr User) error {
	token, err := generateToken()
	if err != nil {
		return errors.Wrap(err, "generating reset token")
	}
	acct := usr.Acct()
	acct.ResetToken = null.StringFrom(token)
	acct.UpdatedAt = nowFunc().UTC()
	if _, err = svc.repo.UpdateUser(ctx, usr); err != nil {
		return errors.Wrap(err, "saving reset token")
	}
	svc.mailSvc.SendMessages(svc.passwordResetMessage(usr, token))
	return nil
}

func (svc *Service) passwordResetMessage(usr User, token string) *core.EmailMessage {
	acct := usr.Acct()
	return &core.EmailMessage{
		To:           []mail.Address{{Name: acct.Name, Address: acct.Email}},
		Subject:      "Redefinição de Senha",
		TemplateName: "password_reset",
		TemplateData: map[string]interface{}{
			"Name":      acct.Name,
			"Token":     token,
			"ResetLink": svc.conf.BaseURL + "/reset-password/confirm/" + token,
		},
	}
}

// GetByResetToken returns the account holding token, searching every identity table.
func (svc *Service) GetByResetToken(ctx context.Context, token string) (User, error) {
	if token == "" {
		return nil, ErrInvalidResetToken
	}
	for _, role := range LoginPrecedence {
		usr, err := svc.repo.GetUser(ctx, role, GetFilter{ResetToken: token})
		if err == nil {
			return usr, nil
		}
		if !core.IsNotFound(err) {
			return nil, errors.Wrapf(err, "finding %s by reset token", role)
		}
	}
	return nil, ErrInvalidResetToken
}

// ResetPassword sets the new password of the account holding rp.Token and clears the token.
func (svc *Service) ResetPassword(ctx context.Context, rp ResetUserPassword) error {
	usr, err := svc.GetByResetToken(ctx, rp.Token)
	if err != nil {
		return err
	}
	rp.name, rp.email = usr.Acct().Name, usr.Acct().Email
	if err = svc.validator.Struct(rp); err != nil {
		return err
	}
	return svc.SetPassword(ctx, usr, rp.Password)
}

// generateToken returns 32 random bytes, URL-safe base64 encoded.
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
