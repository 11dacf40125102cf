package user

import (
	"fmt"
	"time"

	"github.com/volatiletech/null/v8"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/feedback360/core"
)

// Role identifies which of the four identity tables an account lives in.
type Role string

// Roles
const (
	RoleStudent     Role = "aluno"
	RoleProfessor   Role = "professor"
	RoleCoordinator Role = "coordenador"
	RoleAdmin       Role = "admin"
)

var (
	// LoginPrecedence is the order in which identity tables are checked on login and password reset.
	LoginPrecedence = []Role{RoleStudent, RoleProfessor, RoleCoordinator, RoleAdmin}

	roleLabels = map[Role]string{
		RoleStudent:     "Aluno",
		RoleProfessor:   "Professor",
		RoleCoordinator: "Coordenador",
		RoleAdmin:       "Admin",
	}
)

func (r Role) Valid() bool {
	_, ok := roleLabels[r]
	return ok
}

func (r Role) Label() string { return roleLabels[r] }

// ParseRole converts a role literal, eg. from a URL, into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(core.CleanString(s, true /* lower */))
	if !r.Valid() {
		return "", core.NewValidationError(fmt.Errorf("invalid role %q", s))
	}
	return r, nil
}

// Account holds the attributes shared by every identity table.
type Account struct {
	ID           int         `json:"id" db:"id"`
	Name         string      `json:"name" db:"name"`
	Email        string      `json:"email" db:"email"`
	PasswordHash []byte      `json:"-" db:"password_hash"`
	ResetToken   null.String `json:"-" db:"reset_token"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"` // UTC
	UpdatedAt    time.Time   `json:"updated_at" db:"updated_at"` // UTC
}

func (a *Account) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	a.PasswordHash = hash
	return nil
}

func (a *Account) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(a.PasswordHash, []byte(pwd))
}

// User is one of *Student, *Professor, *Coordinator or *Admin.
type User interface {
	Role() Role
	Acct() *Account
	isUser()
}

type Student struct {
	Account
	EnrollmentNumber string `json:"enrollment_number" db:"enrollment_number"`
	CourseID         int    `json:"course_id" db:"course_id"`
}

type Professor struct {
	Account
}

type Coordinator struct {
	Account
	CourseID null.Int `json:"course_id" db:"course_id"`
}

type Admin struct {
	Account
}

func (*Student) Role() Role     { return RoleStudent }
func (*Professor) Role() Role   { return RoleProfessor }
func (*Coordinator) Role() Role { return RoleCoordinator }
func (*Admin) Role() Role       { return RoleAdmin }

func (u *Student) Acct() *Account     { return &u.Account }
func (u *Professor) Acct() *Account   { return &u.Account }
func (u *Coordinator) Acct() *Account { return &u.Account }
func (u *Admin) Acct() *Account       { return &u.Account }

func (*Student) isUser()     {}
func (*Professor) isUser()   {}
func (*Coordinator) isUser() {}
func (*Admin) isUser()       {}

// New returns an empty User of the given role.
func New(role Role) (User, error) {
	switch role {
	case RoleStudent:
		return new(Student), nil
	case RoleProfessor:
		return new(Professor), nil
	case RoleCoordinator:
		return new(Coordinator), nil
	case RoleAdmin:
		return new(Admin), nil
	default:
		return nil, core.NewValidationError(fmt.Errorf("invalid role %q", role))
	}
}

// Session is the authenticated principal of a request.
type Session struct {
	Role Role
	ID   int
	Name string
}

// SessionOf returns the Session of an authenticated User.
func SessionOf(usr User) Session {
	return Session{Role: usr.Role(), ID: usr.Acct().ID, Name: usr.Acct().Name}
}

func (s Session) IsStudent() bool     { return s.Role == RoleStudent }
func (s Session) IsProfessor() bool   { return s.Role == RoleProfessor }
func (s Session) IsCoordinator() bool { return s.Role == RoleCoordinator }
func (s Session) IsAdmin() bool       { return s.Role == RoleAdmin }

// Is reports whether the session belongs to the given account.
func (s Session) Is(role Role, id int) bool {
	return s.Role == role && s.ID == id
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	Role             Role   `form:"role" validate:"required"`
	Name             string `form:"name" validate:"required,notblank,max=255"`
	Email            string `form:"email" validate:"required,email"`
	Password         string `form:"password" validate:"required"`
	PasswordConfirm  string `form:"password_confirm" validate:"required,eqfield=Password"`
	EnrollmentNumber string `form:"enrollment_number" validate:"omitempty,alphanum,max=20"`
	CourseID         int    `form:"course_id" validate:"omitempty,min=1"`

	// skipPasswordPolicy is set by trusted callers (CLI, bulk import).
	skipPasswordPolicy bool
}

func (nu *NewUser) clean() {
	nu.Name = core.CleanString(nu.Name)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	nu.EnrollmentNumber = core.CleanString(nu.EnrollmentNumber)
}

// UpdateUser defines what information may be provided to modify an existing User.
// Empty values keep the current ones.
type UpdateUser struct {
	Name             string `form:"name" validate:"omitempty,max=255"`
	Email            string `form:"email" validate:"omitempty,email"`
	EnrollmentNumber string `form:"enrollment_number" validate:"omitempty,alphanum,max=20"`
	CourseID         int    `form:"course_id" validate:"omitempty,min=0"`
}

func (uu *UpdateUser) clean() {
	uu.Name = core.CleanString(uu.Name)
	uu.Email = core.CleanString(uu.Email, true /* lower */)
	uu.EnrollmentNumber = core.CleanString(uu.EnrollmentNumber)
}

// ChangePassword is submitted from the profile page.
type ChangePassword struct {
	CurrentPassword string `form:"current_password" validate:"required"`
	Password        string `form:"password" validate:"required"`
	PasswordConfirm string `form:"password_confirm" validate:"required,eqfield=Password"`

	name, email string
}

// ResetUserPassword is submitted from the password reset confirmation page.
type ResetUserPassword struct {
	Token           string `form:"token" validate:"required"`
	Password        string `form:"password" validate:"required"`
	PasswordConfirm string `form:"password_confirm" validate:"required,eqfield=Password"`

	name, email string
}

type QueryFilter struct {
	Search   string `query:"search"`
	CourseID int    `query:"course_id"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}

// GetFilter selects a single User. The first non-zero field is used.
type GetFilter struct {
	ID               int
	Email            string
	ResetToken       string
	EnrollmentNumber string
}
