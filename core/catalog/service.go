package catalog

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/feedback360/core"
	"github.com/trezcool/feedback360/core/user"
)

var (
	// errors
	ErrCourseNotFound     = core.NewNotFoundError("course")
	ErrDisciplineNotFound = core.NewNotFoundError("discipline")
	ErrTermNotFound       = core.NewNotFoundError("term")
	ErrClassNotFound      = core.NewNotFoundError("class")
	ErrCompetencyNotFound = core.NewNotFoundError("competency")
	ErrNotEnrolled        = core.NewNotFoundError("enrollment")

	ErrTermExists      = core.NewValidationError(errors.New("este período letivo já existe"))
	ErrAlreadyEnrolled = core.NewValidationError(errors.New("o aluno já está matriculado nesta turma"))
	ErrStudentGrouped  = core.NewValidationError(errors.New("o aluno pertence a um grupo de uma atividade desta turma; exclua o grupo antes de remover a matrícula"))

	errAdminOnly     = core.NewPermissionError("apenas administradores podem fazer isso")
	errOtherCourse   = core.NewPermissionError("este curso é gerenciado por outro coordenador")
	errStaffOnly     = core.NewPermissionError("apenas professores, coordenadores e administradores podem fazer isso")
	errInvalidMember = core.NewValidationError(nil, core.FieldError{Field: "student_id", Error: "aluno desconhecido"})
	errInvalidProf   = core.NewValidationError(nil, core.FieldError{Field: "professor_id", Error: "professor desconhecido"})

	nowFunc = time.Now // mockable
)

type (
	Repository interface {
		CreateCourse(ctx context.Context, course Course) (Course, error)
		UpdateCourse(ctx context.Context, course Course) (Course, error)
		GetCourse(ctx context.Context, id int) (Course, error)
		QueryCourses(ctx context.Context) ([]Course, error)
		DeleteCourse(ctx context.Context, id int) error

		CreateDiscipline(ctx context.Context, disc Discipline) (Discipline, error)
		UpdateDiscipline(ctx context.Context, disc Discipline) (Discipline, error)
		GetDiscipline(ctx context.Context, id int) (Discipline, error)
		QueryDisciplines(ctx context.Context, filter DisciplineFilter) ([]Discipline, error)
		DeleteDiscipline(ctx context.Context, id int) error

		CreateTerm(ctx context.Context, term Term) (Term, error)
		GetTerm(ctx context.Context, id int) (Term, error)
		QueryTerms(ctx context.Context) ([]Term, error)
		DeleteTerm(ctx context.Context, id int) error

		CreateClass(ctx context.Context, class Class) (Class, error)
		UpdateClass(ctx context.Context, class Class) (Class, error)
		GetClass(ctx context.Context, id int) (Class, error)
		QueryClasses(ctx context.Context, filter ClassFilter) ([]Class, error)
		DeleteClass(ctx context.Context, id int) error

		Enroll(ctx context.Context, enr Enrollment) (Enrollment, error)
		Unenroll(ctx context.Context, classID, studentID int) error
		IsEnrolled(ctx context.Context, classID, studentID int) (bool, error)
		QueryRoster(ctx context.Context, classID int) ([]user.Student, error)

		CreateCompetency(ctx context.Context, comp Competency) (Competency, error)
		UpdateCompetency(ctx context.Context, comp Competency) (Competency, error)
		GetCompetency(ctx context.Context, id int) (Competency, error)
		QueryCompetencies(ctx context.Context, ids ...int) ([]Competency, error)
		DeleteCompetency(ctx context.Context, id int) error
	}

	// Accounts resolves identity records referenced by the catalog.
	Accounts interface {
		Get(ctx context.Context, role user.Role, id int) (user.User, error)
	}

	Service struct {
		repo      Repository
		accounts  Accounts
		validator *core.Validator
	}
)

func NewService(repo Repository, accounts Accounts, v *core.Validator) *Service {
	return &Service{
		repo:      repo,
		accounts:  accounts,
		validator: v,
	}
}

// integrity converts a database integrity violation into err, eg. a user facing validation error.
func integrity(err error, replacement error) error {
	if core.IsIntegrity(err) {
		return replacement
	}
	return err
}

func inUse(what string) error {
	return core.NewValidationError(errors.Errorf("não é possível excluir %s enquanto houver registros vinculados", what))
}

func (svc *Service) requireAdmin(sess user.Session) error {
	if !sess.IsAdmin() {
		return errAdminOnly
	}
	return nil
}

func (svc *Service) requireStaff(sess user.Session) error {
	if sess.IsStudent() {
		return errStaffOnly
	}
	return nil
}

// CoordinatorCourse returns the course managed by a coordinator session, or 0.
func (svc *Service) CoordinatorCourse(ctx context.Context, sess user.Session) (int, error) {
	if !sess.IsCoordinator() {
		return 0, nil
	}
	usr, err := svc.accounts.Get(ctx, user.RoleCoordinator, sess.ID)
	if err != nil {
		return 0, err
	}
	if coord, ok := usr.(*user.Coordinator); ok && coord.CourseID.Valid {
		return coord.CourseID.Int, nil
	}
	return 0, nil
}

// CanManageCourse reports whether sess may manage the disciplines, classes and enrollments of a course:
// admins manage every course, coordinators their own.
func (svc *Service) CanManageCourse(ctx context.Context, sess user.Session, courseID int) error {
	switch sess.Role {
	case user.RoleAdmin:
		return nil
	case user.RoleCoordinator:
		cid, err := svc.CoordinatorCourse(ctx, sess)
		if err != nil {
			return err
		}
		if cid == 0 || cid != courseID {
			return errOtherCourse
		}
		return nil
	default:
		return errAdminOnly
	}
}

// Courses

func (svc *Service) QueryCourses(ctx context.Context) ([]Course, error) {
	return svc.repo.QueryCourses(ctx)
}

func (svc *Service) GetCourse(ctx context.Context, id int) (Course, error) {
	return svc.repo.GetCourse(ctx, id)
}

func (svc *Service) CreateCourse(ctx context.Context, sess user.Session, nc NewCourse) (Course, error) {
	if err := svc.requireAdmin(sess); err != nil {
		return Course{}, err
	}
	nc.clean()
	if err := svc.validator.Struct(nc); err != nil {
		return Course{}, err
	}
	course, err := svc.repo.CreateCourse(ctx, Course{Name: nc.Name, Code: nc.Code, CreatedAt: nowFunc().UTC()})
	return course, errors.Wrap(err, "creating course")
}

func (svc *Service) UpdateCourse(ctx context.Context, sess user.Session, id int, nc NewCourse) (Course, error) {
	if err := svc.requireAdmin(sess); err != nil {
		return Course{}, err
	}
	nc.clean()
	if err := svc.validator.Struct(nc); err != nil {
		return Course{}, err
	}
	course, err := svc.repo.GetCourse(ctx, id)
	if err != nil {
		return Course{}, err
	}
	course.Name, course.Code = nc.Name, nc.Code
	return svc.repo.UpdateCourse(ctx, course)
}

func (svc *Service) DeleteCourse(ctx context.Context, sess user.Session, id int) error {
	if err := svc.requireAdmin(sess); err != nil {
		return err
	}
	if _, err := svc.repo.GetCourse(ctx, id); err != nil {
		return err
	}
	return integrity(svc.repo.DeleteCourse(ctx, id), inUse("o curso"))
}

// Disciplines

func (svc *Service) QueryDisciplines(ctx context.Context, filter DisciplineFilter) ([]Discipline, error) {
	return svc.repo.QueryDisciplines(ctx, filter)
}

func (svc *Service) GetDiscipline(ctx context.Context, id int) (Discipline, error) {
	return svc.repo.GetDiscipline(ctx, id)
}

func (svc *Service) CreateDiscipline(ctx context.Context, sess user.Session, nd NewDiscipline) (Discipline, error) {
	nd.clean()
	if err := svc.validator.Struct(nd); err != nil {
		return Discipline{}, err
	}
	if err := svc.CanManageCourse(ctx, sess, nd.CourseID); err != nil {
		return Discipline{}, err
	}
	if _, err := svc.repo.GetCourse(ctx, nd.CourseID); err != nil {
		return Discipline{}, err
	}
	disc, err := svc.repo.CreateDiscipline(ctx, Discipline{Name: nd.Name, Code: nd.Code, CourseID: nd.CourseID})
	return disc, errors.Wrap(err, "creating discipline")
}

func (svc *Service) UpdateDiscipline(ctx context.Context, sess user.Session, id int, nd NewDiscipline) (Discipline, error) {
	nd.clean()
	if err := svc.validator.Struct(nd); err != nil {
		return Discipline{}, err
	}
	disc, err := svc.repo.GetDiscipline(ctx, id)
	if err != nil {
		return Discipline{}, err
	}
	// both the current and the new course must be managed by sess
	if err = svc.CanManageCourse(ctx, sess, disc.CourseID); err != nil {
		return Discipline{}, err
	}
	if err = svc.CanManageCourse(ctx, sess, nd.CourseID); err != nil {
		return Discipline{}, err
	}
	if _, err = svc.repo.GetCourse(ctx, nd.CourseID); err != nil {
		return Discipline{}, err
	}
	disc.Name, disc.Code, disc.CourseID = nd.Name, nd.Code, nd.CourseID
	return svc.repo.UpdateDiscipline(ctx, disc)
}

func (svc *Service) DeleteDiscipline(ctx context.Context, sess user.Session, id int) error {
	disc, err := svc.repo.GetDiscipline(ctx, id)
	if err != nil {
		return err
	}
	if err = svc.CanManageCourse(ctx, sess, disc.CourseID); err != nil {
		return err
	}
	return integrity(svc.repo.DeleteDiscipline(ctx, id), inUse("a disciplina"))
}

// Terms

func (svc *Service) QueryTerms(ctx context.Context) ([]Term, error) {
	return svc.repo.QueryTerms(ctx)
}

func (svc *Service) CreateTerm(ctx context.Context, sess user.Session, nt NewTerm) (Term, error) {
	if !(sess.IsAdmin() || sess.IsCoordinator()) {
		return Term{}, errAdminOnly
	}
	if err := svc.validator.Struct(nt); err != nil {
		return Term{}, err
	}
	term, err := svc.repo.CreateTerm(ctx, Term{Year: nt.Year, Period: nt.Period})
	if err != nil {
		return Term{}, integrity(err, ErrTermExists)
	}
	return term, nil
}

func (svc *Service) DeleteTerm(ctx context.Context, sess user.Session, id int) error {
	if err := svc.requireAdmin(sess); err != nil {
		return err
	}
	if _, err := svc.repo.GetTerm(ctx, id); err != nil {
		return err
	}
	return integrity(svc.repo.DeleteTerm(ctx, id), inUse("o período letivo"))
}

// Classes

func (svc *Service) GetClass(ctx context.Context, id int) (Class, error) {
	return svc.repo.GetClass(ctx, id)
}

func (svc *Service) QueryClasses(ctx context.Context, filter ClassFilter) ([]Class, error) {
	return svc.repo.QueryClasses(ctx, filter)
}

// VisibleClasses returns the classes sess works with: taught by a professor, attended by a student,
// of the coordinator's course, or all of them for admins.
func (svc *Service) VisibleClasses(ctx context.Context, sess user.Session) ([]Class, error) {
	var filter ClassFilter
	switch sess.Role {
	case user.RoleStudent:
		filter.StudentID = sess.ID
	case user.RoleProfessor:
		filter.ProfessorID = sess.ID
	case user.RoleCoordinator:
		cid, err := svc.CoordinatorCourse(ctx, sess)
		if err != nil {
			return nil, err
		}
		if cid == 0 {
			return nil, nil
		}
		filter.CourseID = cid
	case user.RoleAdmin:
	}
	return svc.repo.QueryClasses(ctx, filter)
}

func (svc *Service) checkClassRefs(ctx context.Context, sess user.Session, nc NewClass) error {
	disc, err := svc.repo.GetDiscipline(ctx, nc.DisciplineID)
	if err != nil {
		return err
	}
	if err = svc.CanManageCourse(ctx, sess, disc.CourseID); err != nil {
		return err
	}
	if _, err = svc.repo.GetTerm(ctx, nc.TermID); err != nil {
		return err
	}
	if _, err = svc.accounts.Get(ctx, user.RoleProfessor, nc.ProfessorID); err != nil {
		if core.IsNotFound(err) {
			return errInvalidProf
		}
		return err
	}
	return nil
}

func (svc *Service) CreateClass(ctx context.Context, sess user.Session, nc NewClass) (Class, error) {
	nc.clean()
	if err := svc.validator.Struct(nc); err != nil {
		return Class{}, err
	}
	if err := svc.checkClassRefs(ctx, sess, nc); err != nil {
		return Class{}, err
	}
	class, err := svc.repo.CreateClass(ctx, Class{
		Code:         nc.Code,
		DisciplineID: nc.DisciplineID,
		ProfessorID:  nc.ProfessorID,
		TermID:       nc.TermID,
	})
	return class, errors.Wrap(err, "creating class")
}

func (svc *Service) UpdateClass(ctx context.Context, sess user.Session, id int, nc NewClass) (Class, error) {
	nc.clean()
	if err := svc.validator.Struct(nc); err != nil {
		return Class{}, err
	}
	class, err := svc.repo.GetClass(ctx, id)
	if err != nil {
		return Class{}, err
	}
	if err = svc.CanManageCourse(ctx, sess, class.CourseID); err != nil {
		return Class{}, err
	}
	if err = svc.checkClassRefs(ctx, sess, nc); err != nil {
		return Class{}, err
	}
	class.Code, class.DisciplineID, class.ProfessorID, class.TermID = nc.Code, nc.DisciplineID, nc.ProfessorID, nc.TermID
	return svc.repo.UpdateClass(ctx, class)
}

func (svc *Service) DeleteClass(ctx context.Context, sess user.Session, id int) error {
	class, err := svc.repo.GetClass(ctx, id)
	if err != nil {
		return err
	}
	if err = svc.CanManageCourse(ctx, sess, class.CourseID); err != nil {
		return err
	}
	return integrity(svc.repo.DeleteClass(ctx, id), inUse("a turma"))
}

// Enrollments

func (svc *Service) IsEnrolled(ctx context.Context, classID, studentID int) (bool, error) {
	return svc.repo.IsEnrolled(ctx, classID, studentID)
}

func (svc *Service) Roster(ctx context.Context, classID int) ([]user.Student, error) {
	return svc.repo.QueryRoster(ctx, classID)
}

func (svc *Service) Enroll(ctx context.Context, sess user.Session, classID, studentID int) (Enrollment, error) {
	class, err := svc.repo.GetClass(ctx, classID)
	if err != nil {
		return Enrollment{}, err
	}
	if err = svc.CanManageCourse(ctx, sess, class.CourseID); err != nil {
		return Enrollment{}, err
	}
	if _, err = svc.accounts.Get(ctx, user.RoleStudent, studentID); err != nil {
		if core.IsNotFound(err) {
			return Enrollment{}, errInvalidMember
		}
		return Enrollment{}, err
	}
	enr, err := svc.repo.Enroll(ctx, Enrollment{ClassID: classID, StudentID: studentID, CreatedAt: nowFunc().UTC()})
	if err != nil {
		return Enrollment{}, integrity(err, ErrAlreadyEnrolled)
	}
	return enr, nil
}

func (svc *Service) Unenroll(ctx context.Context, sess user.Session, classID, studentID int) error {
	class, err := svc.repo.GetClass(ctx, classID)
	if err != nil {
		return err
	}
	if err = svc.CanManageCourse(ctx, sess, class.CourseID); err != nil {
		return err
	}
	// group memberships are the only records referencing an enrollment
	return integrity(svc.repo.Unenroll(ctx, classID, studentID), ErrStudentGrouped)
}

// Competencies

func (svc *Service) QueryCompetencies(ctx context.Context, ids ...int) ([]Competency, error) {
	return svc.repo.QueryCompetencies(ctx, ids...)
}

func (svc *Service) GetCompetency(ctx context.Context, id int) (Competency, error) {
	return svc.repo.GetCompetency(ctx, id)
}

func (svc *Service) CreateCompetency(ctx context.Context, sess user.Session, nc NewCompetency) (Competency, error) {
	if err := svc.requireStaff(sess); err != nil {
		return Competency{}, err
	}
	nc.clean()
	if err := svc.validator.Struct(nc); err != nil {
		return Competency{}, err
	}
	comp, err := svc.repo.CreateCompetency(ctx, Competency{Name: nc.Name, Description: nc.Description})
	return comp, errors.Wrap(err, "creating competency")
}

func (svc *Service) UpdateCompetency(ctx context.Context, sess user.Session, id int, nc NewCompetency) (Competency, error) {
	if err := svc.requireStaff(sess); err != nil {
		return Competency{}, err
	}
	nc.clean()
	if err := svc.validator.Struct(nc); err != nil {
		return Competency{}, err
	}
	comp, err := svc.repo.GetCompetency(ctx, id)
	if err != nil {
		return Competency{}, err
	}
	comp.Name, comp.Description = nc.Name, nc.Description
	return svc.repo.UpdateCompetency(ctx, comp)
}

func (svc *Service) DeleteCompetency(ctx context.Context, sess user.Session, id int) error {
	if err := svc.requireStaff(sess); err != nil {
		return err
	}
	if _, err := svc.repo.GetCompetency(ctx, id); err != nil {
		return err
	}
	return integrity(svc.repo.DeleteCompetency(ctx, id), inUse("a competência"))
}
