package testutil

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"testing"
	"time"

	"github.com/trezcool/feedback360/core"
	"github.com/trezcool/feedback360/core/catalog"
	"github.com/trezcool/feedback360/core/evaluation"
	"github.com/trezcool/feedback360/core/notification"
	"github.com/trezcool/feedback360/core/user"
	appfs "github.com/trezcool/feedback360/fs"
	emailsvc "github.com/trezcool/feedback360/services/email"
	logsvc "github.com/trezcool/feedback360/services/logger"
	"github.com/trezcool/feedback360/storage/database"
	inmemdb "github.com/trezcool/feedback360/storage/database/inmem"
	sqlxrepos "github.com/trezcool/feedback360/storage/database/sqlx"
)

// Password is the password of every account created by the helpers below.
const Password = "Secr3t!pass"

const postgresEnvVar = "TEST_POSTGRES"

// Env wires every service on top of a fresh database.
type Env struct {
	Conf          *core.Config
	Logger        core.Logger
	Mail          *emailsvc.ConsoleServiceMock
	Validator     *core.Validator
	DB            *inmemdb.DB // nil over PostgreSQL
	Users         *user.Service
	Catalog       *catalog.Service
	Notifications *notification.Service
	Evaluations   *evaluation.Service
	EvalRepo      evaluation.Repository
}

// Repositories are the storage implementations an Env is built on.
type Repositories struct {
	Users         user.Repository
	Guard         user.DeletionGuard
	Catalog       catalog.Repository
	Evaluations   evaluation.Repository
	Notifications notification.Repository
}

// NewEnv builds an Env over a fresh in-memory database.
func NewEnv(t *testing.T) *Env {
	t.Helper()
	db := inmemdb.Open()
	env := newEnv(t, Repositories{
		Users:         inmemdb.NewUserRepository(db),
		Guard:         inmemdb.NewDeletionGuard(db),
		Catalog:       inmemdb.NewCatalogRepository(db),
		Evaluations:   inmemdb.NewEvaluationRepository(db),
		Notifications: inmemdb.NewNotificationRepository(db),
	})
	env.DB = db
	return env
}

// NewPostgresEnv builds an Env over an emptied and migrated PostgreSQL database, configured like the
// app (ENV prefixed variables). The test is skipped unless TEST_POSTGRES is set.
// Only one package may use it at a time since every call resets the schema.
func NewPostgresEnv(t *testing.T) *Env {
	t.Helper()
	if os.Getenv(postgresEnvVar) == "" {
		t.Skipf("%s is not set", postgresEnvVar)
	}

	dbConf := core.NewTestConfig()
	dbConf.Database = core.NewConfig().Database
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := database.CreateIfNotExist(ctx, dbConf); err != nil {
		t.Fatalf("CreateIfNotExist() failed: %v", err)
	}
	db, err := database.Open(ctx, dbConf)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err = database.RunMigrations(db.DB, "reset"); err != nil {
		t.Fatalf("resetting database: %v", err)
	}
	if err = database.Migrate(db.DB); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}

	return newEnv(t, Repositories{
		Users:         sqlxrepos.NewUserRepository(db),
		Guard:         sqlxrepos.NewDeletionGuard(db),
		Catalog:       sqlxrepos.NewCatalogRepository(db),
		Evaluations:   sqlxrepos.NewEvaluationRepository(db),
		Notifications: sqlxrepos.NewNotificationRepository(db),
	})
}

// ForEachStore runs fn over the in-memory store, then over PostgreSQL when it is available.
func ForEachStore(t *testing.T, fn func(t *testing.T, env *Env)) {
	t.Run("inmem", func(t *testing.T) { fn(t, NewEnv(t)) })
	t.Run("postgres", func(t *testing.T) { fn(t, NewPostgresEnv(t)) })
}

func newEnv(t *testing.T, repos Repositories) *Env {
	t.Helper()

	if err := core.ParseEmailTemplates(appfs.FS, "assets/templates/email", true); err != nil {
		t.Fatalf("ParseEmailTemplates() failed: %v", err)
	}

	conf := core.NewTestConfig()
	logger := logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf)
	v := core.NewValidator()
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)

	users := user.NewService(repos.Users, repos.Guard, mailSvc, v, conf)
	cat := catalog.NewService(repos.Catalog, users, v)
	notifs := notification.NewService(repos.Notifications, v)
	evals := evaluation.NewService(repos.Evaluations, cat, users, notifs, v, logger)

	return &Env{
		Conf:          conf,
		Logger:        logger,
		Mail:          mailSvc,
		Validator:     v,
		Users:         users,
		Catalog:       cat,
		Notifications: notifs,
		Evaluations:   evals,
		EvalRepo:      repos.Evaluations,
	}
}

// CreateUser creates an account without applying the password policy. The password defaults to Password.
func (env *Env) CreateUser(t *testing.T, nu user.NewUser) user.User {
	t.Helper()
	if nu.Password == "" {
		nu.Password = Password
	}
	usr, err := env.Users.CreateTrusted(context.Background(), nu)
	if err != nil {
		t.Fatalf("CreateUser(%s, %s) failed: %v", nu.Role, nu.Email, err)
	}
	return usr
}

func (env *Env) CreateAdmin(t *testing.T, name, email string) *user.Admin {
	t.Helper()
	return env.CreateUser(t, user.NewUser{Role: user.RoleAdmin, Name: name, Email: email}).(*user.Admin)
}

func (env *Env) CreateProfessor(t *testing.T, name, email string) *user.Professor {
	t.Helper()
	return env.CreateUser(t, user.NewUser{Role: user.RoleProfessor, Name: name, Email: email}).(*user.Professor)
}

func (env *Env) CreateStudent(t *testing.T, name, email, enrollment string, courseID int) *user.Student {
	t.Helper()
	return env.CreateUser(t, user.NewUser{
		Role:             user.RoleStudent,
		Name:             name,
		Email:            email,
		EnrollmentNumber: enrollment,
		CourseID:         courseID,
	}).(*user.Student)
}

func (env *Env) CreateCoordinator(t *testing.T, name, email string, courseID int) *user.Coordinator {
	t.Helper()
	return env.CreateUser(t, user.NewUser{
		Role:     user.RoleCoordinator,
		Name:     name,
		Email:    email,
		CourseID: courseID,
	}).(*user.Coordinator)
}

// Fixture is a class with enrolled students and one activity, managed by its professor.
type Fixture struct {
	Admin        *user.Admin
	Professor    *user.Professor
	Course       catalog.Course
	Discipline   catalog.Discipline
	Term         catalog.Term
	Class        catalog.Class
	Students     []*user.Student
	Competencies []catalog.Competency
	Activity     evaluation.Activity
}

func (f *Fixture) AdminSession() user.Session     { return user.SessionOf(f.Admin) }
func (f *Fixture) ProfessorSession() user.Session { return user.SessionOf(f.Professor) }
func (f *Fixture) StudentSession(i int) user.Session {
	return user.SessionOf(f.Students[i])
}

func (f *Fixture) CompetencyIDs() []int {
	ids := make([]int, 0, len(f.Competencies))
	for _, comp := range f.Competencies {
		ids = append(ids, comp.ID)
	}
	return ids
}

func (f *Fixture) StudentIDs(idx ...int) []int {
	ids := make([]int, 0, len(idx))
	for _, i := range idx {
		ids = append(ids, f.Students[i].ID)
	}
	return ids
}

// NewFixture populates env with a course, a class of nStudents enrolled students and an activity rated on
// nComps competencies. It is meant to be called once per Env.
func (env *Env) NewFixture(t *testing.T, nStudents, nComps int) *Fixture {
	t.Helper()
	ctx := context.Background()
	fail := func(what string, err error) {
		t.Helper()
		t.Fatalf("NewFixture() failed, %s: %v", what, err)
	}

	f := &Fixture{
		Admin:     env.CreateAdmin(t, "Admin", "admin@test.com"),
		Professor: env.CreateProfessor(t, "Professor", "professor@test.com"),
	}
	adminSess := f.AdminSession()

	var err error
	if f.Course, err = env.Catalog.CreateCourse(ctx, adminSess, catalog.NewCourse{Name: "Engenharia de Software", Code: "ES"}); err != nil {
		fail("creating course", err)
	}
	if f.Discipline, err = env.Catalog.CreateDiscipline(ctx, adminSess, catalog.NewDiscipline{
		Name:     "Projeto Integrador",
		Code:     "PI1",
		CourseID: f.Course.ID,
	}); err != nil {
		fail("creating discipline", err)
	}
	if f.Term, err = env.Catalog.CreateTerm(ctx, adminSess, catalog.NewTerm{Year: 2024, Period: 1}); err != nil {
		fail("creating term", err)
	}
	if f.Class, err = env.Catalog.CreateClass(ctx, adminSess, catalog.NewClass{
		Code:         "A",
		DisciplineID: f.Discipline.ID,
		ProfessorID:  f.Professor.ID,
		TermID:       f.Term.ID,
	}); err != nil {
		fail("creating class", err)
	}

	for i := 1; i <= nStudents; i++ {
		s := env.CreateStudent(t,
			fmt.Sprintf("Aluno %d", i),
			fmt.Sprintf("aluno%d@test.com", i),
			fmt.Sprintf("2024%04d", i),
			f.Course.ID,
		)
		if _, err = env.Catalog.Enroll(ctx, adminSess, f.Class.ID, s.ID); err != nil {
			fail("enrolling student", err)
		}
		f.Students = append(f.Students, s)
	}

	for i := 1; i <= nComps; i++ {
		comp, err := env.Catalog.CreateCompetency(ctx, adminSess, catalog.NewCompetency{Name: fmt.Sprintf("Competência %d", i)})
		if err != nil {
			fail("creating competency", err)
		}
		f.Competencies = append(f.Competencies, comp)
	}

	if nComps > 0 {
		if f.Activity, err = env.Evaluations.CreateActivity(ctx, f.ProfessorSession(), evaluation.NewActivity{
			Title:         "Sprint 1",
			DueDate:       time.Now().Add(7 * 24 * time.Hour),
			ClassID:       f.Class.ID,
			CompetencyIDs: f.CompetencyIDs(),
		}); err != nil {
			fail("creating activity", err)
		}
	}
	return f
}

// CreateGroup groups the fixture students at the given indexes for the fixture activity.
func (env *Env) CreateGroup(t *testing.T, f *Fixture, name string, idx ...int) evaluation.Group {
	t.Helper()
	grp, err := env.Evaluations.CreateGroup(context.Background(), f.ProfessorSession(), f.Activity.ID, evaluation.NewGroup{
		Name:      name,
		MemberIDs: f.StudentIDs(idx...),
	})
	if err != nil {
		t.Fatalf("CreateGroup(%s) failed: %v", name, err)
	}
	return grp
}

// FindEvaluation returns the evaluation of evaluated by evaluator for the fixture activity.
func (env *Env) FindEvaluation(t *testing.T, f *Fixture, evaluator, evaluated int) evaluation.Evaluation {
	t.Helper()
	evals, err := env.EvalRepo.QueryEvaluations(context.Background(), evaluation.EvaluationFilter{
		ActivityID:  f.Activity.ID,
		EvaluatorID: f.Students[evaluator].ID,
		EvaluatedID: f.Students[evaluated].ID,
	})
	if err != nil || len(evals) != 1 {
		t.Fatalf("FindEvaluation(%d, %d) failed: %v (found %d)", evaluator, evaluated, err, len(evals))
	}
	return evals[0]
}
