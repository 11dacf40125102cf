// Package shared holds the setup steps shared by the web server and the admin CLI.
package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/feedback360/core"
	"github.com/trezcool/feedback360/core/catalog"
	"github.com/trezcool/feedback360/core/evaluation"
	"github.com/trezcool/feedback360/core/user"
)

// DemoPassword is the password of every demo account.
const DemoPassword = "123456"

var nowFunc = time.Now // mockable

// Services are the services seeded with demo data.
type Services struct {
	Users       *user.Service
	Catalog     *catalog.Service
	Evaluations *evaluation.Service
}

// DemoSummary lists what SeedDemo created.
type DemoSummary struct {
	Admin       user.User
	Coordinator user.User
	Professor   user.User
	Students    []user.User
	Class       catalog.Class
	Activity    evaluation.Activity
	Group       evaluation.Group
}

// SeedDemo fills an empty database with a course, a class of four students, an activity and a group.
// It fails with a core.IntegrityError or a validation error when the demo records already exist.
func SeedDemo(ctx context.Context, svcs Services, admin user.User) (*DemoSummary, error) {
	sess := user.SessionOf(admin)
	sum := &DemoSummary{Admin: admin}

	course, err := svcs.Catalog.CreateCourse(ctx, sess, catalog.NewCourse{Name: "Engenharia de Software", Code: "ES"})
	if err != nil {
		return nil, errors.Wrap(err, "creating course")
	}
	disc, err := svcs.Catalog.CreateDiscipline(ctx, sess, catalog.NewDiscipline{
		Name:     "Projeto Integrador",
		Code:     "PI1",
		CourseID: course.ID,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating discipline")
	}
	now := nowFunc()
	period := 1
	if now.Month() > time.June {
		period = 2
	}
	term, err := svcs.Catalog.CreateTerm(ctx, sess, catalog.NewTerm{Year: now.Year(), Period: period})
	if err != nil {
		return nil, errors.Wrap(err, "creating term")
	}

	var comps []int
	for _, nc := range []catalog.NewCompetency{
		{Name: "Comunicação", Description: "Expressa ideias com clareza e escuta os colegas."},
		{Name: "Trabalho em equipe", Description: "Colabora e cumpre o combinado com o grupo."},
		{Name: "Proatividade", Description: "Antecipa problemas e propõe soluções."},
	} {
		comp, err := svcs.Catalog.CreateCompetency(ctx, sess, nc)
		if err != nil {
			return nil, errors.Wrap(err, "creating competency")
		}
		comps = append(comps, comp.ID)
	}

	newUser := func(nu user.NewUser) (user.User, error) {
		nu.Password = DemoPassword
		usr, err := svcs.Users.CreateTrusted(ctx, nu)
		return usr, errors.Wrapf(err, "creating %s %s", nu.Role, nu.Email)
	}
	if sum.Coordinator, err = newUser(user.NewUser{
		Role:     user.RoleCoordinator,
		Name:     "Carla Coordenadora",
		Email:    "coordenador@feedback360.com",
		CourseID: course.ID,
	}); err != nil {
		return nil, err
	}
	if sum.Professor, err = newUser(user.NewUser{
		Role:  user.RoleProfessor,
		Name:  "Paulo Professor",
		Email: "professor@feedback360.com",
	}); err != nil {
		return nil, err
	}
	for i, name := range []string{"Ana Souza", "Bruno Lima", "Clara Dias", "Diego Alves"} {
		st, err := newUser(user.NewUser{
			Role:             user.RoleStudent,
			Name:             name,
			Email:            fmt.Sprintf("aluno%d@feedback360.com", i+1),
			EnrollmentNumber: fmt.Sprintf("2024%04d", i+1),
			CourseID:         course.ID,
		})
		if err != nil {
			return nil, err
		}
		sum.Students = append(sum.Students, st)
	}

	if sum.Class, err = svcs.Catalog.CreateClass(ctx, sess, catalog.NewClass{
		Code:         "A",
		DisciplineID: disc.ID,
		ProfessorID:  sum.Professor.Acct().ID,
		TermID:       term.ID,
	}); err != nil {
		return nil, errors.Wrap(err, "creating class")
	}
	for _, st := range sum.Students {
		if _, err = svcs.Catalog.Enroll(ctx, sess, sum.Class.ID, st.Acct().ID); err != nil {
			return nil, errors.Wrap(err, "enrolling student")
		}
	}

	profSess := user.SessionOf(sum.Professor)
	if sum.Activity, err = svcs.Evaluations.CreateActivity(ctx, profSess, evaluation.NewActivity{
		Title:         "Sprint 1",
		Description:   "Avaliação 360° da primeira entrega do projeto.",
		DueDate:       now.AddDate(0, 0, 14),
		ClassID:       sum.Class.ID,
		CompetencyIDs: comps,
	}); err != nil {
		return nil, errors.Wrap(err, "creating activity")
	}
	members := make([]int, 0, 3)
	for _, st := range sum.Students[:3] {
		members = append(members, st.Acct().ID)
	}
	if sum.Group, err = svcs.Evaluations.CreateGroup(ctx, profSess, sum.Activity.ID, evaluation.NewGroup{
		Name:      "Grupo 1",
		MemberIDs: members,
	}); err != nil {
		return nil, errors.Wrap(err, "creating group")
	}
	return sum, nil
}

// EnsureAdmin creates the bootstrap admin from conf when no admin exists, and returns an admin account.
func EnsureAdmin(ctx context.Context, users *user.Service, conf *core.Config, logger core.Logger) (user.User, error) {
	boot := conf.BootstrapAdmin
	created, err := users.EnsureAdmin(ctx, boot.Name, boot.Email, boot.Password)
	if err != nil {
		return nil, err
	}
	if created {
		logger.Info(fmt.Sprintf("bootstrap admin created: %s", boot.Email))
	}
	admins, err := users.Query(ctx, user.RoleAdmin, nil, core.ParseOrdering("created_at", "created_at"))
	if err != nil {
		return nil, errors.Wrap(err, "listing admins")
	}
	if len(admins) == 0 {
		return nil, errors.New("no admin found")
	}
	return admins[0], nil
}
