package catalog_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/feedback360/core"
	"github.com/trezcool/feedback360/core/catalog"
	"github.com/trezcool/feedback360/core/user"
	"github.com/trezcool/feedback360/testutil"
)

func TestService_Permissions(t *testing.T) {
	env := testutil.NewEnv(t)
	f := env.NewFixture(t, 1, 0)
	ctx := context.Background()

	other, err := env.Catalog.CreateCourse(ctx, f.AdminSession(), catalog.NewCourse{Name: "Direito", Code: "DIR"})
	require.NoError(t, err)
	coord := user.SessionOf(env.CreateCoordinator(t, "Coord", "coord@test.com", f.Course.ID))
	idleCoord := user.SessionOf(env.CreateCoordinator(t, "Idle", "idle@test.com", 0))
	prof := f.ProfessorSession()
	student := f.StudentSession(0)

	tests := []struct {
		name     string
		action   func() error
		wantPerm bool
	}{
		{
			name: "professor creates course",
			action: func() error {
				_, err := env.Catalog.CreateCourse(ctx, prof, catalog.NewCourse{Name: "X", Code: "X"})
				return err
			},
			wantPerm: true,
		},
		{
			name: "coordinator creates course",
			action: func() error {
				_, err := env.Catalog.CreateCourse(ctx, coord, catalog.NewCourse{Name: "X", Code: "X"})
				return err
			},
			wantPerm: true,
		},
		{
			name: "coordinator creates discipline of own course",
			action: func() error {
				_, err := env.Catalog.CreateDiscipline(ctx, coord, catalog.NewDiscipline{Name: "Cálculo", Code: "CAL", CourseID: f.Course.ID})
				return err
			},
		},
		{
			name: "coordinator creates discipline of other course",
			action: func() error {
				_, err := env.Catalog.CreateDiscipline(ctx, coord, catalog.NewDiscipline{Name: "Penal", Code: "PEN", CourseID: other.ID})
				return err
			},
			wantPerm: true,
		},
		{
			name: "coordinator without course creates discipline",
			action: func() error {
				_, err := env.Catalog.CreateDiscipline(ctx, idleCoord, catalog.NewDiscipline{Name: "Penal", Code: "PEN", CourseID: other.ID})
				return err
			},
			wantPerm: true,
		},
		{
			name: "professor creates discipline",
			action: func() error {
				_, err := env.Catalog.CreateDiscipline(ctx, prof, catalog.NewDiscipline{Name: "Penal", Code: "PEN", CourseID: other.ID})
				return err
			},
			wantPerm: true,
		},
		{
			name: "coordinator creates term",
			action: func() error {
				_, err := env.Catalog.CreateTerm(ctx, coord, catalog.NewTerm{Year: 2024, Period: 2})
				return err
			},
		},
		{
			name: "professor creates term",
			action: func() error {
				_, err := env.Catalog.CreateTerm(ctx, prof, catalog.NewTerm{Year: 2025, Period: 1})
				return err
			},
			wantPerm: true,
		},
		{
			name:     "coordinator deletes term",
			action:   func() error { return env.Catalog.DeleteTerm(ctx, coord, f.Term.ID) },
			wantPerm: true,
		},
		{
			name: "student creates competency",
			action: func() error {
				_, err := env.Catalog.CreateCompetency(ctx, student, catalog.NewCompetency{Name: "Liderança"})
				return err
			},
			wantPerm: true,
		},
		{
			name: "professor creates competency",
			action: func() error {
				_, err := env.Catalog.CreateCompetency(ctx, prof, catalog.NewCompetency{Name: "Liderança"})
				return err
			},
		},
		{
			name:     "professor enrolls student",
			action:   func() error { _, err := env.Catalog.Enroll(ctx, prof, f.Class.ID, f.Students[0].ID); return err },
			wantPerm: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.action()
			if tt.wantPerm {
				assert.True(t, core.IsPermission(err), "error = %v, want permission error", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestService_Terms(t *testing.T) {
	env := testutil.NewEnv(t)
	f := env.NewFixture(t, 0, 0)
	ctx := context.Background()
	admin := f.AdminSession()

	_, err := env.Catalog.CreateTerm(ctx, admin, catalog.NewTerm{Year: f.Term.Year, Period: f.Term.Period})
	assert.Equal(t, catalog.ErrTermExists, err)

	_, err = env.Catalog.CreateTerm(ctx, admin, catalog.NewTerm{Year: 2024, Period: 3})
	assert.True(t, core.IsValidation(err))

	_, err = env.Catalog.CreateTerm(ctx, admin, catalog.NewTerm{Year: 2025, Period: 1})
	require.NoError(t, err)
	_, err = env.Catalog.CreateTerm(ctx, admin, catalog.NewTerm{Year: 2024, Period: 2})
	require.NoError(t, err)

	terms, err := env.Catalog.QueryTerms(ctx)
	require.NoError(t, err)
	labels := make([]string, 0, len(terms))
	for _, term := range terms {
		labels = append(labels, term.String())
	}
	assert.Equal(t, []string{"2025.1", "2024.2", "2024.1"}, labels)
}

func TestService_DeleteReferenced(t *testing.T) {
	env := testutil.NewEnv(t)
	f := env.NewFixture(t, 2, 2)
	ctx := context.Background()
	admin := f.AdminSession()

	// every catalog entry of the fixture is referenced by the next one
	assert.True(t, core.IsValidation(env.Catalog.DeleteCourse(ctx, admin, f.Course.ID)), "course")
	assert.True(t, core.IsValidation(env.Catalog.DeleteDiscipline(ctx, admin, f.Discipline.ID)), "discipline")
	assert.True(t, core.IsValidation(env.Catalog.DeleteTerm(ctx, admin, f.Term.ID)), "term")
	assert.True(t, core.IsValidation(env.Catalog.DeleteClass(ctx, admin, f.Class.ID)), "class")
	assert.True(t, core.IsValidation(env.Catalog.DeleteCompetency(ctx, admin, f.Competencies[0].ID)), "competency")

	assert.True(t, core.IsNotFound(env.Catalog.DeleteCourse(ctx, admin, 999)))

	// unreferenced once the activity is gone
	require.NoError(t, env.Evaluations.DeleteActivity(ctx, f.ProfessorSession(), f.Activity.ID))
	assert.NoError(t, env.Catalog.DeleteCompetency(ctx, admin, f.Competencies[0].ID))
	assert.NoError(t, env.Catalog.DeleteClass(ctx, admin, f.Class.ID))
	assert.NoError(t, env.Catalog.DeleteTerm(ctx, admin, f.Term.ID))
	assert.NoError(t, env.Catalog.DeleteDiscipline(ctx, admin, f.Discipline.ID))

	// students still belong to the course
	assert.True(t, core.IsValidation(env.Catalog.DeleteCourse(ctx, admin, f.Course.ID)))
	for _, s := range f.Students {
		require.NoError(t, env.Users.Delete(ctx, admin, user.RoleStudent, s.ID))
	}
	assert.NoError(t, env.Catalog.DeleteCourse(ctx, admin, f.Course.ID))
}

func TestService_Courses(t *testing.T) {
	env := testutil.NewEnv(t)
	f := env.NewFixture(t, 0, 0)
	ctx := context.Background()
	admin := f.AdminSession()

	_, err := env.Catalog.CreateCourse(ctx, admin, catalog.NewCourse{Name: "Outro", Code: f.Course.Code})
	assert.True(t, core.IsIntegrity(err), "duplicate code error = %v", err)

	_, err = env.Catalog.CreateCourse(ctx, admin, catalog.NewCourse{Name: "  ", Code: "X"})
	assert.True(t, core.IsValidation(err))

	course, err := env.Catalog.CreateCourse(ctx, admin, catalog.NewCourse{Name: " Administração ", Code: "ADM"})
	require.NoError(t, err)
	assert.Equal(t, "Administração", course.Name)

	course, err = env.Catalog.UpdateCourse(ctx, admin, course.ID, catalog.NewCourse{Name: "Administração de Empresas", Code: "ADM"})
	require.NoError(t, err)
	assert.Equal(t, "Administração de Empresas", course.Name)

	courses, err := env.Catalog.QueryCourses(ctx)
	require.NoError(t, err)
	require.Len(t, courses, 2)
	assert.Equal(t, "Administração de Empresas", courses[0].Name)
	assert.Equal(t, f.Course.Name, courses[1].Name)
}

func TestService_Enrollments(t *testing.T) {
	env := testutil.NewEnv(t)
	f := env.NewFixture(t, 2, 0)
	ctx := context.Background()
	admin := f.AdminSession()
	newcomer := env.CreateStudent(t, "Novo", "novo@test.com", "9999", f.Course.ID)

	_, err := env.Catalog.Enroll(ctx, admin, f.Class.ID, f.Students[0].ID)
	assert.Equal(t, catalog.ErrAlreadyEnrolled, err)

	_, err = env.Catalog.Enroll(ctx, admin, f.Class.ID, 999)
	assert.True(t, core.IsValidation(err))

	_, err = env.Catalog.Enroll(ctx, admin, 999, newcomer.ID)
	assert.True(t, core.IsNotFound(err))

	enr, err := env.Catalog.Enroll(ctx, admin, f.Class.ID, newcomer.ID)
	require.NoError(t, err)
	assert.Equal(t, newcomer.ID, enr.StudentID)

	roster, err := env.Catalog.Roster(ctx, f.Class.ID)
	require.NoError(t, err)
	assert.Len(t, roster, 3)

	require.NoError(t, env.Catalog.Unenroll(ctx, admin, f.Class.ID, newcomer.ID))
	ok, err := env.Catalog.IsEnrolled(ctx, f.Class.ID, newcomer.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestService_VisibleClasses(t *testing.T) {
	env := testutil.NewEnv(t)
	f := env.NewFixture(t, 1, 0)
	ctx := context.Background()

	outsider := env.CreateStudent(t, "Fora", "fora@test.com", "8888", f.Course.ID)
	otherProf := env.CreateProfessor(t, "Outro", "outro@test.com")
	coord := env.CreateCoordinator(t, "Coord", "coord@test.com", f.Course.ID)
	idleCoord := env.CreateCoordinator(t, "Idle", "idle@test.com", 0)

	// a class of another course
	other, err := env.Catalog.CreateCourse(ctx, f.AdminSession(), catalog.NewCourse{Name: "Direito", Code: "DIR"})
	require.NoError(t, err)
	disc, err := env.Catalog.CreateDiscipline(ctx, f.AdminSession(), catalog.NewDiscipline{Name: "Penal", Code: "PEN", CourseID: other.ID})
	require.NoError(t, err)
	otherClass, err := env.Catalog.CreateClass(ctx, f.AdminSession(), catalog.NewClass{
		Code:         "B",
		DisciplineID: disc.ID,
		ProfessorID:  otherProf.ID,
		TermID:       f.Term.ID,
	})
	require.NoError(t, err)

	tests := []struct {
		name string
		sess user.Session
		want []int
	}{
		{name: "enrolled student", sess: f.StudentSession(0), want: []int{f.Class.ID}},
		{name: "not enrolled student", sess: user.SessionOf(outsider)},
		{name: "class professor", sess: f.ProfessorSession(), want: []int{f.Class.ID}},
		{name: "other professor", sess: user.SessionOf(otherProf), want: []int{otherClass.ID}},
		{name: "coordinator", sess: user.SessionOf(coord), want: []int{f.Class.ID}},
		{name: "coordinator without course", sess: user.SessionOf(idleCoord)},
		{name: "admin", sess: f.AdminSession(), want: []int{f.Class.ID, otherClass.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classes, err := env.Catalog.VisibleClasses(ctx, tt.sess)
			require.NoError(t, err)
			ids := make([]int, 0, len(classes))
			for _, c := range classes {
				ids = append(ids, c.ID)
			}
			assert.ElementsMatch(t, tt.want, ids)
		})
	}
}

func TestService_Classes(t *testing.T) {
	env := testutil.NewEnv(t)
	f := env.NewFixture(t, 0, 1)
	ctx := context.Background()
	admin := f.AdminSession()

	_, err := env.Catalog.CreateClass(ctx, admin, catalog.NewClass{
		Code:         "Z",
		DisciplineID: f.Discipline.ID,
		ProfessorID:  f.Admin.ID + 100,
		TermID:       f.Term.ID,
	})
	assert.True(t, core.IsValidation(err), "unknown professor error = %v", err)

	class, err := env.Catalog.GetClass(ctx, f.Class.ID)
	require.NoError(t, err)
	assert.Equal(t, f.Discipline.Name, class.DisciplineName)
	assert.Equal(t, f.Course.ID, class.CourseID)
	assert.Equal(t, f.Professor.Name, class.ProfessorName)
	assert.Equal(t, "Projeto Integrador A (2024.1)", class.Label())

	// competencies used by an activity remain editable
	comp, err := env.Catalog.UpdateCompetency(ctx, f.ProfessorSession(), f.Competencies[0].ID, catalog.NewCompetency{
		Name:        "Comunicação",
		Description: "Clareza ao se expressar",
	})
	require.NoError(t, err)
	assert.Equal(t, "Comunicação", comp.Name)

	act, err := env.Evaluations.GetActivity(ctx, f.Activity.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{comp.ID}, act.CompetencyIDs)
	assert.True(t, act.DueDate.After(time.Now()))
}
