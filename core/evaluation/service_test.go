package evaluation_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"
	"github.com/xuri/excelize/v2"

	"github.com/trezcool/feedback360/core"
	"github.com/trezcool/feedback360/core/catalog"
	"github.com/trezcool/feedback360/core/evaluation"
	"github.com/trezcool/feedback360/core/notification"
	"github.com/trezcool/feedback360/core/user"
	"github.com/trezcool/feedback360/testutil"
)

func countEvaluations(t *testing.T, env *testutil.Env, filter evaluation.EvaluationFilter) int {
	t.Helper()
	evals, err := env.EvalRepo.QueryEvaluations(context.Background(), filter)
	require.NoError(t, err)
	return len(evals)
}

func notificationsOf(t *testing.T, env *testutil.Env, sess user.Session) []notification.Notification {
	t.Helper()
	notifs, err := env.Notifications.List(context.Background(), sess, false, 0)
	require.NoError(t, err)
	return notifs
}

// ratings returns one rating per fixture competency, in order.
func ratings(f *testutil.Fixture, values ...int) map[int]int {
	r := make(map[int]int, len(values))
	for i, v := range values {
		r[f.Competencies[i].ID] = v
	}
	return r
}

func TestService_CreateActivity(t *testing.T) {
	env := testutil.NewEnv(t)
	f := env.NewFixture(t, 1, 2)
	ctx := context.Background()
	stranger := user.SessionOf(env.CreateProfessor(t, "Outro", "outro@test.com"))

	na := func(compIDs ...int) evaluation.NewActivity {
		return evaluation.NewActivity{
			Title:         "Sprint 2",
			DueDate:       time.Now().Add(24 * time.Hour),
			ClassID:       f.Class.ID,
			CompetencyIDs: compIDs,
		}
	}

	_, err := env.Evaluations.CreateActivity(ctx, stranger, na(f.CompetencyIDs()...))
	assert.True(t, core.IsPermission(err), "other professor error = %v", err)

	_, err = env.Evaluations.CreateActivity(ctx, f.StudentSession(0), na(f.CompetencyIDs()...))
	assert.True(t, core.IsPermission(err), "student error = %v", err)

	_, err = env.Evaluations.CreateActivity(ctx, f.ProfessorSession(), na())
	assert.True(t, core.IsValidation(err), "no competencies error = %v", err)

	_, err = env.Evaluations.CreateActivity(ctx, f.ProfessorSession(), na(f.Competencies[0].ID, 999))
	assert.Equal(t, evaluation.ErrUnknownCompetency, err)

	act, err := env.Evaluations.CreateActivity(ctx, f.AdminSession(), na(f.Competencies[1].ID, f.Competencies[1].ID))
	require.NoError(t, err)
	assert.Equal(t, []int{f.Competencies[1].ID}, act.CompetencyIDs, "duplicates should be dropped")
}

func TestService_CreateGroup(t *testing.T) {
	env := testutil.NewEnv(t)
	f := env.NewFixture(t, 5, 2)
	ctx := context.Background()
	outsider := env.CreateStudent(t, "Fora", "fora@test.com", "8888", f.Course.ID)
	stranger := user.SessionOf(env.CreateProfessor(t, "Outro", "outro@test.com"))

	grp := env.CreateGroup(t, f, "Grupo 1", 0, 1, 2)
	assert.ElementsMatch(t, f.StudentIDs(0, 1, 2), grp.MemberIDs)
	assert.Equal(t, 6, countEvaluations(t, env, evaluation.EvaluationFilter{ActivityID: f.Activity.ID}))
	for i := 0; i < 3; i++ {
		notifs := notificationsOf(t, env, f.StudentSession(i))
		require.Len(t, notifs, 1)
		assert.Equal(t, "Novo grupo", notifs[0].Title)
	}

	tests := []struct {
		name      string
		sess      user.Session
		members   []int
		wantPerm  bool
		wantValid bool
	}{
		{name: "other professor", sess: stranger, members: f.StudentIDs(3, 4), wantPerm: true},
		{name: "student", sess: f.StudentSession(3), members: f.StudentIDs(3, 4), wantPerm: true},
		{name: "no members", sess: f.ProfessorSession(), wantValid: true},
		{name: "already grouped", sess: f.ProfessorSession(), members: f.StudentIDs(2, 3), wantValid: true},
		{name: "not enrolled", sess: f.ProfessorSession(), members: []int{f.Students[3].ID, outsider.ID}, wantValid: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.Evaluations.CreateGroup(ctx, tt.sess, f.Activity.ID, evaluation.NewGroup{Name: "Grupo 2", MemberIDs: tt.members})
			switch {
			case tt.wantPerm:
				assert.True(t, core.IsPermission(err), "error = %v, want permission error", err)
			case tt.wantValid:
				assert.True(t, core.IsValidation(err), "error = %v, want validation error", err)
			}
		})
	}
	assert.Equal(t, 6, countEvaluations(t, env, evaluation.EvaluationFilter{ActivityID: f.Activity.ID}), "failed attempts should write nothing")

	// a lone member has no one to evaluate nor any reason to be notified
	_, err := env.Evaluations.CreateGroup(ctx, f.AdminSession(), f.Activity.ID, evaluation.NewGroup{Name: "Solo", MemberIDs: f.StudentIDs(3)})
	require.NoError(t, err)
	assert.Equal(t, 6, countEvaluations(t, env, evaluation.EvaluationFilter{ActivityID: f.Activity.ID}))
	assert.Empty(t, notificationsOf(t, env, f.StudentSession(3)))

	ov, err := env.Evaluations.ActivityOverview(ctx, f.ProfessorSession(), f.Activity.ID)
	require.NoError(t, err)
	require.Len(t, ov.Groups, 2)
	assert.Equal(t, "Grupo 1", ov.Groups[0].Group.Name)
	assert.Len(t, ov.Groups[0].Members, 3)
	require.Len(t, ov.Ungrouped, 1)
	assert.Equal(t, f.Students[4].ID, ov.Ungrouped[0].ID)

	_, err = env.Evaluations.ActivityOverview(ctx, stranger, f.Activity.ID)
	assert.True(t, core.IsPermission(err))

	coord := user.SessionOf(env.CreateCoordinator(t, "Coord", "coord@test.com", f.Course.ID))
	_, err = env.Evaluations.ActivityOverview(ctx, coord, f.Activity.ID)
	assert.NoError(t, err)
}

func TestService_SubmitScores(t *testing.T) {
	env := testutil.NewEnv(t)
	f := env.NewFixture(t, 3, 2)
	ctx := context.Background()
	env.CreateGroup(t, f, "Grupo 1", 0, 1, 2)

	ev := env.FindEvaluation(t, f, 0, 1)
	evaluator, evaluated := f.StudentSession(0), f.StudentSession(1)
	extra := ratings(f, 3, 3)
	extra[999] = 3

	tests := []struct {
		name    string
		sess    user.Session
		ratings map[int]int
		wantErr func(error) bool
	}{
		{name: "not the evaluator", sess: evaluated, ratings: ratings(f, 5, 4), wantErr: core.IsPermission},
		{name: "professor", sess: f.ProfessorSession(), ratings: ratings(f, 5, 4), wantErr: core.IsPermission},
		{name: "missing competency", sess: evaluator, ratings: ratings(f, 5), wantErr: core.IsValidation},
		{name: "rating above range", sess: evaluator, ratings: ratings(f, 6, 4), wantErr: core.IsValidation},
		{name: "rating below range", sess: evaluator, ratings: ratings(f, 5, 0), wantErr: core.IsValidation},
		{name: "unknown competency", sess: evaluator, ratings: extra, wantErr: core.IsValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.Evaluations.SubmitScores(ctx, tt.sess, ev.ID, tt.ratings)
			assert.True(t, tt.wantErr(err), "SubmitScores() error = %v", err)

			scores, err := env.EvalRepo.QueryScores(ctx, ev.ID)
			require.NoError(t, err)
			assert.Empty(t, scores, "nothing should be written")
		})
	}
	require.Len(t, notificationsOf(t, env, evaluated), 1)

	require.NoError(t, env.Evaluations.SubmitScores(ctx, evaluator, ev.ID, ratings(f, 5, 4)))

	scores, err := env.EvalRepo.QueryScores(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, f.Competencies[0].ID, scores[0].CompetencyID)
	assert.Equal(t, 5, scores[0].Rating)
	assert.Equal(t, 4, scores[1].Rating)

	ev, err = env.EvalRepo.GetEvaluation(ctx, ev.ID)
	require.NoError(t, err)
	assert.True(t, ev.Completed)
	assert.True(t, ev.CompletedAt.Valid)

	notifs := notificationsOf(t, env, evaluated)
	require.Len(t, notifs, 2)
	assert.Equal(t, "Nova avaliação recebida", notifs[0].Title)
	assert.Equal(t, null.StringFrom("/notas"), notifs[0].Link)
	assert.Equal(t, notification.KindSuccess, notifs[0].Kind)

	err = env.Evaluations.SubmitScores(ctx, evaluator, ev.ID, ratings(f, 1, 1))
	assert.Equal(t, evaluation.ErrAlreadyCompleted, err)
	scores, err = env.EvalRepo.QueryScores(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, scores[0].Rating, "scores should be immutable")

	form, err := env.Evaluations.EvaluationForm(ctx, evaluator, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, f.Students[1].ID, form.Evaluated.ID)
	assert.Len(t, form.Competencies, 2)
	assert.Len(t, form.Scores, 2)

	_, err = env.Evaluations.EvaluationForm(ctx, evaluated, ev.ID)
	assert.True(t, core.IsPermission(err))
}

func TestService_Pending(t *testing.T) {
	env := testutil.NewEnv(t)
	f := env.NewFixture(t, 4, 1)
	ctx := context.Background()
	env.CreateGroup(t, f, "Grupo 1", 0, 1, 2)

	pending := func(i int) evaluation.PendingSummary {
		t.Helper()
		sum, err := env.Evaluations.Pending(ctx, f.Students[i].ID)
		require.NoError(t, err)
		return sum
	}

	sum := pending(0)
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, map[int]int{f.Activity.ID: 2}, sum.ByActivity)
	assert.Equal(t, 0, pending(3).Total, "ungrouped students have nothing to do")

	require.NoError(t, env.Evaluations.SubmitScores(ctx, f.StudentSession(0), env.FindEvaluation(t, f, 0, 1).ID, ratings(f, 3)))
	assert.Equal(t, 1, pending(0).Total)
	assert.Equal(t, 2, pending(1).Total, "receiving an evaluation does not change what is owed")

	// self assessments are not counted
	self, err := env.Evaluations.EnsureSelfAssessment(ctx, f.StudentSession(0), f.Activity.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, pending(0).Total)

	require.NoError(t, env.Evaluations.SubmitScores(ctx, f.StudentSession(0), env.FindEvaluation(t, f, 0, 2).ID, ratings(f, 4)))
	sum = pending(0)
	assert.Equal(t, 0, sum.Total)
	assert.Empty(t, sum.ByActivity)

	items, err := env.Evaluations.StudentActivities(ctx, f.Students[0].ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].Grouped)
	assert.False(t, items[0].IsPending())

	detail, err := env.Evaluations.StudentActivityDetail(ctx, f.StudentSession(1), f.Activity.ID)
	require.NoError(t, err)
	require.Len(t, detail.Peers, 2)
	for _, ps := range detail.Peers {
		assert.True(t, ps.Pending())
	}
	assert.Nil(t, detail.SelfAssessment)

	detail, err = env.Evaluations.StudentActivityDetail(ctx, f.StudentSession(0), f.Activity.ID)
	require.NoError(t, err)
	require.NotNil(t, detail.SelfAssessment)
	assert.Equal(t, self.ID, detail.SelfAssessment.ID)
}

func TestService_SelfAssessment(t *testing.T) {
	env := testutil.NewEnv(t)
	f := env.NewFixture(t, 2, 2)
	ctx := context.Background()
	outsider := user.SessionOf(env.CreateStudent(t, "Fora", "fora@test.com", "8888", f.Course.ID))
	sess := f.StudentSession(0)

	_, err := env.Evaluations.EnsureSelfAssessment(ctx, f.ProfessorSession(), f.Activity.ID)
	assert.True(t, core.IsPermission(err))
	_, err = env.Evaluations.EnsureSelfAssessment(ctx, outsider, f.Activity.ID)
	assert.True(t, core.IsPermission(err))
	_, err = env.Evaluations.EnsureSelfAssessment(ctx, sess, 999)
	assert.True(t, core.IsNotFound(err))

	self, err := env.Evaluations.EnsureSelfAssessment(ctx, sess, f.Activity.ID)
	require.NoError(t, err)
	assert.True(t, self.SelfAssessment)
	assert.Equal(t, self.EvaluatorID, self.EvaluatedID)

	again, err := env.Evaluations.EnsureSelfAssessment(ctx, sess, f.Activity.ID)
	require.NoError(t, err)
	assert.Equal(t, self.ID, again.ID)

	require.NoError(t, env.Evaluations.SubmitScores(ctx, sess, self.ID, ratings(f, 5, 5)))
	assert.Empty(t, notificationsOf(t, env, sess), "self assessments notify no one")

	grades, err := env.Evaluations.StudentGrades(ctx, f.Students[0].ID)
	require.NoError(t, err)
	assert.Empty(t, grades, "self assessments are not graded")
}

func TestService_UpdateActivity(t *testing.T) {
	env := testutil.NewEnv(t)
	f := env.NewFixture(t, 2, 2)
	ctx := context.Background()
	env.CreateGroup(t, f, "Grupo 1", 0, 1)
	prof := f.ProfessorSession()

	na := func(title string, classID int, compIDs ...int) evaluation.NewActivity {
		return evaluation.NewActivity{Title: title, DueDate: f.Activity.DueDate, ClassID: classID, CompetencyIDs: compIDs}
	}
	c1, c2 := f.Competencies[0].ID, f.Competencies[1].ID

	act, err := env.Evaluations.UpdateActivity(ctx, prof, f.Activity.ID, na("Sprint 1", f.Class.ID, c1))
	require.NoError(t, err)
	assert.Equal(t, []int{c1}, act.CompetencyIDs)

	_, err = env.Evaluations.UpdateActivity(ctx, prof, f.Activity.ID, na("Sprint 1", f.Class.ID+1, c1))
	assert.True(t, core.IsValidation(err), "class change error = %v", err)

	require.NoError(t, env.Evaluations.SubmitScores(ctx, f.StudentSession(0), env.FindEvaluation(t, f, 0, 1).ID, map[int]int{c1: 4}))

	_, err = env.Evaluations.UpdateActivity(ctx, prof, f.Activity.ID, na("Sprint 1", f.Class.ID, c1, c2))
	assert.Equal(t, evaluation.ErrActivityLocked, err)

	act, err = env.Evaluations.UpdateActivity(ctx, prof, f.Activity.ID, na("Sprint 1 (final)", f.Class.ID, c1))
	require.NoError(t, err)
	assert.Equal(t, "Sprint 1 (final)", act.Title)
}

func TestService_DeleteGroup(t *testing.T) {
	env := testutil.NewEnv(t)
	f := env.NewFixture(t, 3, 1)
	ctx := context.Background()
	grp := env.CreateGroup(t, f, "Grupo 1", 0, 1, 2)

	done := env.FindEvaluation(t, f, 0, 1)
	require.NoError(t, env.Evaluations.SubmitScores(ctx, f.StudentSession(0), done.ID, ratings(f, 4)))

	_, err := env.Evaluations.DeleteGroup(ctx, f.StudentSession(0), grp.ID)
	assert.True(t, core.IsPermission(err))

	deleted, err := env.Evaluations.DeleteGroup(ctx, f.ProfessorSession(), grp.ID)
	require.NoError(t, err)
	assert.Equal(t, "Grupo 1", deleted.Name)

	evals, err := env.EvalRepo.QueryEvaluations(ctx, evaluation.EvaluationFilter{ActivityID: f.Activity.ID})
	require.NoError(t, err)
	require.Len(t, evals, 1, "only completed evaluations survive")
	assert.Equal(t, done.ID, evals[0].ID)

	_, err = env.Evaluations.DeleteGroup(ctx, f.ProfessorSession(), grp.ID)
	assert.True(t, core.IsNotFound(err))

	// members can be grouped again; the completed pair is kept as is
	env.CreateGroup(t, f, "Grupo 2", 0, 1)
	assert.Equal(t, 2, countEvaluations(t, env, evaluation.EvaluationFilter{ActivityID: f.Activity.ID}))
	assert.Equal(t, 1, countEvaluations(t, env, evaluation.EvaluationFilter{ActivityID: f.Activity.ID, Completed: null.BoolFrom(true)}))
}

func TestService_UnenrollGroupedStudent(t *testing.T) {
	testutil.ForEachStore(t, func(t *testing.T, env *testutil.Env) {
		f := env.NewFixture(t, 3, 1)
		ctx := context.Background()
		grp := env.CreateGroup(t, f, "Grupo 1", 0, 1, 2)
		before, err := env.Evaluations.Pending(ctx, f.Students[0].ID)
		require.NoError(t, err)

		err = env.Catalog.Unenroll(ctx, f.ProfessorSession(), f.Class.ID, f.Students[2].ID)
		assert.Equal(t, catalog.ErrStudentGrouped, err)

		enrolled, err := env.Catalog.IsEnrolled(ctx, f.Class.ID, f.Students[2].ID)
		require.NoError(t, err)
		assert.True(t, enrolled)
		after, err := env.Evaluations.Pending(ctx, f.Students[0].ID)
		require.NoError(t, err)
		assert.Equal(t, before.Total, after.Total)

		_, err = env.Evaluations.DeleteGroup(ctx, f.ProfessorSession(), grp.ID)
		require.NoError(t, err)
		require.NoError(t, env.Catalog.Unenroll(ctx, f.ProfessorSession(), f.Class.ID, f.Students[2].ID))

		roster, err := env.Catalog.Roster(ctx, f.Class.ID)
		require.NoError(t, err)
		assert.Len(t, roster, 2)

		// a student who left the class cannot be grouped again
		_, err = env.Evaluations.CreateGroup(ctx, f.ProfessorSession(), f.Activity.ID, evaluation.NewGroup{
			Name:      "Grupo 2",
			MemberIDs: f.StudentIDs(0, 2),
		})
		assert.True(t, core.IsValidation(err), "CreateGroup() error = %v", err)
	})
}

func TestService_ActivityReport_regroup(t *testing.T) {
	testutil.ForEachStore(t, func(t *testing.T, env *testutil.Env) {
		f := env.NewFixture(t, 3, 1)
		ctx := context.Background()
		grp := env.CreateGroup(t, f, "Grupo 1", 0, 1)
		ev := env.FindEvaluation(t, f, 0, 1)
		require.NoError(t, env.Evaluations.SubmitScores(ctx, f.StudentSession(0), ev.ID, ratings(f, 4)))

		_, err := env.Evaluations.DeleteGroup(ctx, f.ProfessorSession(), grp.ID)
		require.NoError(t, err)
		env.CreateGroup(t, f, "Grupo 2", 0, 2)

		sum, err := env.Evaluations.Pending(ctx, f.Students[0].ID)
		require.NoError(t, err)
		assert.Equal(t, 1, sum.Total)

		rep, err := env.Evaluations.ActivityReport(ctx, f.ProfessorSession(), f.Activity.ID)
		require.NoError(t, err)
		rows := make(map[int]evaluation.ReportRow, len(rep.Rows))
		for _, row := range rep.Rows {
			rows[row.Student.ID] = row
		}

		tests := []struct {
			name     string
			student  int
			given    int
			expected int
			received int
		}{
			{name: "regrouped evaluator", student: 0, given: 0, expected: 1, received: 0},
			{name: "former peer", student: 1, given: 0, expected: 0, received: 0},
			{name: "new peer", student: 2, given: 0, expected: 1, received: 0},
		}
		for _, tt := range tests {
			row := rows[f.Students[tt.student].ID]
			assert.Equal(t, tt.given, row.Given, "%s: given", tt.name)
			assert.Equal(t, tt.expected, row.Expected, "%s: expected", tt.name)
			assert.Equal(t, tt.received, row.Received, "%s: received", tt.name)
			assert.LessOrEqual(t, row.Given, row.Expected, tt.name)
		}

		// scores already given still count towards the grade
		assert.InDelta(t, 4.0, rows[f.Students[1].ID].Overall, 1e-9)
	})
}

func TestService_Grades(t *testing.T) {
	env := testutil.NewEnv(t)
	f := env.NewFixture(t, 4, 2)
	ctx := context.Background()
	env.CreateGroup(t, f, "Grupo 1", 0, 1, 2)

	submit := func(evaluator, evaluated int, values ...int) {
		t.Helper()
		ev := env.FindEvaluation(t, f, evaluator, evaluated)
		require.NoError(t, env.Evaluations.SubmitScores(ctx, f.StudentSession(evaluator), ev.ID, ratings(f, values...)))
	}
	submit(1, 0, 5, 3)
	submit(2, 0, 4, 4)
	submit(0, 1, 2, 2)

	grades, err := env.Evaluations.StudentGrades(ctx, f.Students[0].ID)
	require.NoError(t, err)
	require.Len(t, grades, 1)
	g := grades[0]
	assert.Equal(t, f.Activity.ID, g.Activity.ID)
	assert.Equal(t, 2, g.Evaluations)
	require.Len(t, g.Averages, 2)
	assert.InDelta(t, 4.5, g.Averages[0].Average, 1e-9)
	assert.Equal(t, 2, g.Averages[0].Count)
	assert.InDelta(t, 3.5, g.Averages[1].Average, 1e-9)
	assert.InDelta(t, 4.0, g.Overall, 1e-9)

	grades, err = env.Evaluations.StudentGrades(ctx, f.Students[3].ID)
	require.NoError(t, err)
	assert.Empty(t, grades)

	rep, err := env.Evaluations.ActivityReport(ctx, f.ProfessorSession(), f.Activity.ID)
	require.NoError(t, err)
	require.Len(t, rep.Rows, 4)
	rows := make(map[int]evaluation.ReportRow, len(rep.Rows))
	for _, row := range rep.Rows {
		rows[row.Student.ID] = row
	}
	first := rows[f.Students[0].ID]
	assert.Equal(t, "Grupo 1", first.GroupName)
	assert.Equal(t, 1, first.Given)
	assert.Equal(t, 2, first.Expected)
	assert.Equal(t, 2, first.Received)
	assert.InDelta(t, 4.5, first.Averages[f.Competencies[0].ID], 1e-9)
	assert.InDelta(t, 4.0, first.Overall, 1e-9)
	assert.Equal(t, "", rows[f.Students[3].ID].GroupName)
	assert.Equal(t, 0, rows[f.Students[3].ID].Expected)

	var buf bytes.Buffer
	require.NoError(t, rep.WriteXLSX(&buf))
	wb, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	xlRows, err := wb.GetRows("Sheet1")
	require.NoError(t, err)
	require.Len(t, xlRows, 5)
	assert.Equal(t, "Aluno", xlRows[0][0])
	assert.Equal(t, "Média geral", xlRows[0][len(xlRows[0])-1])
	assert.Contains(t, rep.Filename(), ".xlsx")

	_, err = env.Evaluations.ActivityReport(ctx, f.StudentSession(0), f.Activity.ID)
	assert.True(t, core.IsPermission(err))
}
