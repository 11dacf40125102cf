package evaluation

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/xuri/excelize/v2"

	"github.com/trezcool/feedback360/core/catalog"
	"github.com/trezcool/feedback360/core/user"
)

type (
	CompetencyAverage struct {
		Competency catalog.Competency
		Average    float64
		Count      int
	}

	// ActivityGrades is the average of the peer scores a student received for one activity.
	ActivityGrades struct {
		Activity    Activity
		Averages    []CompetencyAverage
		Overall     float64
		Evaluations int // completed peer evaluations received
	}

	ReportRow struct {
		Student   user.Student
		GroupName string
		Given     int             // completed evaluations of peers
		Expected  int             // peers to evaluate
		Received  int             // completed evaluations by peers
		Averages  map[int]float64 // {competencyID: average received rating}
		Overall   float64
	}

	// ActivityReport is the per student progress and grades of an activity.
	ActivityReport struct {
		Activity     Activity
		Class        catalog.Class
		Competencies []catalog.Competency
		Rows         []ReportRow
	}
)

// average accumulates ratings.
type average struct {
	sum, count int
}

func (a *average) add(rating int) {
	a.sum += rating
	a.count++
}

func (a average) value() float64 {
	if a.count == 0 {
		return 0
	}
	return float64(a.sum) / float64(a.count)
}

// StudentGrades returns, per activity, the averages of the peer scores received by a student.
// Self assessments are not counted.
func (svc *Service) StudentGrades(ctx context.Context, studentID int) ([]ActivityGrades, error) {
	evals, err := svc.repo.QueryEvaluations(ctx, EvaluationFilter{
		EvaluatedID:    studentID,
		Completed:      null.BoolFrom(true),
		SelfAssessment: null.BoolFrom(false),
	})
	if err != nil {
		return nil, errors.Wrap(err, "querying received evaluations")
	}
	if len(evals) == 0 {
		return nil, nil
	}

	evalActivity := make(map[int]int, len(evals)) // {evaluationID: activityID}
	evalCount := make(map[int]int)                // {activityID: count}
	evalIDs := make([]int, 0, len(evals))
	for _, ev := range evals {
		evalActivity[ev.ID] = ev.ActivityID
		evalCount[ev.ActivityID]++
		evalIDs = append(evalIDs, ev.ID)
	}
	scores, err := svc.repo.QueryScores(ctx, evalIDs...)
	if err != nil {
		return nil, errors.Wrap(err, "querying scores")
	}
	perComp := make(map[int]map[int]*average) // {activityID: {competencyID: avg}}
	overall := make(map[int]*average)         // {activityID: avg}
	for _, sc := range scores {
		actID := evalActivity[sc.EvaluationID]
		if perComp[actID] == nil {
			perComp[actID] = make(map[int]*average)
			overall[actID] = new(average)
		}
		if perComp[actID][sc.CompetencyID] == nil {
			perComp[actID][sc.CompetencyID] = new(average)
		}
		perComp[actID][sc.CompetencyID].add(sc.Rating)
		overall[actID].add(sc.Rating)
	}

	grades := make([]ActivityGrades, 0, len(evalCount))
	for actID := range evalCount {
		act, err := svc.repo.GetActivity(ctx, actID)
		if err != nil {
			return nil, errors.Wrap(err, "getting activity")
		}
		comps, err := svc.catalog.QueryCompetencies(ctx, act.CompetencyIDs...)
		if err != nil {
			return nil, errors.Wrap(err, "querying competencies")
		}
		g := ActivityGrades{Activity: act, Evaluations: evalCount[actID]}
		for _, comp := range comps {
			ca := CompetencyAverage{Competency: comp}
			if avg := perComp[actID][comp.ID]; avg != nil {
				ca.Average, ca.Count = avg.value(), avg.count
			}
			g.Averages = append(g.Averages, ca)
		}
		if avg := overall[actID]; avg != nil {
			g.Overall = avg.value()
		}
		grades = append(grades, g)
	}
	sort.Slice(grades, func(i, j int) bool {
		if grades[i].Activity.DueDate.Equal(grades[j].Activity.DueDate) {
			return grades[i].Activity.ID > grades[j].Activity.ID
		}
		return grades[i].Activity.DueDate.After(grades[j].Activity.DueDate)
	})
	return grades, nil
}

// ActivityReport returns the evaluation progress and received averages of every student of the activity class.
func (svc *Service) ActivityReport(ctx context.Context, sess user.Session, activityID int) (*ActivityReport, error) {
	ov, err := svc.ActivityOverview(ctx, sess, activityID)
	if err != nil {
		return nil, err
	}
	evals, err := svc.repo.QueryEvaluations(ctx, EvaluationFilter{ActivityID: activityID, SelfAssessment: null.BoolFrom(false)})
	if err != nil {
		return nil, errors.Wrap(err, "querying evaluations")
	}

	groupOf := make(map[int]int) // {studentID: groupID}
	for _, gm := range ov.Groups {
		for _, id := range gm.Group.MemberIDs {
			groupOf[id] = gm.Group.ID
		}
	}

	// progress only counts evaluations between members of the same current group, as Pending does;
	// averages keep every completed evaluation, including those of a deleted group.
	given := make(map[int]int)    // {studentID: count}
	received := make(map[int]int) // {studentID: count}
	evaluatedBy := make(map[int]int, len(evals))
	var doneIDs []int
	for _, ev := range evals {
		if !ev.Completed {
			continue
		}
		if g, ok := groupOf[ev.EvaluatorID]; ok && g == groupOf[ev.EvaluatedID] {
			given[ev.EvaluatorID]++
			received[ev.EvaluatedID]++
		}
		evaluatedBy[ev.ID] = ev.EvaluatedID
		doneIDs = append(doneIDs, ev.ID)
	}
	perComp := make(map[int]map[int]*average) // {studentID: {competencyID: avg}}
	overall := make(map[int]*average)         // {studentID: avg}
	if len(doneIDs) > 0 {
		scores, err := svc.repo.QueryScores(ctx, doneIDs...)
		if err != nil {
			return nil, errors.Wrap(err, "querying scores")
		}
		for _, sc := range scores {
			sid := evaluatedBy[sc.EvaluationID]
			if perComp[sid] == nil {
				perComp[sid] = make(map[int]*average)
				overall[sid] = new(average)
			}
			if perComp[sid][sc.CompetencyID] == nil {
				perComp[sid][sc.CompetencyID] = new(average)
			}
			perComp[sid][sc.CompetencyID].add(sc.Rating)
			overall[sid].add(sc.Rating)
		}
	}

	rep := &ActivityReport{Activity: ov.Activity, Class: ov.Class, Competencies: ov.Competencies}
	addRow := func(s user.Student, groupName string, expected int) {
		row := ReportRow{
			Student:   s,
			GroupName: groupName,
			Given:     given[s.ID],
			Expected:  expected,
			Received:  received[s.ID],
			Averages:  make(map[int]float64, len(ov.Competencies)),
		}
		for cid, avg := range perComp[s.ID] {
			row.Averages[cid] = avg.value()
		}
		if avg := overall[s.ID]; avg != nil {
			row.Overall = avg.value()
		}
		rep.Rows = append(rep.Rows, row)
	}
	for _, gm := range ov.Groups {
		for _, s := range gm.Members {
			addRow(s, gm.Group.Name, len(gm.Members)-1)
		}
	}
	for _, s := range ov.Ungrouped {
		addRow(s, "", 0)
	}
	return rep, nil
}

// WriteXLSX writes the report as an Excel workbook.
func (rep *ActivityReport) WriteXLSX(w io.Writer) error {
	const sheet = "Sheet1"
	f := excelize.NewFile()

	headers := []interface{}{"Aluno", "Matrícula", "Grupo", "Avaliações feitas", "Avaliações esperadas", "Avaliações recebidas"}
	for _, comp := range rep.Competencies {
		headers = append(headers, comp.Name)
	}
	headers = append(headers, "Média geral")
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return errors.Wrap(err, "writing header")
	}

	for i, row := range rep.Rows {
		cells := []interface{}{row.Student.Name, row.Student.EnrollmentNumber, row.GroupName, row.Given, row.Expected, row.Received}
		for _, comp := range rep.Competencies {
			if avg, ok := row.Averages[comp.ID]; ok {
				cells = append(cells, avg)
			} else {
				cells = append(cells, "")
			}
		}
		cells = append(cells, row.Overall)
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err = f.SetSheetRow(sheet, cell, &cells); err != nil {
			return errors.Wrapf(err, "writing row %d", i+2)
		}
	}
	return errors.Wrap(f.Write(w), "writing workbook")
}

// Filename returns the download name of the report workbook.
func (rep *ActivityReport) Filename() string {
	return fmt.Sprintf("relatorio_atividade_%d.xlsx", rep.Activity.ID)
}
