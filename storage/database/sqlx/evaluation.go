package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/feedback360/core/evaluation"
)

var (
	activityColumns   = []string{"id", "title", "description", "due_date", "class_id", "created_at"}
	groupColumns      = []string{"id", "name", "activity_id", "created_at"}
	evaluationColumns = []string{
		"id", "evaluator_id", "evaluated_id", "activity_id", "completed", "self_assessment", "created_at", "completed_at",
	}
)

type evaluationRepository struct {
	db *sqlx.DB
}

var _ evaluation.Repository = (*evaluationRepository)(nil) // interface compliance check

func NewEvaluationRepository(db *sqlx.DB) evaluation.Repository {
	return &evaluationRepository{db: db}
}

// Activities

func setActivityCompetencies(ctx context.Context, tx *sqlx.Tx, act evaluation.Activity) error {
	if _, err := exec(ctx, tx, psql.Delete("activity_competencies").Where(sq.Eq{"activity_id": act.ID})); err != nil {
		return err
	}
	if len(act.CompetencyIDs) == 0 {
		return nil
	}
	b := psql.Insert("activity_competencies").Columns("activity_id", "competency_id")
	for _, cid := range act.CompetencyIDs {
		b = b.Values(act.ID, cid)
	}
	_, err := exec(ctx, tx, b)
	return err
}

// loadCompetencies fills the CompetencyIDs of acts.
func (repo *evaluationRepository) loadCompetencies(ctx context.Context, acts []evaluation.Activity) error {
	if len(acts) == 0 {
		return nil
	}
	idx := make(map[int]int, len(acts)) // {activityID: index}
	ids := make([]int, 0, len(acts))
	for i, act := range acts {
		idx[act.ID] = i
		ids = append(ids, act.ID)
	}
	var links []struct {
		ActivityID   int `db:"activity_id"`
		CompetencyID int `db:"competency_id"`
	}
	b := psql.Select("activity_id", "competency_id").
		From("activity_competencies").
		Where(sq.Eq{"activity_id": ids}).
		OrderBy("activity_id", "competency_id")
	if err := selectAll(ctx, repo.db, &links, b); err != nil {
		return errors.Wrap(err, "querying activity competencies")
	}
	for _, l := range links {
		i := idx[l.ActivityID]
		acts[i].CompetencyIDs = append(acts[i].CompetencyIDs, l.CompetencyID)
	}
	return nil
}

func (repo *evaluationRepository) CreateActivity(ctx context.Context, act evaluation.Activity) (evaluation.Activity, error) {
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		id, err := insertReturningID(ctx, tx, psql.Insert("activities").
			Columns("title", "description", "due_date", "class_id", "created_at").
			Values(act.Title, act.Description, act.DueDate, act.ClassID, act.CreatedAt))
		if err != nil {
			return err
		}
		act.ID = id
		return setActivityCompetencies(ctx, tx, act)
	})
	return act, err
}

func (repo *evaluationRepository) UpdateActivity(ctx context.Context, act evaluation.Activity) (evaluation.Activity, error) {
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		res, err := exec(ctx, tx, psql.Update("activities").
			Set("title", act.Title).
			Set("description", act.Description).
			Set("due_date", act.DueDate).
			Where(sq.Eq{"id": act.ID}))
		if err = checkAffected(res, err, evaluation.ErrActivityNotFound); err != nil {
			return err
		}
		return setActivityCompetencies(ctx, tx, act)
	})
	return act, err
}

func (repo *evaluationRepository) GetActivity(ctx context.Context, id int) (evaluation.Activity, error) {
	var act evaluation.Activity
	if err := get(ctx, repo.db, &act, psql.Select(activityColumns...).From("activities").Where(sq.Eq{"id": id})); err != nil {
		return act, notFound(err, evaluation.ErrActivityNotFound)
	}
	acts := []evaluation.Activity{act}
	err := repo.loadCompetencies(ctx, acts)
	return acts[0], err
}

func (repo *evaluationRepository) QueryActivities(ctx context.Context, filter evaluation.ActivityFilter) ([]evaluation.Activity, error) {
	b := psql.Select(activityColumns...).From("activities").OrderBy("due_date", "id")
	if len(filter.ClassIDs) > 0 {
		b = b.Where(sq.Eq{"class_id": filter.ClassIDs})
	}
	var acts []evaluation.Activity
	if err := selectAll(ctx, repo.db, &acts, b); err != nil {
		return nil, err
	}
	return acts, repo.loadCompetencies(ctx, acts)
}

func (repo *evaluationRepository) DeleteActivity(ctx context.Context, id int) error {
	res, err := exec(ctx, repo.db, psql.Delete("activities").Where(sq.Eq{"id": id}))
	return checkAffected(res, err, evaluation.ErrActivityNotFound)
}

// Groups

func (repo *evaluationRepository) loadMembers(ctx context.Context, groups []evaluation.Group) error {
	if len(groups) == 0 {
		return nil
	}
	idx := make(map[int]int, len(groups)) // {groupID: index}
	ids := make([]int, 0, len(groups))
	for i, grp := range groups {
		idx[grp.ID] = i
		ids = append(ids, grp.ID)
	}
	var members []struct {
		GroupID   int `db:"group_id"`
		StudentID int `db:"student_id"`
	}
	b := psql.Select("group_id", "student_id").
		From("group_members").
		Where(sq.Eq{"group_id": ids}).
		OrderBy("group_id", "student_id")
	if err := selectAll(ctx, repo.db, &members, b); err != nil {
		return errors.Wrap(err, "querying group members")
	}
	for _, m := range members {
		i := idx[m.GroupID]
		groups[i].MemberIDs = append(groups[i].MemberIDs, m.StudentID)
	}
	return nil
}

func (repo *evaluationRepository) CreateGroup(ctx context.Context, grp evaluation.Group, evals []evaluation.Evaluation) (evaluation.Group, error) {
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		var classID int
		if err := get(ctx, tx, &classID, psql.Select("class_id").From("activities").Where(sq.Eq{"id": grp.ActivityID})); err != nil {
			return notFound(err, evaluation.ErrActivityNotFound)
		}
		id, err := insertReturningID(ctx, tx, psql.Insert("student_groups").
			Columns("name", "activity_id", "created_at").
			Values(grp.Name, grp.ActivityID, grp.CreatedAt))
		if err != nil {
			return err
		}
		grp.ID = id

		if len(grp.MemberIDs) > 0 {
			b := psql.Insert("group_members").Columns("group_id", "activity_id", "class_id", "student_id")
			for _, sid := range grp.MemberIDs {
				b = b.Values(grp.ID, grp.ActivityID, classID, sid)
			}
			if _, err = exec(ctx, tx, b); err != nil {
				return err
			}
		}

		if len(evals) > 0 {
			b := psql.Insert("evaluations").
				Columns("evaluator_id", "evaluated_id", "activity_id", "completed", "self_assessment", "created_at").
				Suffix("ON CONFLICT (evaluator_id, evaluated_id, activity_id) DO NOTHING")
			for _, ev := range evals {
				b = b.Values(ev.EvaluatorID, ev.EvaluatedID, ev.ActivityID, false, ev.SelfAssessment, ev.CreatedAt)
			}
			if _, err = exec(ctx, tx, b); err != nil {
				return err
			}
		}
		return nil
	})
	return grp, err
}

func (repo *evaluationRepository) GetGroup(ctx context.Context, id int) (evaluation.Group, error) {
	var grp evaluation.Group
	if err := get(ctx, repo.db, &grp, psql.Select(groupColumns...).From("student_groups").Where(sq.Eq{"id": id})); err != nil {
		return grp, notFound(err, evaluation.ErrGroupNotFound)
	}
	groups := []evaluation.Group{grp}
	err := repo.loadMembers(ctx, groups)
	return groups[0], err
}

func (repo *evaluationRepository) QueryGroups(ctx context.Context, activityID int) ([]evaluation.Group, error) {
	var groups []evaluation.Group
	b := psql.Select(groupColumns...).From("student_groups").Where(sq.Eq{"activity_id": activityID}).OrderBy("name", "id")
	if err := selectAll(ctx, repo.db, &groups, b); err != nil {
		return nil, err
	}
	return groups, repo.loadMembers(ctx, groups)
}

func (repo *evaluationRepository) DeleteGroup(ctx context.Context, id int) error {
	grp, err := repo.GetGroup(ctx, id)
	if err != nil {
		return err
	}
	return withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		if len(grp.MemberIDs) > 0 {
			_, err := exec(ctx, tx, psql.Delete("evaluations").Where(sq.Eq{
				"activity_id":     grp.ActivityID,
				"evaluator_id":    grp.MemberIDs,
				"evaluated_id":    grp.MemberIDs,
				"completed":       false,
				"self_assessment": false,
			}))
			if err != nil {
				return err
			}
		}
		res, err := exec(ctx, tx, psql.Delete("student_groups").Where(sq.Eq{"id": id}))
		return checkAffected(res, err, evaluation.ErrGroupNotFound)
	})
}

// Evaluations

func (repo *evaluationRepository) CreateEvaluation(ctx context.Context, ev evaluation.Evaluation) (evaluation.Evaluation, error) {
	id, err := insertReturningID(ctx, repo.db, psql.Insert("evaluations").
		Columns("evaluator_id", "evaluated_id", "activity_id", "completed", "self_assessment", "created_at").
		Values(ev.EvaluatorID, ev.EvaluatedID, ev.ActivityID, ev.Completed, ev.SelfAssessment, ev.CreatedAt))
	ev.ID = id
	return ev, err
}

func (repo *evaluationRepository) GetEvaluation(ctx context.Context, id int) (evaluation.Evaluation, error) {
	var ev evaluation.Evaluation
	err := get(ctx, repo.db, &ev, psql.Select(evaluationColumns...).From("evaluations").Where(sq.Eq{"id": id}))
	return ev, notFound(err, evaluation.ErrEvaluationNotFound)
}

func (repo *evaluationRepository) FindEvaluation(ctx context.Context, evaluatorID, evaluatedID, activityID int) (evaluation.Evaluation, error) {
	var ev evaluation.Evaluation
	err := get(ctx, repo.db, &ev, psql.Select(evaluationColumns...).From("evaluations").Where(sq.Eq{
		"evaluator_id": evaluatorID,
		"evaluated_id": evaluatedID,
		"activity_id":  activityID,
	}))
	return ev, notFound(err, evaluation.ErrEvaluationNotFound)
}

func (repo *evaluationRepository) QueryEvaluations(ctx context.Context, filter evaluation.EvaluationFilter) ([]evaluation.Evaluation, error) {
	where := sq.Eq{}
	if filter.ActivityID != 0 {
		where["activity_id"] = filter.ActivityID
	}
	if filter.EvaluatorID != 0 {
		where["evaluator_id"] = filter.EvaluatorID
	}
	if filter.EvaluatedID != 0 {
		where["evaluated_id"] = filter.EvaluatedID
	}
	if filter.Completed.Valid {
		where["completed"] = filter.Completed.Bool
	}
	if filter.SelfAssessment.Valid {
		where["self_assessment"] = filter.SelfAssessment.Bool
	}
	b := psql.Select(evaluationColumns...).From("evaluations").OrderBy("id")
	if len(where) > 0 {
		b = b.Where(where)
	}
	var evals []evaluation.Evaluation
	err := selectAll(ctx, repo.db, &evals, b)
	return evals, err
}

func (repo *evaluationRepository) CompleteEvaluation(ctx context.Context, evaluationID int, completedAt time.Time, scores []evaluation.Score) error {
	return withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		res, err := exec(ctx, tx, psql.Update("evaluations").
			Set("completed", true).
			Set("completed_at", completedAt).
			Where(sq.Eq{"id": evaluationID, "completed": false}))
		if err = checkAffected(res, err, evaluation.ErrAlreadyCompleted); err != nil {
			return err
		}
		if len(scores) == 0 {
			return nil
		}
		b := psql.Insert("scores").Columns("evaluation_id", "competency_id", "rating", "created_at")
		for _, sc := range scores {
			b = b.Values(evaluationID, sc.CompetencyID, sc.Rating, completedAt)
		}
		_, err = exec(ctx, tx, b)
		return err
	})
}

func (repo *evaluationRepository) QueryScores(ctx context.Context, evaluationIDs ...int) ([]evaluation.Score, error) {
	if len(evaluationIDs) == 0 {
		return nil, nil
	}
	var scores []evaluation.Score
	b := psql.Select("id", "evaluation_id", "competency_id", "rating", "created_at").
		From("scores").
		Where(sq.Eq{"evaluation_id": evaluationIDs}).
		OrderBy("evaluation_id", "competency_id")
	err := selectAll(ctx, repo.db, &scores, b)
	return scores, err
}
