package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/feedback360/core/evaluation"
	"github.com/trezcool/feedback360/core/user"
)

type evaluationRepository struct {
	db *DB
}

var _ evaluation.Repository = (*evaluationRepository)(nil) // interface compliance check

func NewEvaluationRepository(db *DB) evaluation.Repository {
	return &evaluationRepository{db: db}
}

func cloneActivity(act evaluation.Activity) evaluation.Activity {
	act.CompetencyIDs = copyInts(act.CompetencyIDs)
	return act
}

func cloneGroup(grp evaluation.Group) evaluation.Group {
	grp.MemberIDs = copyInts(grp.MemberIDs)
	return grp
}

// Activities

func (repo *evaluationRepository) checkActivity(act evaluation.Activity) error {
	if _, ok := repo.db.classes[act.ClassID]; !ok {
		return violation("activities_class_id_fkey")
	}
	for _, cid := range act.CompetencyIDs {
		if _, ok := repo.db.competencies[cid]; !ok {
			return violation("activity_competencies_competency_id_fkey")
		}
	}
	return nil
}

func (repo *evaluationRepository) CreateActivity(_ context.Context, act evaluation.Activity) (evaluation.Activity, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if err := repo.checkActivity(act); err != nil {
		return evaluation.Activity{}, err
	}
	act = cloneActivity(act)
	act.ID = repo.db.nextID("activities")
	repo.db.activities[act.ID] = act
	return cloneActivity(act), nil
}

func (repo *evaluationRepository) UpdateActivity(_ context.Context, act evaluation.Activity) (evaluation.Activity, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.activities[act.ID]
	if !ok {
		return evaluation.Activity{}, evaluation.ErrActivityNotFound
	}
	act.ClassID = orig.ClassID
	act.CreatedAt = orig.CreatedAt
	if err := repo.checkActivity(act); err != nil {
		return evaluation.Activity{}, err
	}
	act = cloneActivity(act)
	repo.db.activities[act.ID] = act
	return cloneActivity(act), nil
}

func (repo *evaluationRepository) GetActivity(_ context.Context, id int) (evaluation.Activity, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if act, ok := repo.db.activities[id]; ok {
		return cloneActivity(act), nil
	}
	return evaluation.Activity{}, evaluation.ErrActivityNotFound
}

func (repo *evaluationRepository) QueryActivities(_ context.Context, filter evaluation.ActivityFilter) ([]evaluation.Activity, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	classes := make(map[int]bool, len(filter.ClassIDs))
	for _, id := range filter.ClassIDs {
		classes[id] = true
	}
	var acts []evaluation.Activity
	for _, act := range repo.db.activities {
		if len(classes) > 0 && !classes[act.ClassID] {
			continue
		}
		acts = append(acts, cloneActivity(act))
	}
	sort.Slice(acts, func(i, j int) bool {
		if !acts[i].DueDate.Equal(acts[j].DueDate) {
			return acts[i].DueDate.Before(acts[j].DueDate)
		}
		return acts[i].ID < acts[j].ID
	})
	return acts, nil
}

func (repo *evaluationRepository) DeleteActivity(_ context.Context, id int) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.activities[id]; !ok {
		return evaluation.ErrActivityNotFound
	}
	for gid, grp := range repo.db.groups {
		if grp.ActivityID == id {
			delete(repo.db.groups, gid)
		}
	}
	for eid, ev := range repo.db.evaluations {
		if ev.ActivityID == id {
			repo.db.deleteEvaluation(eid)
		}
	}
	delete(repo.db.activities, id)
	return nil
}

// deleteEvaluation deletes an evaluation and its scores. It must be called with the lock held.
func (db *DB) deleteEvaluation(id int) {
	for sid, sc := range db.scores {
		if sc.EvaluationID == id {
			delete(db.scores, sid)
		}
	}
	delete(db.evaluations, id)
}

// Groups

// findEvaluation must be called with the lock held.
func (db *DB) findEvaluation(evaluatorID, evaluatedID, activityID int) (evaluation.Evaluation, bool) {
	for _, ev := range db.evaluations {
		if ev.EvaluatorID == evaluatorID && ev.EvaluatedID == evaluatedID && ev.ActivityID == activityID {
			return ev, true
		}
	}
	return evaluation.Evaluation{}, false
}

func (db *DB) checkEvaluation(ev evaluation.Evaluation) error {
	if _, ok := db.activities[ev.ActivityID]; !ok {
		return violation("evaluations_activity_id_fkey")
	}
	students := db.users[user.RoleStudent]
	if _, ok := students[ev.EvaluatorID]; !ok {
		return violation("evaluations_evaluator_id_fkey")
	}
	if _, ok := students[ev.EvaluatedID]; !ok {
		return violation("evaluations_evaluated_id_fkey")
	}
	if (ev.EvaluatorID == ev.EvaluatedID) != ev.SelfAssessment {
		return violation("evaluations_check")
	}
	return nil
}

func (repo *evaluationRepository) CreateGroup(_ context.Context, grp evaluation.Group, evals []evaluation.Evaluation) (evaluation.Group, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	act, ok := repo.db.activities[grp.ActivityID]
	if !ok {
		return evaluation.Group{}, violation("student_groups_activity_id_fkey")
	}
	for _, sid := range grp.MemberIDs {
		if _, ok := repo.db.users[user.RoleStudent][sid]; !ok {
			return evaluation.Group{}, violation("group_members_student_id_fkey")
		}
		if !repo.db.isEnrolled(act.ClassID, sid) {
			return evaluation.Group{}, violation("group_members_enrollment_fkey")
		}
		for _, other := range repo.db.groups {
			if other.ActivityID == grp.ActivityID && other.HasMember(sid) {
				return evaluation.Group{}, violation("group_members_activity_id_student_id_key")
			}
		}
	}
	for _, ev := range evals {
		if err := repo.db.checkEvaluation(ev); err != nil {
			return evaluation.Group{}, err
		}
	}

	grp = cloneGroup(grp)
	grp.ID = repo.db.nextID("student_groups")
	repo.db.groups[grp.ID] = grp
	for _, ev := range evals {
		if _, found := repo.db.findEvaluation(ev.EvaluatorID, ev.EvaluatedID, ev.ActivityID); found {
			continue
		}
		ev.ID = repo.db.nextID("evaluations")
		ev.Completed = false
		ev.CompletedAt = null.Time{}
		repo.db.evaluations[ev.ID] = ev
	}
	return cloneGroup(grp), nil
}

func (repo *evaluationRepository) GetGroup(_ context.Context, id int) (evaluation.Group, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if grp, ok := repo.db.groups[id]; ok {
		return cloneGroup(grp), nil
	}
	return evaluation.Group{}, evaluation.ErrGroupNotFound
}

func (repo *evaluationRepository) QueryGroups(_ context.Context, activityID int) ([]evaluation.Group, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var groups []evaluation.Group
	for _, grp := range repo.db.groups {
		if grp.ActivityID == activityID {
			grp = cloneGroup(grp)
			sort.Ints(grp.MemberIDs)
			groups = append(groups, grp)
		}
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Name != groups[j].Name {
			return groups[i].Name < groups[j].Name
		}
		return groups[i].ID < groups[j].ID
	})
	return groups, nil
}

func (repo *evaluationRepository) DeleteGroup(_ context.Context, id int) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	grp, ok := repo.db.groups[id]
	if !ok {
		return evaluation.ErrGroupNotFound
	}
	for eid, ev := range repo.db.evaluations {
		if ev.ActivityID == grp.ActivityID && !ev.Completed && !ev.SelfAssessment &&
			grp.HasMember(ev.EvaluatorID) && grp.HasMember(ev.EvaluatedID) {
			repo.db.deleteEvaluation(eid)
		}
	}
	delete(repo.db.groups, id)
	return nil
}

// Evaluations

func (repo *evaluationRepository) CreateEvaluation(_ context.Context, ev evaluation.Evaluation) (evaluation.Evaluation, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if err := repo.db.checkEvaluation(ev); err != nil {
		return evaluation.Evaluation{}, err
	}
	if _, found := repo.db.findEvaluation(ev.EvaluatorID, ev.EvaluatedID, ev.ActivityID); found {
		return evaluation.Evaluation{}, violation("evaluations_evaluator_id_evaluated_id_activity_id_key")
	}
	ev.ID = repo.db.nextID("evaluations")
	repo.db.evaluations[ev.ID] = ev
	return ev, nil
}

func (repo *evaluationRepository) GetEvaluation(_ context.Context, id int) (evaluation.Evaluation, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if ev, ok := repo.db.evaluations[id]; ok {
		return ev, nil
	}
	return evaluation.Evaluation{}, evaluation.ErrEvaluationNotFound
}

func (repo *evaluationRepository) FindEvaluation(_ context.Context, evaluatorID, evaluatedID, activityID int) (evaluation.Evaluation, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if ev, found := repo.db.findEvaluation(evaluatorID, evaluatedID, activityID); found {
		return ev, nil
	}
	return evaluation.Evaluation{}, evaluation.ErrEvaluationNotFound
}

func (repo *evaluationRepository) QueryEvaluations(_ context.Context, filter evaluation.EvaluationFilter) ([]evaluation.Evaluation, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var evals []evaluation.Evaluation
	for _, ev := range repo.db.evaluations {
		switch {
		case filter.ActivityID != 0 && ev.ActivityID != filter.ActivityID,
			filter.EvaluatorID != 0 && ev.EvaluatorID != filter.EvaluatorID,
			filter.EvaluatedID != 0 && ev.EvaluatedID != filter.EvaluatedID,
			filter.Completed.Valid && ev.Completed != filter.Completed.Bool,
			filter.SelfAssessment.Valid && ev.SelfAssessment != filter.SelfAssessment.Bool:
			continue
		}
		evals = append(evals, ev)
	}
	sort.Slice(evals, func(i, j int) bool { return evals[i].ID < evals[j].ID })
	return evals, nil
}

func (repo *evaluationRepository) CompleteEvaluation(_ context.Context, evaluationID int, completedAt time.Time, scores []evaluation.Score) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	ev, ok := repo.db.evaluations[evaluationID]
	if !ok || ev.Completed {
		return evaluation.ErrAlreadyCompleted
	}
	seen := make(map[int]bool, len(scores))
	for _, sc := range scores {
		if _, ok := repo.db.competencies[sc.CompetencyID]; !ok {
			return violation("scores_competency_id_fkey")
		}
		if sc.Rating < evaluation.MinRating || sc.Rating > evaluation.MaxRating {
			return violation("scores_rating_check")
		}
		if seen[sc.CompetencyID] {
			return violation("scores_evaluation_id_competency_id_key")
		}
		seen[sc.CompetencyID] = true
	}

	for _, sc := range scores {
		sc.ID = repo.db.nextID("scores")
		sc.EvaluationID = evaluationID
		sc.CreatedAt = completedAt
		repo.db.scores[sc.ID] = sc
	}
	ev.Completed = true
	ev.CompletedAt = null.TimeFrom(completedAt)
	repo.db.evaluations[evaluationID] = ev
	return nil
}

func (repo *evaluationRepository) QueryScores(_ context.Context, evaluationIDs ...int) ([]evaluation.Score, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	ids := make(map[int]bool, len(evaluationIDs))
	for _, id := range evaluationIDs {
		ids[id] = true
	}
	var scores []evaluation.Score
	for _, sc := range repo.db.scores {
		if ids[sc.EvaluationID] {
			scores = append(scores, sc)
		}
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].EvaluationID != scores[j].EvaluationID {
			return scores[i].EvaluationID < scores[j].EvaluationID
		}
		return scores[i].CompetencyID < scores[j].CompetencyID
	})
	return scores, nil
}
