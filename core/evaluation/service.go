package evaluation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/feedback360/core"
	"github.com/trezcool/feedback360/core/catalog"
	"github.com/trezcool/feedback360/core/notification"
	"github.com/trezcool/feedback360/core/user"
)

var (
	// errors
	ErrActivityNotFound   = core.NewNotFoundError("activity")
	ErrGroupNotFound      = core.NewNotFoundError("group")
	ErrEvaluationNotFound = core.NewNotFoundError("evaluation")

	ErrAlreadyCompleted  = core.NewValidationError(errors.New("esta avaliação já foi enviada"))
	ErrActivityLocked    = core.NewValidationError(errors.New("as competências não podem mudar depois que avaliações foram enviadas"))
	ErrUnknownCompetency = core.NewValidationError(nil, core.FieldError{Field: "competency_ids", Error: "competência desconhecida"})

	errNotYourClass      = core.NewPermissionError("apenas o professor da turma pode fazer isso")
	errNotYourEvaluation = core.NewPermissionError("apenas o avaliador pode enviar esta avaliação")
	errStudentsOnly      = core.NewPermissionError("apenas alunos podem fazer isso")
	errNotEnrolled       = core.NewPermissionError("você não está matriculado nesta turma")

	nowFunc = time.Now // mockable
)

type (
	Repository interface {
		CreateActivity(ctx context.Context, act Activity) (Activity, error)
		UpdateActivity(ctx context.Context, act Activity) (Activity, error)
		GetActivity(ctx context.Context, id int) (Activity, error)
		QueryActivities(ctx context.Context, filter ActivityFilter) ([]Activity, error)
		DeleteActivity(ctx context.Context, id int) error

		// CreateGroup creates grp and evals atomically. Evaluations whose
		// (evaluator, evaluated, activity) triple already exists are skipped.
		CreateGroup(ctx context.Context, grp Group, evals []Evaluation) (Group, error)
		GetGroup(ctx context.Context, id int) (Group, error)
		QueryGroups(ctx context.Context, activityID int) ([]Group, error)
		// DeleteGroup deletes the group and the uncompleted peer evaluations between its members.
		DeleteGroup(ctx context.Context, id int) error

		CreateEvaluation(ctx context.Context, ev Evaluation) (Evaluation, error)
		GetEvaluation(ctx context.Context, id int) (Evaluation, error)
		FindEvaluation(ctx context.Context, evaluatorID, evaluatedID, activityID int) (Evaluation, error)
		QueryEvaluations(ctx context.Context, filter EvaluationFilter) ([]Evaluation, error)
		// CompleteEvaluation stores scores and marks the evaluation completed atomically.
		// It returns ErrAlreadyCompleted, writing nothing, when the evaluation was already completed.
		CompleteEvaluation(ctx context.Context, evaluationID int, completedAt time.Time, scores []Score) error
		QueryScores(ctx context.Context, evaluationIDs ...int) ([]Score, error)
	}

	// Catalog is the part of the course catalog evaluations depend on.
	Catalog interface {
		GetClass(ctx context.Context, id int) (catalog.Class, error)
		QueryClasses(ctx context.Context, filter catalog.ClassFilter) ([]catalog.Class, error)
		IsEnrolled(ctx context.Context, classID, studentID int) (bool, error)
		Roster(ctx context.Context, classID int) ([]user.Student, error)
		QueryCompetencies(ctx context.Context, ids ...int) ([]catalog.Competency, error)
		CoordinatorCourse(ctx context.Context, sess user.Session) (int, error)
	}

	Students interface {
		GetStudent(ctx context.Context, id int) (*user.Student, error)
	}

	Notifier interface {
		Notify(ctx context.Context, nn notification.NewNotification) (notification.Notification, error)
	}

	Service struct {
		repo      Repository
		catalog   Catalog
		students  Students
		notifier  Notifier
		validator *core.Validator
		logger    core.Logger
	}
)

func NewService(
	repo Repository,
	cat Catalog,
	students Students,
	notifier Notifier,
	v *core.Validator,
	logger core.Logger,
) *Service {
	return &Service{
		repo:      repo,
		catalog:   cat,
		students:  students,
		notifier:  notifier,
		validator: v,
		logger:    logger,
	}
}

// notify sends a notification to a student. Failures are logged; they never undo the operation that triggered them.
func (svc *Service) notify(ctx context.Context, studentID int, kind notification.Kind, title, msg, link string) {
	_, err := svc.notifier.Notify(ctx, notification.NewNotification{
		Recipient: notification.Recipient{Role: user.RoleStudent, ID: studentID},
		Title:     title,
		Message:   msg,
		Kind:      kind,
		Link:      link,
	})
	if err != nil {
		svc.logger.Error("notifying student", err, map[string]interface{}{"student_id": studentID, "title": title})
	}
}

// canManage reports whether sess may change the activities and groups of class.
func (svc *Service) canManage(sess user.Session, class catalog.Class) error {
	if sess.IsAdmin() || (sess.IsProfessor() && class.ProfessorID == sess.ID) {
		return nil
	}
	return errNotYourClass
}

// canView reports whether sess may see the groups and reports of class.
func (svc *Service) canView(ctx context.Context, sess user.Session, class catalog.Class) error {
	if sess.IsCoordinator() {
		cid, err := svc.catalog.CoordinatorCourse(ctx, sess)
		if err != nil {
			return err
		}
		if cid != 0 && cid == class.CourseID {
			return nil
		}
	}
	return svc.canManage(sess, class)
}

// activityClass returns an activity and its class.
func (svc *Service) activityClass(ctx context.Context, id int) (Activity, catalog.Class, error) {
	act, err := svc.repo.GetActivity(ctx, id)
	if err != nil {
		return Activity{}, catalog.Class{}, err
	}
	class, err := svc.catalog.GetClass(ctx, act.ClassID)
	if err != nil {
		return Activity{}, catalog.Class{}, errors.Wrap(err, "getting activity class")
	}
	return act, class, nil
}

// studentsByID resolves student ids, looking them up in the class roster first.
func (svc *Service) studentsByID(ctx context.Context, classID int, ids []int) (map[int]user.Student, error) {
	roster, err := svc.catalog.Roster(ctx, classID)
	if err != nil {
		return nil, errors.Wrap(err, "getting class roster")
	}
	students := make(map[int]user.Student, len(roster))
	for _, s := range roster {
		students[s.ID] = s
	}
	for _, id := range ids {
		if _, ok := students[id]; ok {
			continue
		}
		s, err := svc.students.GetStudent(ctx, id)
		if err != nil {
			return nil, errors.Wrapf(err, "getting student %d", id)
		}
		students[id] = *s
	}
	return students, nil
}

// Activities

func (svc *Service) checkCompetencies(ctx context.Context, ids []int) error {
	comps, err := svc.catalog.QueryCompetencies(ctx, ids...)
	if err != nil {
		return errors.Wrap(err, "querying competencies")
	}
	if len(comps) != len(ids) {
		return ErrUnknownCompetency
	}
	return nil
}

func (svc *Service) GetActivity(ctx context.Context, id int) (Activity, error) {
	return svc.repo.GetActivity(ctx, id)
}

func (svc *Service) CreateActivity(ctx context.Context, sess user.Session, na NewActivity) (Activity, error) {
	na.clean()
	if err := svc.validator.Struct(na); err != nil {
		return Activity{}, err
	}
	class, err := svc.catalog.GetClass(ctx, na.ClassID)
	if err != nil {
		return Activity{}, err
	}
	if err = svc.canManage(sess, class); err != nil {
		return Activity{}, err
	}
	if err = svc.checkCompetencies(ctx, na.CompetencyIDs); err != nil {
		return Activity{}, err
	}
	act, err := svc.repo.CreateActivity(ctx, Activity{
		Title:         na.Title,
		Description:   na.Description,
		DueDate:       na.DueDate.UTC(),
		ClassID:       na.ClassID,
		CreatedAt:     nowFunc().UTC(),
		CompetencyIDs: na.CompetencyIDs,
	})
	return act, errors.Wrap(err, "creating activity")
}

func sameInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[int]bool, len(a))
	for _, i := range a {
		seen[i] = true
	}
	for _, i := range b {
		if !seen[i] {
			return false
		}
	}
	return true
}

func (svc *Service) UpdateActivity(ctx context.Context, sess user.Session, id int, na NewActivity) (Activity, error) {
	na.clean()
	if err := svc.validator.Struct(na); err != nil {
		return Activity{}, err
	}
	act, class, err := svc.activityClass(ctx, id)
	if err != nil {
		return Activity{}, err
	}
	if err = svc.canManage(sess, class); err != nil {
		return Activity{}, err
	}
	if na.ClassID != act.ClassID {
		return Activity{}, core.NewValidationError(nil, core.FieldError{Field: "class_id", Error: "a turma de uma atividade não pode mudar"})
	}
	if !sameInts(act.CompetencyIDs, na.CompetencyIDs) {
		done, err := svc.repo.QueryEvaluations(ctx, EvaluationFilter{ActivityID: id, Completed: null.BoolFrom(true)})
		if err != nil {
			return Activity{}, errors.Wrap(err, "querying completed evaluations")
		}
		if len(done) > 0 {
			return Activity{}, ErrActivityLocked
		}
		if err = svc.checkCompetencies(ctx, na.CompetencyIDs); err != nil {
			return Activity{}, err
		}
	}
	act.Title, act.Description, act.DueDate, act.CompetencyIDs = na.Title, na.Description, na.DueDate.UTC(), na.CompetencyIDs
	return svc.repo.UpdateActivity(ctx, act)
}

func (svc *Service) DeleteActivity(ctx context.Context, sess user.Session, id int) error {
	_, class, err := svc.activityClass(ctx, id)
	if err != nil {
		return err
	}
	if err = svc.canManage(sess, class); err != nil {
		return err
	}
	return errors.Wrap(svc.repo.DeleteActivity(ctx, id), "deleting activity")
}

// ActivityItem is an activity as listed to staff.
type ActivityItem struct {
	Activity   Activity
	Class      catalog.Class
	GroupCount int
}

// StaffActivities lists the activities of the classes visible to sess, latest due date first.
func (svc *Service) StaffActivities(ctx context.Context, sess user.Session, classes []catalog.Class) ([]ActivityItem, error) {
	if sess.IsStudent() {
		return nil, core.NewPermissionError("apenas professores, coordenadores e administradores podem fazer isso")
	}
	if len(classes) == 0 {
		return nil, nil
	}
	byID := make(map[int]catalog.Class, len(classes))
	ids := make([]int, 0, len(classes))
	for _, c := range classes {
		byID[c.ID] = c
		ids = append(ids, c.ID)
	}
	acts, err := svc.repo.QueryActivities(ctx, ActivityFilter{ClassIDs: ids})
	if err != nil {
		return nil, errors.Wrap(err, "querying activities")
	}
	items := make([]ActivityItem, 0, len(acts))
	for _, act := range acts {
		groups, err := svc.repo.QueryGroups(ctx, act.ID)
		if err != nil {
			return nil, errors.Wrap(err, "querying groups")
		}
		items = append(items, ActivityItem{Activity: act, Class: byID[act.ClassID], GroupCount: len(groups)})
	}
	return items, nil
}

// Groups

// CreateGroup creates a group of students for an activity and every evaluation between its members:
// one per ordered pair of distinct members. Members must be enrolled in the activity class and
// not already grouped for the activity.
func (svc *Service) CreateGroup(ctx context.Context, sess user.Session, activityID int, ng NewGroup) (Group, error) {
	ng.clean()
	if err := svc.validator.Struct(ng); err != nil {
		return Group{}, err
	}
	act, class, err := svc.activityClass(ctx, activityID)
	if err != nil {
		return Group{}, err
	}
	if err = svc.canManage(sess, class); err != nil {
		return Group{}, err
	}

	for _, id := range ng.MemberIDs {
		ok, err := svc.catalog.IsEnrolled(ctx, class.ID, id)
		if err != nil {
			return Group{}, errors.Wrap(err, "checking enrollment")
		}
		if !ok {
			return Group{}, core.NewValidationError(nil, core.FieldError{
				Field: "member_ids",
				Error: fmt.Sprintf("o aluno %d não está matriculado na turma", id),
			})
		}
	}
	groups, err := svc.repo.QueryGroups(ctx, act.ID)
	if err != nil {
		return Group{}, errors.Wrap(err, "querying groups")
	}
	for _, g := range groups {
		for _, id := range ng.MemberIDs {
			if g.HasMember(id) {
				return Group{}, core.NewValidationError(nil, core.FieldError{
					Field: "member_ids",
					Error: fmt.Sprintf("o aluno %d já está no grupo %q", id, g.Name),
				})
			}
		}
	}

	now := nowFunc().UTC()
	evals := make([]Evaluation, 0, len(ng.MemberIDs)*(len(ng.MemberIDs)-1))
	for _, evaluator := range ng.MemberIDs {
		for _, evaluated := range ng.MemberIDs {
			if evaluator == evaluated {
				continue
			}
			evals = append(evals, Evaluation{
				EvaluatorID: evaluator,
				EvaluatedID: evaluated,
				ActivityID:  act.ID,
				CreatedAt:   now,
			})
		}
	}
	grp, err := svc.repo.CreateGroup(ctx, Group{Name: ng.Name, ActivityID: act.ID, CreatedAt: now, MemberIDs: ng.MemberIDs}, evals)
	if err != nil {
		if core.IsIntegrity(err) {
			return Group{}, core.NewValidationError(errors.New("um dos alunos foi adicionado a outro grupo ao mesmo tempo; tente novamente"))
		}
		return Group{}, errors.Wrap(err, "creating group")
	}

	if len(grp.MemberIDs) > 1 {
		link := fmt.Sprintf("/atividade/%d", act.ID)
		for _, id := range grp.MemberIDs {
			svc.notify(ctx, id, notification.KindInfo,
				"Novo grupo",
				fmt.Sprintf("Você foi adicionado ao grupo %q da atividade %q.", grp.Name, act.Title),
				link,
			)
		}
	}
	return grp, nil
}

// DeleteGroup deletes a group along with its uncompleted evaluations and returns it.
func (svc *Service) DeleteGroup(ctx context.Context, sess user.Session, groupID int) (Group, error) {
	grp, err := svc.repo.GetGroup(ctx, groupID)
	if err != nil {
		return Group{}, err
	}
	_, class, err := svc.activityClass(ctx, grp.ActivityID)
	if err != nil {
		return Group{}, err
	}
	if err = svc.canManage(sess, class); err != nil {
		return Group{}, err
	}
	return grp, errors.Wrap(svc.repo.DeleteGroup(ctx, groupID), "deleting group")
}

// ActivityOverview returns the groups of an activity and the enrolled students not yet grouped.
func (svc *Service) ActivityOverview(ctx context.Context, sess user.Session, activityID int) (*ActivityOverview, error) {
	act, class, err := svc.activityClass(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if err = svc.canView(ctx, sess, class); err != nil {
		return nil, err
	}
	comps, err := svc.catalog.QueryCompetencies(ctx, act.CompetencyIDs...)
	if err != nil {
		return nil, errors.Wrap(err, "querying competencies")
	}
	groups, err := svc.repo.QueryGroups(ctx, act.ID)
	if err != nil {
		return nil, errors.Wrap(err, "querying groups")
	}
	var memberIDs []int
	for _, g := range groups {
		memberIDs = append(memberIDs, g.MemberIDs...)
	}
	students, err := svc.studentsByID(ctx, class.ID, memberIDs)
	if err != nil {
		return nil, err
	}

	ov := &ActivityOverview{Activity: act, Class: class, Competencies: comps}
	grouped := make(map[int]bool, len(memberIDs))
	for _, g := range groups {
		gm := GroupMembers{Group: g}
		for _, id := range g.MemberIDs {
			gm.Members = append(gm.Members, students[id])
			grouped[id] = true
		}
		ov.Groups = append(ov.Groups, gm)
	}
	roster, err := svc.catalog.Roster(ctx, class.ID)
	if err != nil {
		return nil, errors.Wrap(err, "getting class roster")
	}
	for _, s := range roster {
		if !grouped[s.ID] {
			ov.Ungrouped = append(ov.Ungrouped, s)
		}
	}
	return ov, nil
}

// Pending evaluations

// pendingIn returns the group of student for act, if any, and how many of its peers
// the student has not evaluated yet.
func (svc *Service) pendingIn(ctx context.Context, act Activity, studentID int) (*Group, []Evaluation, int, error) {
	groups, err := svc.repo.QueryGroups(ctx, act.ID)
	if err != nil {
		return nil, nil, 0, errors.Wrap(err, "querying groups")
	}
	var grp *Group
	for i := range groups {
		if groups[i].HasMember(studentID) {
			grp = &groups[i]
			break
		}
	}
	if grp == nil {
		return nil, nil, 0, nil
	}

	evals, err := svc.repo.QueryEvaluations(ctx, EvaluationFilter{
		ActivityID:     act.ID,
		EvaluatorID:    studentID,
		SelfAssessment: null.BoolFrom(false),
	})
	if err != nil {
		return nil, nil, 0, errors.Wrap(err, "querying evaluations")
	}
	completed := make(map[int]bool, len(evals))
	for _, ev := range evals {
		completed[ev.EvaluatedID] = ev.Completed
	}
	var pending int
	for _, peer := range grp.MemberIDs {
		if peer != studentID && !completed[peer] {
			pending++
		}
	}
	return grp, evals, pending, nil
}

// studentActivities returns the activities of the classes a student is enrolled in.
func (svc *Service) studentActivities(ctx context.Context, studentID int) ([]Activity, map[int]catalog.Class, error) {
	classes, err := svc.catalog.QueryClasses(ctx, catalog.ClassFilter{StudentID: studentID})
	if err != nil {
		return nil, nil, errors.Wrap(err, "querying classes")
	}
	if len(classes) == 0 {
		return nil, nil, nil
	}
	byID := make(map[int]catalog.Class, len(classes))
	ids := make([]int, 0, len(classes))
	for _, c := range classes {
		byID[c.ID] = c
		ids = append(ids, c.ID)
	}
	acts, err := svc.repo.QueryActivities(ctx, ActivityFilter{ClassIDs: ids})
	if err != nil {
		return nil, nil, errors.Wrap(err, "querying activities")
	}
	return acts, byID, nil
}

// Pending counts the evaluations a student still has to submit, per activity. It is recomputed on every call.
func (svc *Service) Pending(ctx context.Context, studentID int) (PendingSummary, error) {
	sum := PendingSummary{ByActivity: make(map[int]int)}
	acts, _, err := svc.studentActivities(ctx, studentID)
	if err != nil {
		return sum, err
	}
	for _, act := range acts {
		_, _, n, err := svc.pendingIn(ctx, act, studentID)
		if err != nil {
			return sum, err
		}
		if n > 0 {
			sum.ByActivity[act.ID] = n
			sum.Total += n
		}
	}
	return sum, nil
}

// StudentActivities lists the activities of a student's classes, marking the pending ones.
func (svc *Service) StudentActivities(ctx context.Context, studentID int) ([]StudentActivity, error) {
	acts, classes, err := svc.studentActivities(ctx, studentID)
	if err != nil {
		return nil, err
	}
	items := make([]StudentActivity, 0, len(acts))
	for _, act := range acts {
		grp, _, n, err := svc.pendingIn(ctx, act, studentID)
		if err != nil {
			return nil, err
		}
		items = append(items, StudentActivity{
			Activity: act,
			Class:    classes[act.ClassID],
			Grouped:  grp != nil,
			Pending:  n,
		})
	}
	return items, nil
}

// StudentActivityDetail returns an activity as seen by an enrolled student: the group peers and the
// state of the student's evaluation of each one. Missing evaluation rows are reported, not created.
func (svc *Service) StudentActivityDetail(ctx context.Context, sess user.Session, activityID int) (*StudentActivityDetail, error) {
	if !sess.IsStudent() {
		return nil, errStudentsOnly
	}
	act, class, err := svc.activityClass(ctx, activityID)
	if err != nil {
		return nil, err
	}
	ok, err := svc.catalog.IsEnrolled(ctx, class.ID, sess.ID)
	if err != nil {
		return nil, errors.Wrap(err, "checking enrollment")
	}
	if !ok {
		return nil, errNotEnrolled
	}
	comps, err := svc.catalog.QueryCompetencies(ctx, act.CompetencyIDs...)
	if err != nil {
		return nil, errors.Wrap(err, "querying competencies")
	}

	detail := &StudentActivityDetail{Activity: act, Class: class, Competencies: comps}
	grp, evals, _, err := svc.pendingIn(ctx, act, sess.ID)
	if err != nil {
		return nil, err
	}
	if grp != nil {
		detail.Group = grp
		students, err := svc.studentsByID(ctx, class.ID, grp.MemberIDs)
		if err != nil {
			return nil, err
		}
		byEvaluated := make(map[int]*Evaluation, len(evals))
		for i := range evals {
			byEvaluated[evals[i].EvaluatedID] = &evals[i]
		}
		for _, id := range grp.MemberIDs {
			if id == sess.ID {
				continue
			}
			detail.Peers = append(detail.Peers, PeerStatus{Peer: students[id], Evaluation: byEvaluated[id]})
		}
	}

	self, err := svc.repo.FindEvaluation(ctx, sess.ID, sess.ID, act.ID)
	switch {
	case err == nil:
		detail.SelfAssessment = &self
	case !core.IsNotFound(err):
		return nil, errors.Wrap(err, "finding self assessment")
	}
	return detail, nil
}

// Self assessment

// EnsureSelfAssessment returns the self assessment of the session student for an activity,
// creating it when missing.
func (svc *Service) EnsureSelfAssessment(ctx context.Context, sess user.Session, activityID int) (Evaluation, error) {
	if !sess.IsStudent() {
		return Evaluation{}, errStudentsOnly
	}
	_, class, err := svc.activityClass(ctx, activityID)
	if err != nil {
		return Evaluation{}, err
	}
	ok, err := svc.catalog.IsEnrolled(ctx, class.ID, sess.ID)
	if err != nil {
		return Evaluation{}, errors.Wrap(err, "checking enrollment")
	}
	if !ok {
		return Evaluation{}, errNotEnrolled
	}

	ev, err := svc.repo.FindEvaluation(ctx, sess.ID, sess.ID, activityID)
	if err == nil || !core.IsNotFound(err) {
		return ev, err
	}
	ev, err = svc.repo.CreateEvaluation(ctx, Evaluation{
		EvaluatorID:    sess.ID,
		EvaluatedID:    sess.ID,
		ActivityID:     activityID,
		SelfAssessment: true,
		CreatedAt:      nowFunc().UTC(),
	})
	if core.IsIntegrity(err) { // created concurrently
		return svc.repo.FindEvaluation(ctx, sess.ID, sess.ID, activityID)
	}
	return ev, errors.Wrap(err, "creating self assessment")
}

// Score submission

// EvaluationForm returns what the evaluator needs to fill or review an evaluation.
func (svc *Service) EvaluationForm(ctx context.Context, sess user.Session, evaluationID int) (*EvaluationForm, error) {
	ev, err := svc.repo.GetEvaluation(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	if !sess.Is(user.RoleStudent, ev.EvaluatorID) {
		return nil, errNotYourEvaluation
	}
	act, err := svc.repo.GetActivity(ctx, ev.ActivityID)
	if err != nil {
		return nil, errors.Wrap(err, "getting activity")
	}
	comps, err := svc.catalog.QueryCompetencies(ctx, act.CompetencyIDs...)
	if err != nil {
		return nil, errors.Wrap(err, "querying competencies")
	}
	evaluated, err := svc.students.GetStudent(ctx, ev.EvaluatedID)
	if err != nil {
		return nil, errors.Wrap(err, "getting evaluated student")
	}
	form := &EvaluationForm{Evaluation: ev, Activity: act, Evaluated: *evaluated, Competencies: comps}
	if ev.Completed {
		if form.Scores, err = svc.repo.QueryScores(ctx, ev.ID); err != nil {
			return nil, errors.Wrap(err, "querying scores")
		}
	}
	return form, nil
}

// validateRatings checks there is exactly one rating in [MinRating, MaxRating] per competency of act.
func validateRatings(act Activity, ratings map[int]int) error {
	var flds []core.FieldError
	required := make(map[int]bool, len(act.CompetencyIDs))
	for _, cid := range act.CompetencyIDs {
		required[cid] = true
		rating, ok := ratings[cid]
		switch {
		case !ok:
			flds = append(flds, core.FieldError{Field: fmt.Sprintf("competency_%d", cid), Error: "a nota é obrigatória"})
		case rating < MinRating || rating > MaxRating:
			flds = append(flds, core.FieldError{
				Field: fmt.Sprintf("competency_%d", cid),
				Error: fmt.Sprintf("a nota deve estar entre %d e %d", MinRating, MaxRating),
			})
		}
	}
	for cid := range ratings {
		if !required[cid] {
			flds = append(flds, core.FieldError{Field: fmt.Sprintf("competency_%d", cid), Error: "a competência não faz parte desta atividade"})
		}
	}
	if len(flds) > 0 {
		sort.Slice(flds, func(i, j int) bool { return flds[i].Field < flds[j].Field })
		return core.NewValidationError(nil, flds...)
	}
	return nil
}

// SubmitScores stores one score per competency of the evaluation activity and completes the evaluation.
// Nothing is written unless every rating is valid. A completed evaluation cannot be submitted again.
// The evaluated student is notified of peer evaluations.
func (svc *Service) SubmitScores(ctx context.Context, sess user.Session, evaluationID int, ratings map[int]int) error {
	ev, err := svc.repo.GetEvaluation(ctx, evaluationID)
	if err != nil {
		return err
	}
	if !sess.Is(user.RoleStudent, ev.EvaluatorID) {
		return errNotYourEvaluation
	}
	if ev.Completed {
		return ErrAlreadyCompleted
	}
	act, err := svc.repo.GetActivity(ctx, ev.ActivityID)
	if err != nil {
		return errors.Wrap(err, "getting activity")
	}
	if err = validateRatings(act, ratings); err != nil {
		return err
	}

	now := nowFunc().UTC()
	scores := make([]Score, 0, len(act.CompetencyIDs))
	for _, cid := range act.CompetencyIDs {
		scores = append(scores, Score{EvaluationID: ev.ID, CompetencyID: cid, Rating: ratings[cid], CreatedAt: now})
	}
	if err = svc.repo.CompleteEvaluation(ctx, ev.ID, now, scores); err != nil {
		if err == ErrAlreadyCompleted {
			return err
		}
		return errors.Wrap(err, "completing evaluation")
	}

	if !ev.SelfAssessment {
		svc.notify(ctx, ev.EvaluatedID, notification.KindSuccess,
			"Nova avaliação recebida",
			fmt.Sprintf("Você recebeu uma nova avaliação na atividade %q.", act.Title),
			"/notas",
		)
	}
	return nil
}
