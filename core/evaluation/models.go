package evaluation

import (
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/feedback360/core"
	"github.com/trezcool/feedback360/core/catalog"
	"github.com/trezcool/feedback360/core/user"
)

const (
	MinRating = 1
	MaxRating = 5
)

// Activity is a gradable assignment tied to one Class.
type Activity struct {
	ID            int       `json:"id" db:"id"`
	Title         string    `json:"title" db:"title"`
	Description   string    `json:"description" db:"description"`
	DueDate       time.Time `json:"due_date" db:"due_date"`
	ClassID       int       `json:"class_id" db:"class_id"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	CompetencyIDs []int     `json:"competency_ids" db:"-"`
}

// Group is a subset of a class roster whose members evaluate each other for one Activity.
type Group struct {
	ID         int       `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	ActivityID int       `json:"activity_id" db:"activity_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	MemberIDs  []int     `json:"member_ids" db:"-"`
}

func (g Group) HasMember(studentID int) bool {
	for _, id := range g.MemberIDs {
		if id == studentID {
			return true
		}
	}
	return false
}

// Evaluation is a directed (evaluator, evaluated, activity) peer review.
type Evaluation struct {
	ID             int       `json:"id" db:"id"`
	EvaluatorID    int       `json:"evaluator_id" db:"evaluator_id"`
	EvaluatedID    int       `json:"evaluated_id" db:"evaluated_id"`
	ActivityID     int       `json:"activity_id" db:"activity_id"`
	Completed      bool      `json:"completed" db:"completed"`
	SelfAssessment bool      `json:"self_assessment" db:"self_assessment"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	CompletedAt    null.Time `json:"completed_at" db:"completed_at"`
}

// Score (Nota) is one competency rating of a completed Evaluation.
type Score struct {
	ID           int       `json:"id" db:"id"`
	EvaluationID int       `json:"evaluation_id" db:"evaluation_id"`
	CompetencyID int       `json:"competency_id" db:"competency_id"`
	Rating       int       `json:"rating" db:"rating"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// forms

type NewActivity struct {
	Title         string    `form:"title" validate:"required,notblank,max=200"`
	Description   string    `form:"description" validate:"max=5000"`
	DueDate       time.Time `form:"-" validate:"required"`
	ClassID       int       `form:"class_id" validate:"required,min=1"`
	CompetencyIDs []int     `form:"competency_ids" validate:"required,min=1,dive,min=1"`
}

func (na *NewActivity) clean() {
	na.Title = core.CleanString(na.Title)
	na.Description = core.CleanString(na.Description)
	na.CompetencyIDs = core.UniqueInts(na.CompetencyIDs)
}

type NewGroup struct {
	Name      string `form:"name" validate:"required,notblank,max=100"`
	MemberIDs []int  `form:"member_ids" validate:"required,min=1"`
}

func (ng *NewGroup) clean() {
	ng.Name = core.CleanString(ng.Name)
	ng.MemberIDs = core.UniqueInts(ng.MemberIDs)
}

// filters

type ActivityFilter struct {
	ClassIDs []int
}

// EvaluationFilter selects evaluations. Zero fields are ignored.
type EvaluationFilter struct {
	ActivityID     int
	EvaluatorID    int
	EvaluatedID    int
	Completed      null.Bool
	SelfAssessment null.Bool
}

// views

// PendingSummary is the outstanding evaluations of a student, derived on every call.
type PendingSummary struct {
	Total      int
	ByActivity map[int]int // {activityID: pending count}
}

// StudentActivity is an Activity as listed to a student.
type StudentActivity struct {
	Activity Activity
	Class    catalog.Class
	Grouped  bool
	Pending  int
}

func (sa StudentActivity) IsPending() bool { return sa.Pending > 0 }

// PeerStatus is the state of the evaluation of one group peer by the current student.
type PeerStatus struct {
	Peer       user.Student
	Evaluation *Evaluation // nil when the row does not exist
}

func (ps PeerStatus) Pending() bool { return ps.Evaluation == nil || !ps.Evaluation.Completed }

// StudentActivityDetail is the activity page of a student.
type StudentActivityDetail struct {
	Activity       Activity
	Class          catalog.Class
	Competencies   []catalog.Competency
	Group          *Group
	Peers          []PeerStatus
	SelfAssessment *Evaluation
}

// ActivityOverview is the activity page of the class professor: groups and students left to group.
type ActivityOverview struct {
	Activity     Activity
	Class        catalog.Class
	Competencies []catalog.Competency
	Groups       []GroupMembers
	Ungrouped    []user.Student
}

type GroupMembers struct {
	Group   Group
	Members []user.Student
}

// EvaluationForm is what a student needs to rate a peer.
type EvaluationForm struct {
	Evaluation   Evaluation
	Activity     Activity
	Evaluated    user.Student
	Competencies []catalog.Competency
	Scores       []Score // set once completed
}
