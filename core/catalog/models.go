package catalog

import (
	"fmt"
	"time"

	"github.com/trezcool/feedback360/core"
)

type Course struct {
	ID        int       `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Code      string    `json:"code" db:"code"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Discipline struct {
	ID       int    `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	Code     string `json:"code" db:"code"`
	CourseID int    `json:"course_id" db:"course_id"`

	CourseName string `json:"course_name" db:"course_name"` // read only
}

// Term is an academic period (Semestre): a year and a period, 1 or 2.
type Term struct {
	ID     int `json:"id" db:"id"`
	Year   int `json:"year" db:"year"`
	Period int `json:"period" db:"period"`
}

func (t Term) String() string { return fmt.Sprintf("%d.%d", t.Year, t.Period) }

// Class (Turma) is one offering of a Discipline in one Term, taught by one Professor.
type Class struct {
	ID           int    `json:"id" db:"id"`
	Code         string `json:"code" db:"code"`
	DisciplineID int    `json:"discipline_id" db:"discipline_id"`
	ProfessorID  int    `json:"professor_id" db:"professor_id"`
	TermID       int    `json:"term_id" db:"term_id"`

	// read only
	DisciplineName string `json:"discipline_name" db:"discipline_name"`
	CourseID       int    `json:"course_id" db:"course_id"`
	ProfessorName  string `json:"professor_name" db:"professor_name"`
	TermYear       int    `json:"term_year" db:"term_year"`
	TermPeriod     int    `json:"term_period" db:"term_period"`
}

func (c Class) Label() string {
	return fmt.Sprintf("%s %s (%d.%d)", c.DisciplineName, c.Code, c.TermYear, c.TermPeriod)
}

// Enrollment (TurmaAluno) links a Student to a Class.
type Enrollment struct {
	ID        int       `json:"id" db:"id"`
	ClassID   int       `json:"class_id" db:"class_id"`
	StudentID int       `json:"student_id" db:"student_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Competency struct {
	ID          int    `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`
}

// forms

type NewCourse struct {
	Name string `form:"name" validate:"required,notblank,max=100"`
	Code string `form:"code" validate:"required,notblank,max=20"`
}

func (nc *NewCourse) clean() {
	nc.Name = core.CleanString(nc.Name)
	nc.Code = core.CleanString(nc.Code)
}

type NewDiscipline struct {
	Name     string `form:"name" validate:"required,notblank,max=100"`
	Code     string `form:"code" validate:"required,notblank,max=20"`
	CourseID int    `form:"course_id" validate:"required,min=1"`
}

func (nd *NewDiscipline) clean() {
	nd.Name = core.CleanString(nd.Name)
	nd.Code = core.CleanString(nd.Code)
}

type NewTerm struct {
	Year   int `form:"year" validate:"required,min=1900,max=9999"`
	Period int `form:"period" validate:"required,oneof=1 2"`
}

type NewClass struct {
	Code         string `form:"code" validate:"required,notblank,max=20"`
	DisciplineID int    `form:"discipline_id" validate:"required,min=1"`
	ProfessorID  int    `form:"professor_id" validate:"required,min=1"`
	TermID       int    `form:"term_id" validate:"required,min=1"`
}

func (nc *NewClass) clean() {
	nc.Code = core.CleanString(nc.Code)
}

type NewCompetency struct {
	Name        string `form:"name" validate:"required,notblank,max=100"`
	Description string `form:"description" validate:"max=1000"`
}

func (nc *NewCompetency) clean() {
	nc.Name = core.CleanString(nc.Name)
	nc.Description = core.CleanString(nc.Description)
}

// filters

type DisciplineFilter struct {
	CourseID int `query:"course_id"`
}

// ClassFilter selects classes. Zero fields are ignored.
type ClassFilter struct {
	ProfessorID  int `query:"professor_id"`
	StudentID    int `query:"student_id"`
	DisciplineID int `query:"discipline_id"`
	CourseID     int `query:"course_id"`
	TermID       int `query:"term_id"`
}
