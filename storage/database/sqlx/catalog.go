package sqlxrepos

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/trezcool/feedback360/core/catalog"
	"github.com/trezcool/feedback360/core/user"
)

var (
	disciplineSelect = psql.Select("d.id", "d.name", "d.code", "d.course_id", "c.name AS course_name").
				From("disciplines d").
				Join("courses c ON c.id = d.course_id")

	classSelect = psql.Select(
		"cl.id", "cl.code", "cl.discipline_id", "cl.professor_id", "cl.term_id",
		"d.name AS discipline_name", "d.course_id", "p.name AS professor_name",
		"t.year AS term_year", "t.period AS term_period",
	).
		From("classes cl").
		Join("disciplines d ON d.id = cl.discipline_id").
		Join("professors p ON p.id = cl.professor_id").
		Join("terms t ON t.id = cl.term_id")
)

type catalogRepository struct {
	db *sqlx.DB
}

var _ catalog.Repository = (*catalogRepository)(nil) // interface compliance check

func NewCatalogRepository(db *sqlx.DB) catalog.Repository {
	return &catalogRepository{db: db}
}

// Courses

func (repo *catalogRepository) CreateCourse(ctx context.Context, course catalog.Course) (catalog.Course, error) {
	id, err := insertReturningID(ctx, repo.db, psql.Insert("courses").
		Columns("name", "code", "created_at").
		Values(course.Name, course.Code, course.CreatedAt))
	course.ID = id
	return course, err
}

func (repo *catalogRepository) UpdateCourse(ctx context.Context, course catalog.Course) (catalog.Course, error) {
	res, err := exec(ctx, repo.db, psql.Update("courses").
		Set("name", course.Name).
		Set("code", course.Code).
		Where(sq.Eq{"id": course.ID}))
	return course, checkAffected(res, err, catalog.ErrCourseNotFound)
}

func (repo *catalogRepository) GetCourse(ctx context.Context, id int) (catalog.Course, error) {
	var course catalog.Course
	err := get(ctx, repo.db, &course, psql.Select("id", "name", "code", "created_at").From("courses").Where(sq.Eq{"id": id}))
	return course, notFound(err, catalog.ErrCourseNotFound)
}

func (repo *catalogRepository) QueryCourses(ctx context.Context) ([]catalog.Course, error) {
	var courses []catalog.Course
	err := selectAll(ctx, repo.db, &courses, psql.Select("id", "name", "code", "created_at").From("courses").OrderBy("name"))
	return courses, err
}

func (repo *catalogRepository) DeleteCourse(ctx context.Context, id int) error {
	res, err := exec(ctx, repo.db, psql.Delete("courses").Where(sq.Eq{"id": id}))
	return checkAffected(res, err, catalog.ErrCourseNotFound)
}

// Disciplines

func (repo *catalogRepository) CreateDiscipline(ctx context.Context, disc catalog.Discipline) (catalog.Discipline, error) {
	id, err := insertReturningID(ctx, repo.db, psql.Insert("disciplines").
		Columns("name", "code", "course_id").
		Values(disc.Name, disc.Code, disc.CourseID))
	if err != nil {
		return catalog.Discipline{}, err
	}
	return repo.GetDiscipline(ctx, id)
}

func (repo *catalogRepository) UpdateDiscipline(ctx context.Context, disc catalog.Discipline) (catalog.Discipline, error) {
	res, err := exec(ctx, repo.db, psql.Update("disciplines").
		Set("name", disc.Name).
		Set("code", disc.Code).
		Set("course_id", disc.CourseID).
		Where(sq.Eq{"id": disc.ID}))
	if err = checkAffected(res, err, catalog.ErrDisciplineNotFound); err != nil {
		return catalog.Discipline{}, err
	}
	return repo.GetDiscipline(ctx, disc.ID)
}

func (repo *catalogRepository) GetDiscipline(ctx context.Context, id int) (catalog.Discipline, error) {
	var disc catalog.Discipline
	err := get(ctx, repo.db, &disc, disciplineSelect.Where(sq.Eq{"d.id": id}))
	return disc, notFound(err, catalog.ErrDisciplineNotFound)
}

func (repo *catalogRepository) QueryDisciplines(ctx context.Context, filter catalog.DisciplineFilter) ([]catalog.Discipline, error) {
	b := disciplineSelect.OrderBy("d.name", "d.id")
	if filter.CourseID != 0 {
		b = b.Where(sq.Eq{"d.course_id": filter.CourseID})
	}
	var discs []catalog.Discipline
	err := selectAll(ctx, repo.db, &discs, b)
	return discs, err
}

func (repo *catalogRepository) DeleteDiscipline(ctx context.Context, id int) error {
	res, err := exec(ctx, repo.db, psql.Delete("disciplines").Where(sq.Eq{"id": id}))
	return checkAffected(res, err, catalog.ErrDisciplineNotFound)
}

// Terms

func (repo *catalogRepository) CreateTerm(ctx context.Context, term catalog.Term) (catalog.Term, error) {
	id, err := insertReturningID(ctx, repo.db, psql.Insert("terms").
		Columns("year", "period").
		Values(term.Year, term.Period))
	term.ID = id
	return term, err
}

func (repo *catalogRepository) GetTerm(ctx context.Context, id int) (catalog.Term, error) {
	var term catalog.Term
	err := get(ctx, repo.db, &term, psql.Select("id", "year", "period").From("terms").Where(sq.Eq{"id": id}))
	return term, notFound(err, catalog.ErrTermNotFound)
}

func (repo *catalogRepository) QueryTerms(ctx context.Context) ([]catalog.Term, error) {
	var terms []catalog.Term
	err := selectAll(ctx, repo.db, &terms, psql.Select("id", "year", "period").From("terms").OrderBy("year DESC", "period DESC"))
	return terms, err
}

func (repo *catalogRepository) DeleteTerm(ctx context.Context, id int) error {
	res, err := exec(ctx, repo.db, psql.Delete("terms").Where(sq.Eq{"id": id}))
	return checkAffected(res, err, catalog.ErrTermNotFound)
}

// Classes

func (repo *catalogRepository) CreateClass(ctx context.Context, class catalog.Class) (catalog.Class, error) {
	id, err := insertReturningID(ctx, repo.db, psql.Insert("classes").
		Columns("code", "discipline_id", "professor_id", "term_id").
		Values(class.Code, class.DisciplineID, class.ProfessorID, class.TermID))
	if err != nil {
		return catalog.Class{}, err
	}
	return repo.GetClass(ctx, id)
}

func (repo *catalogRepository) UpdateClass(ctx context.Context, class catalog.Class) (catalog.Class, error) {
	res, err := exec(ctx, repo.db, psql.Update("classes").
		Set("code", class.Code).
		Set("discipline_id", class.DisciplineID).
		Set("professor_id", class.ProfessorID).
		Set("term_id", class.TermID).
		Where(sq.Eq{"id": class.ID}))
	if err = checkAffected(res, err, catalog.ErrClassNotFound); err != nil {
		return catalog.Class{}, err
	}
	return repo.GetClass(ctx, class.ID)
}

func (repo *catalogRepository) GetClass(ctx context.Context, id int) (catalog.Class, error) {
	var class catalog.Class
	err := get(ctx, repo.db, &class, classSelect.Where(sq.Eq{"cl.id": id}))
	return class, notFound(err, catalog.ErrClassNotFound)
}

func (repo *catalogRepository) QueryClasses(ctx context.Context, filter catalog.ClassFilter) ([]catalog.Class, error) {
	b := classSelect.OrderBy("t.year DESC", "t.period DESC", "d.name", "cl.code")
	if filter.ProfessorID != 0 {
		b = b.Where(sq.Eq{"cl.professor_id": filter.ProfessorID})
	}
	if filter.StudentID != 0 {
		b = b.Where(sq.Expr("cl.id IN (SELECT class_id FROM enrollments WHERE student_id = ?)", filter.StudentID))
	}
	if filter.DisciplineID != 0 {
		b = b.Where(sq.Eq{"cl.discipline_id": filter.DisciplineID})
	}
	if filter.CourseID != 0 {
		b = b.Where(sq.Eq{"d.course_id": filter.CourseID})
	}
	if filter.TermID != 0 {
		b = b.Where(sq.Eq{"cl.term_id": filter.TermID})
	}
	var classes []catalog.Class
	err := selectAll(ctx, repo.db, &classes, b)
	return classes, err
}

func (repo *catalogRepository) DeleteClass(ctx context.Context, id int) error {
	res, err := exec(ctx, repo.db, psql.Delete("classes").Where(sq.Eq{"id": id}))
	return checkAffected(res, err, catalog.ErrClassNotFound)
}

// Enrollments

func (repo *catalogRepository) Enroll(ctx context.Context, enr catalog.Enrollment) (catalog.Enrollment, error) {
	id, err := insertReturningID(ctx, repo.db, psql.Insert("enrollments").
		Columns("class_id", "student_id", "created_at").
		Values(enr.ClassID, enr.StudentID, enr.CreatedAt))
	enr.ID = id
	return enr, err
}

func (repo *catalogRepository) Unenroll(ctx context.Context, classID, studentID int) error {
	res, err := exec(ctx, repo.db, psql.Delete("enrollments").Where(sq.Eq{"class_id": classID, "student_id": studentID}))
	return checkAffected(res, err, catalog.ErrNotEnrolled)
}

func (repo *catalogRepository) IsEnrolled(ctx context.Context, classID, studentID int) (bool, error) {
	var enrolled bool
	err := repo.db.GetContext(ctx, &enrolled,
		"SELECT EXISTS (SELECT 1 FROM enrollments WHERE class_id = $1 AND student_id = $2)", classID, studentID)
	return enrolled, dbError(err)
}

func (repo *catalogRepository) QueryRoster(ctx context.Context, classID int) ([]user.Student, error) {
	b := psql.Select(userColumns(user.RoleStudent, "s")...).
		From("students s").
		Join("enrollments e ON e.student_id = s.id").
		Where(sq.Eq{"e.class_id": classID}).
		OrderBy("s.name", "s.id")
	var students []user.Student
	err := selectAll(ctx, repo.db, &students, b)
	return students, err
}

// Competencies

func (repo *catalogRepository) CreateCompetency(ctx context.Context, comp catalog.Competency) (catalog.Competency, error) {
	id, err := insertReturningID(ctx, repo.db, psql.Insert("competencies").
		Columns("name", "description").
		Values(comp.Name, comp.Description))
	comp.ID = id
	return comp, err
}

func (repo *catalogRepository) UpdateCompetency(ctx context.Context, comp catalog.Competency) (catalog.Competency, error) {
	res, err := exec(ctx, repo.db, psql.Update("competencies").
		Set("name", comp.Name).
		Set("description", comp.Description).
		Where(sq.Eq{"id": comp.ID}))
	return comp, checkAffected(res, err, catalog.ErrCompetencyNotFound)
}

func (repo *catalogRepository) GetCompetency(ctx context.Context, id int) (catalog.Competency, error) {
	var comp catalog.Competency
	err := get(ctx, repo.db, &comp, psql.Select("id", "name", "description").From("competencies").Where(sq.Eq{"id": id}))
	return comp, notFound(err, catalog.ErrCompetencyNotFound)
}

func (repo *catalogRepository) QueryCompetencies(ctx context.Context, ids ...int) ([]catalog.Competency, error) {
	b := psql.Select("id", "name", "description").From("competencies").OrderBy("name", "id")
	if len(ids) > 0 {
		b = b.Where(sq.Eq{"id": ids})
	}
	var comps []catalog.Competency
	err := selectAll(ctx, repo.db, &comps, b)
	return comps, err
}

func (repo *catalogRepository) DeleteCompetency(ctx context.Context, id int) error {
	res, err := exec(ctx, repo.db, psql.Delete("competencies").Where(sq.Eq{"id": id}))
	return checkAffected(res, err, catalog.ErrCompetencyNotFound)
}
