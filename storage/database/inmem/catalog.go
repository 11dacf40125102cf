package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/feedback360/core/catalog"
	"github.com/trezcool/feedback360/core/user"
)

type catalogRepository struct {
	db *DB
}

var _ catalog.Repository = (*catalogRepository)(nil) // interface compliance check

func NewCatalogRepository(db *DB) catalog.Repository {
	return &catalogRepository{db: db}
}

// Courses

func (repo *catalogRepository) checkCourse(course catalog.Course) error {
	for id, other := range repo.db.courses {
		if id != course.ID && other.Code == course.Code {
			return violation("courses_code_key")
		}
	}
	return nil
}

func (repo *catalogRepository) CreateCourse(_ context.Context, course catalog.Course) (catalog.Course, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	course.ID = 0
	if err := repo.checkCourse(course); err != nil {
		return catalog.Course{}, err
	}
	course.ID = repo.db.nextID("courses")
	repo.db.courses[course.ID] = course
	return course, nil
}

func (repo *catalogRepository) UpdateCourse(_ context.Context, course catalog.Course) (catalog.Course, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.courses[course.ID]
	if !ok {
		return catalog.Course{}, catalog.ErrCourseNotFound
	}
	if err := repo.checkCourse(course); err != nil {
		return catalog.Course{}, err
	}
	course.CreatedAt = orig.CreatedAt
	repo.db.courses[course.ID] = course
	return course, nil
}

func (repo *catalogRepository) GetCourse(_ context.Context, id int) (catalog.Course, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if course, ok := repo.db.courses[id]; ok {
		return course, nil
	}
	return catalog.Course{}, catalog.ErrCourseNotFound
}

func (repo *catalogRepository) QueryCourses(_ context.Context) ([]catalog.Course, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	courses := make([]catalog.Course, 0, len(repo.db.courses))
	for _, course := range repo.db.courses {
		courses = append(courses, course)
	}
	sort.Slice(courses, func(i, j int) bool {
		if courses[i].Name != courses[j].Name {
			return courses[i].Name < courses[j].Name
		}
		return courses[i].ID < courses[j].ID
	})
	return courses, nil
}

func (repo *catalogRepository) DeleteCourse(_ context.Context, id int) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.courses[id]; !ok {
		return catalog.ErrCourseNotFound
	}
	for _, usr := range repo.db.users[user.RoleStudent] {
		if usr.(*user.Student).CourseID == id {
			return violation("students_course_id_fkey")
		}
	}
	for _, disc := range repo.db.disciplines {
		if disc.CourseID == id {
			return violation("disciplines_course_id_fkey")
		}
	}
	for _, usr := range repo.db.users[user.RoleCoordinator] {
		if coord := usr.(*user.Coordinator); coord.CourseID.Valid && int(coord.CourseID.Int) == id {
			coord.CourseID.Valid = false
			coord.CourseID.Int = 0
		}
	}
	delete(repo.db.courses, id)
	return nil
}

// Disciplines

// discipline must be called with the lock held.
func (repo *catalogRepository) discipline(disc catalog.Discipline) catalog.Discipline {
	disc.CourseName = repo.db.courses[disc.CourseID].Name
	return disc
}

func (repo *catalogRepository) checkDiscipline(disc catalog.Discipline) error {
	if _, ok := repo.db.courses[disc.CourseID]; !ok {
		return violation("disciplines_course_id_fkey")
	}
	for id, other := range repo.db.disciplines {
		if id != disc.ID && other.CourseID == disc.CourseID && other.Code == disc.Code {
			return violation("disciplines_course_id_code_key")
		}
	}
	return nil
}

func (repo *catalogRepository) CreateDiscipline(_ context.Context, disc catalog.Discipline) (catalog.Discipline, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	disc.ID = 0
	if err := repo.checkDiscipline(disc); err != nil {
		return catalog.Discipline{}, err
	}
	disc.ID = repo.db.nextID("disciplines")
	disc.CourseName = ""
	repo.db.disciplines[disc.ID] = disc
	return repo.discipline(disc), nil
}

func (repo *catalogRepository) UpdateDiscipline(_ context.Context, disc catalog.Discipline) (catalog.Discipline, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.disciplines[disc.ID]; !ok {
		return catalog.Discipline{}, catalog.ErrDisciplineNotFound
	}
	if err := repo.checkDiscipline(disc); err != nil {
		return catalog.Discipline{}, err
	}
	disc.CourseName = ""
	repo.db.disciplines[disc.ID] = disc
	return repo.discipline(disc), nil
}

func (repo *catalogRepository) GetDiscipline(_ context.Context, id int) (catalog.Discipline, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if disc, ok := repo.db.disciplines[id]; ok {
		return repo.discipline(disc), nil
	}
	return catalog.Discipline{}, catalog.ErrDisciplineNotFound
}

func (repo *catalogRepository) QueryDisciplines(_ context.Context, filter catalog.DisciplineFilter) ([]catalog.Discipline, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	discs := make([]catalog.Discipline, 0, len(repo.db.disciplines))
	for _, disc := range repo.db.disciplines {
		if filter.CourseID != 0 && disc.CourseID != filter.CourseID {
			continue
		}
		discs = append(discs, repo.discipline(disc))
	}
	sort.Slice(discs, func(i, j int) bool {
		if discs[i].Name != discs[j].Name {
			return discs[i].Name < discs[j].Name
		}
		return discs[i].ID < discs[j].ID
	})
	return discs, nil
}

func (repo *catalogRepository) DeleteDiscipline(_ context.Context, id int) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.disciplines[id]; !ok {
		return catalog.ErrDisciplineNotFound
	}
	for _, class := range repo.db.classes {
		if class.DisciplineID == id {
			return violation("classes_discipline_id_fkey")
		}
	}
	delete(repo.db.disciplines, id)
	return nil
}

// Terms

func (repo *catalogRepository) CreateTerm(_ context.Context, term catalog.Term) (catalog.Term, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, other := range repo.db.terms {
		if other.Year == term.Year && other.Period == term.Period {
			return catalog.Term{}, violation("terms_year_period_key")
		}
	}
	term.ID = repo.db.nextID("terms")
	repo.db.terms[term.ID] = term
	return term, nil
}

func (repo *catalogRepository) GetTerm(_ context.Context, id int) (catalog.Term, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if term, ok := repo.db.terms[id]; ok {
		return term, nil
	}
	return catalog.Term{}, catalog.ErrTermNotFound
}

func (repo *catalogRepository) QueryTerms(_ context.Context) ([]catalog.Term, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	terms := make([]catalog.Term, 0, len(repo.db.terms))
	for _, term := range repo.db.terms {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Year != terms[j].Year {
			return terms[i].Year > terms[j].Year
		}
		return terms[i].Period > terms[j].Period
	})
	return terms, nil
}

func (repo *catalogRepository) DeleteTerm(_ context.Context, id int) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.terms[id]; !ok {
		return catalog.ErrTermNotFound
	}
	for _, class := range repo.db.classes {
		if class.TermID == id {
			return violation("classes_term_id_fkey")
		}
	}
	delete(repo.db.terms, id)
	return nil
}

// Classes

// class fills the read only fields of class. It must be called with the lock held.
func (repo *catalogRepository) class(class catalog.Class) catalog.Class {
	disc := repo.db.disciplines[class.DisciplineID]
	term := repo.db.terms[class.TermID]
	class.DisciplineName = disc.Name
	class.CourseID = disc.CourseID
	class.TermYear = term.Year
	class.TermPeriod = term.Period
	if prof, ok := repo.db.users[user.RoleProfessor][class.ProfessorID]; ok {
		class.ProfessorName = prof.Acct().Name
	}
	return class
}

func (repo *catalogRepository) checkClass(class catalog.Class) error {
	if _, ok := repo.db.disciplines[class.DisciplineID]; !ok {
		return violation("classes_discipline_id_fkey")
	}
	if _, ok := repo.db.users[user.RoleProfessor][class.ProfessorID]; !ok {
		return violation("classes_professor_id_fkey")
	}
	if _, ok := repo.db.terms[class.TermID]; !ok {
		return violation("classes_term_id_fkey")
	}
	return nil
}

func (repo *catalogRepository) CreateClass(_ context.Context, class catalog.Class) (catalog.Class, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if err := repo.checkClass(class); err != nil {
		return catalog.Class{}, err
	}
	class.ID = repo.db.nextID("classes")
	repo.db.classes[class.ID] = class
	return repo.class(class), nil
}

func (repo *catalogRepository) UpdateClass(_ context.Context, class catalog.Class) (catalog.Class, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.classes[class.ID]; !ok {
		return catalog.Class{}, catalog.ErrClassNotFound
	}
	if err := repo.checkClass(class); err != nil {
		return catalog.Class{}, err
	}
	repo.db.classes[class.ID] = class
	return repo.class(class), nil
}

func (repo *catalogRepository) GetClass(_ context.Context, id int) (catalog.Class, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if class, ok := repo.db.classes[id]; ok {
		return repo.class(class), nil
	}
	return catalog.Class{}, catalog.ErrClassNotFound
}

// isEnrolled must be called with the lock held.
func (db *DB) isEnrolled(classID, studentID int) bool {
	for _, enr := range db.enrollments {
		if enr.ClassID == classID && enr.StudentID == studentID {
			return true
		}
	}
	return false
}

// groupedInClass reports whether studentID is a group member in any activity of classID.
func (db *DB) groupedInClass(classID, studentID int) bool {
	for _, grp := range db.groups {
		if act, ok := db.activities[grp.ActivityID]; ok && act.ClassID == classID && grp.HasMember(studentID) {
			return true
		}
	}
	return false
}

func (repo *catalogRepository) QueryClasses(_ context.Context, filter catalog.ClassFilter) ([]catalog.Class, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	classes := make([]catalog.Class, 0, len(repo.db.classes))
	for _, class := range repo.db.classes {
		class = repo.class(class)
		switch {
		case filter.ProfessorID != 0 && class.ProfessorID != filter.ProfessorID,
			filter.StudentID != 0 && !repo.db.isEnrolled(class.ID, filter.StudentID),
			filter.DisciplineID != 0 && class.DisciplineID != filter.DisciplineID,
			filter.CourseID != 0 && class.CourseID != filter.CourseID,
			filter.TermID != 0 && class.TermID != filter.TermID:
			continue
		}
		classes = append(classes, class)
	}
	sort.Slice(classes, func(i, j int) bool {
		a, b := classes[i], classes[j]
		switch {
		case a.TermYear != b.TermYear:
			return a.TermYear > b.TermYear
		case a.TermPeriod != b.TermPeriod:
			return a.TermPeriod > b.TermPeriod
		case a.DisciplineName != b.DisciplineName:
			return a.DisciplineName < b.DisciplineName
		case a.Code != b.Code:
			return a.Code < b.Code
		}
		return a.ID < b.ID
	})
	return classes, nil
}

func (repo *catalogRepository) DeleteClass(_ context.Context, id int) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.classes[id]; !ok {
		return catalog.ErrClassNotFound
	}
	for _, act := range repo.db.activities {
		if act.ClassID == id {
			return violation("activities_class_id_fkey")
		}
	}
	for eid, enr := range repo.db.enrollments {
		if enr.ClassID == id {
			delete(repo.db.enrollments, eid)
		}
	}
	delete(repo.db.classes, id)
	return nil
}

// Enrollments

func (repo *catalogRepository) Enroll(_ context.Context, enr catalog.Enrollment) (catalog.Enrollment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.classes[enr.ClassID]; !ok {
		return catalog.Enrollment{}, violation("enrollments_class_id_fkey")
	}
	if _, ok := repo.db.users[user.RoleStudent][enr.StudentID]; !ok {
		return catalog.Enrollment{}, violation("enrollments_student_id_fkey")
	}
	if repo.db.isEnrolled(enr.ClassID, enr.StudentID) {
		return catalog.Enrollment{}, violation("enrollments_class_id_student_id_key")
	}
	enr.ID = repo.db.nextID("enrollments")
	repo.db.enrollments[enr.ID] = enr
	return enr, nil
}

func (repo *catalogRepository) Unenroll(_ context.Context, classID, studentID int) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	for id, enr := range repo.db.enrollments {
		if enr.ClassID == classID && enr.StudentID == studentID {
			if repo.db.groupedInClass(classID, studentID) {
				return violation("group_members_enrollment_fkey")
			}
			delete(repo.db.enrollments, id)
			return nil
		}
	}
	return catalog.ErrNotEnrolled
}

func (repo *catalogRepository) IsEnrolled(_ context.Context, classID, studentID int) (bool, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	return repo.db.isEnrolled(classID, studentID), nil
}

func (repo *catalogRepository) QueryRoster(_ context.Context, classID int) ([]user.Student, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var students []user.Student
	for _, enr := range repo.db.enrollments {
		if enr.ClassID != classID {
			continue
		}
		if usr, ok := repo.db.users[user.RoleStudent][enr.StudentID]; ok {
			students = append(students, *usr.(*user.Student))
		}
	}
	sort.Slice(students, func(i, j int) bool {
		if students[i].Name != students[j].Name {
			return students[i].Name < students[j].Name
		}
		return students[i].ID < students[j].ID
	})
	return students, nil
}

// Competencies

func (repo *catalogRepository) CreateCompetency(_ context.Context, comp catalog.Competency) (catalog.Competency, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	comp.ID = repo.db.nextID("competencies")
	repo.db.competencies[comp.ID] = comp
	return comp, nil
}

func (repo *catalogRepository) UpdateCompetency(_ context.Context, comp catalog.Competency) (catalog.Competency, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.competencies[comp.ID]; !ok {
		return catalog.Competency{}, catalog.ErrCompetencyNotFound
	}
	repo.db.competencies[comp.ID] = comp
	return comp, nil
}

func (repo *catalogRepository) GetCompetency(_ context.Context, id int) (catalog.Competency, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if comp, ok := repo.db.competencies[id]; ok {
		return comp, nil
	}
	return catalog.Competency{}, catalog.ErrCompetencyNotFound
}

func (repo *catalogRepository) QueryCompetencies(_ context.Context, ids ...int) ([]catalog.Competency, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var comps []catalog.Competency
	if len(ids) > 0 {
		for _, id := range ids {
			if comp, ok := repo.db.competencies[id]; ok {
				comps = append(comps, comp)
			}
		}
	} else {
		for _, comp := range repo.db.competencies {
			comps = append(comps, comp)
		}
	}
	sort.Slice(comps, func(i, j int) bool {
		if comps[i].Name != comps[j].Name {
			return comps[i].Name < comps[j].Name
		}
		return comps[i].ID < comps[j].ID
	})
	return comps, nil
}

func (repo *catalogRepository) DeleteCompetency(_ context.Context, id int) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.competencies[id]; !ok {
		return catalog.ErrCompetencyNotFound
	}
	for _, act := range repo.db.activities {
		for _, cid := range act.CompetencyIDs {
			if cid == id {
				return violation("activity_competencies_competency_id_fkey")
			}
		}
	}
	for _, sc := range repo.db.scores {
		if sc.CompetencyID == id {
			return violation("scores_competency_id_fkey")
		}
	}
	delete(repo.db.competencies, id)
	return nil
}
