package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/feedback360/core"
	"github.com/trezcool/feedback360/core/user"
)

func cloneUser(usr user.User) user.User {
	switch u := usr.(type) {
	case *user.Student:
		c := *u
		return &c
	case *user.Professor:
		c := *u
		return &c
	case *user.Coordinator:
		c := *u
		return &c
	case *user.Admin:
		c := *u
		return &c
	}
	return nil
}

type userRepository struct {
	db *DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) user.Repository {
	return &userRepository{db: db}
}

func (repo *userRepository) table(role user.Role) (map[int]user.User, error) {
	table, ok := repo.db.users[role]
	if !ok {
		return nil, errors.Errorf("invalid role %q", role)
	}
	return table, nil
}

// checkConstraints must be called with the lock held.
func (repo *userRepository) checkConstraints(usr user.User) error {
	table, err := repo.table(usr.Role())
	if err != nil {
		return err
	}
	acct := usr.Acct()
	for id, other := range table {
		if id == acct.ID {
			continue
		}
		if other.Acct().Email == acct.Email {
			return violation(string(usr.Role()) + "_email_key")
		}
		if acct.ResetToken.Valid && other.Acct().ResetToken == acct.ResetToken {
			return violation(string(usr.Role()) + "_reset_token_key")
		}
		if st, ok := usr.(*user.Student); ok && other.(*user.Student).EnrollmentNumber == st.EnrollmentNumber {
			return violation("students_enrollment_number_key")
		}
	}
	switch u := usr.(type) {
	case *user.Student:
		if _, ok := repo.db.courses[u.CourseID]; !ok {
			return violation("students_course_id_fkey")
		}
	case *user.Coordinator:
		if _, ok := repo.db.courses[int(u.CourseID.Int)]; u.CourseID.Valid && !ok {
			return violation("coordinators_course_id_fkey")
		}
	}
	return nil
}

func (repo *userRepository) CheckEmailUniqueness(_ context.Context, role user.Role, email string, excludeID int) error {
	repo.db.RLock()
	defer repo.db.RUnlock()

	table, err := repo.table(role)
	if err != nil {
		return err
	}
	for id, usr := range table {
		if id != excludeID && usr.Acct().Email == email {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CheckEnrollmentNumberUniqueness(_ context.Context, number string, excludeID int) error {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for id, usr := range repo.db.users[user.RoleStudent] {
		if id != excludeID && usr.(*user.Student).EnrollmentNumber == number {
			return user.ErrEnrollmentExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	usr = cloneUser(usr)
	usr.Acct().ID = 0
	if err := repo.checkConstraints(usr); err != nil {
		return nil, err
	}
	usr.Acct().ID = repo.db.nextID(string(usr.Role()))
	repo.db.users[usr.Role()][usr.Acct().ID] = usr
	return cloneUser(usr), nil
}

func (repo *userRepository) UpdateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	table, err := repo.table(usr.Role())
	if err != nil {
		return nil, err
	}
	orig, ok := table[usr.Acct().ID]
	if !ok {
		return nil, user.ErrNotFound
	}
	usr = cloneUser(usr)
	usr.Acct().CreatedAt = orig.Acct().CreatedAt
	if err = repo.checkConstraints(usr); err != nil {
		return nil, err
	}
	table[usr.Acct().ID] = usr
	return cloneUser(usr), nil
}

func (repo *userRepository) GetUser(_ context.Context, role user.Role, filter user.GetFilter) (user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	table, err := repo.table(role)
	if err != nil {
		return nil, err
	}
	var match func(user.User) bool
	switch {
	case filter.ID != 0:
		if usr, ok := table[filter.ID]; ok {
			return cloneUser(usr), nil
		}
		return nil, user.ErrNotFound
	case filter.Email != "":
		match = func(u user.User) bool { return u.Acct().Email == filter.Email }
	case filter.ResetToken != "":
		match = func(u user.User) bool { return u.Acct().ResetToken.String == filter.ResetToken }
	case filter.EnrollmentNumber != "" && role == user.RoleStudent:
		match = func(u user.User) bool { return u.(*user.Student).EnrollmentNumber == filter.EnrollmentNumber }
	default:
		return nil, user.ErrNotFound
	}
	for _, usr := range table {
		if match(usr) {
			return cloneUser(usr), nil
		}
	}
	return nil, user.ErrNotFound
}

func userCourse(usr user.User) int {
	switch u := usr.(type) {
	case *user.Student:
		return u.CourseID
	case *user.Coordinator:
		return int(u.CourseID.Int)
	}
	return 0
}

func matchesSearch(usr user.User, search string) bool {
	search = strings.ToLower(search)
	acct := usr.Acct()
	if strings.Contains(strings.ToLower(acct.Name), search) || strings.Contains(strings.ToLower(acct.Email), search) {
		return true
	}
	if st, ok := usr.(*user.Student); ok {
		return strings.Contains(strings.ToLower(st.EnrollmentNumber), search)
	}
	return false
}

func lessUsers(a, b user.User, ordering []core.DBOrdering) bool {
	for _, ord := range ordering {
		var cmp int
		switch ord.Field {
		case "name":
			cmp = strings.Compare(a.Acct().Name, b.Acct().Name)
		case "email":
			cmp = strings.Compare(a.Acct().Email, b.Acct().Email)
		case "created_at":
			switch {
			case a.Acct().CreatedAt.Before(b.Acct().CreatedAt):
				cmp = -1
			case a.Acct().CreatedAt.After(b.Acct().CreatedAt):
				cmp = 1
			}
		}
		if cmp != 0 {
			return (cmp < 0) == ord.Ascending
		}
	}
	return a.Acct().ID < b.Acct().ID
}

func (repo *userRepository) QueryUsers(_ context.Context, role user.Role, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	table, err := repo.table(role)
	if err != nil {
		return nil, err
	}
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "name", Ascending: true}}
	}
	users := make([]user.User, 0, len(table))
	for _, usr := range table {
		if filter != nil {
			if filter.Search != "" && !matchesSearch(usr, filter.Search) {
				continue
			}
			if filter.CourseID != 0 && (role == user.RoleStudent || role == user.RoleCoordinator) && userCourse(usr) != filter.CourseID {
				continue
			}
		}
		users = append(users, cloneUser(usr))
	}
	sort.Slice(users, func(i, j int) bool { return lessUsers(users[i], users[j], ordering) })
	return users, nil
}

func (repo *userRepository) CountUsers(_ context.Context, role user.Role) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	table, err := repo.table(role)
	if err != nil {
		return 0, err
	}
	return len(table), nil
}

func (repo *userRepository) DeleteUser(_ context.Context, role user.Role, id int) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	table, err := repo.table(role)
	if err != nil {
		return err
	}
	if _, ok := table[id]; !ok {
		return user.ErrNotFound
	}
	switch role {
	case user.RoleStudent:
		if repo.db.studentInEvaluations(id) {
			return violation("evaluations_evaluator_id_fkey")
		}
		for eid, enr := range repo.db.enrollments {
			if enr.StudentID == id {
				delete(repo.db.enrollments, eid)
			}
		}
		for gid, grp := range repo.db.groups {
			grp.MemberIDs = removeInt(grp.MemberIDs, id)
			repo.db.groups[gid] = grp
		}
	case user.RoleProfessor:
		for _, class := range repo.db.classes {
			if class.ProfessorID == id {
				return violation("classes_professor_id_fkey")
			}
		}
	}
	for nid, n := range repo.db.notifications {
		if n.Recipient.Role == role && n.Recipient.ID == id {
			delete(repo.db.notifications, nid)
		}
	}
	delete(table, id)
	return nil
}

// studentInEvaluations must be called with the lock held.
func (db *DB) studentInEvaluations(id int) bool {
	for _, ev := range db.evaluations {
		if ev.EvaluatorID == id || ev.EvaluatedID == id {
			return true
		}
	}
	return false
}

func removeInt(ids []int, id int) []int {
	out := ids[:0:0]
	for _, i := range ids {
		if i != id {
			out = append(out, i)
		}
	}
	return out
}

type deletionGuard struct {
	db *DB
}

var _ user.DeletionGuard = (*deletionGuard)(nil) // interface compliance check

func NewDeletionGuard(db *DB) user.DeletionGuard {
	return &deletionGuard{db: db}
}

func (g *deletionGuard) AccountInUse(_ context.Context, role user.Role, id int) (bool, error) {
	g.db.RLock()
	defer g.db.RUnlock()

	switch role {
	case user.RoleStudent:
		return g.db.studentInEvaluations(id), nil
	case user.RoleProfessor:
		for _, class := range g.db.classes {
			if class.ProfessorID == id {
				return true, nil
			}
		}
	}
	return false, nil
}
