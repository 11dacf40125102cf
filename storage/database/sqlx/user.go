package sqlxrepos

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/feedback360/core"
	"github.com/trezcool/feedback360/core/user"
)

var (
	userTables = map[user.Role]string{
		user.RoleStudent:     "students",
		user.RoleProfessor:   "professors",
		user.RoleCoordinator: "coordinators",
		user.RoleAdmin:       "admins",
	}

	accountColumns = []string{"id", "name", "email", "password_hash", "reset_token", "created_at", "updated_at"}
	roleColumns    = map[user.Role][]string{
		user.RoleStudent:     {"enrollment_number", "course_id"},
		user.RoleCoordinator: {"course_id"},
	}

	userOrdering = map[string]string{
		"name":       "name",
		"email":      "email",
		"created_at": "created_at",
	}
)

func userTable(role user.Role) (string, error) {
	table, ok := userTables[role]
	if !ok {
		return "", errors.Errorf("invalid role %q", role)
	}
	return table, nil
}

func userColumns(role user.Role, prefix string) []string {
	cols := append(append([]string{}, accountColumns...), roleColumns[role]...)
	if prefix != "" {
		for i := range cols {
			cols[i] = prefix + "." + cols[i]
		}
	}
	return cols
}

// userValues returns the column values of usr, without id.
func userValues(usr user.User) map[string]interface{} {
	acct := usr.Acct()
	vals := map[string]interface{}{
		"name":          acct.Name,
		"email":         acct.Email,
		"password_hash": acct.PasswordHash,
		"reset_token":   acct.ResetToken,
		"created_at":    acct.CreatedAt,
		"updated_at":    acct.UpdatedAt,
	}
	switch u := usr.(type) {
	case *user.Student:
		vals["enrollment_number"] = u.EnrollmentNumber
		vals["course_id"] = u.CourseID
	case *user.Coordinator:
		vals["course_id"] = u.CourseID
	case *user.Professor, *user.Admin:
	}
	return vals
}

// scanUsers runs a select and scans every row into a User of the given role.
func scanUsers(ctx context.Context, q queryer, role user.Role, b sq.Sqlizer) ([]user.User, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	rows, err := q.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, dbError(err)
	}
	defer func() { _ = rows.Close() }()

	var users []user.User
	for rows.Next() {
		usr, err := user.New(role)
		if err != nil {
			return nil, err
		}
		if err = rows.StructScan(usr); err != nil {
			return nil, err
		}
		users = append(users, usr)
	}
	return users, rows.Err()
}

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sqlx.DB) user.Repository {
	return &userRepository{db: db}
}

func (repo *userRepository) CheckEmailUniqueness(ctx context.Context, role user.Role, email string, excludeID int) error {
	table, err := userTable(role)
	if err != nil {
		return err
	}
	var count int
	b := psql.Select("COUNT(*)").From(table).Where(sq.Eq{"email": email}).Where(sq.NotEq{"id": excludeID})
	if err = get(ctx, repo.db, &count, b); err != nil {
		return dbError(err)
	}
	if count > 0 {
		return user.ErrEmailExists
	}
	return nil
}

func (repo *userRepository) CheckEnrollmentNumberUniqueness(ctx context.Context, number string, excludeID int) error {
	var count int
	b := psql.Select("COUNT(*)").From("students").
		Where(sq.Eq{"enrollment_number": number}).
		Where(sq.NotEq{"id": excludeID})
	if err := get(ctx, repo.db, &count, b); err != nil {
		return dbError(err)
	}
	if count > 0 {
		return user.ErrEnrollmentExists
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	table, err := userTable(usr.Role())
	if err != nil {
		return nil, err
	}
	id, err := insertReturningID(ctx, repo.db, psql.Insert(table).SetMap(userValues(usr)))
	if err != nil {
		return nil, err
	}
	usr.Acct().ID = id
	return usr, nil
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	table, err := userTable(usr.Role())
	if err != nil {
		return nil, err
	}
	vals := userValues(usr)
	delete(vals, "created_at")
	res, err := exec(ctx, repo.db, psql.Update(table).SetMap(vals).Where(sq.Eq{"id": usr.Acct().ID}))
	if err = checkAffected(res, err, user.ErrNotFound); err != nil {
		return nil, err
	}
	return usr, nil
}

func (repo *userRepository) GetUser(ctx context.Context, role user.Role, filter user.GetFilter) (user.User, error) {
	table, err := userTable(role)
	if err != nil {
		return nil, err
	}
	b := psql.Select(userColumns(role, "")...).From(table).Limit(1)
	switch {
	case filter.ID != 0:
		b = b.Where(sq.Eq{"id": filter.ID})
	case filter.Email != "":
		b = b.Where(sq.Eq{"email": filter.Email})
	case filter.ResetToken != "":
		b = b.Where(sq.Eq{"reset_token": filter.ResetToken})
	case filter.EnrollmentNumber != "" && role == user.RoleStudent:
		b = b.Where(sq.Eq{"enrollment_number": filter.EnrollmentNumber})
	default:
		return nil, user.ErrNotFound
	}
	users, err := scanUsers(ctx, repo.db, role, b)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, user.ErrNotFound
	}
	return users[0], nil
}

func (repo *userRepository) QueryUsers(ctx context.Context, role user.Role, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	table, err := userTable(role)
	if err != nil {
		return nil, err
	}
	b := psql.Select(userColumns(role, "")...).From(table)
	if filter != nil {
		if filter.Search != "" {
			pattern := "%" + filter.Search + "%"
			search := sq.Or{sq.ILike{"name": pattern}, sq.ILike{"email": pattern}}
			if role == user.RoleStudent {
				search = append(search, sq.ILike{"enrollment_number": pattern})
			}
			b = b.Where(search)
		}
		if filter.CourseID != 0 && (role == user.RoleStudent || role == user.RoleCoordinator) {
			b = b.Where(sq.Eq{"course_id": filter.CourseID})
		}
	}
	b = b.OrderBy(orderBy(ordering, userOrdering, "name ASC", "id ASC")...)
	return scanUsers(ctx, repo.db, role, b)
}

func (repo *userRepository) CountUsers(ctx context.Context, role user.Role) (int, error) {
	table, err := userTable(role)
	if err != nil {
		return 0, err
	}
	var count int
	err = get(ctx, repo.db, &count, psql.Select("COUNT(*)").From(table))
	return count, dbError(err)
}

func (repo *userRepository) DeleteUser(ctx context.Context, role user.Role, id int) error {
	table, err := userTable(role)
	if err != nil {
		return err
	}
	res, err := exec(ctx, repo.db, psql.Delete(table).Where(sq.Eq{"id": id}))
	return checkAffected(res, err, user.ErrNotFound)
}

type deletionGuard struct {
	db *sqlx.DB
}

var _ user.DeletionGuard = (*deletionGuard)(nil) // interface compliance check

// NewDeletionGuard reports students referenced by evaluations and professors referenced by classes.
func NewDeletionGuard(db *sqlx.DB) user.DeletionGuard {
	return &deletionGuard{db: db}
}

func (g *deletionGuard) AccountInUse(ctx context.Context, role user.Role, id int) (bool, error) {
	var query string
	switch role {
	case user.RoleStudent:
		query = "SELECT EXISTS (SELECT 1 FROM evaluations WHERE evaluator_id = $1 OR evaluated_id = $1)"
	case user.RoleProfessor:
		query = "SELECT EXISTS (SELECT 1 FROM classes WHERE professor_id = $1)"
	default:
		return false, nil
	}
	var inUse bool
	err := g.db.GetContext(ctx, &inUse, query, id)
	return inUse, dbError(err)
}
