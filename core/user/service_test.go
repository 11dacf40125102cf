package user_test

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/trezcool/feedback360/core"
	"github.com/trezcool/feedback360/core/catalog"
	"github.com/trezcool/feedback360/core/user"
	"github.com/trezcool/feedback360/testutil"
)

// fieldOf returns the first invalid field of a validation error.
func fieldOf(err error) string {
	var vErr *core.ValidationError
	if errors.As(err, &vErr) && len(vErr.Fields) > 0 {
		return vErr.Fields[0].Field
	}
	return ""
}

func TestService_Authenticate(t *testing.T) {
	env := testutil.NewEnv(t)
	f := env.NewFixture(t, 0, 0)
	ctx := context.Background()

	student := env.CreateUser(t, user.NewUser{
		Role:             user.RoleStudent,
		Name:             "Shared Student",
		Email:            "shared@test.com",
		Password:         "student-pwd",
		EnrollmentNumber: "1001",
		CourseID:         f.Course.ID,
	})
	admin := env.CreateUser(t, user.NewUser{
		Role:     user.RoleAdmin,
		Name:     "Shared Admin",
		Email:    "shared@test.com",
		Password: "admin-pwd",
	})

	tests := []struct {
		name     string
		email    string
		pwd      string
		wantRole user.Role
		wantID   int
		wantErr  error
	}{
		{name: "no email", pwd: "student-pwd", wantErr: user.ErrAuthenticationFailed},
		{name: "no password", email: "shared@test.com", wantErr: user.ErrAuthenticationFailed},
		{name: "unknown email", email: "lol@test.com", pwd: "student-pwd", wantErr: user.ErrAuthenticationFailed},
		{name: "wrong password", email: "shared@test.com", pwd: "lol", wantErr: user.ErrAuthenticationFailed},
		{name: "student first", email: "shared@test.com", pwd: "student-pwd", wantRole: user.RoleStudent, wantID: student.Acct().ID},
		{name: "falls through to admin", email: "shared@test.com", pwd: "admin-pwd", wantRole: user.RoleAdmin, wantID: admin.Acct().ID},
		{name: "email is cleaned", email: "  SHARED@test.com ", pwd: "admin-pwd", wantRole: user.RoleAdmin, wantID: admin.Acct().ID},
		{name: "professor", email: "professor@test.com", pwd: testutil.Password, wantRole: user.RoleProfessor, wantID: f.Professor.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usr, err := env.Users.Authenticate(ctx, tt.email, tt.pwd)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRole, usr.Role())
			assert.Equal(t, tt.wantID, usr.Acct().ID)
		})
	}
}

func TestService_Create(t *testing.T) {
	env := testutil.NewEnv(t)
	f := env.NewFixture(t, 0, 0)
	ctx := context.Background()

	prof := func(pwd, confirm string) user.NewUser {
		return user.NewUser{
			Role:            user.RoleProfessor,
			Name:            "Maria Silva",
			Email:           "maria@test.com",
			Password:        pwd,
			PasswordConfirm: confirm,
		}
	}

	tests := []struct {
		name      string
		nu        user.NewUser
		wantField string
		wantInteg bool
	}{
		{name: "invalid role", nu: user.NewUser{Role: "lol", Name: "X", Email: "x@test.com"}, wantField: "role"},
		{name: "password too short", nu: prof("Ab1!", "Ab1!"), wantField: "password"},
		{name: "password with space", nu: prof("Abc 123!x", "Abc 123!x"), wantField: "password"},
		{name: "password all numeric", nu: prof("12345678", "12345678"), wantField: "password"},
		{name: "password not complex", nu: prof("Abcdefg1", "Abcdefg1"), wantField: "password"},
		{name: "password similar to name", nu: prof("MariaSilva1!", "MariaSilva1!"), wantField: "password"},
		{name: "password mismatch", nu: prof("Xk9#pQ2!zW", "Xk9#pQ2!zX"), wantField: "password_confirm"},
		{
			name: "student without enrollment number",
			nu: user.NewUser{
				Role: user.RoleStudent, Name: "Aluno", Email: "aluno@test.com",
				Password: "Xk9#pQ2!zW", PasswordConfirm: "Xk9#pQ2!zW", CourseID: f.Course.ID,
			},
			wantField: "enrollment_number",
		},
		{
			name: "student of unknown course",
			nu: user.NewUser{
				Role: user.RoleStudent, Name: "Aluno", Email: "aluno@test.com",
				Password: "Xk9#pQ2!zW", PasswordConfirm: "Xk9#pQ2!zW", EnrollmentNumber: "42", CourseID: 999,
			},
			wantInteg: true,
		},
		{name: "email taken in the same table", nu: user.NewUser{
			Role: user.RoleProfessor, Name: "Other", Email: "PROFESSOR@test.com",
			Password: "Xk9#pQ2!zW", PasswordConfirm: "Xk9#pQ2!zW",
		}, wantField: "email"},
		{name: "valid", nu: prof("Xk9#pQ2!zW", "Xk9#pQ2!zW")},
		{name: "email taken in another table", nu: user.NewUser{
			Role: user.RoleCoordinator, Name: "Coord", Email: "professor@test.com",
			Password: "Xk9#pQ2!zW", PasswordConfirm: "Xk9#pQ2!zW", CourseID: f.Course.ID,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usr, err := env.Users.Create(ctx, f.AdminSession(), tt.nu)
			switch {
			case tt.wantField != "":
				require.True(t, core.IsValidation(err), "Create() error = %v, want validation error", err)
				assert.Equal(t, tt.wantField, fieldOf(err))
			case tt.wantInteg:
				assert.True(t, core.IsIntegrity(err), "Create() error = %v, want integrity error", err)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.nu.Role, usr.Role())
				assert.Equal(t, strings.ToLower(tt.nu.Email), usr.Acct().Email)
				assert.NoError(t, usr.Acct().CheckPassword(tt.nu.Password))
			}
		})
	}

	t.Run("admins only", func(t *testing.T) {
		for _, sess := range []user.Session{f.ProfessorSession(), user.SessionOf(env.CreateCoordinator(t, "C", "c@test.com", f.Course.ID))} {
			_, err := env.Users.Create(ctx, sess, prof("Xk9#pQ2!zW", "Xk9#pQ2!zW"))
			assert.Equal(t, user.ErrAdminOnly, err, "role %s", sess.Role)
		}
	})

	t.Run("trusted skips the password policy", func(t *testing.T) {
		usr, err := env.Users.CreateTrusted(ctx, user.NewUser{Role: user.RoleAdmin, Name: "Root", Email: "root@test.com", Password: "123"})
		require.NoError(t, err)
		assert.NoError(t, usr.Acct().CheckPassword("123"))
	})
}

func TestService_Update(t *testing.T) {
	env := testutil.NewEnv(t)
	f := env.NewFixture(t, 2, 0)
	ctx := context.Background()

	coord := env.CreateCoordinator(t, "Coord", "coord@test.com", f.Course.ID)
	require.True(t, coord.CourseID.Valid)
	otherCourse, err := env.Catalog.CreateCourse(ctx, f.AdminSession(), catalog.NewCourse{Name: "Outro", Code: "OUT"})
	require.NoError(t, err)
	adminSess := f.AdminSession()
	coordSess := user.SessionOf(coord)

	tests := []struct {
		name    string
		sess    user.Session
		role    user.Role
		id      int
		uu      user.UpdateUser
		wantErr func(error) bool
		check   func(t *testing.T, usr user.User)
	}{
		{
			name: "coordinator keeps the course on self update",
			sess: coordSess, role: user.RoleCoordinator, id: coord.ID,
			uu: user.UpdateUser{Name: "Coordenadora", CourseID: otherCourse.ID},
			check: func(t *testing.T, usr user.User) {
				assert.Equal(t, "Coordenadora", usr.Acct().Name)
				assert.Equal(t, f.Course.ID, usr.(*user.Coordinator).CourseID.Int)
			},
		},
		{
			name: "admin clears the coordinator course",
			sess: adminSess, role: user.RoleCoordinator, id: coord.ID,
			check: func(t *testing.T, usr user.User) {
				assert.False(t, usr.(*user.Coordinator).CourseID.Valid, "course should be cleared")
			},
		},
		{
			name: "student keeps enrollment and course on self update",
			sess: f.StudentSession(1), role: user.RoleStudent, id: f.Students[1].ID,
			uu: user.UpdateUser{Name: "Aluna", EnrollmentNumber: "555", CourseID: otherCourse.ID},
			check: func(t *testing.T, usr user.User) {
				assert.Equal(t, "Aluna", usr.Acct().Name)
				assert.Equal(t, f.Students[1].EnrollmentNumber, usr.(*user.Student).EnrollmentNumber)
				assert.Equal(t, f.Course.ID, usr.(*user.Student).CourseID)
			},
		},
		{
			name: "admin updates a student",
			sess: adminSess, role: user.RoleStudent, id: f.Students[0].ID,
			uu: user.UpdateUser{Name: " Renamed ", EnrollmentNumber: "777"},
			check: func(t *testing.T, usr user.User) {
				assert.Equal(t, "Renamed", usr.Acct().Name)
				assert.Equal(t, "777", usr.(*user.Student).EnrollmentNumber)
				assert.Equal(t, f.Course.ID, usr.(*user.Student).CourseID)
			},
		},
		{
			name: "student updating another student",
			sess: f.StudentSession(1), role: user.RoleStudent, id: f.Students[0].ID,
			uu:      user.UpdateUser{Name: "X"},
			wantErr: func(err error) bool { return err == user.ErrAdminOnly },
		},
		{
			name: "professor updating a student",
			sess: f.ProfessorSession(), role: user.RoleStudent, id: f.Students[0].ID,
			uu:      user.UpdateUser{Name: "X"},
			wantErr: func(err error) bool { return err == user.ErrAdminOnly },
		},
		{
			name: "email taken",
			sess: adminSess, role: user.RoleStudent, id: f.Students[0].ID,
			uu:      user.UpdateUser{Email: f.Students[1].Email},
			wantErr: func(err error) bool { return fieldOf(err) == "email" },
		},
		{
			name: "enrollment number taken",
			sess: adminSess, role: user.RoleStudent, id: f.Students[0].ID,
			uu:      user.UpdateUser{EnrollmentNumber: f.Students[1].EnrollmentNumber},
			wantErr: func(err error) bool { return fieldOf(err) == "enrollment_number" },
		},
		{
			name: "not found",
			sess: adminSess, role: user.RoleStudent, id: 999,
			uu:      user.UpdateUser{Name: "X"},
			wantErr: core.IsNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usr, err := env.Users.Update(ctx, tt.sess, tt.role, tt.id, tt.uu)
			if tt.wantErr != nil {
				assert.True(t, tt.wantErr(err), "Update() error = %v", err)
				return
			}
			require.NoError(t, err)
			tt.check(t, usr)
		})
	}
}

func TestService_Delete(t *testing.T) {
	env := testutil.NewEnv(t)
	f := env.NewFixture(t, 3, 1)
	ctx := context.Background()
	env.CreateGroup(t, f, "G1", 0, 1)

	idle := env.CreateProfessor(t, "Idle", "idle@test.com")
	other := env.CreateAdmin(t, "Other", "other@test.com")
	adminSess := f.AdminSession()
	// still signed after its account is gone
	staleSess := user.SessionOf(other)

	tests := []struct {
		name    string
		sess    user.Session
		role    user.Role
		id      int
		wantErr error
	}{
		{name: "professor", sess: f.ProfessorSession(), role: user.RoleStudent, id: f.Students[2].ID, wantErr: user.ErrAdminOnly},
		{name: "student", sess: f.StudentSession(2), role: user.RoleStudent, id: f.Students[2].ID, wantErr: user.ErrAdminOnly},
		{name: "self", sess: adminSess, role: user.RoleAdmin, id: f.Admin.ID, wantErr: user.ErrSelfDelete},
		{name: "not found", sess: adminSess, role: user.RoleStudent, id: 999, wantErr: user.ErrNotFound},
		{name: "grouped student", sess: adminSess, role: user.RoleStudent, id: f.Students[0].ID, wantErr: user.ErrAccountInUse},
		{name: "class professor", sess: adminSess, role: user.RoleProfessor, id: f.Professor.ID, wantErr: user.ErrAccountInUse},
		{name: "ungrouped student", sess: adminSess, role: user.RoleStudent, id: f.Students[2].ID},
		{name: "idle professor", sess: adminSess, role: user.RoleProfessor, id: idle.ID},
		{name: "another admin", sess: adminSess, role: user.RoleAdmin, id: other.ID},
		{name: "last admin", sess: staleSess, role: user.RoleAdmin, id: f.Admin.ID, wantErr: user.ErrLastAdmin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.Users.Delete(ctx, tt.sess, tt.role, tt.id)
			assert.Equal(t, tt.wantErr, err)
			if err == nil {
				_, err = env.Users.Get(ctx, tt.role, tt.id)
				assert.True(t, core.IsNotFound(err), "account should be gone")
			}
		})
	}

	roster, err := env.Catalog.Roster(ctx, f.Class.ID)
	require.NoError(t, err)
	assert.Len(t, roster, 2, "deleted student should leave the roster")
}

func TestService_EnsureAdmin(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	created, err := env.Users.EnsureAdmin(ctx, "Admin", "Admin@Test.com", "admin123")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = env.Users.EnsureAdmin(ctx, "Admin 2", "admin2@test.com", "admin123")
	require.NoError(t, err)
	assert.False(t, created)

	cnt, err := env.Users.Count(ctx, user.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, 1, cnt)

	usr, err := env.Users.Authenticate(ctx, "admin@test.com", "admin123")
	require.NoError(t, err)
	assert.Equal(t, user.RoleAdmin, usr.Role())
}

func TestService_PasswordReset(t *testing.T) {
	env := testutil.NewEnv(t)
	f := env.NewFixture(t, 1, 0)
	ctx := context.Background()
	student := f.Students[0]

	err := env.Users.RequestPasswordReset(ctx, "lol@test.com")
	assert.Equal(t, user.ErrNotFound, err)
	assert.Empty(t, env.Mail.SentMessages())

	require.NoError(t, env.Users.RequestPasswordReset(ctx, " ALUNO1@test.com"))

	sent := env.Mail.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "password_reset", sent[0].TemplateName)
	assert.Equal(t, student.Email, sent[0].To[0].Address)

	usr, err := env.Users.FindByEmail(ctx, student.Email, user.RoleStudent)
	require.NoError(t, err)
	token := usr.Acct().ResetToken.String
	require.NotEmpty(t, token)
	assert.Contains(t, sent[0].TextContent, env.Conf.BaseURL+"/reset-password/confirm/"+token)
	assert.Contains(t, sent[0].HTMLContent, token)

	usr, err = env.Users.GetByResetToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, student.ID, usr.Acct().ID)

	_, err = env.Users.GetByResetToken(ctx, "lol")
	assert.Equal(t, user.ErrInvalidResetToken, err)

	err = env.Users.ResetPassword(ctx, user.ResetUserPassword{Token: token, Password: "weak", PasswordConfirm: "weak"})
	assert.Equal(t, "password", fieldOf(err))

	newPwd := "N3w!Passw0rd"
	require.NoError(t, env.Users.ResetPassword(ctx, user.ResetUserPassword{Token: token, Password: newPwd, PasswordConfirm: newPwd}))

	_, err = env.Users.Authenticate(ctx, student.Email, newPwd)
	assert.NoError(t, err)

	err = env.Users.ResetPassword(ctx, user.ResetUserPassword{Token: token, Password: newPwd, PasswordConfirm: newPwd})
	assert.Equal(t, user.ErrInvalidResetToken, err, "token should be single use")
}

func TestService_ChangePassword(t *testing.T) {
	env := testutil.NewEnv(t)
	f := env.NewFixture(t, 0, 0)
	ctx := context.Background()
	sess := f.ProfessorSession()
	newPwd := "N3w!Passw0rd"

	err := env.Users.ChangePassword(ctx, sess, user.ChangePassword{CurrentPassword: "lol", Password: newPwd, PasswordConfirm: newPwd})
	assert.Equal(t, user.ErrWrongPassword, err)

	err = env.Users.ChangePassword(ctx, sess, user.ChangePassword{CurrentPassword: testutil.Password, Password: "weak", PasswordConfirm: "weak"})
	assert.Equal(t, "password", fieldOf(err))

	err = env.Users.ChangePassword(ctx, sess, user.ChangePassword{CurrentPassword: testutil.Password, Password: newPwd, PasswordConfirm: newPwd})
	require.NoError(t, err)

	_, err = env.Users.Authenticate(ctx, "professor@test.com", newPwd)
	assert.NoError(t, err)
}

func TestService_ImportCSV(t *testing.T) {
	env := testutil.NewEnv(t)
	f := env.NewFixture(t, 0, 0)
	ctx := context.Background()
	course := strconv.Itoa(f.Course.ID)

	csvData := strings.Join([]string{
		"nome,email,matricula,curso_id",
		"Ana,ana@test.com,20240001," + course,
		"Bia,not-an-email,20240002," + course,
		"Caio,caio@test.com,20240003,abc",
		",,,",
		"Duda,ANA@test.com,20240004," + course,
		"Eva,eva@test.com,20240005," + course,
		"Fabi,fabi@test.com,20240006," + course + ",extra",
		"Gabi,gabi@test.com,20240007",
	}, "\n")
	adminSess := f.AdminSession()

	_, err := env.Users.Import(ctx, f.ProfessorSession(), user.RoleStudent, strings.NewReader(csvData), "alunos.csv")
	assert.Equal(t, user.ErrAdminOnly, err)

	report, err := env.Users.Import(ctx, adminSess, user.RoleStudent, strings.NewReader(csvData), "alunos.CSV")
	require.NoError(t, err)
	assert.Equal(t, 7, report.Total())
	require.Len(t, report.Created, 2)
	assert.Equal(t, "ana@test.com", report.Created[0].Acct().Email)
	assert.Equal(t, "eva@test.com", report.Created[1].Acct().Email)

	lines := make([]int, 0, len(report.Errors))
	for _, rowErr := range report.Errors {
		lines = append(lines, rowErr.Line)
	}
	assert.Equal(t, []int{3, 4, 6, 8, 9}, lines)
	assert.Contains(t, report.Errors[3].Error(), "esperadas 4 colunas")
	assert.Contains(t, report.Errors[4].Error(), "encontradas 3")

	sent := env.Mail.SentMessages()
	require.Len(t, sent, 2)
	for _, msg := range sent {
		assert.Equal(t, "welcome", msg.TemplateName)
	}

	tests := []struct {
		name     string
		role     user.Role
		data     string
		filename string
		wantErr  error
	}{
		{name: "admins", role: user.RoleAdmin, data: "nome,email\nX,x@test.com", filename: "x.csv"},
		{name: "unsupported file", role: user.RoleProfessor, data: "nome,email\nX,x@test.com", filename: "x.txt", wantErr: user.ErrUnsupportedFile},
		{name: "header only", role: user.RoleProfessor, data: "nome,email", filename: "x.csv", wantErr: user.ErrEmptyFile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.Users.Import(ctx, adminSess, tt.role, strings.NewReader(tt.data), tt.filename)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, err)
			} else {
				assert.True(t, core.IsValidation(err), "Import() error = %v, want validation error", err)
			}
		})
	}
}

func workbook(t *testing.T, rows [][]interface{}) *bytes.Buffer {
	t.Helper()
	wb := excelize.NewFile()
	for i, row := range rows {
		row := row
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, wb.SetSheetRow("Sheet1", cell, &row))
	}
	var buf bytes.Buffer
	require.NoError(t, wb.Write(&buf))
	return &buf
}

func TestService_ImportXLSX(t *testing.T) {
	env := testutil.NewEnv(t)
	f := env.NewFixture(t, 0, 0)
	ctx := context.Background()

	tests := []struct {
		name      string
		role      user.Role
		rows      [][]interface{}
		wantNew   int
		wantLines []int
	}{
		{
			name: "professors",
			role: user.RoleProfessor,
			rows: [][]interface{}{
				{"nome", "email"},
				{"Prof A", "profa@test.com"},
				{"Prof B", "profb@test.com"},
				{"Prof C", "profc@test.com", "sobrando"},
			},
			wantNew:   2,
			wantLines: []int{4},
		},
		{
			name: "coordinators with an empty trailing course",
			role: user.RoleCoordinator,
			rows: [][]interface{}{
				{"nome", "email", "curso_id"},
				{"Coord A", "coorda@test.com", f.Course.ID},
				{"Coord B", "coordb@test.com"},
			},
			wantNew: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := env.Users.Import(ctx, f.AdminSession(), tt.role, workbook(t, tt.rows), "contas.xlsx")
			require.NoError(t, err)
			assert.Len(t, report.Created, tt.wantNew)
			lines := []int{}
			for _, rowErr := range report.Errors {
				lines = append(lines, rowErr.Line)
			}
			if tt.wantLines == nil {
				tt.wantLines = []int{}
			}
			assert.Equal(t, tt.wantLines, lines)
		})
	}

	cnt, err := env.Users.Count(ctx, user.RoleProfessor)
	require.NoError(t, err)
	assert.Equal(t, 3, cnt, "fixture professor plus the imported ones")
}
