package user

import (
	"context"
	"crypto/rand"
	"encoding/csv"
	"io"
	"math/big"
	"net/mail"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"github.com/trezcool/feedback360/core"
)

var (
	ErrUnsupportedFile = core.NewValidationError(errors.New("tipo de arquivo não suportado, use .csv ou .xlsx"))
	ErrEmptyFile       = core.NewValidationError(errors.New("o arquivo não tem linhas de dados"))

	// importColumns lists the expected columns per role, in order.
	importColumns = map[Role][]string{
		RoleStudent:     {"nome", "email", "matricula", "curso_id"},
		RoleProfessor:   {"nome", "email"},
		RoleCoordinator: {"nome", "email", "curso_id"},
	}

	generatedPasswordLen   = 12
	generatedPasswordChars = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

type (
	// RowError reports why a given line of an imported file was not created.
	RowError struct {
		Line int
		Err  error
	}

	// ImportReport summarizes a bulk import. Rows are independent: a failed row does not undo the others.
	ImportReport struct {
		BatchID uuid.UUID
		Role    Role
		Created []User
		Errors  []RowError
	}
)

func (re RowError) Error() string {
	return "line " + strconv.Itoa(re.Line) + ": " + re.Err.Error()
}

func (rep *ImportReport) Total() int { return len(rep.Created) + len(rep.Errors) }

// ImportColumns returns the expected column layout of role, or nil when role cannot be imported.
func ImportColumns(role Role) []string { return importColumns[role] }

// readRows returns all the rows of a CSV or Excel (first sheet) file.
func readRows(r io.Reader, filename string) ([][]string, error) {
	switch strings.ToLower(path.Ext(filename)) {
	case ".csv":
		reader := csv.NewReader(r)
		reader.FieldsPerRecord = -1
		reader.TrimLeadingSpace = true
		rows, err := reader.ReadAll()
		return rows, errors.Wrap(err, "reading csv")
	case ".xlsx", ".xlsm":
		f, err := excelize.OpenReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "opening workbook")
		}
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, ErrEmptyFile
		}
		rows, err := f.GetRows(sheets[0])
		if err != nil {
			return nil, errors.Wrap(err, "reading sheet")
		}
		// trailing empty cells are not returned by excelize
		if len(rows) > 0 {
			width := len(rows[0])
			for i, row := range rows {
				for len(row) < width {
					row = append(row, "")
				}
				rows[i] = row
			}
		}
		return rows, nil
	default:
		return nil, ErrUnsupportedFile
	}
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func rowToNewUser(role Role, row []string) (NewUser, error) {
	cols := importColumns[role]
	if len(row) != len(cols) {
		return NewUser{}, errors.Errorf("esperadas %d colunas (%s), encontradas %d", len(cols), strings.Join(cols, ","), len(row))
	}
	nu := NewUser{Role: role, Name: row[0], Email: row[1]}

	parseCourse := func(val string) (int, error) {
		id, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil || id <= 0 {
			return 0, errors.Errorf("curso_id inválido %q", val)
		}
		return id, nil
	}
	var err error
	switch role {
	case RoleStudent:
		nu.EnrollmentNumber = row[2]
		nu.CourseID, err = parseCourse(row[3])
	case RoleCoordinator:
		if strings.TrimSpace(row[2]) != "" {
			nu.CourseID, err = parseCourse(row[2])
		}
	}
	return nu, err
}

// Import creates one account of the given role per data row of a CSV or Excel file.
// The first row is a header and is skipped. Every created account gets a generated password
// sent by email.
func (svc *Service) Import(ctx context.Context, sess Session, role Role, r io.Reader, filename string) (*ImportReport, error) {
	if !sess.IsAdmin() {
		return nil, ErrAdminOnly
	}
	if _, ok := importColumns[role]; !ok {
		return nil, core.NewValidationError(errors.Errorf("contas do tipo %q não podem ser importadas", role))
	}
	rows, err := readRows(r, filename)
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, ErrEmptyFile
	}

	report := &ImportReport{BatchID: uuid.New(), Role: role}
	var messages []*core.EmailMessage
	for i, row := range rows[1:] {
		line := i + 2 // 1-based, after the header
		if isBlankRow(row) {
			continue
		}
		nu, err := rowToNewUser(role, row)
		if err != nil {
			report.Errors = append(report.Errors, RowError{Line: line, Err: err})
			continue
		}
		if nu.Password, err = generatePassword(); err != nil {
			return report, errors.Wrap(err, "generating password")
		}
		usr, err := svc.CreateTrusted(ctx, nu)
		if err != nil {
			if core.IsValidation(err) || core.IsIntegrity(err) {
				report.Errors = append(report.Errors, RowError{Line: line, Err: err})
				continue
			}
			return report, errors.Wrapf(err, "importing line %d", line)
		}
		report.Created = append(report.Created, usr)
		messages = append(messages, svc.welcomeMessage(usr, nu.Password))
	}

	if len(messages) > 0 {
		svc.mailSvc.SendMessages(messages...)
	}
	return report, nil
}

func (svc *Service) welcomeMessage(usr User, pwd string) *core.EmailMessage {
	acct := usr.Acct()
	return &core.EmailMessage{
		To:           []mail.Address{{Name: acct.Name, Address: acct.Email}},
		Subject:      "Bem-vindo ao " + svc.conf.AppName,
		TemplateName: "welcome",
		TemplateData: map[string]interface{}{
			"Name":      acct.Name,
			"Email":     acct.Email,
			"Role":      usr.Role().Label(),
			"Password":  pwd,
			"LoginLink": svc.conf.BaseURL + "/",
		},
	}
}

// generatePassword returns a random password made of unambiguous letters and digits.
func generatePassword() (string, error) {
	max := big.NewInt(int64(len(generatedPasswordChars)))
	b := make([]byte, generatedPasswordLen)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = generatedPasswordChars[n.Int64()]
	}
	return string(b), nil
}
