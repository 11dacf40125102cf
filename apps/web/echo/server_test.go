package webapp

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/trezcool/feedback360/core"
	"github.com/trezcool/feedback360/core/evaluation"
	"github.com/trezcool/feedback360/core/user"
	"github.com/trezcool/feedback360/testutil"
)

func newTestServer(t *testing.T) (*Server, *testutil.Env) {
	t.Helper()
	env := testutil.NewEnv(t)
	srv, err := NewServer(&Options{
		Conf:           env.Conf,
		Logger:         env.Logger,
		DisableReqLogs: true,
		DisableCSRF:    true,
		Users:          env.Users,
		Catalog:        env.Catalog,
		Evaluations:    env.Evaluations,
		Notifications:  env.Notifications,
	})
	require.NoError(t, err)
	return srv, env
}

// browser keeps the cookies set by the server across requests.
type browser struct {
	t       *testing.T
	srv     *Server
	cookies map[string]*http.Cookie
}

func newBrowser(t *testing.T, srv *Server) *browser {
	return &browser{t: t, srv: srv, cookies: make(map[string]*http.Cookie)}
}

func (b *browser) do(req *http.Request) *httptest.ResponseRecorder {
	b.t.Helper()
	for _, c := range b.cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	b.srv.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 || c.Value == "" {
			delete(b.cookies, c.Name)
		} else {
			b.cookies[c.Name] = c
		}
	}
	return rec
}

func (b *browser) get(target string) *httptest.ResponseRecorder {
	return b.do(httptest.NewRequest(http.MethodGet, target, nil))
}

func (b *browser) post(target string, form url.Values, referer ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	if len(referer) > 0 {
		req.Header.Set("Referer", referer[0])
	}
	return b.do(req)
}

func (b *browser) login(email, pwd string) {
	b.t.Helper()
	rec := b.post("/", url.Values{"email": {email}, "password": {pwd}})
	require.Equal(b.t, http.StatusSeeOther, rec.Code)
	require.Equal(b.t, "/home", rec.Header().Get(echo.HeaderLocation))
	require.Contains(b.t, b.cookies, sessionCookie)
}

func assertRedirect(t *testing.T, rec *httptest.ResponseRecorder, to string) {
	t.Helper()
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, to, rec.Header().Get(echo.HeaderLocation))
}

func TestServer_Login(t *testing.T) {
	srv, env := newTestServer(t)
	f := env.NewFixture(t, 2, 1)
	b := newBrowser(t, srv)

	assertRedirect(t, b.get("/home"), "/")
	rec := b.get("/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Entre para acessar esta página.")

	assertRedirect(t, b.post("/", url.Values{"email": {f.Students[0].Email}, "password": {"wrong"}}), "/")
	assert.NotContains(t, b.cookies, sessionCookie)
	assert.Contains(t, b.get("/").Body.String(), "E-mail ou senha inválidos.")

	b.login(strings.ToUpper(f.Students[0].Email), testutil.Password)
	rec = b.get("/home")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Bem-vindo, Aluno 1!")
	assert.Contains(t, body, "Olá, Aluno 1")
	assertRedirect(t, b.get("/"), "/home")

	assert.Equal(t, http.StatusMethodNotAllowed, b.get("/logout").Code, "logging out must not be a GET")
	assertRedirect(t, b.get("/"), "/home")

	assertRedirect(t, b.post("/logout", nil), "/")
	assert.NotContains(t, b.cookies, sessionCookie)
	assertRedirect(t, b.get("/home"), "/")

	// admins land on the dashboard
	b = newBrowser(t, srv)
	b.login(f.Admin.Email, testutil.Password)
	assertRedirect(t, b.get("/home"), "/admin")
}

func TestServer_SessionCookie(t *testing.T) {
	srv, env := newTestServer(t)
	f := env.NewFixture(t, 1, 0)
	conf := env.Conf

	valid, err := GenerateToken(NewClaims(f.StudentSession(0), conf), conf)
	require.NoError(t, err)

	expiredClaims := NewClaims(f.StudentSession(0), conf)
	expiredClaims.ExpiresAt = time.Now().Add(-time.Minute).Unix()
	expired, err := GenerateToken(expiredClaims, conf)
	require.NoError(t, err)

	otherConf := *conf
	otherConf.SecretKey = "another secret"
	forged, err := GenerateToken(NewClaims(f.AdminSession(), &otherConf), &otherConf)
	require.NoError(t, err)

	tests := []struct {
		name     string
		token    string
		wantCode int
	}{
		{name: "valid", token: valid, wantCode: http.StatusOK},
		{name: "expired", token: expired, wantCode: http.StatusSeeOther},
		{name: "forged", token: forged, wantCode: http.StatusSeeOther},
		{name: "garbage", token: "lol", wantCode: http.StatusSeeOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/perfil", nil)
			req.AddCookie(&http.Cookie{Name: sessionCookie, Value: tt.token})
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}

	t.Run("payload", func(t *testing.T) {
		payload := make(jwt.MapClaims)
		_, _, err := new(jwt.Parser).ParseUnverified(valid, payload)
		require.NoError(t, err)
		keys := make([]string, 0, len(payload))
		for k := range payload {
			keys = append(keys, k)
		}
		assert.ElementsMatch(t, []string{"sub", "role", "name", "exp"}, keys)
		assert.Equal(t, string(user.RoleStudent), payload["role"])
		assert.Equal(t, f.Students[0].Name, payload["name"])
	})

	// the account of a valid token was deleted
	st := env.CreateStudent(t, "Temp", "temp@test.com", "9999", f.Course.ID)
	tok, err := GenerateToken(NewClaims(user.SessionOf(st), conf), conf)
	require.NoError(t, err)
	require.NoError(t, env.Users.Delete(context.Background(), f.AdminSession(), user.RoleStudent, st.ID))

	b := newBrowser(t, srv)
	b.cookies[sessionCookie] = &http.Cookie{Name: sessionCookie, Value: tok}
	assertRedirect(t, b.get("/perfil"), "/")
	assert.NotContains(t, b.cookies, sessionCookie)
}

func TestServer_Evaluate(t *testing.T) {
	srv, env := newTestServer(t)
	f := env.NewFixture(t, 3, 2)
	env.CreateGroup(t, f, "Grupo 1", 0, 1, 2)
	ev := env.FindEvaluation(t, f, 0, 1)
	c1, c2 := f.Competencies[0].ID, f.Competencies[1].ID
	evalPath := fmt.Sprintf("/avaliar/%d", ev.ID)
	field := func(cid int) string { return fmt.Sprintf("%s%d", ratingFieldPrefix, cid) }

	b := newBrowser(t, srv)
	b.login(f.Students[0].Email, testutil.Password)

	rec := b.get(fmt.Sprintf("/atividade/%d", f.Activity.ID))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), evalPath)
	assert.Contains(t, rec.Body.String(), "2 avaliações pendentes")

	rec = b.get(evalPath)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Avaliar Aluno 2")
	assert.Contains(t, rec.Body.String(), fmt.Sprintf(`name="%s"`, field(c1)))

	// invalid submissions go back to the form and write nothing
	assertRedirect(t, b.post(evalPath, url.Values{field(c1): {"5"}}, evalPath), evalPath)
	assertRedirect(t, b.post(evalPath, url.Values{field(c1): {"5"}, field(c2): {"9"}}, evalPath), evalPath)
	assertRedirect(t, b.post(evalPath, url.Values{field(c1): {"5"}, field(c2): {"x"}}, evalPath), evalPath)
	rec = b.get(evalPath)
	assert.Contains(t, rec.Body.String(), fmt.Sprintf("%s: a nota deve ser um número", field(c2)))
	ev = env.FindEvaluation(t, f, 0, 1)
	assert.False(t, ev.Completed)

	assertRedirect(t, b.post(evalPath, url.Values{field(c1): {"5"}, field(c2): {"4"}}, evalPath), fmt.Sprintf("/atividade/%d", f.Activity.ID))
	ev = env.FindEvaluation(t, f, 0, 1)
	assert.True(t, ev.Completed)
	rec = b.get(evalPath)
	assert.Contains(t, rec.Body.String(), "enviada em")
	assert.Contains(t, rec.Body.String(), "Avaliação enviada com sucesso.")

	// resubmission is refused
	assertRedirect(t, b.post(evalPath, url.Values{field(c1): {"1"}, field(c2): {"1"}}, evalPath), evalPath)
	assert.Contains(t, b.get(evalPath).Body.String(), "esta avaliação já foi enviada")

	// the evaluated student cannot open it
	other := newBrowser(t, srv)
	other.login(f.Students[1].Email, testutil.Password)
	assertRedirect(t, other.get(evalPath), "/home")
	rec = other.get("/home")
	assert.Contains(t, rec.Body.String(), "apenas o avaliador pode enviar esta avaliação")
	assert.NotContains(t, rec.Body.String(), "permission denied")
	rec = other.get("/notas")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), f.Activity.Title)
	assert.Contains(t, other.get("/home").Body.String(), "Nova avaliação recebida")

	// staff pages are off limits to students
	assertRedirect(t, b.get("/criar-atividade"), "/home")
}

func TestServer_SelfAssessment(t *testing.T) {
	srv, env := newTestServer(t)
	f := env.NewFixture(t, 1, 1)

	b := newBrowser(t, srv)
	b.login(f.Students[0].Email, testutil.Password)

	target := fmt.Sprintf("/autoavaliacao/%d", f.Activity.ID)
	rec := b.post(target, nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	first := rec.Header().Get(echo.HeaderLocation)
	assert.True(t, strings.HasPrefix(first, "/avaliar/"), first)

	assertRedirect(t, b.post(target, nil), first)
	assert.Contains(t, b.get(first).Body.String(), "Autoavaliação")
}

func TestServer_ProfessorFlow(t *testing.T) {
	srv, env := newTestServer(t)
	f := env.NewFixture(t, 3, 2)
	b := newBrowser(t, srv)
	b.login(f.Professor.Email, testutil.Password)

	form := url.Values{
		"title":          {"Sprint 2"},
		"description":    {"Segunda entrega"},
		"class_id":       {fmt.Sprint(f.Class.ID)},
		"competency_ids": {fmt.Sprint(f.Competencies[0].ID), fmt.Sprint(f.Competencies[1].ID)},
		dueDateField:     {"2030-06-30"},
	}
	rec := b.post("/criar-atividade", form, "/criar-atividade")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	var actID int
	_, err := fmt.Sscanf(rec.Header().Get(echo.HeaderLocation), "/atividade/%d", &actID)
	require.NoError(t, err)

	act, err := env.Evaluations.GetActivity(context.Background(), actID)
	require.NoError(t, err)
	assert.Equal(t, "Sprint 2", act.Title)
	due := act.DueDate.Local()
	assert.Equal(t, 2030, due.Year())
	assert.Equal(t, time.June, due.Month())
	assert.Equal(t, 30, due.Day())
	assert.Equal(t, 23, due.Hour())

	form.Set(dueDateField, "30/06/2030")
	assertRedirect(t, b.post("/criar-atividade", form, "/criar-atividade"), "/criar-atividade")

	members := url.Values{"name": {"Grupo A"}, "member_ids": {fmt.Sprint(f.Students[0].ID), fmt.Sprint(f.Students[1].ID)}}
	assertRedirect(t, b.post(fmt.Sprintf("/criar-grupo/%d", actID), members), fmt.Sprintf("/atividade/%d", actID))
	evals, err := env.EvalRepo.QueryEvaluations(context.Background(), evaluation.EvaluationFilter{ActivityID: actID})
	require.NoError(t, err)
	assert.Len(t, evals, 2)

	rec = b.get(fmt.Sprintf("/atividade/%d", actID))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Grupo A")

	rec = b.get(fmt.Sprintf("/atividade/%d/relatorio", actID))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Aluno 3")

	rec = b.get(fmt.Sprintf("/atividade/%d/relatorio?formato=xlsx", actID))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxMIME, rec.Header().Get(echo.HeaderContentType))
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), fmt.Sprintf("relatorio_atividade_%d.xlsx", actID))
	wb, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	rows, err := wb.GetRows("Sheet1")
	require.NoError(t, err)
	assert.Len(t, rows, 4)

	// another professor cannot see the activity
	stranger := env.CreateProfessor(t, "Outro", "outro@test.com")
	b2 := newBrowser(t, srv)
	b2.login(stranger.Email, testutil.Password)
	assertRedirect(t, b2.get(fmt.Sprintf("/atividade/%d/relatorio", actID)), "/home")
	assertRedirect(t, b2.get("/atividade/999"), "/home")
}

func TestServer_PasswordReset(t *testing.T) {
	srv, env := newTestServer(t)
	f := env.NewFixture(t, 1, 0)
	b := newBrowser(t, srv)
	generic := "Se o e-mail estiver cadastrado, você receberá um link para redefinir sua senha."

	assertRedirect(t, b.post("/reset-password", url.Values{"email": {"nobody@test.com"}}), "/")
	assert.Contains(t, b.get("/").Body.String(), generic)
	assert.Empty(t, env.Mail.SentMessages())

	assertRedirect(t, b.post("/reset-password", url.Values{"email": {f.Students[0].Email}}), "/")
	assert.Contains(t, b.get("/").Body.String(), generic)
	sent := env.Mail.SentMessages()
	require.Len(t, sent, 1)

	stud, err := env.Users.Get(context.Background(), user.RoleStudent, f.Students[0].ID)
	require.NoError(t, err)
	token := stud.Acct().ResetToken.String
	require.NotEmpty(t, token)
	confirm := "/reset-password/confirm/" + token

	assert.Equal(t, http.StatusOK, b.get(confirm).Code)
	assertRedirect(t, b.post(confirm, url.Values{"password": {"N3w!Passw0rd"}, "password_confirm": {"N3w!Passw0rd"}}), "/")

	_, err = env.Users.Authenticate(context.Background(), f.Students[0].Email, "N3w!Passw0rd")
	assert.NoError(t, err)
	assertRedirect(t, b.get(confirm), "/reset-password")
}

func TestServer_Notifications(t *testing.T) {
	srv, env := newTestServer(t)
	f := env.NewFixture(t, 2, 1)
	env.CreateGroup(t, f, "Grupo 1", 0, 1)

	b := newBrowser(t, srv)
	b.login(f.Students[0].Email, testutil.Password)

	notifs, err := env.Notifications.List(context.Background(), f.StudentSession(0), false, 0)
	require.NoError(t, err)
	require.Len(t, notifs, 1)

	rec := b.get("/notificacoes")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Novo grupo")

	assertRedirect(t, b.post(fmt.Sprintf("/notificacoes/%d/lida", notifs[0].ID), nil), fmt.Sprintf("/atividade/%d", f.Activity.ID))
	count, err := env.Notifications.UnreadCount(context.Background(), f.StudentSession(0))
	require.NoError(t, err)
	assert.Zero(t, count)

	other := newBrowser(t, srv)
	other.login(f.Students[1].Email, testutil.Password)
	assertRedirect(t, other.post(fmt.Sprintf("/notificacoes/%d/lida", notifs[0].ID), nil), "/home")
	assertRedirect(t, other.post("/notificacoes/lidas", nil), "/notificacoes")
	count, err = env.Notifications.UnreadCount(context.Background(), f.StudentSession(1))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func Test_parseRatings(t *testing.T) {
	tests := []struct {
		name      string
		form      url.Values
		want      map[int]int
		wantField string
	}{
		{name: "empty", form: url.Values{}, want: map[int]int{}},
		{name: "ratings", form: url.Values{"competency_1": {"5"}, "competency_7": {" 3 "}, "csrf": {"x"}}, want: map[int]int{1: 5, 7: 3}},
		{name: "bad competency", form: url.Values{"competency_x": {"5"}}, wantField: "competency_x"},
		{name: "zero competency", form: url.Values{"competency_0": {"5"}}, wantField: "competency_0"},
		{name: "bad rating", form: url.Values{"competency_1": {"cinco"}}, wantField: "competency_1"},
	}
	e := echo.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.form.Encode()))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
			got, err := parseRatings(e.NewContext(req, httptest.NewRecorder()))
			if tt.wantField != "" {
				var valErr *core.ValidationError
				require.True(t, errors.As(err, &valErr), "error = %v", err)
				require.Len(t, valErr.Fields, 1)
				assert.Equal(t, tt.wantField, valErr.Fields[0].Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
