package emailsvc

import (
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/feedback360/core"
	appfs "github.com/trezcool/feedback360/fs"
)

type recordingLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (l *recordingLogger) Debug(string, ...interface{}) {}
func (l *recordingLogger) Warn(string, ...interface{})  {}
func (l *recordingLogger) Fatal(string, ...interface{}) {}

func (l *recordingLogger) Info(msg string, _ ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, msg)
}

func (l *recordingLogger) Error(msg string, _ ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func resetMessage(to string) *core.EmailMessage {
	return &core.EmailMessage{
		To:           []mail.Address{{Name: "Maria", Address: to}},
		Subject:      "Redefinição de senha",
		TemplateName: "password_reset",
		TemplateData: map[string]interface{}{
			"Name":      "Maria",
			"Token":     "tok",
			"ResetLink": "http://localhost:8000/reset-password/confirm/tok",
		},
	}
}

func TestConsoleService_SendMessages(t *testing.T) {
	require.NoError(t, core.ParseEmailTemplates(appfs.FS, "assets/templates/email", true))
	logger := new(recordingLogger)
	svc := NewConsoleService(core.NewTestConfig(), logger).(*consoleService)

	svc.SendMessages(
		resetMessage("maria@test.com"),
		&core.EmailMessage{To: []mail.Address{{Address: "joao@test.com"}}, Subject: "Oi", BodyStr: "corpo"},
		&core.EmailMessage{Subject: "Sem destinatário", BodyStr: "corpo"},
		&core.EmailMessage{To: []mail.Address{{Address: "ana@test.com"}}, Subject: "Vazio"},
	)
	svc.Wait()

	require.Len(t, logger.infos, 2, "messages without recipients or content are dropped")
	assert.Empty(t, logger.errors)

	var reset string
	for _, body := range logger.infos {
		if strings.Contains(body, "maria@test.com") {
			reset = body
		}
	}
	require.NotEmpty(t, reset)
	assert.Contains(t, reset, "Subject: [Feedback 360°] Redefinição de senha\r\n")
	assert.Contains(t, reset, "<noreply@localhost>\r\n")
	assert.Contains(t, reset, "text/plain; charset=utf-8")
	assert.Contains(t, reset, "text/html; charset=utf-8")
	assert.Contains(t, reset, "http://localhost:8000/reset-password/confirm/tok")
}

func TestConsoleServiceMock(t *testing.T) {
	require.NoError(t, core.ParseEmailTemplates(appfs.FS, "assets/templates/email", true))
	logger := new(recordingLogger)
	svc := NewConsoleServiceMock(core.NewTestConfig(), logger)

	missing := resetMessage("pedro@test.com")
	missing.TemplateData = map[string]interface{}{"Name": "Pedro"}

	svc.SendMessages(resetMessage("maria@test.com"), missing)
	svc.Wait()

	sent := svc.SentMessages()
	require.Len(t, sent, 1, "a template missing keys must not be sent")
	assert.Equal(t, "maria@test.com", sent[0].To[0].Address)
	assert.Contains(t, sent[0].TextContent, "Olá, Maria.")
	assert.Contains(t, sent[0].TextContent, "Feedback 360°")
	assert.NotEmpty(t, sent[0].HTMLContent)
	assert.Len(t, logger.errors, 1)

	svc.Reset()
	assert.Empty(t, svc.SentMessages())
}

func TestJoinAddresses(t *testing.T) {
	tests := []struct {
		addrs []mail.Address
		want  string
	}{
		{addrs: nil, want: ""},
		{addrs: []mail.Address{{Address: "a@test.com"}}, want: "<a@test.com>"},
		{
			addrs: []mail.Address{{Name: "Ana", Address: "a@test.com"}, {Address: "b@test.com"}},
			want:  `"Ana" <a@test.com>, <b@test.com>`,
		},
	}
	for i, tt := range tests {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			assert.Equal(t, tt.want, joinAddresses(tt.addrs))
		})
	}
}
