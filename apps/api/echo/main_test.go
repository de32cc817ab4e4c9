package echoapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/emsu/emsu/apps/api/echo"
	"github.com/emsu/emsu/core"
	"github.com/emsu/emsu/core/announcement"
	"github.com/emsu/emsu/core/messaging"
	"github.com/emsu/emsu/core/notification"
	"github.com/emsu/emsu/core/pubsub"
	"github.com/emsu/emsu/core/user"
	appfs "github.com/emsu/emsu/fs"
	emailsvc "github.com/emsu/emsu/services/email"
	inmemdb "github.com/emsu/emsu/storage/database/inmem"
	testutil "github.com/emsu/emsu/tests"
)

const wsTimeout = 2 * time.Second

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type testApp struct {
	srv      *echoapi.Server
	conf     *core.Config
	logger   *testutil.Logger
	registry *pubsub.Registry
	mailer   *emailsvc.ConsoleServiceMock

	usrRepo  user.Repository
	msgRepo  messaging.Repository
	notifSvc *notification.Service
	msgSvc   *messaging.Service
}

func setup(t *testing.T) *testApp {
	t.Helper()
	conf := core.NewTestConfig()
	logger := new(testutil.Logger)
	validate, translator := testutil.Validation()
	core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, logger)

	// set up DB & repos
	db := inmemdb.Open()
	usrRepo := inmemdb.NewUserRepository(db)
	msgRepo := inmemdb.NewMessageRepository(db)

	// set up services
	registry := pubsub.NewRegistry()
	dispatcher := pubsub.NewDispatcher(registry)
	mailer := emailsvc.NewConsoleServiceMock(conf, logger)
	usrSvc := user.NewService(usrRepo, validate, translator)
	notifSvc := notification.NewService(inmemdb.NewNotificationRepository(db), dispatcher, validate, translator, logger)
	msgSvc := messaging.NewService(messaging.Deps{
		Repo:          msgRepo,
		Users:         usrSvc,
		Notifications: notifSvc,
		Publisher:     dispatcher,
		Presence:      dispatcher,
		Mailer:        mailer,
		Validate:      validate,
		Translator:    translator,
		Logger:        logger,
	})
	annSvc := announcement.NewService(
		inmemdb.NewAnnouncementRepository(db), usrSvc, notifSvc, validate, translator, logger,
	)

	// set up server
	srv := echoapi.NewServer(echoapi.ServerDeps{
		Conf:            conf,
		Logger:          logger,
		Registry:        registry,
		UserSvc:         usrSvc,
		MessageSvc:      msgSvc,
		NotificationSvc: notifSvc,
		AnnouncementSvc: annSvc,
		Validate:        validate,
		Translator:      translator,
	})
	t.Cleanup(func() { _ = srv.Close() })

	return &testApp{
		srv:      srv,
		conf:     conf,
		logger:   logger,
		registry: registry,
		mailer:   mailer,
		usrRepo:  usrRepo,
		msgRepo:  msgRepo,
		notifSvc: notifSvc,
		msgSvc:   msgSvc,
	}
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func getToken(t *testing.T, conf *core.Config, usr user.User) string {
	token, err := echoapi.GenerateToken(echoapi.GetUserClaims(usr, conf), conf.SecretKey)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func runHTTPTests(t *testing.T, app *testApp, tests []httpTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			req, rec := newAuthRequest(method, tt.path, tt.token, tt.body)
			app.srv.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

// websocket helpers

func wsURL(ts *httptest.Server, path, token string) string {
	u := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	if token != "" {
		u += "?token=" + token
	}
	return u
}

func dialWS(t *testing.T, ts *httptest.Server, path, token string) *websocket.Conn {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, path, token), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func writeJSON(t *testing.T, ws *websocket.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(v))
}

func readEvent(t *testing.T, ws *websocket.Conn) pubsub.Event {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(wsTimeout)))
	var evt pubsub.Event
	require.NoError(t, ws.ReadJSON(&evt))
	return evt
}

// waitMembers waits until group holds n handles; the server joins groups right after the handshake.
func waitMembers(t *testing.T, reg *pubsub.Registry, group string, n int) {
	t.Helper()
	assert.Eventually(t, func() bool { return reg.Len(group) == n }, wsTimeout, 10*time.Millisecond,
		"group %s never reached %d members", group, n)
}
