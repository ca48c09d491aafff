package app

import (
	"attendance_console/internal/config"
	"attendance_console/internal/model"
	"attendance_console/internal/util"
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRemote 模拟远端考勤服务
type fakeRemote struct {
	mu          sync.Mutex
	rosters     map[string][]gin.H
	fetched     []string
	payloads    []model.SubmissionPayload
	imports     int
	importSizes []int64
	submitFails int
	report      string
}

func (f *fakeRemote) router() *gin.Engine {
	r := gin.New()
	r.GET("/api/students/:classId", func(c *gin.Context) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.fetched = append(f.fetched, c.Param("classId"))
		roster, ok := f.rosters[c.Param("classId")]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"message": "班级不存在"})
			return
		}
		c.JSON(http.StatusOK, roster)
	})
	r.POST("/api/attendance", func(c *gin.Context) {
		var p model.SubmissionPayload
		if err := c.ShouldBindJSON(&p); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.payloads = append(f.payloads, p)
		if f.submitFails > 0 {
			f.submitFails--
			c.JSON(http.StatusInternalServerError, gin.H{"message": "数据库繁忙"})
			return
		}
		resp := gin.H{"status": "success", "message": "考勤记录已保存"}
		if f.report != "" {
			resp["report"] = f.report
		}
		c.JSON(http.StatusOK, resp)
	})
	r.POST("/api/import_students", func(c *gin.Context) {
		header, err := c.FormFile("student_file")
		f.mu.Lock()
		f.imports++
		if err == nil {
			f.importSizes = append(f.importSizes, header.Size)
		}
		f.mu.Unlock()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "没有文件部分"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "成功导入 2 名学生"})
	})
	return r
}

func (f *fakeRemote) lastPayload() model.SubmissionPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payloads[len(f.payloads)-1]
}

func (f *fakeRemote) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeRemote) fetches() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

func (f *fakeRemote) importCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.imports
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		rosters: map[string][]gin.H{
			"1": {
				{"id": 1, "name": "王少钦", "is_absent_today": 0},
				{"id": 2, "name": "颜圣容", "is_absent_today": 1},
			},
			"2": {},
		},
	}
}

func testConfig(baseURL, postSubmit string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: "0", Mode: gin.TestMode},
		API:    config.APIConfig{BaseURL: baseURL, Timeout: 5 * time.Second},
		Session: config.SessionConfig{
			PostSubmit:     postSubmit,
			ReportURL:      "/report",
			SeedFromServer: true,
			IdleTimeout:    time.Hour,
			CookieName:     "attendance_session",
		},
		Import:  config.ImportConfig{MaxBytes: 1024, ReloadDelay: 2 * time.Second},
		Classes: []config.ClassOption{{ID: "1", Grade: "通用", Name: "101教室"}, {ID: "2", Grade: "通用", Name: "102教室"}},
		Storage: config.StorageConfig{Type: util.StorageNone},
	}
}

// browser 在多次请求之间携带会话 cookie
type browser struct {
	t      *testing.T
	router http.Handler
	cookie *http.Cookie
}

func (b *browser) do(req *http.Request) *httptest.ResponseRecorder {
	if b.cookie != nil {
		req.AddCookie(b.cookie)
	}
	w := httptest.NewRecorder()
	b.router.ServeHTTP(w, req)
	for _, c := range w.Result().Cookies() {
		if c.Name == "attendance_session" {
			b.cookie = c
		}
	}
	return w
}

func (b *browser) get(path string) *httptest.ResponseRecorder {
	return b.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (b *browser) postForm(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

func (b *browser) postJSON(path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(b.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return b.do(req)
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, out interface{}) util.Response {
	t.Helper()
	var resp struct {
		util.Response
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	if out != nil && len(resp.Data) > 0 {
		require.NoError(t, json.Unmarshal(resp.Data, out))
	}
	return resp.Response
}

func setup(t *testing.T, postSubmit string) (*browser, *fakeRemote) {
	t.Helper()
	_, b, remote := setupApp(t, testConfig("", postSubmit))
	return b, remote
}

// setupApp 以 cfg 启动应用，cfg.API.BaseURL 指向假远端
func setupApp(t *testing.T, cfg *config.Config) (*App, *browser, *fakeRemote) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	remote := newFakeRemote()
	srv := httptest.NewServer(remote.router())
	t.Cleanup(srv.Close)
	cfg.API.BaseURL = srv.URL

	app, err := NewApp(cfg)
	require.NoError(t, err)
	t.Cleanup(app.Close)

	return app, &browser{t: t, router: app.Router}, remote
}

func uploadRequest(t *testing.T, path, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("student_file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestIndexStartsWithHiddenRoster(t *testing.T) {
	b, _ := setup(t, "reload")

	w := b.get("/")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, b.cookie)

	body := w.Body.String()
	assert.Contains(t, body, `id="student-section" class="d-none"`)
	assert.Contains(t, body, `id="report-section" class="d-none"`)
	assert.Contains(t, body, "通用 101教室")
	assert.NotContains(t, body, `data-student-id="`)
}

func TestSelectClassRendersRoster(t *testing.T) {
	b, _ := setup(t, "reload")
	b.get("/")

	w := b.postForm("/select", url.Values{"class_id": {"1"}})
	require.Equal(t, http.StatusSeeOther, w.Code)

	body := b.get("/").Body.String()
	assert.Equal(t, 2, strings.Count(body, `data-student-id="`))
	assert.Contains(t, body, `<tr data-student-id="2" class="absent-row">`)
	assert.Contains(t, body, util.LabelAbsent)
	assert.Contains(t, body, util.LabelPresent)
	assert.Contains(t, body, `<option value="1" selected>`)
}

func TestEmptyClassRendersPlaceholderRow(t *testing.T) {
	b, _ := setup(t, "reload")

	w := b.postJSON("/api/session/class", gin.H{"class_id": "2"})
	require.Equal(t, http.StatusOK, w.Code)

	var view model.SessionView
	decodeData(t, w, &view)
	assert.Empty(t, view.Rows)
	assert.Equal(t, util.MsgNoStudents, view.EmptyMessage)

	body := b.get("/").Body.String()
	assert.Contains(t, body, `<td colspan="3" class="text-center">`+util.MsgNoStudents+`</td>`)
	assert.NotContains(t, body, `data-student-id="`)
}

func TestToggleAndSubmitSendsPayload(t *testing.T) {
	b, remote := setup(t, "reload")

	require.Equal(t, http.StatusOK, b.postJSON("/api/session/class", gin.H{"class_id": "1"}).Code)

	// 1 号置为缺勤，2 号恢复出勤
	w := b.postJSON("/api/session/rows/1/toggle", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var toggled struct {
		StudentID int64 `json:"student_id"`
		Absent    bool  `json:"absent"`
	}
	decodeData(t, w, &toggled)
	assert.Equal(t, int64(1), toggled.StudentID)
	assert.True(t, toggled.Absent)

	require.Equal(t, http.StatusOK, b.postJSON("/api/session/rows/2/toggle", nil).Code)

	w = b.postJSON("/api/session/submit", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.SubmissionPayload{ClassID: "1", AbsentIDs: []int64{1}}, remote.lastPayload())

	// 默认行为是整页刷新，会话回到初始状态
	var resp struct {
		Result model.SubmissionResult `json:"result"`
		View   model.SessionView      `json:"view"`
	}
	decodeData(t, w, &resp)
	assert.True(t, resp.Result.Success)
	assert.Equal(t, model.PhaseNoClassSelected, resp.View.Phase)
	assert.False(t, resp.View.RosterVisible)
}

func TestToggleUnknownRowIsNotFound(t *testing.T) {
	b, _ := setup(t, "reload")
	require.Equal(t, http.StatusOK, b.postJSON("/api/session/class", gin.H{"class_id": "1"}).Code)

	assert.Equal(t, http.StatusNotFound, b.postJSON("/api/session/rows/99/toggle", nil).Code)
	assert.Equal(t, http.StatusBadRequest, b.postJSON("/api/session/rows/abc/toggle", nil).Code)
}

func TestSubmitWithoutClassIsRejected(t *testing.T) {
	b, remote := setup(t, "reload")

	w := b.postJSON("/api/session/submit", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, remote.submitCount())
}

func TestSubmitFailureIsRetryable(t *testing.T) {
	b, remote := setup(t, "inline_report")
	remote.submitFails = 1
	remote.report = "101教室：颜圣容"

	require.Equal(t, http.StatusOK, b.postJSON("/api/session/class", gin.H{"class_id": "1"}).Code)

	w := b.postJSON("/api/session/submit", nil)
	require.Equal(t, http.StatusBadGateway, w.Code)
	var failed struct {
		View model.SessionView `json:"view"`
	}
	resp := decodeData(t, w, &failed)
	assert.Equal(t, util.MsgSubmitFailed, resp.Message)
	assert.Len(t, failed.View.Rows, 2)
	assert.False(t, failed.View.Submitting)

	w = b.postJSON("/api/session/submit", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, remote.submitCount())
	assert.Equal(t, []int64{2}, remote.lastPayload().AbsentIDs)

	body := b.get("/").Body.String()
	assert.Contains(t, body, `<pre id="report-content">101教室：颜圣容</pre>`)
	assert.NotContains(t, body, `id="report-section" class="d-none"`)
}

func TestInlineReportFallsBackToDefaultText(t *testing.T) {
	b, _ := setup(t, "inline_report")
	require.Equal(t, http.StatusOK, b.postJSON("/api/session/class", gin.H{"class_id": "1"}).Code)

	w := b.postJSON("/api/session/submit", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Result model.SubmissionResult `json:"result"`
		View   model.SessionView      `json:"view"`
	}
	decodeData(t, w, &resp)
	assert.Equal(t, util.MsgReportDefault, resp.Result.Report)
	assert.Equal(t, model.PhaseReportShown, resp.View.Phase)
	assert.True(t, resp.View.ReportVisible)
}

func TestRedirectBehaviorEmitsNavigation(t *testing.T) {
	b, _ := setup(t, "redirect")
	require.Equal(t, http.StatusSeeOther, b.postForm("/select", url.Values{"class_id": {"1"}}).Code)
	require.Equal(t, http.StatusSeeOther, b.postForm("/submit", nil).Code)

	body := b.get("/").Body.String()
	assert.Contains(t, body, `http-equiv="refresh"`)
	assert.Contains(t, body, "url=/report")
}

func TestImportWithoutFileIssuesNoRequest(t *testing.T) {
	b, remote := setup(t, "reload")

	w := b.postJSON("/api/session/import", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, remote.importCount())

	resp := decodeData(t, w, nil)
	assert.Equal(t, util.MsgChooseFile, resp.Message)
}

func TestImportUploadsFileAndSchedulesReload(t *testing.T) {
	b, remote := setup(t, "reload")

	w := b.do(uploadRequest(t, "/api/session/import", "students.csv", []byte("姓名\n吴伟\n张三\n")))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, remote.importCount())

	var resp struct {
		Message string            `json:"message"`
		View    model.SessionView `json:"view"`
	}
	decodeData(t, w, &resp)
	assert.Equal(t, "成功导入 2 名学生", resp.Message)
	require.NotNil(t, resp.View.Effect)
	assert.Equal(t, model.EffectReload, resp.View.Effect.Kind)
	assert.Equal(t, 2*time.Second, resp.View.Effect.Delay)
}

func TestImportRejectsOversizedFile(t *testing.T) {
	b, remote := setup(t, "reload")

	w := b.do(uploadRequest(t, "/api/session/import", "big.csv", bytes.Repeat([]byte("a"), 2048)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, 0, remote.importCount())

	var resp struct {
		View model.SessionView `json:"view"`
	}
	decodeData(t, w, &resp)
	require.NotNil(t, resp.View.ImportStatus)
	assert.Equal(t, util.MsgFileTooLarge, resp.View.ImportStatus.Text)

	// 表单提交同样不转发
	require.Equal(t, http.StatusSeeOther, b.do(uploadRequest(t, "/import", "big.csv", bytes.Repeat([]byte("a"), 2048))).Code)
	assert.Equal(t, 0, remote.importCount())
}

func TestConfigReloadChangesImportLimit(t *testing.T) {
	cfg := testConfig("", "reload")
	cfg.Import.MaxBytes = 10
	app, b, remote := setupApp(t, cfg)

	// 先建立会话，确认旧上限生效
	w := b.do(uploadRequest(t, "/api/session/import", "students.csv", bytes.Repeat([]byte("a"), 50)))
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, 0, remote.importCount())

	reloaded := testConfig(cfg.API.BaseURL, "reload")
	reloaded.Import.MaxBytes = 1000
	app.applyConfig(reloaded)

	w = b.do(uploadRequest(t, "/api/session/import", "students.csv", bytes.Repeat([]byte("a"), 50)))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, remote.importCount())
	assert.Equal(t, []int64{50}, remote.importSizes)

	// 调小上限后，旧会话同样拒绝，且不转发截断的内容
	smaller := testConfig(cfg.API.BaseURL, "reload")
	smaller.Import.MaxBytes = 20
	app.applyConfig(smaller)

	w = b.do(uploadRequest(t, "/api/session/import", "students.csv", bytes.Repeat([]byte("a"), 50)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, 1, remote.importCount())
}

func TestConfigReloadChangesPostSubmitBehavior(t *testing.T) {
	cfg := testConfig("", "reload")
	app, b, _ := setupApp(t, cfg)
	require.Equal(t, http.StatusOK, b.postJSON("/api/session/class", gin.H{"class_id": "1"}).Code)

	app.applyConfig(testConfig(cfg.API.BaseURL, "inline_report"))

	w := b.postJSON("/api/session/submit", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		View model.SessionView `json:"view"`
	}
	decodeData(t, w, &resp)
	assert.Equal(t, model.PhaseReportShown, resp.View.Phase)
}

func TestSelectEmptyClassIsNoop(t *testing.T) {
	b, remote := setup(t, "reload")
	require.Equal(t, http.StatusOK, b.postJSON("/api/session/class", gin.H{"class_id": "1"}).Code)

	w := b.postJSON("/api/session/class", gin.H{"class_id": ""})
	require.Equal(t, http.StatusOK, w.Code)

	var view model.SessionView
	decodeData(t, w, &view)
	assert.Equal(t, "1", view.ClassID)
	assert.Len(t, view.Rows, 2)
	assert.Len(t, remote.fetches(), 1)
}

func TestSessionsAreIsolatedPerCookie(t *testing.T) {
	b, _ := setup(t, "reload")
	require.Equal(t, http.StatusOK, b.postJSON("/api/session/class", gin.H{"class_id": "1"}).Code)

	other := &browser{t: t, router: b.router}
	var view model.SessionView
	decodeData(t, other.get("/api/session"), &view)
	assert.Equal(t, model.PhaseNoClassSelected, view.Phase)
	assert.NotEqual(t, b.cookie.Value, other.cookie.Value)

	decodeData(t, b.get("/api/session"), &view)
	assert.Equal(t, "1", view.ClassID)
}

func TestReloadDiscardsSession(t *testing.T) {
	b, _ := setup(t, "reload")
	require.Equal(t, http.StatusOK, b.postJSON("/api/session/class", gin.H{"class_id": "1"}).Code)
	oldCookie := b.cookie.Value

	require.Equal(t, http.StatusSeeOther, b.get("/reload").Code)

	var view model.SessionView
	decodeData(t, b.get("/api/session"), &view)
	assert.Equal(t, model.PhaseNoClassSelected, view.Phase)
	assert.Empty(t, view.Rows)
	assert.NotEqual(t, oldCookie, b.cookie.Value)
}

func TestHealthCheckReportsRemote(t *testing.T) {
	b, _ := setup(t, "reload")

	w := b.get("/api/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"attendance_api":"up"`)
}
