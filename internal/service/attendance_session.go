package service

import (
	"attendance_console/internal/model"
	"attendance_console/internal/repository"
	"attendance_console/internal/util"
	"attendance_console/pkg/logger"
	"attendance_console/pkg/monitoring"
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AttendanceAPI 远端考勤服务
type AttendanceAPI interface {
	FetchRoster(ctx context.Context, classID string) ([]model.Student, error)
	SubmitAttendance(ctx context.Context, payload model.SubmissionPayload) (*model.SubmissionResponse, error)
	ImportRoster(ctx context.Context, upload model.ImportUpload) (string, error)
}

// ImportArchiver 导入前留存名单文件，可为 nil。
// ArchiveImport 返回的 key 交给 DiscardImport 撤销留存。
type ImportArchiver interface {
	ArchiveImport(ctx context.Context, upload model.ImportUpload) (string, error)
	DiscardImport(ctx context.Context, key string) error
}

type SessionOptions struct {
	Behavior       PostSubmitBehavior
	ReportURL      string
	SeedFromServer bool
	ReloadDelay    time.Duration
	MaxImportBytes int64
}

// sessionState 会话的全部可变状态，页面只是它的投影
type sessionState struct {
	phase         model.Phase
	classID       string
	roster        []model.Student
	absent        map[int64]bool
	rosterVisible bool
	reportVisible bool
	report        string
	importStatus  *model.ImportStatus
	notices       []model.Notice
	effect        *model.Effect
}

func newSessionState() sessionState {
	return sessionState{
		phase:  model.PhaseNoClassSelected,
		absent: map[int64]bool{},
	}
}

// AttendanceSession 一个浏览器对应的点名会话。
// 锁只保护内存状态，不跨网络调用持有。
type AttendanceSession struct {
	mu       sync.Mutex
	api      AttendanceAPI
	archiver ImportArchiver
	opts     SessionOptions
	state    sessionState

	// epoch 每次 Reset 加一，进行中的提交和导入据此判断结果是否还属于当前会话
	epoch       uint64
	fetchGen    uint64
	cancelFetch context.CancelFunc
	submitting  bool
	importing   bool
}

func NewAttendanceSession(api AttendanceAPI, archiver ImportArchiver, opts SessionOptions) *AttendanceSession {
	if opts.ReloadDelay <= 0 {
		opts.ReloadDelay = 2 * time.Second
	}
	return &AttendanceSession{
		api:      api,
		archiver: archiver,
		opts:     opts,
		state:    newSessionState(),
	}
}

// SelectClass 加载班级名单并重建所有缺勤标记。
// 空 ID 直接返回；较新的选择会取消并丢弃旧的请求。
func (s *AttendanceSession) SelectClass(ctx context.Context, classID string) error {
	classID = strings.TrimSpace(classID)
	if classID == "" {
		return nil
	}

	s.mu.Lock()
	s.fetchGen++
	gen := s.fetchGen
	if s.cancelFetch != nil {
		s.cancelFetch()
	}
	fetchCtx, cancel := context.WithCancel(ctx)
	s.cancelFetch = cancel
	s.mu.Unlock()

	students, err := s.api.FetchRoster(fetchCtx, classID)

	s.mu.Lock()
	defer s.mu.Unlock()
	cancel()

	if gen != s.fetchGen {
		logger.Log.Debug("Discarding superseded roster response",
			zap.String("class_id", classID), zap.Uint64("generation", gen))
		return util.ErrRosterSuperseded
	}
	s.cancelFetch = nil

	if err != nil {
		logger.Log.Error("Failed to fetch roster", zap.String("class_id", classID), zap.Error(err))
		s.pushNotice(model.NoticeError, util.MsgRosterFailed, false)
		return err
	}

	absent := make(map[int64]bool, len(students))
	roster := make([]model.Student, 0, len(students))
	for _, st := range students {
		if _, dup := absent[st.ID]; dup {
			logger.Log.Warn("Duplicate student in roster", zap.String("class_id", classID), zap.Int64("student_id", st.ID))
			continue
		}
		roster = append(roster, st)
		absent[st.ID] = s.opts.SeedFromServer && st.IsAbsentToday
	}

	s.state.classID = classID
	s.state.roster = roster
	s.state.absent = absent
	s.state.phase = model.PhaseRosterLoaded
	s.state.rosterVisible = true
	s.state.reportVisible = false
	s.state.report = ""

	logger.Log.Info("Roster loaded", zap.String("class_id", classID), zap.Int("students", len(roster)))
	return nil
}

// ToggleRow 翻转一行的缺勤标记，纯本地操作
func (s *AttendanceSession) ToggleRow(studentID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.state.absent[studentID]
	if !ok {
		return false, util.ErrRowNotFound
	}
	s.state.absent[studentID] = !current
	if s.state.phase == model.PhaseSubmitted {
		s.state.phase = model.PhaseRosterLoaded
	}
	return !current, nil
}

// buildPayload 按渲染顺序收集缺勤学生，调用方持有锁
func (s *AttendanceSession) buildPayload() model.SubmissionPayload {
	ids := make([]int64, 0)
	for _, st := range s.state.roster {
		if s.state.absent[st.ID] {
			ids = append(ids, st.ID)
		}
	}
	return model.SubmissionPayload{ClassID: s.state.classID, AbsentIDs: ids}
}

// Payload 返回当前状态下将要提交的内容
func (s *AttendanceSession) Payload() model.SubmissionPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buildPayload()
}

// SubmitAttendance 提交当天缺勤名单，同一会话同时只允许一次提交
func (s *AttendanceSession) SubmitAttendance(ctx context.Context) (model.SubmissionResult, error) {
	s.mu.Lock()
	if s.state.classID == "" {
		s.pushNotice(model.NoticeError, util.MsgSelectClass, true)
		s.mu.Unlock()
		return model.SubmissionResult{Message: util.MsgSelectClass}, util.ErrNoClassSelected
	}
	if s.submitting {
		s.mu.Unlock()
		return model.SubmissionResult{Message: util.MsgBusy}, util.ErrSubmitInFlight
	}
	payload := s.buildPayload()
	epoch := s.epoch
	s.submitting = true
	s.state.phase = model.PhaseSubmitting
	s.mu.Unlock()

	resp, err := s.api.SubmitAttendance(ctx, payload)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitting = false

	if err != nil {
		monitoring.SubmissionCounter.WithLabelValues("failure").Inc()
		logger.Log.Error("Attendance submission failed",
			zap.String("class_id", payload.ClassID), zap.Int64s("absent_ids", payload.AbsentIDs), zap.Error(err))
		if s.epoch == epoch {
			if s.state.phase == model.PhaseSubmitting {
				s.state.phase = model.PhaseRosterLoaded
			}
			s.pushNotice(model.NoticeError, util.MsgSubmitFailed, true)
		}
		return model.SubmissionResult{Message: util.MsgSubmitFailed}, err
	}

	monitoring.SubmissionCounter.WithLabelValues("success").Inc()
	logger.Log.Info("Attendance submitted",
		zap.String("class_id", payload.ClassID), zap.Int("absent", len(payload.AbsentIDs)),
		zap.String("post_submit", s.opts.Behavior.String()))

	result := model.SubmissionResult{Success: true, Message: util.MsgSubmitOK}
	if s.epoch != epoch {
		logger.Log.Info("Session reset during submission, skipping post-submit behavior",
			zap.String("class_id", payload.ClassID))
		return result, nil
	}

	switch s.opts.Behavior {
	case PostSubmitRedirect:
		s.state.phase = model.PhaseSubmitted
		s.pushNotice(model.NoticeSuccess, util.MsgSubmitOK, true)
		s.state.effect = &model.Effect{Kind: model.EffectNavigate, Target: s.opts.ReportURL}
	case PostSubmitInlineReport:
		report := ""
		if resp != nil {
			report = strings.TrimSpace(resp.Report)
		}
		if report == "" {
			report = util.MsgReportDefault
		}
		s.state.phase = model.PhaseReportShown
		s.state.report = report
		s.state.reportVisible = true
		s.pushNotice(model.NoticeSuccess, util.MsgSubmitOK, true)
		result.Report = report
	default:
		s.resetLocked()
		s.pushNotice(model.NoticeSuccess, util.MsgSubmitOK, true)
	}
	return result, nil
}

// ImportRoster 上传学生名单文件，成功后延迟刷新页面
func (s *AttendanceSession) ImportRoster(ctx context.Context, upload *model.ImportUpload) (string, error) {
	s.mu.Lock()
	if upload == nil || upload.Filename == "" {
		s.pushNotice(model.NoticeError, util.MsgChooseFile, true)
		s.mu.Unlock()
		return util.MsgChooseFile, util.ErrNoFileChosen
	}
	if s.opts.MaxImportBytes > 0 && int64(len(upload.Content)) > s.opts.MaxImportBytes {
		s.state.importStatus = &model.ImportStatus{Text: util.MsgFileTooLarge, Level: model.NoticeError}
		s.mu.Unlock()
		return util.MsgFileTooLarge, util.ErrFileTooLarge
	}
	if s.importing {
		s.mu.Unlock()
		return util.MsgBusy, util.ErrImportInFlight
	}
	s.importing = true
	epoch := s.epoch
	s.state.importStatus = &model.ImportStatus{Text: util.MsgUploading, Level: model.NoticeInfo}
	s.mu.Unlock()

	archiveKey := ""
	if s.archiver != nil {
		if key, err := s.archiver.ArchiveImport(ctx, *upload); err != nil {
			logger.Log.Warn("Failed to archive roster import", zap.String("file", upload.Filename), zap.Error(err))
		} else {
			archiveKey = key
		}
	}

	message, err := s.api.ImportRoster(ctx, *upload)

	if err != nil && archiveKey != "" {
		// 远端没有收下的文件不留存
		if derr := s.archiver.DiscardImport(ctx, archiveKey); derr != nil {
			logger.Log.Warn("Failed to discard archived import", zap.String("key", archiveKey), zap.Error(derr))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.importing = false

	if err != nil {
		text := util.MsgImportFailed
		var apiErr *repository.APIError
		if errors.As(err, &apiErr) && apiErr.Message != "" {
			text = apiErr.Message
		}
		logger.Log.Error("Roster import failed", zap.String("file", upload.Filename), zap.Error(err))
		if s.epoch == epoch {
			s.state.importStatus = &model.ImportStatus{Text: text, Level: model.NoticeError}
		}
		return text, err
	}

	logger.Log.Info("Roster imported", zap.String("file", upload.Filename), zap.String("message", message))
	if s.epoch != epoch {
		return message, nil
	}
	s.state.importStatus = &model.ImportStatus{Text: message, Level: model.NoticeSuccess}
	s.state.effect = &model.Effect{Kind: model.EffectReload, Target: "/reload", Delay: s.opts.ReloadDelay}
	return message, nil
}

// Reset 相当于整页刷新：丢弃全部状态并作废进行中的名单请求
func (s *AttendanceSession) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *AttendanceSession) resetLocked() {
	s.epoch++
	s.fetchGen++
	if s.cancelFetch != nil {
		s.cancelFetch()
		s.cancelFetch = nil
	}
	s.state = newSessionState()
}

func (s *AttendanceSession) pushNotice(level model.NoticeLevel, text string, blocking bool) {
	s.state.notices = append(s.state.notices, model.Notice{Level: level, Text: text, Blocking: blocking})
}

// View 生成页面投影，一次性的提示和跳转在读取后清空
func (s *AttendanceSession) View() model.SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := s.snapshotLocked()
	s.state.notices = nil
	s.state.effect = nil
	return view
}

// Peek 与 View 相同但不消费提示
func (s *AttendanceSession) Peek() model.SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *AttendanceSession) snapshotLocked() model.SessionView {
	view := model.SessionView{
		Phase:         s.state.phase,
		ClassID:       s.state.classID,
		RosterVisible: s.state.rosterVisible,
		Rows:          make([]model.RosterRow, 0, len(s.state.roster)),
		Submitting:    s.submitting,
		ReportVisible: s.state.reportVisible,
		Report:        s.state.report,
	}

	for i, st := range s.state.roster {
		absent := s.state.absent[st.ID]
		row := model.RosterRow{
			Index:     i + 1,
			StudentID: st.ID,
			Name:      st.Name,
			Absent:    absent,
			Label:     util.LabelPresent,
			Style:     util.StylePresent,
		}
		if absent {
			row.Label = util.LabelAbsent
			row.Style = util.StyleAbsent
		}
		view.Rows = append(view.Rows, row)
	}
	if view.RosterVisible && len(view.Rows) == 0 {
		view.EmptyMessage = util.MsgNoStudents
	}

	if s.state.importStatus != nil {
		status := *s.state.importStatus
		view.ImportStatus = &status
	}
	if len(s.state.notices) > 0 {
		view.Notices = append([]model.Notice(nil), s.state.notices...)
	}
	if s.state.effect != nil {
		effect := *s.state.effect
		view.Effect = &effect
	}
	return view
}

// ApplyOptions 配置热更新时替换会话选项，下一次操作生效
func (s *AttendanceSession) ApplyOptions(opts SessionOptions) {
	if opts.ReloadDelay <= 0 {
		opts.ReloadDelay = 2 * time.Second
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts = opts
}

// MaxImportBytes 当前生效的导入大小上限，0 表示不限制
func (s *AttendanceSession) MaxImportBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.MaxImportBytes
}

// RejectOversizedImport 请求体超过上限时由上层调用，文件不会被转发
func (s *AttendanceSession) RejectOversizedImport() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.importStatus = &model.ImportStatus{Text: util.MsgFileTooLarge, Level: model.NoticeError}
	return util.MsgFileTooLarge
}
