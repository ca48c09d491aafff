package model

import (
	"encoding/json"
	"time"
)

// Student 远端返回的学生记录，IsAbsentToday 为当天已记录的缺勤快照
type Student struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	IsAbsentToday bool   `json:"is_absent_today"`
}

// UnmarshalJSON 兼容 is_absent_today 为 0/1 或 bool 两种写法
func (s *Student) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID            int64           `json:"id"`
		Name          string          `json:"name"`
		IsAbsentToday json.RawMessage `json:"is_absent_today"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.ID = raw.ID
	s.Name = raw.Name
	s.IsAbsentToday = false

	if len(raw.IsAbsentToday) == 0 || string(raw.IsAbsentToday) == "null" {
		return nil
	}
	var n int
	if err := json.Unmarshal(raw.IsAbsentToday, &n); err == nil {
		s.IsAbsentToday = n == 1
		return nil
	}
	return json.Unmarshal(raw.IsAbsentToday, &s.IsAbsentToday)
}

// Class 可选择的班级
type Class struct {
	ID    string `json:"id"`
	Grade string `json:"grade"`
	Name  string `json:"name"`
}

// UnmarshalJSON 远端的 id 是整数，统一转成字符串
func (c *Class) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID    json.Number `json:"id"`
		Grade string      `json:"grade"`
		Name  string      `json:"name"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.ID = raw.ID.String()
	c.Grade = raw.Grade
	c.Name = raw.Name
	return nil
}

func (c Class) Label() string {
	if c.Grade == "" {
		return c.Name
	}
	return c.Grade + " " + c.Name
}

// SubmissionPayload POST /api/attendance 的请求体
type SubmissionPayload struct {
	ClassID   string  `json:"class_id"`
	AbsentIDs []int64 `json:"absent_ids"`
}

// SubmissionResponse 提交成功时的响应体，report 可能缺省
type SubmissionResponse struct {
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
	Report  string `json:"report,omitempty"`
}

type SubmissionResult struct {
	Success bool   `json:"success"`
	Report  string `json:"report,omitempty"`
	Message string `json:"message,omitempty"`
}

// ImportUpload 待导入的名单文件
type ImportUpload struct {
	Filename    string
	ContentType string
	Content     []byte
}

type Phase string

const (
	PhaseNoClassSelected Phase = "no_class_selected"
	PhaseRosterLoaded    Phase = "roster_loaded"
	PhaseSubmitting      Phase = "submitting"
	PhaseSubmitted       Phase = "submitted"
	PhaseReportShown     Phase = "report_shown"
)

type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice 一次性提示，Blocking 对应原先的 alert 弹窗
type Notice struct {
	Level    NoticeLevel `json:"level"`
	Text     string      `json:"text"`
	Blocking bool        `json:"blocking"`
}

type EffectKind string

const (
	EffectReload   EffectKind = "reload"
	EffectNavigate EffectKind = "navigate"
)

// Effect 需要由页面执行的跳转或刷新
type Effect struct {
	Kind   EffectKind    `json:"kind"`
	Target string        `json:"target,omitempty"`
	Delay  time.Duration `json:"delay"`
}

// ImportStatus 导入表单下方的状态区
type ImportStatus struct {
	Text  string      `json:"text"`
	Level NoticeLevel `json:"level"`
}

// RosterRow 表格中的一行，由会话里的缺勤标记投影而来
type RosterRow struct {
	Index     int    `json:"index"`
	StudentID int64  `json:"student_id"`
	Name      string `json:"name"`
	Absent    bool   `json:"absent"`
	Label     string `json:"label"`
	Style     string `json:"style"`
}

// SessionView 页面渲染所需的全部状态
type SessionView struct {
	Phase         Phase         `json:"phase"`
	ClassID       string        `json:"class_id"`
	RosterVisible bool          `json:"roster_visible"`
	Rows          []RosterRow   `json:"rows"`
	EmptyMessage  string        `json:"empty_message,omitempty"`
	Submitting    bool          `json:"submitting"`
	ReportVisible bool          `json:"report_visible"`
	Report        string        `json:"report,omitempty"`
	ImportStatus  *ImportStatus `json:"import_status,omitempty"`
	Notices       []Notice      `json:"notices,omitempty"`
	Effect        *Effect       `json:"effect,omitempty"`
}
