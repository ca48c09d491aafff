package repository

import (
	"attendance_console/internal/config"
	"attendance_console/internal/model"
	"attendance_console/internal/util"
	"attendance_console/pkg/monitoring"
	"attendance_console/pkg/tracing"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APIError 远端返回非 2xx
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("attendance api error (status %d)", e.Status)
	}
	return fmt.Sprintf("attendance api error (status %d): %s", e.Status, e.Message)
}

// AttendanceAPIRepository 远端考勤服务的 HTTP 客户端
type AttendanceAPIRepository struct {
	baseURL     string
	classesPath string
	client      *http.Client
}

func NewAttendanceAPIRepository(cfg *config.APIConfig) *AttendanceAPIRepository {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return NewAttendanceAPIRepositoryWithClient(cfg, &http.Client{Timeout: timeout})
}

func NewAttendanceAPIRepositoryWithClient(cfg *config.APIConfig, client *http.Client) *AttendanceAPIRepository {
	return &AttendanceAPIRepository{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		classesPath: cfg.ClassesPath,
		client:      client,
	}
}

// FetchRoster GET /api/students/{classId}
func (r *AttendanceAPIRepository) FetchRoster(ctx context.Context, classID string) ([]model.Student, error) {
	req, err := http.NewRequest(http.MethodGet, r.baseURL+"/api/students/"+url.PathEscape(classID), nil)
	if err != nil {
		return nil, err
	}

	students := []model.Student{}
	if _, err := r.do(ctx, "fetch_roster", req, &students); err != nil {
		return nil, fmt.Errorf("fetch roster of class %s: %w", classID, err)
	}
	return students, nil
}

// SubmitAttendance POST /api/attendance
func (r *AttendanceAPIRepository) SubmitAttendance(ctx context.Context, payload model.SubmissionPayload) (*model.SubmissionResponse, error) {
	if payload.AbsentIDs == nil {
		payload.AbsentIDs = []int64{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, r.baseURL+"/api/attendance", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp model.SubmissionResponse
	if _, err := r.do(ctx, "submit_attendance", req, &resp); err != nil {
		return nil, fmt.Errorf("submit attendance of class %s: %w", payload.ClassID, err)
	}
	return &resp, nil
}

// ImportRoster POST /api/import_students，multipart 字段 student_file
func (r *AttendanceAPIRepository) ImportRoster(ctx context.Context, upload model.ImportUpload) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(util.ImportFileField, upload.Filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(upload.Content); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequest(http.MethodPost, r.baseURL+"/api/import_students", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var resp struct {
		Message string `json:"message"`
	}
	if _, err := r.do(ctx, "import_roster", req, &resp); err != nil {
		return "", fmt.Errorf("import roster %s: %w", upload.Filename, err)
	}
	return resp.Message, nil
}

// ListClasses 未配置 classes_path 时返回 nil
func (r *AttendanceAPIRepository) ListClasses(ctx context.Context) ([]model.Class, error) {
	if r.classesPath == "" {
		return nil, nil
	}
	req, err := http.NewRequest(http.MethodGet, r.baseURL+r.classesPath, nil)
	if err != nil {
		return nil, err
	}

	classes := []model.Class{}
	if _, err := r.do(ctx, "list_classes", req, &classes); err != nil {
		return nil, fmt.Errorf("list classes: %w", err)
	}
	return classes, nil
}

// Ping 远端可达且没有 5xx 即视为可用
func (r *AttendanceAPIRepository) Ping(ctx context.Context) error {
	req, err := http.NewRequest(http.MethodGet, r.baseURL+"/", nil)
	if err != nil {
		return err
	}
	_, err = r.do(ctx, "ping", req, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError {
		return nil
	}
	return err
}

func (r *AttendanceAPIRepository) do(ctx context.Context, operation string, req *http.Request, out interface{}) (int, error) {
	start := time.Now()
	req, span := tracing.StartClientSpan(ctx, operation, req)
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		monitoring.ObserveRemoteCall(operation, 0, start)
		tracing.EndClientSpan(span, 0, err)
		return 0, err
	}
	defer resp.Body.Close()
	monitoring.ObserveRemoteCall(operation, resp.StatusCode, start)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		tracing.EndClientSpan(span, resp.StatusCode, err)
		return resp.StatusCode, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var msg struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &msg) == nil {
			apiErr.Message = msg.Message
		}
		tracing.EndClientSpan(span, resp.StatusCode, apiErr)
		return resp.StatusCode, apiErr
	}

	if out != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			err = fmt.Errorf("decode %s response: %w", operation, err)
			tracing.EndClientSpan(span, resp.StatusCode, err)
			return resp.StatusCode, err
		}
	}

	tracing.EndClientSpan(span, resp.StatusCode, nil)
	return resp.StatusCode, nil
}
