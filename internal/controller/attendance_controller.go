package controller

import (
	"attendance_console/internal/middleware"
	"attendance_console/internal/model"
	"attendance_console/internal/repository"
	"attendance_console/internal/service"
	"attendance_console/internal/util"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

type AttendanceController struct {
	Classes  *service.ClassService
	Sessions *service.SessionService
}

func NewAttendanceController(classes *service.ClassService, sessions *service.SessionService) *AttendanceController {
	return &AttendanceController{Classes: classes, Sessions: sessions}
}

// SelectClassRequest 选择班级，空 class_id 不做任何事
type SelectClassRequest struct {
	ClassID string `json:"class_id" form:"class_id"`
}

// ToggleRowResponse 翻转后的行状态
type ToggleRowResponse struct {
	StudentID int64             `json:"student_id"`
	Absent    bool              `json:"absent"`
	View      model.SessionView `json:"view"`
}

// SubmitResponse 提交结果与最新视图
type SubmitResponse struct {
	Result model.SubmissionResult `json:"result"`
	View   model.SessionView      `json:"view"`
}

// ImportResponse 导入结果与最新视图
type ImportResponse struct {
	Message string            `json:"message"`
	View    model.SessionView `json:"view"`
}

// ---------- 页面 ----------

// Index 渲染点名页面
func (c *AttendanceController) Index(ctx *gin.Context) {
	session := middleware.GetSession(ctx)
	ctx.HTML(http.StatusOK, "index.html", gin.H{
		"Classes": c.Classes.ListClasses(ctx.Request.Context()),
		"View":    session.View(),
	})
}

// SelectClassForm 下拉框提交；空值不做任何事
func (c *AttendanceController) SelectClassForm(ctx *gin.Context) {
	session := middleware.GetSession(ctx)
	_ = session.SelectClass(ctx.Request.Context(), ctx.PostForm("class_id"))
	ctx.Redirect(http.StatusSeeOther, "/")
}

func (c *AttendanceController) ToggleRowForm(ctx *gin.Context) {
	session := middleware.GetSession(ctx)
	id, err := util.ParseStudentID(ctx.Param("id"))
	if err == nil {
		_, _ = session.ToggleRow(id)
	}
	ctx.Redirect(http.StatusSeeOther, "/")
}

func (c *AttendanceController) SubmitForm(ctx *gin.Context) {
	session := middleware.GetSession(ctx)
	_, _ = session.SubmitAttendance(ctx.Request.Context())
	ctx.Redirect(http.StatusSeeOther, "/")
}

func (c *AttendanceController) ImportForm(ctx *gin.Context) {
	session := middleware.GetSession(ctx)
	upload, err := readUpload(ctx, session.MaxImportBytes())
	switch {
	case errors.Is(err, util.ErrFileTooLarge):
		session.RejectOversizedImport()
	case err != nil:
		util.BadRequest(ctx, err.Error())
		return
	default:
		_, _ = session.ImportRoster(ctx.Request.Context(), upload)
	}
	ctx.Redirect(http.StatusSeeOther, "/")
}

// Reload 整页刷新：丢弃整个会话，下次请求重新分配
func (c *AttendanceController) Reload(ctx *gin.Context) {
	c.Sessions.Remove(ctx.GetString(util.SessionContextKey))
	ctx.Redirect(http.StatusSeeOther, "/")
}

// ---------- JSON ----------

// GetSession godoc
// @Summary 获取当前点名会话
// @Tags 点名
// @Produce json
// @Success 200 {object} util.Response{data=model.SessionView}
// @Router /api/session [get]
func (c *AttendanceController) GetSession(ctx *gin.Context) {
	util.Success(ctx, middleware.GetSession(ctx).View())
}

// ListClasses godoc
// @Summary 可选班级列表
// @Tags 点名
// @Produce json
// @Success 200 {object} util.Response{data=[]model.Class}
// @Router /api/session/classes [get]
func (c *AttendanceController) ListClasses(ctx *gin.Context) {
	util.Success(ctx, c.Classes.ListClasses(ctx.Request.Context()))
}

// SelectClass godoc
// @Summary 选择班级并加载名单
// @Tags 点名
// @Accept json
// @Produce json
// @Param body body SelectClassRequest true "班级"
// @Success 200 {object} util.Response{data=model.SessionView}
// @Router /api/session/class [post]
func (c *AttendanceController) SelectClass(ctx *gin.Context) {
	var req SelectClassRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	session := middleware.GetSession(ctx)
	if err := session.SelectClass(ctx.Request.Context(), req.ClassID); err != nil {
		util.ErrorWithData(ctx, statusFor(err), err.Error(), session.View())
		return
	}
	util.Success(ctx, session.View())
}

// ToggleRow godoc
// @Summary 切换学生缺勤状态
// @Tags 点名
// @Produce json
// @Param id path int true "学生ID"
// @Success 200 {object} util.Response{data=ToggleRowResponse}
// @Router /api/session/rows/{id}/toggle [post]
func (c *AttendanceController) ToggleRow(ctx *gin.Context) {
	id, err := util.ParseStudentID(ctx.Param("id"))
	if err != nil {
		util.BadRequest(ctx, "invalid student id")
		return
	}

	session := middleware.GetSession(ctx)
	absent, err := session.ToggleRow(id)
	if err != nil {
		util.Error(ctx, statusFor(err), err.Error())
		return
	}
	util.Success(ctx, ToggleRowResponse{StudentID: id, Absent: absent, View: session.View()})
}

// Submit godoc
// @Summary 提交当天考勤
// @Tags 点名
// @Produce json
// @Success 200 {object} util.Response{data=SubmitResponse}
// @Router /api/session/submit [post]
func (c *AttendanceController) Submit(ctx *gin.Context) {
	session := middleware.GetSession(ctx)
	result, err := session.SubmitAttendance(ctx.Request.Context())
	if err != nil {
		util.ErrorWithData(ctx, statusFor(err), result.Message, SubmitResponse{Result: result, View: session.View()})
		return
	}
	util.Success(ctx, SubmitResponse{Result: result, View: session.View()})
}

// Import godoc
// @Summary 导入学生名单
// @Tags 点名
// @Accept multipart/form-data
// @Produce json
// @Param student_file formData file true "CSV 文件"
// @Success 200 {object} util.Response{data=ImportResponse}
// @Router /api/session/import [post]
func (c *AttendanceController) Import(ctx *gin.Context) {
	session := middleware.GetSession(ctx)
	upload, err := readUpload(ctx, session.MaxImportBytes())
	if errors.Is(err, util.ErrFileTooLarge) {
		message := session.RejectOversizedImport()
		util.ErrorWithData(ctx, http.StatusRequestEntityTooLarge, message, ImportResponse{Message: message, View: session.View()})
		return
	}
	if err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	message, err := session.ImportRoster(ctx.Request.Context(), upload)
	if err != nil {
		if message == "" {
			message = err.Error()
		}
		util.ErrorWithData(ctx, statusFor(err), message, ImportResponse{Message: message, View: session.View()})
		return
	}
	util.Success(ctx, ImportResponse{Message: message, View: session.View()})
}

// Reset godoc
// @Summary 丢弃当前会话状态
// @Tags 点名
// @Produce json
// @Success 200 {object} util.Response{data=model.SessionView}
// @Router /api/session/reset [post]
func (c *AttendanceController) Reset(ctx *gin.Context) {
	session := middleware.GetSession(ctx)
	session.Reset()
	util.Success(ctx, session.View())
}

// readUpload 未选择文件时返回 nil, nil；超过 maxBytes 时只返回 ErrFileTooLarge，不返回截断的内容
func readUpload(ctx *gin.Context, maxBytes int64) (*model.ImportUpload, error) {
	header, err := ctx.FormFile(util.ImportFileField)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, err
	}
	if header.Size == 0 && header.Filename == "" {
		return nil, nil
	}
	if maxBytes > 0 && header.Size > maxBytes {
		return nil, util.ErrFileTooLarge
	}

	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := io.Reader(file)
	if maxBytes > 0 {
		reader = io.LimitReader(file, maxBytes+1)
	}
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if maxBytes > 0 && int64(len(content)) > maxBytes {
		return nil, util.ErrFileTooLarge
	}

	return &model.ImportUpload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Content:     content,
	}, nil
}

func statusFor(err error) int {
	var apiErr *repository.APIError
	switch {
	case errors.Is(err, util.ErrNoClassSelected), errors.Is(err, util.ErrNoFileChosen):
		return http.StatusBadRequest
	case errors.Is(err, util.ErrRowNotFound):
		return http.StatusNotFound
	case errors.Is(err, util.ErrSubmitInFlight), errors.Is(err, util.ErrImportInFlight), errors.Is(err, util.ErrRosterSuperseded):
		return http.StatusConflict
	case errors.Is(err, util.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	default:
		return http.StatusServiceUnavailable
	}
}
