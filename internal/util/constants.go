package util

const DateFormat = "2006-01-02"

const (
	StorageNone  = "none"
	StorageLocal = "local"
	StorageMinio = "minio"
)

// 表单字段与上下文键
const (
	ImportFileField   = "student_file"
	SessionContextKey = "attendance_session_id"
)

// 页面文案
const (
	LabelAbsent      = "❌ 缺勤"
	LabelPresent     = "✔️ 出勤"
	StyleAbsent      = "absent-row"
	StylePresent     = ""
	MsgNoStudents    = "该班级下没有学生"
	MsgSubmitOK      = "考勤记录提交成功！"
	MsgSubmitFailed  = "提交失败，请稍后重试。"
	MsgSelectClass   = "请先选择班级。"
	MsgChooseFile    = "请先选择一个CSV文件。"
	MsgUploading     = "正在上传并处理..."
	MsgImportFailed  = "导入失败，请检查文件格式或联系管理员。"
	MsgFileTooLarge  = "文件过大，请拆分后再导入。"
	MsgRosterFailed  = "加载学生名单失败，请稍后重试。"
	MsgReportDefault = "今日所有班级均无缺勤记录。"
	MsgBusy          = "上一次请求仍在处理中，请稍候。"
)
