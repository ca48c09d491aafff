package util

import (
	"strconv"
	"strings"
)

// ParseStudentID 解析路由中的学生 ID
func ParseStudentID(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}
