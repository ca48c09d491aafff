package service

import "fmt"

// PostSubmitBehavior 提交成功之后页面的去向
type PostSubmitBehavior int

const (
	// PostSubmitReload 提示成功后丢弃整个会话
	PostSubmitReload PostSubmitBehavior = iota
	// PostSubmitRedirect 提示成功后跳转到报告页
	PostSubmitRedirect
	// PostSubmitInlineReport 在当前页展示服务端生成的报告
	PostSubmitInlineReport
)

func (b PostSubmitBehavior) String() string {
	switch b {
	case PostSubmitReload:
		return "reload"
	case PostSubmitRedirect:
		return "redirect"
	case PostSubmitInlineReport:
		return "inline_report"
	default:
		return fmt.Sprintf("PostSubmitBehavior(%d)", int(b))
	}
}

// ParsePostSubmitBehavior 与配置校验接受同一组取值，空串按 reload 处理
func ParsePostSubmitBehavior(s string) (PostSubmitBehavior, error) {
	switch s {
	case "", "reload":
		return PostSubmitReload, nil
	case "redirect":
		return PostSubmitRedirect, nil
	case "inline_report":
		return PostSubmitInlineReport, nil
	default:
		return PostSubmitReload, fmt.Errorf("unknown post-submit behavior %q", s)
	}
}
