// Package report renders run outcomes into the Markdown status document.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/weirdhost-renewer/internal/renew"
)

// Title is the first line of every report.
const Title = "# Weirdhost 自动续期报告"

// TimestampLayout formats the generation time.
const TimestampLayout = "2006-01-02 15:04:05"

// Zone is the fixed UTC+8 zone used for the generation timestamp.
var Zone = time.FixedZone("UTC+8", 8*60*60)

var labels = map[renew.Status]string{
	renew.StatusSuccess:        "✅ 续期成功",
	renew.StatusAlreadyRenewed: "ℹ️ 今日已续期",
	renew.StatusNoButtonFound:  "❌ 未找到续期按钮",
	renew.StatusButtonDisabled: "⚠️ 续期按钮不可用",
	renew.StatusLoginFailed:    "❌ 登录失败",
	renew.StatusError:          "💥 页面访问出错",
	renew.StatusClickError:     "💥 点击续期按钮出错",
	renew.StatusUnknownResult:  "❓ 未知结果",
	renew.StatusNoAuth:         "❌ 配置错误：未提供认证信息",
	renew.StatusNoServers:      "❌ 配置错误：未提供服务器列表",
	renew.StatusTimeout:        "⏱️ 页面加载超时",
	renew.StatusRuntimeError:   "💥 运行时错误",
}

// Label returns the human-readable label for status.
func Label(status renew.Status) string {
	if l, ok := labels[status]; ok {
		return l
	}
	return fmt.Sprintf("❓ 未知状态 (%s)", status)
}

// Render builds the report for outcomes generated at now.
func Render(outcomes []renew.Outcome, now time.Time) string {
	var b strings.Builder
	b.WriteString(Title)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "**最后更新时间**: `%s` (北京时间)\n\n", now.In(Zone).Format(TimestampLayout))
	b.WriteString("## 运行状态\n\n")

	for _, o := range outcomes {
		if o.Global() {
			fmt.Fprintf(&b, "- 全局状态: %s\n", Label(o.Status))
			if o.Error != "" {
				fmt.Fprintf(&b, "  - 错误信息: %s\n", singleLine(o.Error))
			}
			continue
		}
		fmt.Fprintf(&b, "- 服务器 `%s`: %s", o.ServerID, Label(o.Status))
		if note := expiryNote(o); note != "" {
			fmt.Fprintf(&b, " (到期时间: %s)", note)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func expiryNote(o renew.Outcome) string {
	switch {
	case o.ExpiryBefore != "" && o.ExpiryAfter != "" && o.ExpiryBefore != o.ExpiryAfter:
		return fmt.Sprintf("`%s` → `%s`", o.ExpiryBefore, o.ExpiryAfter)
	case o.ExpiryAfter != "":
		return fmt.Sprintf("`%s`", o.ExpiryAfter)
	case o.ExpiryBefore != "":
		return fmt.Sprintf("`%s`", o.ExpiryBefore)
	}
	return ""
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
