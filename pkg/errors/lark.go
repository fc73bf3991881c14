package errors

import (
	"fmt"
	"os"
	"time"

	"github.com/go-lark/lark"

	"moff.io/wallet-bridge/pkg/log"
)

// 飞书消息中最多展示的调用栈行数
const maxLarkStacks = 12

type larkReporter struct {
	title       string
	environment string
	host        string
	bot         *lark.Bot
	delay       *rateLimiter
}

// NewLarkReporter 初始化飞书机器人, 将错误上报至指定的webhook.
// 同一调用栈在silent时间内只上报一次.
func NewLarkReporter(title, environment, webhook string, silent time.Duration) {
	if webhook == "" {
		log.Warn("empty lark webhook found, skipping lark reporter initialization.")
		return
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	RegisterReporter(&larkReporter{
		title:       title,
		environment: environment,
		host:        host,
		bot:         lark.NewNotificationBot(webhook),
		delay:       newRateLimiter(silent),
	})
	log.Info("Lark error reporter initialized.")
}

func (r *larkReporter) Report(err error) {
	if err == nil {
		return
	}
	st := callers()
	limited, stats := r.delay.Allow(st.origin())
	if limited {
		return
	}
	if _, err := r.bot.PostNotificationV2(lark.OutcomingMessage{
		MsgType: "post",
		Content: r.render(err, stats, st.fullStack()),
	}); err != nil {
		// 上报失败只记录日志, 避免递归上报
		log.Errorf("post lark notification: %v", err)
	}
}

func (r *larkReporter) render(err error, stats errorStats, stacks []string) lark.MessageContent {
	pb := lark.NewPostBuilder()
	pb.Title(fmt.Sprintf("[%s] %s", r.environment, r.title))
	pb.TextTag(fmt.Sprintf("Host: %s", r.host), 1, true)
	pb.TextTag(fmt.Sprintf("\nOccurrences: %d, suppressed since last report: %d",
		stats.totalOccurCount+1, stats.suppressedSinceLastReport), 1, true)
	pb.TextTag(fmt.Sprintf("\nLast Report: %v", formatReportTime(stats.lastReportTime)), 1, true)
	pb.TextTag(fmt.Sprintf("\nMessage: %v", err.Error()), 1, true)
	pb.TextTag("\nStacks:", 1, true)
	if len(stacks) > maxLarkStacks {
		stacks = stacks[:maxLarkStacks]
	}
	for _, s := range stacks {
		pb.TextTag(fmt.Sprintf("\n    %s", s), 1, true)
	}
	return lark.MessageContent{Post: pb.Render()}
}

func formatReportTime(t time.Time) string {
	if t.IsZero() {
		return "none"
	}
	return t.Format("2006.01.02 15:04")
}
