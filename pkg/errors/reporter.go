package errors

import (
	"os"
	"sync"
	"time"

	"github.com/certifi/gocertifi"
	"github.com/getsentry/sentry-go"

	"moff.io/wallet-bridge/pkg/log"
)

// 设置该变量，则不会上报错误
const debugMode = "DEBUG"

var (
	reportersMu sync.RWMutex
	reporters   []Reporter
)

// Reporter 错误报告器
type Reporter interface {
	Report(error)
}

// ReporterFunc adapts a plain function to Reporter.
type ReporterFunc func(error)

func (f ReporterFunc) Report(err error) { f(err) }

// RegisterReporter adds r to the set of reporters receiving ...AndReport errors.
func RegisterReporter(r Reporter) {
	if r == nil {
		return
	}
	reportersMu.Lock()
	defer reportersMu.Unlock()
	reporters = append(reporters, r)
}

// ResetReporters drops every registered reporter.
func ResetReporters() {
	reportersMu.Lock()
	defer reportersMu.Unlock()
	reporters = nil
}

func report(err error) {
	if err == nil || os.Getenv(debugMode) != "" {
		return
	}
	reportersMu.RLock()
	current := make([]Reporter, len(reporters))
	copy(current, reporters)
	reportersMu.RUnlock()
	for _, r := range current {
		r.Report(err)
	}
}

type sentryReporter struct {
	limiter *rateLimiter
}

func (s *sentryReporter) Report(err error) {
	if limited, _ := s.limiter.Allow(callers().origin()); limited {
		return
	}
	sentry.CaptureException(err)
}

// NewSentryReporter
// 初始化sentry错误报告器. 同一调用栈在silent时间内只上报一次.
// 环境变量DEBUG不为空时，不会产生错误上报
func NewSentryReporter(sentryDSN, environment string, silent time.Duration) error {
	if sentryDSN == "" {
		log.Warn("empty DSN found, skipping sentry reporter initialization.")
		return nil
	}
	rootCAs, err := gocertifi.CACerts()
	if err != nil {
		return Wrap(err, "init sentry CA")
	}
	err = sentry.Init(sentry.ClientOptions{
		Dsn:         sentryDSN,
		Environment: environment,
		CaCerts:     rootCAs,
	})
	if err != nil {
		return Wrap(err, "init sentry")
	}
	RegisterReporter(&sentryReporter{limiter: newRateLimiter(silent)})
	log.Info("sentry error reporter initialized.")
	return nil
}

// FlushSentry waits for buffered sentry events to be delivered.
func FlushSentry(timeout time.Duration) {
	sentry.Flush(timeout)
}
