package middleware

type httpConfig struct {
	// 不记录日志的路径集，映射关系 path => true
	skipPaths map[string]bool
	// 日志中不记录的请求头
	excludedHeaders map[string]bool
}

// Option 拦截器选项
type Option func(*httpConfig)

func defaultHTTPConfig() *httpConfig {
	return &httpConfig{
		skipPaths: make(map[string]bool),
		excludedHeaders: map[string]bool{
			"token":         true,
			"access-token":  true,
			"authorization": true,
			"cookie":        true,
		},
	}
}

// SkipPaths 不记录这些路径的请求日志，如 /metrics
func SkipPaths(paths ...string) Option {
	return func(c *httpConfig) {
		for _, p := range paths {
			c.skipPaths[p] = true
		}
	}
}

// ExcludeHeaders 日志中隐藏这些请求头
func ExcludeHeaders(headers ...string) Option {
	return func(c *httpConfig) {
		for _, h := range headers {
			c.excludedHeaders[h] = true
		}
	}
}
