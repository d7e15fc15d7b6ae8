package reports

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vastramandir/storefront_backend/config"
	"github.com/vastramandir/storefront_backend/utils"
)

const dashboardCacheKey = "Report:dashboard"

func reportCacheEnabled() bool {
	v := strings.TrimSpace(os.Getenv("ENABLE_REPORT_CACHE"))
	return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes") || strings.EqualFold(v, "on")
}

// REPORT_CACHE_TTL_SECONDS, default 30s. Dashboard counts go stale quickly.
func reportCacheTTL() time.Duration {
	return envDuration("REPORT_CACHE_TTL_SECONDS", 30, time.Second)
}

// REPORT_SLOW_MS, default 500ms.
func reportSlowThreshold() time.Duration {
	return envDuration("REPORT_SLOW_MS", 500, time.Millisecond)
}

func envDuration(key string, fallback int, unit time.Duration) time.Duration {
	n := fallback
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			n = parsed
		}
	}
	return time.Duration(n) * unit
}

func logSlowReport(ctx context.Context, name string, started time.Time, extra logrus.Fields) {
	d := time.Since(started)
	if d < reportSlowThreshold() {
		return
	}
	cid, _ := utils.GetCorrelationIdFromContext(ctx)
	fields := logrus.Fields{
		"field":          "slow_report",
		"report":         name,
		"ms":             d.Milliseconds(),
		"correlation_id": cid,
	}
	for k, v := range extra {
		fields[k] = v
	}
	config.GetLogger().WithFields(fields).Warn("slow report")
}

func cacheGet[T any](key string, dest *T) (bool, error) {
	if !reportCacheEnabled() {
		return false, nil
	}
	return config.GetRedisObject(key, dest)
}

func cacheSet(key string, obj any) {
	if !reportCacheEnabled() {
		return
	}
	if err := config.SetRedisObject(key, obj, reportCacheTTL()); err != nil {
		config.LogError(config.GetLogger(), "reports", "cacheSet", key, nil, err)
	}
}
