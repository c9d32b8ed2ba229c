package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/any-hub/dirmark/internal/dirindex"
)

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 hub/domain/命中状态字段，供代理请求日志复用。
func RequestFields(hub, domain, authMode string, annotate, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"hub":       hub,
		"domain":    domain,
		"auth_mode": authMode,
		"annotate":  annotate,
		"cache_hit": cacheHit,
	}
}

// AnnotateFields 汇总一次目录页标注的结果计数。
func AnnotateFields(hub, path string, report *dirindex.Report) logrus.Fields {
	fields := logrus.Fields{
		"action": "annotate",
		"hub":    hub,
		"path":   path,
	}
	if report == nil {
		return fields
	}
	fields["entries"] = len(report.Entries)
	fields["absent"] = report.Count(dirindex.OutcomeAbsent)
	fields["cached"] = report.Count(dirindex.OutcomeCached)
	fields["indeterminate"] = report.Count(dirindex.OutcomeIndeterminate)
	if report.Mismatch != nil {
		fields["mismatch"] = report.Mismatch.Error()
	}
	return fields
}
