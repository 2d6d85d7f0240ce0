package config

import (
	"sort"
	"strings"

	logx "pacer/pkg/logx"
)

// SummarizeChange returns the changed top-level sections, log fields that
// describe the new values, and the names of jobs that were added, removed or
// modified.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alert_enabled", newCfg.Logging.Alert.Enabled),
		)
	}

	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	if strings.TrimSpace(oldCfg.Timezone) != strings.TrimSpace(newCfg.Timezone) {
		changed = append(changed, "timezone")
		attrs = append(attrs, logx.String("timezone", strings.TrimSpace(newCfg.Timezone)))
	}

	var oA, nA AdminConfig
	if oldCfg.Admin != nil {
		oA = *oldCfg.Admin
	}
	if newCfg.Admin != nil {
		nA = *newCfg.Admin
	}
	if oA != nA {
		changed = append(changed, "admin")
		attrs = append(attrs,
			logx.Bool("admin.enabled", nA.Enabled),
			logx.String("admin.addr", strings.TrimSpace(nA.Addr)),
			logx.Bool("admin.token_set", nA.Token != ""),
		)
	}

	jobs := diffJobs(oldCfg.Jobs, newCfg.Jobs)
	if len(jobs) > 0 {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Int("jobs.changed_count", len(jobs)),
			logx.Int("jobs.count", len(newCfg.Jobs)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, jobs
}

func diffJobs(oldJobs, newJobs []JobConfig) []string {
	index := func(js []JobConfig) map[string]uint64 {
		m := make(map[string]uint64, len(js))
		for _, j := range js {
			m[j.Name] = hashJSON(j)
		}
		return m
	}
	o, n := index(oldJobs), index(newJobs)

	out := make([]string, 0)
	for name, h := range n {
		if oh, ok := o[name]; !ok || oh != h {
			out = append(out, name)
		}
	}
	for name := range o {
		if _, ok := n[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
