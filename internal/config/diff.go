package config

import (
	"encoding/json"
	"hash/fnv"
	"reflect"
	"sort"
	"strings"

	logx "postpilot/pkg/logx"
)

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil || len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// Sections that can change on reload.
const (
	SectionLogging   = "logging"
	SectionTransport = "transport"
	SectionScheduler = "scheduler"
	SectionScripts   = "scripts"
	SectionStorage   = "storage"
	SectionPost      = "post"
	SectionJob       = "job"
)

// SummarizeChange lists the sections that differ and log fields describing
// the new values. Job text and script paths are never logged.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, SectionLogging)
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.remote", newCfg.Logging.Remote.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Transport, newCfg.Transport) {
		changed = append(changed, SectionTransport)
		attrs = append(attrs,
			logx.String("transport.kind", newCfg.Transport.NormalizedKind()),
			logx.Any("transport.rate_per_min", newCfg.Transport.RatePerMin),
		)
	}
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, SectionScheduler)
		attrs = append(attrs,
			logx.String("scheduler.tick", strings.TrimSpace(newCfg.Scheduler.Tick)),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Scripts, newCfg.Scripts) {
		changed = append(changed, SectionScripts)
		attrs = append(attrs, logx.Strings("scripts.interpreters", newCfg.Scripts.Interpreters))
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, SectionStorage)
		driver := ""
		if newCfg.Storage != nil {
			driver = newCfg.Storage.Driver
		}
		attrs = append(attrs, logx.String("storage.driver", driver))
	}
	if oldCfg.Post != newCfg.Post {
		changed = append(changed, SectionPost)
		attrs = append(attrs, logx.String("post.dedup_window", newCfg.Post.DedupWindow))
	}
	if !reflect.DeepEqual(oldCfg.Job, newCfg.Job) {
		changed = append(changed, SectionJob)
		attrs = append(attrs, logx.Bool("job.set", newCfg.Job != nil))
		if newCfg.Job != nil {
			attrs = append(attrs, logx.Int("job.variables", len(newCfg.Job.Variables)))
		}
	}

	sort.Strings(changed)
	return changed, attrs
}
