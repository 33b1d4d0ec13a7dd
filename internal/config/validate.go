package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	logx "checkinbot/pkg/logx"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks struct tags and the semantic rules tags cannot express:
// loadable timezone, parseable times and durations, distinct tag prefixes,
// a token on non-loopback HTTP binds. All problems are joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if err := structValidator().Struct(cfg); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			for _, fe := range ve {
				errs = append(errs, fmt.Errorf("%s: failed %q", fieldPath(fe.Namespace()), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	if _, err := cfg.Course.BuildCourse(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Logging.Level != "" && !logx.ValidLevel(cfg.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if _, _, err := ParseChatTarget(cfg.Telegram.GroupLog); err != nil {
		errs = append(errs, fmt.Errorf("telegram.group_log: %w", err))
	}

	for path, raw := range map[string]string{
		"telegram.poll_timeout":       cfg.Telegram.PollTimeout,
		"scheduler.job_timeout":       cfg.Scheduler.JobTimeout,
		"task_engine.default_timeout": cfg.TaskEngine.DefaultTimeout,
		"task_engine.max_queue_delay": cfg.TaskEngine.MaxQueueDelay,
		"notifier.retry_base":         cfg.Notifier.RetryBase,
		"notifier.retry_max_delay":    cfg.Notifier.RetryMaxDelay,
		"notifier.dedup_window":       cfg.Notifier.DedupWindow,
		"storage.busy_timeout":        cfg.Storage.BusyTimeout,
		"event_sink.publish_timeout":  cfg.EventSink.PublishTimeout,
		"http.read_timeout":           cfg.HTTP.ReadTimeout,
		"http.write_timeout":          cfg.HTTP.WriteTimeout,
		"http.idle_timeout":           cfg.HTTP.IdleTimeout,
	} {
		if _, err := Duration(path, raw, 0); err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.Notifier.PersistDedup && cfg.Notifier.DedupBackend == "redis" && !cfg.Redis.Enabled {
		errs = append(errs, errors.New("notifier.dedup_backend: redis requires redis.enabled"))
	}
	if cfg.HTTP.Enabled && strings.TrimSpace(cfg.HTTP.Token) == "" && !cfg.HTTP.AllowInsecure && !IsLoopbackAddr(cfg.HTTP.Addr) {
		errs = append(errs, fmt.Errorf("http.addr: %q is not loopback; set http.token or allow_insecure", cfg.HTTP.Addr))
	}
	return errors.Join(errs...)
}

// fieldPath maps "Config.TaskEngine.Workers" to a readable dotted path.
func fieldPath(ns string) string {
	return strings.ToLower(strings.TrimPrefix(ns, "Config."))
}

// IsLoopbackAddr reports whether a listen address binds only to loopback.
func IsLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// ParseChatTarget parses "chat_id" or "chat_id:thread_id". Empty is valid
// and yields zeros.
func ParseChatTarget(s string) (chatID int64, threadID int, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, nil
	}
	chat, thread, hasThread := strings.Cut(s, ":")
	chatID, err = strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad chat id %q", chat)
	}
	if hasThread {
		threadID, err = strconv.Atoi(thread)
		if err != nil {
			return 0, 0, fmt.Errorf("bad thread id %q", thread)
		}
	}
	return chatID, threadID, nil
}
