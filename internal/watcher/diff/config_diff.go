// Package diff summarizes configuration changes for reload logging.
// Secrets are never printed; only whether they were created, updated or removed.
package diff

import (
	"fmt"
	"net/url"
	"reflect"
	"slices"
	"strings"

	"github.com/router-for-me/wearsync/internal/config"
)

// BuildConfigChangeDetails lists human-readable differences between two configs.
func BuildConfigChangeDetails(oldCfg, newCfg *config.Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var details []string
	add := func(format string, args ...any) {
		details = append(details, fmt.Sprintf(format, args...))
	}

	if oldCfg.Host != newCfg.Host {
		add("host: %s -> %s", oldCfg.Host, newCfg.Host)
	}
	if oldCfg.Port != newCfg.Port {
		add("port: %d -> %d", oldCfg.Port, newCfg.Port)
	}
	if oldCfg.Debug != newCfg.Debug {
		add("debug: %t -> %t", oldCfg.Debug, newCfg.Debug)
	}
	if oldCfg.LoggingToFile != newCfg.LoggingToFile {
		add("logging-to-file: %t -> %t", oldCfg.LoggingToFile, newCfg.LoggingToFile)
	}
	if oldCfg.LogsMaxTotalSizeMB != newCfg.LogsMaxTotalSizeMB {
		add("logs-max-total-size-mb: %d -> %d", oldCfg.LogsMaxTotalSizeMB, newCfg.LogsMaxTotalSizeMB)
	}
	if oldCfg.DataDir != newCfg.DataDir {
		add("data-dir: %s -> %s", oldCfg.DataDir, newCfg.DataDir)
	}
	if oldCfg.ProxyURL != newCfg.ProxyURL {
		add("proxy-url: %s -> %s", formatProxyURL(oldCfg.ProxyURL), formatProxyURL(newCfg.ProxyURL))
	}

	op, np := oldCfg.Provider, newCfg.Provider
	if op.Name != np.Name {
		add("provider.name: %s -> %s", op.Name, np.Name)
	}
	if op.ClientID != np.ClientID {
		add("provider.client-id: %s -> %s", op.ClientID, np.ClientID)
	}
	if change := secretChange(op.ClientSecret, np.ClientSecret); change != "" {
		add("provider.client-secret: %s", change)
	}
	if op.AuthURL != np.AuthURL {
		add("provider.auth-url: %s -> %s", op.AuthURL, np.AuthURL)
	}
	if op.TokenURL != np.TokenURL {
		add("provider.token-url: %s -> %s", op.TokenURL, np.TokenURL)
	}
	if op.RedirectURI != np.RedirectURI {
		add("provider.redirect-uri: %s -> %s", op.RedirectURI, np.RedirectURI)
	}
	if op.DoneURL != np.DoneURL {
		add("provider.done-url: %s -> %s", op.DoneURL, np.DoneURL)
	}
	if !slices.Equal(op.Scopes, np.Scopes) {
		add("provider.scopes: %s -> %s", strings.Join(op.Scopes, " "), strings.Join(np.Scopes, " "))
	}
	if op.TokenTimeoutSeconds != np.TokenTimeoutSeconds {
		add("provider.token-timeout-seconds: %d -> %d", op.TokenTimeoutSeconds, np.TokenTimeoutSeconds)
	}
	if op.SessionTTLMinutes != np.SessionTTLMinutes {
		add("provider.session-ttl-minutes: %d -> %d", op.SessionTTLMinutes, np.SessionTTLMinutes)
	}

	ow, nw := oldCfg.Webhook, newCfg.Webhook
	if change := secretChange(ow.Secret, nw.Secret); change != "" {
		add("webhook.secret: %s", change)
	}
	if ow.ReplayWindowSeconds != nw.ReplayWindowSeconds {
		add("webhook.replay-window-seconds: %d -> %d", ow.ReplayWindowSeconds, nw.ReplayWindowSeconds)
	}
	if ow.MaxAttempts != nw.MaxAttempts {
		add("webhook.max-attempts: %d -> %d", ow.MaxAttempts, nw.MaxAttempts)
	}
	if ow.PollIntervalMillis != nw.PollIntervalMillis {
		add("webhook.poll-interval-ms: %d -> %d", ow.PollIntervalMillis, nw.PollIntervalMillis)
	}
	if ow.Workers != nw.Workers {
		add("webhook.workers: %d -> %d", ow.Workers, nw.Workers)
	}
	if ow.MaxBodyBytes != nw.MaxBodyBytes {
		add("webhook.max-body-bytes: %d -> %d", ow.MaxBodyBytes, nw.MaxBodyBytes)
	}
	if ow.StatsRetentionHours != nw.StatsRetentionHours {
		add("webhook.stats-retention-hours: %d -> %d", ow.StatsRetentionHours, nw.StatsRetentionHours)
	}

	oa, na := oldCfg.Alerts, newCfg.Alerts
	if oa.StressThreshold != na.StressThreshold {
		add("alerts.stress-threshold: %d -> %d", oa.StressThreshold, na.StressThreshold)
	}
	if oa.SleepMinimumHours != na.SleepMinimumHours {
		add("alerts.sleep-minimum-hours: %g -> %g", oa.SleepMinimumHours, na.SleepMinimumHours)
	}
	if oa.EnergyThreshold != na.EnergyThreshold {
		add("alerts.energy-threshold: %d -> %d", oa.EnergyThreshold, na.EnergyThreshold)
	}
	if oa.NotifyURL != na.NotifyURL {
		add("alerts.notify-url: %s -> %s", oa.NotifyURL, na.NotifyURL)
	}

	or, nr := oldCfg.Redis, newCfg.Redis
	if or.Addr != nr.Addr {
		add("redis.addr: %s -> %s", or.Addr, nr.Addr)
	}
	if change := secretChange(or.Password, nr.Password); change != "" {
		add("redis.password: %s", change)
	}
	if or.DB != nr.DB {
		add("redis.db: %d -> %d", or.DB, nr.DB)
	}
	if or.UsedCodeTTLHours != nr.UsedCodeTTLHours {
		add("redis.used-code-ttl-hours: %d -> %d", or.UsedCodeTTLHours, nr.UsedCodeTTLHours)
	}
	return details
}

// RequiresRestart reports whether a change touches settings that are only
// read at startup. Webhook verification, attempt ceiling, body limit, alert
// thresholds and debug apply live.
func RequiresRestart(oldCfg, newCfg *config.Config) bool {
	if oldCfg == nil || newCfg == nil {
		return false
	}
	return oldCfg.Host != newCfg.Host ||
		oldCfg.Port != newCfg.Port ||
		oldCfg.DataDir != newCfg.DataDir ||
		oldCfg.LoggingToFile != newCfg.LoggingToFile ||
		oldCfg.ProxyURL != newCfg.ProxyURL ||
		oldCfg.Redis != newCfg.Redis ||
		oldCfg.Alerts.NotifyURL != newCfg.Alerts.NotifyURL ||
		oldCfg.Webhook.PollIntervalMillis != newCfg.Webhook.PollIntervalMillis ||
		oldCfg.Webhook.Workers != newCfg.Webhook.Workers ||
		oldCfg.Webhook.StatsRetentionHours != newCfg.Webhook.StatsRetentionHours ||
		!reflect.DeepEqual(oldCfg.Provider, newCfg.Provider)
}

func secretChange(oldValue, newValue string) string {
	switch {
	case oldValue == newValue:
		return ""
	case oldValue == "":
		return "created"
	case newValue == "":
		return "removed"
	default:
		return "updated"
	}
}

// formatProxyURL keeps only scheme and host so credentials never reach the log.
func formatProxyURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "<none>"
	}
	withScheme := strings.Contains(trimmed, "://")
	candidate := trimmed
	if !withScheme {
		candidate = "//" + trimmed
	}
	parsed, err := url.Parse(candidate)
	if err != nil || parsed.Host == "" {
		return "<redacted>"
	}
	if !withScheme {
		return parsed.Host
	}
	return parsed.Scheme + "://" + parsed.Host
}
