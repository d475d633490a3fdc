package app

import (
	"github.com/wndlink/wndlink/pkg/companion"
	"github.com/wndlink/wndlink/pkg/config"
	"github.com/wndlink/wndlink/pkg/domain/message"
	"github.com/wndlink/wndlink/pkg/iframewnd"
	"github.com/wndlink/wndlink/pkg/logbook"
	"github.com/wndlink/wndlink/pkg/logger"
	"github.com/wndlink/wndlink/pkg/recordapi"
	"github.com/wndlink/wndlink/pkg/wndmsg"
)

// QueueOptions maps the messaging section onto a queue for self.
func QueueOptions(cfg *config.Config, self message.Endpoint) wndmsg.Options {
	return wndmsg.Options{
		Self:              self,
		ExpirationWindow:  cfg.Messaging.ExpirationWindow,
		RetryCount:        cfg.Messaging.RetryCount,
		SweepInterval:     cfg.Messaging.SweepInterval,
		HeartbeatInterval: cfg.Messaging.HeartbeatInterval,
	}
}

// CompanionOptions names the account record the companion stamps.
func CompanionOptions(cfg *config.Config) companion.Options {
	return companion.Options{
		AccountTarget:    cfg.RecordAPI.AccountView,
		AccountID:        cfg.App.AccountID,
		HeartbeatField:   cfg.RecordAPI.Fields.Heartbeat,
		PreferencesField: cfg.RecordAPI.Fields.Preferences,
	}
}

func LogbookOptions(cfg *config.Config) logbook.Options {
	return logbook.Options{
		Disabled:          !cfg.Logs.Enabled,
		MaxEntries:        cfg.Logs.MaxEntries,
		Slack:             cfg.Logs.Slack,
		RetentionSchedule: cfg.Logs.RetentionSchedule,
		StaleSentTimeout:  cfg.Logs.StaleSentTimeout,
	}
}

// ManagerOptions maps the companion and logs sections. Developer users get
// the shorter low-priority cadence and age threshold.
func ManagerOptions(cfg *config.Config) iframewnd.Options {
	f := cfg.RecordAPI.Fields
	senders := iframewnd.SenderOptions{
		HighPriorityInterval: cfg.Logs.HighPriorityInterval,
		LowPriorityInterval:  cfg.Logs.LowPriorityInterval,
		AgeThreshold:         cfg.Logs.AgeThreshold,
		Target:               cfg.RecordAPI.LogsView,
		AccountID:            cfg.App.AccountID,
		Fields: iframewnd.LogFields{
			LogID:    f.LogID,
			LogType:  f.LogType,
			Details:  f.LogDetails,
			DateTime: f.LogDateTime,
			Account:  f.LogAccount,
		},
		ToastText:    cfg.Logs.ToastText,
		ToastTimeout: cfg.Logs.ToastTimeout,
	}
	if cfg.IsDeveloper() {
		senders.LowPriorityInterval = cfg.Logs.DevLowPriorityInterval
		senders.AgeThreshold = cfg.Logs.DevAgeThreshold
	}
	return iframewnd.Options{
		Enabled:         cfg.Companion.Enabled,
		Route:           cfg.Companion.Route,
		ReadyTimeout:    cfg.Companion.ReadyTimeout,
		RecycleInterval: cfg.Companion.RecycleInterval,
		Senders:         senders,
	}
}

// NewWriter returns the REST client when a base URL is configured and an
// in-memory store otherwise, with the account record seeded so heartbeats
// have something to update.
func NewWriter(cfg *config.Config) recordapi.Writer {
	if cfg.RecordAPI.BaseURL != "" {
		return recordapi.NewClient(recordapi.Options{
			BaseURL: cfg.RecordAPI.BaseURL,
			APIKey:  cfg.RecordAPI.APIKey,
			Timeout: cfg.RecordAPI.Timeout,
		})
	}
	logger.WarnC("app", "No record API configured, writes stay in memory")
	w := recordapi.NewMemoryWriter()
	if cfg.App.AccountID != "" {
		w.Seed(cfg.RecordAPI.AccountView, cfg.App.AccountID, nil)
	}
	return w
}
