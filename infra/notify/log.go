// Package notify holds notifier implementations that need no broker.
package notify

import (
	"context"
	"strings"
	"time"

	"github.com/kilianp07/cleandispatch/core/dispatch"
	"github.com/kilianp07/cleandispatch/infra/logger"
)

// LogNotifier writes every notification to the log. It is the default when
// no MQTT broker is configured.
type LogNotifier struct {
	log logger.Logger
}

func NewLogNotifier(log logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.New("notifier")
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) NotifyWorker(_ context.Context, workerID string, msg dispatch.Notification) error {
	n.log.Infof("notify worker %s: %s for job %s at %s%s", workerID, msg.Kind, msg.JobID, msg.ScheduledStart.Format(time.RFC3339), extras(msg))
	return nil
}

func (n *LogNotifier) NotifySiteOwner(_ context.Context, siteID string, msg dispatch.Notification) error {
	n.log.Infof("notify owner of %s: %s for job %s%s", siteID, msg.Kind, msg.JobID, extras(msg))
	return nil
}

func (n *LogNotifier) EscalateToSiteOwner(_ context.Context, siteID string, e dispatch.Escalation) error {
	n.log.Warnw("escalated to site owner", map[string]any{
		"site_id":   siteID,
		"job_id":    e.JobID,
		"reason":    e.Reason,
		"scheduled": e.ScheduledStart,
		"actions":   strings.Join(e.SuggestedActions, "; "),
	})
	return nil
}

func extras(msg dispatch.Notification) string {
	var b strings.Builder
	if msg.NewWorkerID != "" {
		b.WriteString(" new=" + msg.NewWorkerID)
	}
	if msg.OriginalWorkerID != "" {
		b.WriteString(" replaces=" + msg.OriginalWorkerID)
	}
	if msg.EmergencyBonus > 0 {
		b.WriteString(" bonus=" + formatMoney(msg.EmergencyBonus))
	}
	if msg.Reason != "" {
		b.WriteString(" reason=" + msg.Reason)
	}
	return b.String()
}
