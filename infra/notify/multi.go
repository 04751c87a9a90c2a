package notify

import (
	"context"
	"errors"
	"strconv"

	"github.com/kilianp07/cleandispatch/core/dispatch"
)

// Multi fans a notification out to several notifiers and joins their errors.
type Multi []dispatch.Notifier

func (m Multi) NotifyWorker(ctx context.Context, workerID string, n dispatch.Notification) error {
	var errs []error
	for _, x := range m {
		errs = append(errs, x.NotifyWorker(ctx, workerID, n))
	}
	return errors.Join(errs...)
}

func (m Multi) NotifySiteOwner(ctx context.Context, siteID string, n dispatch.Notification) error {
	var errs []error
	for _, x := range m {
		errs = append(errs, x.NotifySiteOwner(ctx, siteID, n))
	}
	return errors.Join(errs...)
}

func (m Multi) EscalateToSiteOwner(ctx context.Context, siteID string, e dispatch.Escalation) error {
	var errs []error
	for _, x := range m {
		errs = append(errs, x.EscalateToSiteOwner(ctx, siteID, e))
	}
	return errors.Join(errs...)
}

func formatMoney(v float64) string { return "$" + strconv.FormatFloat(v, 'f', 2, 64) }
