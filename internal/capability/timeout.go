package capability

import (
	"context"
	"errors"
	"time"

	"github.com/opsdesk/opsdesk/internal/metrics"
)

// WithTimeout bounds every call made through the returned suite by d and
// counts calls by operation and outcome. Expiry surfaces as KindTimeout.
func WithTimeout(suite Suite, d time.Duration) Suite {
	out := Suite{}
	if suite.Documents != nil {
		out.Documents = &timedDocuments{next: suite.Documents, d: d}
	}
	if suite.Mail != nil {
		out.Mail = &timedMessaging{next: suite.Mail, d: d}
	}
	if suite.Calendar != nil {
		out.Calendar = &timedCalendar{next: suite.Calendar, d: d}
	}
	if suite.Contacts != nil {
		out.Contacts = &timedContacts{next: suite.Contacts, d: d}
	}
	return out
}

func bounded[T any](ctx context.Context, d time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	out, err := fn(ctx)
	if err == nil {
		metrics.CapabilityCallsTotal.WithLabelValues(op, "ok").Inc()
		return out, nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !IsTimeout(err) {
		err = NewError(KindTimeout, op, err)
	}
	metrics.CapabilityCallsTotal.WithLabelValues(op, string(KindOf(err))).Inc()
	return out, err
}

type timedDocuments struct {
	next DocumentStore
	d    time.Duration
}

func (t *timedDocuments) CreateFolder(ctx context.Context, parentID, name string) (string, error) {
	return bounded(ctx, t.d, OpCreateFolder, func(ctx context.Context) (string, error) {
		return t.next.CreateFolder(ctx, parentID, name)
	})
}

func (t *timedDocuments) CopyFromTemplate(ctx context.Context, templateID, destFolderID, newName string, vars map[string]string) (string, error) {
	return bounded(ctx, t.d, OpCopyFromTemplate, func(ctx context.Context) (string, error) {
		return t.next.CopyFromTemplate(ctx, templateID, destFolderID, newName, vars)
	})
}

func (t *timedDocuments) Rename(ctx context.Context, id, newName string) (bool, error) {
	return bounded(ctx, t.d, OpRename, func(ctx context.Context) (bool, error) {
		return t.next.Rename(ctx, id, newName)
	})
}

func (t *timedDocuments) GrantAccess(ctx context.Context, id, principal, role string) (string, error) {
	return bounded(ctx, t.d, OpGrantAccess, func(ctx context.Context) (string, error) {
		return t.next.GrantAccess(ctx, id, principal, role)
	})
}

func (t *timedDocuments) Describe(ctx context.Context, id string) (File, error) {
	return bounded(ctx, t.d, OpDescribe, func(ctx context.Context) (File, error) {
		return t.next.Describe(ctx, id)
	})
}

func (t *timedDocuments) WatchFile(ctx context.Context, id string, req WatchRequest) (Channel, error) {
	return bounded(ctx, t.d, OpWatchFile, func(ctx context.Context) (Channel, error) {
		return t.next.WatchFile(ctx, id, req)
	})
}

type timedMessaging struct {
	next Messaging
	d    time.Duration
}

func (t *timedMessaging) SendEmail(ctx context.Context, email Email) (string, error) {
	return bounded(ctx, t.d, OpSendEmail, func(ctx context.Context) (string, error) {
		return t.next.SendEmail(ctx, email)
	})
}

func (t *timedMessaging) AddLabel(ctx context.Context, mailbox, messageID, label string) error {
	_, err := bounded(ctx, t.d, OpAddLabel, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, t.next.AddLabel(ctx, mailbox, messageID, label)
	})
	return err
}

func (t *timedMessaging) History(ctx context.Context, mailbox string, startHistoryID uint64) (MailboxDelta, error) {
	return bounded(ctx, t.d, OpHistory, func(ctx context.Context) (MailboxDelta, error) {
		return t.next.History(ctx, mailbox, startHistoryID)
	})
}

func (t *timedMessaging) WatchMailbox(ctx context.Context, mailbox, topic string) (Channel, error) {
	return bounded(ctx, t.d, OpWatchMailbox, func(ctx context.Context) (Channel, error) {
		return t.next.WatchMailbox(ctx, mailbox, topic)
	})
}

type timedCalendar struct {
	next Calendar
	d    time.Duration
}

func (t *timedCalendar) CreateEvent(ctx context.Context, calendarID string, event Event) (CreatedEvent, error) {
	return bounded(ctx, t.d, OpCreateEvent, func(ctx context.Context) (CreatedEvent, error) {
		return t.next.CreateEvent(ctx, calendarID, event)
	})
}

type timedContacts struct {
	next Contacts
	d    time.Duration
}

func (t *timedContacts) UpsertContact(ctx context.Context, person Person) (string, error) {
	return bounded(ctx, t.d, OpUpsertContact, func(ctx context.Context) (string, error) {
		return t.next.UpsertContact(ctx, person)
	})
}
