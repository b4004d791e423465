// Package capability abstracts the productivity-suite APIs that action
// templates drive: documents, mail, calendar and contacts.
package capability

import (
	"context"
	"time"
)

// Operation names, used for metrics, mock recordings and error context.
const (
	OpCreateFolder     = "documents.create_folder"
	OpCopyFromTemplate = "documents.copy_from_template"
	OpRename           = "documents.rename"
	OpGrantAccess      = "documents.grant_access"
	OpDescribe         = "documents.describe"
	OpWatchFile        = "documents.watch"
	OpSendEmail        = "mail.send"
	OpAddLabel         = "mail.add_label"
	OpHistory          = "mail.history"
	OpWatchMailbox     = "mail.watch"
	OpCreateEvent      = "calendar.create_event"
	OpUpsertContact    = "contacts.upsert"
)

type File struct {
	ID          string
	Name        string
	MimeType    string
	ParentID    string
	WebViewLink string
	ModifiedAt  time.Time
}

// Email is an outgoing message sent from a mailbox the service can act as.
type Email struct {
	From     string
	To       []string
	Subject  string
	Body     string
	Template string
	ThreadID string
}

// Message is an inbound message observed during mailbox sync.
type Message struct {
	ID           string
	ThreadID     string
	MessageID    string
	Subject      string
	From         string
	To           []string
	Snippet      string
	Labels       []string
	Unread       bool
	InternalDate time.Time
}

// MailboxDelta is the result of a mailbox history read. Full is set when
// the read fell back to a bounded full listing.
type MailboxDelta struct {
	HistoryID uint64
	Messages  []Message
	Full      bool
}

// WatchRequest asks the document store to push change notifications for a
// file to Address until Expiration.
type WatchRequest struct {
	ChannelID  string
	Address    string
	Token      string
	Expiration time.Time
}

// Channel is a registered push channel. HistoryID is only set for
// mailboxes and is the history id current at registration.
type Channel struct {
	ID         string
	ResourceID string
	HistoryID  uint64
	Expiration time.Time
}

type Event struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	TimeZone    string
	Attendees   []string
}

type CreatedEvent struct {
	ID       string
	MeetLink string
}

type Person struct {
	Name         string
	Email        string
	Phone        string
	Organization string
	Role         string
}

type DocumentStore interface {
	CreateFolder(ctx context.Context, parentID, name string) (string, error)
	CopyFromTemplate(ctx context.Context, templateID, destFolderID, newName string, vars map[string]string) (string, error)
	Rename(ctx context.Context, id, newName string) (bool, error)
	GrantAccess(ctx context.Context, id, principal, role string) (string, error)
	Describe(ctx context.Context, id string) (File, error)
	WatchFile(ctx context.Context, id string, req WatchRequest) (Channel, error)
}

type Messaging interface {
	SendEmail(ctx context.Context, email Email) (string, error)
	AddLabel(ctx context.Context, mailbox, messageID, label string) error
	// History returns messages added to mailbox since startHistoryID. A
	// zero startHistoryID requests a full listing of recent mail.
	History(ctx context.Context, mailbox string, startHistoryID uint64) (MailboxDelta, error)
	// WatchMailbox publishes inbox changes of mailbox to a Pub/Sub topic.
	WatchMailbox(ctx context.Context, mailbox, topic string) (Channel, error)
}

type Calendar interface {
	CreateEvent(ctx context.Context, calendarID string, event Event) (CreatedEvent, error)
}

type Contacts interface {
	UpsertContact(ctx context.Context, person Person) (string, error)
}

// Suite bundles the capability clients an execution may call.
type Suite struct {
	Documents DocumentStore
	Mail      Messaging
	Calendar  Calendar
	Contacts  Contacts
}
