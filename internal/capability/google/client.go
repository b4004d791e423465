// Package google implements the capability interfaces on Google Workspace
// APIs using domain-wide delegated service-account credentials.
package google

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opsdesk/opsdesk/internal/capability"
	"github.com/opsdesk/opsdesk/pkg/log"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/docs/v1"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
	"google.golang.org/api/people/v1"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"
	me             = "me"
	fullSyncQuery  = "newer_than:30d"
	fullSyncLimit  = 500
)

var errStopPaging = errors.New("stop paging")

type Config struct {
	// AdminSubject is impersonated for document and contact operations.
	AdminSubject string
	TimeZone     string
	Tokens       *TokenCache
	// Options are appended to every service constructor.
	Options []option.ClientOption
}

// Client implements every capability interface.
type Client struct {
	admin  string
	tz     string
	tokens *TokenCache
	opts   []option.ClientOption
}

func New(cfg Config) (*Client, error) {
	if cfg.Tokens == nil {
		return nil, errors.New("google client requires a token cache")
	}
	if strings.TrimSpace(cfg.AdminSubject) == "" {
		return nil, errors.New("google client requires an admin subject")
	}
	tz := cfg.TimeZone
	if tz == "" {
		tz = "UTC"
	}
	return &Client{admin: cfg.AdminSubject, tz: tz, tokens: cfg.Tokens, opts: cfg.Options}, nil
}

func (c *Client) Suite() capability.Suite {
	return capability.Suite{Documents: c, Mail: c, Calendar: c, Contacts: c}
}

func (c *Client) options(ctx context.Context, subject string) ([]option.ClientOption, error) {
	ts, err := c.tokens.Get(ctx, subject)
	if err != nil {
		return nil, err
	}
	return append([]option.ClientOption{option.WithTokenSource(ts)}, c.opts...), nil
}

func (c *Client) drive(ctx context.Context) (*drive.Service, error) {
	opts, err := c.options(ctx, c.admin)
	if err != nil {
		return nil, err
	}
	return drive.NewService(ctx, opts...)
}

func (c *Client) gmail(ctx context.Context, mailbox string) (*gmail.Service, error) {
	opts, err := c.options(ctx, mailbox)
	if err != nil {
		return nil, err
	}
	return gmail.NewService(ctx, opts...)
}

func (c *Client) CreateFolder(ctx context.Context, parentID, name string) (string, error) {
	svc, err := c.drive(ctx)
	if err != nil {
		return "", classify(capability.OpCreateFolder, err)
	}

	folder := &drive.File{Name: name, MimeType: folderMimeType}
	if parentID != "" {
		folder.Parents = []string{parentID}
	}

	created, err := svc.Files.Create(folder).Fields("id").SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return "", classify(capability.OpCreateFolder, err)
	}
	return created.Id, nil
}

// CopyFromTemplate copies a document and replaces every {{key}} in the copy.
func (c *Client) CopyFromTemplate(ctx context.Context, templateID, destFolderID, newName string, vars map[string]string) (string, error) {
	svc, err := c.drive(ctx)
	if err != nil {
		return "", classify(capability.OpCopyFromTemplate, err)
	}

	copied, err := svc.Files.Copy(templateID, &drive.File{Name: newName, Parents: []string{destFolderID}}).
		Fields("id").SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return "", classify(capability.OpCopyFromTemplate, err)
	}
	if len(vars) == 0 {
		return copied.Id, nil
	}

	opts, err := c.options(ctx, c.admin)
	if err != nil {
		return "", classify(capability.OpCopyFromTemplate, err)
	}
	dsvc, err := docs.NewService(ctx, opts...)
	if err != nil {
		return "", classify(capability.OpCopyFromTemplate, err)
	}

	requests := make([]*docs.Request, 0, len(vars))
	for k, v := range vars {
		requests = append(requests, &docs.Request{
			ReplaceAllText: &docs.ReplaceAllTextRequest{
				ContainsText: &docs.SubstringMatchCriteria{Text: "{{" + k + "}}", MatchCase: true},
				ReplaceText:  v,
			},
		})
	}
	if _, err := dsvc.Documents.BatchUpdate(copied.Id, &docs.BatchUpdateDocumentRequest{Requests: requests}).Context(ctx).Do(); err != nil {
		// the copy exists and is returned even with unfilled placeholders
		log.Warn("template variable replacement failed", "document", copied.Id, "error", err)
	}
	return copied.Id, nil
}

func (c *Client) Rename(ctx context.Context, id, newName string) (bool, error) {
	svc, err := c.drive(ctx)
	if err != nil {
		return false, classify(capability.OpRename, err)
	}
	if _, err := svc.Files.Update(id, &drive.File{Name: newName}).SupportsAllDrives(true).Context(ctx).Do(); err != nil {
		return false, classify(capability.OpRename, err)
	}
	return true, nil
}

func (c *Client) GrantAccess(ctx context.Context, id, principal, role string) (string, error) {
	svc, err := c.drive(ctx)
	if err != nil {
		return "", classify(capability.OpGrantAccess, err)
	}

	perm := &drive.Permission{Type: "user", Role: role, EmailAddress: principal}
	created, err := svc.Permissions.Create(id, perm).SendNotificationEmail(false).SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return "", classify(capability.OpGrantAccess, err)
	}
	return created.Id, nil
}

func (c *Client) Describe(ctx context.Context, id string) (capability.File, error) {
	svc, err := c.drive(ctx)
	if err != nil {
		return capability.File{}, classify(capability.OpDescribe, err)
	}

	f, err := svc.Files.Get(id).
		Fields("id", "name", "mimeType", "parents", "webViewLink", "modifiedTime").
		SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return capability.File{}, classify(capability.OpDescribe, err)
	}

	out := capability.File{ID: f.Id, Name: f.Name, MimeType: f.MimeType, WebViewLink: f.WebViewLink}
	if len(f.Parents) > 0 {
		out.ParentID = f.Parents[0]
	}
	if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
		out.ModifiedAt = t
	}
	return out, nil
}

// WatchFile registers a web_hook channel for changes of file id.
func (c *Client) WatchFile(ctx context.Context, id string, req capability.WatchRequest) (capability.Channel, error) {
	if req.ChannelID == "" || req.Address == "" {
		return capability.Channel{}, capability.NewError(capability.KindInvalidInput, capability.OpWatchFile, errors.New("channel id and address are required"))
	}

	svc, err := c.drive(ctx)
	if err != nil {
		return capability.Channel{}, classify(capability.OpWatchFile, err)
	}

	ch := &drive.Channel{Id: req.ChannelID, Type: "web_hook", Address: req.Address, Token: req.Token}
	if !req.Expiration.IsZero() {
		ch.Expiration = req.Expiration.UnixMilli()
	}

	created, err := svc.Files.Watch(id, ch).SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return capability.Channel{}, classify(capability.OpWatchFile, err)
	}
	return capability.Channel{
		ID:         created.Id,
		ResourceID: created.ResourceId,
		Expiration: time.UnixMilli(created.Expiration).UTC(),
	}, nil
}

func (c *Client) SendEmail(ctx context.Context, email capability.Email) (string, error) {
	if len(email.To) == 0 {
		return "", capability.NewError(capability.KindInvalidInput, capability.OpSendEmail, errors.New("no recipients"))
	}

	svc, err := c.gmail(ctx, email.From)
	if err != nil {
		return "", classify(capability.OpSendEmail, err)
	}

	msg := &gmail.Message{Raw: encodeMessage(email), ThreadId: email.ThreadID}
	sent, err := svc.Users.Messages.Send(me, msg).Context(ctx).Do()
	if err != nil {
		return "", classify(capability.OpSendEmail, err)
	}
	return sent.Id, nil
}

func encodeMessage(email capability.Email) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", email.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(email.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", email.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	if email.Template != "" {
		fmt.Fprintf(&b, "X-Opsdesk-Template: %s\r\n", email.Template)
	}
	b.WriteString("\r\n")
	b.WriteString(email.Body)
	return base64.URLEncoding.EncodeToString([]byte(b.String()))
}

func (c *Client) AddLabel(ctx context.Context, mailbox, messageID, label string) error {
	svc, err := c.gmail(ctx, mailbox)
	if err != nil {
		return classify(capability.OpAddLabel, err)
	}

	labels, err := svc.Users.Labels.List(me).Context(ctx).Do()
	if err != nil {
		return classify(capability.OpAddLabel, err)
	}

	labelID := ""
	for _, l := range labels.Labels {
		if strings.EqualFold(l.Name, label) {
			labelID = l.Id
			break
		}
	}
	if labelID == "" {
		created, err := svc.Users.Labels.Create(me, &gmail.Label{
			Name:                  label,
			LabelListVisibility:   "labelShow",
			MessageListVisibility: "show",
		}).Context(ctx).Do()
		if err != nil {
			return classify(capability.OpAddLabel, err)
		}
		labelID = created.Id
	}

	_, err = svc.Users.Messages.Modify(me, messageID, &gmail.ModifyMessageRequest{AddLabelIds: []string{labelID}}).Context(ctx).Do()
	return classify(capability.OpAddLabel, err)
}

func (c *Client) History(ctx context.Context, mailbox string, startHistoryID uint64) (capability.MailboxDelta, error) {
	svc, err := c.gmail(ctx, mailbox)
	if err != nil {
		return capability.MailboxDelta{}, classify(capability.OpHistory, err)
	}

	var (
		delta = capability.MailboxDelta{Full: startHistoryID == 0}
		ids   []string
		seen  = map[string]bool{}
	)
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	if startHistoryID > 0 {
		err = svc.Users.History.List(me).StartHistoryId(startHistoryID).HistoryTypes("messageAdded").
			Pages(ctx, func(resp *gmail.ListHistoryResponse) error {
				delta.HistoryID = resp.HistoryId
				for _, h := range resp.History {
					for _, added := range h.MessagesAdded {
						if added.Message != nil {
							add(added.Message.Id)
						}
					}
				}
				return nil
			})
		if err != nil {
			return capability.MailboxDelta{}, classify(capability.OpHistory, err)
		}
	} else {
		profile, err := svc.Users.GetProfile(me).Context(ctx).Do()
		if err != nil {
			return capability.MailboxDelta{}, classify(capability.OpHistory, err)
		}
		delta.HistoryID = profile.HistoryId

		err = svc.Users.Messages.List(me).Q(fullSyncQuery).Pages(ctx, func(resp *gmail.ListMessagesResponse) error {
			for _, m := range resp.Messages {
				add(m.Id)
				if len(ids) >= fullSyncLimit {
					return errStopPaging
				}
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStopPaging) {
			return capability.MailboxDelta{}, classify(capability.OpHistory, err)
		}
	}

	for _, id := range ids {
		m, err := svc.Users.Messages.Get(me, id).Format("metadata").
			MetadataHeaders("Subject", "From", "To", "Message-ID").Context(ctx).Do()
		if err != nil {
			cerr := classify(capability.OpHistory, err)
			if capability.IsNotFound(cerr) {
				// deleted between listing and fetch
				continue
			}
			return capability.MailboxDelta{}, cerr
		}
		delta.Messages = append(delta.Messages, toMessage(m))
	}
	return delta, nil
}

// WatchMailbox publishes INBOX changes of mailbox to topic. Gmail allows
// one watch per mailbox, so a repeated call renews it.
func (c *Client) WatchMailbox(ctx context.Context, mailbox, topic string) (capability.Channel, error) {
	if topic == "" {
		return capability.Channel{}, capability.NewError(capability.KindInvalidInput, capability.OpWatchMailbox, errors.New("a Pub/Sub topic is required"))
	}

	svc, err := c.gmail(ctx, mailbox)
	if err != nil {
		return capability.Channel{}, classify(capability.OpWatchMailbox, err)
	}

	resp, err := svc.Users.Watch(me, &gmail.WatchRequest{LabelIds: []string{"INBOX"}, TopicName: topic}).Context(ctx).Do()
	if err != nil {
		return capability.Channel{}, classify(capability.OpWatchMailbox, err)
	}
	return capability.Channel{
		ID:         mailbox,
		ResourceID: mailbox,
		HistoryID:  resp.HistoryId,
		Expiration: time.UnixMilli(resp.Expiration).UTC(),
	}, nil
}

func toMessage(m *gmail.Message) capability.Message {
	out := capability.Message{
		ID:           m.Id,
		ThreadID:     m.ThreadId,
		Snippet:      m.Snippet,
		Labels:       m.LabelIds,
		InternalDate: time.UnixMilli(m.InternalDate).UTC(),
	}
	for _, l := range m.LabelIds {
		if l == "UNREAD" {
			out.Unread = true
		}
	}
	if m.Payload == nil {
		return out
	}
	for _, h := range m.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "subject":
			out.Subject = h.Value
		case "from":
			out.From = h.Value
		case "to":
			for _, to := range strings.Split(h.Value, ",") {
				if to = strings.TrimSpace(to); to != "" {
					out.To = append(out.To, to)
				}
			}
		case "message-id":
			out.MessageID = h.Value
		}
	}
	return out
}

// CreateEvent creates an event on the primary calendar of calendarID with a
// generated Meet conference.
func (c *Client) CreateEvent(ctx context.Context, calendarID string, event capability.Event) (capability.CreatedEvent, error) {
	opts, err := c.options(ctx, calendarID)
	if err != nil {
		return capability.CreatedEvent{}, classify(capability.OpCreateEvent, err)
	}
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return capability.CreatedEvent{}, classify(capability.OpCreateEvent, err)
	}

	tz := event.TimeZone
	if tz == "" {
		tz = c.tz
	}

	body := &calendar.Event{
		Summary:     event.Summary,
		Description: event.Description,
		Start:       &calendar.EventDateTime{DateTime: event.Start.Format(time.RFC3339), TimeZone: tz},
		End:         &calendar.EventDateTime{DateTime: event.End.Format(time.RFC3339), TimeZone: tz},
		ConferenceData: &calendar.ConferenceData{
			CreateRequest: &calendar.CreateConferenceRequest{
				RequestId:             uuid.NewString(),
				ConferenceSolutionKey: &calendar.ConferenceSolutionKey{Type: "hangoutsMeet"},
			},
		},
	}
	for _, a := range event.Attendees {
		body.Attendees = append(body.Attendees, &calendar.EventAttendee{Email: a})
	}

	created, err := svc.Events.Insert("primary", body).ConferenceDataVersion(1).SendUpdates("all").Context(ctx).Do()
	if err != nil {
		return capability.CreatedEvent{}, classify(capability.OpCreateEvent, err)
	}

	out := capability.CreatedEvent{ID: created.Id, MeetLink: created.HangoutLink}
	if out.MeetLink == "" && created.ConferenceData != nil {
		for _, ep := range created.ConferenceData.EntryPoints {
			if ep.EntryPointType == "video" {
				out.MeetLink = ep.Uri
				break
			}
		}
	}
	return out, nil
}

// UpsertContact returns the resource name of the existing contact with the
// same email, creating one when none exists.
func (c *Client) UpsertContact(ctx context.Context, person capability.Person) (string, error) {
	opts, err := c.options(ctx, c.admin)
	if err != nil {
		return "", classify(capability.OpUpsertContact, err)
	}
	svc, err := people.NewService(ctx, opts...)
	if err != nil {
		return "", classify(capability.OpUpsertContact, err)
	}

	found, err := svc.People.SearchContacts().Query(person.Email).ReadMask("names,emailAddresses").Context(ctx).Do()
	if err != nil {
		return "", classify(capability.OpUpsertContact, err)
	}
	for _, r := range found.Results {
		if r.Person == nil {
			continue
		}
		for _, e := range r.Person.EmailAddresses {
			if strings.EqualFold(e.Value, person.Email) {
				return r.Person.ResourceName, nil
			}
		}
	}

	body := &people.Person{
		Names:          []*people.Name{{UnstructuredName: person.Name}},
		EmailAddresses: []*people.EmailAddress{{Value: person.Email}},
	}
	if person.Phone != "" {
		body.PhoneNumbers = []*people.PhoneNumber{{Value: person.Phone}}
	}
	if person.Organization != "" || person.Role != "" {
		body.Organizations = []*people.Organization{{Name: person.Organization, Title: person.Role}}
	}

	created, err := svc.People.CreateContact(body).Context(ctx).Do()
	if err != nil {
		return "", classify(capability.OpUpsertContact, err)
	}
	return created.ResourceName, nil
}
