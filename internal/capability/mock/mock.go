// Package mock is an in-memory capability suite. It records every call,
// supports per-operation failure and delay injection and is used whenever
// productivity-suite credentials are not configured.
package mock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/opsdesk/opsdesk/internal/capability"
)

type Call struct {
	Op   string
	Args map[string]any
}

type mailbox struct {
	historyID uint64
	expired   bool
	messages  []entry
}

type entry struct {
	historyID uint64
	message   capability.Message
}

type Suite struct {
	mu       sync.Mutex
	calls    []Call
	failures map[string]error
	delays   map[string]time.Duration
	seq      map[string]int
	files    map[string]capability.File
	mail     map[string]*mailbox
	contacts map[string]string
}

func New() *Suite {
	return &Suite{
		failures: map[string]error{},
		delays:   map[string]time.Duration{},
		seq:      map[string]int{},
		files:    map[string]capability.File{},
		mail:     map[string]*mailbox{},
		contacts: map[string]string{},
	}
}

// Suite exposes the mock through the capability interfaces.
func (s *Suite) Suite() capability.Suite {
	return capability.Suite{Documents: s, Mail: s, Calendar: s, Contacts: s}
}

// Fail makes every following call of op fail with err. Plain errors are
// reported as unavailable.
func (s *Suite) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ce *capability.Error
	if !errors.As(err, &ce) {
		err = capability.NewError(capability.KindUnavailable, op, err)
	}
	s.failures[op] = err
}

// Recover clears an injected failure.
func (s *Suite) Recover(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, op)
}

// Delay makes calls of op block for d or until their context ends.
func (s *Suite) Delay(op string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[op] = d
}

// Calls returns every recorded call in order, failed ones included.
func (s *Suite) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallsTo returns the recorded calls of op.
func (s *Suite) CallsTo(op string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// PutFile seeds a document.
func (s *Suite) PutFile(f capability.File) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[f.ID] = f
}

// File returns a document by id.
func (s *Suite) File(id string) (capability.File, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	return f, ok
}

// Deliver adds messages to a mailbox, each with its own history id.
func (s *Suite) Deliver(address string, msgs ...capability.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	box := s.box(address)
	for _, m := range msgs {
		box.historyID++
		box.messages = append(box.messages, entry{historyID: box.historyID, message: m})
	}
}

// ExpireHistory makes incremental history reads of address fail as
// not_found until the next full listing.
func (s *Suite) ExpireHistory(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.box(address).expired = true
}

func (s *Suite) box(address string) *mailbox {
	key := strings.ToLower(address)
	box, ok := s.mail[key]
	if !ok {
		box = &mailbox{historyID: 1000}
		s.mail[key] = box
	}
	return box
}

func (s *Suite) begin(ctx context.Context, op string, args map[string]any) error {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Op: op, Args: args})
	delay := s.delays[op]
	err := s.failures[op]
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// next returns a deterministic id; callers hold s.mu.
func (s *Suite) next(prefix string) string {
	s.seq[prefix]++
	return fmt.Sprintf("%s-%d", prefix, s.seq[prefix])
}

func (s *Suite) CreateFolder(ctx context.Context, parentID, name string) (string, error) {
	if err := s.begin(ctx, capability.OpCreateFolder, map[string]any{"parent_id": parentID, "name": name}); err != nil {
		return "", err
	}
	if strings.TrimSpace(name) == "" {
		return "", capability.NewError(capability.KindInvalidInput, capability.OpCreateFolder, errors.New("folder name is required"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next("folder")
	s.files[id] = capability.File{ID: id, Name: name, MimeType: "application/vnd.google-apps.folder", ParentID: parentID, ModifiedAt: time.Now().UTC()}
	return id, nil
}

func (s *Suite) CopyFromTemplate(ctx context.Context, templateID, destFolderID, newName string, vars map[string]string) (string, error) {
	args := map[string]any{"template_id": templateID, "dest_folder_id": destFolderID, "name": newName, "vars": vars}
	if err := s.begin(ctx, capability.OpCopyFromTemplate, args); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next("doc")
	s.files[id] = capability.File{
		ID:          id,
		Name:        newName,
		MimeType:    "application/vnd.google-apps.document",
		ParentID:    destFolderID,
		WebViewLink: "https://docs.google.com/document/d/" + id,
		ModifiedAt:  time.Now().UTC(),
	}
	return id, nil
}

func (s *Suite) Rename(ctx context.Context, id, newName string) (bool, error) {
	if err := s.begin(ctx, capability.OpRename, map[string]any{"id": id, "name": newName}); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.files[id]
	f.ID, f.Name, f.ModifiedAt = id, newName, time.Now().UTC()
	s.files[id] = f
	return true, nil
}

func (s *Suite) GrantAccess(ctx context.Context, id, principal, role string) (string, error) {
	if err := s.begin(ctx, capability.OpGrantAccess, map[string]any{"id": id, "principal": principal, "role": role}); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next("perm"), nil
}

func (s *Suite) Describe(ctx context.Context, id string) (capability.File, error) {
	if err := s.begin(ctx, capability.OpDescribe, map[string]any{"id": id}); err != nil {
		return capability.File{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return capability.File{}, capability.NewError(capability.KindNotFound, capability.OpDescribe, fmt.Errorf("file %s", id))
	}
	return f, nil
}

// watchTTL is the lifetime granted when a request names no expiration.
const watchTTL = 7 * 24 * time.Hour

func (s *Suite) WatchFile(ctx context.Context, id string, req capability.WatchRequest) (capability.Channel, error) {
	args := map[string]any{"id": id, "channel_id": req.ChannelID, "address": req.Address, "token": req.Token}
	if err := s.begin(ctx, capability.OpWatchFile, args); err != nil {
		return capability.Channel{}, err
	}
	if req.ChannelID == "" || req.Address == "" {
		return capability.Channel{}, capability.NewError(capability.KindInvalidInput, capability.OpWatchFile, errors.New("channel id and address are required"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[id]; !ok {
		return capability.Channel{}, capability.NewError(capability.KindNotFound, capability.OpWatchFile, fmt.Errorf("file %s", id))
	}

	expiration := req.Expiration
	if expiration.IsZero() {
		expiration = time.Now().UTC().Add(watchTTL)
	}
	return capability.Channel{ID: req.ChannelID, ResourceID: s.next("resource"), Expiration: expiration}, nil
}

func (s *Suite) SendEmail(ctx context.Context, email capability.Email) (string, error) {
	args := map[string]any{
		"from":     email.From,
		"to":       email.To,
		"subject":  email.Subject,
		"body":     email.Body,
		"template": email.Template,
	}
	if err := s.begin(ctx, capability.OpSendEmail, args); err != nil {
		return "", err
	}
	if len(email.To) == 0 {
		return "", capability.NewError(capability.KindInvalidInput, capability.OpSendEmail, errors.New("no recipients"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next("msg"), nil
}

func (s *Suite) AddLabel(ctx context.Context, address, messageID, label string) error {
	return s.begin(ctx, capability.OpAddLabel, map[string]any{"mailbox": address, "message_id": messageID, "label": label})
}

func (s *Suite) History(ctx context.Context, address string, startHistoryID uint64) (capability.MailboxDelta, error) {
	if err := s.begin(ctx, capability.OpHistory, map[string]any{"mailbox": address, "start_history_id": startHistoryID}); err != nil {
		return capability.MailboxDelta{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	box := s.box(address)
	if startHistoryID > 0 && box.expired {
		return capability.MailboxDelta{}, capability.NewError(capability.KindNotFound, capability.OpHistory, errors.New("history id expired"))
	}

	delta := capability.MailboxDelta{HistoryID: box.historyID, Full: startHistoryID == 0}
	for _, e := range box.messages {
		if e.historyID > startHistoryID {
			delta.Messages = append(delta.Messages, e.message)
		}
	}
	if delta.Full {
		box.expired = false
	}
	return delta, nil
}

func (s *Suite) WatchMailbox(ctx context.Context, address, topic string) (capability.Channel, error) {
	if err := s.begin(ctx, capability.OpWatchMailbox, map[string]any{"mailbox": address, "topic": topic}); err != nil {
		return capability.Channel{}, err
	}
	if topic == "" {
		return capability.Channel{}, capability.NewError(capability.KindInvalidInput, capability.OpWatchMailbox, errors.New("a Pub/Sub topic is required"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return capability.Channel{
		ID:         address,
		ResourceID: address,
		HistoryID:  s.box(address).historyID,
		Expiration: time.Now().UTC().Add(watchTTL),
	}, nil
}

func (s *Suite) CreateEvent(ctx context.Context, calendarID string, event capability.Event) (capability.CreatedEvent, error) {
	args := map[string]any{
		"calendar_id": calendarID,
		"summary":     event.Summary,
		"start":       event.Start,
		"end":         event.End,
		"attendees":   event.Attendees,
	}
	if err := s.begin(ctx, capability.OpCreateEvent, args); err != nil {
		return capability.CreatedEvent{}, err
	}
	if !event.End.After(event.Start) {
		return capability.CreatedEvent{}, capability.NewError(capability.KindInvalidInput, capability.OpCreateEvent, errors.New("event ends before it starts"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next("evt")
	return capability.CreatedEvent{ID: id, MeetLink: "https://meet.google.com/" + id}, nil
}

func (s *Suite) UpsertContact(ctx context.Context, person capability.Person) (string, error) {
	if err := s.begin(ctx, capability.OpUpsertContact, map[string]any{"name": person.Name, "email": person.Email}); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(person.Email)
	if name, ok := s.contacts[key]; ok {
		return name, nil
	}
	name := "people/" + s.next("c")
	s.contacts[key] = name
	return name, nil
}

// Contacts returns the stored contact emails, sorted.
func (s *Suite) Contacts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.contacts))
	for k := range s.contacts {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
