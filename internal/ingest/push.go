package ingest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// GmailNotification is the payload of a mailbox push notification.
type GmailNotification struct {
	EmailAddress string
	HistoryID    uint64
}

type gmailPayload struct {
	EmailAddress string          `json:"emailAddress"`
	HistoryID    json.RawMessage `json:"historyId"`
	Message      *struct {
		Data string `json:"data"`
	} `json:"message"`
}

// DecodeGmailPush accepts a bare notification or a Pub/Sub push envelope
// whose message data is the base64 encoded notification. mailbox, when
// set, fills a missing address and must agree with a present one.
func DecodeGmailPush(body []byte, mailbox string) (*GmailNotification, error) {
	var p gmailPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if p.Message != nil && p.Message.Data != "" {
		raw, err := base64.StdEncoding.DecodeString(p.Message.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: message data: %v", ErrInvalid, err)
		}
		p = gmailPayload{}
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: message data: %v", ErrInvalid, err)
		}
	}

	n := &GmailNotification{EmailAddress: strings.ToLower(strings.TrimSpace(p.EmailAddress))}
	mailbox = strings.ToLower(strings.TrimSpace(mailbox))
	switch {
	case n.EmailAddress == "":
		n.EmailAddress = mailbox
	case mailbox != "" && mailbox != n.EmailAddress:
		return nil, fmt.Errorf("%w: notification for %s posted to %s", ErrInvalid, n.EmailAddress, mailbox)
	}
	if n.EmailAddress == "" {
		return nil, fmt.Errorf("%w: emailAddress is required", ErrInvalid)
	}

	if len(p.HistoryID) > 0 {
		id, err := strconv.ParseUint(strings.Trim(string(p.HistoryID), `"`), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: historyId %s", ErrInvalid, p.HistoryID)
		}
		n.HistoryID = id
	}
	return n, nil
}

// DecodeDriveChange returns the document id of a change notification. The
// resource header wins over the body.
func DecodeDriveChange(body []byte, resourceID string) (string, error) {
	if id := strings.TrimSpace(resourceID); id != "" {
		return id, nil
	}

	var p struct {
		FileID string `json:"file_id"`
		GID    string `json:"gid"`
		ID     string `json:"id"`
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &p); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	for _, id := range []string{p.FileID, p.GID, p.ID} {
		if id = strings.TrimSpace(id); id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: no document id", ErrInvalid)
}
