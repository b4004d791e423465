package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/opsdesk/opsdesk/pkg/log"
)

// SMSSender delivers one-time codes.
type SMSSender interface {
	Send(ctx context.Context, to, body string) error
}

// LogSender logs messages instead of sending them. It is used when no SMS
// provider is configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, to, body string) error {
	log.Info("sms not sent, no provider configured", "to", to, "body", body)
	return nil
}

const twilioBaseURL = "https://api.twilio.com"

type TwilioSender struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	client     *http.Client
}

type TwilioOption func(*TwilioSender)

// WithTwilioBaseURL points the sender at another API host.
func WithTwilioBaseURL(u string) TwilioOption {
	return func(s *TwilioSender) {
		s.baseURL = strings.TrimRight(u, "/")
	}
}

func WithTwilioHTTPClient(c *http.Client) TwilioOption {
	return func(s *TwilioSender) {
		if c != nil {
			s.client = c
		}
	}
}

func NewTwilioSender(accountSID, authToken, from string, opts ...TwilioOption) *TwilioSender {
	s := &TwilioSender{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		baseURL:    twilioBaseURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TwilioSender) Send(ctx context.Context, to, body string) error {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", s.from)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, url.PathEscape(s.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("twilio: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("twilio: %s (code %d)", apiErr.Message, apiErr.Code)
		}
		return fmt.Errorf("twilio: unexpected status %d", resp.StatusCode)
	}

	var msg struct {
		SID string `json:"sid"`
	}
	_ = json.Unmarshal(raw, &msg)
	log.Info("sms sent", "to", to, "sid", msg.SID)
	return nil
}

// NormalizePhone returns phone in E.164 form. Ten digit numbers are taken
// as North American.
func NormalizePhone(phone string) (string, error) {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	plus := strings.HasPrefix(strings.TrimSpace(phone), "+")

	switch {
	case plus && len(d) >= 8 && len(d) <= 15:
		return "+" + d, nil
	case len(d) == 10:
		return "+1" + d, nil
	case len(d) == 11 && d[0] == '1':
		return "+" + d, nil
	}
	return "", fmt.Errorf("auth: invalid phone number %q", phone)
}
