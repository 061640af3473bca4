package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.twilio.com"
	defaultTimeout = 15 * time.Second
)

// ErrNotConfigured is returned when Twilio credentials are absent. Callers
// treat it as a configuration failure: the operation that needed SMS fails
// immediately, before any per-item work.
var ErrNotConfigured = errors.New("sms gateway not configured")

// TwilioClient sends SMS through the Twilio Messages API.
type TwilioClient struct {
	accountSID string
	authToken  string
	fromNumber string
	baseURL    string
	httpClient *http.Client
}

// NewTwilioClient creates a client from the given credentials. Returns
// ErrNotConfigured if any credential is missing.
func NewTwilioClient(accountSID, authToken, fromNumber string) (*TwilioClient, error) {
	if accountSID == "" || authToken == "" || fromNumber == "" {
		return nil, ErrNotConfigured
	}
	return &TwilioClient{
		accountSID: accountSID,
		authToken:  authToken,
		fromNumber: fromNumber,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}, nil
}

// NewTwilioClientWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewTwilioClientWithBaseURL(accountSID, authToken, fromNumber, baseURL string) (*TwilioClient, error) {
	c, err := NewTwilioClient(accountSID, authToken, fromNumber)
	if err != nil {
		return nil, err
	}
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c, nil
}

// twilioError is the error payload Twilio returns on non-2xx responses.
type twilioError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
}

// Send delivers one SMS to the given phone number, normalizing both numbers
// to E.164 first. Any transport error, non-2xx status, or context timeout is
// a delivery failure; nothing is retried here.
func (c *TwilioClient) Send(ctx context.Context, to, body string) error {
	form := url.Values{}
	form.Set("To", NormalizePhone(to))
	form.Set("From", NormalizePhone(c.fromNumber))
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending sms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		var te twilioError
		if json.Unmarshal(respBody, &te) == nil && te.Message != "" {
			return fmt.Errorf("twilio error %d: %s", te.Code, te.Message)
		}
		return fmt.Errorf("twilio returned status %d", resp.StatusCode)
	}

	return nil
}
