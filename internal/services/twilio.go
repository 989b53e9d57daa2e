package services

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioService is the WhatsApp messaging gateway adapter
type TwilioService struct {
	client     *twilio.RestClient
	from       string // Twilio WhatsApp number, e.g. "whatsapp:+14155238886"
	accountSid string
	authToken  string
	httpClient *http.Client
}

// NewTwilioService creates a new Twilio service instance
func NewTwilioService() (*TwilioService, error) {
	accountSid := os.Getenv("TWILIO_ACCOUNT_SID")
	authToken := os.Getenv("TWILIO_AUTH_TOKEN")
	from := os.Getenv("TWILIO_WHATSAPP_FROM")

	if accountSid == "" || authToken == "" || from == "" {
		return nil, fmt.Errorf("missing Twilio credentials in environment variables")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSid,
		Password: authToken,
	})

	return &TwilioService{
		client:     client,
		from:       from,
		accountSid: accountSid,
		authToken:  authToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Send delivers a WhatsApp message to a chat scope. Twilio has no reply
// quoting, so the quoted message id is ignored here.
func (t *TwilioService) Send(groupID, text string, opts *SendOptions) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetFrom(t.from)
	params.SetTo(fmt.Sprintf("whatsapp:%s", groupID))
	params.SetBody(text)

	resp, err := t.client.Api.CreateMessage(params)
	if err != nil {
		log.Printf("❌ Failed to send WhatsApp message: %v", err)
		return err
	}

	log.Printf("✅ WhatsApp message sent! SID: %s", *resp.Sid)
	return nil
}

// FetchMedia downloads an inbound media attachment. Twilio media URLs
// require HTTP basic auth with the account credentials.
func (t *TwilioService) FetchMedia(mediaURL string) ([]byte, string, error) {
	req, err := http.NewRequest(http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, "", err
	}
	req.SetBasicAuth(t.accountSid, t.authToken)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to download media: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read media body: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
