package handlers

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/listafacil/listafacil-backend/internal/services"
)

// MediaFetcher downloads an inbound attachment by its gateway URL
type MediaFetcher interface {
	FetchMedia(mediaURL string) (data []byte, contentType string, err error)
}

// WhatsAppHandler translates Twilio webhook payloads into typed chat
// events and hands them to the orchestrator. Replies go out through the
// orchestrator's own outbound queue, never inline in the webhook.
type WhatsAppHandler struct {
	orchestrator *services.Orchestrator
	media        MediaFetcher
}

// NewWhatsAppHandler creates a new WhatsApp webhook handler
func NewWhatsAppHandler(orchestrator *services.Orchestrator, media MediaFetcher) *WhatsAppHandler {
	return &WhatsAppHandler{
		orchestrator: orchestrator,
		media:        media,
	}
}

// TwilioWebhookPayload represents an incoming WhatsApp message from Twilio
type TwilioWebhookPayload struct {
	MessageSid        string `form:"MessageSid"`
	AccountSid        string `form:"AccountSid"`
	From              string `form:"From"` // WhatsApp number (whatsapp:+5511987654321)
	To                string `form:"To"`   // Our Twilio number
	Body              string `form:"Body"` // Message text
	NumMedia          string `form:"NumMedia"`
	MediaUrl0         string `form:"MediaUrl0"`
	MediaContentType0 string `form:"MediaContentType0"`
}

// HandleWebhook processes incoming WhatsApp messages
func (h *WhatsAppHandler) HandleWebhook(c *fiber.Ctx) error {
	var payload TwilioWebhookPayload

	if err := c.BodyParser(&payload); err != nil {
		log.Printf("Error parsing webhook: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid webhook payload",
		})
	}

	from := stripWhatsAppPrefix(payload.From)
	if from == "" {
		// Status callbacks and delivery receipts have no sender
		return c.SendStatus(fiber.StatusOK)
	}

	meta := services.EventMeta{
		GroupID:   from,
		SenderID:  from,
		MessageID: payload.MessageSid,
	}

	numMedia, _ := strconv.Atoi(payload.NumMedia)
	if numMedia > 0 {
		log.Printf("📱 WhatsApp media from %s: %d attachment(s)", from, numMedia)
		h.dispatchMedia(c, meta, numMedia)
	}

	if body := strings.TrimSpace(payload.Body); body != "" {
		log.Printf("📱 WhatsApp message from %s: %s", from, body)
		h.orchestrator.HandleEvent(services.ParseText(meta, body))
	}

	// Acknowledge webhook receipt; replies are sent asynchronously
	return c.SendStatus(fiber.StatusOK)
}

// dispatchMedia queues one photo event per image attachment; non-image
// media is ignored. Only the URLs are read here - the downloads run on
// the orchestrator's inbound queue, after the webhook has been acked,
// so a slow media gateway cannot push Twilio into a retry.
func (h *WhatsAppHandler) dispatchMedia(c *fiber.Ctx, meta services.EventMeta, numMedia int) {
	for i := 0; i < numMedia; i++ {
		mediaURL := c.FormValue(fmt.Sprintf("MediaUrl%d", i))
		contentType := c.FormValue(fmt.Sprintf("MediaContentType%d", i))
		if mediaURL == "" {
			continue
		}
		if !strings.HasPrefix(contentType, "image/") {
			log.Printf("⚠️  Ignoring non-image attachment (%s) from %s", contentType, meta.SenderID)
			continue
		}

		h.orchestrator.HandleMedia(meta, mediaURL, contentType, h.media.FetchMedia)
	}
}

// TestWebhookPayload allows exercising the pipeline without Twilio
type TestWebhookPayload struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

// HandleTestWebhook processes test messages (for development)
func (h *WhatsAppHandler) HandleTestWebhook(c *fiber.Ctx) error {
	var payload TestWebhookPayload

	if err := c.BodyParser(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid test payload",
		})
	}

	log.Printf("🧪 Test webhook received from %s: %s", payload.From, payload.Message)

	meta := services.EventMeta{GroupID: payload.From, SenderID: payload.From}
	h.orchestrator.HandleEvent(services.ParseText(meta, payload.Message))

	return c.JSON(fiber.Map{
		"success": true,
	})
}

func stripWhatsAppPrefix(s string) string {
	return strings.TrimPrefix(s, "whatsapp:")
}
