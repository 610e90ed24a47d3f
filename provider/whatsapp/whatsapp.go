package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"

	"github.com/parkside-crm/outbound"
)

const graphApi = "https://graph.facebook.com/v18.0"

const UserAgent = "ParksideCRM/Outbound-1.0"

type WhatsAppOption func(t *whatsAppTransport)

func SetBaseURL(baseURL string) WhatsAppOption {
	return func(t *whatsAppTransport) {
		t.baseURL = baseURL
	}
}

func SetLanguage(code string) WhatsAppOption {
	return func(t *whatsAppTransport) {
		t.language = code
	}
}

// whatsAppTransport sends pre-approved template messages through the Meta
// WhatsApp Business API.
type whatsAppTransport struct {
	client *retryablehttp.Client

	baseURL       string
	phoneNumberID string
	language      string
}

func NewWhatsAppTransport(phoneNumberID string, options ...WhatsAppOption) outbound.Transport {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.Logger = nil

	t := &whatsAppTransport{
		client:        client,
		baseURL:       graphApi,
		phoneNumberID: phoneNumberID,
		language:      "en",
	}

	for _, option := range options {
		option(t)
	}

	return t
}

func (t *whatsAppTransport) Channel() outbound.Channel {
	return outbound.ChannelWhatsApp
}

type templateMessage struct {
	MessagingProduct string          `json:"messaging_product"`
	To               string          `json:"to"`
	Type             string          `json:"type"`
	Template         templatePayload `json:"template"`
}

type templatePayload struct {
	Name       string              `json:"name"`
	Language   templateLanguage    `json:"language"`
	Components []templateComponent `json:"components,omitempty"`
}

type templateLanguage struct {
	Code string `json:"code"`
}

type templateComponent struct {
	Type       string              `json:"type"`
	Parameters []templateParameter `json:"parameters"`
}

type templateParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`

	Error *graphError `json:"error"`
}

type graphError struct {
	Message    string `json:"message"`
	Code       int    `json:"code"`
	Subcode    int    `json:"error_subcode"`
	TraceID    string `json:"fbtrace_id"`
	UserDetail string `json:"error_user_msg"`
}

func (t *whatsAppTransport) Send(ctx context.Context, cred *outbound.ProviderCredential, target *outbound.RecipientTarget, payload outbound.Payload) (outbound.Outcome, error) {
	params := PositionalParams(payload.TextBody, payload.TemplateParams)

	message := templateMessage{
		MessagingProduct: "whatsapp",
		To:               target.Address,
		Type:             "template",
		Template: templatePayload{
			Name:     payload.TemplateID,
			Language: templateLanguage{Code: t.language},
		},
	}

	if len(params) > 0 {
		component := templateComponent{Type: "body"}
		for _, param := range params {
			component.Parameters = append(component.Parameters, templateParameter{
				Type: "text",
				Text: param,
			})
		}

		message.Template.Components = []templateComponent{component}
	}

	body, err := json.Marshal(message)
	if err != nil {
		return outbound.Outcome{}, errors.Wrap(err, "failed to encode template message")
	}

	url := fmt.Sprintf("%s/%s/messages", t.baseURL, t.phoneNumberID)

	req, err := retryablehttp.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return outbound.Outcome{}, errors.Wrap(err, "failed to build graph request")
	}

	req = req.WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return outbound.Rejected(outbound.RejectTransient, err.Error()), nil
	}
	defer resp.Body.Close()

	var parsed sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return outbound.Rejected(outbound.RejectTransient, fmt.Sprintf("unreadable graph response (%d)", resp.StatusCode)), nil
	}

	if parsed.Error != nil {
		return classify(resp.StatusCode, parsed.Error), nil
	}

	if resp.StatusCode >= 300 || len(parsed.Messages) == 0 {
		return outbound.Rejected(outbound.RejectTransient, fmt.Sprintf("unexpected graph response code %d", resp.StatusCode)), nil
	}

	return outbound.Delivered(parsed.Messages[0].ID), nil
}

// classify maps Graph API error codes onto the rejection taxonomy. Codes per
// Meta's published cloud API error reference.
func classify(status int, gerr *graphError) outbound.Outcome {
	detail := fmt.Sprintf("graph error %d: %s", gerr.Code, gerr.Message)

	switch gerr.Code {
	case 190, 10, 200: // expired/invalid token, permission errors
		return outbound.Rejected(outbound.RejectAuthFailure, detail)

	case 4, 80007, 130429: // app, WABA and cloud-api throughput limits
		return outbound.Rejected(outbound.RejectRateLimited, detail)

	case 131026, 131021, 131052: // recipient unreachable or not a WhatsApp user
		return outbound.Rejected(outbound.RejectInvalidRecipient, detail)

	case 132000, 132001, 132005, 132007: // template missing, paused or rejected
		return outbound.Rejected(outbound.RejectPermanent, detail)

	case 1, 2, 131016: // unknown API error / service unavailable
		return outbound.Rejected(outbound.RejectTransient, detail)
	}

	if status >= 500 {
		return outbound.Rejected(outbound.RejectTransient, detail)
	}

	return outbound.Rejected(outbound.RejectPermanent, detail)
}
