package internal

import "time"

type CreateCampaignRequest struct {
	UserID          string     `json:"userId"`
	Channel         string     `json:"channel"`
	SenderAccountID string     `json:"senderAccountId"`
	ScheduledFor    *time.Time `json:"scheduledFor,omitempty"`

	Subject  string `json:"subject,omitempty"`
	TextBody string `json:"textBody,omitempty"`
	HtmlBody string `json:"htmlBody,omitempty"`

	TemplateID     string   `json:"templateId,omitempty"`
	TemplateParams []string `json:"templateParams,omitempty"`

	Params map[string]interface{} `json:"params,omitempty"`

	Recipients []CreateRecipientRequest `json:"recipients"`
}

type CreateRecipientRequest struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}
