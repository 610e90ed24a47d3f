package mailgun

import (
	"context"
	"net/http"

	"github.com/mailgun/mailgun-go/v3"
	"github.com/pkg/errors"

	"github.com/parkside-crm/outbound"
)

type MailgunOption func(t *mailgunTransport)

func SetFrom(from string) MailgunOption {
	return func(t *mailgunTransport) {
		t.from = from
	}
}

func SetReplyTo(replyTo string) MailgunOption {
	return func(t *mailgunTransport) {
		t.replyTo = replyTo
	}
}

type mailgunTransport struct {
	mg mailgun.Mailgun

	from    string
	replyTo string
}

func NewMailgunTransport(mailgunClient mailgun.Mailgun, options ...MailgunOption) outbound.Transport {
	t := &mailgunTransport{
		mg: mailgunClient,
	}

	for _, option := range options {
		option(t)
	}

	return t
}

func (t *mailgunTransport) Channel() outbound.Channel {
	return outbound.ChannelEmail
}

func (t *mailgunTransport) Send(ctx context.Context, cred *outbound.ProviderCredential, target *outbound.RecipientTarget, payload outbound.Payload) (outbound.Outcome, error) {
	params := outbound.RecipientParams(payload, target)

	subject, err := outbound.Render(payload.Subject, params)
	if err != nil {
		return outbound.Outcome{}, errors.Wrapf(err, "failed to render subject for %s", target.Address)
	}

	textBody, err := outbound.Render(payload.TextBody, params)
	if err != nil {
		return outbound.Outcome{}, errors.Wrapf(err, "failed to render text body for %s", target.Address)
	}

	htmlBody, err := outbound.Render(payload.HtmlBody, params)
	if err != nil {
		return outbound.Outcome{}, errors.Wrapf(err, "failed to render html body for %s", target.Address)
	}

	msg := t.mg.NewMessage(t.from, subject, textBody, target.Address)
	msg.SetHtml(htmlBody)

	if t.replyTo != "" {
		msg.SetReplyTo(t.replyTo)
	}

	_, id, err := t.mg.Send(ctx, msg)
	if err != nil {
		return classify(err), nil
	}

	return outbound.Delivered(id), nil
}

func classify(err error) outbound.Outcome {
	switch mailgun.GetStatusFromErr(err) {
	case http.StatusBadRequest:
		return outbound.Rejected(outbound.RejectInvalidRecipient, err.Error())

	case http.StatusUnauthorized, http.StatusForbidden:
		return outbound.Rejected(outbound.RejectAuthFailure, err.Error())

	case http.StatusTooManyRequests:
		return outbound.Rejected(outbound.RejectRateLimited, err.Error())

	case http.StatusPaymentRequired, http.StatusNotFound:
		return outbound.Rejected(outbound.RejectPermanent, err.Error())

	default:
		return outbound.Rejected(outbound.RejectTransient, err.Error())
	}
}
