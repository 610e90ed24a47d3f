package ses

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ses"
	"github.com/pkg/errors"

	"github.com/parkside-crm/outbound"
)

type SesOption func(t *sesTransport)

func SetCharset(charset string) SesOption {
	return func(t *sesTransport) {
		t.charset = charset
	}
}

type sesTransport struct {
	ses *ses.SES

	from    string
	charset string
}

// NewSesTransport sends email campaigns through AWS SES. Authentication runs
// on the AWS session; the per-account credential is not consulted beyond
// validation upstream.
func NewSesTransport(sess *session.Session, from string, options ...SesOption) outbound.Transport {
	t := &sesTransport{
		ses:     ses.New(sess),
		from:    from,
		charset: "UTF-8",
	}

	for _, option := range options {
		option(t)
	}

	return t
}

func (t *sesTransport) Channel() outbound.Channel {
	return outbound.ChannelEmail
}

func (t *sesTransport) Send(ctx context.Context, cred *outbound.ProviderCredential, target *outbound.RecipientTarget, payload outbound.Payload) (outbound.Outcome, error) {
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

	input := &ses.SendEmailInput{
		Destination: &ses.Destination{
			ToAddresses: []*string{
				aws.String(target.Address),
			},
		},
		Message: &ses.Message{
			Body: &ses.Body{
				Html: &ses.Content{
					Charset: aws.String(t.charset),
					Data:    aws.String(htmlBody),
				},
				Text: &ses.Content{
					Charset: aws.String(t.charset),
					Data:    aws.String(textBody),
				},
			},
			Subject: &ses.Content{
				Charset: aws.String(t.charset),
				Data:    aws.String(subject),
			},
		},
		Source: aws.String(t.from),
	}

	out, err := t.ses.SendEmailWithContext(ctx, input)
	if err != nil {
		return classify(err), nil
	}

	return outbound.Delivered(aws.StringValue(out.MessageId)), nil
}

func classify(err error) outbound.Outcome {
	aerr, ok := err.(awserr.Error)
	if !ok {
		return outbound.Rejected(outbound.RejectTransient, err.Error())
	}

	switch aerr.Code() {
	case ses.ErrCodeMessageRejected:
		return outbound.Rejected(outbound.RejectInvalidRecipient, aerr.Message())

	case ses.ErrCodeMailFromDomainNotVerifiedException, ses.ErrCodeConfigurationSetDoesNotExistException:
		return outbound.Rejected(outbound.RejectPermanent, aerr.Message())

	case "Throttling", "ThrottlingException", "TooManyRequestsException":
		return outbound.Rejected(outbound.RejectRateLimited, aerr.Message())

	case "ExpiredToken", "InvalidClientTokenId", "UnrecognizedClientException":
		return outbound.Rejected(outbound.RejectAuthFailure, aerr.Message())

	default:
		return outbound.Rejected(outbound.RejectTransient, aerr.Message())
	}
}
