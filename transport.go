package outbound

import "context"

// RejectReason classifies why a provider refused one message.
type RejectReason string

const (
	RejectInvalidRecipient RejectReason = "invalid_recipient"
	RejectAuthFailure      RejectReason = "auth_failure"
	RejectRateLimited      RejectReason = "rate_limited"
	RejectTransient        RejectReason = "transient_network"
	RejectPermanent        RejectReason = "provider_permanent"
)

// Retryable reports whether the rejection is worth a job-level retry. A
// rate-limited or flaky provider may succeed later; a bad address never will.
func (r RejectReason) Retryable() bool {
	return r == RejectRateLimited || r == RejectTransient
}

// Outcome is the result of sending one message to one recipient. Expected
// failures travel here rather than as errors, so a batch loop can record them
// without unwinding.
type Outcome struct {
	Delivered         bool
	ProviderMessageID string

	Reason RejectReason
	Detail string
}

func Delivered(providerMessageID string) Outcome {
	return Outcome{Delivered: true, ProviderMessageID: providerMessageID}
}

func Rejected(reason RejectReason, detail string) Outcome {
	return Outcome{Reason: reason, Detail: detail}
}

// Transport sends one message through one provider channel. Implementations
// receive a credential already validated by the credential manager and must
// not use it past its expiry.
type Transport interface {
	Channel() Channel
	Send(ctx context.Context, cred *ProviderCredential, target *RecipientTarget, payload Payload) (Outcome, error)
}
