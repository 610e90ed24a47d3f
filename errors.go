package outbound

import "github.com/pkg/errors"

// ErrorClass partitions send failures by how the pipeline reacts to them.
type ErrorClass string

const (
	// ClassTransient failures (timeouts, provider 5xx, 429) are retried at
	// the job level per the backoff policy.
	ClassTransient ErrorClass = "transient"

	// ClassRecipient failures are terminal for one target only and never
	// escalate to the job.
	ClassRecipient ErrorClass = "recipient"

	// ClassCredential failures (revoked or unrefreshable token) abort the
	// remaining sends of the job without retrying.
	ClassCredential ErrorClass = "credential"

	// ClassSetup failures (malformed payload, unknown campaign, missing
	// transport) fail the job immediately; retrying cannot resolve them.
	ClassSetup ErrorClass = "setup"
)

type classifiedError struct {
	class ErrorClass
	err   error
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Cause() error  { return e.err }
func (e *classifiedError) Unwrap() error { return e.err }

// TransientErr marks an error as retryable at the job level.
func TransientErr(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: ClassTransient, err: err}
}

// CredentialErr marks an error as credential-fatal.
func CredentialErr(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: ClassCredential, err: err}
}

// SetupErr marks an error as setup-fatal.
func SetupErr(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: ClassSetup, err: err}
}

// ClassOf walks the cause chain looking for a classification. Unclassified
// errors default to transient so an unknown failure is retried rather than
// silently dead-lettered.
func ClassOf(err error) ErrorClass {
	for err != nil {
		if classified, ok := err.(*classifiedError); ok {
			return classified.class
		}

		cause, ok := err.(interface{ Cause() error })
		if !ok {
			break
		}

		err = cause.Cause()
	}

	return ClassTransient
}

// Retryable reports whether a job failure should be re-queued with backoff.
func Retryable(err error) bool {
	return ClassOf(err) == ClassTransient
}

var (
	CampaignNotFoundErr       = errors.New("the campaign was not found")
	CredentialNotFoundErr     = errors.New("the provider credential was not found")
	JobNotFoundErr            = errors.New("the job was not found")
	CampaignNotCancellableErr = errors.New("the campaign can no longer be cancelled")
)
