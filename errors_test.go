package outbound

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestClassOf(t *testing.T) {
	assert.Equal(t, ClassTransient, ClassOf(errors.New("unclassified failures retry")))
	assert.Equal(t, ClassTransient, ClassOf(TransientErr(errors.New("timeout"))))
	assert.Equal(t, ClassCredential, ClassOf(CredentialErr(errors.New("token revoked"))))
	assert.Equal(t, ClassSetup, ClassOf(SetupErr(errors.New("unknown campaign"))))
}

func TestClassOfWalksWrappedCauses(t *testing.T) {
	err := errors.Wrap(CredentialErr(errors.New("token revoked")), "processing send-bulk")

	assert.Equal(t, ClassCredential, ClassOf(err))
	assert.False(t, Retryable(err))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(TransientErr(errors.New("connection reset"))))
	assert.True(t, Retryable(errors.New("anything unclassified")))
	assert.False(t, Retryable(SetupErr(errors.New("bad payload"))))
	assert.False(t, Retryable(CredentialErr(errors.New("revoked"))))
}

func TestClassifiedErrorPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	err := TransientErr(cause)

	assert.Equal(t, cause, errors.Cause(err))
	assert.Equal(t, "boom", err.Error())
}
