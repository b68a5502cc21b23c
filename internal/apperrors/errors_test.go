package apperrors

import (
	"testing"

	jujuerrors "github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindfDomainSpecific(t *testing.T) {
	err := New(Unreachable, "ping failed")
	assert.Equal(t, Unreachable, Kindf(err))
	assert.True(t, Is(err, Unreachable))
	assert.False(t, Is(err, Timeout))
}

func TestKindfWrapPreservesCause(t *testing.T) {
	cause := jujuerrors.New("boom")
	err := Wrap(DownloadFailed, cause, "download image")
	require.Error(t, err)
	assert.Equal(t, DownloadFailed, Kindf(err))
	assert.ErrorIs(t, err, cause)
}

func TestKindfJujuBacked(t *testing.T) {
	assert.Equal(t, NotFound, Kindf(jujuerrors.NotFoundf("router %s", "r1")))
	assert.Equal(t, Conflict, Kindf(jujuerrors.AlreadyExistsf("job")))
	assert.Equal(t, Validation, Kindf(jujuerrors.NotValidf("batch size")))
	assert.Equal(t, AuthFailed, Kindf(jujuerrors.Unauthorizedf("bad password")))
	assert.Equal(t, Timeout, Kindf(jujuerrors.Timeoutf("slow")))
}

func TestKindfUnclassifiedIsInternal(t *testing.T) {
	assert.Equal(t, Internal, Kindf(jujuerrors.New("mystery")))
}

func TestNewfFormatsMessage(t *testing.T) {
	err := Newf(CommandFailed, "exit code %d", 7)
	assert.Contains(t, err.Error(), "exit code 7")
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(Internal, nil, "no cause"))
}
