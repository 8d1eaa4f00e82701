package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(cause, CategoryDisk, SeverityFatal, "partitioning failed")

	assert.ErrorIs(t, err, cause)
	assert.True(t, IsCategory(err, CategoryDisk))
	assert.False(t, IsRetryable(err))
}

func TestWrapRetryable(t *testing.T) {
	err := WrapRetryable(errors.New("timeout"), CategoryNetwork, SeverityError, "mirror fetch")
	assert.True(t, IsRetryable(err))
}

func TestWithContext(t *testing.T) {
	err := New(CategoryInstall, SeverityError, "step failed").
		WithContext("step", "pacstrap").
		WithContext("attempt", 2)

	require.NotNil(t, err.Context)
	assert.Equal(t, "pacstrap", err.Context["step"])
}

func TestCLIErrorAdapterExitCodes(t *testing.T) {
	adapter := NewCLIErrorAdapter(false, nil)

	tests := []struct {
		name string
		err  error
		code int
	}{
		{"nil", nil, 0},
		{"plain", errors.New("boom"), 1},
		{"validation", ValidationFailed("hostname", "empty"), 2},
		{"config", ConfigNotFound("missing.json"), 7},
		{"mirror", MirrorFetchError("https://example.org", errors.New("503")), 8},
		{"device", DeviceNotFound("/dev/sdz"), 9},
		{"bootloader", BootloaderFailed("grub", errors.New("no esp")), 11},
		{"syscall", SysCallFailed("mkfs.ext4", 1, errors.New("exit 1")), 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, adapter.ExitCodeFor(tt.err))
		})
	}
}

func TestFormatErrorHidesCategoryForUserFacing(t *testing.T) {
	adapter := NewCLIErrorAdapter(false, nil)

	err := ValidationFailed("timezone", "unknown zone")
	assert.Equal(t, err.Message, adapter.FormatError(err))

	diskErr := New(CategoryDisk, SeverityFatal, "wipe refused")
	assert.Contains(t, adapter.FormatError(diskErr), string(CategoryDisk))
}
