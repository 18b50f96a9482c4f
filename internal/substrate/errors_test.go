package substrate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorCategoriesMapToExitCodes(t *testing.T) {
	cases := []struct {
		err      *Error
		wantCode string
		wantExit int
	}{
		{Validation("bad input", nil), "QS001", 1},
		{Database("query failed", nil), "QS002", 2},
		{Timeout("deadline exceeded", nil), "QS003", 3},
		{ConfigError("missing field", nil), "QS004", 1},
	}
	for _, tc := range cases {
		require.Equal(t, tc.wantCode, tc.err.Code())
		require.Equal(t, tc.wantExit, tc.err.ExitCode())
	}
}

func TestErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Database("writing row", cause)
	require.ErrorIs(t, err, cause)
}

func TestErrorMessageIncludesCauseWhenPresent(t *testing.T) {
	err := Validation("field required", errors.New("name"))
	require.Contains(t, err.Error(), "QS001")
	require.Contains(t, err.Error(), "field required")
	require.Contains(t, err.Error(), "name")
}

func TestErrorMessageOmitsCauseWhenNil(t *testing.T) {
	err := Timeout("request took too long", nil)
	require.Equal(t, "QS003: request took too long", err.Error())
}

func TestErrorAsMatchesWrappedError(t *testing.T) {
	var target *Error
	err := error(ConfigError("bad toml", nil))
	require.True(t, errors.As(err, &target))
	require.Equal(t, CategoryConfig, target.category)
}
