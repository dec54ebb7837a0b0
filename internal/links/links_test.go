package links

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "https", raw: "https://example.com/path?q=1"},
		{name: "http with port", raw: "http://localhost:8080"},
		{name: "empty", raw: "", wantErr: true},
		{name: "blank", raw: "   ", wantErr: true},
		{name: "relative", raw: "/just/a/path", wantErr: true},
		{name: "ftp scheme", raw: "ftp://example.com/file", wantErr: true},
		{name: "no host", raw: "https://", wantErr: true},
		{name: "control chars", raw: "http://exa\x7fmple.com", wantErr: true},
		{name: "too long", raw: "https://example.com/" + strings.Repeat("a", MaxURLLength), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateURL(tt.raw)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrInvalid))
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			require.Equal(t, "url", vErr.Field)
		})
	}
}

func TestValidateMetadata(t *testing.T) {
	t.Parallel()

	good := "0190f2b4-8c1e-7c3a-9b7e-2f1f4a1b2c3d"
	bad := "project-1"
	long := strings.Repeat("n", MaxNameLength+1)

	require.NoError(t, ValidateMetadata(nil, nil))
	require.NoError(t, ValidateMetadata(&good, nil))
	require.ErrorIs(t, ValidateMetadata(&bad, nil), ErrInvalid)
	require.ErrorIs(t, ValidateMetadata(nil, &long), ErrInvalid)
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	for _, s := range Statuses {
		got, err := ParseStatus(string(s))
		require.NoError(t, err)
		require.Equal(t, s, got)
	}
	_, err := ParseStatus("UNKNOWN")
	require.Error(t, err)
	require.False(t, StatusPending.Terminal())
	require.True(t, StatusBroken.Terminal())
}

func TestHost(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.com", Host("https://Example.COM:8443/x"))
	require.Equal(t, "unknown", Host("not a url"))
}

func TestCountsTotal(t *testing.T) {
	t.Parallel()

	c := Counts{StatusPending: 2, StatusBroken: 3}
	require.Equal(t, int64(5), c.Total())
}
