package asr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWhisperConfigIsValid(t *testing.T) {
	tcs := []struct {
		name string
		cfg  WhisperConfig
		err  string
	}{
		{
			name: "empty model file",
			cfg:  WhisperConfig{},
			err:  "invalid ModelFile: should not be empty",
		},
		{
			name: "non existent model file",
			cfg:  WhisperConfig{ModelFile: "/tmp/does-not-exist.ggml"},
			err:  "invalid ModelFile: failed to stat model file: stat /tmp/does-not-exist.ggml: no such file or directory",
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.IsValid()
			require.EqualError(t, err, tc.err)
		})
	}
}

func TestIsSpecialToken(t *testing.T) {
	require.True(t, isSpecialToken("[_BEG_]"))
	require.False(t, isSpecialToken("hello"))
	require.False(t, isSpecialToken(""))
}
