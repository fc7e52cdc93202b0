package app

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sasha-gershtein/Sodia/cmd/security/token"
)

func TestValidateSecurityConfig(t *testing.T) {
	longKey := strings.Repeat("k", token.MinBytes)

	cases := []struct {
		name     string
		require  bool
		key      string
		wantErr  string
		wantHMAC bool
	}{
		{name: "optional without key", require: false, key: ""},
		{name: "optional with key", require: false, key: longKey, wantHMAC: true},
		{name: "required with key", require: true, key: longKey, wantHMAC: true},
		{name: "required missing", require: true, key: "", wantErr: "missing"},
		{name: "required short", require: true, key: "short", wantErr: "too short"},
		{name: "optional short", require: false, key: "short", wantErr: "too short"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(token.HMACEnvKey, tc.key)

			h, err := ValidateSecurityConfig(Config{RequireTokenHMAC: tc.require})
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantHMAC, h.HMAC())
		})
	}
}
