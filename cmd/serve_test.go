package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTenants(t *testing.T) {
	tenants, err := parseTenants("fam-1=alice,fam-2=bob")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"fam-1": "alice", "fam-2": "bob"}, tenants)

	tenants, err = parseTenants("")
	require.NoError(t, err)
	assert.Empty(t, tenants)

	// Whitespace and trailing separators are tolerated.
	tenants, err = parseTenants(" fam-1=alice , ")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"fam-1": "alice"}, tenants)

	_, err = parseTenants("fam-1")
	assert.Error(t, err)
	_, err = parseTenants("=alice")
	assert.Error(t, err)
	_, err = parseTenants("fam-1=")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	SetVersion("1.2.3")
	assert.Equal(t, "1.2.3", rootCmd.Version)
}
