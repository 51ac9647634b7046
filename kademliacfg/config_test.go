package kademliacfg_test

import (
	"testing"

	"github.com/kademlia-core/kadnode/kademliacfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, kademliacfg.Default().Validate())
}

func TestValidateRejectsBadK(t *testing.T) {
	cfg := kademliacfg.Default()
	cfg.K = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, kademliacfg.ErrInvalidConfig)
}

func TestValidateRejectsBadAlpha(t *testing.T) {
	cfg := kademliacfg.Default()
	cfg.Alpha = -1
	assert.ErrorIs(t, cfg.Validate(), kademliacfg.ErrInvalidConfig)
}

func TestLoadEnvOverridesK(t *testing.T) {
	t.Setenv("KADNODE_K", "7")
	cfg, err := kademliacfg.LoadEnv(kademliacfg.Default())
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.K)
}

func TestLoadEnvRejectsMalformed(t *testing.T) {
	t.Setenv("KADNODE_ALPHA", "not-a-number")
	_, err := kademliacfg.LoadEnv(kademliacfg.Default())
	require.Error(t, err)
}
