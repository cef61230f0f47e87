package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateRejectsZeroRetention(t *testing.T) {
	c := Default()
	c.EpisodicRetentionDays = 0
	require.Error(t, c.Validate())
}

func TestValidateRejectsUnknownDecayFunction(t *testing.T) {
	c := Default()
	d := c.Decay["semantic"]
	d.Function = "quadratic"
	c.Decay["semantic"] = d
	require.Error(t, c.Validate())
}

func TestEpisodicRetentionIsConfigurableNotHardcoded(t *testing.T) {
	c := Default()
	require.Equal(t, 7, c.EpisodicRetentionDays)
	c.EpisodicRetentionDays = 30
	require.NoError(t, c.Validate())
}
