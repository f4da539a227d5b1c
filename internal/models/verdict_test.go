package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRiskLevelOrdering(t *testing.T) {
	assert.True(t, RiskHigh.AtLeast(RiskMedium))
	assert.True(t, RiskMedium.AtLeast(RiskLow))
	assert.True(t, RiskLow.AtLeast(RiskLow))
	assert.False(t, RiskLow.AtLeast(RiskMedium))
	assert.Greater(t, RiskHigh.Rank(), RiskMedium.Rank())
}

func TestParseRiskLevel(t *testing.T) {
	level, err := ParseRiskLevel(" HIGH ")
	require.NoError(t, err)
	assert.Equal(t, RiskHigh, level)

	_, err = ParseRiskLevel("critical")
	assert.Error(t, err)
}

func TestContractMetadataHasInterface(t *testing.T) {
	var nilMeta *ContractMetadata
	assert.False(t, nilMeta.HasInterface())

	empty := ""
	assert.False(t, (&ContractMetadata{InterfaceDefinition: &empty}).HasInterface())

	abi := `[{"type":"function","name":"transfer"}]`
	assert.True(t, (&ContractMetadata{InterfaceDefinition: &abi}).HasInterface())
}
