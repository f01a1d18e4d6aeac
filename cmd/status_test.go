package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formulary-group/ingredient-cli/internal/store"
)

func TestPrintStatus_JSON(t *testing.T) {
	var buf bytes.Buffer
	counts := &store.StageCounts{SourceRecords: 12, Clusters: 3, UnitsDone: 2}

	require.NoError(t, printStatus(&buf, counts, false))

	var got store.StageCounts
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, 12, got.SourceRecords)
	assert.Equal(t, 3, got.Clusters)
	assert.Equal(t, 2, got.UnitsDone)
}

func TestPrintStatus_YAML(t *testing.T) {
	var buf bytes.Buffer
	counts := &store.StageCounts{SourceRecords: 12}

	require.NoError(t, printStatus(&buf, counts, true))
	assert.Contains(t, buf.String(), "sourcerecords: 12")
}
