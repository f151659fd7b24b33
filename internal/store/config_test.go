package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
refdata: conf/refdata.json
precision: 2
log:
  level: DEBUG
jobs:
  - name: asio
    kind: recon
    preset: asio_quantity
    inputs:
      a: {path: in/geneva.xlsx, start_row: 2}
      b: {path: in/holding.csv}
  - name: prices
    kind: loader
    preset: price_loader
    inputs:
      source:
        kind: bhavcopy
        paths: [in/fo.csv, in/mcx.csv]
`

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "conf/refdata.json", c.RefData)
	assert.Equal(t, "out", c.OutputDir)
	assert.Equal(t, "csv", c.Format)
	assert.Equal(t, 4, c.Workers)
	assert.Equal(t, 2, c.Precision)
	assert.Equal(t, "DEBUG", c.Log.Level)

	require.Len(t, c.Jobs, 2)
	assert.Equal(t, "asio", c.Jobs[0].Output)
	assert.Equal(t, InputTable, c.Jobs[0].Inputs[RoleA].Kind)
	assert.Equal(t, 2, c.Jobs[0].Inputs[RoleA].StartRow)
	assert.Equal(t, []string{"in/fo.csv", "in/mcx.csv"}, c.Jobs[1].Inputs[RoleSource].Files())
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"no jobs":       "format: csv\n",
		"bad format":    "format: pdf\njobs: [{name: x, kind: recon, preset: p, inputs: {a: {path: a}, b: {path: b}}}]\n",
		"bad kind":      "jobs: [{name: x, kind: merge, preset: p}]\n",
		"missing role":  "jobs: [{name: x, kind: threeway, preset: p, inputs: {master: {path: a}, cds: {path: b}}}]\n",
		"no preset":     "jobs: [{name: x, kind: loader, inputs: {source: {path: a}}}]\n",
		"multi table":   "jobs: [{name: x, kind: loader, preset: p, inputs: {source: {paths: [a, b]}}}]\n",
		"duplicate job": "jobs: [{name: x, kind: loader, preset: p, inputs: {source: {path: a}}}, {name: x, kind: loader, preset: p, inputs: {source: {path: a}}}]\n",
	}
	for name, doc := range cases {
		_, err := ParseConfig([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
