package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/subsidy-pipeline/internal/eligibility"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o644))
}

func TestNormalizeValidateScore(t *testing.T) {
	dir := t.TempDir()
	fields := filepath.Join(dir, "fields.json")
	writeJSON(t, fields, map[string]any{
		"title":      "Green Farms Grant",
		"deadline":   "15/03/2025",
		"amount_max": "50 000 EUR",
		"bogus":      "dropped",
	})

	out, err := run(t, "normalize", fields, "--ref", "calls/green-farms.txt")
	require.NoError(t, err)
	var rec entity.NormalizedRecord
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, "calls/green-farms.txt", rec.DocumentRef)
	assert.NotContains(t, rec.Fields, "bogus")
	require.NotNil(t, rec.Fields["deadline"].Value.Date)
	assert.Equal(t, "2025-03-15", *rec.Fields["deadline"].Value.Date)

	recPath := filepath.Join(dir, "record.json")
	require.NoError(t, os.WriteFile(recPath, []byte(out), 0o644))

	out, err = run(t, "validate", recPath)
	require.NoError(t, err)
	var qa entity.QAResult
	require.NoError(t, json.Unmarshal([]byte(out), &qa))
	assert.Equal(t, rec.ID, qa.RecordID)

	profile := filepath.Join(dir, "profile.json")
	writeJSON(t, profile, entity.ApplicantProfile{ID: "farm-1", Region: "Bretagne"})
	out, err = run(t, "score", "--profile", profile, recPath)
	require.NoError(t, err)
	var ranked eligibility.Ranked
	require.NoError(t, json.Unmarshal([]byte(out), &ranked))
	assert.NotNil(t, ranked.Ready)
	assert.NotNil(t, ranked.NeedsAction)
}

func TestScoreRequiresProfile(t *testing.T) {
	dir := t.TempDir()
	recPath := filepath.Join(dir, "record.json")
	writeJSON(t, recPath, entity.NormalizedRecord{})
	_, err := run(t, "score", "--profile", "", recPath)
	assert.Error(t, err)
}

func TestStatusRejectsBadID(t *testing.T) {
	_, err := run(t, "status", "not-a-uuid")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "subsidyctl dev\n", out)
}
