package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadRecordsJSONArray(t *testing.T) {
	path := writeFile(t, "findings.json", `[
	  {"finding_id":"F-1","scanner":"zap","scan_id":"s1","timestamp":"2024-05-01T10:00:00Z",
	   "vulnerability":{"cwe_id":"CWE-79","severity":"MEDIUM","vector":"xss"},
	   "asset":{"type":"web","url":"https://a.example"}},
	  {"finding_id":"F-2","vulnerability":{"cwe_id":"CWE-89"},"asset":{"image":"shop:1.0"},
	   "package":{"name":"pg","version":"8.7.1"}}
	]`)

	records, err := LoadRecords(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "F-1", records[0].FindingID)
	assert.Equal(t, "xss", records[0].Vulnerability.Vector)
	assert.Nil(t, records[0].Package)
	require.NotNil(t, records[1].Package)
	assert.Equal(t, "pg", records[1].Package.Name)
	assert.Equal(t, "shop:1.0", records[1].Asset.Location())
}

func TestLoadRecordsJSONLines(t *testing.T) {
	path := writeFile(t, "findings.jsonl", `{"finding_id":"F-1","vulnerability":{"cwe_id":"CWE-79"},"asset":{"url":"u1"}}
{"finding_id":"F-2","vulnerability":{"cwe_id":"CWE-89"},"asset":{"url":"u2"}}
`)

	records, err := LoadRecords(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "F-2", records[1].FindingID)
}

func TestLoadRecordsWrappedJSON(t *testing.T) {
	path := writeFile(t, "export.json", `{"findings":[{"finding_id":"F-9","vulnerability":{"cwe_id":"CWE-22"},"asset":{"path":"/etc"}}]}`)

	records, err := LoadRecords(path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "F-9", records[0].FindingID)
}

func TestLoadRecordsYAML(t *testing.T) {
	path := writeFile(t, "findings.yaml", `
- finding_id: F-1
  scanner: trivy
  vulnerability:
    cwe_id: CWE-1321
    severity: critical
    vector: prototype-pollution
  asset:
    type: image
    image: shop:1.2
  package:
    name: lodash
    version: 4.17.20
    ecosystem: npm
`)

	records, err := LoadRecords(path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "trivy", records[0].Scanner)
	assert.Equal(t, "CWE-1321", records[0].Vulnerability.CweID)
	require.NotNil(t, records[0].Package)
	assert.Equal(t, "4.17.20", records[0].Package.Version)
}

func TestLoadRecordsWrappedYAML(t *testing.T) {
	path := writeFile(t, "findings.yml", `
findings:
  - finding_id: F-1
    vulnerability:
      cwe_id: CWE-79
    asset:
      url: https://a.example
`)

	records, err := LoadRecords(path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "https://a.example", records[0].Asset.URL)
}

func TestLoadRecordsErrors(t *testing.T) {
	_, err := LoadRecords(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = LoadRecords(writeFile(t, "broken.json", `[{"finding_id": }]`))
	assert.Error(t, err)

	records, err := LoadRecords(writeFile(t, "empty.json", "  \n"))
	require.NoError(t, err)
	assert.Empty(t, records)
}
