package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/modernizer/migration"
)

const samplePackageJSON = `{
  "name": "legacy-api",
  "version": "1.0.0",
  "scripts": {
    "start": "node server.js",
    "test": "jest"
  },
  "dependencies": {
    "express": "^4.16.0",
    "lodash": "4.17.11",
    "moment": "^2.22.0"
  },
  "devDependencies": {
    "jest": "^23.0.0"
  }
}
`

const sampleRequirements = `# pinned for reproducibility
flask==1.0.2
requests>=2.18.0  # http client
urllib3==1.24
gunicorn
`

func writeProject(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	return dir
}

func TestLoadPackageJSON(t *testing.T) {
	dir := writeProject(t, "package.json", samplePackageJSON)

	info, err := Load(dir, migration.KindNodeJS)
	require.NoError(t, err)

	require.Len(t, info.Dependencies, 4)
	assert.Equal(t, "express", info.Dependencies[0].Name)
	assert.Equal(t, "^4.16.0", info.Dependencies[0].Version)
	assert.Equal(t, "lodash", info.Dependencies[1].Name)
	assert.Equal(t, "moment", info.Dependencies[2].Name)
	assert.True(t, info.Dependencies[3].Dev)
	assert.Equal(t, "node server.js", info.StartScript)
	assert.Equal(t, "jest", info.TestScript)
	assert.Equal(t, "^4.16.0", info.VersionOf("express"))
	assert.Equal(t, "", info.VersionOf("nope"))
}

func TestLoadRequirements(t *testing.T) {
	dir := writeProject(t, "requirements.txt", sampleRequirements)

	info, err := Load(dir, migration.KindPython)
	require.NoError(t, err)

	require.Len(t, info.Dependencies, 4)
	assert.Equal(t, "flask", info.Dependencies[0].Name)
	assert.Equal(t, "1.0.2", info.Dependencies[0].Version)
	assert.Equal(t, "2.18.0", info.Dependencies[1].Version)
	assert.Equal(t, "gunicorn", info.Dependencies[3].Name)
	assert.Equal(t, "", info.Dependencies[3].Version)
}

func TestLoadMissingManifest(t *testing.T) {
	_, err := Load(t.TempDir(), migration.KindNodeJS)
	require.Error(t, err)
	assert.Equal(t, migration.KindPlanInputMissing, migration.KindOf(err))
}

func TestPatchPackageJSONPreservesStructure(t *testing.T) {
	patched := PatchPackageJSON([]byte(samplePackageJSON), map[string]string{
		"express": "^4.19.2",
		"lodash":  "4.17.21",
	})

	out := string(patched)
	assert.Contains(t, out, `"express": "^4.19.2"`)
	assert.Contains(t, out, `"lodash": "4.17.21"`)
	// Untouched entries and surrounding structure survive verbatim.
	assert.Contains(t, out, `"moment": "^2.22.0"`)
	assert.Contains(t, out, `"start": "node server.js"`)
	assert.Contains(t, out, `"name": "legacy-api"`)

	// Key order is preserved.
	info, err := parsePackageJSON(patched)
	require.NoError(t, err)
	assert.Equal(t, "express", info.Dependencies[0].Name)
	assert.Equal(t, "lodash", info.Dependencies[1].Name)
}

func TestPatchPackageJSONIdempotent(t *testing.T) {
	changes := map[string]string{"express": "^4.19.2"}
	once := PatchPackageJSON([]byte(samplePackageJSON), changes)
	twice := PatchPackageJSON(once, changes)
	assert.Equal(t, string(once), string(twice))
}

func TestPatchRequirements(t *testing.T) {
	patched := PatchRequirements([]byte(sampleRequirements), map[string]string{
		"flask":    "2.3.3",
		"requests": "2.31.0",
		"gunicorn": "21.2.0",
	})

	out := string(patched)
	assert.Contains(t, out, "flask==2.3.3")
	assert.Contains(t, out, "requests==2.31.0  # http client")
	assert.Contains(t, out, "urllib3==1.24")
	assert.Contains(t, out, "gunicorn==21.2.0")
	assert.Contains(t, out, "# pinned for reproducibility")
}

func TestPatchRequirementsIdempotent(t *testing.T) {
	changes := map[string]string{"flask": "2.3.3"}
	once := PatchRequirements([]byte(sampleRequirements), changes)
	twice := PatchRequirements(once, changes)
	assert.Equal(t, string(once), string(twice))
}

func TestChangesFromPlan(t *testing.T) {
	plan := &migration.Plan{Dependencies: []migration.Dependency{
		{Name: "express", TargetVersion: "4.19.2", Action: migration.ActionUpgrade},
		{Name: "moment", Action: migration.ActionKeep},
	}}
	changes := ChangesFromPlan(plan)
	assert.Equal(t, map[string]string{"express": "4.19.2"}, changes)
}
