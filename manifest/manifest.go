// Package manifest reads and patches project dependency manifests:
// package.json for Node.js projects and requirements.txt for Python.
// Patching is text-based so that key order (package.json) and line
// order plus comments (requirements.txt) survive, and is idempotent —
// applying the same change twice is a no-op.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/c360studio/modernizer/migration"
)

// DeclaredDep is one dependency as declared in the manifest, with its
// verbatim version string.
type DeclaredDep struct {
	Name    string
	Version string
	Dev     bool
}

// Info is the parsed view of a project manifest.
type Info struct {
	// Path is the absolute path of the manifest file.
	Path string

	Kind migration.ProjectKind

	Dependencies []DeclaredDep

	// StartScript is the nodejs start script, when declared.
	StartScript string

	// TestScript is the declared test command (npm test script, or
	// "pytest" when the python project carries a pytest config).
	TestScript string

	// HealthPath is an optional health endpoint hint from the
	// manifest, empty when none is declared.
	HealthPath string
}

// FileName returns the manifest file name for a project kind.
func FileName(kind migration.ProjectKind) string {
	if kind == migration.KindPython {
		return "requirements.txt"
	}
	return "package.json"
}

// Load reads and parses the manifest of the given project.
func Load(projectPath string, kind migration.ProjectKind) (*Info, error) {
	path := filepath.Join(projectPath, FileName(kind))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, migration.Errorf(migration.KindPlanInputMissing, "manifest not found: %s", path)
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	switch kind {
	case migration.KindPython:
		info := parseRequirements(data)
		info.Path = path
		info.TestScript = detectPytest(projectPath)
		return info, nil
	default:
		info, err := parsePackageJSON(data)
		if err != nil {
			return nil, err
		}
		info.Path = path
		return info, nil
	}
}

// VersionOf returns the verbatim declared version for a package, or "".
func (i *Info) VersionOf(name string) string {
	for _, d := range i.Dependencies {
		if d.Name == name {
			return d.Version
		}
	}
	return ""
}

// packageJSON mirrors the fields we read from package.json.
type packageJSON struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
	Scripts         map[string]string `json:"scripts"`
	Config          struct {
		HealthPath string `json:"healthPath"`
	} `json:"config"`
}

func parsePackageJSON(data []byte) (*Info, error) {
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, migration.Errorf(migration.KindPlanInputMissing, "parse package.json: %v", err)
	}

	info := &Info{Kind: migration.KindNodeJS, HealthPath: pkg.Config.HealthPath}
	// Iterate the raw text to keep declaration order deterministic.
	for _, name := range orderedKeys(data, "dependencies") {
		info.Dependencies = append(info.Dependencies, DeclaredDep{Name: name, Version: pkg.Dependencies[name]})
	}
	for _, name := range orderedKeys(data, "devDependencies") {
		info.Dependencies = append(info.Dependencies, DeclaredDep{Name: name, Version: pkg.DevDependencies[name], Dev: true})
	}
	info.StartScript = pkg.Scripts["start"]
	info.TestScript = pkg.Scripts["test"]
	return info, nil
}

// orderedKeys extracts the keys of a top-level object section in the
// order they appear in the raw JSON text.
func orderedKeys(data []byte, section string) []string {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil
	}
	raw, ok := top[section]
	if !ok {
		return nil
	}

	dec := json.NewDecoder(strings.NewReader(string(raw)))
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return nil
	}
	var keys []string
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return keys
		}
		key, ok := keyTok.(string)
		if !ok {
			return keys
		}
		keys = append(keys, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return keys
		}
	}
	return keys
}

// requirementLine matches a pinned requirement: name, operator,
// version, optional trailing comment.
var requirementLine = regexp.MustCompile(`^([A-Za-z0-9_.\-\[\]]+)\s*(==|>=|<=|~=|!=|>|<)\s*([^\s#]+)(.*)$`)

func parseRequirements(data []byte) *Info {
	info := &Info{Kind: migration.KindPython}
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "-") {
			continue
		}
		if m := requirementLine.FindStringSubmatch(trimmed); m != nil {
			info.Dependencies = append(info.Dependencies, DeclaredDep{Name: m[1], Version: m[3]})
		} else {
			// Unpinned requirement: name only.
			name := strings.Fields(trimmed)[0]
			info.Dependencies = append(info.Dependencies, DeclaredDep{Name: name})
		}
	}
	return info
}

// detectPytest reports "pytest" when the project carries a pytest
// configuration or a tests directory.
func detectPytest(projectPath string) string {
	for _, probe := range []string{"pytest.ini", "conftest.py", "tests", "test"} {
		if _, err := os.Stat(filepath.Join(projectPath, probe)); err == nil {
			return "pytest"
		}
	}
	return ""
}

// PatchPackageJSON rewrites dependency version values in raw
// package.json text. Only the quoted version string after each named
// key changes; everything else — key order, whitespace, unrelated
// sections — is untouched.
func PatchPackageJSON(data []byte, changes map[string]string) []byte {
	out := string(data)
	for name, target := range changes {
		if target == "" {
			continue
		}
		// ("name"  :  )"anything"
		pattern := regexp.MustCompile(`("` + regexp.QuoteMeta(name) + `"\s*:\s*)"[^"]*"`)
		out = pattern.ReplaceAllString(out, `${1}"`+target+`"`)
	}
	return []byte(out)
}

// PatchRequirements rewrites pinned versions in requirements.txt text,
// preserving line order, comments, and unrelated lines. Unpinned names
// gain an == pin.
func PatchRequirements(data []byte, changes map[string]string) []byte {
	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "-") {
			continue
		}

		if m := requirementLine.FindStringSubmatch(trimmed); m != nil {
			if target, ok := changes[m[1]]; ok && target != "" {
				lines[i] = m[1] + "==" + target + m[4]
			}
			continue
		}

		name := strings.Fields(trimmed)[0]
		if target, ok := changes[name]; ok && target != "" {
			lines[i] = name + "==" + target
		}
	}
	return []byte(strings.Join(lines, "\n"))
}

// Patch applies target-version changes to raw manifest bytes for the
// given kind.
func Patch(kind migration.ProjectKind, data []byte, changes map[string]string) []byte {
	if kind == migration.KindPython {
		return PatchRequirements(data, changes)
	}
	return PatchPackageJSON(data, changes)
}

// ChangesFromPlan collects the name→target map of a plan's upgrades.
func ChangesFromPlan(plan *migration.Plan) map[string]string {
	changes := make(map[string]string)
	for _, dep := range plan.Upgrades() {
		changes[dep.Name] = dep.TargetVersion
	}
	return changes
}
