package projectcheck

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/pelletier/go-toml/v2"
)

// Interpreter versions the Python constraint must admit and must reject.
var (
	admittedPythons = []string{"3.11.0", "3.11.4", "3.11.99"}
	rejectedPythons = []string{"3.12.0", "3.10.14"}
)

type pyproject struct {
	Project struct {
		Name           string `toml:"name"`
		RequiresPython string `toml:"requires-python"`
	} `toml:"project"`
	Tool struct {
		Poetry struct {
			Name         string         `toml:"name"`
			Dependencies map[string]any `toml:"dependencies"`
		} `toml:"poetry"`
	} `toml:"tool"`
}

// pythonConstraint returns the interpreter constraint from Poetry or PEP 621 metadata.
func (p pyproject) pythonConstraint() string {
	if v, ok := p.Tool.Poetry.Dependencies["python"]; ok {
		switch t := v.(type) {
		case string:
			return t
		case map[string]any:
			if s, ok := t["version"].(string); ok {
				return s
			}
		}
	}
	return p.Project.RequiresPython
}

// CheckPyproject verifies that the manifest parses and pins Python to 3.11.x.
func CheckPyproject(file string, data []byte) []Finding {
	const check = "pyproject"

	var p pyproject
	if err := toml.Unmarshal(data, &p); err != nil {
		return []Finding{fail(check, file, "parse: %v", err)}
	}
	out := []Finding{pass(check+".parse", file, "valid TOML")}

	raw := p.pythonConstraint()
	if raw == "" {
		return append(out, fail(check+".python", file, "no python constraint declared"))
	}
	c, err := PythonConstraint(raw)
	if err != nil {
		return append(out, fail(check+".python", file, "constraint %q: %v", raw, err))
	}

	var problems []string
	for _, v := range admittedPythons {
		if !c.Check(semver.MustParse(v)) {
			problems = append(problems, "rejects "+v)
		}
	}
	for _, v := range rejectedPythons {
		if c.Check(semver.MustParse(v)) {
			problems = append(problems, "admits "+v)
		}
	}
	if len(problems) > 0 {
		return append(out, fail(check+".python", file, "constraint %q %s", raw, strings.Join(problems, ", ")))
	}
	return append(out, pass(check+".python", file, "constraint %q admits 3.11.x only", raw))
}

var (
	compatibleRelease = regexp.MustCompile(`~=\s*(\d+(?:\.\d+)*)`)
	exactWildcard     = regexp.MustCompile(`==\s*(\d+(?:\.\d+)*\.\*)`)
)

// PythonConstraint parses Poetry and PEP 440 style specifiers
// (">=3.11.0,<3.12.0", "^3.11", "~3.11", "~=3.11.0", "==3.11.*").
func PythonConstraint(s string) (*semver.Constraints, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty constraint")
	}

	// ~=X.Y.Z pins X.Y; ~=X.Y pins X. Masterminds ~ and ^ express the same.
	s = compatibleRelease.ReplaceAllStringFunc(s, func(m string) string {
		v := compatibleRelease.FindStringSubmatch(m)[1]
		if strings.Count(v, ".") >= 2 {
			return "~" + v
		}
		return "^" + v
	})
	s = exactWildcard.ReplaceAllString(s, "$1")
	s = strings.ReplaceAll(s, "===", "=")
	s = strings.ReplaceAll(s, "==", "=")

	return semver.NewConstraint(s)
}
