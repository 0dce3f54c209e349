// Package projectcheck verifies the project's declarative fixtures: the Python
// dependency manifest, the storage emulator compose file, the pre-commit hook
// chain and the CI workflow.
package projectcheck

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Default file locations relative to the project root.
const (
	PyprojectFile = "pyproject.toml"
	PreCommitFile = ".pre-commit-config.yaml"
	WorkflowsDir  = ".github/workflows"
)

// ComposeFiles are tried in order; the first one present is checked.
var ComposeFiles = []string{"docker-compose.yml", "docker-compose.yaml", "compose.yml", "compose.yaml"}

// Finding is the outcome of a single check.
type Finding struct {
	Check   string `json:"check"`
	File    string `json:"file"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func (f Finding) String() string {
	mark := "ok  "
	if !f.OK {
		mark = "FAIL"
	}
	return fmt.Sprintf("%s %-28s %s: %s", mark, f.Check, f.File, f.Message)
}

// Report collects every finding of a run.
type Report struct {
	Dir      string    `json:"dir"`
	Findings []Finding `json:"findings"`
}

// Failed reports whether any check failed.
func (r Report) Failed() bool {
	for _, f := range r.Findings {
		if !f.OK {
			return true
		}
	}
	return false
}

// Failures returns only the failed findings.
func (r Report) Failures() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if !f.OK {
			out = append(out, f)
		}
	}
	return out
}

// Run checks every fixture found under dir. A missing file is a failure.
func Run(dir string) Report {
	r := Report{Dir: dir}

	r.add(checkFile(dir, PyprojectFile, "pyproject", CheckPyproject)...)

	compose := ""
	for _, name := range ComposeFiles {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			compose = name
			break
		}
	}
	if compose == "" {
		r.add(fail("compose", ComposeFiles[0], "file not found"))
	} else {
		r.add(checkFile(dir, compose, "compose", CheckCompose)...)
	}

	r.add(checkFile(dir, PreCommitFile, "pre-commit", CheckPreCommit)...)
	r.add(checkWorkflows(dir)...)
	return r
}

func (r *Report) add(fs ...Finding) { r.Findings = append(r.Findings, fs...) }

type checker func(file string, data []byte) []Finding

func checkFile(dir, name, check string, fn checker) []Finding {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return []Finding{fail(check, name, "read: %v", err)}
	}
	return fn(name, data)
}

// checkWorkflows runs CheckWorkflow on the first workflow triggered by pull requests.
func checkWorkflows(dir string) []Finding {
	root := filepath.Join(dir, WorkflowsDir)
	entries, err := os.ReadDir(root)
	if err != nil {
		return []Finding{fail("workflow", WorkflowsDir, "read: %v", err)}
	}

	var names []string
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if !e.IsDir() && (ext == ".yml" || ext == ".yaml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var last []Finding
	for _, name := range names {
		rel := filepath.ToSlash(filepath.Join(WorkflowsDir, name))
		data, err := os.ReadFile(filepath.Join(root, name))
		if err != nil {
			return []Finding{fail("workflow", rel, "read: %v", err)}
		}
		fs := CheckWorkflow(rel, data)
		if !hasFailure(fs) {
			return fs
		}
		last = fs
	}
	if last == nil {
		return []Finding{fail("workflow", WorkflowsDir, "no workflow files")}
	}
	return last
}

func hasFailure(fs []Finding) bool {
	for _, f := range fs {
		if !f.OK {
			return true
		}
	}
	return false
}

func pass(check, file, format string, args ...any) Finding {
	return Finding{Check: check, File: file, OK: true, Message: fmt.Sprintf(format, args...)}
}

func fail(check, file, format string, args ...any) Finding {
	return Finding{Check: check, File: file, Message: fmt.Sprintf(format, args...)}
}

// verdict picks pass or fail by ok with a shared message.
func verdict(ok bool, check, file, format string, args ...any) Finding {
	if ok {
		return pass(check, file, format, args...)
	}
	return fail(check, file, format, args...)
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(strings.TrimSpace(v), s) {
			return true
		}
	}
	return false
}
