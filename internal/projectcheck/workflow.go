package projectcheck

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

type workflow struct {
	Name string                 `yaml:"name"`
	On   yaml.Node              `yaml:"on"`
	Jobs map[string]workflowJob `yaml:"jobs"`
}

type workflowJob struct {
	RunsOn any            `yaml:"runs-on"`
	Steps  []workflowStep `yaml:"steps"`
}

type workflowStep struct {
	Name            string         `yaml:"name"`
	Uses            string         `yaml:"uses"`
	Run             string         `yaml:"run"`
	If              string         `yaml:"if"`
	With            map[string]any `yaml:"with"`
	ContinueOnError any            `yaml:"continue-on-error"`
}

// CheckWorkflow verifies that tests run on pull requests to main and that
// the environment teardown runs even when tests fail.
func CheckWorkflow(file string, data []byte) []Finding {
	const check = "workflow"

	var wf workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return []Finding{fail(check, file, "parse: %v", err)}
	}
	out := []Finding{pass(check+".parse", file, "valid YAML with %d jobs", len(wf.Jobs))}

	branches, ok := pullRequestBranches(&wf.On)
	out = append(out, verdict(ok && (len(branches) == 0 || containsFold(branches, "main")),
		check+".trigger", file, "pull_request branches %v", branches))

	job, testIdx, stopIdx := "", -1, -1
	for name, j := range wf.Jobs {
		t, s := stepIndex(j.Steps, isTestStep), stepIndex(j.Steps, isStopStep)
		if t >= 0 {
			job, testIdx, stopIdx = name, t, s
			break
		}
	}
	if testIdx < 0 {
		return append(out, fail(check+".tests", file, "no step runs the test suite"))
	}
	steps := wf.Jobs[job].Steps

	failsJob := !truthy(steps[testIdx].ContinueOnError)
	out = append(out, verdict(failsJob, check+".tests", file,
		"job %q step %q fails the job on test failure", job, stepLabel(steps[testIdx])))

	if v, found := pythonVersion(steps); found {
		out = append(out, verdict(strings.HasPrefix(v, "3.11"), check+".python", file, "python-version %s", v))
	}

	switch {
	case stopIdx < 0:
		out = append(out, fail(check+".teardown", file, "job %q has no step running \"dev stop\"", job))
	case stopIdx < testIdx:
		out = append(out, fail(check+".teardown", file, "teardown runs before the tests"))
	case !alwaysRuns(steps[stopIdx].If):
		out = append(out, fail(check+".teardown", file, "teardown step %q is skipped on failure (if: %q)",
			stepLabel(steps[stopIdx]), steps[stopIdx].If))
	default:
		out = append(out, pass(check+".teardown", file, "teardown step %q runs with if: %s",
			stepLabel(steps[stopIdx]), steps[stopIdx].If))
	}
	return out
}

// pullRequestBranches handles `on: pull_request`, `on: [push, pull_request]`
// and the mapping form with a branches filter.
func pullRequestBranches(n *yaml.Node) ([]string, bool) {
	switch n.Kind {
	case yaml.ScalarNode:
		return nil, n.Value == "pull_request"
	case yaml.SequenceNode:
		for _, c := range n.Content {
			if c.Value == "pull_request" {
				return nil, true
			}
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			if n.Content[i].Value != "pull_request" {
				continue
			}
			var trig struct {
				Branches []string `yaml:"branches"`
			}
			_ = n.Content[i+1].Decode(&trig)
			return trig.Branches, true
		}
	}
	return nil, false
}

func stepIndex(steps []workflowStep, match func(workflowStep) bool) int {
	for i, s := range steps {
		if match(s) {
			return i
		}
	}
	return -1
}

func isTestStep(s workflowStep) bool {
	return strings.Contains(s.Run, "pytest")
}

func isStopStep(s workflowStep) bool {
	return strings.Contains(s.Run, "dev stop")
}

// alwaysRuns accepts `always()` with or without the expression wrapper.
func alwaysRuns(cond string) bool {
	c := strings.TrimSpace(cond)
	c = strings.TrimPrefix(c, "${{")
	c = strings.TrimSuffix(c, "}}")
	return strings.TrimSpace(c) == "always()"
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.TrimSpace(t) != "" && t != "false"
	}
	return false
}

func pythonVersion(steps []workflowStep) (string, bool) {
	for _, s := range steps {
		if !strings.HasPrefix(s.Uses, "actions/setup-python") {
			continue
		}
		if v, ok := s.With["python-version"]; ok {
			return fmt.Sprint(v), true
		}
	}
	return "", false
}

func stepLabel(s workflowStep) string {
	if s.Name != "" {
		return s.Name
	}
	return strings.SplitN(strings.TrimSpace(s.Run), "\n", 2)[0]
}
