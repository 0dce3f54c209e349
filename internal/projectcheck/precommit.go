package projectcheck

import (
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaxFileKB is the large-file limit the hook chain must enforce.
const MaxFileKB = 1024

type preCommitConfig struct {
	Repos []struct {
		Repo  string      `yaml:"repo"`
		Rev   string      `yaml:"rev"`
		Hooks []hookEntry `yaml:"hooks"`
	} `yaml:"repos"`
}

type hookEntry struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Files   string   `yaml:"files"`
	Exclude string   `yaml:"exclude"`
	Args    []string `yaml:"args"`
}

func (c preCommitConfig) hooks(id string) []hookEntry {
	var out []hookEntry
	for _, r := range c.Repos {
		for _, h := range r.Hooks {
			if h.ID == id {
				out = append(out, h)
			}
		}
	}
	return out
}

// CheckPreCommit verifies the security scans, the large-file limit and branch protection.
func CheckPreCommit(file string, data []byte) []Finding {
	const check = "pre-commit"

	var cfg preCommitConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return []Finding{fail(check, file, "parse: %v", err)}
	}
	out := []Finding{pass(check+".parse", file, "valid YAML with %d repos", len(cfg.Repos))}

	out = append(out, checkBandit(file, cfg.hooks("bandit")))

	large := cfg.hooks("check-added-large-files")
	kb := 0
	if len(large) > 0 {
		kb = maxKB(large[0].Args)
	}
	out = append(out, verdict(kb == MaxFileKB, check+".large_files", file, "maxkb=%d (want %d)", kb, MaxFileKB))

	branches := cfg.hooks("no-commit-to-branch")
	protected := []string{}
	if len(branches) > 0 {
		protected = protectedBranches(branches[0].Args)
	}
	ok := containsFold(protected, "main") && containsFold(protected, "master")
	out = append(out, verdict(ok, check+".branches", file, "protected branches %v", protected))
	return out
}

var testsDir = regexp.MustCompile(`(^|[\^/(|])tests(/|$|\b)`)

// checkBandit wants exactly two bandit hooks: one over tests with B101
// skipped and one excluding tests without skips.
func checkBandit(file string, hooks []hookEntry) Finding {
	const check = "pre-commit.bandit"
	if len(hooks) != 2 {
		return fail(check, file, "found %d bandit hooks, want 2", len(hooks))
	}

	var scoped, rest *hookEntry
	for i := range hooks {
		h := &hooks[i]
		switch {
		case testsDir.MatchString(h.Files):
			scoped = h
		case testsDir.MatchString(h.Exclude):
			rest = h
		}
	}
	switch {
	case scoped == nil:
		return fail(check, file, "no bandit hook scoped to tests")
	case rest == nil:
		return fail(check, file, "no bandit hook excluding tests")
	}

	if s := skips(scoped.Args); len(s) != 1 || s[0] != "B101" {
		return fail(check, file, "tests hook skips %v, want [B101]", s)
	}
	if s := skips(rest.Args); len(s) != 0 {
		return fail(check, file, "non-test hook skips %v, want none", s)
	}
	return pass(check, file, "tests scan skips B101; other scan has no skips")
}

// skips collects the rule IDs passed with -s/--skip in any of their spellings.
func skips(args []string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		a := strings.TrimSpace(args[i])
		var val string
		switch {
		case a == "-s" || a == "--skip":
			if i+1 < len(args) {
				i++
				val = args[i]
			}
		case strings.HasPrefix(a, "--skip="):
			val = strings.TrimPrefix(a, "--skip=")
		case strings.HasPrefix(a, "-s") && len(a) > 2:
			val = a[2:]
		default:
			continue
		}
		for _, id := range strings.Split(val, ",") {
			if id = strings.TrimSpace(id); id != "" {
				out = append(out, id)
			}
		}
	}
	return out
}

func maxKB(args []string) int {
	for i, a := range args {
		var val string
		switch {
		case strings.HasPrefix(a, "--maxkb="):
			val = strings.TrimPrefix(a, "--maxkb=")
		case a == "--maxkb" && i+1 < len(args):
			val = args[i+1]
		default:
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err == nil {
			return n
		}
	}
	// pre-commit-hooks default.
	return 500
}

// protectedBranches mirrors no-commit-to-branch: main and master unless overridden.
func protectedBranches(args []string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case (a == "-b" || a == "--branch") && i+1 < len(args):
			i++
			out = append(out, args[i])
		case strings.HasPrefix(a, "--branch="):
			out = append(out, strings.TrimPrefix(a, "--branch="))
		}
	}
	if len(out) == 0 {
		return []string{"main", "master"}
	}
	return out
}
