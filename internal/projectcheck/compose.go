package projectcheck

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Ports the storage emulators must publish.
var (
	S3EmulatorPort     = 4566
	AzureEmulatorPorts = []int{10000, 10001, 10002}
)

type composeFile struct {
	Services map[string]composeService `yaml:"services"`
	Volumes  map[string]any            `yaml:"volumes"`
}

type composeService struct {
	Image       string    `yaml:"image"`
	Ports       []any     `yaml:"ports"`
	Volumes     []any     `yaml:"volumes"`
	Environment any       `yaml:"environment"`
	Entrypoint  yaml.Node `yaml:"entrypoint"`
	Command     yaml.Node `yaml:"command"`
	DependsOn   any       `yaml:"depends_on"`
}

// CheckCompose verifies the emulator services and their volumes.
func CheckCompose(file string, data []byte) []Finding {
	const check = "compose"

	var cf composeFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return []Finding{fail(check, file, "parse: %v", err)}
	}
	if len(cf.Services) == 0 {
		return []Finding{fail(check, file, "no services defined")}
	}
	out := []Finding{pass(check+".parse", file, "valid YAML with %d services", len(cf.Services))}

	names := make([]string, 0, len(cf.Services))
	for name := range cf.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	ports := map[string]map[int]bool{}
	for _, name := range names {
		ps, err := containerPorts(cf.Services[name].Ports)
		if err != nil {
			out = append(out, fail(check+".ports", file, "service %s: %v", name, err))
			continue
		}
		ports[name] = ps
	}

	s3 := serviceWith(names, ports, S3EmulatorPort)
	out = append(out, verdict(s3 != "", check+".s3_emulator", file, "service %q publishes %d", s3, S3EmulatorPort))
	if s3 != "" {
		env := environment(cf.Services[s3].Environment)
		svcs, set := env["SERVICES"]
		out = append(out, verdict(!set || strings.TrimSpace(svcs) == "s3", check+".s3_services", file,
			"service %q SERVICES=%q", s3, svcs))
	}

	azure := serviceWith(names, ports, AzureEmulatorPorts...)
	out = append(out, verdict(azure != "", check+".azure_emulator", file,
		"service %q publishes %v", azure, AzureEmulatorPorts))

	out = append(out, checkNamedVolumes(file, names, cf))
	out = append(out, checkProvisioner(file, names, cf))
	return out
}

func serviceWith(names []string, ports map[string]map[int]bool, want ...int) string {
	for _, name := range names {
		all := true
		for _, p := range want {
			if !ports[name][p] {
				all = false
				break
			}
		}
		if all {
			return name
		}
	}
	return ""
}

// containerPorts expands short ("4566", "127.0.0.1:4566:4566/tcp",
// "10000-10002:10000-10002") and long ({target: 4566}) port syntax.
func containerPorts(entries []any) (map[int]bool, error) {
	out := map[int]bool{}
	for _, e := range entries {
		switch t := e.(type) {
		case int:
			out[t] = true
		case string:
			mapping := t
			if i := strings.IndexByte(mapping, '/'); i >= 0 {
				mapping = mapping[:i]
			}
			parts := strings.Split(mapping, ":")
			lo, hi, err := portRange(parts[len(parts)-1])
			if err != nil {
				return nil, err
			}
			for p := lo; p <= hi; p++ {
				out[p] = true
			}
		case map[string]any:
			switch target := t["target"].(type) {
			case int:
				out[target] = true
			case string:
				p, err := strconv.Atoi(target)
				if err != nil {
					return nil, fmt.Errorf("invalid target %q", target)
				}
				out[p] = true
			default:
				return nil, fmt.Errorf("port entry without target")
			}
		default:
			return nil, fmt.Errorf("unsupported port entry %v", e)
		}
	}
	return out, nil
}

func portRange(s string) (int, int, error) {
	lo, hi, isRange := strings.Cut(s, "-")
	a, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid port %q", s)
	}
	if !isRange {
		return a, a, nil
	}
	b, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil || b < a {
		return 0, 0, fmt.Errorf("invalid port range %q", s)
	}
	return a, b, nil
}

// environment accepts both the list ("K=V") and map forms.
func environment(v any) map[string]string {
	out := map[string]string{}
	switch t := v.(type) {
	case []any:
		for _, e := range t {
			k, val, _ := strings.Cut(fmt.Sprint(e), "=")
			out[k] = val
		}
	case map[string]any:
		for k, val := range t {
			if val == nil {
				out[k] = ""
				continue
			}
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

// checkNamedVolumes requires every named volume mounted by a service to be declared.
func checkNamedVolumes(file string, names []string, cf composeFile) Finding {
	const check = "compose.volumes"

	var used, missing []string
	for _, name := range names {
		for _, v := range cf.Services[name].Volumes {
			src := volumeSource(v)
			if src == "" {
				continue
			}
			used = append(used, src)
			if _, ok := cf.Volumes[src]; !ok {
				missing = append(missing, fmt.Sprintf("%s (service %s)", src, name))
			}
		}
	}
	switch {
	case len(missing) > 0:
		return fail(check, file, "undeclared named volumes: %s", strings.Join(missing, ", "))
	case len(used) == 0:
		return fail(check, file, "emulator data is not backed by named volumes")
	default:
		return pass(check, file, "named volumes declared: %s", strings.Join(used, ", "))
	}
}

// volumeSource returns the named volume of a mount, or "" for bind mounts.
func volumeSource(v any) string {
	switch t := v.(type) {
	case string:
		src, _, ok := strings.Cut(t, ":")
		if !ok || isPath(src) {
			return ""
		}
		return src
	case map[string]any:
		if typ, _ := t["type"].(string); typ != "" && typ != "volume" {
			return ""
		}
		src, _ := t["source"].(string)
		if isPath(src) {
			return ""
		}
		return src
	}
	return ""
}

func isPath(s string) bool {
	return s == "" || strings.HasPrefix(s, ".") || strings.HasPrefix(s, "/") ||
		strings.HasPrefix(s, "~") || strings.HasPrefix(s, "$")
}

// checkProvisioner looks for the one-shot service that waits and then creates test-bucket.
func checkProvisioner(file string, names []string, cf composeFile) Finding {
	const check = "compose.provision"
	for _, name := range names {
		svc := cf.Services[name]
		script := nodeText(&svc.Entrypoint) + " " + nodeText(&svc.Command)
		if strings.Contains(script, "test-bucket") && strings.Contains(script, "sleep 5") {
			return pass(check, file, "service %q waits 5s and creates test-bucket", name)
		}
	}
	return fail(check, file, "no service waits 5s and creates test-bucket")
}

// nodeText flattens a scalar or sequence node into one string.
func nodeText(n *yaml.Node) string {
	switch n.Kind {
	case yaml.ScalarNode:
		return n.Value
	case yaml.SequenceNode:
		parts := make([]string, 0, len(n.Content))
		for _, c := range n.Content {
			parts = append(parts, nodeText(c))
		}
		return strings.Join(parts, " ")
	}
	return ""
}
