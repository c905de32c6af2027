package scenario

import (
	"embed"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/ledgerops/ledger-network-runner/network"
)

//go:embed scenarios/*.yaml
var builtins embed.FS

// Scenario is an ordered list of steps, each "op key=value ...".
type Scenario struct {
	Name string `yaml:"name"`
	// Default net= for steps that don't set one.
	Network int      `yaml:"network"`
	Steps   []string `yaml:"steps"`
}

// Parse decodes and validates a YAML scenario.
func Parse(b []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, network.Invalidf("couldn't parse scenario: %v", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Scenario) Validate() error {
	if s.Name == "" {
		return network.Invalidf("scenario has no name")
	}
	if s.Network < 0 {
		return network.Invalidf("scenario %s: network must be >= 1, got %d", s.Name, s.Network)
	}
	if len(s.Steps) == 0 {
		return network.Invalidf("scenario %s has no steps", s.Name)
	}
	for i, step := range s.Steps {
		name, _ := splitStep(step)
		if name == "" {
			return network.Invalidf("scenario %s: step %d is empty", s.Name, i+1)
		}
		if _, ok := lookup(name); !ok {
			return network.Invalidf("scenario %s: step %d: unknown operation %q", s.Name, i+1, name)
		}
	}
	return nil
}

// LoadFile reads a scenario file, or a builtin scenario by name.
func LoadFile(nameOrPath string) (*Scenario, error) {
	if s, ok := Builtin(nameOrPath); ok {
		return s, nil
	}
	b, err := os.ReadFile(nameOrPath)
	if err != nil {
		return nil, fmt.Errorf("couldn't read scenario: %w", err)
	}
	return Parse(b)
}

// Builtin returns an embedded scenario.
func Builtin(name string) (*Scenario, bool) {
	b, err := builtins.ReadFile(path.Join("scenarios", name+".yaml"))
	if err != nil {
		return nil, false
	}
	s, err := Parse(b)
	if err != nil {
		panic(fmt.Sprintf("builtin scenario %s: %v", name, err))
	}
	return s, true
}

// BuiltinNames lists the embedded scenarios.
func BuiltinNames() []string {
	entries, err := builtins.ReadDir("scenarios")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

func splitStep(step string) (string, []string) {
	fields := strings.Fields(step)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}
