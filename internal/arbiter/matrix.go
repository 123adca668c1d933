package arbiter

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/icdev-ai/dispatch/pkg/models"
)

// Matrix is the authority configuration: which roles hold veto power in
// which domains, and at what severity and level. Loaded from YAML and
// hot-reloadable at runtime.
type Matrix struct {
	Domains map[string]DomainRule `yaml:"domains"`
}

// DomainRule describes veto power within a single authority domain.
type DomainRule struct {
	// VetoRoles maps an agent role to the severity its objections carry
	// in this domain. Roles absent from the map have no veto power here.
	VetoRoles map[string]models.VetoSeverity `yaml:"veto_roles"`
	// AuthorityLevel is the level an objection in this domain carries.
	// Overriding a soft veto requires authority at least one above it.
	AuthorityLevel int `yaml:"authority_level"`
}

// LoadMatrix reads and validates an authority matrix from a YAML file.
func LoadMatrix(path string) (*Matrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read authority matrix: %w", err)
	}
	return ParseMatrix(data)
}

// ParseMatrix parses and validates an authority matrix from YAML bytes.
func ParseMatrix(data []byte) (*Matrix, error) {
	var m Matrix
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse authority matrix: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Matrix) validate() error {
	for domain, rule := range m.Domains {
		if len(rule.VetoRoles) == 0 {
			return fmt.Errorf("domain %q declares no veto roles", domain)
		}
		for role, severity := range rule.VetoRoles {
			if !severity.Valid() {
				return fmt.Errorf("domain %q role %q has invalid severity %q", domain, role, severity)
			}
		}
		if rule.AuthorityLevel < 0 {
			return fmt.Errorf("domain %q has negative authority level", domain)
		}
	}
	return nil
}

// Severity returns the veto severity a role's objection carries in a
// domain, or false if the role has no veto power there (or the domain
// is unknown).
func (m *Matrix) Severity(domain, role string) (models.VetoSeverity, bool) {
	rule, ok := m.Domains[domain]
	if !ok {
		return "", false
	}
	severity, ok := rule.VetoRoles[role]
	return severity, ok
}

// Level returns the authority level of a domain, or zero for unknown
// domains.
func (m *Matrix) Level(domain string) int {
	return m.Domains[domain].AuthorityLevel
}
