// Package targetspec embeds the compact catalog of target domain
// definitions the collaborators validate and map against.
package targetspec

import (
	"embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed domains.yaml
var catalogFS embed.FS

// Variable is one target variable of a domain.
type Variable struct {
	Name  string `yaml:"name"`
	Label string `yaml:"label"`
	Type  string `yaml:"type"`
	// Role is identifier, topic, qualifier, or timing.
	Role     string `yaml:"role"`
	Required bool   `yaml:"required"`
	// Terminology lists the controlled values, empty when free-form.
	Terminology []string `yaml:"terminology,omitempty"`
}

// Domain is one standardized target table definition.
type Domain struct {
	Code      string     `yaml:"code"`
	Name      string     `yaml:"name"`
	Class     string     `yaml:"class"`
	Variables []Variable `yaml:"variables"`
}

// RequiredVariables returns the variables a conforming dataset must carry.
func (d Domain) RequiredVariables() []Variable {
	var req []Variable
	for _, v := range d.Variables {
		if v.Required {
			req = append(req, v)
		}
	}
	return req
}

// Variable returns the definition of a variable by name.
func (d Domain) Variable(name string) (Variable, bool) {
	for _, v := range d.Variables {
		if v.Name == name {
			return v, true
		}
	}
	return Variable{}, false
}

// Catalog is the loaded set of target domains.
type Catalog struct {
	domains map[string]Domain
}

// Load parses the embedded catalog. The catalog is static; Load is called
// once at bootstrap.
func Load() (*Catalog, error) {
	raw, err := catalogFS.ReadFile("domains.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded catalog: %w", err)
	}

	var doc struct {
		Domains []Domain `yaml:"domains"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse embedded catalog: %w", err)
	}

	catalog := &Catalog{domains: make(map[string]Domain, len(doc.Domains))}
	for _, d := range doc.Domains {
		if _, dup := catalog.domains[d.Code]; dup {
			return nil, fmt.Errorf("duplicate domain %s in catalog", d.Code)
		}
		catalog.domains[d.Code] = d
	}
	return catalog, nil
}

// Domain returns the definition for a domain code.
func (c *Catalog) Domain(code string) (Domain, bool) {
	d, ok := c.domains[code]
	return d, ok
}

// Codes returns the sorted list of known domain codes.
func (c *Catalog) Codes() []string {
	codes := make([]string, 0, len(c.domains))
	for code := range c.domains {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
