// Package builtin loads the immutable built-in node-type set from an
// embedded YAML resource, per spec §4.1 ("built-in (immutable, loaded from a
// resource)").
package builtin

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/coralrepo/coral/internal/ids"
	"github.com/coralrepo/coral/internal/nodetype"
	"github.com/coralrepo/coral/internal/values"
)

//go:embed schema.yaml
var schemaYAML []byte

type yamlSchema struct {
	Types []yamlType `yaml:"types"`
}

type yamlType struct {
	Name              string         `yaml:"name"`
	Supertypes        []string       `yaml:"supertypes"`
	Mixin             bool           `yaml:"mixin"`
	OrderableChildren bool           `yaml:"orderableChildren"`
	PrimaryItem       string         `yaml:"primaryItem"`
	Properties        []yamlProperty `yaml:"properties"`
	Nodes             []yamlNode     `yaml:"nodes"`
}

type yamlProperty struct {
	Name         string   `yaml:"name"`
	RequiredType string   `yaml:"requiredType"`
	AutoCreated  bool     `yaml:"autoCreated"`
	Mandatory    bool     `yaml:"mandatory"`
	Protected    bool     `yaml:"protected"`
	Multiple     bool     `yaml:"multiple"`
	Constraints  []string `yaml:"constraints"`
}

type yamlNode struct {
	Name                   string   `yaml:"name"`
	DefaultPrimaryType     string   `yaml:"defaultPrimaryType"`
	RequiredPrimaryTypes   []string `yaml:"requiredPrimaryTypes"`
	Mandatory              bool     `yaml:"mandatory"`
	AutoCreated            bool     `yaml:"autoCreated"`
	Protected              bool     `yaml:"protected"`
	AllowsSameNameSiblings bool     `yaml:"allowsSameNameSiblings"`
}

// Load parses the embedded built-in schema into registry-ready definitions.
func Load() ([]nodetype.Def, error) {
	var schema yamlSchema
	if err := yaml.Unmarshal(schemaYAML, &schema); err != nil {
		return nil, fmt.Errorf("parse built-in node-type schema: %w", err)
	}

	defs := make([]nodetype.Def, 0, len(schema.Types))
	for _, t := range schema.Types {
		name := parseName(t.Name)
		d := nodetype.Def{
			Name:              name,
			Mixin:             t.Mixin,
			OrderableChildren: t.OrderableChildren,
		}
		if t.PrimaryItem != "" {
			d.PrimaryItemName = parseName(t.PrimaryItem)
		}
		for _, s := range t.Supertypes {
			d.Supertypes = append(d.Supertypes, parseName(s))
		}
		for _, p := range t.Properties {
			rt, err := values.ParseType(p.RequiredType)
			if err != nil {
				return nil, fmt.Errorf("built-in type %s: %w", t.Name, err)
			}
			d.PropertyDefs = append(d.PropertyDefs, nodetype.PropertyDef{
				DeclaringType:    name,
				Name:             parseName(p.Name),
				RequiredType:     rt,
				AutoCreated:      p.AutoCreated,
				Mandatory:        p.Mandatory,
				Protected:        p.Protected,
				Multiple:         p.Multiple,
				ValueConstraints: p.Constraints,
			})
		}
		for _, n := range t.Nodes {
			nd := nodetype.NodeDef{
				DeclaringType:          name,
				Name:                   parseName(n.Name),
				Mandatory:              n.Mandatory,
				AutoCreated:            n.AutoCreated,
				Protected:              n.Protected,
				AllowsSameNameSiblings: n.AllowsSameNameSiblings,
			}
			if n.DefaultPrimaryType != "" {
				nd.DefaultPrimaryType = parseName(n.DefaultPrimaryType)
			}
			for _, rt := range n.RequiredPrimaryTypes {
				nd.RequiredPrimaryTypes = append(nd.RequiredPrimaryTypes, parseName(rt))
			}
			d.NodeDefs = append(d.NodeDefs, nd)
		}
		defs = append(defs, d)
	}
	return defs, nil
}

// parseName splits a "prefix:local" or bare "local" built-in type name into
// a QualifiedName using the prefix directly as the namespace placeholder;
// the real namespace-registry mapping happens at the protocol boundary
// (spec §3), which built-in types are exempt from.
func parseName(s string) ids.QualifiedName {
	if s == ids.Residual {
		return ids.QualifiedName{Local: ids.Residual}
	}
	parts := strings.SplitN(s, ":", 2)
	if len(parts) == 2 {
		return ids.QualifiedName{Namespace: parts[0], Local: parts[1]}
	}
	return ids.QualifiedName{Local: s}
}
