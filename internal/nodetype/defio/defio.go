// Package defio encodes and decodes the custom node-type store's "named
// stream of definitions" (spec §6) as TOML documents, one table per
// definition with arrays of tables for property and child-node definitions.
// The persistent store treats this as an opaque blob; only this package
// understands its layout.
package defio

import (
	"bytes"
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/coralrepo/coral/internal/ids"
	"github.com/coralrepo/coral/internal/nodetype"
	"github.com/coralrepo/coral/internal/values"
)

type document struct {
	Types []typeDoc `toml:"type"`
}

type typeDoc struct {
	Namespace         string       `toml:"namespace"`
	Name              string       `toml:"name"`
	Supertypes        []string     `toml:"supertypes"`
	Mixin             bool         `toml:"mixin"`
	OrderableChildren bool         `toml:"orderable_children"`
	PrimaryItemName   string       `toml:"primary_item_name,omitempty"`
	Properties        []propDoc    `toml:"property"`
	Nodes             []nodeDoc    `toml:"node"`
}

type propDoc struct {
	Namespace    string   `toml:"namespace"`
	Name         string   `toml:"name"`
	RequiredType string   `toml:"required_type"`
	AutoCreated  bool     `toml:"auto_created"`
	Mandatory    bool     `toml:"mandatory"`
	Protected    bool     `toml:"protected"`
	Multiple     bool     `toml:"multiple"`
	Constraints  []string `toml:"constraints,omitempty"`
	Defaults     []string `toml:"defaults,omitempty"`
}

type nodeDoc struct {
	Namespace              string   `toml:"namespace"`
	Name                   string   `toml:"name"`
	DefaultPrimaryTypeNS   string   `toml:"default_primary_type_namespace,omitempty"`
	DefaultPrimaryType     string   `toml:"default_primary_type,omitempty"`
	RequiredPrimaryTypes   []string `toml:"required_primary_types,omitempty"`
	Mandatory              bool     `toml:"mandatory"`
	AutoCreated            bool     `toml:"auto_created"`
	Protected              bool     `toml:"protected"`
	AllowsSameNameSiblings bool     `toml:"allows_same_name_siblings"`
}

// Encode renders defs as a TOML document suitable for the persistent
// store's custom-definitions stream.
func Encode(defs []nodetype.Def) ([]byte, error) {
	doc := document{}
	for _, d := range defs {
		td := typeDoc{
			Namespace:         d.Name.Namespace,
			Name:              d.Name.Local,
			Mixin:             d.Mixin,
			OrderableChildren: d.OrderableChildren,
		}
		if d.PrimaryItemName.Local != "" {
			td.PrimaryItemName = d.PrimaryItemName.String()
		}
		for _, s := range d.Supertypes {
			td.Supertypes = append(td.Supertypes, s.String())
		}
		for _, p := range d.PropertyDefs {
			pd := propDoc{
				Namespace:    p.Name.Namespace,
				Name:         p.Name.Local,
				RequiredType: p.RequiredType.String(),
				AutoCreated:  p.AutoCreated,
				Mandatory:    p.Mandatory,
				Protected:    p.Protected,
				Multiple:     p.Multiple,
				Constraints:  p.ValueConstraints,
			}
			for _, dv := range p.DefaultValues {
				s, err := values.ConvertTo(dv, values.String)
				if err != nil {
					return nil, fmt.Errorf("encode default value for %s: %w", p.Name, err)
				}
				pd.Defaults = append(pd.Defaults, s.String())
			}
			td.Properties = append(td.Properties, pd)
		}
		for _, n := range d.NodeDefs {
			nd := nodeDoc{
				Namespace:              n.Name.Namespace,
				Name:                   n.Name.Local,
				DefaultPrimaryTypeNS:   n.DefaultPrimaryType.Namespace,
				DefaultPrimaryType:     n.DefaultPrimaryType.Local,
				Mandatory:              n.Mandatory,
				AutoCreated:            n.AutoCreated,
				Protected:              n.Protected,
				AllowsSameNameSiblings: n.AllowsSameNameSiblings,
			}
			for _, rt := range n.RequiredPrimaryTypes {
				nd.RequiredPrimaryTypes = append(nd.RequiredPrimaryTypes, rt.String())
			}
			td.Nodes = append(td.Nodes, nd)
		}
		doc.Types = append(doc.Types, td)
	}

	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode node-type definitions: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a TOML document produced by Encode.
func Decode(data []byte) ([]nodetype.Def, error) {
	var doc document
	if _, err := toml.Decode(string(data), &doc); err != nil {
		return nil, fmt.Errorf("decode node-type definitions: %w", err)
	}

	defs := make([]nodetype.Def, 0, len(doc.Types))
	for _, td := range doc.Types {
		name := ids.QualifiedName{Namespace: td.Namespace, Local: td.Name}
		d := nodetype.Def{
			Name:              name,
			Mixin:             td.Mixin,
			OrderableChildren: td.OrderableChildren,
		}
		for _, s := range td.Supertypes {
			d.Supertypes = append(d.Supertypes, parseQName(s))
		}
		for _, pd := range td.Properties {
			rt, err := values.ParseType(pd.RequiredType)
			if err != nil {
				return nil, fmt.Errorf("type %s property %s: %w", name, pd.Name, err)
			}
			propName := ids.QualifiedName{Namespace: pd.Namespace, Local: pd.Name}
			prop := nodetype.PropertyDef{
				DeclaringType:    name,
				Name:             propName,
				RequiredType:     rt,
				AutoCreated:      pd.AutoCreated,
				Mandatory:        pd.Mandatory,
				Protected:        pd.Protected,
				Multiple:         pd.Multiple,
				ValueConstraints: pd.Constraints,
			}
			for _, raw := range pd.Defaults {
				prop.DefaultValues = append(prop.DefaultValues, values.NewString(raw))
			}
			d.PropertyDefs = append(d.PropertyDefs, prop)
		}
		for _, nd := range td.Nodes {
			nodeName := ids.QualifiedName{Namespace: nd.Namespace, Local: nd.Name}
			n := nodetype.NodeDef{
				DeclaringType:          name,
				Name:                   nodeName,
				Mandatory:              nd.Mandatory,
				AutoCreated:            nd.AutoCreated,
				Protected:              nd.Protected,
				AllowsSameNameSiblings: nd.AllowsSameNameSiblings,
			}
			if nd.DefaultPrimaryType != "" {
				n.DefaultPrimaryType = ids.QualifiedName{Namespace: nd.DefaultPrimaryTypeNS, Local: nd.DefaultPrimaryType}
			}
			for _, rt := range nd.RequiredPrimaryTypes {
				n.RequiredPrimaryTypes = append(n.RequiredPrimaryTypes, parseQName(rt))
			}
			d.NodeDefs = append(d.NodeDefs, n)
		}
		defs = append(defs, d)
	}
	return defs, nil
}

func parseQName(s string) ids.QualifiedName {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return ids.QualifiedName{Namespace: s[:i], Local: s[i+1:]}
		}
	}
	return ids.QualifiedName{Local: s}
}
