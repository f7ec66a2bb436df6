// Package replay runs scripted transactions against a TransactionManager.
//
// Scripts are YAML documents listing transactions and their operations.
// Elements created by the script are named with ref and referred to by that
// name later on; a name that was never defined is used as a literal ID.
//
// The optional seed section is bulk loaded into the engine before the first
// transaction. Commit handlers never see it.
//
//	seed:
//	  nodes:
//	    - {ref: acme, labels: [Company]}
//	transactions:
//	  - name: people
//	    ops:
//	      - {op: create_node, ref: alice, labels: [Person], properties: {name: Alice}}
//	      - {op: create_node, ref: bob, labels: [Person]}
//	      - {op: create_relationship, ref: knows, from: alice, to: bob, type: KNOWS}
//	  - name: cleanup
//	    ops:
//	      - {op: set_property, ref: knows, key: since, value: 2020}
//	      - {op: delete_node, ref: bob}
//	      - {op: delete_relationship, from: alice, to: acme, type: WORKS_AT}
package replay

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Operation names.
const (
	OpCreateNode         = "create_node"
	OpSetProperty        = "set_property"
	OpRemoveProperty     = "remove_property"
	OpAddLabel           = "add_label"
	OpRemoveLabel        = "remove_label"
	OpCreateRelationship = "create_relationship"
	OpDeleteNode         = "delete_node"
	OpDeleteRelationship = "delete_relationship"
	OpRollback           = "rollback"
)

// ErrInvalidScript is returned for scripts that cannot be run.
var ErrInvalidScript = errors.New("invalid script")

// Script is a sequence of transactions.
type Script struct {
	Seed         *Seed         `yaml:"seed"`
	Transactions []Transaction `yaml:"transactions"`
}

// Seed is data written straight to the engine. A node without ref gets a
// random ID; a node with one is stored under it.
type Seed struct {
	Nodes         []SeedNode         `yaml:"nodes"`
	Relationships []SeedRelationship `yaml:"relationships"`
}

type SeedNode struct {
	Ref        string         `yaml:"ref"`
	Labels     []string       `yaml:"labels"`
	Properties map[string]any `yaml:"properties"`
}

type SeedRelationship struct {
	Ref        string         `yaml:"ref"`
	From       string         `yaml:"from"`
	To         string         `yaml:"to"`
	Type       string         `yaml:"type"`
	Properties map[string]any `yaml:"properties"`
}

// Transaction is one transaction of a script. It commits after its last
// operation unless it contains a rollback.
type Transaction struct {
	Name string `yaml:"name"`
	Ops  []Op   `yaml:"ops"`
}

// Op is one write. Which fields apply depends on Op.
type Op struct {
	Op         string         `yaml:"op"`
	Ref        string         `yaml:"ref"`
	Labels     []string       `yaml:"labels"`
	Label      string         `yaml:"label"`
	Properties map[string]any `yaml:"properties"`
	Key        string         `yaml:"key"`
	Value      any            `yaml:"value"`
	From       string         `yaml:"from"`
	To         string         `yaml:"to"`
	Type       string         `yaml:"type"`
}

// Parse decodes and validates a script.
func Parse(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadFile reads and parses the script at path.
func LoadFile(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return Parse(data)
}

// Validate checks that every operation carries the fields it needs.
func (s *Script) Validate() error {
	if len(s.Transactions) == 0 {
		return fmt.Errorf("%w: no transactions", ErrInvalidScript)
	}
	if s.Seed != nil {
		for i, rel := range s.Seed.Relationships {
			if rel.From == "" || rel.To == "" || rel.Type == "" {
				return fmt.Errorf("%w: seed relationship %d needs from, to and type", ErrInvalidScript, i+1)
			}
		}
	}
	for i, tx := range s.Transactions {
		for j, op := range tx.Ops {
			if err := op.validate(); err != nil {
				return fmt.Errorf("%w: transaction %d op %d: %v", ErrInvalidScript, i+1, j+1, err)
			}
		}
	}
	return nil
}

func (o Op) validate() error {
	switch o.Op {
	case OpCreateNode, OpRollback:
		return nil
	case OpSetProperty:
		if o.Ref == "" || o.Key == "" {
			return fmt.Errorf("%s needs ref and key", o.Op)
		}
		if o.Value == nil {
			return fmt.Errorf("%s needs a value", o.Op)
		}
	case OpRemoveProperty:
		if o.Ref == "" || o.Key == "" {
			return fmt.Errorf("%s needs ref and key", o.Op)
		}
	case OpAddLabel, OpRemoveLabel:
		if o.Ref == "" || o.Label == "" {
			return fmt.Errorf("%s needs ref and label", o.Op)
		}
	case OpCreateRelationship:
		if o.From == "" || o.To == "" || o.Type == "" {
			return fmt.Errorf("%s needs from, to and type", o.Op)
		}
	case OpDeleteNode:
		if o.Ref == "" {
			return fmt.Errorf("%s needs ref", o.Op)
		}
	case OpDeleteRelationship:
		if o.Ref == "" && (o.From == "" || o.To == "") {
			return fmt.Errorf("%s needs ref, or from and to", o.Op)
		}
	case "":
		return errors.New("missing op")
	default:
		return fmt.Errorf("unknown op %q", o.Op)
	}
	return nil
}
