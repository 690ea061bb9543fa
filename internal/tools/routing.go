package tools

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed routing.yaml
var defaultRouting []byte

type (
	// Routing is the declarative query-to-tool policy.
	Routing struct {
		Scope         []string            `yaml:"scope"`
		Intents       Intents             `yaml:"intents"`
		Kinds         map[string][]string `yaml:"kinds"`
		Amount        AmountWords         `yaml:"amount"`
		RelativeDates map[string][]string `yaml:"relative_dates"`
		Decline       string              `yaml:"decline"`
		ExampleDate   string              `yaml:"example_date"`
		Examples      []Example           `yaml:"examples"`
	}

	// Intents maps phrases to a reduction.
	Intents struct {
		Count []string `yaml:"count"`
		Sum   []string `yaml:"sum"`
	}

	// AmountWords are the phrases introducing amount bounds.
	AmountWords struct {
		Min     []string `yaml:"min"`
		Max     []string `yaml:"max"`
		Between []string `yaml:"between"`
	}

	// Example is one documented query and the call it must route to.
	Example struct {
		Query string         `yaml:"query"`
		Tool  string         `yaml:"tool"`
		Args  map[string]any `yaml:"args"`
	}
)

// Relative date keys understood by the rules engine.
var relativeDateKeys = []string{"today", "yesterday", "this_month", "last_month", "this_year", "last_year"}

// DefaultRouting returns the embedded routing policy.
func DefaultRouting() *Routing {
	r, err := ParseRouting(defaultRouting)
	if err != nil {
		panic(fmt.Sprintf("embedded routing.yaml is invalid: %v", err))
	}
	return r
}

// LoadRouting reads a routing file, or the embedded policy when path is empty.
func LoadRouting(path string) (*Routing, error) {
	if path == "" {
		return DefaultRouting(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routing file: %w", err)
	}
	return ParseRouting(data)
}

// ParseRouting decodes and validates routing YAML.
func ParseRouting(data []byte) (*Routing, error) {
	var r Routing
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode routing: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks that the policy only refers to known tools, parameters and kinds.
func (r *Routing) Validate() error {
	var errs []error

	if len(r.Intents.Count) == 0 || len(r.Intents.Sum) == 0 {
		errs = append(errs, errors.New("intents.count and intents.sum must not be empty"))
	}
	for k := range r.Kinds {
		if k != "credit" && k != "debit" {
			errs = append(errs, fmt.Errorf("unknown kind %q", k))
		}
	}
	for k := range r.RelativeDates {
		known := false
		for _, rk := range relativeDateKeys {
			if rk == k {
				known = true
				break
			}
		}
		if !known {
			errs = append(errs, fmt.Errorf("unknown relative date %q", k))
		}
	}

	catalog := NewCatalog(nil)
	for i, ex := range r.Examples {
		def, ok := catalog.Lookup(ex.Tool)
		if !ok {
			errs = append(errs, fmt.Errorf("example %d: unknown tool %q", i, ex.Tool))
			continue
		}
		if _, err := DecodeArgs(def, ex.Args); err != nil {
			errs = append(errs, fmt.Errorf("example %d: %w", i, err))
		}
	}

	return errors.Join(errs...)
}
