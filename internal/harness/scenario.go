package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a blueprint test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario; it names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Blueprints lists .cue or .json files to load. LoadScenario resolves
	// relative paths against the scenario file's directory.
	Blueprints []string `yaml:"blueprints"`

	// Automata are created in order before the flow runs.
	Automata []AutomataSpec `yaml:"automata"`

	// Flow contains the steps to execute.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// AutomataSpec declares a named automata.
type AutomataSpec struct {
	// Name is how flow steps and assertions refer to the automata.
	Name string `yaml:"name"`

	// Blueprint is the label of a loaded blueprint.
	Blueprint string `yaml:"blueprint"`

	// InitialState overrides the blueprint's initial state.
	InitialState map[string]any `yaml:"initial_state,omitempty"`

	// Owner is the owning account. Default: "account-1".
	Owner string `yaml:"owner,omitempty"`
}

// FlowStep is one action. Exactly one of Submit, Archive, Unarchive,
// Subscribe and Unsubscribe names the target automata.
type FlowStep struct {
	Submit      string `yaml:"submit,omitempty"`
	Archive     string `yaml:"archive,omitempty"`
	Unarchive   string `yaml:"unarchive,omitempty"`
	Subscribe   string `yaml:"subscribe,omitempty"`
	Unsubscribe string `yaml:"unsubscribe,omitempty"`

	// Event and Data describe the submitted event.
	Event string         `yaml:"event,omitempty"`
	Data  map[string]any `yaml:"data,omitempty"`

	// Version is the expected version of a submit. Default: current.
	Version string `yaml:"version,omitempty"`

	// Expect validates the step's outcome. If nil, the step must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Committed defaults to true for a submit with no Error.
	Committed *bool `yaml:"committed,omitempty"`

	// Version is the automata version after the step.
	Version string `yaml:"version,omitempty"`

	// State is a subset match on the state after the step.
	State map[string]any `yaml:"state,omitempty"`

	// Error is the expected engine error code, e.g. AUTOMATA_ARCHIVED.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates the final outcome.
type Assertion struct {
	Type     string         `yaml:"type"`
	Automata string         `yaml:"automata"`
	Expect   map[string]any `yaml:"expect,omitempty"`
	Count    int            `yaml:"count,omitempty"`
	Events   []string       `yaml:"events,omitempty"`
	Status   string         `yaml:"status,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalState = "final_state"
	AssertEventCount = "event_count"
	AssertEventOrder = "event_order"
	AssertUpdates    = "updates"
	AssertConsistent = "consistent"
	AssertStatus     = "status"
)

// kind returns the step kind and its target automata.
func (s FlowStep) kind() (string, string) {
	switch {
	case s.Submit != "":
		return StepSubmit, s.Submit
	case s.Archive != "":
		return StepArchive, s.Archive
	case s.Unarchive != "":
		return StepUnarchive, s.Unarchive
	case s.Subscribe != "":
		return StepSubscribe, s.Subscribe
	case s.Unsubscribe != "":
		return StepUnsubscribe, s.Unsubscribe
	}
	return "", ""
}

// targets counts how many step kinds are set.
func (s FlowStep) targets() int {
	n := 0
	for _, t := range []string{s.Submit, s.Archive, s.Unarchive, s.Subscribe, s.Unsubscribe} {
		if t != "" {
			n++
		}
	}
	return n
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	for i, p := range scenario.Blueprints {
		if !filepath.IsAbs(p) {
			scenario.Blueprints[i] = filepath.Join(base, p)
		}
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML. Blueprint paths are left as written.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks required fields and cross references.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if len(s.Blueprints) == 0 {
		return errors.New("at least one blueprint file is required")
	}
	if len(s.Automata) == 0 {
		return errors.New("at least one automata is required")
	}

	names := make(map[string]bool, len(s.Automata))
	for i, a := range s.Automata {
		if a.Name == "" {
			return fmt.Errorf("automata[%d]: name is required", i)
		}
		if a.Blueprint == "" {
			return fmt.Errorf("automata[%d]: blueprint is required", i)
		}
		if names[a.Name] {
			return fmt.Errorf("automata[%d]: duplicate name %q", i, a.Name)
		}
		names[a.Name] = true
	}

	for i, step := range s.Flow {
		if n := step.targets(); n != 1 {
			return fmt.Errorf("flow[%d]: exactly one of submit, archive, unarchive, subscribe, unsubscribe is required, got %d", i, n)
		}
		kind, target := step.kind()
		if !names[target] {
			return fmt.Errorf("flow[%d]: unknown automata %q", i, target)
		}
		if kind == StepSubmit && step.Event == "" {
			return fmt.Errorf("flow[%d]: event is required for submit", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a, i, names); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(a Assertion, index int, names map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if !names[a.Automata] {
		return fmt.Errorf("assertions[%d]: unknown automata %q", index, a.Automata)
	}

	switch a.Type {
	case AssertFinalState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertEventCount, AssertUpdates:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertEventOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for event_order", index)
		}
	case AssertStatus:
		if a.Status == "" {
			return fmt.Errorf("assertions[%d]: status is required for status", index)
		}
	case AssertConsistent:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
