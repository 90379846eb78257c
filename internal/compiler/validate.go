package compiler

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/automata/internal/ir"
	"github.com/roach88/automata/internal/transition"
)

// Validation error codes (E100-E199)
const (
	// Identity errors (E101-E103)
	ErrAppIDEmpty    = "E101" // app_id is required
	ErrNameEmpty     = "E102" // name is required
	ErrBareBuiltin   = "E103" // app_id has the builtin prefix but no name after it

	// Event errors (E110-E119)
	ErrNoEvents         = "E110" // at least one event type required
	ErrInvalidEventType = "E111" // event type name is malformed
	ErrInvalidSchema    = "E112" // schema is not a JSON object
	ErrSchemaNotObject  = "E113" // schema does not describe an object

	// Transition errors (E120-E129)
	ErrTransitionEmpty   = "E120" // transition is required
	ErrTransitionInvalid = "E121" // transition does not parse
)

// ValidationError represents a blueprint validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

var eventTypePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.:-]*$`)

// Validate checks blueprint content against the authoring rules.
// Returns all errors found (does not fail-fast).
//
// It is a static check: schemas are checked for shape, not compiled, and
// the transition is parsed but not type-checked. The engine performs the
// full check on create.
func Validate(c ir.BlueprintContent) []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(c.AppID) == "" {
		errs = append(errs, ValidationError{
			Field:   "app_id",
			Message: "app_id is required and must be non-empty",
			Code:    ErrAppIDEmpty,
		})
	} else if c.AppID == ir.BuiltinNamespace {
		errs = append(errs, ValidationError{
			Field:   "app_id",
			Message: fmt.Sprintf("%q needs an app name after the prefix", ir.BuiltinNamespace),
			Code:    ErrBareBuiltin,
		})
	}

	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: "name is required and must be non-empty",
			Code:    ErrNameEmpty,
		})
	}

	errs = append(errs, validateSchema("state_schema", c.StateSchema)...)

	if len(c.EventSchemas) == 0 {
		errs = append(errs, ValidationError{
			Field:   "events",
			Message: "at least one event type is required",
			Code:    ErrNoEvents,
		})
	}
	for _, t := range c.EventTypes() {
		field := "events." + t
		if !eventTypePattern.MatchString(t) {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("invalid event type %q", t),
				Code:    ErrInvalidEventType,
			})
		}
		errs = append(errs, validateSchema(field, c.EventSchemas[t])...)
	}

	if strings.TrimSpace(c.Transition) == "" {
		errs = append(errs, ValidationError{
			Field:   "transition",
			Message: "transition is required and must be non-empty",
			Code:    ErrTransitionEmpty,
		})
	} else if _, err := transition.ReferencedEventTypes(c.Transition); err != nil {
		errs = append(errs, ValidationError{
			Field:   "transition",
			Message: err.Error(),
			Code:    ErrTransitionInvalid,
		})
	}

	return errs
}

// validateSchema checks a schema document is a JSON object whose type, if
// given, is "object". An absent schema is allowed.
func validateSchema(field string, raw json.RawMessage) []ValidationError {
	if len(raw) == 0 {
		return nil
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		return []ValidationError{{
			Field:   field,
			Message: "schema must be a JSON object",
			Code:    ErrInvalidSchema,
		}}
	}

	typ, ok := doc["type"]
	if !ok {
		return nil
	}
	if s, isString := typ.(string); !isString || s != "object" {
		return []ValidationError{{
			Field:   field,
			Message: fmt.Sprintf("schema type must be \"object\", got %v", typ),
			Code:    ErrSchemaNotObject,
		}}
	}
	return nil
}
