package engine

// Evidence holds the immutable facts accumulated for one case: distinct
// recorded action tags and distinct uploaded document types.
type Evidence struct {
	Actions   map[string]struct{}
	Documents map[string]struct{}
}

// HasAction reports whether the action tag has been recorded for the case.
func (e Evidence) HasAction(tag string) bool {
	_, ok := e.Actions[tag]
	return ok
}

// HasDocument reports whether a document of the given type has been recorded.
func (e Evidence) HasDocument(docType string) bool {
	_, ok := e.Documents[docType]
	return ok
}

// Condition is a named blocking predicate over a case's evidence. It returns a
// block reason when the condition holds the step back, or "" when satisfied.
type Condition func(ev Evidence) string

// ConditionRegistry maps condition tags to predicates so templates can name
// new conditions without changes to the derivation walk.
type ConditionRegistry struct {
	conditions map[string]Condition
}

// NewConditionRegistry creates a registry pre-loaded with the built-in
// conditions used by the foreclosure stabilization template.
func NewConditionRegistry() *ConditionRegistry {
	r := &ConditionRegistry{conditions: make(map[string]Condition)}

	r.Register("requires_valid_contact_channel", func(ev Evidence) string {
		if !ev.HasAction("valid_contact_channel_verified") {
			return "missing_contact_channel"
		}
		return ""
	})
	r.Register("compliance_overdue", func(ev Evidence) string {
		if !ev.HasAction("compliance_current") {
			return "compliance_overdue"
		}
		return ""
	})
	return r
}

// Register adds or replaces a condition predicate.
func (r *ConditionRegistry) Register(tag string, fn Condition) {
	r.conditions[tag] = fn
}

// Evaluate runs the step's condition tags in order and returns the first block
// reason fired. Unknown tags are treated as satisfied: a template referring to
// a condition this build does not know about must not wedge the case.
func (r *ConditionRegistry) Evaluate(tags []string, ev Evidence) string {
	for _, tag := range tags {
		fn, ok := r.conditions[tag]
		if !ok {
			continue
		}
		if reason := fn(ev); reason != "" {
			return reason
		}
	}
	return ""
}
