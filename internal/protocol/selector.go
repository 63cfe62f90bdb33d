package protocol

// Selector is the attribute bundle used to re-locate a UI element for
// interaction. Attribute reliability, highest first: resource id, text,
// content description, class name. Bounds are included only when the box
// has positive area. A selector is never empty: when no attribute
// qualifies, Fallback is set so downstream execution can still attempt a
// best-effort match.
type Selector struct {
	ResourceID         string  `json:"resourceId,omitempty"`
	Text               string  `json:"text,omitempty"`
	ContentDescription string  `json:"contentDescription,omitempty"`
	ClassName          string  `json:"className,omitempty"`
	Bounds             *Bounds `json:"bounds,omitempty"`
	Fallback           bool    `json:"fallback,omitempty"`
}

// Empty reports whether no locating attribute is present. Fallback does not
// count: it is the marker emitted when everything else is missing.
func (s Selector) Empty() bool {
	return s.ResourceID == "" && s.Text == "" && s.ContentDescription == "" &&
		s.ClassName == "" && s.Bounds == nil
}

// Improved returns the narrowest reliable selector for click execution:
// resource id alone if present, else text alone, else content description
// alone, else the full selector with any invalid bounds stripped.
func (s Selector) Improved() Selector {
	switch {
	case s.ResourceID != "":
		return Selector{ResourceID: s.ResourceID}
	case s.Text != "":
		return Selector{Text: s.Text}
	case s.ContentDescription != "":
		return Selector{ContentDescription: s.ContentDescription}
	}
	if s.Bounds != nil && !s.Bounds.Valid() {
		s.Bounds = nil
	}
	return s
}

// SynthesizeSelector builds a selector for a UI node. The result is never
// empty.
func SynthesizeSelector(n *UINode) Selector {
	sel := Selector{
		ResourceID:         n.ResourceID,
		Text:               n.Text,
		ContentDescription: n.ContentDescription,
		ClassName:          n.ClassName,
	}
	if n.Bounds != nil && n.Bounds.Valid() {
		b := *n.Bounds
		sel.Bounds = &b
	}
	if sel.Empty() {
		sel.Fallback = true
	}
	return sel
}
