package model

// NavigationTree is the dashboard menu for one user.
type NavigationTree struct {
	Items []NavigationNode `json:"items"`
}

// NavigationNode is one dashboard module entry.
type NavigationNode struct {
	ID    string           `json:"id"`
	Label string           `json:"label"`
	Icon  string           `json:"icon,omitempty"`
	Route string           `json:"route"`
	Order int              `json:"order"`
	Badge *BadgeDescriptor `json:"badge,omitempty"`
}

// BadgeDescriptor is a count shown next to a menu entry.
type BadgeDescriptor struct {
	Count int    `json:"count"`
	Style string `json:"style,omitempty"`
}

// LookupOption is one entry of a reference list.
type LookupOption struct {
	Label string         `json:"label"`
	Value string         `json:"value"`
	Extra map[string]any `json:"extra,omitempty"`
}

// LookupResponse wraps a lookup result.
type LookupResponse struct {
	Options []LookupOption `json:"options"`
	Cached  bool           `json:"cached"`
}
