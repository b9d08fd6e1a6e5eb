package main

// Argument types for MCP tools, decoded from the raw tool arguments.
// Pointer types are optional.

type snapshotsListInput struct {
	ProjectID   *int64  `json:"project_id,omitempty"`
	RegionIndex *int64  `json:"region_index,omitempty"`
	From        *string `json:"from,omitempty"`
	To          *string `json:"to,omitempty"`
	Limit       *int    `json:"limit,omitempty"`
}

type runsRecentInput struct {
	Limit *int `json:"limit,omitempty"`
}

type syncNowInput struct {
	DaysBack *int `json:"days_back,omitempty"`
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
