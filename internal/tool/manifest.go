package tool

const (
	// ServerLabel identifies this tool server to agent clients.
	ServerLabel = "memvault-mcp"
	// ProtocolVersion is the manifest schema revision.
	ProtocolVersion = "2024-05-01"
)

func descriptor(name string, input, output map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"name":          name,
		"input_schema":  input,
		"output_schema": output,
	}
}

// Manifest describes the tool surface: names, JSON schemas, and the
// expected auth style. Built fresh per call so callers can mutate their
// copy freely.
func Manifest() map[string]interface{} {
	tools := []map[string]interface{}{
		descriptor(
			"memory.search",
			map[string]interface{}{
				"type":     "object",
				"required": []string{"query"},
				"properties": map[string]interface{}{
					"user_id": map[string]interface{}{"type": "string"},
					"query":   map[string]interface{}{"type": "string"},
					"limit":   map[string]interface{}{"type": "integer", "minimum": 1, "default": defaultSearchLimit},
				},
			},
			map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"user_id": map[string]interface{}{"type": "string"},
					"count":   map[string]interface{}{"type": "integer"},
					"results": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "object"}},
				},
			},
		),
		descriptor(
			"memory.get",
			map[string]interface{}{
				"type":     "object",
				"required": []string{"entry_id"},
				"properties": map[string]interface{}{
					"entry_id": map[string]interface{}{"type": "integer"},
				},
			},
			map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"entry": map[string]interface{}{"type": "object"},
				},
			},
		),
		descriptor(
			"memory.upsert",
			map[string]interface{}{
				"type":     "object",
				"required": []string{"entry"},
				"properties": map[string]interface{}{
					"entry": map[string]interface{}{"type": "object"},
				},
			},
			map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"entry_id": map[string]interface{}{"type": "integer"},
					"version":  map[string]interface{}{"type": "integer"},
				},
			},
		),
		descriptor(
			"memory.delete",
			map[string]interface{}{
				"type":     "object",
				"required": []string{"entry_id"},
				"properties": map[string]interface{}{
					"entry_id": map[string]interface{}{"type": "integer"},
					"version":  map[string]interface{}{"type": "integer"},
				},
			},
			map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"ok": map[string]interface{}{"type": "boolean"},
				},
			},
		),
		descriptor(
			"consent.grant",
			map[string]interface{}{
				"type":     "object",
				"required": []string{"user_id", "agent_identifier", "scopes", "sensitivity_levels"},
				"properties": map[string]interface{}{
					"user_id":            map[string]interface{}{"type": "string"},
					"agent_identifier":   map[string]interface{}{"type": "string"},
					"scopes":             map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
					"sensitivity_levels": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
				},
			},
			map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"consent_id": map[string]interface{}{"type": "integer"},
					"version":    map[string]interface{}{"type": "integer"},
				},
			},
		),
		descriptor(
			"consent.revoke",
			map[string]interface{}{
				"type":     "object",
				"required": []string{"consent_id"},
				"properties": map[string]interface{}{
					"consent_id": map[string]interface{}{"type": "integer"},
				},
			},
			map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"ok":     map[string]interface{}{"type": "boolean"},
					"status": map[string]interface{}{"type": "string"},
				},
			},
		),
	}

	return map[string]interface{}{
		"server_label":     ServerLabel,
		"protocol_version": ProtocolVersion,
		"tools":            tools,
		"auth":             map[string]interface{}{"type": "oauth2-bearer"},
	}
}
