package providers

// CleanSchemaForProvider sanitizes a JSON-schema tool parameter map for a
// specific provider's structured-output/tool-calling implementation.
// Anthropic and most OpenAI-compatible backends accept plain JSON Schema
// as-is; Gemini (served through the OpenAI-compatible endpoint) rejects a
// handful of keywords its translation layer doesn't understand. Rather
// than special-case every call site, every provider routes its outgoing
// tool schema through here so the exception list lives in one place.
func CleanSchemaForProvider(provider string, schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	if !isGeminiProvider(provider) {
		return schema
	}
	return cleanSchemaRecursive(schema)
}

// cleanSchemaRecursive strips keywords Gemini's JSON-schema subset doesn't
// support ("$schema", "additionalProperties", "exclusiveMinimum",
// "exclusiveMaximum" and "const", whatever their value) and descends into
// nested object/array schemas so deeply nested tool parameters are cleaned too.
func cleanSchemaRecursive(schema map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		switch k {
		case "$schema", "additionalProperties", "exclusiveMinimum", "exclusiveMaximum", "const":
			continue
		}
		switch val := v.(type) {
		case map[string]interface{}:
			out[k] = cleanSchemaRecursive(val)
		case []interface{}:
			out[k] = cleanSchemaSlice(val)
		default:
			out[k] = v
		}
	}
	return out
}

func cleanSchemaSlice(items []interface{}) []interface{} {
	out := make([]interface{}, len(items))
	for i, item := range items {
		if m, ok := item.(map[string]interface{}); ok {
			out[i] = cleanSchemaRecursive(m)
		} else {
			out[i] = item
		}
	}
	return out
}

// CleanToolSchemas translates a batch of generic ToolDefinitions into the
// OpenAI-compatible wire format, running each parameter schema through
// CleanSchemaForProvider.
func CleanToolSchemas(provider string, tools []ToolDefinition) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        t.Function.Name,
				"description": t.Function.Description,
				"parameters":  CleanSchemaForProvider(provider, t.Function.Parameters),
			},
		})
	}
	return out
}

func isGeminiProvider(provider string) bool {
	return containsFold(provider, "gemini")
}

func containsFold(s, substr string) bool {
	return len(s) >= len(substr) && indexFold(s, substr) >= 0
}

func indexFold(s, substr string) int {
	n, m := len(s), len(substr)
	if m == 0 {
		return 0
	}
	for i := 0; i+m <= n; i++ {
		if equalFold(s[i:i+m], substr) {
			return i
		}
	}
	return -1
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
