package tools

// Schema helpers for building JSON Schema definitions.

// ObjectSchema creates an object schema with the given properties.
func ObjectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// StringProperty creates a string property with optional description.
func StringProperty(description string) map[string]any {
	return map[string]any{
		"type":        "string",
		"description": description,
	}
}

// StringEnumProperty creates a string property with allowed values.
func StringEnumProperty(description string, values ...string) map[string]any {
	return map[string]any{
		"type":        "string",
		"description": description,
		"enum":        values,
	}
}

// NumberProperty creates a number property with optional description.
func NumberProperty(description string) map[string]any {
	return map[string]any{
		"type":        "number",
		"description": description,
	}
}

// Property renders a Param as a JSON Schema property.
func (p Param) Property() map[string]any {
	switch {
	case p.Type == TypeNumber:
		return NumberProperty(p.Description)
	case len(p.Enum) > 0:
		return StringEnumProperty(p.Description, p.Enum...)
	default:
		return StringProperty(p.Description)
	}
}

// Schema renders the full input schema of a tool definition.
func (d Definition) Schema() map[string]any {
	props := make(map[string]any, len(d.Params))
	for _, p := range d.Params {
		props[p.Name] = p.Property()
	}
	return ObjectSchema(props)
}
