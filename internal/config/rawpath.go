package config

import (
	"reflect"
	"strings"
)

// ParseConfigPath splits a dot-separated key such as "demos.aibi.agentId"
// and checks it against the yaml keys of Config.
func ParseConfigPath(raw string) ([]string, error) {
	if raw == "" {
		return nil, &ConfigError{Message: "empty config path"}
	}
	parts := strings.Split(raw, ".")
	for _, p := range parts {
		if p == "" {
			return nil, &ConfigError{Message: "config path contains empty segment: " + raw}
		}
	}

	t := reflect.TypeOf(Config{})
	for i, p := range parts {
		if t.Kind() != reflect.Struct {
			return nil, &ConfigError{Message: "config path goes below a value: " + strings.Join(parts[:i+1], ".")}
		}
		field, ok := yamlField(t, p)
		if !ok {
			return nil, &ConfigError{Message: "unknown config key: " + strings.Join(parts[:i+1], ".")}
		}
		t = field.Type
	}
	return parts, nil
}

func yamlField(t reflect.Type, key string) (reflect.StructField, bool) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == key {
			return f, true
		}
	}
	return reflect.StructField{}, false
}

// GetValueAtPath returns the value at path in a raw config map.
func GetValueAtPath(root map[string]any, path []string) (any, bool) {
	var current any = root
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		if current, ok = m[key]; !ok {
			return nil, false
		}
	}
	return current, true
}

// SetValueAtPath stores value at path, replacing non-map intermediates with
// maps.
func SetValueAtPath(root map[string]any, path []string, value any) {
	parent := root
	for _, key := range path[:len(path)-1] {
		child, ok := parent[key].(map[string]any)
		if !ok {
			child = map[string]any{}
			parent[key] = child
		}
		parent = child
	}
	parent[path[len(path)-1]] = value
}

// UnsetValueAtPath deletes the value at path and reports whether it existed.
// Sections left empty are removed too.
func UnsetValueAtPath(root map[string]any, path []string) bool {
	if len(path) == 1 {
		_, ok := root[path[0]]
		delete(root, path[0])
		return ok
	}
	child, ok := root[path[0]].(map[string]any)
	if !ok || !UnsetValueAtPath(child, path[1:]) {
		return false
	}
	if len(child) == 0 {
		delete(root, path[0])
	}
	return true
}
