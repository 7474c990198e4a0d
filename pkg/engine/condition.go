package engine

import (
	"fmt"
	"strings"
)

// evalCondition interprets a step condition against the accumulated run
// context. The language is deliberately small: empty or "true" always runs,
// "false" always skips, and "has:<key>" runs only when the key is already
// bound to an artifact.
func evalCondition(condition string, runContext map[string]string) (bool, error) {
	condition = strings.TrimSpace(condition)

	switch {
	case condition == "" || condition == "true":
		return true, nil
	case condition == "false":
		return false, nil
	case strings.HasPrefix(condition, "has:"):
		key := strings.TrimPrefix(condition, "has:")
		if key == "" {
			return false, fmt.Errorf("condition %q names no key", condition)
		}

		_, ok := runContext[key]

		return ok, nil
	default:
		return false, fmt.Errorf("unsupported condition %q", condition)
	}
}

// resolveRequires maps each required key to its artifact id. Keys resolve
// through the run context; a value carrying the artifact id prefix is taken
// literally. Any unresolvable entry fails resolution outright.
func resolveRequires(requires []string, runContext map[string]string) ([]string, error) {
	ids := make([]string, 0, len(requires))

	for _, required := range requires {
		if id, ok := runContext[required]; ok {
			ids = append(ids, id)
			continue
		}

		if strings.HasPrefix(required, "artifact-") {
			ids = append(ids, required)
			continue
		}

		return nil, fmt.Errorf("required artifact key %q is unresolved", required)
	}

	return ids, nil
}
