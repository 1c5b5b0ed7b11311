package collab

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/canvas/internal/canvas"
	"github.com/mattbaird/jsonpatch"
)

const (
	patchAdd     = "add"
	patchRemove  = "remove"
	patchReplace = "replace"
)

var (
	errPatchPath      = errors.New("collab: invalid patch path")
	errPatchOperation = errors.New("collab: unsupported patch operation")
)

var pointerDecoder = strings.NewReplacer("~1", "/", "~0", "~")

// documentPatch diffs two documents into RFC 6902 operations that apply in
// sequence. When the diff cannot reproduce after, a single root replace is
// returned instead.
func documentPatch(before, after canvas.Document) ([]jsonpatch.JsonPatchOperation, error) {
	beforeJSON, err := json.Marshal(before)
	if err != nil {
		return nil, err
	}
	afterJSON, err := json.Marshal(after)
	if err != nil {
		return nil, err
	}
	operations, err := jsonpatch.CreatePatch(beforeJSON, afterJSON)
	if err != nil {
		return nil, err
	}
	operations = orderRemovals(operations)

	var source, target any
	if err := json.Unmarshal(beforeJSON, &source); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(afterJSON, &target); err != nil {
		return nil, err
	}
	if applied, applyErr := applyPatch(source, operations); applyErr == nil && reflect.DeepEqual(applied, target) {
		return operations, nil
	}
	return []jsonpatch.JsonPatchOperation{jsonpatch.NewPatch(patchReplace, "", target)}, nil
}

// orderRemovals reverses each run of removals under the same parent, so
// array indexes are removed from the highest down.
func orderRemovals(operations []jsonpatch.JsonPatchOperation) []jsonpatch.JsonPatchOperation {
	ordered := slices.Clone(operations)
	for start := 0; start < len(ordered); {
		if ordered[start].Operation != patchRemove {
			start++
			continue
		}
		parent := parentPath(ordered[start].Path)
		end := start + 1
		for end < len(ordered) && ordered[end].Operation == patchRemove && parentPath(ordered[end].Path) == parent {
			end++
		}
		slices.Reverse(ordered[start:end])
		start = end
	}
	return ordered
}

func parentPath(path string) string {
	if index := strings.LastIndex(path, "/"); index >= 0 {
		return path[:index]
	}
	return ""
}

// applyPatch applies add, remove and replace operations to a decoded JSON
// value. The value is modified in place.
func applyPatch(document any, operations []jsonpatch.JsonPatchOperation) (any, error) {
	for _, operation := range operations {
		tokens, err := pointerTokens(operation.Path)
		if err != nil {
			return nil, err
		}
		if len(tokens) == 0 {
			if operation.Operation != patchAdd && operation.Operation != patchReplace {
				return nil, fmt.Errorf("%w: %s on document root", errPatchOperation, operation.Operation)
			}
			document = operation.Value
			continue
		}
		document, err = applyAt(document, tokens, operation)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", operation.Operation, operation.Path, err)
		}
	}
	return document, nil
}

func pointerTokens(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("%w: %q", errPatchPath, path)
	}
	tokens := strings.Split(path[1:], "/")
	for index, token := range tokens {
		tokens[index] = pointerDecoder.Replace(token)
	}
	return tokens, nil
}

func applyAt(node any, tokens []string, operation jsonpatch.JsonPatchOperation) (any, error) {
	key, last := tokens[0], len(tokens) == 1
	switch container := node.(type) {
	case map[string]any:
		child, exists := container[key]
		if !last {
			if !exists {
				return nil, fmt.Errorf("%w: missing member %q", errPatchPath, key)
			}
			updated, err := applyAt(child, tokens[1:], operation)
			if err != nil {
				return nil, err
			}
			container[key] = updated
			return container, nil
		}
		switch operation.Operation {
		case patchAdd:
			container[key] = operation.Value
		case patchReplace, patchRemove:
			if !exists {
				return nil, fmt.Errorf("%w: missing member %q", errPatchPath, key)
			}
			if operation.Operation == patchRemove {
				delete(container, key)
			} else {
				container[key] = operation.Value
			}
		default:
			return nil, fmt.Errorf("%w: %s", errPatchOperation, operation.Operation)
		}
		return container, nil

	case []any:
		if last && operation.Operation == patchAdd && key == "-" {
			return append(container, operation.Value), nil
		}
		index, err := strconv.Atoi(key)
		upper := len(container)
		if last && operation.Operation == patchAdd {
			upper++
		}
		if err != nil || index < 0 || index >= upper {
			return nil, fmt.Errorf("%w: index %q out of range for array of length %d", errPatchPath, key, len(container))
		}
		if !last {
			updated, err := applyAt(container[index], tokens[1:], operation)
			if err != nil {
				return nil, err
			}
			container[index] = updated
			return container, nil
		}
		switch operation.Operation {
		case patchAdd:
			return slices.Insert(container, index, operation.Value), nil
		case patchReplace:
			container[index] = operation.Value
			return container, nil
		case patchRemove:
			return slices.Delete(container, index, index+1), nil
		default:
			return nil, fmt.Errorf("%w: %s", errPatchOperation, operation.Operation)
		}

	default:
		return nil, fmt.Errorf("%w: %q does not address a container", errPatchPath, key)
	}
}
