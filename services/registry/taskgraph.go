package registry

import (
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

// Payload conventions for the kinds that carry structured content:
//
//   - plugin payloads hold "files": a list of {"filename": ..., "contents": ...}
//     where contents is YAML declaring a top-level "tasks" mapping;
//   - entrypoint payloads hold "task_graph": a YAML string whose top-level
//     keys are step identifiers.
//
// Task and step names follow the identifier rule: a letter or underscore
// followed by letters, digits, or underscores.

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether s satisfies the identifier rule.
func ValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// ParseTaskGraph parses an entrypoint task graph and returns its step names
// sorted lexically. The graph must be a YAML mapping with identifier keys.
func ParseTaskGraph(src string) ([]string, error) {
	if src == "" {
		return nil, fmt.Errorf("%w: task graph is empty", ErrValidation)
	}

	var graph map[string]any
	if err := yaml.Unmarshal([]byte(src), &graph); err != nil {
		return nil, fmt.Errorf("%w: task graph: %v", ErrValidation, err)
	}
	if len(graph) == 0 {
		return nil, fmt.Errorf("%w: task graph declares no steps", ErrValidation)
	}

	steps := make([]string, 0, len(graph))
	for name := range graph {
		if !ValidIdentifier(name) {
			return nil, fmt.Errorf("%w: step name %q is not a valid identifier", ErrValidation, name)
		}
		steps = append(steps, name)
	}
	sort.Strings(steps)
	return steps, nil
}

type pluginFile struct {
	Filename string `yaml:"filename" json:"filename"`
	Contents string `yaml:"contents" json:"contents"`
}

// PluginTaskNames extracts the task names declared across a plugin payload's
// files, sorted lexically. Every file must parse as a YAML mapping with a
// top-level "tasks" mapping.
func PluginTaskNames(payload map[string]any) ([]string, error) {
	files, err := pluginFilesFromPayload(payload)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var names []string
	for _, f := range files {
		tasks, err := pluginFileTasks(f)
		if err != nil {
			return nil, err
		}
		for name := range tasks {
			if !ValidIdentifier(name) {
				return nil, fmt.Errorf("%w: task name %q in %q is not a valid identifier", ErrValidation, name, f.Filename)
			}
			if _, dup := seen[name]; dup {
				return nil, fmt.Errorf("%w: task name %q declared more than once", ErrValidation, name)
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func pluginFileTasks(f pluginFile) (map[string]any, error) {
	var doc map[string]any
	if err := yaml.Unmarshal([]byte(f.Contents), &doc); err != nil {
		return nil, fmt.Errorf("%w: plugin file %q: %v", ErrValidation, f.Filename, err)
	}
	raw, ok := doc["tasks"]
	if !ok {
		return nil, fmt.Errorf("%w: plugin file %q declares no \"tasks\" mapping", ErrValidation, f.Filename)
	}
	if raw == nil {
		return nil, nil
	}
	tasks, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: plugin file %q field \"tasks\" must be a mapping", ErrValidation, f.Filename)
	}
	return tasks, nil
}

func pluginFilesFromPayload(payload map[string]any) ([]pluginFile, error) {
	raw, ok := payload["files"]
	if !ok {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: plugin payload field \"files\" must be a list", ErrValidation)
	}

	files := make([]pluginFile, 0, len(list))
	for i, entry := range list {
		m, ok := entry.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: plugin file %d must be a mapping", ErrValidation, i)
		}
		filename, _ := m["filename"].(string)
		contents, _ := m["contents"].(string)
		if filename == "" {
			return nil, fmt.Errorf("%w: plugin file %d is missing a filename", ErrValidation, i)
		}
		files = append(files, pluginFile{Filename: filename, Contents: contents})
	}
	return files, nil
}

// validatePayload enforces the kind-specific payload rules applied on every
// create and commit.
func validatePayload(kind Kind, payload map[string]any) error {
	switch kind {
	case KindPlugin:
		_, err := PluginTaskNames(payload)
		return err
	case KindEntrypoint:
		raw, ok := payload["task_graph"]
		if !ok {
			return nil
		}
		src, ok := raw.(string)
		if !ok {
			return fmt.Errorf("%w: entrypoint payload field \"task_graph\" must be a string", ErrValidation)
		}
		_, err := ParseTaskGraph(src)
		return err
	default:
		return nil
	}
}

// taskNamesForTarget returns the selectable sub-entities of a bound target:
// task names for plugins, step names for entrypoints. Other kinds expose
// none.
func taskNamesForTarget(kind Kind, payload map[string]any) ([]string, error) {
	switch kind {
	case KindPlugin:
		return PluginTaskNames(payload)
	case KindEntrypoint:
		raw, ok := payload["task_graph"].(string)
		if !ok || raw == "" {
			return nil, nil
		}
		return ParseTaskGraph(raw)
	default:
		return nil, nil
	}
}

func containsName(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}
