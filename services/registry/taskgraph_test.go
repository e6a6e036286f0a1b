package registry

import (
	"errors"
	"reflect"
	"testing"
)

func TestValidIdentifier(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{name: "simple", input: "evaluate", want: true},
		{name: "leading underscore", input: "_hidden", want: true},
		{name: "digits after first", input: "step2", want: true},
		{name: "empty", input: "", want: false},
		{name: "leading digit", input: "2step", want: false},
		{name: "hyphen", input: "run-model", want: false},
		{name: "space", input: "run model", want: false},
		{name: "dot", input: "pkg.task", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidIdentifier(tt.input); got != tt.want {
				t.Fatalf("ValidIdentifier(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseTaskGraph(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{
			name:  "two steps sorted",
			input: "train:\n  plugin: trainer\nevaluate:\n  plugin: scorer\n",
			want:  []string{"evaluate", "train"},
		},
		{
			name:    "empty graph",
			input:   "",
			wantErr: true,
		},
		{
			name:    "no steps",
			input:   "{}",
			wantErr: true,
		},
		{
			name:    "invalid step name",
			input:   "bad-step:\n  plugin: x\n",
			wantErr: true,
		},
		{
			name:    "not yaml",
			input:   "::::",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTaskGraph(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTaskGraph() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseTaskGraph() error = %v, want ErrValidation", err)
				}
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("ParseTaskGraph() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPluginTaskNames(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		want    []string
		wantErr bool
	}{
		{
			name: "tasks across files",
			payload: map[string]any{
				"files": []any{
					map[string]any{"filename": "attacks.py", "contents": "tasks:\n  fgsm:\n    inputs: []\n"},
					map[string]any{"filename": "metrics.py", "contents": "tasks:\n  accuracy: {}\n  precision: {}\n"},
				},
			},
			want: []string{"accuracy", "fgsm", "precision"},
		},
		{
			name:    "no files key",
			payload: map[string]any{},
			want:    nil,
		},
		{
			name: "duplicate task name",
			payload: map[string]any{
				"files": []any{
					map[string]any{"filename": "a.py", "contents": "tasks:\n  fgsm: {}\n"},
					map[string]any{"filename": "b.py", "contents": "tasks:\n  fgsm: {}\n"},
				},
			},
			wantErr: true,
		},
		{
			name: "invalid task name",
			payload: map[string]any{
				"files": []any{
					map[string]any{"filename": "a.py", "contents": "tasks:\n  bad-name: {}\n"},
				},
			},
			wantErr: true,
		},
		{
			name: "file without tasks mapping",
			payload: map[string]any{
				"files": []any{
					map[string]any{"filename": "a.py", "contents": "helpers:\n  clamp: {}\n"},
				},
			},
			wantErr: true,
		},
		{
			name: "tasks not a mapping",
			payload: map[string]any{
				"files": []any{
					map[string]any{"filename": "a.py", "contents": "tasks:\n  - fgsm\n"},
				},
			},
			wantErr: true,
		},
		{
			name: "unparseable contents",
			payload: map[string]any{
				"files": []any{
					map[string]any{"filename": "a.py", "contents": "\t:::"},
				},
			},
			wantErr: true,
		},
		{
			name: "empty tasks mapping",
			payload: map[string]any{
				"files": []any{
					map[string]any{"filename": "a.py", "contents": "tasks:\n"},
				},
			},
			want: nil,
		},
		{
			name: "files not a list",
			payload: map[string]any{
				"files": "nope",
			},
			wantErr: true,
		},
		{
			name: "file missing filename",
			payload: map[string]any{
				"files": []any{
					map[string]any{"contents": "tasks: {}"},
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PluginTaskNames(tt.payload)
			if (err != nil) != tt.wantErr {
				t.Fatalf("PluginTaskNames() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("PluginTaskNames() error = %v, want ErrValidation", err)
				}
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("PluginTaskNames() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidatePayload(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		payload map[string]any
		wantErr bool
	}{
		{
			name: "queue payload unconstrained",
			kind: KindQueue,
			payload: map[string]any{
				"anything": "goes",
			},
		},
		{
			name: "entrypoint without task graph",
			kind: KindEntrypoint,
			payload: map[string]any{
				"parameters": []any{},
			},
		},
		{
			name: "entrypoint with valid graph",
			kind: KindEntrypoint,
			payload: map[string]any{
				"task_graph": "step_one:\n  plugin: p\n",
			},
		},
		{
			name: "entrypoint graph wrong type",
			kind: KindEntrypoint,
			payload: map[string]any{
				"task_graph": 42,
			},
			wantErr: true,
		},
		{
			name: "plugin with bad file contents",
			kind: KindPlugin,
			payload: map[string]any{
				"files": []any{
					map[string]any{"filename": "a.py", "contents": ":::"},
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePayload(tt.kind, tt.payload)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validatePayload() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
