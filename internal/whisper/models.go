package whisper

import "sort"

// ModelInfo describes one selectable whisper model.
type ModelInfo struct {
	File        string
	SizeMB      float64
	Description string
}

// Models maps model names to their ggml files. Selection outside this
// table is rejected before the supervisor touches the process.
var Models = map[string]ModelInfo{
	"whisper-tiny":     {File: "ggml-tiny.bin", SizeMB: 75, Description: "Fastest inference, basic accuracy"},
	"whisper-base":     {File: "ggml-base.bin", SizeMB: 142, Description: "Good balance of speed/accuracy"},
	"whisper-small":    {File: "ggml-small.bin", SizeMB: 466, Description: "Better accuracy, slower"},
	"whisper-medium":   {File: "ggml-medium.bin", SizeMB: 1500, Description: "Best accuracy, much slower"},
	"whisper-large":    {File: "ggml-large-v3.bin", SizeMB: 3100, Description: "Large v3, highest accuracy"},
	"whisper-large-v3": {File: "ggml-large-v3.bin", SizeMB: 3100, Description: "Large v3, highest accuracy"},
}

// ModelFile resolves a model name to its ggml filename, falling back to
// the base model for unknown names.
func ModelFile(name string) string {
	if info, ok := Models[name]; ok {
		return info.File
	}
	return "ggml-base.bin"
}

// ValidModel reports whether name is in the selection table.
func ValidModel(name string) bool {
	_, ok := Models[name]
	return ok
}

// ModelNames returns the selectable model names, sorted.
func ModelNames() []string {
	names := make([]string, 0, len(Models))
	for name := range Models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
