package sandbox

// LanguageSpec describes how to build and run one supported language
// inside a pooled container. CompileCmd is empty for interpreted
// languages; when set, it runs before RunCmd and its failure is reported
// as ReasonCompileError rather than a runtime failure.
type LanguageSpec struct {
	Image       string
	SourceFile  string
	CompileCmd  []string
	RunCmd      []string
}

// DefaultLanguages returns the built-in language registry. Two languages
// are enough to exercise both execution paths the spec distinguishes:
// python (interpreted, no compile step) and c (compiled, a distinct
// compile-error surface).
func DefaultLanguages() map[string]LanguageSpec {
	return map[string]LanguageSpec{
		"python": {
			Image:      "python:3.12-alpine",
			SourceFile: "main.py",
			RunCmd:     []string{"python3", "/work/main.py"},
		},
		"c": {
			Image:      "gcc:13-bookworm",
			SourceFile: "main.c",
			CompileCmd: []string{"gcc", "-O2", "-o", "/work/a.out", "/work/main.c"},
			RunCmd:     []string{"/work/a.out"},
		},
	}
}
