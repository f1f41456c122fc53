package execution

// Language identifies the interpreter a snippet is written for.
type Language string

const (
	LanguagePython Language = "python"
)

// SubmittedCode is the immutable unit handed to the executor.
type SubmittedCode struct {
	Source   string   `json:"source"`
	Language Language `json:"language"`
}

// ParseLanguage maps a request value onto a Language. An empty value means python,
// matching the default of the "run code" endpoint.
func ParseLanguage(raw string) Language {
	if raw == "" {
		return LanguagePython
	}
	return Language(raw)
}
