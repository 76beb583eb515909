package kernelerr

import "testing"

func TestClassifyExceptionCodesAreInDocumentedSet(t *testing.T) {
	cases := []struct {
		name     string
		exc      Exception
		wantCode int
		wantCat  Category
	}{
		{"syntax", Exception{EName: "SyntaxError"}, CodeSyntax, CategorySyntax},
		{"indentation", Exception{EName: "IndentationError"}, CodeSyntax, CategorySyntax},
		{"name error is runtime", Exception{EName: "NameError"}, CodeRuntime, CategoryRuntime},
		{"zero division is runtime", Exception{EName: "ZeroDivisionError"}, CodeRuntime, CategoryRuntime},
		{"keyboard interrupt", Exception{EName: "KeyboardInterrupt"}, CodeTimeout, CategoryTimeout},
		{"memory error", Exception{EName: "MemoryError"}, CodeMemory, CategoryMemory},
		{"cuda oom string", Exception{EName: "RuntimeError", EValue: "CUDA out of memory."}, CodeMemory, CategoryMemory},
		{"module not found", Exception{EName: "ModuleNotFoundError", EValue: "No module named 'pandas'"}, CodeImport, CategoryImport},
		{"file not found", Exception{EName: "FileNotFoundError"}, CodeIO, CategoryIO},
		{"unclassified exception is runtime", Exception{EName: "WeirdError"}, CodeRuntime, CategoryRuntime},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyException(tc.exc)
			if got.Code != tc.wantCode {
				t.Fatalf("code: got %d want %d", got.Code, tc.wantCode)
			}
			if got.Category != tc.wantCat {
				t.Fatalf("category: got %q want %q", got.Category, tc.wantCat)
			}
		})
	}
}

func TestImportSuggestionExtractsModuleName(t *testing.T) {
	got := ClassifyException(Exception{EName: "ModuleNotFoundError", EValue: "No module named 'pandas'"})
	if got.Suggestion != "pip install pandas" {
		t.Fatalf("suggestion: got %q", got.Suggestion)
	}
}

func TestDocumentedCodeSet(t *testing.T) {
	valid := map[int]bool{0: true, 1001: true, 1002: true, 1003: true, 1004: true, 1005: true, 1006: true, 1999: true}

	classifications := []Classification{
		Success(),
		ClassifyException(Exception{EName: "SyntaxError"}),
		ClassifyException(Exception{EName: "NameError"}),
		ReadinessTimeout(),
		ClassifyException(Exception{EName: "MemoryError"}),
		ClassifyException(Exception{EName: "ImportError"}),
		ClassifyException(Exception{EName: "FileNotFoundError"}),
		ClassifyException(Exception{EName: "Unmapped"}),
	}

	for _, c := range classifications {
		if !valid[c.Code] {
			t.Fatalf("code %d not in documented set", c.Code)
		}
		if CodeFor(c.Category) != c.Code {
			t.Fatalf("category/code map not 1:1 for %q: CodeFor=%d classification code=%d", c.Category, CodeFor(c.Category), c.Code)
		}
	}
}

func TestTransportFailureClassification(t *testing.T) {
	if got := TransportFailure(503, ""); got.Code != CodeIO {
		t.Fatalf("503 should classify as IO, got %d", got.Code)
	}
	if got := TransportFailure(404, ""); got.Suggestion == "" {
		t.Fatalf("404 should carry a suggestion")
	}
	if got := TransportFailure(0, "dial tcp 127.0.0.1:443: connection refused"); got.Code != CodeIO {
		t.Fatalf("connection refused should classify as IO, got %d", got.Code)
	}
}
