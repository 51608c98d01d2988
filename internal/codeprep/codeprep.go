// Package codeprep turns a cell's source into the text submitted to the
// session.
package codeprep

import "cellrun/internal/domain"

// Prepare applies the sub-language wrap and then, when richOutput is set, the
// HTML output envelope around the result.
func Prepare(code string, lang domain.Language, richOutput bool) string {
	switch lang {
	case domain.LanguageSQL:
		code = wrapSQL(code)
	case domain.LanguagePython:
		code = wrapPython(code)
	}
	if richOutput {
		code = wrapHTML(code)
	}
	return code
}

func wrapSQL(code string) string {
	return "proc sql;\n" + code + "\n;quit;"
}

func wrapPython(code string) string {
	return "proc python;\nsubmit;\n" + code + "\nendsubmit;\nrun;"
}

func wrapHTML(code string) string {
	return "ods html5;\n" + code + "\n;run;quit;ods html5 close;"
}
