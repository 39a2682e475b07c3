// Package sql inspects generated SQL statements before they are proposed or executed.
package sql

import (
	"errors"
	"strings"
)

var (
	// ErrMultipleStatements indicates the text contains more than one statement.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")

	// ErrEmptyStatement indicates the text has no SQL once comments are removed.
	ErrEmptyStatement = errors.New("statement is empty")
)

// ValidationResult contains the normalized SQL and any validation error.
type ValidationResult struct {
	NormalizedSQL string
	Error         error
}

// ValidateAndNormalize checks that sqlQuery is exactly one statement and strips
// surrounding whitespace and a single trailing semicolon. Semicolons inside
// literals, quoted identifiers and comments do not count.
func ValidateAndNormalize(sqlQuery string) ValidationResult {
	sqlQuery = strings.TrimSpace(sqlQuery)

	tokens := tokenize(sqlQuery)
	if len(tokens) == 0 {
		return ValidationResult{Error: ErrEmptyStatement}
	}

	last := tokens[len(tokens)-1]
	if last.Kind == tokenSemicolon {
		tokens = tokens[:len(tokens)-1]
		sqlQuery = strings.TrimRight(sqlQuery[:last.Offset], " \t\n\r")
	}
	if len(tokens) == 0 {
		return ValidationResult{Error: ErrEmptyStatement}
	}

	for _, tok := range tokens {
		if tok.Kind == tokenSemicolon {
			return ValidationResult{Error: ErrMultipleStatements}
		}
	}

	return ValidationResult{NormalizedSQL: sqlQuery}
}

// FirstKeyword returns the statement's leading keyword, upper-cased, or "".
func FirstKeyword(stmt string) string {
	for _, tok := range tokenize(stmt) {
		if tok.Kind == tokenWord {
			return tok.Text
		}
		if tok.Kind != tokenSymbol {
			return ""
		}
	}
	return ""
}
