package sql

// destructiveKeywords are flagged wherever they appear as a statement keyword.
var destructiveKeywords = map[string]bool{
	"DELETE":   true,
	"DROP":     true,
	"TRUNCATE": true,
	"ALTER":    true,
	"GRANT":    true,
	"REVOKE":   true,
}

// KeywordUpdateWithoutWhere is reported for an UPDATE that has no WHERE clause.
const KeywordUpdateWithoutWhere = "UPDATE without WHERE"

// DestructiveKeywords returns the destructive operations in stmt, in order of
// first appearance. String literals, quoted identifiers and comments are
// ignored, as are referential actions (ON DELETE, ON UPDATE) and row locks
// (FOR UPDATE).
func DestructiveKeywords(stmt string) []string {
	tokens := tokenize(stmt)

	var found []string
	seen := make(map[string]bool)
	add := func(kw string) {
		if !seen[kw] {
			seen[kw] = true
			found = append(found, kw)
		}
	}

	for i, tok := range tokens {
		if tok.Kind != tokenWord {
			continue
		}
		prev := ""
		if i > 0 && tokens[i-1].Kind == tokenWord {
			prev = tokens[i-1].Text
		}

		switch {
		case destructiveKeywords[tok.Text]:
			if tok.Text == "DELETE" && prev == "ON" {
				continue
			}
			add(tok.Text)
		case tok.Text == "UPDATE":
			if prev == "ON" || prev == "FOR" {
				continue
			}
			if !hasWordAfter(tokens[i+1:], "WHERE") {
				add(KeywordUpdateWithoutWhere)
			}
		}
	}

	return found
}

// IsDestructive reports whether stmt contains any destructive operation.
func IsDestructive(stmt string) bool {
	return len(DestructiveKeywords(stmt)) > 0
}

// hasWordAfter reports whether word appears before the next semicolon.
func hasWordAfter(tokens []token, word string) bool {
	for _, tok := range tokens {
		if tok.Kind == tokenSemicolon {
			return false
		}
		if tok.Kind == tokenWord && tok.Text == word {
			return true
		}
	}
	return false
}
