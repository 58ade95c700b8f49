// Package security guards the dataset query against statements that could
// modify the database.
package security

import (
	"fmt"
	"strings"
	"unicode"
)

// QueryRejectedError explains why a dataset query is not read-only.
type QueryRejectedError struct {
	Reason string
}

func (e *QueryRejectedError) Error() string { return "dataset query rejected: " + e.Reason }

// forbidden lists keywords that never appear in a plain read query.
var forbidden = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "TRUNCATE": true, "MERGE": true,
	"DROP": true, "CREATE": true, "ALTER": true, "RENAME": true,
	"GRANT": true, "REVOKE": true,
	"EXECUTE": true, "EXEC": true, "CALL": true,
	"PRAGMA": true, "ATTACH": true, "DETACH": true, "VACUUM": true,
	"BEGIN": true, "COMMIT": true, "ROLLBACK": true,
	"INTO": true, // SELECT ... INTO creates a table
}

// ValidateReadOnly accepts a single SELECT or WITH statement with no
// comments and no data-changing keywords. Quoted identifiers and string
// literals are not inspected, so a column called "Update Date" is fine.
func ValidateReadOnly(query string) error {
	q := strings.TrimSpace(query)
	if q == "" {
		return &QueryRejectedError{Reason: "empty query"}
	}
	if strings.Contains(q, "--") || strings.Contains(q, "/*") {
		return &QueryRejectedError{Reason: "comments are not allowed"}
	}

	words, semicolons, err := scan(q)
	if err != nil {
		return err
	}
	if semicolons > 1 || (semicolons == 1 && !strings.HasSuffix(q, ";")) {
		return &QueryRejectedError{Reason: "multiple statements are not allowed"}
	}
	if len(words) == 0 || (words[0] != "SELECT" && words[0] != "WITH") {
		first := "nothing"
		if len(words) > 0 {
			first = words[0]
		}
		return &QueryRejectedError{Reason: fmt.Sprintf("only SELECT and WITH are allowed, got %s", first)}
	}
	for _, w := range words {
		if forbidden[w] {
			return &QueryRejectedError{Reason: fmt.Sprintf("forbidden keyword %s", w)}
		}
	}
	return nil
}

// scan splits q into upper-cased bare words, skipping quoted text, and
// counts semicolons outside quotes.
func scan(q string) ([]string, int, error) {
	var (
		words      []string
		semicolons int
		word       strings.Builder
		quote      rune
	)
	flush := func() {
		if word.Len() > 0 {
			words = append(words, strings.ToUpper(word.String()))
			word.Reset()
		}
	}
	for _, r := range q {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"' || r == '`':
			flush()
			quote = r
		case r == '[':
			flush()
			quote = ']'
		case r == ';':
			flush()
			semicolons++
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			word.WriteRune(r)
		default:
			flush()
		}
	}
	if quote != 0 {
		return nil, 0, &QueryRejectedError{Reason: "unterminated quote"}
	}
	flush()
	return words, semicolons, nil
}
