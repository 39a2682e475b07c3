package sql

import (
	"fmt"

	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult describes a literal that matched an injection pattern.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	ParamName   string // Which value failed, e.g. "literal[2]"
	ParamValue  any    // The value that was checked
}

// CheckParameterForInjection uses libinjection to detect SQL injection patterns
// in a value. Only strings are checked; other types return nil.
func CheckParameterForInjection(paramName string, value any) *InjectionCheckResult {
	strValue, ok := value.(string)
	if !ok {
		return nil
	}

	isSQLi, fingerprint := libinjection.IsSQLi(strValue)
	if isSQLi {
		return &InjectionCheckResult{
			IsSQLi:      true,
			Fingerprint: string(fingerprint),
			ParamName:   paramName,
			ParamValue:  value,
		}
	}

	return nil
}

// CheckStatementLiterals runs the injection check over every string literal in
// a generated statement, where user text may have been copied verbatim.
func CheckStatementLiterals(stmt string) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	idx := 0
	for _, tok := range tokenize(stmt) {
		if tok.Kind != tokenString {
			continue
		}
		if result := CheckParameterForInjection(fmt.Sprintf("literal[%d]", idx), tok.Text); result != nil {
			results = append(results, result)
		}
		idx++
	}
	return results
}
