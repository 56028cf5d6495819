package sql

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

// foldCase is a locale-independent Unicode case fold, used wherever this
// package needs a case-insensitive comparison (reserved-word and
// sensitive-field-name matching) instead of the ASCII-only
// strings.ToUpper/ToLower.
var foldCase = cases.Fold()

// identifierRe is the identifier grammar: [A-Za-z_][A-Za-z0-9_]{0,62}.
var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// reservedWords is the closed set of SQL keywords no identifier reaching
// the builder may equal, case-insensitively.
var reservedWords = map[string]struct{}{
	"select": {}, "insert": {}, "update": {}, "delete": {}, "drop": {},
	"create": {}, "alter": {}, "truncate": {}, "grant": {}, "revoke": {},
	"union": {}, "join": {}, "where": {}, "from": {}, "table": {},
	"database": {}, "schema": {}, "index": {}, "view": {}, "procedure": {},
	"function": {}, "trigger": {}, "constraint": {}, "primary": {},
	"foreign": {}, "references": {}, "null": {}, "not": {}, "and": {}, "or": {},
	"default": {}, "cascade": {}, "exec": {}, "execute": {}, "having": {},
	"group": {}, "order": {}, "limit": {}, "offset": {}, "into": {}, "values": {},
	"set": {}, "as": {}, "distinct": {}, "all": {}, "any": {}, "exists": {},
	"between": {}, "like": {}, "in": {}, "is": {}, "case": {}, "when": {},
	"then": {}, "else": {}, "end": {},
}

// sensitiveFieldNames is matched case-insensitively against a field name
// before masking its value for logging.
var sensitiveFieldNames = []string{
	"password", "secret", "token", "key", "credential",
	"authorization", "api_key", "private_key", "passphrase",
}

// whitelistedDefaultFuncs are the only function-call-shaped default
// literals a field default may contain.
var whitelistedDefaultFuncs = map[string]struct{}{
	"now": {}, "current_timestamp": {}, "uuid": {},
}

// IsValidIdentifier reports whether s is safe to concatenate into SQL as a
// bare identifier: it must match the identifier grammar and must not equal
// a reserved SQL keyword (case-insensitively). This is the single gate every
// identifier — model names, field names, node IDs, savepoint names, table
// and column names — must pass before the SQL builder ever sees it.
func IsValidIdentifier(s string) bool {
	if !identifierRe.MatchString(s) {
		return false
	}
	_, reserved := reservedWords[foldCase.String(s)]
	return !reserved
}

// MaskSensitive redacts value if fieldName looks like it carries a secret.
// It is applied before any log emission, and is also available to callers
// building audit trails that must not persist secrets in the clear.
// Matching uses a Unicode case fold (golang.org/x/text/cases) rather than
// strings.ToLower so non-ASCII field names fold correctly too.
func MaskSensitive(fieldName string, value any) any {
	folded := foldCase.String(fieldName)
	for _, pattern := range sensitiveFieldNames {
		if strings.Contains(folded, pattern) {
			return "***REDACTED***"
		}
	}
	return value
}

// IsSafeDefaultLiteral rejects default literals that could smuggle SQL
// through a model definition: semicolons, comment markers, or an
// unwhitelisted function-call shape.
func IsSafeDefaultLiteral(literal string) bool {
	trimmed := strings.TrimSpace(literal)
	if trimmed == "" {
		return true
	}
	if strings.ContainsAny(trimmed, ";") || strings.Contains(trimmed, "--") || strings.Contains(trimmed, "/*") {
		return false
	}
	if idx := strings.Index(trimmed, "("); idx >= 0 && strings.HasSuffix(trimmed, ")") {
		fn := strings.ToLower(strings.TrimSpace(trimmed[:idx]))
		_, ok := whitelistedDefaultFuncs[fn]
		return ok
	}
	_, isFuncToken := whitelistedDefaultFuncs[strings.ToLower(trimmed)]
	if isFuncToken {
		return true
	}
	return true
}
