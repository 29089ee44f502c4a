package scanner

import "regexp"

// Category groups rules by the kind of injection they look for.
type Category string

const (
	CategorySQL     Category = "sql_injection"
	CategoryXSS     Category = "xss"
	CategoryCommand Category = "command_injection"
	CategoryLDAP    Category = "ldap_injection"
	CategoryNoSQL   Category = "nosql_injection"
	CategoryGeneric Category = "suspicious_characters"
)

// Rule is one compiled signature. Patterns are matched against folded,
// lower-cased text.
type Rule struct {
	Name     string
	Category Category
	Pattern  *regexp.Regexp
	Message  string
}

const (
	sqlMessage     = "Nice try with the SQL. Your little query is now a lovely comment. Parameterized statements say hi."
	xssMessage     = "Script in a guestbook? Adorable. It renders as plain text, so enjoy reading your own payload."
	commandMessage = "Shell commands detected. This is a guestbook, not a terminal. Nothing was executed."
	ldapMessage    = "LDAP filter injection? There is no directory here to wander through. Saved as text anyway."
	nosqlMessage   = "Query operators won't get you far here. It's all just text to us."
	genericMessage = "That's a lot of punctuation for a friendly note. Saved as-is, suspiciously."
)

func rule(category Category, name, pattern, message string) Rule {
	return Rule{Name: name, Category: category, Pattern: regexp.MustCompile(pattern), Message: message}
}

// DefaultRules returns the built-in signatures in priority order.
func DefaultRules() []Rule {
	return []Rule{
		rule(CategorySQL, "union_select", `\bunion\s+(all\s+)?select\b`, sqlMessage),
		rule(CategorySQL, "stacked_statement", `;\s*(drop|delete|insert|update|alter|truncate|create|exec)\s`, sqlMessage),
		rule(CategorySQL, "tautology", `['"]\s*or\s+['"]?\w+['"]?\s*=\s*['"]?\w+`, sqlMessage),
		rule(CategorySQL, "comment_terminator", `['"]\s*(--|#|/\*)`, sqlMessage),
		rule(CategorySQL, "time_based", `\b(sleep|benchmark|pg_sleep)\s*\(|\bwaitfor\s+delay\b`, sqlMessage),
		rule(CategorySQL, "schema_probe", `\binformation_schema\b|\bsqlite_master\b`, sqlMessage),

		rule(CategoryXSS, "script_tag", `<\s*/?\s*script\b`, xssMessage),
		rule(CategoryXSS, "javascript_uri", `javascript\s*:`, xssMessage),
		rule(CategoryXSS, "event_handler", `<[^>]*\bon[a-z]+\s*=`, xssMessage),
		rule(CategoryXSS, "embedding_tag", `<\s*(iframe|object|embed|svg|math|base)\b`, xssMessage),
		rule(CategoryXSS, "cookie_access", `document\s*\.\s*cookie`, xssMessage),

		rule(CategoryCommand, "chained_command", `(;|&&|\|\|?)\s*(cat|ls|id|whoami|rm|wget|curl|nc|bash|sh|uname|chmod|python|perl)\b`, commandMessage),
		rule(CategoryCommand, "substitution", "\\$\\([^)]*\\)|`[^`]+`", commandMessage),
		rule(CategoryCommand, "sensitive_path", `/etc/(passwd|shadow)\b`, commandMessage),

		rule(CategoryLDAP, "filter_injection", `\*\)\s*\(|\)\s*\(\s*[|&!]|\(\s*[|&!]\s*\(`, ldapMessage),
		rule(CategoryLDAP, "wildcard_attribute", `\(\s*(uid|cn|objectclass|mail|sn)\s*=\s*\*`, ldapMessage),

		rule(CategoryNoSQL, "operator", `\$(where|ne|gt|gte|lt|lte|regex|in|nin|or|and|exists|expr)\b`, nosqlMessage),
		rule(CategoryNoSQL, "operator_object", `\{\s*['"]?\$[a-z]+['"]?\s*:`, nosqlMessage),
	}
}

const suspiciousPunctuation = "'\"`;(){}[]<>"
