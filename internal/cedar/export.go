// Package cedar renders mined policy sets as Cedar policy text and verifies
// the generated statements parse under the upstream Cedar grammar.
package cedar

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	cedarlib "github.com/cedar-policy/cedar-go"

	"github.com/aumai/policyminer/internal/mine"
)

// exportName is the synthetic source name used when parsing generated text.
const exportName = "mined.cedar"

// ExportError captures structured Cedar parse metadata for generated output
// that failed validation.
type ExportError struct {
	Message string
	Line    int
	Column  int
	Snippet string
	Raw     error
}

func (e *ExportError) Error() string {
	if e == nil {
		return ""
	}
	if e.Line > 0 {
		return fmt.Sprintf("cedar output invalid at %s:%d:%d: %s", exportName, e.Line, e.Column, e.Message)
	}
	return e.Message
}

func (e *ExportError) Unwrap() error {
	return e.Raw
}

// Export renders every policy in the set as a Cedar permit statement. Each
// statement carries an @id annotation with the policy ID and a leading
// comment with the human description. Policies keep their stored order so
// the output ranks highest confidence first.
func Export(set *mine.PolicySet) string {
	if set == nil || len(set.Policies) == 0 {
		return ""
	}

	var builder strings.Builder
	for i, policy := range set.Policies {
		if i > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(statement(policy))
	}
	return builder.String()
}

// Validate parses generated Cedar text and reports the first grammar error
// as an *ExportError. A nil return means the text is loadable as a policy
// set.
func Validate(src string) error {
	if _, err := cedarlib.NewPolicySetFromBytes(exportName, []byte(src)); err != nil {
		return formatParseError(err, src)
	}
	return nil
}

func statement(policy mine.MinedPolicy) string {
	var builder strings.Builder
	builder.WriteString("// ")
	builder.WriteString(commentText(policy.Description))
	builder.WriteString("\n")
	builder.WriteString(fmt.Sprintf("@id(\"%s\")\n", escapeCedarString(policy.PolicyID)))
	builder.WriteString("permit(\n")
	builder.WriteString("    principal,\n")
	builder.WriteString(fmt.Sprintf("    action == Action::\"%s\",\n", escapeCedarString(policy.Consequent)))
	builder.WriteString("    resource\n")
	builder.WriteString(") when {\n")

	keys := make([]string, 0, len(policy.Antecedent))
	for key := range policy.Antecedent {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	conditions := make([]string, 0, len(keys))
	for _, key := range keys {
		conditions = append(conditions, fmt.Sprintf("    context[\"%s\"] == \"%s\"", escapeCedarString(key), escapeCedarString(policy.Antecedent[key])))
	}
	builder.WriteString(strings.Join(conditions, " &&\n"))
	builder.WriteString("\n};\n")

	return builder.String()
}

// commentText flattens the description onto a single line so it stays a
// valid Cedar comment even when a context key carried control characters.
func commentText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return s
}

func escapeCedarString(value string) string {
	var builder strings.Builder
	for _, r := range value {
		switch r {
		case '\\':
			builder.WriteString(`\\`)
		case '"':
			builder.WriteString(`\"`)
		case '\n':
			builder.WriteString(`\n`)
		case '\r':
			builder.WriteString(`\r`)
		case '\t':
			builder.WriteString(`\t`)
		case 0:
			builder.WriteString(`\0`)
		default:
			builder.WriteRune(r)
		}
	}
	return builder.String()
}

var parseLocationRe = regexp.MustCompile(`(?:at\s+)?(\S+?):(\d+):(\d+)`)

func formatParseError(err error, src string) *ExportError {
	if err == nil {
		return nil
	}
	message := strings.TrimSpace(err.Error())
	line, column := 0, 0
	if matches := parseLocationRe.FindStringSubmatch(message); len(matches) == 4 {
		line = atoiSafe(matches[2])
		column = atoiSafe(matches[3])
	}
	return &ExportError{
		Message: message,
		Line:    line,
		Column:  column,
		Snippet: extractLine(src, line),
		Raw:     err,
	}
}

func extractLine(content string, line int) string {
	if line <= 0 {
		return ""
	}
	current := 1
	start := 0
	for i := 0; i < len(content) && current < line; i++ {
		if content[i] == '\n' {
			current++
			start = i + 1
		}
	}
	if current != line {
		return ""
	}
	end := strings.IndexByte(content[start:], '\n')
	if end == -1 {
		return strings.TrimRight(content[start:], "\r\n")
	}
	return strings.TrimRight(content[start:start+end], "\r\n")
}

func atoiSafe(s string) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return v
}
