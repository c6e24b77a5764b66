package template

import "regexp"

// denylist rejects expressions that reach for code execution or runtime
// globals. Template expressions are data lookups and helper calls only;
// anything resembling host-environment access fails before evaluation.
var denylist = []*regexp.Regexp{
	regexp.MustCompile(`(?i)__proto__`),
	regexp.MustCompile(`(?i)\bprototype\b`),
	regexp.MustCompile(`(?i)\bconstructor\b`),
	regexp.MustCompile(`(?i)\beval\b`),
	regexp.MustCompile(`(?i)\bfunction\b`),
	regexp.MustCompile(`(?i)\bnew\s+\w`),
	regexp.MustCompile(`(?i)\bimport\b`),
	regexp.MustCompile(`(?i)\brequire\b`),
	regexp.MustCompile(`(?i)\bprocess\b`),
	regexp.MustCompile(`(?i)\bglobal(This)?\b`),
	regexp.MustCompile(`(?i)\bwindow\b`),
	regexp.MustCompile(`(?i)\bdocument\b`),
	regexp.MustCompile(`(?i)\bconsole\b`),
	regexp.MustCompile(`(?i)\bset(Timeout|Interval|Immediate)\b`),
}

// checkSafety returns a non-empty reason when the expression matches the
// denylist.
func checkSafety(expr string) string {
	for _, re := range denylist {
		if re.MatchString(expr) {
			return "expression matches denied pattern " + re.String()
		}
	}
	return ""
}
