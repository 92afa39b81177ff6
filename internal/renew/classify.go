package renew

import "strings"

// DefaultErrorPatterns match notifications saying the lease was already
// extended or cannot be extended again today.
var DefaultErrorPatterns = []string{
	"already renewed",
	"only once",
	"already",
	"이미",
	"한 번",
	"한번",
	"불가",
}

// DefaultSuccessPatterns match notifications confirming the extension.
var DefaultSuccessPatterns = []string{
	"success",
	"added",
	"extended",
	"성공",
	"추가",
	"연장",
}

// Rule maps a lower-case substring of the notification text to a status.
type Rule struct {
	Pattern string
	Status  Status
}

// Classifier maps notification text to a status using ordered rules; the
// first matching rule wins.
type Classifier struct {
	rules []Rule
}

// NewClassifier builds a classifier that checks every error pattern before
// any success pattern, so a notification matching both is already_renewed.
func NewClassifier(errorPatterns, successPatterns []string) *Classifier {
	rules := make([]Rule, 0, len(errorPatterns)+len(successPatterns))
	for _, p := range errorPatterns {
		rules = append(rules, Rule{Pattern: p, Status: StatusAlreadyRenewed})
	}
	for _, p := range successPatterns {
		rules = append(rules, Rule{Pattern: p, Status: StatusSuccess})
	}
	return NewClassifierFromRules(rules)
}

// NewDefaultClassifier uses DefaultErrorPatterns and DefaultSuccessPatterns.
func NewDefaultClassifier() *Classifier {
	return NewClassifier(DefaultErrorPatterns, DefaultSuccessPatterns)
}

// NewClassifierFromRules keeps rules in the given order. Blank patterns are dropped.
func NewClassifierFromRules(rules []Rule) *Classifier {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		p := strings.ToLower(strings.TrimSpace(r.Pattern))
		if p == "" {
			continue
		}
		out = append(out, Rule{Pattern: p, Status: r.Status})
	}
	return &Classifier{rules: out}
}

// Classify returns the status of the first rule whose pattern occurs in text,
// or StatusUnknownResult.
func (c *Classifier) Classify(text string) Status {
	lowered := strings.ToLower(text)
	for _, r := range c.rules {
		if strings.Contains(lowered, r.Pattern) {
			return r.Status
		}
	}
	return StatusUnknownResult
}

// Rules returns a copy of the ordered rule list.
func (c *Classifier) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}
