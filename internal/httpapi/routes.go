package httpapi

import (
	"net/http"
	"regexp"
	"strings"
)

// Rule matches an inbound (path, method) pair. The rule variants form a
// closed set; there is no runtime type inspection anywhere in classification.
type Rule interface {
	Matches(path, method string) bool
}

// PrefixRule matches any request whose path starts with the prefix,
// regardless of method.
type PrefixRule string

func (r PrefixRule) Matches(path, _ string) bool {
	return strings.HasPrefix(path, string(r))
}

// PatternRule matches the path against a regular expression.
type PatternRule struct {
	re *regexp.Regexp
}

// Pattern compiles a PatternRule. It panics on an invalid expression, rule
// tables are static startup configuration.
func Pattern(expr string) PatternRule {
	return PatternRule{re: regexp.MustCompile(expr)}
}

func (r PatternRule) Matches(path, _ string) bool {
	return r.re.MatchString(path)
}

// PathMethodRule narrows another rule to one HTTP method. An empty Method
// matches any method.
type PathMethodRule struct {
	Path   Rule
	Method string
}

func (r PathMethodRule) Matches(path, method string) bool {
	if r.Method != "" && r.Method != method {
		return false
	}
	return r.Path.Matches(path, method)
}

// RuleSet is a pure OR over its rules; evaluation order never matters.
type RuleSet []Rule

func (rs RuleSet) Matches(path, method string) bool {
	for _, rule := range rs {
		if rule.Matches(path, method) {
			return true
		}
	}
	return false
}

// Class is the classification of one request.
type Class int

const (
	// ClassDefault means neither rule set matched; the classifier's
	// configured default applies.
	ClassDefault Class = iota
	// ClassPublic means authentication is optional.
	ClassPublic
	// ClassProtected means authentication is required.
	ClassProtected
)

// Precedence resolves a path that matches both rule sets.
type Precedence int

const (
	// ProtectedWins requires authentication when a path satisfies both a
	// public and a protected rule. This is the default: accidental overlap
	// must fail closed.
	ProtectedWins Precedence = iota
	// PublicWins keeps such a path public.
	PublicWins
)

// Classifier decides whether a request requires authentication from a
// declarative rule table supplied at startup.
type Classifier struct {
	Public    RuleSet
	Protected RuleSet
	// Precedence breaks ties when both sets match.
	Precedence Precedence
	// AuthByDefault applies when neither set matches.
	AuthByDefault bool
}

// Classify resolves one (path, method) pair. Each request is classified
// exactly once, before any token work.
func (c *Classifier) Classify(path, method string) Class {
	isPublic := c.Public.Matches(path, method)
	isProtected := c.Protected.Matches(path, method)
	switch {
	case isPublic && isProtected:
		if c.Precedence == PublicWins {
			return ClassPublic
		}
		return ClassProtected
	case isProtected:
		return ClassProtected
	case isPublic:
		return ClassPublic
	default:
		return ClassDefault
	}
}

// RequiresAuth reports whether the request must carry a valid access token.
func (c *Classifier) RequiresAuth(r *http.Request) bool {
	switch c.Classify(r.URL.Path, r.Method) {
	case ClassPublic:
		return false
	case ClassProtected:
		return true
	default:
		return c.AuthByDefault
	}
}

// defaultClassifier is the gateway's startup rule table. Auth endpoints are
// public so unauthenticated clients can obtain credentials; logout-all and
// change-password also match the public /v1/auth/ prefix but appear in the
// protected set, and ProtectedWins makes them require a token.
func defaultClassifier() *Classifier {
	return &Classifier{
		Public: RuleSet{
			PrefixRule("/healthz"),
			PrefixRule("/readyz"),
			PrefixRule("/metrics"),
			PrefixRule("/v1/info"),
			PrefixRule("/v1/auth/"),
		},
		Protected: RuleSet{
			PathMethodRule{Path: PrefixRule("/v1/auth/logout-all"), Method: http.MethodPost},
			PathMethodRule{Path: PrefixRule("/v1/auth/change-password"), Method: http.MethodPost},
			PrefixRule("/v1/roles"),
			PrefixRule("/v1/permissions"),
			PrefixRule("/v1/users"),
			PrefixRule("/v1/employees"),
			Pattern(`^/v1/leave-requests(/|$)`),
		},
		Precedence:    ProtectedWins,
		AuthByDefault: true,
	}
}
