// (C) 2025 GoodData Corporation

// Package rules compiles the declarative rule list (predicate, action) pairs
// into fast matchers consulted by the request normalizer and response
// mutator. The predicate/action vocabulary is closed: unknown tags are a
// compile-time error rather than a silently ignored rule, mirroring the
// teacher's preference for failing fast on unrecognized mapping shapes.
package rules

import (
	"fmt"
	"regexp"

	"github.com/pkg/errors"
)

// PredicateTag identifies the left-hand side of a rule.
type PredicateTag string

// ActionTag identifies the right-hand side of a rule.
type ActionTag string

const (
	PredicateURLMatches   PredicateTag = "urlMatches"
	PredicateIsFetchPath   PredicateTag = "isFetchPath"

	ActionSendStatus          ActionTag = "sendStatus"
	ActionRemoveGroupsFromURL ActionTag = "removeGroupsFromURL"
	ActionRemoveHeader        ActionTag = "removeHeader"
	ActionReplaceCallback     ActionTag = "replaceCallback"
	ActionIgnorePath          ActionTag = "ignorePath"
)

// Rule is one (predicate, action) pair as supplied by configuration, before
// compilation. PredicateArgs/ActionArgs hold the tag-specific raw arguments.
type Rule struct {
	Predicate     PredicateTag
	PredicateArgs []string
	Action        ActionTag
	ActionArgs    []string
}

// nestedGroup matches a capturing group nested inside another capturing
// group. Ported from the original's check_instance-style validation: a
// removeGroupsFromURL pattern must erase disjoint spans, never nested ones,
// or the left-to-right span algorithm in normalize.RemoveGroups breaks.
var nestedGroup = regexp.MustCompile(`\((?:[^?(][^()]*)?\([^?]`)

// errorPath is a compiled urlMatches -> sendStatus rule.
type errorPath struct {
	re     *regexp.Regexp
	status int
}

// editPath is a compiled urlMatches -> removeGroupsFromURL rule.
type editPath struct {
	re *regexp.Regexp
}

// headerPath is a compiled urlMatches -> removeHeader rule.
type headerPath struct {
	re     *regexp.Regexp
	header string
}

// fetchPath is a compiled isFetchPath -> replaceCallback or ignorePath rule.
type fetchPath struct {
	re     *regexp.Regexp
	action ActionTag
}

// Compiled is the immutable, precomputed form of a rule list. Safe for
// concurrent use without locking: nothing here is mutated after Compile
// returns.
type Compiled struct {
	errorPaths  []errorPath
	editPaths   []editPath
	headerPaths []headerPath
	fetchPaths  []fetchPath
}

// Compile turns a raw rule list into a Compiled matcher set. It rejects
// unknown predicate/action tags and removeGroupsFromURL patterns containing
// nested capturing groups.
func Compile(rs []Rule) (*Compiled, error) {
	c := &Compiled{}
	for i, r := range rs {
		switch r.Predicate {
		case PredicateURLMatches:
			pattern, err := unionPattern(r.PredicateArgs)
			if err != nil {
				return nil, errors.Wrapf(err, "rule %d: compiling urlMatches pattern", i)
			}
			switch r.Action {
			case ActionSendStatus:
				status, err := parseStatus(r.ActionArgs)
				if err != nil {
					return nil, errors.Wrapf(err, "rule %d: sendStatus", i)
				}
				c.errorPaths = append(c.errorPaths, errorPath{re: pattern, status: status})
			case ActionRemoveGroupsFromURL:
				if nestedGroup.MatchString(pattern.String()) {
					return nil, errors.Errorf("rule %d: removeGroupsFromURL pattern %q has nested capturing groups", i, pattern.String())
				}
				c.editPaths = append(c.editPaths, editPath{re: pattern})
			case ActionRemoveHeader:
				if len(r.ActionArgs) != 1 {
					return nil, errors.Errorf("rule %d: removeHeader requires exactly one header name", i)
				}
				c.headerPaths = append(c.headerPaths, headerPath{re: pattern, header: r.ActionArgs[0]})
			default:
				return nil, errors.Errorf("rule %d: action %q is not valid for urlMatches", i, r.Action)
			}
		case PredicateIsFetchPath:
			pattern, err := unionPattern(r.PredicateArgs)
			if err != nil {
				return nil, errors.Wrapf(err, "rule %d: compiling isFetchPath pattern", i)
			}
			switch r.Action {
			case ActionReplaceCallback, ActionIgnorePath:
				c.fetchPaths = append(c.fetchPaths, fetchPath{re: pattern, action: r.Action})
			default:
				return nil, errors.Errorf("rule %d: action %q is not valid for isFetchPath", i, r.Action)
			}
		default:
			return nil, errors.Errorf("rule %d: unknown predicate %q", i, r.Predicate)
		}
	}
	return c, nil
}

// unionPattern joins alternative fragments with '|' and anchors nothing,
// matching the original's style of passing a list of regex fragments that
// are ORed together against host+full_path.
func unionPattern(fragments []string) (*regexp.Regexp, error) {
	if len(fragments) == 0 {
		return nil, errors.New("at least one pattern fragment is required")
	}
	joined := fragments[0]
	for _, f := range fragments[1:] {
		joined += "|" + f
	}
	re, err := regexp.Compile(joined)
	if err != nil {
		return nil, err
	}
	return re, nil
}

func parseStatus(args []string) (int, error) {
	if len(args) != 1 {
		return 0, errors.New("sendStatus requires exactly one status code")
	}
	var status int
	if _, err := fmt.Sscanf(args[0], "%d", &status); err != nil {
		return 0, errors.Wrapf(err, "invalid status code %q", args[0])
	}
	return status, nil
}

// MatchError reports whether hostAndPath short-circuits to an error status.
// Returns ok=false if no error-path rule matches.
func (c *Compiled) MatchError(hostAndPath string) (status int, ok bool) {
	for _, ep := range c.errorPaths {
		if ep.re.MatchString(hostAndPath) {
			return ep.status, true
		}
	}
	return 0, false
}

// ExcludedHeaders returns the set of header names removeHeader rules strip
// from the fingerprint for the given host+path.
func (c *Compiled) ExcludedHeaders(hostAndPath string) []string {
	var out []string
	for _, hp := range c.headerPaths {
		if hp.re.MatchString(hostAndPath) {
			out = append(out, hp.header)
		}
	}
	return out
}

// EditRegexes returns the compiled removeGroupsFromURL patterns, in
// declaration order; the normalizer applies the first one that matches.
func (c *Compiled) EditRegexes() []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(c.editPaths))
	for i, ep := range c.editPaths {
		out[i] = ep.re
	}
	return out
}

// IsCallbackPath reports whether hostAndPath is subject to replaceCallback.
func (c *Compiled) IsCallbackPath(hostAndPath string) bool {
	for _, fp := range c.fetchPaths {
		if fp.action == ActionReplaceCallback && fp.re.MatchString(hostAndPath) {
			return true
		}
	}
	return false
}

// IsIgnorePath reports whether path (the request path without host or
// query) is subject to ignorePath query-parameter echo.
func (c *Compiled) IsIgnorePath(path string) bool {
	for _, fp := range c.fetchPaths {
		if fp.action == ActionIgnorePath && fp.re.MatchString(path) {
			return true
		}
	}
	return false
}
