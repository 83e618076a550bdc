// (C) 2025 GoodData Corporation
package rules

import "testing"

func TestCompile(t *testing.T) {
	tests := []struct {
		name    string
		rules   []Rule
		wantErr bool
	}{
		{
			name: "sendStatus rule compiles",
			rules: []Rule{
				{Predicate: PredicateURLMatches, PredicateArgs: []string{`evil\.com/.*`}, Action: ActionSendStatus, ActionArgs: []string{"503"}},
			},
		},
		{
			name: "removeGroupsFromURL rule compiles",
			rules: []Rule{
				{Predicate: PredicateURLMatches, PredicateArgs: []string{`(.*\.)?foo\.com/bar.*(qux=1&).*`}, Action: ActionRemoveGroupsFromURL},
			},
		},
		{
			name: "nested capturing groups rejected",
			rules: []Rule{
				{Predicate: PredicateURLMatches, PredicateArgs: []string{`foo\.com/(bar(baz))`}, Action: ActionRemoveGroupsFromURL},
			},
			wantErr: true,
		},
		{
			name: "unknown predicate rejected",
			rules: []Rule{
				{Predicate: "bogus", Action: ActionSendStatus, ActionArgs: []string{"500"}},
			},
			wantErr: true,
		},
		{
			name: "action not valid for urlMatches rejected",
			rules: []Rule{
				{Predicate: PredicateURLMatches, PredicateArgs: []string{`.*`}, Action: ActionReplaceCallback},
			},
			wantErr: true,
		},
		{
			name: "isFetchPath replaceCallback compiles",
			rules: []Rule{
				{Predicate: PredicateIsFetchPath, PredicateArgs: []string{`example\.com/fetch`}, Action: ActionReplaceCallback},
			},
		},
		{
			name: "sendStatus with bad status code rejected",
			rules: []Rule{
				{Predicate: PredicateURLMatches, PredicateArgs: []string{`.*`}, Action: ActionSendStatus, ActionArgs: []string{"nope"}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.rules)
			if tt.wantErr && err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestMatchError(t *testing.T) {
	c, err := Compile([]Rule{
		{Predicate: PredicateURLMatches, PredicateArgs: []string{`evil\.com/.*`}, Action: ActionSendStatus, ActionArgs: []string{"503"}},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	status, ok := c.MatchError("evil.com/anything")
	if !ok || status != 503 {
		t.Fatalf("want (503, true), got (%d, %v)", status, ok)
	}

	if _, ok := c.MatchError("good.com/anything"); ok {
		t.Fatalf("expected no match")
	}
}

func TestIsCallbackPath(t *testing.T) {
	c, err := Compile([]Rule{
		{Predicate: PredicateIsFetchPath, PredicateArgs: []string{`example\.com/fetch`}, Action: ActionReplaceCallback},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !c.IsCallbackPath("example.com/fetch?callback=_xdc_._abc") {
		t.Fatalf("expected callback path match")
	}
	if c.IsCallbackPath("example.com/other") {
		t.Fatalf("expected no match")
	}
}
