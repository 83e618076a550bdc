// (C) 2025 GoodData Corporation
package mutate

import (
	"testing"

	"github.com/gooddata/wpr-go/internal/archive"
	"github.com/gooddata/wpr-go/internal/rules"
)

func TestReplaceCallback(t *testing.T) {
	req := archive.Request{FullPath: "/fetch?callback=_xdc_._newkey9"}
	body := []byte("window._xdc_._abc123xyz(42);")

	out, changed := replaceCallback(req, body)
	if !changed {
		t.Fatalf("expected callback rewrite")
	}
	want := "window._xdc_._newkey9(42);"
	if string(out) != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}

func TestReplaceCallbackNoMarker(t *testing.T) {
	req := archive.Request{FullPath: "/fetch"}
	body := []byte("window._xdc_._abc123xyz(42);")
	_, changed := replaceCallback(req, body)
	if changed {
		t.Fatalf("expected no rewrite without callback marker")
	}
}

func TestEchoIgnoredParams(t *testing.T) {
	req := archive.Request{FullPath: "/p?ech=42&psi=abc.def"}
	body := []byte(`var x = "ech=100&psi=old.val";`)

	out, changed := echoIgnoredParams(req, body)
	if !changed {
		t.Fatalf("expected echo rewrite")
	}
	want := `var x = "ech=42&psi=abc.def";`
	if string(out) != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}

func TestInjectScriptIdempotent(t *testing.T) {
	script := []byte(`<script data-wpr-injected="1">console.log(1)</script>`)
	body := []byte("<html><head><title>x</title></head></html>")

	out, changed := injectScript(body, script)
	if !changed {
		t.Fatalf("expected injection on first pass")
	}
	out2, changed2 := injectScript(out, script)
	if changed2 {
		t.Fatalf("expected no-op on second pass")
	}
	if string(out) != string(out2) {
		t.Fatalf("injection not idempotent")
	}
}

func TestMutatorEndToEnd(t *testing.T) {
	compiled, err := rules.Compile([]rules.Rule{
		{Predicate: rules.PredicateIsFetchPath, PredicateArgs: []string{`example\.com/fetch`}, Action: rules.ActionReplaceCallback},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	m := New(compiled, nil, false)

	req := archive.Request{Host: "example.com", FullPath: "/fetch?callback=_xdc_._newkey9"}
	resp := archive.Response{
		Status:       200,
		ResponseData: [][]byte{[]byte("window._xdc_._abc123xyz(1);")},
	}

	out := m.Mutate(req, resp)
	if string(out.Body()) != "window._xdc_._newkey9(1);" {
		t.Fatalf("got %q", out.Body())
	}
	if string(resp.ResponseData[0]) != "window._xdc_._abc123xyz(1);" {
		t.Fatalf("original response was mutated in place")
	}
}
