// (C) 2025 GoodData Corporation

// Package mutate implements the Response Mutator: replay-time rewrites
// applied to an archived response before it reaches the client. Grounded
// on original_source/httpclient.py's mutate_response, _InjectScripts and
// _ScrambleImages.
package mutate

import (
	"bytes"
	"errors"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math/rand"
	"net/url"
	"regexp"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/gooddata/wpr-go/internal/archive"
	"github.com/gooddata/wpr-go/internal/rules"
)

var errUnsupportedImageFormat = errors.New("unsupported image format")

// Mutator applies the configured set of response mutations.
type Mutator struct {
	rules          *rules.Compiled
	injectScript   []byte
	scrambleImages bool
}

// New builds a Mutator. injectScript is the literal <script> tag/body to
// insert into HTML responses, or nil to disable injection.
func New(compiled *rules.Compiled, injectScript []byte, scrambleImages bool) *Mutator {
	return &Mutator{rules: compiled, injectScript: injectScript, scrambleImages: scrambleImages}
}

// Mutate returns a (possibly) modified copy of resp; the input is never
// changed in place.
func (m *Mutator) Mutate(req archive.Request, resp archive.Response) archive.Response {
	hostAndPath := req.Host + req.FullPath

	out := resp
	mutated := false

	if m.rules.IsCallbackPath(hostAndPath) {
		if body, changed := replaceCallback(req, out.Body()); changed {
			out = out.Clone()
			out.ResponseData = [][]byte{body}
			mutated = true
		}
	}

	if m.rules.IsIgnorePath(req.PathOnly()) {
		if body, changed := echoIgnoredParams(req, out.Body()); changed {
			if !mutated {
				out = out.Clone()
			}
			out.ResponseData = [][]byte{body}
			mutated = true
		}
	}

	contentType, _ := out.Header("Content-Type")
	if len(m.injectScript) > 0 && strings.HasPrefix(contentType, "text/html") {
		if body, changed := injectScript(out.Body(), m.injectScript); changed {
			if !mutated {
				out = out.Clone()
			}
			out.ResponseData = [][]byte{body}
			mutated = true
		}
	}

	if m.scrambleImages && strings.HasPrefix(contentType, "image/") {
		if body, changed := scrambleImage(out.Body(), contentType); changed {
			if !mutated {
				out = out.Clone()
			}
			out.ResponseData = [][]byte{body}
			mutated = true
		}
	}

	return out
}

// callbackToken matches the 9-character JSONP callback token embedded in a
// response body, e.g. "_xdc_._abc123xyz(".
var callbackToken = regexp.MustCompile(`_xdc_\._(.{9})`)

// replaceCallback renames the archived response's JSONP callback token to
// match the incoming request's callback parameter, so the client's
// script-tag callback actually fires. Ported from mutate_response's
// newkey/oldkey substitution.
func replaceCallback(req archive.Request, body []byte) ([]byte, bool) {
	const marker = "callback=_xdc_._"
	idx := strings.LastIndex(req.FullPath, marker)
	if idx < 0 {
		return body, false
	}
	newKey := req.FullPath[idx+len(marker):]
	if amp := strings.IndexByte(newKey, '&'); amp >= 0 {
		newKey = newKey[:amp]
	}
	if newKey == "" {
		return body, false
	}

	loc := callbackToken.FindSubmatchIndex(body)
	if loc == nil {
		return body, false
	}
	oldKey := string(body[loc[2]:loc[3]])
	if oldKey == newKey {
		return body, false
	}
	return bytes.ReplaceAll(body, []byte("_xdc_._"+oldKey), []byte("_xdc_._"+newKey)), true
}

var (
	echRe = regexp.MustCompile(`ech=\d+`)
	psiRe = regexp.MustCompile(`psi=[A-Za-z0-9_.]+`)
)

// echoIgnoredParams copies the request's ech=/psi= query parameter values
// into the response body, replacing the first ech= and the first psi=
// occurrence the archived response carries. Ported from mutate_response's
// ignore-path branch.
func echoIgnoredParams(req archive.Request, body []byte) ([]byte, bool) {
	query := req.FullPath
	if i := strings.IndexByte(query, '?'); i >= 0 {
		query = query[i+1:]
	} else {
		return body, false
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return body, false
	}

	changed := false
	out := body
	if ech := values.Get("ech"); ech != "" {
		if loc := echRe.FindIndex(out); loc != nil {
			out = append(append(append([]byte{}, out[:loc[0]]...), "ech="+ech...), out[loc[1]:]...)
			changed = true
		}
	}
	if psi := values.Get("psi"); psi != "" {
		if loc := psiRe.FindIndex(out); loc != nil {
			out = append(append(append([]byte{}, out[:loc[0]]...), "psi="+psi...), out[loc[1]:]...)
			changed = true
		}
	}
	return out, changed
}

const injectSentinel = "data-wpr-injected"

// injectScript inserts script immediately after the first <head> or,
// failing that, <html> tag. Idempotent: a body already carrying the
// sentinel attribute or the script itself is returned unchanged.
func injectScript(body []byte, script []byte) ([]byte, bool) {
	if bytes.Contains(body, []byte(injectSentinel)) || bytes.Contains(body, script) {
		return body, false
	}
	lower := bytes.ToLower(body)
	tag := []byte("<head>")
	idx := bytes.Index(lower, tag)
	if idx < 0 {
		tag = []byte("<html>")
		idx = bytes.Index(lower, tag)
	}
	if idx < 0 {
		return body, false
	}
	insertAt := idx + len(tag)
	out := make([]byte, 0, len(body)+len(script))
	out = append(out, body[:insertAt]...)
	out = append(out, script...)
	out = append(out, body[insertAt:]...)
	return out, true
}

// scrambleImage decodes body as contentType, pseudo-randomly shuffles its
// pixels, and re-encodes it in the same format. Any decode/encode failure
// returns the original bytes unchanged, matching the original's broad
// exception swallow in _ScrambleImages. Pixel access goes through
// github.com/disintegration/imaging, which normalizes any decoded image
// into a contiguous *image.NRGBA (imaging.Clone) so the shuffle below can
// permute whole pixels instead of re-deriving color models by hand.
func scrambleImage(body []byte, contentType string) ([]byte, bool) {
	img, err := imaging.Decode(bytes.NewReader(body))
	if err != nil {
		return body, false
	}
	format, err := formatFromContentType(contentType)
	if err != nil {
		return body, false
	}

	nrgba := imaging.Clone(img) // *image.NRGBA with a contiguous Pix buffer
	bounds := nrgba.Bounds()
	pixelCount := bounds.Dx() * bounds.Dy()
	perm := rand.New(rand.NewSource(stableSeed(body))).Perm(pixelCount)

	src := nrgba.Pix
	dst := make([]uint8, len(src))
	for i, j := range perm {
		copy(dst[i*4:i*4+4], src[j*4:j*4+4])
	}
	nrgba.Pix = dst

	var buf bytes.Buffer
	var encErr error
	switch format {
	case "jpeg":
		encErr = jpeg.Encode(&buf, nrgba, nil)
	case "png":
		encErr = png.Encode(&buf, nrgba)
	case "gif":
		encErr = gif.Encode(&buf, nrgba, nil)
	default:
		return body, false
	}
	if encErr != nil {
		return body, false
	}
	return buf.Bytes(), true
}

func formatFromContentType(contentType string) (string, error) {
	switch {
	case strings.Contains(contentType, "jpeg"), strings.Contains(contentType, "jpg"):
		return "jpeg", nil
	case strings.Contains(contentType, "png"):
		return "png", nil
	case strings.Contains(contentType, "gif"):
		return "gif", nil
	default:
		return "", errUnsupportedImageFormat
	}
}

// stableSeed derives a deterministic PRNG seed from the image bytes so the
// same archived image always scrambles the same way (invariant-adjacent:
// the mutation must be stable per-response across repeated replays of the
// same recorded entry, per design note 4.5/8.6).
func stableSeed(body []byte) int64 {
	var seed int64
	for i, b := range body {
		seed = seed*31 + int64(b)
		if i > 4096 {
			break
		}
	}
	if seed == 0 {
		seed = 1
	}
	return seed
}
