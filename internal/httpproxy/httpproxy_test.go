package httpproxy

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/relayforge/relayforge/internal/config"
	"github.com/relayforge/relayforge/internal/rules"
)

func TestResolveTargetPrefersTargetHeader(t *testing.T) {
	r, _ := http.NewRequest("GET", "/v1/chat", nil)
	r.Header.Set("X-Target-URL", "https://api.upstream.test/v1/chat")
	target, err := ResolveTarget(r, false)
	if err != nil {
		t.Fatal(err)
	}
	if target != "https://api.upstream.test/v1/chat" {
		t.Errorf("ResolveTarget = %q", target)
	}
}

func TestResolveTargetAbsoluteRequestURI(t *testing.T) {
	r, _ := http.NewRequest("GET", "http://example.com/foo", nil)
	target, err := ResolveTarget(r, false)
	if err != nil {
		t.Fatal(err)
	}
	if target != "http://example.com/foo" {
		t.Errorf("ResolveTarget = %q", target)
	}
}

func TestResolveTargetBuildsFromHostAndProto(t *testing.T) {
	r, _ := http.NewRequest("GET", "/foo?x=1", nil)
	r.Host = "example.com"
	target, err := ResolveTarget(r, true)
	if err != nil {
		t.Fatal(err)
	}
	if target != "https://example.com/foo?x=1" {
		t.Errorf("ResolveTarget = %q", target)
	}
}

func TestResolveTargetHonoursForwardedProto(t *testing.T) {
	r, _ := http.NewRequest("GET", "/foo", nil)
	r.Host = "example.com"
	r.Header.Set("X-Forwarded-Proto", "https")
	target, err := ResolveTarget(r, false)
	if err != nil {
		t.Fatal(err)
	}
	if target != "https://example.com/foo" {
		t.Errorf("ResolveTarget = %q", target)
	}
}

func TestMatchLocalResourceLongestKeyWins(t *testing.T) {
	resources := map[string]rules.LocalResource{
		"example.com":          {Key: "example.com", Enabled: true},
		"example.com/api/user": {Key: "example.com/api/user", Enabled: true},
	}
	res, ok := matchLocalResource(resources, "/api/user", "https://example.com/api/user")
	if !ok {
		t.Fatal("expected a match")
	}
	if res.Key != "example.com/api/user" {
		t.Errorf("matched %q, want the more specific key", res.Key)
	}
}

func TestMatchLocalResourceSkipsDisabled(t *testing.T) {
	resources := map[string]rules.LocalResource{
		"example.com": {Key: "example.com", Enabled: false},
	}
	if _, ok := matchLocalResource(resources, "/", "https://example.com/"); ok {
		t.Error("expected disabled resource to be ignored")
	}
}

func TestShouldStreamUninspectedDisabledSetting(t *testing.T) {
	settings := config.Settings{StreamUninspectedResponses: false}
	toggles := config.Toggles{}
	if shouldStreamUninspected(settings, toggles, &rules.Snapshot{}, "", "application/octet-stream") {
		t.Error("expected false when the setting is off")
	}
}

func TestShouldStreamUninspectedFalseWithActiveEditRules(t *testing.T) {
	settings := config.Settings{StreamUninspectedResponses: true}
	toggles := config.Toggles{EditRulesEnabled: true}
	snap := &rules.Snapshot{Text: []*rules.CompiledText{{}}}
	if shouldStreamUninspected(settings, toggles, snap, "", "application/octet-stream") {
		t.Error("expected false when edit rules are active, regardless of content type")
	}
}

func TestShouldStreamUninspectedTrueForBinaryContentType(t *testing.T) {
	settings := config.Settings{StreamUninspectedResponses: true}
	toggles := config.Toggles{EditRulesEnabled: false}
	if !shouldStreamUninspected(settings, toggles, &rules.Snapshot{}, "", "image/png") {
		t.Error("expected true for a non-decompressible content type with no active rules")
	}
}

func TestShouldStreamUninspectedFalseForJSON(t *testing.T) {
	settings := config.Settings{StreamUninspectedResponses: true}
	toggles := config.Toggles{EditRulesEnabled: false}
	if shouldStreamUninspected(settings, toggles, &rules.Snapshot{}, "", "application/json") {
		t.Error("expected false for an inspectable content type")
	}
}

func TestShouldStreamUninspectedTrueForUnknownEncoding(t *testing.T) {
	settings := config.Settings{StreamUninspectedResponses: true}
	toggles := config.Toggles{EditRulesEnabled: false}
	if !shouldStreamUninspected(settings, toggles, &rules.Snapshot{}, "unknown-codec", "application/json") {
		t.Error("expected true when the content-encoding can't be decompressed to inspect")
	}
}

func TestCategorizeErrorTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)
	if got := categorizeError(ctx.Err()); got != "timeout" {
		t.Errorf("categorizeError(deadline exceeded) = %v", got)
	}
}

func TestCategorizeErrorAborted(t *testing.T) {
	if got := categorizeError(context.Canceled); got != "aborted" {
		t.Errorf("categorizeError(context.Canceled) = %v", got)
	}
}

func TestCategorizeErrorConnectionRefused(t *testing.T) {
	err := errors.New("dial tcp 127.0.0.1:9: connect: connection refused")
	if got := categorizeError(err); got != "connection" {
		t.Errorf("categorizeError(refused) = %v", got)
	}
}

func TestCategorizeErrorProtocol(t *testing.T) {
	err := errors.New("malformed HTTP response")
	if got := categorizeError(err); got != "protocol" {
		t.Errorf("categorizeError(malformed) = %v", got)
	}
}

func TestCategorizeErrorDefaultsToUpstream(t *testing.T) {
	err := errors.New("something went sideways")
	if got := categorizeError(err); got != "upstream" {
		t.Errorf("categorizeError(unknown) = %v", got)
	}
}

func TestReadBoundedWithinLimit(t *testing.T) {
	body, over, err := readBounded(strings.NewReader("hello"), 10)
	if err != nil || over {
		t.Fatalf("readBounded() = %q, over=%v, err=%v", body, over, err)
	}
	if string(body) != "hello" {
		t.Errorf("readBounded() = %q", body)
	}
}

func TestReadBoundedOverLimit(t *testing.T) {
	body, over, err := readBounded(bytes.NewReader([]byte("hello world")), 5)
	if err != nil {
		t.Fatal(err)
	}
	if !over {
		t.Error("expected overLimit=true")
	}
	if len(body) != 5 {
		t.Errorf("len(body) = %d, want 5", len(body))
	}
}

func TestReadBoundedZeroLimitIsUnbounded(t *testing.T) {
	body, over, err := readBounded(strings.NewReader(strings.Repeat("x", 1000)), 0)
	if err != nil || over {
		t.Fatalf("readBounded() over=%v, err=%v", over, err)
	}
	if len(body) != 1000 {
		t.Errorf("len(body) = %d, want 1000", len(body))
	}
}
