package rewrite

import (
	"net/http"
	"testing"

	"github.com/relayforge/relayforge/internal/codec"
	"github.com/relayforge/relayforge/internal/rules"
	"github.com/relayforge/relayforge/internal/wire"

	"google.golang.org/protobuf/encoding/protowire"
)

func compileText(t *testing.T, r rules.TextRule) *rules.CompiledText {
	t.Helper()
	c, err := rules.CompileText(r)
	if err != nil {
		t.Fatalf("CompileText: %v", err)
	}
	return c
}

func TestApplyTextBetweenMode(t *testing.T) {
	c := compileText(t, rules.TextRule{ID: "1", Enabled: true, Start: `"user":"`, End: `"`, Replacement: `"admin"`, Target: rules.TargetRequest})
	out, applied := ApplyText(`{"user":"guest","n":1}`, []*rules.CompiledText{c}, false, "", "")
	if out != `{"user":"admin","n":1}` {
		t.Errorf("ApplyText = %q", out)
	}
	if len(applied) != 1 || applied[0].ID != "1" {
		t.Errorf("applied = %+v", applied)
	}
}

func TestApplyTextBetweenModeRegexMultipleDistinctMatches(t *testing.T) {
	c := compileText(t, rules.TextRule{
		ID: "1", Enabled: true, UseRegex: true, CaseSensitive: true,
		Start: `id-\d+`, End: `,`, Replacement: "REDACTED", Target: rules.TargetBoth,
	})
	out, applied := ApplyText("a=id-1,b=id-2,c=id-3,end", []*rules.CompiledText{c}, false, "", "")
	if out != "a=REDACTEDb=REDACTEDc=REDACTEDend" {
		t.Errorf("ApplyText = %q", out)
	}
	if len(applied) != 1 {
		t.Errorf("expected one applied rule, got %d", len(applied))
	}
}

func TestApplyTextPrefixMode(t *testing.T) {
	c := compileText(t, rules.TextRule{ID: "1", Enabled: true, Start: "hello", Replacement: "world", Target: rules.TargetBoth})
	out, applied := ApplyText("say hello to hello again", []*rules.CompiledText{c}, false, "", "")
	if out != "say world to world again" {
		t.Errorf("ApplyText = %q", out)
	}
	if len(applied) != 1 {
		t.Errorf("expected one applied rule, got %d", len(applied))
	}
}

func TestApplyTextRespectsURLPatternAndPhase(t *testing.T) {
	c := compileText(t, rules.TextRule{ID: "1", Enabled: true, Start: "a", Replacement: "b", Target: rules.TargetResponse, URLPattern: "/only/this"})
	out, applied := ApplyText("aaa", []*rules.CompiledText{c}, false, "/other", "/other")
	if out != "aaa" || len(applied) != 0 {
		t.Errorf("expected no-op for mismatched URL, got %q %+v", out, applied)
	}

	out, applied = ApplyText("aaa", []*rules.CompiledText{c}, true, "/only/this", "/only/this")
	if out != "bbb" || len(applied) != 1 {
		t.Errorf("expected rewrite on response phase match, got %q %+v", out, applied)
	}
}

func TestApplyJSONPathCoercionAndIdentitySkip(t *testing.T) {
	root := map[string]any{"f2": "alpha", "n": float64(1)}
	c := rules.CompileJSONPath(rules.JSONPathRule{ID: "1", Enabled: true, URLPattern: "/svc", Path: "root.f2", Value: "beta", ValueType: rules.ValueString, Target: rules.TargetRequest})

	res := ApplyJSONPath(root, []*rules.CompiledJSONPath{c}, false, "/svc/Method", "/svc/Method")
	if root["f2"] != "beta" {
		t.Errorf("expected f2 = beta, got %v", root["f2"])
	}
	if len(res.Applied) != 1 || len(res.ChangedTopLevelKeys) != 1 || res.ChangedTopLevelKeys[0] != "f2" {
		t.Errorf("unexpected result: %+v", res)
	}

	res2 := ApplyJSONPath(root, []*rules.CompiledJSONPath{c}, false, "/svc/Method", "/svc/Method")
	if len(res2.Applied) != 0 {
		t.Errorf("expected identity write (beta==beta) to be skipped, got %+v", res2.Applied)
	}
}

func TestStripIdentifyingHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Baggage", "x")
	h.Set("Sentry-Trace", "y")
	h.Set("Sentry-Foo", "z")
	h.Set("X-Keep", "k")

	out := CreateForwardHeaders(h, false)
	for _, name := range []string{"Baggage", "Sentry-Trace", "Sentry-Foo"} {
		if out.Get(name) != "" {
			t.Errorf("expected %s to be stripped", name)
		}
	}
	if out.Get("X-Keep") != "k" {
		t.Error("expected X-Keep to survive")
	}
}

func TestCreateForwardHeadersBypassPreservesTracing(t *testing.T) {
	h := http.Header{}
	h.Set("Baggage", "x")
	out := CreateForwardHeaders(h, true)
	if out.Get("Baggage") != "x" {
		t.Error("bypass flows must not strip tracing headers")
	}
}

func TestCreateForwardHeadersIdempotent(t *testing.T) {
	h := http.Header{}
	h.Set("Connection", "keep-alive")
	h.Set("Sentry-Trace", "y")
	once := CreateForwardHeaders(h, false)
	twice := CreateForwardHeaders(once, false)
	if len(once) != len(twice) {
		t.Errorf("expected idempotent header stripping, got %v then %v", once, twice)
	}
}

func TestApplyConnectRoundTripWithTextRewrite(t *testing.T) {
	fields := []wire.Field{wire.EncodeBytesField(2, []byte("alpha"))}
	msg := wire.EncodeMessage(fields)
	frame := wire.BuildFrames([]wire.Frame{{Flags: 0, Payload: msg}})

	c := compileText(t, rules.TextRule{ID: "1", Enabled: true, Start: "alpha", Replacement: "beta", Target: rules.TargetRequest})

	out, applied, ok, err := ApplyConnect(frame, codec.Identity, codec.Identity, []*rules.CompiledText{c}, nil, false, "/svc/Method", "/svc/Method", ConnectLimits{MaxFrames: 10, MaxFrameBytes: 1 << 20, MaxFields: 100, MaxBytes: 1 << 20})
	if err != nil {
		t.Fatalf("ApplyConnect: %v", err)
	}
	if !ok {
		t.Fatal("expected ApplyConnect to recognise the envelope")
	}
	if len(applied) != 1 {
		t.Fatalf("expected one applied rule, got %+v", applied)
	}

	frames, err := wire.SplitFrames(out)
	if err != nil {
		t.Fatalf("SplitFrames: %v", err)
	}
	outFields, err := wire.ParseMessage(frames[0].Payload, 100)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if string(outFields[0].Raw) != "beta" {
		t.Errorf("expected rewritten field value beta, got %q", outFields[0].Raw)
	}
}

func TestApplyConnectNoEnvelopeReturnsNotOK(t *testing.T) {
	_, _, ok, err := ApplyConnect([]byte("not an envelope at all"), codec.Identity, codec.Identity, nil, nil, false, "", "", ConnectLimits{MaxFrames: 10, MaxFrameBytes: 1024, MaxFields: 10, MaxBytes: 1024})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected ok=false for non-envelope body")
	}
}

func TestApplyConnectJSONPathSurgicalRewrite(t *testing.T) {
	fields := []wire.Field{wire.EncodeBytesField(2, []byte("alpha"))}
	msg := wire.EncodeMessage(fields)
	frame := wire.BuildFrames([]wire.Frame{{Flags: 0, Payload: msg}})

	c := rules.CompileJSONPath(rules.JSONPathRule{ID: "1", Enabled: true, URLPattern: "/svc/Method", Path: "root.f2", Value: "beta", ValueType: rules.ValueString, Target: rules.TargetRequest})

	out, applied, ok, err := ApplyConnect(frame, codec.Identity, codec.Identity, nil, []*rules.CompiledJSONPath{c}, false, "/svc/Method", "/svc/Method", ConnectLimits{MaxFrames: 10, MaxFrameBytes: 1 << 20, MaxFields: 100, MaxBytes: 1 << 20})
	if err != nil || !ok {
		t.Fatalf("ApplyConnect: ok=%v err=%v", ok, err)
	}
	if len(applied) != 1 {
		t.Fatalf("expected one applied rule, got %+v", applied)
	}

	frames, _ := wire.SplitFrames(out)
	outFields, _ := wire.ParseMessage(frames[0].Payload, 100)
	if outFields[0].Number != protowire.Number(2) || string(outFields[0].Raw) != "beta" {
		t.Errorf("expected field 2 = beta, got %+v", outFields[0])
	}
}

func TestApplyWebSocketTextRewrite(t *testing.T) {
	c := compileText(t, rules.TextRule{ID: "1", Enabled: true, Start: "hello", Replacement: "world", Target: rules.TargetBoth})
	res := ApplyWebSocketText(`42/ws/channel,["msg","hello"]`, []*rules.CompiledText{c}, nil, false, "", "")
	if res.Payload != `42/ws/channel,["msg","world"]` {
		t.Errorf("ApplyWebSocketText payload = %q", res.Payload)
	}
	if !res.Changed {
		t.Error("expected Changed=true")
	}
}

func TestApplyWebSocketTextJSONPathOnTail(t *testing.T) {
	c := rules.CompileJSONPath(rules.JSONPathRule{ID: "1", Enabled: true, URLPattern: "/ws", Path: "root.f2", Value: "beta", ValueType: rules.ValueString, Target: rules.TargetRequest})
	res := ApplyWebSocketText(`42,{"f2":"alpha"}`, nil, []*rules.CompiledJSONPath{c}, false, "/ws", "/ws")
	if res.Payload != `42,{"f2":"beta"}` {
		t.Errorf("payload = %q", res.Payload)
	}
}

func TestApplyBodyTextThenJSONPath(t *testing.T) {
	textRule := compileText(t, rules.TextRule{ID: "t1", Enabled: true, Start: "guest", Replacement: "member", Target: rules.TargetRequest})
	jp := rules.CompileJSONPath(rules.JSONPathRule{ID: "j1", Enabled: true, URLPattern: "/svc", Path: "root.role", Value: "admin", ValueType: rules.ValueString, Target: rules.TargetRequest})

	res := ApplyBody([]byte(`{"user":"guest","role":"user"}`), []*rules.CompiledText{textRule}, []*rules.CompiledJSONPath{jp}, false, "/svc", "/svc")
	if !res.Changed {
		t.Fatal("expected body to be changed")
	}
	if string(res.Body) != `{"role":"admin","user":"member"}` {
		t.Errorf("ApplyBody = %s", res.Body)
	}
	if len(res.Applied) != 2 {
		t.Errorf("expected both rules to report applied, got %+v", res.Applied)
	}
}

func TestApplyBodyNonJSONSkipsJSONPath(t *testing.T) {
	jp := rules.CompileJSONPath(rules.JSONPathRule{ID: "j1", Enabled: true, URLPattern: "/svc", Path: "root.role", Value: "admin", ValueType: rules.ValueString, Target: rules.TargetRequest})
	res := ApplyBody([]byte("plain text body"), nil, []*rules.CompiledJSONPath{jp}, false, "/svc", "/svc")
	if res.Changed {
		t.Error("expected no-op on non-JSON body")
	}
	if string(res.Body) != "plain text body" {
		t.Errorf("ApplyBody = %s", res.Body)
	}
}
