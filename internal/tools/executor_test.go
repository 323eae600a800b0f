package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opspilot/opspilot/internal/capability"
	"github.com/opspilot/opspilot/internal/core"
)

type echoArgs struct {
	Text string `json:"text" jsonschema:"required,description=Text to echo"`
}

type optArgs struct {
	Limit int `json:"limit,omitempty" jsonschema:"description=Limit"`
}

func testRegistry(t *testing.T, extra ...Tool) *Registry {
	t.Helper()
	set := []Tool{
		NewFunc("echo", core.FamilyMetrics, true, "Echo text back.",
			func(ctx context.Context, a echoArgs) (string, error) {
				return a.Text, nil
			}),
		NewFunc("slow", core.FamilyMetrics, true, "Block until canceled.",
			func(ctx context.Context, a optArgs) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			}),
		NewFunc("boom", core.FamilyMetrics, true, "Panic on purpose.",
			func(ctx context.Context, a optArgs) (string, error) {
				panic("exploded")
			}),
		NewFunc("pd_list", core.FamilyIncidents, true, "Incidents family tool.",
			func(ctx context.Context, a optArgs) (string, error) {
				return "incidents", nil
			}),
	}
	set = append(set, extra...)
	reg, err := NewRegistry(set)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func allFamilies() capability.Set {
	s := capability.Set{}
	for _, f := range core.Families() {
		s[f] = true
	}
	return s
}

func TestInvokeSuccess(t *testing.T) {
	e := NewExecutor(testRegistry(t), allFamilies(), 2, time.Second, 0)

	res := e.Invoke(context.Background(), core.ToolCall{
		ID: "c1", Name: "echo", Arguments: json.RawMessage(`{"text":"hello"}`),
	})
	if !res.OK {
		t.Fatalf("expected OK, got %+v", res)
	}
	if res.Content != "hello" {
		t.Fatalf("content = %q", res.Content)
	}
	if res.ID != "c1" || res.Name != "echo" {
		t.Fatalf("identity not preserved: %+v", res)
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	e := NewExecutor(testRegistry(t), allFamilies(), 2, time.Second, 0)

	res := e.Invoke(context.Background(), core.ToolCall{ID: "c1", Name: "nope"})
	if res.OK {
		t.Fatal("expected failure for unknown tool")
	}
	if !strings.Contains(res.Content, "unsupported tool") {
		t.Fatalf("content = %q", res.Content)
	}
}

func TestInvokeDisabledFamily(t *testing.T) {
	caps := capability.Set{core.FamilyMetrics: true} // incidents off
	e := NewExecutor(testRegistry(t), caps, 2, time.Second, 0)

	res := e.Invoke(context.Background(), core.ToolCall{ID: "c1", Name: "pd_list", Arguments: json.RawMessage(`{}`)})
	if res.OK {
		t.Fatal("expected failure for disabled family")
	}
	if !strings.Contains(res.Content, "not available in this configuration") {
		t.Fatalf("content = %q", res.Content)
	}
}

func TestInvokeValidationNeverReachesHandler(t *testing.T) {
	called := false
	reg := testRegistry(t, NewFunc("strict", core.FamilyMetrics, true, "Requires text.",
		func(ctx context.Context, a echoArgs) (string, error) {
			called = true
			return a.Text, nil
		}))
	e := NewExecutor(reg, allFamilies(), 2, time.Second, 0)

	for _, args := range []string{`{}`, `{"text":42}`, `{"text":"x","bogus":1}`, `"not an object"`} {
		res := e.Invoke(context.Background(), core.ToolCall{ID: "c1", Name: "strict", Arguments: json.RawMessage(args)})
		if res.OK {
			t.Fatalf("args %s: expected validation failure", args)
		}
		if !strings.Contains(res.Content, "invalid arguments for strict") {
			t.Fatalf("args %s: content = %q", args, res.Content)
		}
	}
	if called {
		t.Fatal("handler ran despite invalid arguments")
	}
}

func TestInvokeTimeout(t *testing.T) {
	e := NewExecutor(testRegistry(t), allFamilies(), 2, 20*time.Millisecond, 0)

	res := e.Invoke(context.Background(), core.ToolCall{ID: "c1", Name: "slow", Arguments: json.RawMessage(`{}`)})
	if res.OK {
		t.Fatal("expected timeout failure")
	}
	if !strings.Contains(res.Content, "timed out") {
		t.Fatalf("content = %q", res.Content)
	}
}

func TestInvokePanicRecovered(t *testing.T) {
	e := NewExecutor(testRegistry(t), allFamilies(), 2, time.Second, 0)

	res := e.Invoke(context.Background(), core.ToolCall{ID: "c1", Name: "boom", Arguments: json.RawMessage(`{}`)})
	if res.OK {
		t.Fatal("expected failure from panicking tool")
	}
	if !strings.Contains(res.Content, "panic") {
		t.Fatalf("content = %q", res.Content)
	}
}

func TestInvokeTruncatesOutput(t *testing.T) {
	reg := testRegistry(t, NewFunc("big", core.FamilyMetrics, true, "Return a lot.",
		func(ctx context.Context, a optArgs) (string, error) {
			return strings.Repeat("x", 5000), nil
		}))
	e := NewExecutor(reg, allFamilies(), 2, time.Second, 500)

	res := e.Invoke(context.Background(), core.ToolCall{ID: "c1", Name: "big", Arguments: json.RawMessage(`{}`)})
	if !res.OK {
		t.Fatalf("expected OK, got %+v", res)
	}
	if len([]rune(res.Content)) > 500 {
		t.Fatalf("content not capped: %d runes", len([]rune(res.Content)))
	}
	if !strings.Contains(res.Content, "output truncated") {
		t.Fatal("missing truncation note")
	}
}

// sleepyArgs is a named type because jsonschema reflection panics on
// anonymous structs when ExpandedStruct is set.
type sleepyArgs struct {
	Index int `json:"index" jsonschema:"required,description=Index"`
	MS    int `json:"ms" jsonschema:"required,description=Sleep duration"`
}

func TestInvokeBatchOrderPreserved(t *testing.T) {
	// Each call sleeps inversely to its index so completion order is the
	// reverse of request order.
	reg := testRegistry(t, NewFunc("sleepy", core.FamilyMetrics, true, "Sleep then echo.",
		func(ctx context.Context, a sleepyArgs) (string, error) {
			time.Sleep(time.Duration(a.MS) * time.Millisecond)
			return fmt.Sprintf("result-%d", a.Index), nil
		}))
	e := NewExecutor(reg, allFamilies(), 4, time.Second, 0)

	calls := []core.ToolCall{
		{ID: "a", Name: "sleepy", Arguments: json.RawMessage(`{"index":0,"ms":60}`)},
		{ID: "b", Name: "sleepy", Arguments: json.RawMessage(`{"index":1,"ms":30}`)},
		{ID: "c", Name: "sleepy", Arguments: json.RawMessage(`{"index":2,"ms":1}`)},
	}

	var mu sync.Mutex
	var started, finished []string
	results := e.InvokeBatch(context.Background(), calls,
		func(c core.ToolCall) {
			mu.Lock()
			started = append(started, c.ID)
			mu.Unlock()
		},
		func(r core.ToolResult) {
			mu.Lock()
			finished = append(finished, r.ID)
			mu.Unlock()
		})

	if len(results) != len(calls) {
		t.Fatalf("got %d results for %d calls", len(results), len(calls))
	}
	for i, want := range []string{"a", "b", "c"} {
		if results[i].ID != want {
			t.Fatalf("results[%d].ID = %q, want %q", i, results[i].ID, want)
		}
		if results[i].Content != fmt.Sprintf("result-%d", i) {
			t.Fatalf("results[%d].Content = %q", i, results[i].Content)
		}
	}
	if len(started) != 3 || len(finished) != 3 {
		t.Fatalf("callbacks: started=%v finished=%v", started, finished)
	}
}

func TestInvokeBatchPartialFailure(t *testing.T) {
	e := NewExecutor(testRegistry(t), allFamilies(), 4, time.Second, 0)

	calls := []core.ToolCall{
		{ID: "ok", Name: "echo", Arguments: json.RawMessage(`{"text":"fine"}`)},
		{ID: "bad", Name: "boom", Arguments: json.RawMessage(`{}`)},
	}
	results := e.InvokeBatch(context.Background(), calls, nil, nil)

	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	if !results[0].OK || results[0].Content != "fine" {
		t.Fatalf("first result: %+v", results[0])
	}
	if results[1].OK {
		t.Fatalf("second result should fail: %+v", results[1])
	}
}

func TestDescriptorsOrderedAndGated(t *testing.T) {
	e := NewExecutor(testRegistry(t), allFamilies(), 2, time.Second, 0)
	all := e.Descriptors()

	for i := 1; i < len(all); i++ {
		a, b := all[i-1], all[i]
		if a.Family > b.Family || (a.Family == b.Family && a.Name > b.Name) {
			t.Fatalf("descriptors out of order at %d: %s/%s before %s/%s", i, a.Family, a.Name, b.Family, b.Name)
		}
	}

	gated := NewExecutor(testRegistry(t), capability.Set{core.FamilyIncidents: true}, 2, time.Second, 0)
	for _, d := range gated.Descriptors() {
		if d.Family != core.FamilyIncidents {
			t.Fatalf("descriptor %s leaked from disabled family %s", d.Name, d.Family)
		}
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	dup := NewFunc("echo", core.FamilyQueue, true, "Duplicate name.",
		func(ctx context.Context, a optArgs) (string, error) { return "", nil })
	set := []Tool{
		NewFunc("echo", core.FamilyMetrics, true, "Original.",
			func(ctx context.Context, a optArgs) (string, error) { return "", nil }),
	}
	if _, err := NewRegistry(set, []Tool{dup}); err == nil {
		t.Fatal("expected duplicate-name error")
	}
}
