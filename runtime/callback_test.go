package runtime

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/livebook-dev/pythonx"
	"github.com/livebook-dev/pythonx/internal/fakepy"
)

func TestCallTokenRoundTrip(t *testing.T) {
	tok := callToken{
		callID:    42,
		originTID: 7,
		stdout:    3,
		stderr:    4,
	}

	decoded, err := decodeCallToken(tok.encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != tok {
		t.Errorf("expected %+v, got %+v", tok, decoded)
	}
}

func TestCallTokenRejectsMalformed(t *testing.T) {
	if _, err := decodeCallToken([]byte{1, 2, 3}); err == nil {
		t.Error("short token must fail")
	}

	buf := callToken{callID: 1}.encode()
	buf[0] = 99
	if _, err := decodeCallToken(buf); err == nil {
		t.Error("unknown version must fail")
	}
}

func TestOutputIsolation(t *testing.T) {
	rt, _ := newTestRuntime(t)

	var wg sync.WaitGroup
	outputs := make([]*bufferDevice, 4)
	for i := range outputs {
		outputs[i] = &bufferDevice{}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := rt.Eval(context.Background(), fmt.Sprintf("print('line %d')", i), EvalOptions{
				Stdout: outputs[i],
			})
			if err != nil {
				t.Errorf("eval %d: %v", i, err)
				return
			}
			result.Release()
		}(i)
	}
	wg.Wait()

	for i, out := range outputs {
		want := fmt.Sprintf("line %d\n", i)
		if got := out.String(); got != want {
			t.Errorf("device %d: expected %q, got %q", i, want, got)
		}
	}
}

func TestStderrRouting(t *testing.T) {
	rt, _ := newTestRuntime(t)

	var (
		mu     sync.Mutex
		stream pythonx.Stream
		text   string
	)
	device := pythonx.DeviceFunc(func(s pythonx.Stream, msg string) {
		mu.Lock()
		defer mu.Unlock()
		stream, text = s, msg
	})

	id := rt.devices.register(device)
	defer rt.devices.remove(id)

	tok := callToken{callID: 1, originTID: 99, stderr: id}
	rt.handleOutput(99, tok.encode(), pythonx.Stderr, "oops\n")

	mu.Lock()
	defer mu.Unlock()
	if stream != pythonx.Stderr || text != "oops\n" {
		t.Errorf("expected stderr oops, got %v %q", stream, text)
	}
}

func TestOutputFromDetachedThread(t *testing.T) {
	rt, _ := newTestRuntime(t)

	out := &bufferDevice{}
	id := rt.devices.register(out)
	defer rt.devices.remove(id)

	tok := callToken{callID: 1, originTID: 1, stdout: id}

	// a thread id the scheduler does not own forces the janitor path
	rt.handleOutput(nextDetachedTID(), tok.encode(), pythonx.Stdout, "from afar\n")

	require.Eventually(t, func() bool {
		return out.String() == "from afar\n"
	}, time.Second, 5*time.Millisecond)
}

func TestOutputAfterEvalStillDelivered(t *testing.T) {
	rt, in := newTestRuntime(t)

	out := &bufferDevice{}
	result := evalSource(t, rt, "spawn_write('late')", EvalOptions{Stdout: out})
	result.Release()

	// The spawned interpreter thread may write well after the evaluation
	// returned; its device registration stays live, so the write reaches
	// the original stream target through the janitor.
	in.WaitThreads()

	require.Eventually(t, func() bool {
		return out.String() == "late"
	}, time.Second, 5*time.Millisecond)
}

func TestConsumerNestedCallRunsInline(t *testing.T) {
	in := fakepy.New()
	rt, err := NewWithAPI(in, Config{Workers: 1})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { rt.Close(context.Background()) })

	var (
		mu  sync.Mutex
		got any
	)
	rt.RegisterConsumer("sink", ConsumerFunc(func(msg Message) {
		// Delivered on the evaluation's own worker; decoding re-enters
		// the scheduler from inside it and must not queue behind it.
		v, decErr := rt.Decode(msg.Value)
		if decErr != nil {
			t.Errorf("decode in consumer: %v", decErr)
		}
		msg.Value.Release()
		mu.Lock()
		got = v
		mu.Unlock()
	}))

	result := evalSource(t, rt, "send_tagged_object(p, 'nested', 7)", EvalOptions{
		Globals: map[string]any{"p": rt.PIDFor("sink")},
	})
	result.Release()

	mu.Lock()
	defer mu.Unlock()
	if got != int64(7) {
		t.Errorf("expected 7, got %v", got)
	}
}

func TestSendToConsumer(t *testing.T) {
	rt, _ := newTestRuntime(t)

	var (
		mu       sync.Mutex
		received []Message
	)
	rt.RegisterConsumer("sink", ConsumerFunc(func(msg Message) {
		mu.Lock()
		received = append(received, msg)
		mu.Unlock()
	}))
	defer rt.DeregisterConsumer("sink")

	result := evalSource(t, rt, "send_tagged_object(p, 'answer', 42)", EvalOptions{
		Globals: map[string]any{"p": rt.PIDFor("sink")},
	})
	result.Release()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	msg := received[0]
	mu.Unlock()

	if msg.Tag != "answer" {
		t.Errorf("expected tag answer, got %q", msg.Tag)
	}
	v, err := rt.Decode(msg.Value)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if v != int64(42) {
		t.Errorf("expected 42, got %v", v)
	}
	msg.Value.Release()
}

func TestSendToUnknownConsumerDropped(t *testing.T) {
	rt, _ := newTestRuntime(t)

	result := evalSource(t, rt, "send_tagged_object(p, 'void', 1)", EvalOptions{
		Globals: map[string]any{"p": rt.PIDFor("nobody")},
	})
	result.Release()

	// the runtime stays usable after a dropped send
	second := evalSource(t, rt, "1 + 1", EvalOptions{})
	defer second.Release()
	if got := decodedValue(t, rt, second); got != int64(2) {
		t.Errorf("expected 2, got %v", got)
	}
}

func TestPIDRoundTrip(t *testing.T) {
	rt, _ := newTestRuntime(t)

	result := evalSource(t, rt, "p", EvalOptions{
		Globals: map[string]any{"p": rt.PIDFor("sink")},
	})
	defer result.Release()

	got := decodedValue(t, rt, result)
	pid, ok := got.(PID)
	if !ok {
		t.Fatalf("expected PID, got %v (%T)", got, got)
	}
	if string(pid.Data) != "sink" {
		t.Errorf("expected payload sink, got %q", pid.Data)
	}
}
