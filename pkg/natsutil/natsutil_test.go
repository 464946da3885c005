package natsutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

type rebuildNotice struct {
	Fingerprint string `json:"fingerprint"`
	Chunks      int    `json:"chunks"`
}

func TestNatsHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	carrier := (*natsHeaderCarrier)(msg)

	carrier.Set("traceparent", "00-abc-def-01")
	if got := carrier.Get("traceparent"); got != "00-abc-def-01" {
		t.Fatalf("expected traceparent, got %q", got)
	}

	keys := carrier.Keys()
	if len(keys) != 1 {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestNatsHeaderCarrierNilHeader(t *testing.T) {
	msg := &nats.Msg{}
	carrier := (*natsHeaderCarrier)(msg)

	if got := carrier.Get("missing"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if keys := carrier.Keys(); keys != nil {
		t.Fatalf("expected nil keys, got %v", keys)
	}
}

func TestPublishSubscribe(t *testing.T) {
	nc := startTestNATS(t)

	ch := make(chan rebuildNotice, 1)
	sub, err := Subscribe(nc, "test.rebuilt", func(ctx context.Context, n rebuildNotice) {
		ch <- n
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	err = Publish(context.Background(), nc, "test.rebuilt", rebuildNotice{Fingerprint: "abc123", Chunks: 42})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case n := <-ch:
		if n.Fingerprint != "abc123" || n.Chunks != 42 {
			t.Fatalf("unexpected notice: %+v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestSubscribeDropsMalformed(t *testing.T) {
	nc := startTestNATS(t)

	called := make(chan struct{}, 1)
	sub, err := Subscribe(nc, "test.malformed", func(ctx context.Context, n rebuildNotice) {
		called <- struct{}{}
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	nc.Publish("test.malformed", []byte("{bad"))
	nc.Flush()

	select {
	case <-called:
		t.Fatal("handler should not be called for malformed data")
	case <-time.After(100 * time.Millisecond):
		// expected
	}
}

func TestRequest(t *testing.T) {
	nc := startTestNATS(t)

	sub, err := nc.Subscribe("test.req", func(msg *nats.Msg) {
		var req rebuildNotice
		json.Unmarshal(msg.Data, &req)
		resp := rebuildNotice{Fingerprint: req.Fingerprint, Chunks: req.Chunks * 2}
		data, _ := json.Marshal(resp)
		msg.Respond(data)
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	resp, err := Request[rebuildNotice, rebuildNotice](context.Background(), nc, "test.req", rebuildNotice{Fingerprint: "fp", Chunks: 5})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Fingerprint != "fp" || resp.Chunks != 10 {
		t.Fatalf("unexpected resp: %+v", resp)
	}
}

func TestRequestNoResponder(t *testing.T) {
	nc := startTestNATS(t)

	_, err := Request[rebuildNotice, rebuildNotice](context.Background(), nc, "test.noreply", rebuildNotice{})
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestPublishMarshalError(t *testing.T) {
	nc := startTestNATS(t)

	// chan is not JSON-marshalable
	err := Publish(context.Background(), nc, "test.err", make(chan int))
	if err == nil {
		t.Fatal("expected marshal error")
	}
}
