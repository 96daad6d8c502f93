// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

//go:build integration

package propagate

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats-server/v2/server"
	natsgo "github.com/nats-io/nats.go"
)

func startEmbeddedNATS(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("create nats server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

func TestNATSPublisher_EmbeddedServer(t *testing.T) {
	ns := startEmbeddedNATS(t)

	nc, err := natsgo.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()

	sub, err := nc.SubscribeSync("propfix.entities.repaired")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatal(err)
	}

	cfg := testNATSConfig(3)
	cfg.URL = ns.ClientURL()
	cfg.MaxReconnects = 1
	cfg.ReconnectWait = 10 * time.Millisecond
	p, err := NewNATSPublisher(cfg, nil)
	if err != nil {
		t.Fatalf("NewNATSPublisher: %v", err)
	}
	defer p.Close()

	snap := testSnapshot("u1", 2)
	if err := p.Publish(context.Background(), snap); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	msg, err := sub.NextMsg(5 * time.Second)
	if err != nil {
		t.Fatalf("NextMsg: %v", err)
	}
	if got := msg.Header.Get("_watermill_message_uuid"); got != MessageID(snap) {
		t.Errorf("message uuid header = %q, want %q", got, MessageID(snap))
	}

	var got Snapshot
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.State.ID != "u1" || got.State.Version != 2 {
		t.Errorf("received %+v", got.State)
	}
}
