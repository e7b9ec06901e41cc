// Copyright (c) 2026 The KeePassRPC Authors.
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// server is a minimal example host of the rpcsession core. It listens
// for TCP connections, frames each inbound/outbound message as a
// newline-delimited JSON envelope (the transport and JSON framing are
// both external collaborators this core depends on, per spec.md §1),
// and drives one rpcsession.Connection per connection.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"

	"gopkg.in/inconshreveable/log15.v2"

	"github.com/keepassrpc/sessioncore"
	"github.com/keepassrpc/sessioncore/internal/pkg/configbag"
	"github.com/keepassrpc/sessioncore/internal/pkg/keystore"
	"github.com/keepassrpc/sessioncore/internal/pkg/uihost"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "%s is a simple example server of the rpcsession package. It can be used together with cmd/client.\nUsage:\n", os.Args[0])
		flag.PrintDefaults()
	}

	addr := flag.String("l", ":9999", "Address to listen on.")
	flag.Parse()

	log := log15.New()
	log.SetHandler(log15.StreamHandler(os.Stderr, log15.TerminalFormat()))

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	log.Info("listening", "addr", *addr)

	host := uihost.NewLocal()
	bag := configbag.NewMemory()
	store := keystore.NewStore(bag, keystore.NewSecretboxSealer(host.MasterKey()), log)
	cfg := rpcsession.DefaultConfig(rpcsession.VersionToken(1, 0, 0))

	var nextID int
	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Error("accept", "err", err)
			continue
		}
		nextID++
		go handleConn(conn, nextID, cfg, host, store, log)
	}
}

func handleConn(netConn net.Conn, id int, cfg rpcsession.Config, host uihost.Host, store *keystore.Store, log log15.Logger) {
	defer netConn.Close()
	clog := log.New("connID", id, "remote", netConn.RemoteAddr())
	clog.Info("accepted connection")

	sess := rpcsession.New(cfg, host, store, rpcsession.NoopDispatcher{}, clog)
	defer sess.Close()

	w := bufio.NewWriter(netConn)
	go forwardSignals(sess, w, clog)

	r := bufio.NewReader(netConn)
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			clog.Info("connection closed", "err", err)
			return
		}
		line = line[:len(line)-1]

		reply, shouldClose := sess.HandleMessage(line)
		if reply != nil {
			if err := writeLine(w, reply); err != nil {
				clog.Warn("write failed", "err", err)
				return
			}
		}
		if shouldClose {
			return
		}
	}
}

// forwardSignals drains a Connection's outbound signal channel onto
// the transport, the "short-lived worker task" spec.md §5 describes —
// here collapsed into one goroutine per connection since this demo has
// no shared connection-set lock for SendSignal's caller to hold.
func forwardSignals(sess *rpcsession.Connection, w *bufio.Writer, log log15.Logger) {
	for {
		select {
		case frame := <-sess.Signals():
			if err := writeLine(w, frame); err != nil {
				log.Warn("signal write failed", "err", err)
				return
			}
		case <-sess.Done():
			return
		}
	}
}

func writeLine(w *bufio.Writer, data []byte) error {
	if _, err := w.Write(data); err != nil {
		return err
	}
	if _, err := w.Write([]byte("\n")); err != nil {
		return err
	}
	return w.Flush()
}
