/*
Mail Transfer Agent core - embeddable SMTP submission, spool and relay engine.
Copyright © 2024 Mail Transfer Agent core contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Command mtad is a minimal standalone demonstration of the core
// wired up as a running SMTP listener: it is not the primary way the
// module is meant to be used (embedding the packages directly into a
// larger application is), but it exercises every component end to end
// — listener accept loop, Session Driver, Delivery Worker, Cleanup
// Queue and graceful shutdown — with no configuration file format of
// its own, only flags.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"net"
	"os"
	"time"

	"github.com/mtacore/mtacore/framework/log"
	"github.com/mtacore/mtacore/internal/control"
	"github.com/mtacore/mtacore/internal/plugin"
	"github.com/mtacore/mtacore/internal/session"
	"github.com/mtacore/mtacore/internal/shutdown"
	"github.com/mtacore/mtacore/internal/smtpfsm"
	"github.com/mtacore/mtacore/internal/spool"
	"github.com/mtacore/mtacore/internal/tlsctx"
	"github.com/mtacore/mtacore/internal/wire"
	"github.com/mtacore/mtacore/internal/worker"
)

func main() {
	var (
		listenAddr = flag.String("listen", "127.0.0.1:2525", "SMTP listen address")
		spoolDir   = flag.String("spool", "/var/lib/mtacore/spool", "spool root directory")
		hostname   = flag.String("hostname", "mx.localhost", "hostname advertised in the EHLO banner")
		certFile   = flag.String("cert", "", "TLS certificate for STARTTLS (optional)")
		keyFile    = flag.String("key", "", "TLS private key for STARTTLS (optional)")
	)
	flag.Parse()

	logger := log.Logger{Out: log.WriterOutput(os.Stderr, true), Name: "mtad"}

	sp, err := spool.Open(*spoolDir)
	if err != nil {
		logger.Error("opening spool", err, "path", *spoolDir)
		os.Exit(1)
	}
	if err := sp.Sweep(); err != nil {
		logger.Error("sweeping stale spool tombstones", err)
	}

	var tlsLoader tlsctx.Loader
	fsmCfg := smtpfsm.Config{
		Hostname:       *hostname,
		SoftwareName:   "mtacore",
		MaxMessageSize: 32 << 20,
	}
	if *certFile != "" && *keyFile != "" {
		cert, err := tls.LoadX509KeyPair(*certFile, *keyFile)
		if err != nil {
			logger.Error("loading TLS certificate", err)
			os.Exit(1)
		}
		tlsLoader = tlsctx.StaticLoader{Config: &tls.Config{Certificates: []tls.Certificate{cert}}}
		fsmCfg.TLSAvailable = true
	}

	registry := plugin.NewRegistry()

	w := worker.New(worker.Config{Hostname: *hostname}, sp, logger)
	go w.Run(context.Background())

	ln, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		logger.Error("listening", err, "addr", *listenAddr)
		os.Exit(1)
	}
	logger.Printf("listening for SMTP on %s", *listenAddr)

	ctlHandler := &control.Handler{
		Queue:     w.Queue(),
		Spool:     sp,
		Cleanup:   w.Cleanup(),
		Worker:    w,
		StartedAt: time.Now(),
	}
	_ = ctlHandler // wired for an embedder to drive over its own transport

	acceptDone := make(chan struct{})
	go acceptLoop(ln, session.Config{
		FSM:       fsmCfg,
		TLSLoader: tlsLoader,
		Spool:     sp,
		Registry:  registry,
		Log:       logger,
	}, logger, acceptDone)

	coord := &shutdown.Coordinator{
		Worker:     w,
		Log:        logger,
		StopAccept: func() { ln.Close() },
	}
	coord.Wait()
	<-acceptDone
	logger.Printf("shutdown complete")
}

func acceptLoop(ln net.Listener, base session.Config, logger log.Logger, done chan<- struct{}) {
	defer close(done)
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		cfg := base
		cfg.PeerAddr = conn.RemoteAddr().String()
		go func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Printf("session panic recovered: %v", r)
				}
			}()
			d := session.New(cfg, wire.New(conn))
			d.Serve()
		}()
	}
}


