// Command loadclient opens TLS sessions against a running tlsbench server.
// Every session sends a number of keep-alive requests and closes with
// close_notify, so the server records one handshake plus one read and one
// write per request.
package main

import (
	"bufio"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8443", "Server address")
	caFile := flag.String("ca-file", "", "PEM certificate to trust (e.g. the gen-cert output)")
	serverName := flag.String("server-name", "localhost", "SNI and verification name")
	sessions := flag.Int("sessions", 100, "Total sessions to open")
	concurrency := flag.Int("concurrency", 10, "Sessions open at once")
	requests := flag.Int("requests", 1, "Requests per session")
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *requests <= 0 {
		log.Fatalf("sessions, concurrency and requests must be > 0")
	}

	cfg := &tls.Config{ServerName: *serverName, MinVersion: tls.VersionTLS12}
	if *caFile != "" {
		pem, err := os.ReadFile(*caFile)
		if err != nil {
			log.Fatalf("read ca file: %v", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			log.Fatalf("no certificate found in %s", *caFile)
		}
		cfg.RootCAs = pool
	}

	var failed atomic.Int64
	work := make(chan struct{})
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range work {
				if err := runSession(*addr, cfg, *requests); err != nil {
					failed.Add(1)
					log.Printf("session failed: %v", err)
				}
			}
		}()
	}
	for i := 0; i < *sessions; i++ {
		work <- struct{}{}
	}
	close(work)
	wg.Wait()

	elapsed := time.Since(start)
	fmt.Printf("%d sessions (%d failed) in %s, %.1f sessions/s\n",
		*sessions, failed.Load(), elapsed.Round(time.Millisecond), float64(*sessions)/elapsed.Seconds())
	if failed.Load() > 0 {
		os.Exit(1)
	}
}

func runSession(addr string, cfg *tls.Config, requests int) error {
	conn, err := tls.Dial("tcp", addr, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	br := bufio.NewReader(conn)
	for i := 0; i < requests; i++ {
		req, err := http.NewRequest(http.MethodGet, "https://"+cfg.ServerName+"/", nil)
		if err != nil {
			return err
		}
		if err := req.Write(conn); err != nil {
			return err
		}
		resp, err := http.ReadResponse(br, req)
		if err != nil {
			return err
		}
		if _, err := io.Copy(io.Discard, resp.Body); err != nil {
			return err
		}
		_ = resp.Body.Close()
	}
	return conn.CloseWrite()
}
