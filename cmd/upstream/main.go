// Command upstream is an example origin HTTP server used for local
// development and demos against cmd/cacheproxy.
//
// Typical usage: start it and point CACHEPROXY_TARGET at it, e.g.
// http://localhost:8000.
package main

import (
	"log"
	"os"
	"strings"
	"sync"

	"github.com/felipecampolina/cachemw/internal/upstream"
)

func main() {
	listenAddrs := listenAddresses()

	if len(listenAddrs) > 1 {
		var serversWG sync.WaitGroup
		for _, addr := range listenAddrs {
			addr = strings.TrimSpace(addr)
			if addr == "" {
				continue
			}
			serversWG.Add(1)
			go func(addr string) {
				defer serversWG.Done()
				log.Printf("starting upstream server on %s", addr)
				if err := upstream.Start(addr); err != nil {
					log.Printf("upstream server %s exited: %v", addr, err)
				}
			}(addr)
		}
		serversWG.Wait()
		return
	}

	addr := strings.TrimSpace(listenAddrs[0])
	log.Printf("starting upstream server on %s", addr)
	if err := upstream.Start(addr); err != nil {
		log.Fatal(err)
	}
}

// listenAddresses reads UPSTREAM_LISTEN, a comma-separated list of listen
// addresses (one server per address), defaulting to a single ":8000"
// listener.
func listenAddresses() []string {
	raw := strings.TrimSpace(os.Getenv("UPSTREAM_LISTEN"))
	if raw == "" {
		return []string{":8000"}
	}
	var addrs []string
	for _, a := range strings.Split(raw, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			addrs = append(addrs, a)
		}
	}
	if len(addrs) == 0 {
		return []string{":8000"}
	}
	return addrs
}
