package producer

import (
	"bytes"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const defaultQueueSize = 1000

// transport drains the bounded outbound queue and fires events at the
// gateway. Delivery failures are reported to the local output and swallowed;
// nothing here ever re-enters the emit pipeline.
type transport struct {
	endpoint string
	client   *http.Client
	queue    chan []byte
	done     chan struct{}
	wg       sync.WaitGroup
	local    *slog.Logger
}

func newTransport(gatewayURL string, queueSize int, timeout time.Duration, local *slog.Logger) *transport {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	t := &transport{
		endpoint: strings.TrimRight(gatewayURL, "/") + "/log",
		client:   &http.Client{Timeout: timeout},
		queue:    make(chan []byte, queueSize),
		done:     make(chan struct{}),
		local:    local,
	}

	t.wg.Add(1)
	go t.runLoop()
	return t
}

// Enqueue hands a serialized event to the transport without blocking.
// A full queue drops the event; the caller reports it.
func (t *transport) Enqueue(body []byte) bool {
	select {
	case t.queue <- body:
		return true
	default:
		return false
	}
}

func (t *transport) runLoop() {
	defer t.wg.Done()

	for {
		select {
		case body := <-t.queue:
			t.send(body)
		case <-t.done:
			// Drain whatever is queued, then stop.
			for {
				select {
				case body := <-t.queue:
					t.send(body)
				default:
					return
				}
			}
		}
	}
}

// send is fire-and-forget: a denial or transport failure is local-only
// information. The gateway applies its own quota, so a 429 here is expected
// under load, not an outage.
func (t *transport) send(body []byte) {
	resp, err := t.client.Post(t.endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		t.local.Warn("gateway delivery failed", "error", err)
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		t.local.Debug("gateway rate limited event")
	default:
		t.local.Warn("gateway rejected event", "status", resp.StatusCode)
	}
}

// Close drains and stops the run loop.
func (t *transport) Close() {
	close(t.done)
	t.wg.Wait()
}
