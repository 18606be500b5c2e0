package tracking

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/lomitrack/lomitrack/app/repository"
	"github.com/lomitrack/lomitrack/internal/pkg/notify"
)

const reconnectDelay = 30 * time.Second

// Position is one location fix pushed by the tracking service.
type Position struct {
	DeviceID  string    `json:"deviceId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     float64   `json:"speed"`
	FixTime   time.Time `json:"fixTime"`
}

// PositionSync holds a persistent outbound stream from the tracking
// service and republishes position fixes to connected clients. A
// failed connection is retried with a fixed backoff instead of
// crashing the process.
type PositionSync struct {
	client   *Client
	notifier notify.Notifier
	devices  repository.DeviceRepository

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewPositionSync creates a position sync worker.
func NewPositionSync(client *Client, notifier notify.Notifier, devices repository.DeviceRepository) *PositionSync {
	return &PositionSync{
		client:   client,
		notifier: notifier,
		devices:  devices,
	}
}

// Start launches the stream loop in the background.
func (p *PositionSync) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.wg.Add(1)
	go p.run(ctx)
	log.Info("[PositionSync] Started position stream worker")
}

// Stop terminates the stream loop and waits for it to exit.
func (p *PositionSync) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	log.Info("[PositionSync] Stopped position stream worker")
}

func (p *PositionSync) run(ctx context.Context) {
	defer p.wg.Done()

	for {
		if err := p.streamOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warnf("[PositionSync] Stream dropped: %v, reconnecting in %s", err, reconnectDelay)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// streamOnce holds one streaming connection open and consumes
// newline-delimited JSON position fixes until it drops.
func (p *PositionSync) streamOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.client.BaseURL+"/positions/stream", nil)
	if err != nil {
		return err
	}
	p.client.setHeaders(req)

	// The streaming connection stays open indefinitely; only the dial
	// phase gets the client timeout.
	streamClient := &http.Client{Transport: p.client.HTTPClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var pos Position
		if err := json.Unmarshal(line, &pos); err != nil {
			log.Warnf("[PositionSync] Skipping malformed position: %v", err)
			continue
		}
		p.handlePosition(ctx, pos)
	}
	return scanner.Err()
}

func (p *PositionSync) handlePosition(ctx context.Context, pos Position) {
	if p.devices != nil {
		if err := p.devices.TouchLastSeen(pos.DeviceID); err != nil {
			log.Warnf("[PositionSync] Touch last seen for %s: %v", pos.DeviceID, err)
		}
	}
	if p.notifier != nil {
		_ = p.notifier.Publish(ctx, notify.Event{
			Type:    notify.EventDevicePosition,
			Payload: pos,
		})
	}
}
