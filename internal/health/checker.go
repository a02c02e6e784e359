// Package health periodically probes every instance with a known URL and
// records a reachability verdict.
package health

import (
	"context"
	"crypto/tls"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/nerolab/alas-console/internal/models"
)

// InstanceSource is the storage surface the sweep reads and writes. The
// sweep is the sole writer of the health fields.
type InstanceSource interface {
	ListWithURL(ctx context.Context) ([]*models.Instance, error)
	UpdateHealthBatch(ctx context.Context, results []models.HealthResult) error
}

// Checker runs the recurring health sweep. Construct one per process,
// Start it after the rest of the wiring is up and Stop it on shutdown.
type Checker struct {
	source   InstanceSource
	client   *http.Client
	interval time.Duration

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewChecker builds a sweep with the given cadence and per-attempt probe
// timeout. Instance URLs often carry self-signed certificates, so TLS
// verification is off.
func NewChecker(source InstanceSource, interval, probeTimeout time.Duration) *Checker {
	return &Checker{
		source: source,
		client: &http.Client{
			Timeout: probeTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (c *Checker) Start() {
	go func() {
		defer close(c.done)
		log.Printf("[health] Sweep started, interval=%s", c.interval)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Sweep(context.Background())
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop terminates the sweep loop and waits for it to exit.
func (c *Checker) Stop() {
	c.once.Do(func() { close(c.stop) })
	<-c.done
	log.Printf("[health] Sweep stopped")
}

// Sweep probes every instance with a URL concurrently and commits all
// verdicts in one batch once the fan-in completes. A storage failure skips
// the tick: instances keep their previous verdicts.
func (c *Checker) Sweep(ctx context.Context) {
	instances, err := c.source.ListWithURL(ctx)
	if err != nil {
		log.Printf("[health] Skipping sweep, could not load instances: %v", err)
		return
	}
	if len(instances) == 0 {
		return
	}

	results := make([]models.HealthResult, len(instances))
	var wg sync.WaitGroup
	for i, inst := range instances {
		wg.Add(1)
		go func(i int, inst *models.Instance) {
			defer wg.Done()
			results[i] = models.HealthResult{
				InstanceID: inst.ID,
				Status:     c.probe(ctx, *inst.URL),
				CheckedAt:  time.Now().UTC(),
			}
		}(i, inst)
	}
	wg.Wait()

	if err := c.source.UpdateHealthBatch(ctx, results); err != nil {
		log.Printf("[health] Could not persist sweep results: %v", err)
	}
}

// probe issues a HEAD request and falls back to GET when HEAD is rejected
// or errors; some services disallow HEAD. Any status >= 400 after both
// attempts is unhealthy.
func (c *Checker) probe(ctx context.Context, url string) string {
	if c.attempt(ctx, http.MethodHead, url) {
		return models.HealthHealthy
	}
	if c.attempt(ctx, http.MethodGet, url) {
		return models.HealthHealthy
	}
	return models.HealthUnhealthy
}

func (c *Checker) attempt(ctx context.Context, method, url string) bool {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 400
}
