package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nerolab/alas-console/internal/models"
)

type fakeSource struct {
	instances []*models.Instance
	listErr   error

	batches [][]models.HealthResult
}

func (s *fakeSource) ListWithURL(_ context.Context) ([]*models.Instance, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.instances, nil
}

func (s *fakeSource) UpdateHealthBatch(_ context.Context, results []models.HealthResult) error {
	s.batches = append(s.batches, results)
	return nil
}

func instanceWithURL(id, url string) *models.Instance {
	return &models.Instance{ID: id, Name: id, URL: &url, HealthStatus: models.HealthUnknown}
}

func verdicts(t *testing.T, source *fakeSource) map[string]string {
	t.Helper()
	if len(source.batches) != 1 {
		t.Fatalf("batch commits = %d, want exactly 1", len(source.batches))
	}
	out := map[string]string{}
	for _, res := range source.batches[0] {
		out[res.InstanceID] = res.Status
	}
	return out
}

func TestSweepVerdictMatrix(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	notFound := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer notFound.Close()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer slow.Close()

	// A closed listener gives connection-refused.
	refused := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	refusedURL := refused.URL
	refused.Close()

	source := &fakeSource{instances: []*models.Instance{
		instanceWithURL("ok", healthy.URL),
		instanceWithURL("notfound", notFound.URL),
		instanceWithURL("timeout", slow.URL),
		instanceWithURL("refused", refusedURL),
	}}

	c := NewChecker(source, time.Minute, 50*time.Millisecond)
	c.Sweep(context.Background())

	got := verdicts(t, source)
	want := map[string]string{
		"ok":       models.HealthHealthy,
		"notfound": models.HealthUnhealthy,
		"timeout":  models.HealthUnhealthy,
		"refused":  models.HealthUnhealthy,
	}
	for id, status := range want {
		if got[id] != status {
			t.Errorf("verdict[%s] = %q, want %q", id, got[id], status)
		}
	}
}

func TestSweepFallsBackToGETWhenHEADRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	source := &fakeSource{instances: []*models.Instance{instanceWithURL("headless", server.URL)}}
	c := NewChecker(source, time.Minute, time.Second)
	c.Sweep(context.Background())

	if got := verdicts(t, source); got["headless"] != models.HealthHealthy {
		t.Errorf("verdict = %q, want healthy via GET fallback", got["headless"])
	}
}

func TestSweepSkipsTickOnStorageError(t *testing.T) {
	source := &fakeSource{listErr: errors.New("pool exhausted")}
	c := NewChecker(source, time.Minute, time.Second)
	c.Sweep(context.Background())

	if len(source.batches) != 0 {
		t.Errorf("batch commits = %d, want 0 on a skipped tick", len(source.batches))
	}
}

func TestSweepNoInstancesNoCommit(t *testing.T) {
	source := &fakeSource{}
	c := NewChecker(source, time.Minute, time.Second)
	c.Sweep(context.Background())

	if len(source.batches) != 0 {
		t.Errorf("batch commits = %d, want 0 with nothing to probe", len(source.batches))
	}
}

func TestStartStop(t *testing.T) {
	source := &fakeSource{}
	c := NewChecker(source, 10*time.Millisecond, time.Second)
	c.Start()
	time.Sleep(35 * time.Millisecond)
	c.Stop()
	// Stop must be safe to reach after ticks have fired; nothing to assert
	// beyond clean termination.
}
