package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/nerolab/alas-console/internal/config"
	"github.com/nerolab/alas-console/internal/docker"
	"github.com/nerolab/alas-console/internal/models"
)

type fakeStore struct {
	instances map[string]*models.Instance

	setContainer map[string]*models.ContainerInfo
	cleared      []string
	statuses     map[string]string
	urls         map[string]string
}

func newFakeStore(instances ...*models.Instance) *fakeStore {
	s := &fakeStore{
		instances:    map[string]*models.Instance{},
		setContainer: map[string]*models.ContainerInfo{},
		statuses:     map[string]string{},
		urls:         map[string]string{},
	}
	for _, inst := range instances {
		s.instances[inst.ID] = inst
	}
	return s
}

func (s *fakeStore) GetByID(_ context.Context, id string) (*models.Instance, error) {
	inst, ok := s.instances[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return inst, nil
}

func (s *fakeStore) SetContainer(_ context.Context, id string, info *models.ContainerInfo) error {
	s.setContainer[id] = info
	inst := s.instances[id]
	inst.ContainerID = &info.ContainerID
	inst.ContainerName = &info.ContainerName
	inst.ConfigPath = &info.ConfigPath
	inst.HostPort = &info.HostPort
	inst.ContainerStatus = info.Status
	return nil
}

func (s *fakeStore) ClearContainer(_ context.Context, id string) error {
	s.cleared = append(s.cleared, id)
	inst := s.instances[id]
	inst.ContainerID = nil
	inst.ContainerName = nil
	inst.ConfigPath = nil
	inst.HostPort = nil
	inst.ContainerStatus = models.ContainerStatusRemoved
	return nil
}

func (s *fakeStore) UpdateContainerStatus(_ context.Context, id, status string) error {
	s.statuses[id] = status
	return nil
}

func (s *fakeStore) UpdateURL(_ context.Context, id, url string) error {
	s.urls[id] = url
	return nil
}

type fakeDriver struct {
	createErr  error
	removeErr  error
	restartErr error
	opErr      error

	createCalls  int
	removeCalls  int
	restartCalls int
	startCalls   int
	stopCalls    int
}

func (d *fakeDriver) Create(_ context.Context, _ docker.CreateOptions) (string, int, error) {
	d.createCalls++
	if d.createErr != nil {
		return "", 0, d.createErr
	}
	return "engine-id-1", 49321, nil
}

func (d *fakeDriver) Start(_ context.Context, _ string) error {
	d.startCalls++
	return d.opErr
}

func (d *fakeDriver) Stop(_ context.Context, _ string) error {
	d.stopCalls++
	return d.opErr
}

func (d *fakeDriver) Restart(_ context.Context, _ string) error {
	d.restartCalls++
	return d.restartErr
}

func (d *fakeDriver) Remove(_ context.Context, _ string, _ bool) error {
	d.removeCalls++
	return d.removeErr
}

func (d *fakeDriver) Inspect(_ context.Context, id string) (*docker.ContainerState, error) {
	if d.opErr != nil {
		return nil, d.opErr
	}
	return &docker.ContainerState{ID: id, Status: "running"}, nil
}

type fakeNegotiator struct {
	url   string
	err   error
	calls int
}

func (n *fakeNegotiator) RemoteURL(_ string) (string, error) {
	n.calls++
	if n.err != nil {
		return "", n.err
	}
	return n.url, nil
}

type fakeAudit struct{}

func (fakeAudit) LogAction(_ context.Context, _, _, _, _ string) {}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Docker: config.DockerConfig{
			Image:           "hajiming/azurlaneautoscript:latest",
			BasePath:        t.TempDir(),
			ContainerPrefix: "alas",
			InternalPort:    22267,
			ConfigMount:     "/app/AzurLaneAutoScript/config",
		},
		Tunnel: config.TunnelConfig{
			TemplatePath: "/nonexistent/deploy.yaml",
			UserPrefix:   "alas",
		},
	}
}

func undeployedInstance(id string) *models.Instance {
	return &models.Instance{
		ID:              id,
		Name:            "test",
		ContainerStatus: models.ContainerStatusCreated,
		HealthStatus:    models.HealthUnknown,
	}
}

func deployedInstance(id string) *models.Instance {
	containerID := "engine-id-1"
	containerName := "alas_1700000000"
	configPath := "/tmp/alas/alas_1700000000/config"
	hostPort := 49321
	return &models.Instance{
		ID:              id,
		Name:            "test",
		ContainerID:     &containerID,
		ContainerName:   &containerName,
		ConfigPath:      &configPath,
		HostPort:        &hostPort,
		ContainerStatus: models.ContainerStatusRunning,
	}
}

func TestDeploySuccess(t *testing.T) {
	store := newFakeStore(undeployedInstance("i1"))
	driver := &fakeDriver{}
	negotiator := &fakeNegotiator{url: "tcp://relay:4444"}
	svc := NewLifecycleService(testConfig(t), store, driver, negotiator, fakeAudit{})

	resp, err := svc.Deploy(context.Background(), "i1")
	if err != nil {
		t.Fatal(err)
	}

	info := store.setContainer["i1"]
	if info == nil {
		t.Fatal("container fields were not persisted")
	}
	if info.ContainerID != "engine-id-1" || info.HostPort != 49321 {
		t.Errorf("persisted container = %+v", info)
	}
	if info.Status != models.ContainerStatusRunning {
		t.Errorf("container status = %q, want running", info.Status)
	}
	if store.urls["i1"] != "tcp://relay:4444" {
		t.Errorf("url = %q, want tcp://relay:4444", store.urls["i1"])
	}
	if resp.URL == nil || *resp.URL != "tcp://relay:4444" {
		t.Errorf("response url = %v", resp.URL)
	}
	// Apply-config-by-restart: one restart after URL acquisition.
	if driver.restartCalls != 1 {
		t.Errorf("restart calls = %d, want 1", driver.restartCalls)
	}
}

func TestDeployRejectedWhenAlreadyDeployed(t *testing.T) {
	store := newFakeStore(deployedInstance("i1"))
	driver := &fakeDriver{}
	svc := NewLifecycleService(testConfig(t), store, driver, &fakeNegotiator{}, fakeAudit{})

	_, err := svc.Deploy(context.Background(), "i1")
	if !errors.Is(err, ErrAlreadyDeployed) {
		t.Fatalf("Deploy = %v, want ErrAlreadyDeployed", err)
	}
	if driver.createCalls != 0 {
		t.Errorf("engine was called %d times, want 0", driver.createCalls)
	}
}

func TestDeploySucceedsWhenNegotiationFails(t *testing.T) {
	store := newFakeStore(undeployedInstance("i1"))
	driver := &fakeDriver{}
	negotiator := &fakeNegotiator{err: errors.New("relay unreachable")}
	svc := NewLifecycleService(testConfig(t), store, driver, negotiator, fakeAudit{})

	resp, err := svc.Deploy(context.Background(), "i1")
	if err != nil {
		t.Fatalf("Deploy = %v, want nil (URL failure is non-fatal)", err)
	}
	if resp.URL != nil {
		t.Errorf("response url = %q, want unset", *resp.URL)
	}
	if _, ok := store.urls["i1"]; ok {
		t.Error("url was persisted despite negotiation failure")
	}
	if store.setContainer["i1"] == nil {
		t.Error("container fields missing, deploy should have stuck")
	}
	if driver.restartCalls != 0 {
		t.Errorf("restart calls = %d, want 0 without a URL", driver.restartCalls)
	}
}

func TestDeployCreateFailureCleansUpConfigDir(t *testing.T) {
	cfg := testConfig(t)
	store := newFakeStore(undeployedInstance("i1"))
	driver := &fakeDriver{createErr: errors.New("image pull failed")}
	svc := NewLifecycleService(cfg, store, driver, &fakeNegotiator{}, fakeAudit{})

	_, err := svc.Deploy(context.Background(), "i1")
	if err == nil {
		t.Fatal("Deploy succeeded despite create failure")
	}

	entries, readErr := os.ReadDir(cfg.Docker.BasePath)
	if readErr != nil {
		t.Fatal(readErr)
	}
	if len(entries) != 0 {
		t.Errorf("config directory leaked: %v", entries)
	}

	if store.setContainer["i1"] != nil {
		t.Error("container fields persisted on a failed create")
	}
	inst := store.instances["i1"]
	if inst.ContainerID != nil || inst.ContainerName != nil || inst.ConfigPath != nil || inst.HostPort != nil {
		t.Error("container fields not co-null after failed create")
	}
}

func TestStartStopUpdateStatus(t *testing.T) {
	store := newFakeStore(deployedInstance("i1"))
	driver := &fakeDriver{}
	svc := NewLifecycleService(testConfig(t), store, driver, &fakeNegotiator{}, fakeAudit{})
	ctx := context.Background()

	if err := svc.Start(ctx, "i1"); err != nil {
		t.Fatal(err)
	}
	if store.statuses["i1"] != models.ContainerStatusRunning {
		t.Errorf("status after start = %q", store.statuses["i1"])
	}

	if err := svc.Stop(ctx, "i1"); err != nil {
		t.Fatal(err)
	}
	if store.statuses["i1"] != models.ContainerStatusStopped {
		t.Errorf("status after stop = %q", store.statuses["i1"])
	}
}

func TestStartFailureLeavesStatusUntouched(t *testing.T) {
	store := newFakeStore(deployedInstance("i1"))
	driver := &fakeDriver{opErr: errors.New("engine down")}
	svc := NewLifecycleService(testConfig(t), store, driver, &fakeNegotiator{}, fakeAudit{})

	if err := svc.Start(context.Background(), "i1"); err == nil {
		t.Fatal("Start succeeded despite driver failure")
	}
	if _, ok := store.statuses["i1"]; ok {
		t.Error("status mutated on a failed start")
	}
}

func TestOperationsRejectedWhenNotDeployed(t *testing.T) {
	store := newFakeStore(undeployedInstance("i1"))
	driver := &fakeDriver{}
	svc := NewLifecycleService(testConfig(t), store, driver, &fakeNegotiator{}, fakeAudit{})
	ctx := context.Background()

	for name, op := range map[string]func() error{
		"start":   func() error { return svc.Start(ctx, "i1") },
		"stop":    func() error { return svc.Stop(ctx, "i1") },
		"restart": func() error { return svc.Restart(ctx, "i1") },
		"remove":  func() error { return svc.Remove(ctx, "i1", false) },
	} {
		if err := op(); !errors.Is(err, ErrNotDeployed) {
			t.Errorf("%s = %v, want ErrNotDeployed", name, err)
		}
	}
	if driver.startCalls+driver.stopCalls+driver.restartCalls+driver.removeCalls != 0 {
		t.Error("engine was called for an undeployed instance")
	}
	inst := store.instances["i1"]
	if inst.ContainerID != nil || inst.ContainerName != nil || inst.ConfigPath != nil || inst.HostPort != nil {
		t.Error("fields mutated by rejected operations")
	}
}

func TestRemoveClearsContainerFields(t *testing.T) {
	store := newFakeStore(deployedInstance("i1"))
	driver := &fakeDriver{}
	svc := NewLifecycleService(testConfig(t), store, driver, &fakeNegotiator{}, fakeAudit{})

	if err := svc.Remove(context.Background(), "i1", true); err != nil {
		t.Fatal(err)
	}

	inst := store.instances["i1"]
	if inst.ContainerID != nil || inst.ContainerName != nil || inst.ConfigPath != nil || inst.HostPort != nil {
		t.Error("container fields not cleared together")
	}
	if inst.ContainerStatus != models.ContainerStatusRemoved {
		t.Errorf("container status = %q, want removed", inst.ContainerStatus)
	}
}

func TestRemoveDriverFailureLeavesStateUntouched(t *testing.T) {
	store := newFakeStore(deployedInstance("i1"))
	driver := &fakeDriver{removeErr: errors.New("engine down")}
	svc := NewLifecycleService(testConfig(t), store, driver, &fakeNegotiator{}, fakeAudit{})

	if err := svc.Remove(context.Background(), "i1", false); err == nil {
		t.Fatal("Remove succeeded despite driver failure")
	}
	if len(store.cleared) != 0 {
		t.Error("container fields cleared on a failed remove")
	}
	if !store.instances["i1"].Deployed() {
		t.Error("instance lost its container on a failed remove")
	}
}

func TestUpdateURLRequiresConfigPath(t *testing.T) {
	store := newFakeStore(undeployedInstance("i1"))
	svc := NewLifecycleService(testConfig(t), store, &fakeDriver{}, &fakeNegotiator{url: "x"}, fakeAudit{})

	_, err := svc.UpdateURL(context.Background(), "i1")
	if !errors.Is(err, ErrNotDeployed) {
		t.Errorf("UpdateURL = %v, want ErrNotDeployed", err)
	}
}

func TestUpdateURLPersistsAndRestarts(t *testing.T) {
	store := newFakeStore(deployedInstance("i1"))
	driver := &fakeDriver{}
	svc := NewLifecycleService(testConfig(t), store, driver, &fakeNegotiator{url: "tcp://relay:5555"}, fakeAudit{})

	url, err := svc.UpdateURL(context.Background(), "i1")
	if err != nil {
		t.Fatal(err)
	}
	if url != "tcp://relay:5555" || store.urls["i1"] != "tcp://relay:5555" {
		t.Errorf("url = %q, persisted = %q", url, store.urls["i1"])
	}
	if driver.restartCalls != 1 {
		t.Errorf("restart calls = %d, want 1", driver.restartCalls)
	}
}

func TestUpdateURLSwallowsRestartFailure(t *testing.T) {
	store := newFakeStore(deployedInstance("i1"))
	driver := &fakeDriver{restartErr: errors.New("engine down")}
	svc := NewLifecycleService(testConfig(t), store, driver, &fakeNegotiator{url: "tcp://relay:6"}, fakeAudit{})

	url, err := svc.UpdateURL(context.Background(), "i1")
	if err != nil {
		t.Fatalf("UpdateURL = %v, want nil (restart failure is swallowed)", err)
	}
	if url != "tcp://relay:6" {
		t.Errorf("url = %q", url)
	}
}

func TestDeployContainerNameUsesPrefix(t *testing.T) {
	cfg := testConfig(t)
	store := newFakeStore(undeployedInstance("i1"))
	svc := NewLifecycleService(cfg, store, &fakeDriver{}, &fakeNegotiator{url: "u"}, fakeAudit{})

	before := time.Now().Unix()
	resp, err := svc.Deploy(context.Background(), "i1")
	if err != nil {
		t.Fatal(err)
	}

	var ts int64
	if _, err := fmt.Sscanf(resp.ContainerName, "alas_%d", &ts); err != nil {
		t.Fatalf("container name %q does not match prefix_timestamp", resp.ContainerName)
	}
	if ts < before || ts > time.Now().Unix() {
		t.Errorf("container name timestamp %d out of range", ts)
	}
}
