package resource_manager

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"splat-orchestrator/core/bootstrap"
	"splat-orchestrator/core/executor"
	"splat-orchestrator/core/models"
)

type nopRemote struct{ closed int }

func (r *nopRemote) Run(ctx context.Context, cmd string, opts executor.RunOptions) (executor.Result, error) {
	return executor.Result{}, nil
}
func (r *nopRemote) WriteFile(ctx context.Context, p string, c []byte, m os.FileMode) error { return nil }
func (r *nopRemote) ReadFile(ctx context.Context, p string, w io.Writer) error              { return nil }
func (r *nopRemote) Host() string                                                           { return "10.0.0.7" }
func (r *nopRemote) Close() error                                                           { r.closed++; return nil }

// flakyDialer refuses the first failures connections
type flakyDialer struct {
	failures int
	calls    int
	remote   *nopRemote
}

func (d *flakyDialer) Dial(ctx context.Context, host string) (executor.Remote, error) {
	d.calls++
	if d.calls <= d.failures {
		return nil, &executor.ConnectError{Host: host, Err: errors.New("connection refused")}
	}
	return d.remote, nil
}

type fakeBootstrapper struct {
	runs int
	err  error
}

func (b *fakeBootstrapper) Run(ctx context.Context, remote executor.Remote) (bootstrap.Report, error) {
	b.runs++
	return bootstrap.Report{Host: remote.Host()}, b.err
}

func newTestLifecycle(p *fakeProvider, dialer *flakyDialer, boot *fakeBootstrapper) (*Lifecycle, *fakeClock) {
	m, clock := newTestManager(p, ManagerConfig{SSHKeyNames: []string{"laptop"}})
	l := NewLifecycle(m, dialer, boot, LifecycleConfig{
		InstanceTypes: []string{"gpu_1x_a10"},
		Regions:       []string{"us-east-1"},
	})
	l.sleep = clock.sleep
	return l, clock
}

func TestStartReusesRunningInstance(t *testing.T) {
	provider := &fakeProvider{instances: []models.Instance{
		{ID: "i-1", IP: "10.0.0.1", InstanceType: "gpu_1x_a10", Region: "us-east-1", Status: models.InstanceActive},
	}}
	boot := &fakeBootstrapper{}
	l, _ := newTestLifecycle(provider, &flakyDialer{remote: &nopRemote{}}, boot)

	res, err := l.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() err=%v", err)
	}
	if res.Launched || res.Instance.ID != "i-1" {
		t.Errorf("Start() = %+v", res)
	}
	if boot.runs != 0 {
		t.Errorf("existing instance bootstrapped %d times", boot.runs)
	}
}

func TestStartLaunchesAndBootstraps(t *testing.T) {
	provider := &fakeProvider{
		types: map[string]models.InstanceTypeAvailability{
			"gpu_1x_a10": {Name: "gpu_1x_a10", RegionsWithCapacity: []string{"us-east-1"}},
		},
		statuses: []models.InstanceStatus{models.InstanceBooting, models.InstanceActive},
	}
	remote := &nopRemote{}
	dialer := &flakyDialer{failures: 2, remote: remote}
	boot := &fakeBootstrapper{}
	l, _ := newTestLifecycle(provider, dialer, boot)

	res, err := l.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() err=%v", err)
	}
	if !res.Launched || res.Instance.IP != "10.0.0.7" || res.Instance.InstanceType != "gpu_1x_a10" {
		t.Errorf("Start() = %+v", res.Instance)
	}
	if dialer.calls != 3 || boot.runs != 1 || remote.closed != 1 {
		t.Errorf("dials=%d runs=%d closed=%d", dialer.calls, boot.runs, remote.closed)
	}
	if res.Bootstrap == nil || res.Bootstrap.Host != "10.0.0.7" {
		t.Errorf("Bootstrap report = %+v", res.Bootstrap)
	}
}

func TestStartBootstrapFailure(t *testing.T) {
	provider := &fakeProvider{
		types: map[string]models.InstanceTypeAvailability{
			"gpu_1x_a10": {Name: "gpu_1x_a10", RegionsWithCapacity: []string{"us-east-1"}},
		},
		statuses: []models.InstanceStatus{models.InstanceActive},
	}
	bootErr := &bootstrap.SubstepError{Substep: bootstrap.SubstepDocker, Err: errors.New("pull denied")}
	l, _ := newTestLifecycle(provider, &flakyDialer{remote: &nopRemote{}}, &fakeBootstrapper{err: bootErr})

	res, err := l.Start(context.Background())
	var subErr *bootstrap.SubstepError
	if !errors.As(err, &subErr) {
		t.Fatalf("Start() err=%v, want SubstepError", err)
	}
	if res == nil || res.Instance == nil || res.Instance.ID != "i-new" {
		t.Errorf("failed Start() should still describe the instance: %+v", res)
	}
}

func TestBootstrapGivesUpWhenSSHNeverComesUp(t *testing.T) {
	dialer := &flakyDialer{failures: 1000, remote: &nopRemote{}}
	l, clock := newTestLifecycle(&fakeProvider{}, dialer, &fakeBootstrapper{})

	_, err := l.Bootstrap(context.Background(), "10.0.0.7")
	var connErr *executor.ConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("Bootstrap() err=%v, want ConnectError", err)
	}
	// 3m timeout at a 10s interval
	if clock.sleeps != 18 {
		t.Errorf("slept %d times, want 18", clock.sleeps)
	}
}

func TestStopAndCheck(t *testing.T) {
	provider := &fakeProvider{instances: []models.Instance{
		{ID: "i-boot", InstanceType: "gpu_1x_a10", Region: "us-east-1", Status: models.InstanceBooting},
	}}
	l, _ := newTestLifecycle(provider, &flakyDialer{}, &fakeBootstrapper{})
	ctx := context.Background()

	if _, err := l.Stop(ctx); !errors.Is(err, ErrNoActiveInstance) {
		t.Errorf("Stop() err=%v, want ErrNoActiveInstance", err)
	}
	inst, status, err := l.Check(ctx)
	if err != nil || status != CheckBooting || inst.ID != "i-boot" {
		t.Errorf("Check() = %+v, %s, %v", inst, status, err)
	}

	provider.instances = append(provider.instances, models.Instance{
		ID: "i-run", InstanceType: "gpu_1x_a10", Region: "us-east-1", Status: models.InstanceActive,
	})
	if _, status, _ := l.Check(ctx); status != CheckRunning {
		t.Errorf("Check() status = %s, want running", status)
	}
	terminated, err := l.Stop(ctx)
	if err != nil || terminated.ID != "i-run" {
		t.Errorf("Stop() = %+v, %v", terminated, err)
	}

	provider.instances = nil
	if inst, status, _ := l.Check(ctx); status != CheckNotFound || inst != nil {
		t.Errorf("Check() = %+v, %s", inst, status)
	}
}
