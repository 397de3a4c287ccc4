// Package sandbox validates migration plans inside disposable Docker
// containers. One Validate call owns one container: it is created,
// populated, patched, exercised, and removed on every exit path.
package sandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/c360studio/modernizer/manifest"
	"github.com/c360studio/modernizer/migration"
)

const (
	workDir = "/app"

	// DefaultTimeout bounds one whole validation run.
	DefaultTimeout = 300 * time.Second

	defaultStabilization = 3 * time.Second
	testTimeout          = 120 * time.Second

	imageNodeJS = "node:20-alpine"
	imagePython = "python:3.12-slim"

	debugLabel = "ai-modernizer.debug"
)

// Project describes the subject of one validation run.
type Project struct {
	Path string
	Kind migration.ProjectKind

	// StartScript, TestScript and HealthPath come from the manifest.
	StartScript string
	TestScript  string
	HealthPath  string
}

// Driver runs validations against the local Docker daemon.
type Driver struct {
	api           dockerAPI
	logger        *slog.Logger
	cleanup       bool
	timeout       time.Duration
	stabilization time.Duration
	healthClient  *http.Client
	notify        func(stage, detail string)
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithDockerAPI substitutes the engine client, used by tests.
func WithDockerAPI(api dockerAPI) DriverOption {
	return func(d *Driver) { d.api = api }
}

// WithCleanup controls container removal; false preserves containers
// for debugging.
func WithCleanup(cleanup bool) DriverOption {
	return func(d *Driver) { d.cleanup = cleanup }
}

// WithTimeout sets the overall per-validation ceiling.
func WithTimeout(t time.Duration) DriverOption {
	return func(d *Driver) { d.timeout = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) DriverOption {
	return func(d *Driver) { d.logger = l }
}

// WithStabilization overrides the runtime stabilization delay.
func WithStabilization(t time.Duration) DriverOption {
	return func(d *Driver) { d.stabilization = t }
}

// WithNotify installs a stage observer for progress reporting.
func WithNotify(fn func(stage, detail string)) DriverOption {
	return func(d *Driver) { d.notify = fn }
}

// NewDriver creates a Driver talking to the local Docker daemon. A
// daemon that cannot even be dialed surfaces later as
// sandbox_unavailable from Validate, not here.
func NewDriver(opts ...DriverOption) (*Driver, error) {
	d := &Driver{
		logger:        slog.Default(),
		cleanup:       true,
		timeout:       DefaultTimeout,
		stabilization: defaultStabilization,
		healthClient:  &http.Client{Timeout: 2 * time.Second},
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.api == nil {
		api, err := newEngineClient()
		if err != nil {
			return nil, migration.Errorf(migration.KindSandboxUnavailable, "docker client: %v", err)
		}
		d.api = api
	}
	return d, nil
}

// Ping reports whether the Docker daemon is reachable.
func (d *Driver) Ping(ctx context.Context) error {
	if _, err := d.api.Ping(ctx); err != nil {
		return migration.Errorf(migration.KindSandboxUnavailable, "docker daemon unreachable: %v", err)
	}
	return nil
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// ContainerName derives the sandbox container name for a project
// directory.
func ContainerName(projectPath string) string {
	base := strings.ToLower(strings.TrimRight(projectPath, "/"))
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	slug := strings.Trim(slugPattern.ReplaceAllString(base, "-"), "-")
	if slug == "" {
		slug = "project"
	}
	return "ai-modernizer-" + slug
}

func (d *Driver) stage(name, detail string) {
	d.logger.Debug("sandbox stage", "stage", name, "detail", detail)
	if d.notify != nil {
		d.notify(name, detail)
	}
}

// Validate runs a plan through the full sandbox pipeline and returns
// the structured outcome. A nil error with a failing outcome is a
// normal validation failure; an error return means the run itself
// could not proceed (daemon missing, cancelled).
func (d *Driver) Validate(ctx context.Context, proj Project, plan *migration.Plan) (*migration.ValidationOutcome, error) {
	if err := d.Ping(ctx); err != nil {
		return nil, err
	}

	// A plan with nothing to upgrade validates trivially: nothing to
	// install, nothing to break.
	if len(plan.Upgrades()) == 0 {
		d.stage("skip", "no upgrades in plan")
		return &migration.ValidationOutcome{BuildOK: true, InstallOK: true, RuntimeOK: true, HealthOK: true}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	name := ContainerName(proj.Path)
	if err := d.reap(ctx, name); err != nil {
		return nil, err
	}

	id, err := d.create(ctx, proj.Kind, name)
	if err != nil {
		return nil, err
	}
	defer d.teardown(id, name)

	outcome := &migration.ValidationOutcome{ContainerID: id}

	if err := d.populate(ctx, id, proj.Path); err != nil {
		return d.finish(outcome, err)
	}
	if err := d.patchManifest(ctx, id, proj, plan); err != nil {
		return d.finish(outcome, err)
	}
	outcome.BuildOK = true

	if err := d.install(ctx, id, proj.Kind, outcome); err != nil {
		return d.finish(outcome, err)
	}
	if !outcome.InstallOK {
		return outcome, nil
	}

	if err := d.runtime(ctx, id, proj, outcome); err != nil {
		return d.finish(outcome, err)
	}
	if outcome.RuntimeOK {
		d.health(ctx, id, proj, outcome)
	}
	if err := d.tests(ctx, id, proj, outcome); err != nil {
		return d.finish(outcome, err)
	}
	return outcome, nil
}

// finish folds a stage error into the outcome. Timeouts become a
// failing outcome the router can analyze; cancellation propagates as
// an error so the job terminates.
func (d *Driver) finish(outcome *migration.ValidationOutcome, err error) (*migration.ValidationOutcome, error) {
	if errors.Is(err, context.Canceled) {
		return nil, migration.NewError(migration.KindCancelled, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		outcome.FailureReason = string(migration.KindSandboxTimeout)
		return outcome, nil
	}
	if kind := migration.KindOf(err); kind != "" {
		outcome.FailureReason = string(kind)
	} else {
		outcome.FailureReason = err.Error()
	}
	return outcome, nil
}

func (d *Driver) imageFor(kind migration.ProjectKind) string {
	if kind == migration.KindPython {
		return imagePython
	}
	return imageNodeJS
}

// reap idempotently stops and removes any prior container with this
// exact name.
func (d *Driver) reap(ctx context.Context, name string) error {
	list, err := d.api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return migration.Errorf(migration.KindSandboxUnavailable, "list containers: %v", err)
	}
	for _, c := range list {
		for _, n := range c.Names {
			if strings.TrimPrefix(n, "/") == name {
				d.logger.Info("removing prior sandbox container", "container", name)
				if err := d.api.ContainerRemove(ctx, c.ID); err != nil {
					return fmt.Errorf("remove prior container %s: %w", name, err)
				}
			}
		}
	}
	return nil
}

func (d *Driver) create(ctx context.Context, kind migration.ProjectKind, name string) (string, error) {
	d.stage("create", string(kind))

	img := d.imageFor(kind)
	if err := d.api.ImagePull(ctx, img); err != nil {
		// The image may already be present locally.
		d.logger.Debug("image pull failed, trying local image", "image", img, "error", err)
	}

	appPort := nat.Port("3000/tcp")
	if kind == migration.KindPython {
		appPort = nat.Port("5000/tcp")
	}

	cfg := &container.Config{
		Image:        img,
		Cmd:          []string{"tail", "-f", "/dev/null"},
		WorkingDir:   workDir,
		Labels:       map[string]string{debugLabel: "true"},
		ExposedPorts: nat.PortSet{appPort: struct{}{}},
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			appPort: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: "0"}},
		},
	}

	id, err := d.api.ContainerCreate(ctx, cfg, hostCfg, name)
	if err != nil {
		return "", migration.Errorf(migration.KindSandboxUnavailable, "create container: %v", err)
	}
	if err := d.api.ContainerStart(ctx, id); err != nil {
		return "", migration.Errorf(migration.KindSandboxUnavailable, "start container: %v", err)
	}
	return id, nil
}

func (d *Driver) teardown(id, name string) {
	if !d.cleanup {
		d.logger.Warn("sandbox cleanup disabled, container preserved", "container", name)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.api.ContainerRemove(ctx, id); err != nil {
		d.logger.Error("failed to remove sandbox container", "container", name, "error", err)
	}
}

func (d *Driver) populate(ctx context.Context, id, projectPath string) error {
	d.stage("populate", projectPath)
	archive, err := projectArchive(projectPath, strings.TrimPrefix(workDir, "/"))
	if err != nil {
		return fmt.Errorf("archive project: %w", err)
	}
	if err := d.api.CopyToContainer(ctx, id, "/", archive); err != nil {
		return fmt.Errorf("copy project into container: %w", err)
	}
	return nil
}

// patchManifest rewrites the manifest inside the container. The new
// file travels base64-encoded and is decoded in-container; shell
// interpolation of raw JSON corrupts quoting. After writing, the file
// is read back and every target version must be present.
func (d *Driver) patchManifest(ctx context.Context, id string, proj Project, plan *migration.Plan) error {
	changes := manifest.ChangesFromPlan(plan)
	if len(changes) == 0 {
		return nil
	}
	d.stage("patch", fmt.Sprintf("%d dependency versions", len(changes)))

	fileName := manifest.FileName(proj.Kind)
	out, _, err := d.exec(ctx, id, []string{"cat", workDir + "/" + fileName})
	if err != nil {
		return err
	}

	patched := manifest.Patch(proj.Kind, []byte(out), changes)
	encoded := base64.StdEncoding.EncodeToString(patched)

	target := workDir + "/" + fileName
	writeCmd := fmt.Sprintf("printf '%%s' '%s' | base64 -d > %s", encoded, target)
	if _, code, err := d.exec(ctx, id, []string{"sh", "-c", writeCmd}); err != nil {
		return err
	} else if code != 0 {
		return fmt.Errorf("manifest write exited %d", code)
	}

	// Verify the patch took effect inside the container.
	verify, _, err := d.exec(ctx, id, []string{"cat", target})
	if err != nil {
		return err
	}
	for name, version := range changes {
		if !strings.Contains(verify, version) {
			return fmt.Errorf("manifest patch verification failed: %s@%s not present after write", name, version)
		}
	}
	return nil
}

func (d *Driver) installCommand(kind migration.ProjectKind) string {
	if kind == migration.KindPython {
		return "pip install -r requirements.txt"
	}
	return "npm install --no-audit --no-fund"
}

func (d *Driver) install(ctx context.Context, id string, kind migration.ProjectKind, outcome *migration.ValidationOutcome) error {
	cmd := d.installCommand(kind)
	d.stage("install", cmd)

	out, code, err := d.exec(ctx, id, []string{"sh", "-c", "cd " + workDir + " && " + cmd})
	outcome.InstallLog = tail(out, 200)
	if err != nil {
		return err
	}
	// Warnings on stderr with exit 0 still count as success.
	outcome.InstallOK = code == 0
	return nil
}

func (d *Driver) startCommand(ctx context.Context, id string, proj Project) (string, error) {
	if proj.Kind == migration.KindPython {
		out, _, err := d.exec(ctx, id, []string{"sh", "-c",
			"cd "+workDir+" && { test -f app.py && echo app.py; } || { test -f main.py && echo main.py; } || true"})
		if err != nil {
			return "", err
		}
		entry := strings.TrimSpace(out)
		if entry == "" {
			return "", nil
		}
		return "python " + entry, nil
	}
	if proj.StartScript == "" {
		return "", nil
	}
	return "npm start", nil
}

func (d *Driver) runtime(ctx context.Context, id string, proj Project, outcome *migration.ValidationOutcome) error {
	start, err := d.startCommand(ctx, id, proj)
	if err != nil {
		return err
	}
	if start == "" {
		// Nothing to run; installability is the whole check.
		d.stage("runtime", "no start entrypoint declared")
		outcome.RuntimeOK = true
		return nil
	}
	d.stage("runtime", start)

	launch := fmt.Sprintf("cd %s && nohup %s > /tmp/app.log 2>&1 & echo $!", workDir, start)
	out, _, err := d.exec(ctx, id, []string{"sh", "-c", launch})
	if err != nil {
		return err
	}
	pid := strings.TrimSpace(out)

	select {
	case <-time.After(d.stabilization):
	case <-ctx.Done():
		return ctx.Err()
	}

	_, code, err := d.exec(ctx, id, []string{"sh", "-c", fmt.Sprintf("kill -0 %s 2>/dev/null", pid)})
	if err != nil {
		return err
	}
	outcome.RuntimeOK = code == 0
	if !outcome.RuntimeOK {
		log, _, lerr := d.exec(ctx, id, []string{"sh", "-c", "tail -n 40 /tmp/app.log 2>/dev/null || true"})
		if lerr == nil {
			outcome.RuntimeLog = tail(log, 40)
		}
	}
	return nil
}

// health probes the app's health endpoint through the mapped host
// port. A declared manifest hint must answer 2xx; with only the
// conventional /health a running process is sufficient when the probe
// never connects.
func (d *Driver) health(ctx context.Context, id string, proj Project, outcome *migration.ValidationOutcome) {
	hostPort := d.mappedPort(ctx, id, proj.Kind)
	if hostPort == "" {
		outcome.HealthOK = outcome.RuntimeOK
		return
	}

	path := proj.HealthPath
	declared := path != ""
	if path == "" {
		path = "/health"
	}
	url := "http://127.0.0.1:" + hostPort + path
	d.stage("health", url)

	for attempt := 0; attempt < 5; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			break
		}
		resp, err := d.healthClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				outcome.HealthOK = true
				return
			}
		}
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return
		}
	}
	// Conventional probe that never answered: the process being alive
	// is the check. A declared hint that never answered is a failure.
	outcome.HealthOK = !declared && outcome.RuntimeOK
}

func (d *Driver) mappedPort(ctx context.Context, id string, kind migration.ProjectKind) string {
	inspect, err := d.api.ContainerInspect(ctx, id)
	if err != nil || inspect.NetworkSettings == nil {
		return ""
	}
	port := nat.Port("3000/tcp")
	if kind == migration.KindPython {
		port = nat.Port("5000/tcp")
	}
	bindings := inspect.NetworkSettings.Ports[port]
	if len(bindings) == 0 {
		return ""
	}
	return bindings[0].HostPort
}

func (d *Driver) tests(ctx context.Context, id string, proj Project, outcome *migration.ValidationOutcome) error {
	if proj.TestScript == "" {
		return nil
	}
	cmd := "npm test --silent"
	if proj.Kind == migration.KindPython {
		cmd = "pytest -q"
	}
	d.stage("tests", cmd)

	testCtx, cancel := context.WithTimeout(ctx, testTimeout)
	defer cancel()

	out, code, err := d.exec(testCtx, id, []string{"sh", "-c", "cd " + workDir + " && " + cmd})
	if err != nil {
		// The inner test timeout is a failed run, not a failed
		// validation call.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			outcome.Tests = migration.TestRun{Ran: true, Passed: false, Summary: "test run timed out"}
			return nil
		}
		return err
	}
	outcome.Tests = migration.TestRun{
		Ran:     true,
		Passed:  code == 0,
		Summary: parseTestSummary(out),
		Output:  tail(out, 60),
	}
	return nil
}

var (
	jestSummary   = regexp.MustCompile(`Tests:.*?(\d+) passed, (\d+) total`)
	pytestSummary = regexp.MustCompile(`(?:(\d+) failed, )?(\d+) passed`)
)

// parseTestSummary extracts a short "N passed, M total" line from
// runner output.
func parseTestSummary(out string) string {
	if m := jestSummary.FindStringSubmatch(out); m != nil {
		return fmt.Sprintf("%s passed, %s total", m[1], m[2])
	}
	if m := pytestSummary.FindStringSubmatch(out); m != nil {
		passed := atoiSafe(m[2])
		failed := atoiSafe(m[1])
		return fmt.Sprintf("%d passed, %d total", passed, passed+failed)
	}
	return ""
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// exec runs a command in the container and returns combined output and
// exit code.
func (d *Driver) exec(ctx context.Context, id string, cmd []string) (string, int, error) {
	execID, err := d.api.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", 0, fmt.Errorf("exec create: %w", err)
	}

	resp, err := d.api.ContainerExecAttach(ctx, execID)
	if err != nil {
		return "", 0, fmt.Errorf("exec attach: %w", err)
	}
	defer resp.Close()

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(&stdout, &stderr, resp.Reader)
		done <- copyErr
	}()

	select {
	case <-ctx.Done():
		return "", 0, ctx.Err()
	case copyErr := <-done:
		if copyErr != nil {
			return "", 0, fmt.Errorf("exec read: %w", copyErr)
		}
	}

	inspect, err := d.api.ContainerExecInspect(ctx, execID)
	if err != nil {
		return "", 0, fmt.Errorf("exec inspect: %w", err)
	}
	combined := stdout.String()
	if stderr.Len() > 0 {
		combined += stderr.String()
	}
	return combined, inspect.ExitCode, nil
}

// tail keeps the last n lines of s.
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
