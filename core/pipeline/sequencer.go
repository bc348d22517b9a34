package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"splat-orchestrator/core/events"
	"splat-orchestrator/core/executor"
	"splat-orchestrator/core/models"
	"splat-orchestrator/storage"
	"splat-orchestrator/training/nerfstudio"
	"splat-orchestrator/training/splat"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ConvertMode selects where PLY to SPLAT conversion runs
type ConvertMode string

const (
	// ConvertRemote runs the embedded helper script on the instance
	ConvertRemote ConvertMode = "remote"
	// ConvertLocal streams the PLY back and converts it in-process
	ConvertLocal ConvertMode = "local"
)

// ParseConvertMode parses a mode name, defaulting to ConvertRemote
func ParseConvertMode(s string) (ConvertMode, error) {
	switch ConvertMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ConvertRemote:
		return ConvertRemote, nil
	case ConvertLocal:
		return ConvertLocal, nil
	default:
		return "", fmt.Errorf("unknown convert mode %q", s)
	}
}

// ArtifactStore is the object storage the sequencer addresses
type ArtifactStore interface {
	URI(key string) string
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	PresignGet(ctx context.Context, key string) (string, error)
}

// SequencerConfig configures a Sequencer
type SequencerConfig struct {
	Home              string
	Profile           nerfstudio.Profile
	Mode              executor.ClassifyMode
	ConvertMode       ConvertMode
	HeartbeatInterval time.Duration
	// CleanupTimeout bounds the docker stop issued after a cancellation.
	CleanupTimeout time.Duration
}

// Sequencer drives one job through the fixed step order over a single
// SSH connection.
type Sequencer struct {
	dialer    executor.Dialer
	publisher events.Publisher
	store     ArtifactStore
	cfg       SequencerConfig
	newTicker TickerFactory
	now       func() time.Time
}

// NewSequencer creates a sequencer
func NewSequencer(dialer executor.Dialer, publisher events.Publisher, store ArtifactStore, cfg SequencerConfig) *Sequencer {
	if cfg.Home == "" {
		cfg.Home = "/home/ubuntu"
	}
	if cfg.Mode == "" {
		cfg.Mode = executor.ModeCombined
	}
	if cfg.ConvertMode == "" {
		cfg.ConvertMode = ConvertRemote
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = 30 * time.Second
	}
	return &Sequencer{
		dialer:    dialer,
		publisher: publisher,
		store:     store,
		cfg:       cfg,
		newTicker: NewTicker,
		now:       time.Now,
	}
}

// job is the state of one run
type job struct {
	id          string
	key         models.JobKey
	host        string
	ws          nerfstudio.Workspace
	remote      executor.Remote
	containerID string
	result      models.JobResult
	logger      zerolog.Logger
	pubCtx      context.Context
}

type stage struct {
	step    models.Step
	running string
	done    string
	fail    string
	// soft failures are reported as a warning and do not abort the job
	soft bool
	run  func(ctx context.Context, j *job) error
	// annotate adds step-specific fields to the running/completed/error events
	annotate func(j *job, e *models.StatusEvent)
}

func (s *Sequencer) stages() []stage {
	return []stage{
		{step: models.StepSetup, running: "Setting up Docker container...", done: "Docker container setup completed",
			fail: "Docker container setup failed", run: s.setup,
			annotate: func(j *job, e *models.StatusEvent) {
				if e.Status == models.StatusCompleted {
					e.ContainerID = j.containerID
				}
			}},
		{step: models.StepDownload, running: "Downloading dataset from object storage...", done: "Dataset downloaded",
			fail: "Failed to download dataset", run: s.download},
		{step: models.StepUnzip, running: "Extracting dataset...", done: "Dataset extracted",
			fail: "Failed to extract dataset", run: s.unzip},
		{step: models.StepProcess, running: "Processing video data...", done: "Data processing completed",
			fail: "Failed to process data", run: s.process},
		{step: models.StepTrain, running: "Training model...", done: "Model training completed",
			fail: "Failed to train model", run: s.train,
			annotate: func(j *job, e *models.StatusEvent) {
				if e.Status == models.StatusRunning {
					e.ViewerURL = j.ws.ViewerURL(j.host)
					e.ViewerActive = boolPtr(true)
					return
				}
				e.ViewerActive = boolPtr(false)
			}},
		{step: models.StepExport, running: "Exporting Gaussian splat...", done: "Gaussian splat export completed",
			fail: "Failed to export Gaussian splat", run: s.export},
		{step: models.StepConvert, running: "Converting PLY to SPLAT...", done: "PLY converted to SPLAT",
			fail: "Failed to convert PLY to SPLAT", run: s.convert},
		{step: models.StepUpload, running: "Uploading mesh files...", done: "Mesh files uploaded",
			fail: "Failed to upload mesh files", run: s.upload},
		{step: models.StepCleanup, running: "Stopping Docker container...", done: "Docker container stopped",
			fail: "Failed to stop Docker container", soft: true, run: s.cleanup},
		{step: models.StepFinal, running: "Preparing results...", done: "Training completed, mesh and splat files uploaded",
			fail: "Failed to prepare results", run: s.final,
			annotate: func(j *job, e *models.StatusEvent) {
				if e.Status == models.StatusCompleted {
					e.SplatPath = j.result.SplatPath
					e.SplatURL = j.result.SplatURL
				}
			}},
	}
}

// Run executes every step against host. On failure of step K it publishes
// an error for K and for overall, runs nothing after K and returns a
// *StepError. The heartbeat is stopped on every exit path.
func (s *Sequencer) Run(ctx context.Context, key models.JobKey, host, jobID string) (*models.JobResult, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if jobID == "" {
		jobID = uuid.New().String()
	}

	ws := nerfstudio.NewWorkspace(s.cfg.Home, key, s.cfg.Profile)
	j := &job{
		id:     jobID,
		key:    key,
		host:   host,
		ws:     ws,
		pubCtx: context.WithoutCancel(ctx),
		logger: log.With().Str("room", key.Room()).Str("job_id", jobID).Str("host", host).Logger(),
		result: models.JobResult{JobID: jobID, InstanceIP: host},
	}

	hb := startHeartbeat(ctx, s.newTicker, s.cfg.HeartbeatInterval, func(step models.Step) {
		s.publish(j, models.StatusEvent{
			Step:    step,
			Status:  models.StatusHeartbeat,
			Message: fmt.Sprintf("Still working on %s...", step),
		})
	})
	defer hb.Stop()

	s.publish(j, models.StatusEvent{Step: models.StepOverall, Status: models.StatusStarted, Message: "Starting training process..."})
	j.logger.Info().Msg("training job started")

	remote, err := s.dialer.Dial(ctx, host)
	if err != nil {
		return s.abort(j, hb, models.StepSetup, "Failed to connect to instance", err)
	}
	j.remote = remote
	defer remote.Close()

	for _, st := range s.stages() {
		hb.SetStep(st.step)
		if err := s.runStage(ctx, j, st); err != nil {
			if errors.Is(context.Cause(ctx), ErrCancelled) {
				s.stopAfterCancel(j)
			}
			return s.abort(j, hb, st.step, "", err)
		}
	}

	hb.Stop()
	s.publish(j, models.StatusEvent{Step: models.StepOverall, Status: models.StatusCompleted, Message: "All processing steps completed successfully"})
	j.logger.Info().Str("splat_path", j.result.SplatPath).Msg("training job completed")
	return &j.result, nil
}

// runStage publishes running, runs the step and publishes its outcome.
// A returned error has already been published on the step.
func (s *Sequencer) runStage(ctx context.Context, j *job, st stage) error {
	started := s.now()
	record := models.StepRecord{Step: st.step, StartedAt: started}
	emit := func(status models.StepStatus, msg string) {
		e := models.StatusEvent{Step: st.step, Status: status, Message: msg}
		if st.annotate != nil {
			st.annotate(j, &e)
		}
		s.publish(j, e)
	}

	emit(models.StatusRunning, st.running)
	j.logger.Info().Str("step", string(st.step)).Msg(st.running)

	err := ctx.Err()
	if err == nil {
		err = st.run(ctx, j)
	}
	if err != nil && ctx.Err() != nil {
		err = cancelError(ctx)
	}
	record.Duration = s.now().Sub(started)
	var cmdErr *executor.CommandError
	if errors.As(err, &cmdErr) {
		record.ExitStatus = cmdErr.Result.ExitStatus
	}

	switch {
	case err == nil:
		record.Status = models.StatusCompleted
		emit(models.StatusCompleted, st.done)
	case st.soft && ctx.Err() == nil:
		record.Status = models.StatusWarning
		record.Message = err.Error()
		emit(models.StatusWarning, fmt.Sprintf("%s: %v", st.fail, err))
		j.logger.Warn().Err(err).Str("step", string(st.step)).Msg(st.fail)
		err = nil
	default:
		record.Status = models.StatusError
		record.Message = err.Error()
		emit(models.StatusError, fmt.Sprintf("%s: %v", st.fail, err))
		j.logger.Error().Err(err).Str("step", string(st.step)).Msg(st.fail)
	}
	j.result.Steps = append(j.result.Steps, record)
	return err
}

// abort publishes the overall error and returns the StepError. When
// stepMsg is set an error event for step is published first.
func (s *Sequencer) abort(j *job, hb *Heartbeat, step models.Step, stepMsg string, err error) (*models.JobResult, error) {
	hb.Stop()
	if stepMsg != "" {
		s.publish(j, models.StatusEvent{Step: step, Status: models.StatusError, Message: fmt.Sprintf("%s: %v", stepMsg, err)})
		j.result.Steps = append(j.result.Steps, models.StepRecord{Step: step, Status: models.StatusError, Message: err.Error(), StartedAt: s.now()})
	}
	msg := fmt.Sprintf("Training routine failed: %v", err)
	if errors.Is(err, ErrCancelled) {
		msg = "Training cancelled"
	}
	s.publish(j, models.StatusEvent{Step: models.StepOverall, Status: models.StatusError, Message: msg})
	return &j.result, &StepError{Step: step, Err: err}
}

// stopAfterCancel stops the container on a fresh context once the job's
// own context is gone.
func (s *Sequencer) stopAfterCancel(j *job) {
	if j.containerID == "" || j.remote == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CleanupTimeout)
	defer cancel()
	if _, err := s.exec(ctx, j, nerfstudio.StopContainer(j.containerID), false); err != nil {
		j.logger.Warn().Err(err).Str("container_id", j.containerID).Msg("failed to stop container after cancel")
	}
}

func cancelError(ctx context.Context) error {
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return ctx.Err()
}

func (s *Sequencer) publish(j *job, e models.StatusEvent) {
	e.JobID = j.id
	s.publisher.Publish(j.pubCtx, j.key.Room(), e)
}

// exec runs cmd and classifies the result. Streamed commands forward
// their output to the job log as it arrives.
func (s *Sequencer) exec(ctx context.Context, j *job, cmd nerfstudio.Command, stream bool) (executor.Result, error) {
	var opts executor.RunOptions
	if stream {
		stdout := executor.NewLogSink(j.logger, "stdout")
		stderr := executor.NewLogSink(j.logger, "stderr")
		defer stdout.Flush()
		defer stderr.Flush()
		opts.Stdout, opts.Stderr = stdout, stderr
	}
	result, err := j.remote.Run(ctx, cmd.Text, opts)
	if err != nil {
		return result, err
	}
	return result, executor.Classify(cmd.Text, result, cmd.Policy, s.cfg.Mode)
}

func (s *Sequencer) setup(ctx context.Context, j *job) error {
	result, err := s.exec(ctx, j, j.ws.StartContainer(), false)
	if err != nil {
		return err
	}
	j.containerID = strings.TrimSpace(result.Stdout)
	if j.containerID == "" {
		return fmt.Errorf("docker run printed no container id")
	}
	j.result.ContainerID = j.containerID
	j.logger = j.logger.With().Str("container_id", j.containerID).Logger()
	return nil
}

func (s *Sequencer) download(ctx context.Context, j *job) error {
	_, err := s.exec(ctx, j, j.ws.DownloadDataset(s.store.URI(storage.DatasetPrefix(j.key))), false)
	return err
}

func (s *Sequencer) unzip(ctx context.Context, j *job) error {
	if _, err := s.exec(ctx, j, j.ws.Unzip(), false); err != nil {
		return err
	}
	if _, err := s.exec(ctx, j, j.ws.RenameVideo(), false); err != nil {
		return fmt.Errorf("rename video: %w", err)
	}
	return nil
}

func (s *Sequencer) process(ctx context.Context, j *job) error {
	_, err := s.exec(ctx, j, j.ws.ProcessData(j.containerID), true)
	return err
}

func (s *Sequencer) train(ctx context.Context, j *job) error {
	_, err := s.exec(ctx, j, j.ws.Train(j.containerID), true)
	return err
}

func (s *Sequencer) export(ctx context.Context, j *job) error {
	_, err := s.exec(ctx, j, j.ws.Export(j.containerID), true)
	return err
}

func (s *Sequencer) convert(ctx context.Context, j *job) error {
	splatKey := storage.SplatKey(j.key)
	if s.cfg.ConvertMode == ConvertLocal {
		return s.convertLocal(ctx, j, splatKey)
	}

	if err := j.remote.WriteFile(ctx, j.ws.ScriptPath(), splat.HelperScript, 0644); err != nil {
		return fmt.Errorf("upload conversion helper: %w", err)
	}
	if _, err := s.exec(ctx, j, nerfstudio.InstallConvertDeps(), false); err != nil {
		if ctx.Err() != nil {
			return err
		}
		j.logger.Warn().Err(err).Msg("failed to install conversion dependencies")
	}
	if _, err := s.exec(ctx, j, j.ws.ConvertRemote(), false); err != nil {
		return err
	}
	if _, err := s.exec(ctx, j, j.ws.UploadSplat(s.store.URI(splatKey)), false); err != nil {
		return fmt.Errorf("upload splat: %w", err)
	}
	return nil
}

// convertLocal streams the PLY over the job's connection, converts it
// in-process and uploads the result directly.
func (s *Sequencer) convertLocal(ctx context.Context, j *job, splatKey string) error {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(j.remote.ReadFile(ctx, j.ws.PLYPath(), pw))
	}()

	var out bytes.Buffer
	n, err := splat.Convert(pr, &out)
	pr.CloseWithError(err)
	if err != nil {
		return fmt.Errorf("convert %s: %w", j.ws.PLYPath(), err)
	}
	j.logger.Info().Int("splats", n).Msg("converted gaussian splat")

	if err := s.store.Put(ctx, splatKey, bytes.NewReader(out.Bytes()), int64(out.Len()), "application/octet-stream"); err != nil {
		return fmt.Errorf("upload splat: %w", err)
	}
	return nil
}

func (s *Sequencer) upload(ctx context.Context, j *job) error {
	meshKey := storage.MeshPrefix(j.key)
	if _, err := s.exec(ctx, j, j.ws.UploadMesh(s.store.URI(meshKey)), false); err != nil {
		return err
	}
	j.result.MeshPath = meshKey
	return nil
}

func (s *Sequencer) cleanup(ctx context.Context, j *job) error {
	_, err := s.exec(ctx, j, nerfstudio.StopContainer(j.containerID), false)
	return err
}

func (s *Sequencer) final(ctx context.Context, j *job) error {
	j.result.SplatPath = storage.SplatKey(j.key)
	url, err := s.store.PresignGet(ctx, j.result.SplatPath)
	if err != nil {
		j.logger.Warn().Err(err).Msg("failed to presign splat url")
		return nil
	}
	j.result.SplatURL = url
	return nil
}

func boolPtr(b bool) *bool { return &b }
