package trackingmodule

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/videoseg/masktrace/internal/events"
)

// StageRunner executes pipeline stages in background goroutines. Every
// stage runs at most once per session at a time; failures anywhere in a
// stage are captured onto the session rather than crashing the process.
type StageRunner struct {
	logger  hclog.Logger
	bus     events.EventBus
	persist func(SessionView)

	baseCtx context.Context
	wg      sync.WaitGroup
}

// NewStageRunner creates a runner whose stages are children of baseCtx;
// cancelling baseCtx cancels every in-flight stage.
func NewStageRunner(baseCtx context.Context, logger hclog.Logger, bus events.EventBus, persist func(SessionView)) *StageRunner {
	if persist == nil {
		persist = func(SessionView) {}
	}
	return &StageRunner{
		logger:  logger.Named("stage-runner"),
		bus:     bus,
		persist: persist,
		baseCtx: baseCtx,
	}
}

// stageWork is the body of one background stage. It reports progress
// through the task and commits its own success transition; any returned
// error moves the session to the error status.
type stageWork func(ctx context.Context, task *stageTask) error

// Launch starts a stage for the session unless it is already running or
// already done, in which case it returns started=false with nil error
// and the caller acknowledges the in-flight work instead.
func (r *StageRunner) Launch(session *Session, running, from, done Stage, startMsg string, work stageWork) (bool, error) {
	ctx, cancel := context.WithCancel(r.baseCtx)

	started, err := session.begin(running, from, done, startMsg, cancel)
	if !started {
		cancel()
		return false, err
	}

	task := &stageTask{runner: r, session: session, stage: running}
	r.publishProgress(session, 0, startMsg)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("stage panicked",
					"session_id", session.ID(),
					"stage", running,
					"panic", rec)
				r.finishFailed(session, running, fmt.Errorf("stage %s panicked: %v", running, rec))
			}
		}()

		if err := work(ctx, task); err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("%w: %v", ErrCancelled, err)
			}
			r.finishFailed(session, running, err)
			return
		}

		view := session.Snapshot()
		r.logger.Info("stage completed",
			"session_id", session.ID(),
			"stage", running,
			"status", view.Status)
		if r.bus != nil {
			r.bus.Publish(events.NewEventWithData(events.EventStageCompleted, "tracking", string(running)+" completed",
				map[string]interface{}{
					"session_id": session.ID(),
					"stage":      string(running),
					"status":     string(view.Status),
				}))
		}
		r.persist(view)
	}()

	return true, nil
}

// Wait blocks until every in-flight stage has returned
func (r *StageRunner) Wait() {
	r.wg.Wait()
}

func (r *StageRunner) finishFailed(session *Session, stage Stage, err error) {
	session.fail(err)
	r.logger.Error("stage failed",
		"session_id", session.ID(),
		"stage", stage,
		"error", err)
	if r.bus != nil {
		r.bus.Publish(events.NewEventWithData(events.EventStageFailed, "tracking", err.Error(),
			map[string]interface{}{
				"session_id": session.ID(),
				"stage":      string(stage),
			}))
	}
	r.persist(session.Snapshot())
}

func (r *StageRunner) publishProgress(session *Session, progress int, message string) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(events.NewEventWithData(events.EventStageProgress, "tracking", message,
		map[string]interface{}{
			"session_id": session.ID(),
			"status":     string(session.Snapshot().Status),
			"progress":   progress,
			"message":    message,
		}))
}

// stageTask is the handle a stage body uses to report progress and
// commit its success transition.
type stageTask struct {
	runner  *StageRunner
	session *Session
	stage   Stage
}

// Progress records an advisory progress/message pair on the session
// and fans it out to event subscribers.
func (t *stageTask) Progress(progress int, message string) {
	t.session.setProgress(progress, message)
	t.runner.publishProgress(t.session, progress, message)
}

// Complete commits the stage's results and target status atomically
func (t *stageTask) Complete(to Stage, message string, apply func(*Session)) {
	t.session.complete(to, message, apply)
	t.runner.publishProgress(t.session, 100, message)
	t.runner.persist(t.session.Snapshot())
}
