package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrz1836/storyloom/internal/config"
	"github.com/mrz1836/storyloom/internal/constants"
	"github.com/mrz1836/storyloom/internal/domain"
	"github.com/mrz1836/storyloom/internal/errors"
	"github.com/mrz1836/storyloom/internal/events"
	"github.com/mrz1836/storyloom/internal/signal"
	"github.com/mrz1836/storyloom/internal/transport/natsbus"
)

const (
	// runDrainTimeout bounds how long run waits for sessions after the
	// watched session ends or the user interrupts.
	runDrainTimeout = 30 * time.Second

	// runStatusPoll is how often run re-reads the session in case its
	// terminal event was dropped.
	runStatusPoll = time.Second

	eventBuffer = 256
)

// RunFlags holds flags specific to the run command.
type RunFlags struct {
	Approval    bool
	Threshold   float64
	MaxAttempts int
}

// AddRunCommand adds the run command to the root command.
func AddRunCommand(root *cobra.Command, globals *GlobalFlags) {
	flags := &RunFlags{}
	cmd := &cobra.Command{
		Use:   "run <goal.yaml>",
		Short: "Run a writing session in the foreground",
		Long: `Plan a goal file and drive the session to completion in this process,
streaming progress as it happens.

While the session runs, commands can be typed on stdin:
  approve <task-id>              accept a task awaiting approval
  feedback <task-id> <notes...>  rewrite a task with feedback
  skip <task-id>                 skip a task awaiting approval
  pause | resume | stop

Ctrl+C stops after the current task; a second Ctrl+C abandons it.

Examples:
  storyloom run goal.yaml
  storyloom run goal.yaml --approval --threshold 0.8
  storyloom run goal.yaml --output json > events.ndjson`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), cmd, args[0], globals, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.Approval, "approval", false, "pause every task for human approval")
	cmd.Flags().Float64Var(&flags.Threshold, "threshold", constants.DefaultPassThreshold, "evaluation pass threshold (0-1)")
	cmd.Flags().IntVar(&flags.MaxAttempts, "max-attempts", constants.DefaultMaxAttempts, "generation attempts per task")

	root.AddCommand(cmd)
}

func runRun(ctx context.Context, cmd *cobra.Command, goalPath string, globals *GlobalFlags, flags *RunFlags) error {
	logger := GetLogger()

	goal, opts, err := loadGoalFile(goalPath)
	if err != nil {
		return err
	}
	opts = applyRunFlags(cmd, flags, opts)

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	handler := signal.NewHandler(ctx)
	defer handler.Stop()

	final, err := runSession(ctx, rt, goal, opts, sessionIO{
		in:          os.Stdin,
		out:         cmd.OutOrStdout(),
		errOut:      cmd.ErrOrStderr(),
		format:      globals.Output,
		interrupted: handler.Interrupted(),
		forced:      handler.Forced(),
	})
	if err != nil {
		return err
	}
	if final.Status == constants.SessionStatusFailed {
		return fmt.Errorf("session %s failed: %s", final.ID, final.Error)
	}
	return nil
}

// applyRunFlags layers explicitly set flags over the goal file options.
func applyRunFlags(cmd *cobra.Command, flags *RunFlags, opts *domain.SessionOptions) *domain.SessionOptions {
	changed := func(name string) bool { return cmd.Flags().Changed(name) }
	if !changed("approval") && !changed("threshold") && !changed("max-attempts") {
		return opts
	}
	if opts == nil {
		opts = &domain.SessionOptions{}
	}
	if changed("approval") {
		v := flags.Approval
		opts.ApprovalMode = &v
	}
	if changed("threshold") {
		v := flags.Threshold
		opts.PassThreshold = &v
	}
	if changed("max-attempts") {
		v := flags.MaxAttempts
		opts.MaxAttempts = &v
	}
	return opts
}

// sessionIO carries the terminal and signal plumbing of a foreground run.
type sessionIO struct {
	in          io.Reader
	out         io.Writer
	errOut      io.Writer
	format      string
	interrupted <-chan struct{}
	forced      <-chan struct{}
}

// runSession starts goal on the runtime registry, streams its events and
// feeds stdin commands to it until the session reaches a terminal status.
// It returns the final session record.
func runSession(ctx context.Context, rt *runtime, goal domain.Goal, opts *domain.SessionOptions, sio sessionIO) (*domain.Session, error) {
	// Subscribe before Start so the started event is not missed.
	sub := rt.hub.Subscribe("", eventBuffer)
	defer sub.Close()

	started, err := rt.registry.Start(ctx, goal, opts)
	if err != nil {
		return nil, err
	}
	id := started.ID

	out := &syncWriter{w: sio.out}
	printer := newEventPrinter(out, sio.format)
	if sio.format != OutputJSON {
		printer.line(fmt.Sprintf("Session %s: %d tasks planned", id, len(started.Tasks)))
	}

	cmdCtx, stopCommands := context.WithCancel(ctx)
	defer stopCommands()
	var commands sync.WaitGroup
	if sio.in != nil {
		commands.Add(1)
		go func() {
			defer commands.Done()
			readCommands(cmdCtx, sio.in, rt.registry, id, &syncWriter{w: sio.errOut, mu: &out.muLocal})
		}()
	}

	drainCtx, cancelDrain := context.WithTimeout(context.WithoutCancel(ctx), runDrainTimeout)
	defer cancelDrain()

	ticker := time.NewTicker(runStatusPoll)
	defer ticker.Stop()

	interrupted, forced := sio.interrupted, sio.forced
	for done := false; !done; {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				done = true
				break
			}
			if ev.SessionID != id {
				continue
			}
			printer.event(ev)
			done = isSessionEnd(ev.Type)
		case <-ticker.C:
			if s, err := rt.registry.Get(ctx, id); err == nil && s.Status.IsTerminal() {
				done = true
			}
		case <-interrupted:
			interrupted = nil
			rt.logger.Info().Str("session_id", id).Msg("interrupt received, stopping after the current task")
			_ = rt.registry.Stop(id)
		case <-forced:
			forced = nil
			rt.logger.Warn().Str("session_id", id).Msg("second interrupt, abandoning the current task")
			cancelDrain()
			go func() { _ = rt.registry.Shutdown(drainCtx) }()
		}
	}
	stopCommands()
	commands.Wait()
	drainEvents(sub, id, printer)

	if err := rt.registry.Shutdown(drainCtx); err != nil {
		rt.logger.Debug().Err(err).Msg("registry shutdown")
	}

	final, err := rt.registry.Get(context.WithoutCancel(ctx), id)
	if err != nil {
		return nil, err
	}
	if sio.format != OutputJSON {
		printer.summary(final)
	}
	return final, nil
}

// drainEvents prints events already buffered for id.
func drainEvents(sub *events.Subscription, id string, printer *eventPrinter) {
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if ev.SessionID == id {
				printer.event(ev)
			}
		default:
			return
		}
	}
}

func isSessionEnd(t constants.EventType) bool {
	return t == constants.EventCompleted || t == constants.EventFailed || t == constants.EventStopped
}

// readCommands dispatches one control command per stdin line until EOF or
// until ctx ends. Lines are scanned on a separate goroutine so readCommands
// returns as soon as ctx ends. A closable reader other than os.Stdin is
// closed then, which releases the scanner.
func readCommands(ctx context.Context, in io.Reader, dispatcher natsbus.Dispatcher, sessionID string, errOut io.Writer) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			if c, ok := in.(io.Closer); ok && in != io.Reader(os.Stdin) {
				_ = c.Close()
			}
			return
		case raw, ok := <-lines:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				return
			}
			line := strings.TrimSpace(raw)
			if line == "" {
				continue
			}
			cmd, err := parseCommand(line, sessionID)
			if err == nil {
				_, err = dispatcher.Dispatch(ctx, cmd)
			}
			if err != nil {
				_, _ = fmt.Fprintf(errOut, "✗ %s\n", errors.UserMessage(err))
			}
		}
	}
}

// parseCommand turns a stdin line into a control command for sessionID.
func parseCommand(line, sessionID string) (domain.Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return domain.Command{}, fmt.Errorf("%w: empty command", errors.ErrMalformedCommand)
	}
	cmd := domain.Command{SessionID: sessionID}
	verb := strings.ToLower(fields[0])
	args := fields[1:]

	switch verb {
	case "pause":
		cmd.Type = constants.CommandPause
	case "resume":
		cmd.Type = constants.CommandResume
	case "stop":
		cmd.Type = constants.CommandStop
	case "approve", "approve_task":
		cmd.Type = constants.CommandApproveTask
	case "skip", "skip_task":
		cmd.Type = constants.CommandSkipTask
	case "feedback":
		cmd.Type = constants.CommandFeedback
	default:
		return domain.Command{}, fmt.Errorf("%w: %q", errors.ErrUnknownCommand, verb)
	}

	needsTask := cmd.Type == constants.CommandApproveTask ||
		cmd.Type == constants.CommandSkipTask ||
		cmd.Type == constants.CommandFeedback
	if !needsTask {
		return cmd, nil
	}
	if len(args) == 0 {
		return domain.Command{}, fmt.Errorf("%w: %s needs a task id", errors.ErrMalformedCommand, verb)
	}
	cmd.TaskID = args[0]
	if cmd.Type == constants.CommandFeedback {
		cmd.Message = strings.Join(args[1:], " ")
	}
	return cmd, nil
}

// eventPrinter renders events as styled lines or NDJSON.
type eventPrinter struct {
	w      *syncWriter
	json   bool
	styles *outputStyles
}

func newEventPrinter(w *syncWriter, format string) *eventPrinter {
	return &eventPrinter{w: w, json: format == OutputJSON, styles: newOutputStyles()}
}

func (p *eventPrinter) event(ev domain.Event) {
	if p.json {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		p.line(string(data))
		return
	}
	if text := formatEvent(p.styles, ev); text != "" {
		p.line(text)
	}
}

func (p *eventPrinter) summary(s *domain.Session) {
	status := p.styles.sessionStatusStyle(s.Status).Render(humanize(s.Status.String()))
	p.line("")
	p.line(fmt.Sprintf("%s %s", p.styles.header.Render("Session "+s.ID), status))
	p.line(fmt.Sprintf("  tasks      %d/%d completed, %d failed, %d skipped",
		s.Stats.CompletedTasks, s.Stats.TotalTasks, s.Stats.FailedTasks, s.Stats.SkippedTasks))
	p.line(fmt.Sprintf("  provider   %d calls, %d tokens, $%.4f", s.Stats.ProviderCalls, s.Stats.Usage.TotalTokens, s.Stats.CostUSD))
	if s.Error != "" {
		p.line("  reason     " + s.Error)
	}
	p.line(p.styles.dim.Render("  storyloom show " + s.ID))
}

func (p *eventPrinter) line(s string) {
	_, _ = fmt.Fprintln(p.w, s)
}

// syncWriter serializes writes from the event loop and the command reader.
// Writers sharing a terminal share one mutex.
type syncWriter struct {
	w       io.Writer
	mu      *sync.Mutex
	muLocal sync.Mutex
}

func (s *syncWriter) Write(p []byte) (int, error) {
	mu := s.mu
	if mu == nil {
		mu = &s.muLocal
	}
	mu.Lock()
	defer mu.Unlock()
	return s.w.Write(p)
}
