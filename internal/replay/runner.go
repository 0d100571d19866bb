package replay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/yubzen/runneragent/internal/agent"
	"github.com/yubzen/runneragent/internal/control"
	"github.com/yubzen/runneragent/internal/log"
)

const (
	statusPass = agent.StatusPass
	statusFail = agent.StatusFail

	// StopMessage is the failure message of tests cut short by Stop.
	StopMessage = "Execution terminated by signal"

	timestampLayout = "20060102 15:04:05.000"
)

var (
	// ErrNotRunning is returned by Stop when no run is in progress. It
	// matches control.ErrNoExecution so the control server treats it as a
	// no-op kill.
	ErrNotRunning     = fmt.Errorf("replay: %w", control.ErrNoExecution)
	ErrAlreadyRunning = errors.New("replay already running")
)

// Listener receives the lifecycle callbacks. *agent.Agent implements it.
type Listener interface {
	StartSuite(name string, attrs agent.Attrs)
	EndSuite(name string, attrs agent.Attrs)
	StartTest(name string, attrs agent.Attrs)
	EndTest(name string, attrs agent.Attrs)
	StartKeyword(ctx context.Context, name string, attrs agent.Attrs) error
	EndKeyword(name string, attrs agent.Attrs)
	LogMessage(message agent.Attrs)
	LogFile(path string)
	ReportFile(path string)
}

// levelSetter is implemented by listeners that filter forwarded log
// messages. *agent.Agent implements it.
type levelSetter interface {
	SetLogThreshold(level string) error
}

// Result summarises one run.
type Result struct {
	Passed  int
	Failed  int
	Stopped bool
}

type Runner struct {
	script *Script
	log    zerolog.Logger
	now    func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewRunner(script *Script, logger *zerolog.Logger) *Runner {
	r := &Runner{script: script, log: log.WithComponent("replay"), now: time.Now}
	if logger != nil {
		r.log = *logger
	}
	return r
}

// Stop ends the current run. The keyword being executed fails, remaining
// keywords are skipped and every unfinished test fails with StopMessage.
func (r *Runner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return ErrNotRunning
	}
	r.log.Info().Msg("stop requested")
	r.cancel()
	return nil
}

func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

// Run executes the script against l. It returns when every suite has ended,
// including after Stop.
func (r *Runner) Run(ctx context.Context, l Listener) (Result, error) {
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return Result{}, ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()
		cancel()
	}()

	ex := &execution{runner: r, listener: l, ctx: runCtx}
	for i := range r.script.Suites {
		ex.suite(&r.script.Suites[i], "", fmt.Sprintf("s%d", i+1))
	}
	if p := r.script.Output.Log; p != "" {
		l.LogFile(p)
	}
	if p := r.script.Output.Report; p != "" {
		l.ReportFile(p)
	}
	ex.result.Stopped = ex.stopped()
	r.log.Info().
		Int("passed", ex.result.Passed).
		Int("failed", ex.result.Failed).
		Bool("stopped", ex.result.Stopped).
		Msg("replay finished")
	return ex.result, nil
}

type execution struct {
	runner   *Runner
	listener Listener
	ctx      context.Context
	result   Result
}

func (e *execution) stopped() bool {
	return e.ctx.Err() != nil
}

func (e *execution) timestamp() string {
	return e.runner.now().Format(timestampLayout)
}

func elapsed(start, end time.Time) int64 {
	return end.Sub(start).Milliseconds()
}

func longName(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

func (e *execution) suite(s *Suite, parent, id string) bool {
	long := longName(parent, s.Name)
	start := e.runner.now()

	childSuites := make([]string, 0, len(s.Suites))
	for _, c := range s.Suites {
		childSuites = append(childSuites, c.Name)
	}
	tests := make([]string, 0, len(s.Tests))
	for _, t := range s.Tests {
		tests = append(tests, t.Name)
	}
	metadata := make(map[string]any, len(s.Metadata))
	for k, v := range s.Metadata {
		metadata[k] = v
	}

	attrs := agent.Attrs{
		"id":         id,
		"longname":   long,
		"doc":        s.Doc,
		"metadata":   metadata,
		"source":     s.Source,
		"suites":     childSuites,
		"tests":      tests,
		"totaltests": s.totalTests(),
		"starttime":  start.Format(timestampLayout),
	}
	e.listener.StartSuite(s.Name, attrs)

	passed := true
	for i := range s.Suites {
		if !e.suite(&s.Suites[i], long, fmt.Sprintf("%s-s%d", id, i+1)) {
			passed = false
		}
	}
	for i := range s.Tests {
		if !e.test(&s.Tests[i], long, fmt.Sprintf("%s-t%d", id, i+1)) {
			passed = false
		}
	}

	end := e.runner.now()
	endAttrs := copyAttrs(attrs)
	endAttrs["endtime"] = end.Format(timestampLayout)
	endAttrs["elapsedtime"] = elapsed(start, end)
	endAttrs["status"] = statusOf(passed)
	endAttrs["message"] = ""
	e.listener.EndSuite(s.Name, endAttrs)
	return passed
}

func (e *execution) test(t *Test, parent, id string) bool {
	start := e.runner.now()
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	attrs := agent.Attrs{
		"id":           id,
		"longname":     longName(parent, t.Name),
		"originalname": t.Name,
		"doc":          t.Doc,
		"tags":         tags,
		"template":     "",
		"starttime":    start.Format(timestampLayout),
	}
	e.listener.StartTest(t.Name, attrs)

	passed, message := true, ""
	if e.stopped() {
		passed, message = false, StopMessage
	} else {
		for i := range t.Keywords {
			ok, msg := e.keyword(&t.Keywords[i])
			if !ok {
				passed, message = false, msg
				break
			}
		}
	}
	if passed {
		e.result.Passed++
	} else {
		e.result.Failed++
	}

	end := e.runner.now()
	endAttrs := copyAttrs(attrs)
	endAttrs["endtime"] = end.Format(timestampLayout)
	endAttrs["elapsedtime"] = elapsed(start, end)
	endAttrs["status"] = statusOf(passed)
	endAttrs["message"] = message
	e.listener.EndTest(t.Name, endAttrs)
	return passed
}

// keyword runs kw and its children. It reports the outcome and, on failure,
// the message the enclosing test ends with.
func (e *execution) keyword(kw *Keyword) (bool, string) {
	if e.stopped() {
		return false, StopMessage
	}

	start := e.runner.now()
	lib, name := splitKeyword(kw.Name)
	args := kw.Args
	if args == nil {
		args = []string{}
	}
	assign := kw.Assign
	if assign == nil {
		assign = []string{}
	}
	attrs := agent.Attrs{
		"type":      "Keyword",
		"kwname":    name,
		"libname":   lib,
		"doc":       "",
		"args":      args,
		"assign":    assign,
		"tags":      []string{},
		"starttime": start.Format(timestampLayout),
	}

	passed, message := true, ""
	if err := e.listener.StartKeyword(e.ctx, kw.Name, attrs); err != nil || e.stopped() {
		if err != nil && !agent.IsExecutionStopped(err) {
			e.runner.log.Warn().Err(err).Str("keyword", kw.Name).Msg("keyword start failed")
		}
		passed, message = false, StopMessage
	} else if ok, msg := e.builtin(lib, name, args); !ok {
		passed, message = false, msg
		e.logMessage(Message{Level: statusFail, Text: message})
	} else {
		for _, m := range kw.Messages {
			e.logMessage(m)
		}
		for i := range kw.Keywords {
			ok, msg := e.keyword(&kw.Keywords[i])
			if !ok {
				passed, message = false, msg
				break
			}
		}
		if passed && strings.EqualFold(kw.Status, statusFail) {
			passed = false
			message = kw.Message
			if message == "" {
				message = kw.Name + " failed"
			}
			e.logMessage(Message{Level: statusFail, Text: message})
		}
	}

	end := e.runner.now()
	endAttrs := copyAttrs(attrs)
	endAttrs["endtime"] = end.Format(timestampLayout)
	endAttrs["elapsedtime"] = elapsed(start, end)
	endAttrs["status"] = statusOf(passed)
	e.listener.EndKeyword(kw.Name, endAttrs)
	return passed, message
}

// builtin applies the side effects of the few library keywords the replay
// engine honours itself. Set Log Level changes the listener's forwarding
// threshold the way the engine's own output level would.
func (e *execution) builtin(lib, name string, args []string) (bool, string) {
	if lib != "" && !strings.EqualFold(lib, "BuiltIn") {
		return true, ""
	}
	if !strings.EqualFold(name, "Set Log Level") || len(args) == 0 {
		return true, ""
	}
	setter, ok := e.listener.(levelSetter)
	if !ok {
		return true, ""
	}
	if err := setter.SetLogThreshold(args[0]); err != nil {
		return false, fmt.Sprintf("Invalid log level '%s'.", args[0])
	}
	e.runner.log.Debug().Str("level", args[0]).Msg("log threshold changed")
	return true, ""
}

func (e *execution) logMessage(m Message) {
	level := strings.ToUpper(m.Level)
	if level == "" {
		level = "INFO"
	}
	html := "no"
	if m.HTML {
		html = "yes"
	}
	e.listener.LogMessage(agent.Attrs{
		"message":   m.Text,
		"level":     level,
		"timestamp": e.timestamp(),
		"html":      html,
	})
}

// splitKeyword separates "Library.Keyword Name" into its parts. Names without
// a library prefix belong to the user keyword namespace.
func splitKeyword(full string) (lib, name string) {
	if i := strings.LastIndex(full, "."); i > 0 && i < len(full)-1 {
		return full[:i], full[i+1:]
	}
	return "", full
}

func statusOf(passed bool) string {
	if passed {
		return statusPass
	}
	return statusFail
}

func copyAttrs(a agent.Attrs) agent.Attrs {
	out := make(agent.Attrs, len(a)+4)
	for k, v := range a {
		out[k] = v
	}
	return out
}
