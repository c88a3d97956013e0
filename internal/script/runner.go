// Package script runs external value producers.
//
// A producer is a script that writes its result to
// <output_dir>/<script basename without extension>.txt. The runner starts it
// with the first interpreter that can be launched, waits for it, and reads the
// file back.
package script

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/kballard/go-shellquote"

	logx "postpilot/pkg/logx"
)

const DefaultOutputDir = "script_outputs"

// Environment handed to every script.
const (
	EnvOutput    = "POSTPILOT_OUTPUT"
	EnvOutputDir = "POSTPILOT_OUTPUT_DIR"
)

var DefaultInterpreters = []string{"python3", "python"}

var (
	ErrNoInterpreter  = errors.WithHint(errors.New("no script interpreter could be started"), "install python3 or set scripts.interpreters")
	ErrScriptNotFound = errors.New("script not found")
	ErrScriptFailed   = errors.New("script exited with an error")
	ErrNoOutput       = errors.New("script did not write its output file")
)

type Config struct {
	// Interpreters are command lines tried in order, e.g. "python3 -u".
	Interpreters []string
	OutputDir    string
	WorkDir      string
	// Timeout bounds one script run. Zero means no limit.
	Timeout time.Duration
}

type Runner struct {
	cfg  Config
	cmds [][]string
	log  logx.Logger
}

func NewRunner(cfg Config, log logx.Logger) (*Runner, error) {
	if len(cfg.Interpreters) == 0 {
		cfg.Interpreters = DefaultInterpreters
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		cfg.OutputDir = DefaultOutputDir
	}
	if strings.TrimSpace(cfg.WorkDir) == "" {
		cfg.WorkDir = "."
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Runner{cfg: cfg, log: log}
	for _, raw := range cfg.Interpreters {
		argv, err := shellquote.Split(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "parse interpreter %q", raw)
		}
		if len(argv) == 0 {
			continue
		}
		r.cmds = append(r.cmds, argv)
	}
	if len(r.cmds) == 0 {
		return nil, errors.WithStack(ErrNoInterpreter)
	}
	return r, nil
}

// OutputPath returns where the producer at script writes its value.
func OutputPath(dir, script string) string {
	base := filepath.Base(script)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, name+".txt")
}

// OutputPath resolves the output file of script against the runner's work dir.
func (r *Runner) OutputPath(script string) string {
	dir := r.cfg.OutputDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(r.cfg.WorkDir, dir)
	}
	return OutputPath(dir, script)
}

// Run executes the producer at path and returns the value it wrote, with
// trailing line breaks removed.
//
// The next interpreter is tried only when the current one cannot be started.
// A script that starts and exits non-zero is a failure.
func (r *Runner) Run(ctx context.Context, path string) (string, error) {
	script, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrapf(err, "resolve %q", path)
	}
	if st, err := os.Stat(script); err != nil || st.IsDir() {
		return "", errors.Wrapf(ErrScriptNotFound, "%s", path)
	}

	out := r.OutputPath(script)
	if err := os.Remove(out); err != nil && !os.IsNotExist(err) {
		return "", errors.Wrapf(err, "remove stale output %s", out)
	}

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	ran := false
	for _, argv := range r.cmds {
		err := r.exec(ctx, argv, script, out)
		if errors.Is(err, errStart) {
			r.log.Warn("interpreter unavailable", logx.String("interpreter", argv[0]), logx.Err(err))
			continue
		}
		if err != nil {
			return "", err
		}
		ran = true
		r.log.Debug("script finished",
			logx.String("script", path),
			logx.String("interpreter", argv[0]),
			logx.Duration("took", time.Since(start)),
		)
		break
	}
	if !ran {
		return "", errors.Wrapf(ErrNoInterpreter, "tried %s", strings.Join(r.cfg.Interpreters, ", "))
	}

	b, err := os.ReadFile(out)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.Wrapf(ErrNoOutput, "expected %s", out)
		}
		return "", errors.Wrapf(err, "read %s", out)
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}

var errStart = errors.New("start interpreter")

func (r *Runner) exec(ctx context.Context, argv []string, script, out string) error {
	args := append(append([]string{}, argv[1:]...), script)
	cmd := exec.CommandContext(ctx, argv[0], args...)
	cmd.Dir = r.cfg.WorkDir
	cmd.Env = append(os.Environ(),
		EnvOutput+"="+out,
		EnvOutputDir+"="+filepath.Dir(out),
	)
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return errors.Mark(errors.Wrapf(err, "%s", argv[0]), errStart)
	}
	err := cmd.Wait()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return errors.Wrapf(ctx.Err(), "script %s", filepath.Base(script))
	}
	err = errors.Mark(errors.Wrapf(err, "script %s", filepath.Base(script)), ErrScriptFailed)
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		err = errors.WithDetail(err, logx.Truncate(msg, 2000))
	}
	return err
}

