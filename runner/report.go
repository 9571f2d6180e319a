package runner

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
)

type State string

const (
	Unknown          State = "UNKNOWN"
	Checked          State = "CHECKED"
	AlreadySatisfied State = "ALREADY_SATISFIED"
	Applied          State = "APPLIED"
	Failed           State = "FAILED"
)

func (s State) rank() int {
	switch s {
	case Unknown:
		return 0
	case Checked:
		return 1
	}
	return 2
}

type StepKind string

const (
	TableStep    StepKind = "table"
	ColumnStep   StepKind = "column"
	ViewStep     StepKind = "view"
	BackfillStep StepKind = "backfill"
	SeedStep     StepKind = "seed"
	ResetStep    StepKind = "reset"
)

// StepResult is the outcome of converging one target item.
type StepResult struct {
	Kind         StepKind
	Name         string
	State        State
	Message      string
	RowsAffected int64
	Err          error
	Duration     time.Duration

	started time.Time
}

func newStep(kind StepKind, name string) *StepResult {
	return &StepResult{Kind: kind, Name: name, State: Unknown, started: time.Now()}
}

// transition moves the step forward. Terminal states are final, except that
// an applied data step becomes FAILED when its transaction is rolled back.
func (s *StepResult) transition(to State) bool {
	if to.rank() > s.State.rank() || (s.State == Applied && to == Failed) {
		s.State = to
		if to.rank() == 2 {
			s.Duration = time.Since(s.started)
		}
		return true
	}
	return false
}

func (s *StepResult) satisfied(msg string) *StepResult {
	s.transition(AlreadySatisfied)
	s.Message = msg
	return s
}

func (s *StepResult) applied(msg string) *StepResult {
	s.transition(Applied)
	s.Message = msg
	return s
}

func (s *StepResult) fail(kind ErrorKind, err error) *StepResult {
	s.transition(Failed)
	s.Err = &StepError{Kind: kind, Step: s.ID(), Err: err}
	s.Message = err.Error()
	return s
}

// ID is the kind-qualified item name, e.g. "column audit_responses.evidence_notes".
func (s *StepResult) ID() string {
	return string(s.Kind) + " " + s.Name
}

// Report aggregates every step of one Run.
type Report struct {
	RunID     string
	Target    string
	StartedAt time.Time
	Duration  time.Duration
	Steps     []*StepResult
	// RolledBack is set when the data phase was rolled back.
	RolledBack bool
}

func (r *Report) add(s *StepResult) *StepResult {
	r.Steps = append(r.Steps, s)
	return s
}

// OK reports whether no step failed.
func (r *Report) OK() bool {
	return len(r.Failed()) == 0
}

func (r *Report) Failed() []*StepResult {
	var out []*StepResult
	for _, s := range r.Steps {
		if s.State == Failed {
			out = append(out, s)
		}
	}
	return out
}

func (r *Report) Count(state State) int {
	n := 0
	for _, s := range r.Steps {
		if s.State == state {
			n++
		}
	}
	return n
}

// Step returns the result for an item, or nil.
func (r *Report) Step(kind StepKind, name string) *StepResult {
	for _, s := range r.Steps {
		if s.Kind == kind && s.Name == name {
			return s
		}
	}
	return nil
}

// Reporter prints one line per step plus a summary.
type Reporter struct {
	out io.Writer
}

func NewReporter(out io.Writer) *Reporter {
	return &Reporter{out: out}
}

var (
	green  = color.New(color.FgGreen)
	done   = color.New(color.FgGreen, color.Bold)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan, color.Bold)
	faint  = color.New(color.Faint)
)

func (p *Reporter) Printf(format string, args ...any) {
	fmt.Fprintf(p.out, format, args...)
}

func (p *Reporter) Phase(name string) {
	cyan.Fprintf(p.out, "\n📋 %s\n", name)
}

func (p *Reporter) Warn(format string, args ...any) {
	yellow.Fprintf(p.out, "⚠️  "+format+"\n", args...)
}

func (p *Reporter) Step(s *StepResult) {
	label := fmt.Sprintf("[%s] %s", s.Kind, s.Name)
	switch s.State {
	case Applied:
		green.Fprintf(p.out, "✅ %s", label)
	case AlreadySatisfied:
		faint.Fprintf(p.out, "⏭️  %s", label)
	case Failed:
		red.Fprintf(p.out, "❌ %s", label)
	default:
		fmt.Fprintf(p.out, "•  %s", label)
	}
	if s.Message != "" {
		fmt.Fprintf(p.out, ": %s", s.Message)
	}
	fmt.Fprintln(p.out)
}

func (p *Reporter) Summary(r *Report) {
	fmt.Fprintf(p.out, "\n📊 Summary: %d applied, %d already satisfied, %d failed (%v)\n",
		r.Count(Applied), r.Count(AlreadySatisfied), r.Count(Failed), r.Duration.Round(time.Millisecond))
	if r.RolledBack {
		yellow.Fprintln(p.out, "↩️  Data changes were rolled back")
	}
	failed := r.Failed()
	if len(failed) == 0 {
		done.Fprintln(p.out, "✅ Database converged.")
		return
	}
	red.Fprintf(p.out, "❌ %d step(s) need manual remediation:\n", len(failed))
	for _, s := range failed {
		fmt.Fprintf(p.out, "   - [%s] %s: %s\n", s.Kind, s.Name, s.Message)
	}
}
