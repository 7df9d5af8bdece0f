package workflow

import "time"

// StuckReason says why an agent looks stuck
type StuckReason string

// Stuck reasons
const (
	StuckTimeout         StuckReason = "timeout"
	StuckOutputLoop      StuckReason = "output_loop"
	StuckBudgetExhausted StuckReason = "budget_exhausted"
)

const defaultMaxRepeats = 3

// StuckDetector watches the output of one agent for signs that it stopped
// making progress: no new output for too long, the same output repeated, or
// more output than the byte budget allows. It is not safe for concurrent use.
type StuckDetector struct {
	timeout    time.Duration
	maxRepeats int
	byteBudget int

	recent       []string
	lastProgress time.Time
	consumed     int
	now          func() time.Time
}

// NewStuckDetector creates a detector. A zero timeout or byte budget turns
// that check off.
func NewStuckDetector(timeout time.Duration, byteBudget int) *StuckDetector {
	d := &StuckDetector{
		timeout:    timeout,
		maxRepeats: defaultMaxRepeats,
		byteBudget: byteBudget,
		now:        time.Now,
	}
	d.lastProgress = d.now()
	return d
}

// Record feeds one chunk of agent output to the detector
func (d *StuckDetector) Record(output string) {
	d.consumed += len(output)
	d.recent = append(d.recent, output)
	if len(d.recent) > d.maxRepeats+1 {
		d.recent = d.recent[1:]
	}

	n := len(d.recent)
	if n < 2 || d.recent[n-1] != d.recent[n-2] {
		d.lastProgress = d.now()
	}
}

// Check returns the first reason the agent looks stuck, if any
func (d *StuckDetector) Check() (StuckReason, bool) {
	if d.timeout > 0 && d.now().Sub(d.lastProgress) > d.timeout {
		return StuckTimeout, true
	}

	if n := len(d.recent); n >= d.maxRepeats {
		last := d.recent[n-1]
		same := last != ""
		for _, out := range d.recent[n-d.maxRepeats:] {
			if out != last {
				same = false
				break
			}
		}
		if same {
			return StuckOutputLoop, true
		}
	}

	if d.byteBudget > 0 && d.consumed >= d.byteBudget {
		return StuckBudgetExhausted, true
	}

	return "", false
}

// Reset clears the history and restarts the progress clock
func (d *StuckDetector) Reset() {
	d.recent = nil
	d.consumed = 0
	d.lastProgress = d.now()
}
