// Package setup implements the interactive first-run wizard that writes the
// vaultsync config file.
package setup

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Prompter asks questions over an io.Reader/io.Writer pair. The CLI passes
// os.Stdin and os.Stdout; tests pass buffers.
type Prompter struct {
	scanner *bufio.Scanner
	w       io.Writer
}

// NewPrompter creates a Prompter wired to the given reader and writer.
func NewPrompter(r io.Reader, w io.Writer) *Prompter {
	return &Prompter{scanner: bufio.NewScanner(r), w: w}
}

// String prompts for a text value. Enter alone returns defaultVal; with an
// empty defaultVal the prompt repeats until something is typed. At end of
// input defaultVal is returned.
func (p *Prompter) String(label, defaultVal string) string {
	for {
		if defaultVal != "" {
			_, _ = fmt.Fprintf(p.w, "  %s [%s]: ", label, defaultVal)
		} else {
			_, _ = fmt.Fprintf(p.w, "  %s: ", label)
		}

		if !p.scanner.Scan() {
			return defaultVal
		}

		val := strings.TrimSpace(p.scanner.Text())
		if val != "" {
			return val
		}
		if defaultVal != "" {
			return defaultVal
		}
		_, _ = fmt.Fprintf(p.w, "  (required, please enter a value)\n")
	}
}

// Secret prompts for a token. Input is echoed; an empty answer means none.
func (p *Prompter) Secret(label string) string {
	_, _ = fmt.Fprintf(p.w, "  %s (leave empty for none): ", label)
	if !p.scanner.Scan() {
		return ""
	}
	return strings.TrimSpace(p.scanner.Text())
}

// Confirm asks a yes/no question. Enter alone returns defaultYes.
func (p *Prompter) Confirm(label string, defaultYes bool) bool {
	hint := "[y/N]"
	if defaultYes {
		hint = "[Y/n]"
	}

	_, _ = fmt.Fprintf(p.w, "  %s %s: ", label, hint)

	if !p.scanner.Scan() {
		return defaultYes
	}

	switch strings.TrimSpace(strings.ToLower(p.scanner.Text())) {
	case "":
		return defaultYes
	case "y", "yes":
		return true
	default:
		return false
	}
}

// Duration prompts for a Go duration between lo and hi, re-asking on
// malformed or out-of-range input.
func (p *Prompter) Duration(label string, defaultVal, lo, hi time.Duration) time.Duration {
	for {
		raw := p.String(fmt.Sprintf("%s (%v to %v)", label, lo, hi), defaultVal.String())
		d, err := time.ParseDuration(raw)
		if err == nil && d >= lo && d <= hi {
			return d
		}
		_, _ = fmt.Fprintf(p.w, "  (enter a duration like 30s or 5m between %v and %v)\n", lo, hi)
		if raw == defaultVal.String() {
			// Avoid looping forever at end of input.
			return defaultVal
		}
	}
}

// Select presents a numbered list and returns the zero-based index picked.
// Enter alone picks defaultIdx.
func (p *Prompter) Select(label string, options []string, defaultIdx int) (int, error) {
	if len(options) == 0 {
		return -1, fmt.Errorf("no options to select from")
	}
	if defaultIdx < 0 || defaultIdx >= len(options) {
		defaultIdx = 0
	}

	_, _ = fmt.Fprintf(p.w, "  %s:\n", label)
	for i, opt := range options {
		_, _ = fmt.Fprintf(p.w, "    %d) %s\n", i+1, opt)
	}

	for {
		_, _ = fmt.Fprintf(p.w, "  Choice [1-%d, default %d]: ", len(options), defaultIdx+1)

		if !p.scanner.Scan() {
			return defaultIdx, nil
		}

		val := strings.TrimSpace(p.scanner.Text())
		if val == "" {
			return defaultIdx, nil
		}
		n, err := strconv.Atoi(val)
		if err != nil || n < 1 || n > len(options) {
			_, _ = fmt.Fprintf(p.w, "  (enter a number between 1 and %d)\n", len(options))
			continue
		}
		return n - 1, nil
	}
}
