// Package cfxlog is the single leveled logger every component logs
// through, replacing the teacher's bespoke text_color_set/dw_printf pair
// with github.com/charmbracelet/log, which already sits in the teacher's
// go.mod transitively but is never exercised by src/.
package cfxlog

/*------------------------------------------------------------------
 *
 * Purpose:	Structured leveled logging plus an optional packet trace
 *		file whose name is driven by a user-supplied strftime
 *		pattern, mirroring the role of the teacher's src/log.go
 *		(daily-named CSV log) but generalized from one hardcoded
 *		"2006-01-02.log" format to any strftime pattern via
 *		github.com/lestrrat-go/strftime.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"
)

// Logger is the leveled logger every cfxlink component logs through.
type Logger = log.Logger

// New builds a Logger writing to os.Stderr at the given level.
func New(level log.Level) *Logger {
	var l = log.New(os.Stderr)
	l.SetLevel(level)
	return l
}

// PacketTrace appends every framed packet's raw bytes, one hex line per
// packet, to a file whose name is produced by evaluating pattern (a
// strftime pattern, e.g. "cfxlink-%Y-%m-%d.trace") against the current
// time. A new file is opened whenever the formatted name changes, the same
// rollover the teacher's daily-named CSV log performs.
type PacketTrace struct {
	pattern  string
	dir      string
	file     *os.File
	openName string
}

// NewPacketTrace prepares to write trace files under dir, named by
// evaluating the strftime pattern against the current time on each write.
func NewPacketTrace(dir, pattern string) (*PacketTrace, error) {
	if _, err := strftime.Format(pattern, time.Now()); err != nil {
		return nil, fmt.Errorf("cfxlog: invalid strftime pattern %q: %w", pattern, err)
	}
	return &PacketTrace{pattern: pattern, dir: dir}, nil
}

// Write appends one traced packet's bytes as a hex line, rolling to a new
// file if the strftime-formatted name has changed since the last write.
func (p *PacketTrace) Write(direction string, frame []byte) error {
	var name, err = strftime.Format(p.pattern, time.Now())
	if err != nil {
		return fmt.Errorf("cfxlog: format trace file name: %w", err)
	}

	if p.file != nil && name != p.openName {
		p.file.Close()
		p.file = nil
	}

	if p.file == nil {
		var full = name
		if p.dir != "" {
			full = p.dir + string(os.PathSeparator) + name
		}
		var f, err = os.OpenFile(full, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0644)
		if err != nil {
			return fmt.Errorf("cfxlog: open trace file %q: %w", full, err)
		}
		p.file = f
		p.openName = name
	}

	var _, err = fmt.Fprintf(p.file, "%s %x\n", direction, frame)
	return err
}

// Close closes the currently open trace file, if any.
func (p *PacketTrace) Close() error {
	if p.file == nil {
		return nil
	}
	var err = p.file.Close()
	p.file = nil
	return err
}
