// Package gpioflow drives DTR/RTS through GPIO lines instead of a UART's
// own control lines, for rigs where the two are wired through a separate
// header (e.g. an SBC talking to a level-shifter board).
package gpioflow

/*------------------------------------------------------------------
 *
 * Purpose:	Assert DTR and deassert RTS on two gpiocdev output lines.
 *		Grounded on the teacher's src/ptt.go, which already drives a
 *		GPIO output line from application logic via libgpiod (there
 *		through cgo); this package reaches for the pure-Go
 *		equivalent, github.com/warthog618/go-gpiocdev, to drive the
 *		link's own flow-control lines instead of a PTT line.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// Lines holds the two requested GPIO output lines used for flow control.
type Lines struct {
	dtr *gpiocdev.Line
	rts *gpiocdev.Line
}

// Request opens chipName and requests dtrOffset/rtsOffset as outputs,
// immediately asserting DTR and deasserting RTS per the link's wire
// requirements.
func Request(chipName string, dtrOffset, rtsOffset int) (*Lines, error) {
	var dtr, err = gpiocdev.RequestLine(chipName, dtrOffset, gpiocdev.AsOutput(1))
	if err != nil {
		return nil, fmt.Errorf("cfxlink/gpioflow: request DTR line %d: %w", dtrOffset, err)
	}

	var rts *gpiocdev.Line
	rts, err = gpiocdev.RequestLine(chipName, rtsOffset, gpiocdev.AsOutput(0))
	if err != nil {
		dtr.Close()
		return nil, fmt.Errorf("cfxlink/gpioflow: request RTS line %d: %w", rtsOffset, err)
	}

	return &Lines{dtr: dtr, rts: rts}, nil
}

// SetDTR drives the DTR line high (asserted) or low.
func (l *Lines) SetDTR(asserted bool) error {
	return l.dtr.SetValue(boolToLevel(asserted))
}

// SetRTS drives the RTS line high (asserted) or low.
func (l *Lines) SetRTS(asserted bool) error {
	return l.rts.SetValue(boolToLevel(asserted))
}

func boolToLevel(asserted bool) int {
	if asserted {
		return 1
	}
	return 0
}

// Close releases both lines.
func (l *Lines) Close() error {
	var dtrErr = l.dtr.Close()
	var rtsErr = l.rts.Close()
	if dtrErr != nil {
		return dtrErr
	}
	return rtsErr
}
