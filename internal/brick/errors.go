package brick

import (
	"errors"
	"fmt"
)

// ErrTemplate marks invalid definitions and failed composition: unknown
// templates, inheritance cycles, duplicate names, malformed references.
var ErrTemplate = errors.New("invalid brick template")

var errStopWalk = errors.New("stop walk")

func templatef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTemplate, fmt.Sprintf(format, args...))
}
