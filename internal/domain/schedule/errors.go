package schedule

import "errors"

var ErrShiftTemplateNotFound = errors.New("shift template not found")
