package alert

import "errors"

// ErrInvalidRuleSet rejects a rule update before it reaches evaluation.
var ErrInvalidRuleSet = errors.New("alert: invalid rule set")
