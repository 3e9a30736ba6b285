package model

import "time"

// Alert is one firing of an alert rule. Immutable once emitted.
type Alert struct {
	Rule      string    `json:"rule"`
	Source    string    `json:"source"`
	Exchange  string    `json:"exchange"`
	Symbol    string    `json:"symbol"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
