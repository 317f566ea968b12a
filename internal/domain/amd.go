package domain

import "strings"

// AMDConfidence grades the provider's answering-machine classification
type AMDConfidence int

const (
	AMDNotMachine AMDConfidence = iota
	AMDMachineLow
	AMDMachineHigh
)

// ClassifyAnsweredBy grades Twilio's AnsweredBy signal. Only end-of-greeting
// and fax markers count as high confidence; "machine_start" fires before
// the greeting finishes and misclassifies humans too often to act on.
func ClassifyAnsweredBy(answeredBy string) AMDConfidence {
	switch strings.ToLower(strings.TrimSpace(answeredBy)) {
	case "machine_end_beep", "machine_end_silence", "machine_end_other", "fax":
		return AMDMachineHigh
	case "machine_start":
		return AMDMachineLow
	default:
		return AMDNotMachine
	}
}

// IsMachineAnsweredBy reports whether the answered-by signal indicates any
// machine pickup, regardless of confidence.
func IsMachineAnsweredBy(answeredBy string) bool {
	return ClassifyAnsweredBy(answeredBy) != AMDNotMachine
}
