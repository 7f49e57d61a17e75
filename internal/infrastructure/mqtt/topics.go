package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every rollcall topic.
const TopicPrefix = "rollcall"

// Topics builds rollcall topic names.
type Topics struct{}

// ScanOutcome returns the topic for one outcome kind.
//
// Example: rollcall/scan/accepted
func (Topics) ScanOutcome(kind string) string {
	return fmt.Sprintf("%s/scan/%s", TopicPrefix, kind)
}

// AllScanOutcomes matches every outcome topic.
func (Topics) AllScanOutcomes() string {
	return TopicPrefix + "/scan/+"
}

// ReaderState is the retained reader connection state.
func (Topics) ReaderState() string {
	return TopicPrefix + "/reader/state"
}

// ManualEntry is where a kiosk publishes typed ids.
//
// Example: rollcall/manual/front-desk
func (Topics) ManualEntry(terminal string) string {
	return fmt.Sprintf("%s/manual/%s", TopicPrefix, terminal)
}

// AllManualEntries matches manual entries from every kiosk.
func (Topics) AllManualEntries() string {
	return TopicPrefix + "/manual/+"
}

// SystemStatus is the retained online/offline topic, also used for LWT.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// TerminalFromManualTopic extracts the kiosk name from a manual entry
// topic. It returns false for any other topic.
func (Topics) TerminalFromManualTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, TopicPrefix+"/manual/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
