package testutils

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

// TestHelper bundles a debug-level logger whose entries can be inspected
type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
	Hook   *logtest.Hook
}

// NewTestHelper creates a test helper with a logger that records every entry.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	hook := logtest.NewLocal(logger)
	return &TestHelper{
		T:      t,
		Logger: logger,
		Hook:   hook,
	}
}

// LoggedMessages returns the messages of all recorded entries at or above level
func (h *TestHelper) LoggedMessages(level logrus.Level) []string {
	var out []string
	for _, e := range h.Hook.AllEntries() {
		if e.Level <= level {
			out = append(out, e.Message)
		}
	}
	return out
}

// HasLogged reports whether any recorded entry contains substr
func (h *TestHelper) HasLogged(substr string) bool {
	for _, e := range h.Hook.AllEntries() {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

// EntriesWithField returns the recorded entries having field key set to value
func (h *TestHelper) EntriesWithField(key string, value interface{}) []*logrus.Entry {
	var out []*logrus.Entry
	for _, e := range h.Hook.AllEntries() {
		if v, ok := e.Data[key]; ok && v == value {
			out = append(out, e)
		}
	}
	return out
}
