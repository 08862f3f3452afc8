package httpapi

import (
	"sync"

	"github.com/temirov/ctxserve/internal/ignore"
)

// ruleSetCache keeps the rule set compiled for one snapshot. A rebuild publishes a new
// snapshot ID, which invalidates the entry, so diagnostics track the rules the index used.
type ruleSetCache struct {
	mutex      sync.Mutex
	snapshotID string
	ruleSet    *ignore.RuleSet
}

func (rules *ruleSetCache) get(snapshotID string, compile func() (*ignore.RuleSet, error)) (*ignore.RuleSet, error) {
	if rules == nil || snapshotID == "" {
		return compile()
	}
	rules.mutex.Lock()
	defer rules.mutex.Unlock()
	if rules.ruleSet != nil && rules.snapshotID == snapshotID {
		return rules.ruleSet, nil
	}
	ruleSet, compileErr := compile()
	if compileErr != nil {
		return nil, compileErr
	}
	rules.snapshotID = snapshotID
	rules.ruleSet = ruleSet
	return ruleSet, nil
}
