// Package access implements the per-memory, per-app access-control filter.
// Every read path must pass a memory through the filter before returning it
// or writing an access-log row for it. The filter is a pure predicate over
// current ledger state; results are never cached across calls, since state
// can change between reads.
package access

import (
	"github.com/google/uuid"

	"github.com/recollectco/recollect/pkg/ledger"
)

// Accessible reports whether the requesting app may read the memory.
//
// A memory is accessible when it is active and no deny rule matches. Rules
// are evaluated from the ledger within the caller's unit of work: a rule
// scoped to the memory id wins over an app-wide rule (nil memory id), and
// deny wins over allow at equal scope. With no matching rule access defaults
// to allowed.
func Accessible(tx ledger.Tx, mem *ledger.Memory, appID uuid.UUID) (bool, error) {
	if mem == nil {
		return false, ledger.ErrNilMemory
	}
	if mem.State != ledger.StateActive {
		return false, nil
	}

	rules, err := tx.RulesForApp(appID)
	if err != nil {
		return false, err
	}

	var appWide *ledger.RuleEffect
	var scoped *ledger.RuleEffect
	for _, r := range rules {
		if r.MemoryID == nil {
			e := r.Effect
			if appWide == nil || e == ledger.EffectDeny {
				appWide = &e
			}
			continue
		}
		if *r.MemoryID == mem.ID {
			e := r.Effect
			if scoped == nil || e == ledger.EffectDeny {
				scoped = &e
			}
		}
	}

	if scoped != nil {
		return *scoped == ledger.EffectAllow, nil
	}
	if appWide != nil {
		return *appWide == ledger.EffectAllow, nil
	}
	return true, nil
}
