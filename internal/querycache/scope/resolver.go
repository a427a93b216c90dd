// Package scope maps a committed mutation to the query keys it can affect.
//
// Resolution is pure and synchronous: the same entity, operation and
// params always produce the same keys. When a pattern cannot be filled
// from the payload, the resolver widens it to the longest prefix it can
// build and records a ResolutionError. Over-invalidating costs a refetch;
// under-invalidating would show stale data.
package scope

import (
	"sort"

	"github.com/campus-hub/querysync/internal/domain/shared"
	ks "github.com/campus-hub/querysync/internal/querycache/keyspace"
	"github.com/campus-hub/querysync/pkg/logger"
)

// Resolution is the outcome of Resolve.
type Resolution struct {
	// Keys are invalidation prefixes, sorted, with no key covered by another.
	Keys []ks.QueryKey
	// Fallbacks lists every pattern that had to be widened.
	Fallbacks []*shared.ResolutionError
}

// Raw returns the keys as token slices.
func (r Resolution) Raw() [][]string { return ks.Raw(r.Keys) }

// Resolver resolves invalidation scopes.
type Resolver struct {
	log *logger.Logger
}

// NewResolver creates a Resolver. A nil logger discards fallback reports.
func NewResolver(log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.Nop()
	}
	return &Resolver{log: log.With(logger.Component("scope-resolver"))}
}

// Resolve returns the keys a committed write of entity/op with params
// invalidates.
//
// An op with no rule uses the union of every rule of the entity. An
// unknown entity invalidates everything.
func (r *Resolver) Resolve(entity Entity, op shared.Op, params ks.Params) Resolution {
	entityRules, ok := rules[entity]
	if !ok {
		fe := &shared.ResolutionError{
			Entity:   string(entity),
			Op:       string(op),
			Pattern:  "*",
			Fallback: ks.Root().Hash(),
		}
		r.log.Warn("unknown entity, invalidating everything", logger.Entity(string(entity)), logger.Err(fe))
		return Resolution{Keys: []ks.QueryKey{ks.Root()}, Fallbacks: []*shared.ResolutionError{fe}}
	}

	patterns := entityRules[op]
	if len(patterns) == 0 {
		r.log.Debug("no rule for op, using every rule of the entity", logger.Entity(string(entity)), logger.Op(string(op)))
		patterns = unionPatterns(entityRules)
	}

	var res Resolution
	for _, pt := range patterns {
		key, missing := fill(pt, params)
		res.Keys = append(res.Keys, key)
		if len(missing) == 0 || pt.Broad || pt.Prefix && leadFilled(pt.Type, missing) {
			continue
		}
		fe := &shared.ResolutionError{
			Entity:   string(entity),
			Op:       string(op),
			Pattern:  string(pt.Type),
			Missing:  missing,
			Fallback: key.Hash(),
		}
		res.Fallbacks = append(res.Fallbacks, fe)
		r.log.Warn("scope param missing, widened invalidation",
			logger.Entity(string(entity)), logger.Op(string(op)), logger.Err(fe))
	}

	res.Keys = compact(res.Keys)
	return res
}

// fill builds the key of one pattern.
func fill(pt Pattern, params ks.Params) (ks.QueryKey, []string) {
	if pt.Broad {
		return ks.EntityRoot(pt.Type), nil
	}
	if len(pt.Rename) > 0 {
		renamed := make(ks.Params, len(pt.Rename))
		for target, source := range pt.Rename {
			renamed[target] = params.Get(source)
		}
		params = params.Merge(renamed)
	}
	return ks.Ancestor(pt.Type, params)
}

// leadFilled reports whether the first param of et was available.
func leadFilled(et ks.EntityType, missing []string) bool {
	names := ks.ParamsOf(et)
	if len(names) == 0 {
		return true
	}
	for _, m := range missing {
		if m == names[0] {
			return false
		}
	}
	return true
}

func unionPatterns(r rule) []Pattern {
	var out []Pattern
	for _, op := range shared.AllOps() {
		out = append(out, r[op]...)
	}
	return out
}

// compact sorts keys and drops every key covered by another one.
func compact(keys []ks.QueryKey) []ks.QueryKey {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Len() != keys[j].Len() {
			return keys[i].Len() < keys[j].Len()
		}
		return keys[i].Hash() < keys[j].Hash()
	})

	var out []ks.QueryKey
	for _, k := range keys {
		covered := false
		for _, kept := range out {
			if kept.IsAncestorOf(k) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, k)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Hash() < out[j].Hash() })
	return out
}
