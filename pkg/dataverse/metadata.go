package dataverse

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fieldline-inc/fieldline-engine/pkg/logging"
)

// Schema discovery. Lookup field and navigation-property names are not
// stable across orgs, so writes that bind records together first ask the
// org's relationship metadata which name to use. Both positive and negative
// answers are cached for the client lifetime: discovery is best-effort and
// must never abort the calling workflow, and re-asking for an absent
// relationship is just a wasted metadata call.

func relCacheKey(kind, referencing, target string) string {
	return kind + "|" + strings.ToLower(referencing) + "|" + strings.ToLower(target)
}

// ResolveNavigation returns the navigation-property name on referencing
// pointing at referenced, or empty if none was discovered. When a table has
// more than one relationship to the same target entity this lookup is
// ambiguous - use ResolveNavigationForAttribute instead.
func (c *Client) ResolveNavigation(ctx context.Context, referencing, referenced string) string {
	return c.resolveRelationship(ctx,
		relCacheKey("nav", referencing, referenced),
		referencing,
		fmt.Sprintf("ReferencedEntity eq '%s'", ODataEscape(referenced)),
		"ReferencingEntityNavigationPropertyName",
	)
}

// ResolveNavigationForAttribute pins the relationship by its underlying
// lookup attribute, avoiding ambiguity when several relationships share a
// target entity.
func (c *Client) ResolveNavigationForAttribute(ctx context.Context, referencing, attribute string) string {
	return c.resolveRelationship(ctx,
		relCacheKey("navattr", referencing, attribute),
		referencing,
		fmt.Sprintf("ReferencingAttribute eq '%s'", ODataEscape(attribute)),
		"ReferencingEntityNavigationPropertyName",
	)
}

// ResolveReferencingAttribute returns the raw lookup attribute name, the
// form used in $filter expressions (as `_<attr>_value`) rather than in
// write bindings.
func (c *Client) ResolveReferencingAttribute(ctx context.Context, referencing, referenced string) string {
	return c.resolveRelationship(ctx,
		relCacheKey("attr", referencing, referenced),
		referencing,
		fmt.Sprintf("ReferencedEntity eq '%s'", ODataEscape(referenced)),
		"ReferencingAttribute",
	)
}

func (c *Client) resolveRelationship(ctx context.Context, cacheKey, referencing, filter, field string) string {
	c.mu.Lock()
	if cached, ok := c.relCache[cacheKey]; ok {
		c.mu.Unlock()
		if cached == nil {
			return ""
		}
		return *cached
	}
	c.mu.Unlock()

	path := fmt.Sprintf(
		"EntityDefinitions(LogicalName='%s')/ManyToOneRelationships?$select=ReferencingAttribute,ReferencingEntityNavigationPropertyName,ReferencedEntity&$filter=%s",
		ODataEscape(referencing), filter,
	)

	var resolved *string
	items, err := c.GetCollection(ctx, path)
	if err != nil {
		c.logger.Debug("relationship discovery failed, caching negative result",
			zap.String("referencing", referencing),
			zap.String("filter", filter),
			zap.String("error", logging.SanitizeError(err)))
	} else if len(items) > 0 {
		if name, ok := items[0][field].(string); ok && name != "" {
			resolved = &name
		}
	}

	c.mu.Lock()
	c.relCache[cacheKey] = resolved
	c.mu.Unlock()

	if resolved == nil {
		return ""
	}
	return *resolved
}

// BindingCandidate is one navigation-name/target pair to try when binding a
// record to a related entity.
type BindingCandidate struct {
	Navigation string
	Target     string // e.g. "/msdyn_workorders(<id>)"
}

// BindLookup patches a lookup binding onto an existing record, trying each
// candidate in order until one succeeds. Exhaustion surfaces the last error
// together with every attempted name pair for diagnosability.
func (c *Client) BindLookup(ctx context.Context, entitySet, id string, candidates []BindingCandidate) (string, error) {
	var lastErr error
	attempted := make([]string, 0, len(candidates))

	for _, cand := range candidates {
		if cand.Navigation == "" {
			continue
		}
		attempted = append(attempted, cand.Navigation+" -> "+cand.Target)
		err := c.Update(ctx, entitySet, id, map[string]any{
			cand.Navigation + "@odata.bind": cand.Target,
		})
		if err == nil {
			return cand.Navigation, nil
		}
		lastErr = err
	}

	if lastErr == nil {
		return "", fmt.Errorf("no binding candidates for %s(%s)", entitySet, id)
	}
	return "", fmt.Errorf("all binding candidates failed for %s(%s) [attempted: %s]: %w",
		entitySet, id, strings.Join(attempted, ", "), lastErr)
}

// dedupeCandidates drops empty and repeated navigation names while keeping
// order: the discovered name leads, conventional fallbacks follow.
func dedupeCandidates(candidates []BindingCandidate) []BindingCandidate {
	seen := make(map[string]bool, len(candidates))
	out := make([]BindingCandidate, 0, len(candidates))
	for _, cand := range candidates {
		if cand.Navigation == "" || seen[cand.Navigation] {
			continue
		}
		seen[cand.Navigation] = true
		out = append(out, cand)
	}
	return out
}
