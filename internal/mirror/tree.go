// Package mirror reconciles the remote collection hierarchy into a local
// bookmark folder tree. A pass builds a plan from the remote side, indexes
// the local side, then converges the local tree onto the plan.
package mirror

import (
	"sort"

	"github.com/m0o0scar/nenya/internal/raindrop"
)

// UngroupedTitle names the synthesized group holding root collections
// that no named group claims.
const UngroupedTitle = "Ungrouped"

// RemoteNode is one remote collection with its ordered children.
type RemoteNode struct {
	ID         int64
	Title      string
	SortWeight int64
	// ParentID is zero for root collections.
	ParentID int64
	Children []*RemoteNode
}

// PlanGroup is a named top-level bucket of root collections.
type PlanGroup struct {
	Title       string
	Collections []*RemoteNode
}

// GroupPlan is the desired local structure for one pass.
type GroupPlan struct {
	Groups []PlanGroup
	// Nodes holds every registered node by id.
	Nodes map[int64]*RemoteNode
}

// BuildPlan turns flat root and child collection lists into a tree and
// assigns root collections to groups. Nodes are registered first and
// linked in a second pass, so a child listed before its parent still
// lands in the right place. Records with unusable ids are skipped, as
// are group references to collections that no longer exist.
func BuildPlan(roots, children []raindrop.Collection, groups []raindrop.Group) *GroupPlan {
	nodes := make(map[int64]*RemoteNode, len(roots)+len(children))

	var order []int64

	register := func(c raindrop.Collection) *RemoteNode {
		id := int64(c.ID)
		if id <= 0 {
			return nil
		}

		n, ok := nodes[id]
		if !ok {
			n = &RemoteNode{ID: id}
			nodes[id] = n
			order = append(order, id)
		}

		n.Title = c.Title
		n.SortWeight = c.Sort

		return n
	}

	for _, c := range roots {
		register(c)
	}

	for _, c := range children {
		n := register(c)
		if n == nil || c.Parent == nil {
			continue
		}

		if pid := int64(c.Parent.ID); pid > 0 && pid != n.ID {
			n.ParentID = pid
		}
	}

	var rootIDs []int64

	for _, id := range order {
		n := nodes[id]
		if n.ParentID == 0 {
			rootIDs = append(rootIDs, id)
			continue
		}

		// Children whose parent never arrived are dropped from the tree.
		if parent, ok := nodes[n.ParentID]; ok {
			parent.Children = append(parent.Children, n)
		}
	}

	for _, n := range nodes {
		sortNodes(n.Children)
	}

	plan := &GroupPlan{Nodes: nodes}
	claimed := make(map[int64]bool)

	for _, g := range groups {
		pg := PlanGroup{Title: g.Title}

		for _, ref := range g.Collections {
			id := int64(ref)

			n, ok := nodes[id]
			if !ok || n.ParentID != 0 || claimed[id] {
				continue
			}

			claimed[id] = true
			pg.Collections = append(pg.Collections, n)
		}

		plan.Groups = append(plan.Groups, pg)
	}

	var ungrouped []*RemoteNode

	for _, id := range rootIDs {
		if !claimed[id] {
			ungrouped = append(ungrouped, nodes[id])
		}
	}

	if len(ungrouped) > 0 {
		sortNodes(ungrouped)
		plan.Groups = append(plan.Groups, PlanGroup{Title: UngroupedTitle, Collections: ungrouped})
	}

	return plan
}

// sortNodes orders by sort weight descending, then title.
func sortNodes(ns []*RemoteNode) {
	sort.SliceStable(ns, func(i, j int) bool {
		if ns[i].SortWeight != ns[j].SortWeight {
			return ns[i].SortWeight > ns[j].SortWeight
		}

		return ns[i].Title < ns[j].Title
	})
}

// Walk visits every node in the plan depth-first in plan order.
func (p *GroupPlan) Walk(fn func(n *RemoteNode, depth int)) {
	var visit func(n *RemoteNode, depth int)
	visit = func(n *RemoteNode, depth int) {
		fn(n, depth)

		for _, c := range n.Children {
			visit(c, depth+1)
		}
	}

	for _, g := range p.Groups {
		for _, n := range g.Collections {
			visit(n, 0)
		}
	}
}
