// Package graphstore owns the canonical in-memory mirror of every upstream
// entity the engine has seen, indexed for the O(1) lookups the processor
// needs: by id, by label, by (label, property, value), by relationship
// type, and by incident relationship set.
package graphstore

import (
	"fmt"
	"sync"

	"github.com/user/viewstream"
)

// Node is the graph store's copy of one upstream entity.
type Node struct {
	ID         any
	Labels     []string
	Properties map[string]any
	Source     string
}

// HasLabel reports whether n carries label.
func (n Node) HasLabel(label string) bool {
	for _, l := range n.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Relationship is an edge between two nodes, either asserted directly by a
// source or materialized by join definition (Synthetic == true).
type Relationship struct {
	ID        string
	Type      string
	StartID   any
	EndID     any
	Properties map[string]any
	Source    string
	Synthetic bool
}

// JoinKey names one side of a two-label join: nodes of Label are matched on
// Property.
type JoinKey struct {
	Label    string
	Property string
}

// JoinDefinition asserts a synthetic relationship between nodes of two
// labels whenever the named properties are equal. Per spec §9 three-way+
// joins are an open design question; Keys may hold more than two entries
// but only the first two are currently materialized.
type JoinDefinition struct {
	ID   string
	Keys []JoinKey
}

// GraphStore is the store's public contract. Implementations must be safe
// for concurrent use by multiple queries sharing the store.
type GraphStore interface {
	ApplyChange(ev viewstream.ChangeEvent) error
	GetNode(id any) (Node, bool)
	GetNodesByLabel(label string) []Node
	GetNodesByProperty(label, name string, value any) []Node
	GetRelationshipsByType(relType string) []Relationship
	GetNodeRelationships(id any) []Relationship
	CreateJoinRelationships(def JoinDefinition) error
	ClearSource(sourceID string) error
}

// Store is the in-memory GraphStore implementation. A single RWMutex
// serializes writers against each other and against readers that walk the
// incident-relationship index; the spec's concurrency model also allows
// per-shard locks keyed by node id, but a process expected to hold at most
// a few live queries' worth of nodes does not need that complexity yet.
type Store struct {
	log viewstream.Logger

	mu sync.RWMutex

	nodes map[string]Node // key(id) -> node

	byLabel    map[string]map[string]struct{}                       // label -> key(id) set
	byProperty map[string]map[string]map[string]map[string]struct{} // label -> name -> valueKey -> key(id) set
	bySource   map[string]map[string]struct{}                       // sourceId -> key(id) set

	rels         map[string]Relationship            // relId -> relationship
	relsByType   map[string]map[string]struct{}     // type -> relId set
	relsByNode   map[string]map[string]struct{}     // key(id) -> relId set
	joinsApplied map[string]map[string]struct{}     // joinId -> relId set, so re-derivation can be scoped
}

// New constructs an empty Store.
func New(log viewstream.Logger) *Store {
	if log == nil {
		log = noopLogger{}
	}
	return &Store{
		log:          log,
		nodes:        make(map[string]Node),
		byLabel:      make(map[string]map[string]struct{}),
		byProperty:   make(map[string]map[string]map[string]map[string]struct{}),
		bySource:     make(map[string]map[string]struct{}),
		rels:         make(map[string]Relationship),
		relsByType:   make(map[string]map[string]struct{}),
		relsByNode:   make(map[string]map[string]struct{}),
		joinsApplied: make(map[string]map[string]struct{}),
	}
}

func key(id any) string {
	return fmt.Sprintf("%T:%v", id, id)
}

func valueKey(v any) string {
	return fmt.Sprintf("%T:%v", v, v)
}

// ApplyChange applies one ChangeEvent to the store. INSERT/SNAPSHOT create
// or, if the id already exists, behave as UPDATE (last-writer-wins by
// arrival order). UPDATE replaces the node wholesale. DELETE removes the
// node and every incident relationship.
func (s *Store) ApplyChange(ev viewstream.ChangeEvent) error {
	if ev.EntityID == nil {
		s.log.Warn("dropping change with nil entity id", "source", ev.SourceID, "entityType", ev.EntityType)
		return fmt.Errorf("graphstore: nil entity id for source %q entity type %q", ev.SourceID, ev.EntityType)
	}

	switch ev.Kind {
	case viewstream.Insert, viewstream.Snapshot:
		s.upsert(ev.EntityID, ev.EntityType, ev.After, ev.SourceID)
	case viewstream.Update:
		s.upsert(ev.EntityID, ev.EntityType, ev.After, ev.SourceID)
	case viewstream.Delete:
		s.remove(ev.EntityID)
	default:
		s.log.Warn("dropping change with unknown kind", "kind", ev.Kind)
		return fmt.Errorf("graphstore: unknown change kind %q", ev.Kind)
	}
	return nil
}

func (s *Store) upsert(id any, label string, props map[string]any, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(id)
	if old, ok := s.nodes[k]; ok {
		s.unindexLocked(k, old)
	}

	node := Node{ID: id, Labels: []string{label}, Properties: cloneProps(props), Source: source}
	s.nodes[k] = node
	s.indexLocked(k, node)
}

func (s *Store) remove(id any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(id)
	node, ok := s.nodes[k]
	if !ok {
		return
	}
	s.unindexLocked(k, node)
	delete(s.nodes, k)
	s.removeIncidentRelationshipsLocked(k)
}

func (s *Store) indexLocked(k string, node Node) {
	for _, label := range node.Labels {
		set, ok := s.byLabel[label]
		if !ok {
			set = make(map[string]struct{})
			s.byLabel[label] = set
		}
		set[k] = struct{}{}

		byName, ok := s.byProperty[label]
		if !ok {
			byName = make(map[string]map[string]map[string]struct{})
			s.byProperty[label] = byName
		}
		for name, val := range node.Properties {
			byVal, ok := byName[name]
			if !ok {
				byVal = make(map[string]map[string]struct{})
				byName[name] = byVal
			}
			vk := valueKey(val)
			ids, ok := byVal[vk]
			if !ok {
				ids = make(map[string]struct{})
				byVal[vk] = ids
			}
			ids[k] = struct{}{}
		}
	}

	if node.Source != "" {
		set, ok := s.bySource[node.Source]
		if !ok {
			set = make(map[string]struct{})
			s.bySource[node.Source] = set
		}
		set[k] = struct{}{}
	}
}

func (s *Store) unindexLocked(k string, node Node) {
	for _, label := range node.Labels {
		if set, ok := s.byLabel[label]; ok {
			delete(set, k)
			if len(set) == 0 {
				delete(s.byLabel, label)
			}
		}
		if byName, ok := s.byProperty[label]; ok {
			for name, val := range node.Properties {
				if byVal, ok := byName[name]; ok {
					vk := valueKey(val)
					if ids, ok := byVal[vk]; ok {
						delete(ids, k)
						if len(ids) == 0 {
							delete(byVal, vk)
						}
					}
					if len(byVal) == 0 {
						delete(byName, name)
					}
				}
			}
			if len(byName) == 0 {
				delete(s.byProperty, label)
			}
		}
	}

	if node.Source != "" {
		if set, ok := s.bySource[node.Source]; ok {
			delete(set, k)
			if len(set) == 0 {
				delete(s.bySource, node.Source)
			}
		}
	}
}

func (s *Store) removeIncidentRelationshipsLocked(k string) {
	relIDs, ok := s.relsByNode[k]
	if !ok {
		return
	}
	for relID := range relIDs {
		rel, ok := s.rels[relID]
		if !ok {
			continue
		}
		s.deleteRelationshipLocked(relID, rel)
	}
}

func (s *Store) deleteRelationshipLocked(relID string, rel Relationship) {
	delete(s.rels, relID)
	if set, ok := s.relsByType[rel.Type]; ok {
		delete(set, relID)
		if len(set) == 0 {
			delete(s.relsByType, rel.Type)
		}
	}
	for _, endpoint := range []any{rel.StartID, rel.EndID} {
		ek := key(endpoint)
		if set, ok := s.relsByNode[ek]; ok {
			delete(set, relID)
			if len(set) == 0 {
				delete(s.relsByNode, ek)
			}
		}
	}
	if joinSet, ok := s.joinsApplied[joinIDOf(relID)]; ok {
		delete(joinSet, relID)
	}
}

// joinIDOf recovers the JoinDefinition id a synthetic relationship id was
// derived from; see syntheticRelationshipID.
func joinIDOf(relID string) string {
	for i := 0; i < len(relID); i++ {
		if relID[i] == '|' {
			return relID[:i]
		}
	}
	return relID
}

// GetNode returns the current node at id, if any.
func (s *Store) GetNode(id any) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[key(id)]
	return n, ok
}

// GetNodesByLabel returns every node currently carrying label.
func (s *Store) GetNodesByLabel(label string) []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.byLabel[label]
	out := make([]Node, 0, len(set))
	for k := range set {
		out = append(out, s.nodes[k])
	}
	return out
}

// GetNodesByProperty returns every node of label whose name property equals
// value by total scalar equality.
func (s *Store) GetNodesByProperty(label, name string, value any) []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byName, ok := s.byProperty[label]
	if !ok {
		return nil
	}
	byVal, ok := byName[name]
	if !ok {
		return nil
	}
	ids, ok := byVal[valueKey(value)]
	if !ok {
		return nil
	}
	out := make([]Node, 0, len(ids))
	for k := range ids {
		out = append(out, s.nodes[k])
	}
	return out
}

// GetRelationshipsByType returns every relationship of the given type.
func (s *Store) GetRelationshipsByType(relType string) []Relationship {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.relsByType[relType]
	out := make([]Relationship, 0, len(ids))
	for id := range ids {
		out = append(out, s.rels[id])
	}
	return out
}

// GetNodeRelationships returns every relationship incident to id.
func (s *Store) GetNodeRelationships(id any) []Relationship {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.relsByNode[key(id)]
	out := make([]Relationship, 0, len(ids))
	for relID := range ids {
		out = append(out, s.rels[relID])
	}
	return out
}

// CreateJoinRelationships (re)derives the synthetic relationships for def:
// every pair of nodes, one from each of the first two join keys' labels,
// whose named properties are equal gets a deterministic synthetic
// relationship. Pairs that no longer match are removed; a node missing the
// join property is skipped silently, matching the documented source
// behavior.
func (s *Store) CreateJoinRelationships(def JoinDefinition) error {
	if len(def.Keys) < 2 {
		return fmt.Errorf("graphstore: join %q needs at least two keys, got %d", def.ID, len(def.Keys))
	}
	left, right := def.Keys[0], def.Keys[1]

	s.mu.Lock()
	defer s.mu.Unlock()

	leftNodes := s.nodesByLabelLocked(left.Label)
	rightNodes := s.nodesByLabelLocked(right.Label)

	wanted := make(map[string]Relationship)
	for _, ln := range leftNodes {
		lv, ok := ln.Properties[left.Property]
		if !ok {
			continue
		}
		for _, rn := range rightNodes {
			rv, ok := rn.Properties[right.Property]
			if !ok {
				continue
			}
			if valueKey(lv) != valueKey(rv) {
				continue
			}
			relID := syntheticRelationshipID(def.ID, ln.ID, rn.ID)
			wanted[relID] = Relationship{
				ID:        relID,
				Type:      def.ID,
				StartID:   ln.ID,
				EndID:     rn.ID,
				Source:    "join:" + def.ID,
				Synthetic: true,
			}
		}
	}

	existing := s.joinsApplied[def.ID]
	for relID := range existing {
		if _, stillWanted := wanted[relID]; stillWanted {
			continue
		}
		if rel, ok := s.rels[relID]; ok {
			s.deleteRelationshipLocked(relID, rel)
		}
	}

	applied := make(map[string]struct{}, len(wanted))
	for relID, rel := range wanted {
		if _, ok := s.rels[relID]; !ok {
			s.addRelationshipLocked(rel)
		}
		applied[relID] = struct{}{}
	}
	s.joinsApplied[def.ID] = applied
	return nil
}

func (s *Store) nodesByLabelLocked(label string) []Node {
	set := s.byLabel[label]
	out := make([]Node, 0, len(set))
	for k := range set {
		out = append(out, s.nodes[k])
	}
	return out
}

func (s *Store) addRelationshipLocked(rel Relationship) {
	s.rels[rel.ID] = rel

	set, ok := s.relsByType[rel.Type]
	if !ok {
		set = make(map[string]struct{})
		s.relsByType[rel.Type] = set
	}
	set[rel.ID] = struct{}{}

	for _, endpoint := range []any{rel.StartID, rel.EndID} {
		ek := key(endpoint)
		es, ok := s.relsByNode[ek]
		if !ok {
			es = make(map[string]struct{})
			s.relsByNode[ek] = es
		}
		es[rel.ID] = struct{}{}
	}
}

// syntheticRelationshipID deterministically derives a relationship id from
// a join id and its two endpoint ids, so re-derivation is idempotent.
func syntheticRelationshipID(joinID string, startID, endID any) string {
	return fmt.Sprintf("%s|%s|%s", joinID, key(startID), key(endID))
}

// ClearSource removes every node whose Source equals sourceID, cascading
// as in Delete.
func (s *Store) ClearSource(sourceID string) error {
	s.mu.Lock()
	ids := s.bySource[sourceID]
	keys := make([]string, 0, len(ids))
	for k := range ids {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	for _, k := range keys {
		s.mu.Lock()
		if node, ok := s.nodes[k]; ok {
			s.unindexLocked(k, node)
			delete(s.nodes, k)
			s.removeIncidentRelationshipsLocked(k)
		}
		s.mu.Unlock()
	}
	return nil
}

func cloneProps(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
