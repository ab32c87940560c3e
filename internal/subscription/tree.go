// Package subscription implements the trie-keyed subscription tree from
// Insert/remove a (mask, session, qos) triple, and
// answer "who subscribes to topic T, at what granted QoS".
package subscription

import (
	"strings"
	"sync"

	"github.com/pyr33x/goqttd/internal/packet"
)

// Tree is a trie keyed by topic-filter level. Each node holds its
// subscribers at that exact filter and its children for deeper levels.
// The root represents the empty path.
type Tree struct {
	mu   sync.RWMutex
	root *node
}

type node struct {
	children    map[string]*node
	subscribers map[string]packet.QoS // session id -> granted QoS
}

func newNode() *node {
	return &node{
		children:    make(map[string]*node),
		subscribers: make(map[string]packet.QoS),
	}
}

// New creates an empty subscription tree.
func New() *Tree {
	return &Tree{root: newNode()}
}

func levels(mask string) []string {
	return strings.Split(mask, "/")
}

// Insert records that sessionID subscribes to mask at qos, replacing any
// prior grant for the same (mask, sessionID) pair. It reports true when
// this exact mask had no subscribers before this call, which
// callers use to decide whether to announce the pattern to an uplink
// bridge.
func (t *Tree) Insert(mask, sessionID string, qos packet.QoS) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.root
	for _, lvl := range levels(mask) {
		child, ok := n.children[lvl]
		if !ok {
			child = newNode()
			n.children[lvl] = child
		}
		n = child
	}

	first := len(n.subscribers) == 0
	n.subscribers[sessionID] = qos
	return first
}

// Remove drops sessionID's subscription to mask. It reports true when the
// mask has no subscribers left, and prunes now-empty nodes along the path
// (a node is pruned iff it has no children and no subscribers).
func (t *Tree) Remove(mask, sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	path := levels(mask)
	nodes := make([]*node, len(path)+1)
	nodes[0] = t.root

	n := t.root
	for i, lvl := range path {
		child, ok := n.children[lvl]
		if !ok {
			return false
		}
		nodes[i+1] = child
		n = child
	}

	delete(n.subscribers, sessionID)
	empty := len(n.subscribers) == 0

	if empty {
		for i := len(path) - 1; i >= 0; i-- {
			child := nodes[i+1]
			if len(child.subscribers) > 0 || len(child.children) > 0 {
				break
			}
			delete(nodes[i].children, path[i])
		}
	}

	return empty
}

// RemoveAll removes every subscription owned by sessionID, used on
// session destruction. It walks the whole tree; subscription counts per
// session are assumed small enough that this is cheaper than maintaining
// a reverse index.
func (t *Tree) RemoveAll(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pruneSession(t.root, sessionID)
}

func pruneSession(n *node, sessionID string) bool {
	delete(n.subscribers, sessionID)
	for lvl, child := range n.children {
		if pruneSession(child, sessionID) {
			delete(n.children, lvl)
		}
	}
	return len(n.subscribers) == 0 && len(n.children) == 0
}

// Match returns every session subscribed to a filter covering topic,
// mapped to the maximum granted QoS across all matching filters (§4.3
// tie-break rule). DFS descends into the literal child, into '+', and
// (terminating that branch) into '#', which contributes all of its
// subscribers regardless of remaining topic depth. On the last level it
// additionally checks literal/'+' children that hold a terminal '#'.
func (t *Tree) Match(topicName string) map[string]packet.QoS {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]packet.QoS)
	isSystem := strings.HasPrefix(topicName, "$")
	matchNode(t.root, levels(topicName), 0, isSystem, result)
	return result
}

func matchNode(n *node, topicLevels []string, depth int, isSystem bool, result map[string]packet.QoS) {
	if depth == len(topicLevels) {
		for id, qos := range n.subscribers {
			mergeMax(result, id, qos)
		}
		if hashChild, ok := n.children["#"]; ok {
			for id, qos := range hashChild.subscribers {
				mergeMax(result, id, qos)
			}
		}
		return
	}

	lvl := topicLevels[depth]

	if !(isSystem && depth == 0) {
		if hashChild, ok := n.children["#"]; ok {
			for id, qos := range hashChild.subscribers {
				mergeMax(result, id, qos)
			}
		}
	}

	if child, ok := n.children[lvl]; ok {
		matchNode(child, topicLevels, depth+1, false, result)
	}

	if !(isSystem && depth == 0) {
		if plusChild, ok := n.children["+"]; ok {
			matchNode(plusChild, topicLevels, depth+1, false, result)
		}
	}
}

func mergeMax(result map[string]packet.QoS, id string, qos packet.QoS) {
	if existing, ok := result[id]; !ok || qos > existing {
		result[id] = qos
	}
}
