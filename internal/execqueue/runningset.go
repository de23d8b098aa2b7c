package execqueue

import (
	"strings"
	"time"
)

// runningSet tracks devpaths of currently-running workers in a trie keyed
// by path component, so collision checks (identical / ancestor / descendant)
// are O(depth) rather than O(n) against a flat list (spec §9 Design Notes:
// "a trie keyed on path components is a natural fit").
type runningSet struct {
	root  *trieNode
	count int
}

type trieNode struct {
	children map[string]*trieNode
	// running is non-nil when a worker's devpath terminates exactly at this
	// node (not merely passing through it on the way to a descendant).
	running *runningEntry
}

type runningEntry struct {
	devpath     string
	physDevPath string
	pid         int
	startedAt   time.Time
}

func newRunningSet() *runningSet {
	return &runningSet{root: &trieNode{children: map[string]*trieNode{}}}
}

func splitDevpath(devpath string) []string {
	return strings.Split(strings.Trim(devpath, "/"), "/")
}

// collision reports whether devpath is identical to, an ancestor of, or a
// descendant of any currently-running devpath (spec §4.I bullet 2).
func (s *runningSet) collision(devpath string) bool {
	parts := splitDevpath(devpath)
	node := s.root
	for _, p := range parts {
		if node.running != nil {
			return true // existing running devpath is an ancestor of devpath
		}
		next, ok := node.children[p]
		if !ok {
			return false // no overlap possible below this point
		}
		node = next
	}
	// node is the trie position for devpath itself: identical match, or any
	// running descendant below it, is a collision.
	return node.running != nil || hasRunningDescendant(node)
}

func hasRunningDescendant(node *trieNode) bool {
	for _, child := range node.children {
		if child.running != nil || hasRunningDescendant(child) {
			return true
		}
	}
	return false
}

// physDevPathCollision checks physdevpath against running entries' own
// physdevpath, for add events per spec §4.I bullet 2.
func (s *runningSet) physDevPathCollision(physDevPath string) bool {
	if physDevPath == "" {
		return false
	}
	return s.walkEntries(func(e *runningEntry) bool {
		return e.physDevPath != "" && e.physDevPath == physDevPath
	})
}

func (s *runningSet) walkEntries(pred func(*runningEntry) bool) bool {
	var visit func(*trieNode) bool
	visit = func(n *trieNode) bool {
		if n.running != nil && pred(n.running) {
			return true
		}
		for _, c := range n.children {
			if visit(c) {
				return true
			}
		}
		return false
	}
	return visit(s.root)
}

func (s *runningSet) insert(entry *runningEntry) {
	parts := splitDevpath(entry.devpath)
	node := s.root
	for _, p := range parts {
		next, ok := node.children[p]
		if !ok {
			next = &trieNode{children: map[string]*trieNode{}}
			node.children[p] = next
		}
		node = next
	}
	node.running = entry
	s.count++
}

// remove deletes the entry for pid, returning it (or nil if not found).
func (s *runningSet) remove(pid int) *runningEntry {
	var found *runningEntry
	var walk func(*trieNode) bool
	walk = func(n *trieNode) bool {
		if n.running != nil && n.running.pid == pid {
			found = n.running
			n.running = nil
			return true
		}
		for k, c := range n.children {
			if walk(c) {
				if len(c.children) == 0 && c.running == nil {
					delete(n.children, k)
				}
				return true
			}
		}
		return false
	}
	walk(s.root)
	if found != nil {
		s.count--
	}
	return found
}

func (s *runningSet) countForDevpath(devpath string) int {
	n := 0
	s.walkEntries(func(e *runningEntry) bool {
		if e.devpath == devpath {
			n++
		}
		return false
	})
	return n
}
