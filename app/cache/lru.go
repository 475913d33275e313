package cache

// LRUList maintains cache eviction order
type LRUList struct {
	head  *LRUNode
	tail  *LRUNode
	nodes map[string]*LRUNode
}

// LRUNode represents a node in the LRU list
type LRUNode struct {
	key        string
	prev, next *LRUNode
}

// NewLRUList creates a new LRU list
func NewLRUList() *LRUList {
	l := &LRUList{head: &LRUNode{}, tail: &LRUNode{}}
	l.Clear()
	return l
}

// Touch marks key as most recently used, adding it when absent.
func (l *LRUList) Touch(key string) {
	if node, exists := l.nodes[key]; exists {
		l.unlink(node)
		l.pushFront(node)
		return
	}
	node := &LRUNode{key: key}
	l.nodes[key] = node
	l.pushFront(node)
}

// Remove removes a key from the LRU list
func (l *LRUList) Remove(key string) {
	if node, exists := l.nodes[key]; exists {
		l.unlink(node)
		delete(l.nodes, key)
	}
}

// RemoveOldest removes and returns the least recently used key, or "" when empty.
func (l *LRUList) RemoveOldest() string {
	if len(l.nodes) == 0 {
		return ""
	}
	oldest := l.tail.prev
	l.unlink(oldest)
	delete(l.nodes, oldest.key)
	return oldest.key
}

// Clear drops every key.
func (l *LRUList) Clear() {
	l.head.next = l.tail
	l.tail.prev = l.head
	l.nodes = make(map[string]*LRUNode)
}

// Size returns the number of tracked keys.
func (l *LRUList) Size() int {
	return len(l.nodes)
}

func (l *LRUList) pushFront(node *LRUNode) {
	node.next = l.head.next
	node.prev = l.head
	l.head.next.prev = node
	l.head.next = node
}

func (l *LRUList) unlink(node *LRUNode) {
	node.prev.next = node.next
	node.next.prev = node.prev
}
