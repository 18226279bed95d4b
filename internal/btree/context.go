package btree

import (
	"github.com/kitedb/kitedb/internal/bufferpool"
	"github.com/kitedb/kitedb/internal/storage"
)

// opContext tracks the write guards held along the root-to-leaf path of a
// mutating operation, plus the pages it emptied. Freed pages are returned
// to the disk manager only after release drops every guard, so no pin is
// outstanding when DeletePage runs.
type opContext struct {
	header     *bufferpool.WritePageGuard
	rootPageID storage.PageID
	writeSet   []*bufferpool.WritePageGuard
	// slots maps a visited page to its child index in its parent; deletion
	// uses it to locate siblings.
	slots map[storage.PageID]int
	freed []storage.PageID
}

func (c *opContext) push(g *bufferpool.WritePageGuard) {
	c.writeSet = append(c.writeSet, g)
}

func (c *opContext) top() *bufferpool.WritePageGuard {
	return c.writeSet[len(c.writeSet)-1]
}

func (c *opContext) pop() *bufferpool.WritePageGuard {
	g := c.top()
	c.writeSet = c.writeSet[:len(c.writeSet)-1]
	return g
}

// guardOf returns the held guard for id, if the path contains it.
func (c *opContext) guardOf(id storage.PageID) (*bufferpool.WritePageGuard, bool) {
	for _, g := range c.writeSet {
		if g.PageID() == id {
			return g, true
		}
	}
	return nil, false
}

func (c *opContext) isRoot(id storage.PageID) bool {
	return c.rootPageID == id
}

// releaseAncestors drops every guard currently held, header included. The
// descent calls it after latching a child that cannot split or underflow,
// so the subtree above is free for other operations.
func (c *opContext) releaseAncestors() {
	for _, g := range c.writeSet {
		g.Drop()
	}
	c.writeSet = c.writeSet[:0]
	if c.header != nil {
		c.header.Drop()
		c.header = nil
	}
}

// release drops every held guard, header last.
func (c *opContext) release() {
	for i := len(c.writeSet) - 1; i >= 0; i-- {
		c.writeSet[i].Drop()
	}
	c.writeSet = c.writeSet[:0]
	if c.header != nil {
		c.header.Drop()
		c.header = nil
	}
}
