package btree

import (
	"fmt"
	"strings"

	"github.com/kitedb/kitedb/internal/storage"
)

// DrawTree renders the tree structure as indented text, one node per line.
// It is a debugging aid and takes no latches.
func (t *Tree) DrawTree() (string, error) {
	root, err := t.RootPageID()
	if err != nil {
		return "", err
	}
	if root == storage.InvalidPageID {
		return "<empty>\n", nil
	}

	var sb strings.Builder
	if err := t.drawNode(&sb, root, 0); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (t *Tree) drawNode(sb *strings.Builder, id storage.PageID, depth int) error {
	g, err := t.bpm.FetchPageBasic(id)
	if err != nil {
		return fmt.Errorf("btree: fetch page %d: %w", id, err)
	}
	defer g.Drop()

	indent := strings.Repeat("  ", depth)
	node := nodeView(g.Data())

	if node.isLeaf() {
		leaf := leafView(g.Data(), t.keySize)
		fmt.Fprintf(sb, "%sleaf p%d size=%d next=%d keys=[", indent, id, leaf.size(), int32(leaf.nextPageID()))
		for i := 0; i < leaf.size(); i++ {
			if i > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(sb, "%x", leaf.keyAt(i))
		}
		sb.WriteString("]\n")
		return nil
	}

	inner := internalView(g.Data(), t.keySize)
	fmt.Fprintf(sb, "%sinternal p%d size=%d keys=[", indent, id, inner.size())
	for i := 1; i < inner.size(); i++ {
		if i > 1 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(sb, "%x", inner.keyAt(i))
	}
	sb.WriteString("]\n")

	for i := 0; i < inner.size(); i++ {
		if err := t.drawNode(sb, inner.childAt(i), depth+1); err != nil {
			return err
		}
	}
	return nil
}
