package beefdb

// Cursor iterates a snapshot of the tree in comparator order. The
// snapshot is the transaction's when one is given, otherwise the
// latest committed state, re-read from meta on every positioning call.
//
// The cursor keeps a stack of (parent, child, index) frames for the
// descent path. The top frame of a positioned cursor always has a nil
// child page: it denotes the node at parent[index] of a leaf, not a
// page.
type Cursor struct {
	env  *Env
	path []pageParent
}

// NewCursor creates an unpositioned cursor.
func (e *Env) NewCursor() *Cursor {
	return &Cursor{env: e}
}

// rootFor resolves the root page number for a cursor operation.
func (c *Cursor) rootFor(txn *Txn) (pgno, error) {
	if txn != nil {
		return txn.root, nil
	}
	c.env.mu.RLock()
	defer c.env.mu.RUnlock()
	if !c.env.opened {
		return pInvalid, NewError(ErrUnmappedEnv)
	}
	return c.env.meta.Root, nil
}

// Init positions the cursor before the first key of the tree, so the
// first Next yields the smallest key. Fails with ErrCursorInitialized
// when the cursor is already positioned; Close it first.
func (c *Cursor) Init(txn *Txn) error {
	if len(c.path) != 0 {
		return NewError(ErrCursorInitialized)
	}

	root, err := c.rootFor(txn)
	if err != nil {
		return err
	}
	if root == pInvalid {
		return NewError(ErrEmptyTree)
	}

	p, err := c.env.getPage(root, txn)
	if err != nil {
		return err
	}
	for p.isBranch() {
		child, err := p.nodeChildPgno(0)
		if err != nil {
			c.path = c.path[:0]
			return err
		}
		cp, err := c.env.getPage(child, txn)
		if err != nil {
			c.path = c.path[:0]
			return err
		}
		c.path = append(c.path, pageParent{parent: p, page: cp, index: 0})
		p = cp
	}
	if !p.isLeaf() {
		c.path = c.path[:0]
		return Errorf(ErrInvalidPageType, "page %d on descent is neither branch nor leaf", p.pageNo())
	}
	c.path = append(c.path, pageParent{parent: p, page: nil, index: -1})
	return nil
}

// Get positions the cursor on an exact key and returns its value.
// Any previous position is discarded. The returned slice points into
// the memory map (or the writer's scratch pages) and must not be
// modified.
func (c *Cursor) Get(key []byte, txn *Txn) ([]byte, error) {
	c.path = c.path[:0]

	root, err := c.rootFor(txn)
	if err != nil {
		return nil, err
	}
	if root == pInvalid {
		return nil, NewError(ErrEmptyTree)
	}

	p, err := c.env.getPage(root, txn)
	if err != nil {
		return nil, err
	}
	for p.isBranch() {
		idx := routeIndex(p, key, c.env.cmp)
		child, err := p.nodeChildPgno(idx)
		if err != nil {
			c.path = c.path[:0]
			return nil, err
		}
		cp, err := c.env.getPage(child, txn)
		if err != nil {
			c.path = c.path[:0]
			return nil, err
		}
		c.path = append(c.path, pageParent{parent: p, page: cp, index: idx})
		p = cp
	}

	i, exact, found := searchNode(p, key, c.env.cmp)
	if !found || !exact {
		c.path = c.path[:0]
		return nil, Errorf(ErrKeyNotFound, "key %q", key)
	}
	c.path = append(c.path, pageParent{parent: p, page: nil, index: i})
	return c.env.leafValue(p, i, txn)
}

// Next advances to the following key and returns the pair. Fails with
// ErrCursorUninitialized when the cursor has no position and with
// ErrEOF when the snapshot is exhausted (after which the cursor needs
// a new Init or Get).
func (c *Cursor) Next(txn *Txn) ([]byte, []byte, error) {
	if len(c.path) == 0 {
		return nil, nil, NewError(ErrCursorUninitialized)
	}

	for len(c.path) > 0 {
		f := c.path[len(c.path)-1]
		c.path = c.path[:len(c.path)-1]
		f.index++
		if f.index >= f.parent.numKeys() {
			continue
		}

		if f.page == nil {
			// leaf-node sentinel with room: we are positioned
			c.path = append(c.path, f)
			return c.current(txn)
		}

		// advance to the next child, then descend to its leftmost leaf
		child, err := f.parent.nodeChildPgno(f.index)
		if err != nil {
			c.path = c.path[:0]
			return nil, nil, err
		}
		cp, err := c.env.getPage(child, txn)
		if err != nil {
			c.path = c.path[:0]
			return nil, nil, err
		}
		f.page = cp
		c.path = append(c.path, f)

		p := cp
		for p.isBranch() {
			gchild, err := p.nodeChildPgno(0)
			if err != nil {
				c.path = c.path[:0]
				return nil, nil, err
			}
			gp, err := c.env.getPage(gchild, txn)
			if err != nil {
				c.path = c.path[:0]
				return nil, nil, err
			}
			c.path = append(c.path, pageParent{parent: p, page: gp, index: 0})
			p = gp
		}
		if !p.isLeaf() {
			c.path = c.path[:0]
			return nil, nil, Errorf(ErrInvalidPageType, "page %d on descent is neither branch nor leaf", p.pageNo())
		}
		c.path = append(c.path, pageParent{parent: p, page: nil, index: 0})
		return c.current(txn)
	}

	return nil, nil, NewError(ErrEOF)
}

// current returns the pair at the cursor's position.
func (c *Cursor) current(txn *Txn) ([]byte, []byte, error) {
	top := c.path[len(c.path)-1]
	key, err := top.parent.nodeKey(top.index)
	if err != nil {
		return nil, nil, err
	}
	val, err := c.env.leafValue(top.parent, top.index, txn)
	if err != nil {
		return nil, nil, err
	}
	return key, val, nil
}

// Close discards the cursor's position; the cursor can be
// re-initialized afterwards.
func (c *Cursor) Close() {
	c.path = c.path[:0]
}
