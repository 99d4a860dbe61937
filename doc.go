// Package beefdb is an embedded, single-file, memory-mapped key/value
// store built on a copy-on-write (shadow-paging) B+tree with MVCC, in
// the LMDB mold.
//
// Key properties:
//   - One writer at a time, many lock-free readers
//   - Fully serializable snapshots: a reader sees exactly the state of
//     the most recent commit before it began
//   - Durability through atomic double-buffered meta pages; the meta
//     write is the commit's linearization point
//   - Mutation never overwrites a live page; a commit exposes a new
//     root built from fresh pages
//
// Basic usage:
//
//	env := beefdb.NewEnv()
//	if err := env.Open("data.bdb", beefdb.ReadWrite|beefdb.Create, 0644); err != nil {
//	    log.Fatal(err)
//	}
//	defer env.Close()
//
//	txn, err := env.BeginTxn(false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := txn.Put([]byte("key"), []byte("value"), 0); err != nil {
//	    txn.Abort()
//	    log.Fatal(err)
//	}
//	if err := txn.Commit(); err != nil {
//	    log.Fatal(err)
//	}
//
//	val, err := env.Get([]byte("key"))
//
// Ordered iteration goes through a Cursor:
//
//	c := env.NewCursor()
//	if err := c.Init(nil); err != nil {
//	    log.Fatal(err)
//	}
//	for {
//	    k, v, err := c.Next(nil)
//	    if beefdb.IsEOF(err) {
//	        break
//	    }
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Printf("%s=%s\n", k, v)
//	}
package beefdb
