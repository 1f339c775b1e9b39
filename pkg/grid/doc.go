// Package grid provides range-addressed access to the shared cell matrix that
// genegrid processes use as their only coordination medium.
//
// # Overview
//
// The grid is a two-dimensional matrix of text cells. Rows are numbered from 1
// and columns are addressed by spreadsheet letters, so every operation takes an
// A1-style Range such as "D1:D100" or "D1:G50000". A coordinator and any number
// of workers read, write and clear ranges of the grid; there is no other
// channel between them.
//
// # Semantic columns
//
// Four columns carry meaning, in ascending column order (Layout):
//
//	Claim              sentinel marks a row as taken by some worker
//	ValidationFitness  secondary score written by the worker
//	Fitness            primary score written by the worker
//	Genome             delimited integer chromosome written by the coordinator
//
// # Read semantics
//
// Read returns the rows from the first row of the range up to the last row that
// holds a non-empty cell, each row truncated after its last non-empty cell. A
// range with no content returns an empty Matrix. Writing "" to a cell clears it,
// and writes always overwrite, so repeating a bulk write is harmless.
//
// # Backends
//
// MemoryStore keeps cells in process and is used by tests and single-process
// runs. RedisStore keeps one hash per column and is the shared backend for
// multi-host deployments:
//
//	genegrid:{instance}:col:{letter}   field = row number, value = cell text
//
// SQLiteStore keeps cells in a single table and suits several processes on one
// host. Redis and SQLite also implement ConditionalWriter, which makes a write
// succeed only when every target cell is empty.
//
// # Usage Example
//
//	store := grid.NewMemoryStore()
//	layout := grid.DefaultLayout()
//
//	cell, _ := grid.EncodeGenome([]int{1, 2, 3}, grid.DefaultDelimiter)
//	_, err := store.Write(ctx, grid.ColumnRange(layout.Genome, 1, 1), grid.Matrix{{cell}})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	values, err := store.Read(ctx, layout.ColumnRange(layout.Genome))
//	// values = [["1,2,3,"]]
package grid
