// Package vecdb provides an embedded vector database for Go.
//
// A database holds named collections. Every collection has a fixed vector
// dimension and distance metric, an HNSW index for approximate nearest
// neighbor search and, when persistence is on, a write-ahead log plus
// periodic snapshots that make every acknowledged write survive a crash.
//
// # Quick Start
//
//	ctx := context.Background()
//	db, err := vecdb.Open(ctx, "./data")
//	if err != nil {
//	    panic(err)
//	}
//	defer db.Close()
//
//	_ = db.CreateCollection(ctx, "docs", 3, vecdb.MetricCosine)
//
//	_, _ = db.Upsert(ctx, "docs", "a", []float32{1, 0, 0}, metadata.Document{
//	    "lang": metadata.String("en"),
//	})
//
//	results, _ := db.Query(ctx, "docs", []float32{1, 0, 0}, 10)
//	for _, r := range results {
//	    fmt.Println(r.ID, r.Distance, r.Metadata)
//	}
//
// # Filters
//
// Queries accept a conjunction of metadata filters. Equality and membership
// filters are answered from a roaring bitmap inverted index; the others are
// evaluated while walking the graph:
//
//	results, _ := db.Query(ctx, "docs", q, 10, func(o *vecdb.QueryOptions) {
//	    o.Filter = metadata.NewFilterSet(
//	        metadata.Eq("lang", metadata.String("en")),
//	        metadata.Gte("year", metadata.Int(2020)),
//	    )
//	})
//
// # Durability Model
//
// Upsert, Delete and Compact append to the collection's WAL and fdatasync it
// before the change becomes visible. On Open each collection loads its newest
// snapshot and replays the WAL entries after it. A torn or corrupt WAL tail is
// cut off at the last valid entry and logged. Snapshot writes a new snapshot
// and truncates the WAL it covers; snapshots are also taken in the background
// every WithSnapshotEvery entries or WithSnapshotInterval.
//
// Snapshots can be copied to S3 or MinIO with WithArchive and restored from
// there when a collection is missing locally.
//
// # Concurrency
//
// Requests run on a bounded worker pool. Queries on a collection run in
// parallel; mutations of one collection are serialized. Collections never
// block each other.
package vecdb
