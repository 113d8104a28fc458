// Package metadata provides typed metadata documents, filters and a roaring-bitmap
// inverted index used to pre-select filter candidates.
//
// # Metadata Types
//
// Metadata values form a closed variant:
//
//   - String: metadata.String("tech")
//   - Number: metadata.Number(3.14), metadata.Int(2024)
//   - Bool: metadata.Bool(true)
//
// Documents marshal to plain JSON objects:
//
//	doc := metadata.Document{
//	    "category":  metadata.String("tech"),
//	    "year":      metadata.Int(2024),
//	    "published": metadata.Bool(true),
//	}
//
// # Filters
//
// A FilterSet is a conjunction of filters:
//
//	fs := metadata.NewFilterSet(
//	    metadata.Eq("category", metadata.String("tech")),
//	    metadata.Gte("year", metadata.Int(2020)),
//	)
//
// Supported operators: Eq, Ne, Gt, Gte, Lt, Lte, In, Contains.
// Ordering operators only compare numbers. A filter on a missing key does not match.
package metadata
