// Package filter provides LDAP search filter data structures, evaluation and
// index-capability analysis.
//
// # Filter Construction
//
// Filters are built programmatically or parsed from their RFC 4515 string
// form:
//
//	f := filter.NewAndFilter(
//	    filter.NewEqualityFilter("objectClass", []byte("person")),
//	    filter.NewEqualityFilter("uid", []byte("alice")),
//	)
//
//	f, err := filter.Parse("(&(objectClass=person)(cn:dn:caseExactMatch:=Alice))")
//
// # Evaluation
//
// The Evaluator tests entries against filters during full scans and when
// post-filtering index candidates:
//
//	ev := filter.NewEvaluator(schema.Default())
//	if ev.Evaluate(f, entry) {
//	    // entry matches
//	}
//
// # Indexability
//
// IsIndexed answers whether a backend can narrow a search with its indexes
// at all. It is a shape check, not a cost model:
//
//   - AND: indexed if any child is indexed
//   - OR: indexed if it has children and all of them are indexed
//   - NOT: never indexed
//   - leaves: looked up by (attribute, index type)
//   - extensible match: looked up by (attribute, matching rule), using the
//     attribute's default equality rule when none is given
package filter
