// Package schema provides the attribute-type and matching-rule registry used
// by the backend core.
//
// # Overview
//
// The registry answers two questions for the rest of the server:
//
//   - what is the canonical name of an attribute type, given any of its
//     aliases or its OID
//   - which equality matching rule applies to an attribute type when a
//     filter does not name one explicitly
//
// Attribute types inherit matching rules from their superior type:
//
//	s := schema.Default()
//	s.CanonicalName("commonName")     // "cn"
//	s.DefaultEqualityRule("cn")       // "caseignorematch" (via SUP name)
//
// Object classes, syntax validation and subschema publication are handled
// outside this package.
package schema
