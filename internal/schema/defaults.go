package schema

// Default attribute types and matching rules, based on RFC 4512, RFC 4519
// and RFC 4530.

var defaultMatchingRules = []*MatchingRule{
	{OID: "2.5.13.0", Name: "objectIdentifierMatch"},
	{OID: "2.5.13.1", Name: "distinguishedNameMatch"},
	{OID: "2.5.13.2", Name: "caseIgnoreMatch"},
	{OID: "2.5.13.3", Name: "caseIgnoreOrderingMatch", Kind: RuleOrdering},
	{OID: "2.5.13.4", Name: "caseIgnoreSubstringsMatch", Kind: RuleSubstring},
	{OID: "2.5.13.5", Name: "caseExactMatch", CaseSensitive: true},
	{OID: "2.5.13.6", Name: "caseExactOrderingMatch", Kind: RuleOrdering, CaseSensitive: true},
	{OID: "2.5.13.7", Name: "caseExactSubstringsMatch", Kind: RuleSubstring, CaseSensitive: true},
	{OID: "2.5.13.8", Name: "numericStringMatch"},
	{OID: "2.5.13.13", Name: "booleanMatch"},
	{OID: "2.5.13.14", Name: "integerMatch"},
	{OID: "2.5.13.15", Name: "integerOrderingMatch", Kind: RuleOrdering},
	{OID: "2.5.13.17", Name: "octetStringMatch", CaseSensitive: true},
	{OID: "2.5.13.20", Name: "telephoneNumberMatch"},
	{OID: "2.5.13.23", Name: "uniqueMemberMatch"},
	{OID: "2.5.13.27", Name: "generalizedTimeMatch"},
	{OID: "2.5.13.28", Name: "generalizedTimeOrderingMatch", Kind: RuleOrdering},
	{OID: "1.3.6.1.4.1.1466.109.114.1", Name: "caseExactIA5Match", CaseSensitive: true},
	{OID: "1.3.6.1.4.1.1466.109.114.2", Name: "caseIgnoreIA5Match"},
	{OID: "1.3.6.1.4.1.1466.109.114.3", Name: "caseIgnoreIA5SubstringsMatch", Kind: RuleSubstring},
	{OID: "1.3.6.1.1.16.2", Name: "UUIDMatch"},
	{OID: "1.3.6.1.1.16.3", Name: "UUIDOrderingMatch", Kind: RuleOrdering},
}

var defaultAttributeTypes = []*AttributeType{
	{OID: "2.5.4.0", Name: "objectClass", Equality: "objectIdentifierMatch"},
	{OID: "2.5.4.41", Name: "name", Equality: "caseIgnoreMatch", Substring: "caseIgnoreSubstringsMatch"},
	{OID: "2.5.4.3", Name: "cn", Names: []string{"commonName"}, Superior: "name"},
	{OID: "2.5.4.4", Name: "sn", Names: []string{"surname"}, Superior: "name"},
	{OID: "2.5.4.42", Name: "givenName", Names: []string{"gn"}, Superior: "name"},
	{OID: "2.5.4.12", Name: "title", Superior: "name"},
	{OID: "2.5.4.10", Name: "o", Names: []string{"organizationName"}, Superior: "name"},
	{OID: "2.5.4.11", Name: "ou", Names: []string{"organizationalUnitName"}, Superior: "name"},
	{OID: "2.5.4.7", Name: "l", Names: []string{"localityName"}, Superior: "name"},
	{OID: "2.5.4.13", Name: "description", Equality: "caseIgnoreMatch", Substring: "caseIgnoreSubstringsMatch"},
	{OID: "2.5.4.20", Name: "telephoneNumber", Equality: "telephoneNumberMatch"},
	{OID: "2.5.4.35", Name: "userPassword", Equality: "octetStringMatch"},
	{OID: "2.5.4.49", Name: "distinguishedName", Equality: "distinguishedNameMatch"},
	{OID: "2.5.4.31", Name: "member", Superior: "distinguishedName"},
	{OID: "2.5.4.50", Name: "uniqueMember", Equality: "uniqueMemberMatch"},
	{OID: "0.9.2342.19200300.100.1.25", Name: "dc", Names: []string{"domainComponent"}, Equality: "caseIgnoreIA5Match", Substring: "caseIgnoreIA5SubstringsMatch", SingleValue: true},
	{OID: "0.9.2342.19200300.100.1.1", Name: "uid", Names: []string{"userid"}, Equality: "caseIgnoreMatch", Substring: "caseIgnoreSubstringsMatch"},
	{OID: "0.9.2342.19200300.100.1.3", Name: "mail", Names: []string{"rfc822Mailbox"}, Equality: "caseIgnoreIA5Match", Substring: "caseIgnoreIA5SubstringsMatch"},
	{OID: "1.3.6.1.1.1.1.0", Name: "uidNumber", Equality: "integerMatch", Ordering: "integerOrderingMatch", SingleValue: true},
	{OID: "1.3.6.1.1.1.1.1", Name: "gidNumber", Equality: "integerMatch", Ordering: "integerOrderingMatch", SingleValue: true},
	{OID: "2.16.840.1.113730.3.1.3", Name: "employeeNumber", Equality: "caseIgnoreMatch", Substring: "caseIgnoreSubstringsMatch", SingleValue: true},

	{OID: "2.5.18.1", Name: "createTimestamp", Equality: "generalizedTimeMatch", Ordering: "generalizedTimeOrderingMatch", SingleValue: true, NoUserMod: true, Usage: DirectoryOperation},
	{OID: "2.5.18.2", Name: "modifyTimestamp", Equality: "generalizedTimeMatch", Ordering: "generalizedTimeOrderingMatch", SingleValue: true, NoUserMod: true, Usage: DirectoryOperation},
	{OID: "2.5.18.3", Name: "creatorsName", Equality: "distinguishedNameMatch", SingleValue: true, NoUserMod: true, Usage: DirectoryOperation},
	{OID: "2.5.18.4", Name: "modifiersName", Equality: "distinguishedNameMatch", SingleValue: true, NoUserMod: true, Usage: DirectoryOperation},
	{OID: "1.3.6.1.1.20", Name: "entryDN", Equality: "distinguishedNameMatch", SingleValue: true, NoUserMod: true, Usage: DirectoryOperation},
	{OID: "1.3.6.1.1.16.4", Name: "entryUUID", Equality: "UUIDMatch", Ordering: "UUIDOrderingMatch", SingleValue: true, NoUserMod: true, Usage: DirectoryOperation},
	{OID: "2.5.18.9", Name: "hasSubordinates", Equality: "booleanMatch", SingleValue: true, NoUserMod: true, Usage: DirectoryOperation},
	{OID: "2.16.840.1.113730.3.1.69", Name: "numSubordinates", Equality: "integerMatch", Ordering: "integerOrderingMatch", SingleValue: true, NoUserMod: true, Usage: DirectoryOperation},
}

// Default returns a registry populated with the built-in definitions.
// Each call returns an independent registry.
func Default() *Schema {
	s := NewSchema()
	for _, mr := range defaultMatchingRules {
		c := *mr
		s.AddMatchingRule(&c)
	}
	for _, at := range defaultAttributeTypes {
		c := *at
		s.AddAttributeType(&c)
	}
	return s
}
