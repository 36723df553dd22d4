package schema

// AttributeUsage defines how an attribute is used in the directory.
type AttributeUsage int

const (
	// UserApplications is the default usage for user attributes.
	UserApplications AttributeUsage = iota
	// DirectoryOperation marks operational attributes maintained by the server.
	DirectoryOperation
	// DSAOperation marks attributes local to a single server.
	DSAOperation
)

// IsOperational returns true if this usage indicates an operational attribute.
func (u AttributeUsage) IsOperational() bool {
	return u != UserApplications
}

// AttributeType represents an LDAP attribute type definition.
type AttributeType struct {
	OID         string   // Object Identifier (e.g., "2.5.4.3")
	Name        string   // Primary name (e.g., "cn")
	Names       []string // Aliases (e.g., ["commonName"])
	Superior    string   // Parent attribute type name
	Equality    string   // Equality matching rule name
	Ordering    string   // Ordering matching rule name
	Substring   string   // Substring matching rule name
	SingleValue bool
	NoUserMod   bool
	Usage       AttributeUsage
}

// IsOperational returns true if this is an operational attribute.
func (at *AttributeType) IsOperational() bool {
	return at.Usage.IsOperational()
}

func (at *AttributeType) allNames() []string {
	return append([]string{at.Name}, at.Names...)
}
