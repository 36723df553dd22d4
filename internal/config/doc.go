// Package config provides configuration parsing and validation for the
// directory server.
//
// # Overview
//
// Configuration is read from a YAML file. ${VAR} and ${VAR:-default}
// references are expanded from the environment before parsing, and values
// the file leaves out keep their DefaultConfig values.
//
//	logging:
//	  level: info
//	  format: json
//	backends:
//	  - id: userRoot
//	    type: badger
//	    path: /var/lib/obadir/userRoot
//	    baseDNs: ["dc=example,dc=com"]
//	    indexes:
//	      - attribute: uid
//	        types: [equality, presence]
//	  - id: people
//	    type: memory
//	    baseDNs: ["ou=people,dc=example,dc=com"]
//	replication:
//	  heartbeatInterval: 10s
//	  peers:
//	    - name: replica-1
//	      address: replica-1.example.com:8989
//
// # Validation
//
// ValidateConfig checks field constraints and cross-backend rules (unique
// backend IDs, no base DN served twice). Errors carry the YAML path of the
// offending field:
//
//	for _, err := range config.ValidateConfig(cfg) {
//	    fmt.Println(err) // backends[1].baseDNs[0]: invalid DN "ou"
//	}
//
// # Reloading
//
// ConfigWatcher observes the file with fsnotify and delivers each new,
// valid configuration to its OnChange callback after a debounce period.
package config
