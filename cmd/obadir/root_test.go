package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
logging:
  level: error
backends:
  - id: userRoot
    type: badger
    path: %s
    baseDNs: ["dc=example,dc=com"]
    indexes:
      - attribute: uid
        types: [equality]
  - id: people
    type: memory
    writability: internal-only
    baseDNs: ["ou=people,dc=example,dc=com"]
backup:
  directory: %s
`

const testLDIF = `dn: dc=example,dc=com
objectClass: domain
dc: example

dn: ou=groups,dc=example,dc=com
objectClass: organizationalUnit
ou: groups

dn: ou=people,dc=example,dc=com
objectClass: organizationalUnit
ou: people

dn: uid=alice,ou=people,dc=example,dc=com
objectClass: person
uid: alice
`

func writeConfig(t *testing.T) (path, backups string) {
	t.Helper()
	dir := t.TempDir()
	backups = filepath.Join(dir, "backups")
	path = filepath.Join(dir, "obadir.yaml")
	data := fmt.Sprintf(testConfig, filepath.Join(dir, "userRoot"), backups)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	return path, backups
}

// run executes the CLI and returns stdout and stderr.
func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestBackendsCommand(t *testing.T) {
	cfg, _ := writeConfig(t)
	out, _, err := run(t, "", "--config", cfg, "backends")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "CAPABILITIES")
	assert.Contains(t, out, "userRoot")

	var people string
	for _, l := range lines {
		if strings.HasPrefix(l, "people") {
			people = l
		}
	}
	require.NotEmpty(t, people)
	fields := strings.Fields(people)
	assert.Equal(t, "ou=people,dc=example,dc=com", fields[1])
	assert.Equal(t, "userRoot", fields[2], "parent")
	assert.Equal(t, "internal-only", fields[3])
}

func TestRouteCommand(t *testing.T) {
	cfg, _ := writeConfig(t)
	tests := []struct {
		dn   string
		want string
	}{
		{"uid=alice,ou=people,dc=example,dc=com", "people"},
		{"ou=people,dc=example,dc=com", "people"},
		{"ou=groups,dc=example,dc=com", "userRoot"},
		{"DC=Example,DC=Com", "userRoot"},
	}
	for _, tt := range tests {
		out, _, err := run(t, "", "-c", cfg, "route", tt.dn)
		require.NoError(t, err, tt.dn)
		assert.Equal(t, tt.want, strings.TrimSpace(out), tt.dn)
	}

	_, _, err := run(t, "", "-c", cfg, "route", "dc=other")
	assert.ErrorContains(t, err, "no backend serves")
}

func TestMissingBackendFlag(t *testing.T) {
	cfg, _ := writeConfig(t)
	_, _, err := run(t, "", "-c", cfg, "verify")
	assert.ErrorContains(t, err, "--backend is required")

	_, _, err = run(t, "", "-c", cfg, "verify", "-b", "nope")
	assert.ErrorContains(t, err, `no backend with id "nope"`)
}

func TestInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backends:\n  - id: x\n    type: tape\n    baseDNs: [dc=x]\n"), 0o600))
	_, _, err := run(t, "", "-c", path, "backends")
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestImportExportRoundTrip(t *testing.T) {
	cfg, _ := writeConfig(t)

	_, stderr, err := run(t, testLDIF, "-c", cfg, "import-ldif", "-b", "userRoot")
	require.NoError(t, err)
	assert.Contains(t, stderr, "read 4 entries: imported 2, skipped 2, rejected 0",
		"entries under the nested people backend are skipped")

	_, _, err = run(t, "", "-c", cfg, "verify", "-b", "userRoot")
	require.NoError(t, err)

	out, stderr, err := run(t, "", "-c", cfg, "export-ldif", "-b", "userRoot")
	require.NoError(t, err)
	assert.Contains(t, stderr, "exported 2 entries")
	assert.Contains(t, out, "dn: ou=groups,dc=example,dc=com")
	assert.NotContains(t, out, "uid=alice")

	file := filepath.Join(t.TempDir(), "out.ldif")
	_, _, err = run(t, "", "-c", cfg, "export-ldif", "-b", "userRoot", "-o", file, "--exclude-branch", "ou=groups,dc=example,dc=com")
	require.NoError(t, err)
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "dn: dc=example,dc=com")
	assert.NotContains(t, string(data), "ou=groups")
}

func TestBackupCommands(t *testing.T) {
	cfg, backups := writeConfig(t)
	_, _, err := run(t, testLDIF, "-c", cfg, "import-ldif", "-b", "userRoot")
	require.NoError(t, err)

	out, _, err := run(t, "", "-c", cfg, "backup", "--all", "--id", "nightly")
	require.NoError(t, err)
	assert.Contains(t, out, "userRoot\tnightly\t2 entries")
	assert.NotContains(t, out, "people", "memory backends cannot back up")

	out, _, err = run(t, "", "-c", cfg, "list-backups", "-b", "userRoot")
	require.NoError(t, err)
	assert.Contains(t, out, "nightly")
	assert.DirExists(t, backups)

	out, _, err = run(t, "", "-c", cfg, "restore", "-b", "userRoot", "--verify-only")
	require.NoError(t, err)
	assert.Contains(t, out, "verified backup nightly of userRoot (2 entries)")

	_, _, err = run(t, "", "-c", cfg, "remove-backup", "-b", "userRoot", "nightly")
	require.NoError(t, err)
	_, _, err = run(t, "", "-c", cfg, "restore", "-b", "userRoot")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, _, err := run(t, "", "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, version, strings.TrimSpace(out))
}
