package plugins

import (
	"testing"

	"metagraph/testutil"
)

// Class plugins talk to the graph through internal/core only. Domain types
// reach them as core aliases and storage backends stay behind the service.
func TestPluginsDoNotImportDomain(t *testing.T) {
	testutil.AssertNoDirectImportsTree(t, ".", testutil.DomainImportForbidden, "plugins use the core aliases of domain types")
}

func TestPluginsDoNotImportInfra(t *testing.T) {
	testutil.AssertNoDirectImportsTree(t, ".", testutil.InfraImportForbidden, "plugins reach storage through core.Service")
}
