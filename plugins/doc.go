// Package plugins hosts the class plugins installed on a core.Service. It has
// no runtime code of its own; the architecture tests beside this file keep
// every plugin subpackage on the internal/core facade.
//
// Each plugin subpackage exports a Plugin value with Name, Version and
// Register, a typed handle wrapping *core.MetaNode, and package functions
// that operate on a *core.Service:
//
//	group     transparent organisational nodes typed by GroupType
//	asset     exclusive member sets with a single root and a UUID
//	exporttag one non-nesting export marker per member
package plugins
