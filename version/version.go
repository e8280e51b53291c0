// Package version holds the release string. Builds set it with
// -ldflags "-X github.com/JiscSD/rdss-repository-core/version.VERSION=<tag>".
package version

var VERSION = "(devel)"
