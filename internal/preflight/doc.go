// Package preflight provides readiness checks for the external tools and
// filesystem paths vert depends on.
//
// "vert serve" runs RunAll and CheckSystemDeps at startup and refuses to serve
// when a required encoder is missing. The CLI "vert check" command renders
// the same results as a table, adding ToolVersion for each available tool.
package preflight
