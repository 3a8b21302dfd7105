// Package brick composes declarative brick templates into a tree of nodes.
//
// Templates inherit from one another by data-driven patching (see Merge);
// composition resolves every template first, so the graph compiler only ever
// sees flat, already-resolved node descriptions.
package brick
