/*
Package tree implements the hierarchical resource model.

A Tree is an immutable, authoritative image of the model backed by a persistent sorted map
(github.com/benbjohnson/immutable) keyed by domain.Address. Because addresses sort with every
prefix before its extensions, each subtree occupies a contiguous key range.

All mutation happens on a WorkingCopy obtained with Tree.Edit. A WorkingCopy shares structure
with its base, so creating one is O(1) and discarding one is free. Commit produces a new Tree;
the base is never modified.
*/
package tree
