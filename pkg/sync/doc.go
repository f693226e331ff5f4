/*
The sync package implements vitasync's synchronization algorithm. A full run
has three phases:

1) Pull -- Each endpoint's remote tree is walked depth-first and copied into
   a staging tree private to that endpoint. A file is only fetched when the
   canonical (merged) tree from the previous run doesn't already hold a copy
   with exactly the same modification time.
2) Merge -- Each staging tree is folded into the canonical tree with
   last-modification-wins semantics. The rule is monotone in time, so merging
   two staging trees produces the same canonical tree in either order.
3) Push -- The canonical tree is walked and uploaded back to each endpoint,
   again skipping files whose remote modification time already matches.
   After every upload the remote modification time is set explicitly, so
   timestamp equality stays the identity test on the next run.

Modification time is the only change signal anywhere. Two different contents
with the same timestamp are indistinguishable and are treated as identical;
that's an accepted property of the design, not an oversight. Content is never
hashed and transfers are always whole-file.

The remote session's working directory is the walk's traversal state: every
descent into a directory is matched by an ascent back to its parent on every
exit path, so each walk ends positioned where it started.
*/
package sync
