// Package xmlstream parses XML pushed to it in arbitrary chunks and
// dispatches callbacks by element name as elements open and close.
//
// Only the ancestry of the element being parsed is materialized, as a tree
// of Node values. Declared non-UTF-8 encodings are transcoded as bytes
// arrive.
package xmlstream
