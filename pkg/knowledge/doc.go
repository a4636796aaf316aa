// Package knowledge turns event documentation into retrievable passages.
//
// Sources are a JSON knowledge file (a top-level object of sections) and/or a
// directory of markdown and JSON files. Index keeps them in SQLite with an
// FTS5 table and, when an Embedder is configured, sqlite-vec vectors merged
// into a hybrid score. StaticRetriever serves small in-memory corpora.
package knowledge
