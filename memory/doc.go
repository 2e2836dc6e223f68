// Package memory persists finished sessions and surfaces them as context
// for new queries.
//
// Store holds an embedded chromem-go vector database: completed sessions
// are indexed by their query text, and Search returns the most similar
// prior sessions as memory records. FileSink complements the store by
// writing a full JSON trace of every session to disk as it evolves.
package memory
