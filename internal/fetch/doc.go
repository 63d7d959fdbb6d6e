// Package fetch defines the core types shared by the retrieval engine: the
// per-attempt Settings, the Outcome handed to consumers, the error taxonomy,
// and the small interfaces the engine's collaborators implement.
package fetch
