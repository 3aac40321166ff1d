// Package vectorstore coordinates the storage engine and the per-collection
// HNSW indexes behind a single external API: collection lifecycle, vector
// CRUD, k-NN query, and the sync/rebuild operations that tie the durable
// and in-memory halves of the store back together.
package vectorstore
