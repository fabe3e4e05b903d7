// Package keyword implements tokenized keyword retrieval scored with BM25.
//
// Each file gets its own FileIndex, built once per content version. Corpus
// statistics (document count, average length, document frequencies) are gathered
// over the files of a query scope at query time, so replacing one file's index
// never touches the others:
//
//	tok := keyword.NewTokenizer(false)
//	fi := keyword.Build(file, tok)
//
//	terms := tok.Unique("parse request")
//	stats := keyword.CollectStats(indexes, terms)
//	hits := keyword.NewScorer(keyword.DefaultK1, keyword.DefaultB).Score(fi, stats, terms)
package keyword
