package searcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dshills/codesearch-mcp/internal/indexer"
	"github.com/dshills/codesearch-mcp/internal/scope"
	"github.com/dshills/codesearch-mcp/pkg/types"
)

func benchSearcher(b *testing.B, n int, cfg Config) *Searcher {
	b.Helper()
	root := b.TempDir()
	for i := 0; i < n; i++ {
		var sb strings.Builder
		for c := 0; c < 10; c++ {
			fmt.Fprintf(&sb, "class Model%d:\n    \"\"\"Stores records for module %d.\"\"\"\n\n", c, i)
			for m := 0; m < 5; m++ {
				fmt.Fprintf(&sb, "    def load_record_%d(self, index):\n        return self.records[index] + %d\n\n", m, m)
			}
		}
		abs := filepath.Join(root, fmt.Sprintf("pkg%d", i%10), fmt.Sprintf("module_%d.py", i))
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			b.Fatal(err)
		}
		if err := os.WriteFile(abs, []byte(sb.String()), 0o644); err != nil {
			b.Fatal(err)
		}
	}

	resolver, err := scope.New(scope.Config{Root: root}, nil)
	if err != nil {
		b.Fatal(err)
	}
	store, err := indexer.New(context.Background(), indexer.Config{Root: resolver.Root()}, nil, nil)
	if err != nil {
		b.Fatal(err)
	}
	s, err := New(resolver, store, cfg, nil)
	if err != nil {
		b.Fatal(err)
	}
	// warm the snapshot so the loop measures querying only
	if _, err := s.Search(context.Background(), types.SearchQuery{SearchTerms: []string{"warm"}}); err != nil {
		b.Fatal(err)
	}
	return s
}

func BenchmarkSearch_Terms(b *testing.B) {
	s := benchSearcher(b, 100, Config{CacheSize: -1})
	ctx := context.Background()
	q := types.SearchQuery{SearchTerms: []string{"Model3.load_record_2", "records index"}}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Search(ctx, q); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSearch_Cached(b *testing.B) {
	s := benchSearcher(b, 100, Config{})
	ctx := context.Background()
	q := types.SearchQuery{SearchTerms: []string{"records index"}}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Search(ctx, q); err != nil {
			b.Fatal(err)
		}
	}
}
