package internal

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/jamesprial/go-social-analytics/pkg/types"
)

// PostIndex is an in-memory full text index over the posts of the most
// recently indexed dataset. Nothing is written to disk.
type PostIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	seq    uint64
	closed bool
	logger *slog.Logger
}

// indexedPost is the document stored for each post.
type indexedPost struct {
	Content string `json:"content"`
	Author  string `json:"author"`
	UserID  string `json:"userId"`
}

// SearchHit is one post matched by a query.
type SearchHit struct {
	PostID string  `json:"postId"`
	Score  float64 `json:"score"`
}

// NewPostIndex returns an empty index.
func NewPostIndex(logger *slog.Logger) (*PostIndex, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	idx, err := bleve.NewMemOnly(buildPostMapping())
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	return &PostIndex{index: idx, logger: logger}, nil
}

func buildPostMapping() mapping.IndexMapping {
	keywordFieldMapping := bleve.NewKeywordFieldMapping()

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("content", bleve.NewTextFieldMapping())
	docMapping.AddFieldMappingsAt("author", bleve.NewTextFieldMapping())
	docMapping.AddFieldMappingsAt("userId", keywordFieldMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

// Rebuild replaces the index with the posts of ds. Datasets from a run older
// than the one already indexed are ignored.
func (p *PostIndex) Rebuild(seq uint64, ds *types.Dataset) error {
	p.mu.RLock()
	stale := seq <= p.seq
	p.mu.RUnlock()
	if stale {
		return nil
	}

	fresh, err := bleve.NewMemOnly(buildPostMapping())
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}

	if ds != nil && len(ds.Posts) > 0 {
		batch := fresh.NewBatch()
		for _, post := range ds.Posts {
			doc := indexedPost{Content: post.Content, Author: post.AuthorName, UserID: post.UserID}
			if err := batch.Index(post.ID, doc); err != nil {
				fresh.Close()
				return fmt.Errorf("batch index %s: %w", post.ID, err)
			}
		}
		if err := fresh.Batch(batch); err != nil {
			fresh.Close()
			return fmt.Errorf("commit batch: %w", err)
		}
	}

	p.mu.Lock()
	if p.closed || seq <= p.seq {
		p.mu.Unlock()
		return fresh.Close()
	}
	old := p.index
	p.index = fresh
	p.seq = seq
	p.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			p.logger.Warn("failed to close previous index", "error", err)
		}
	}
	p.logger.Debug("rebuilt post index", "seq", seq, "posts", postCount(ds))
	return nil
}

// Search runs a query string query and returns at most limit hits ordered by
// score. Bare terms match any field; prefixes such as content: and author:
// restrict the match.
func (p *PostIndex) Search(query string, limit int) ([]SearchHit, error) {
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return []SearchHit{}, nil
	}

	req := bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(query), limit, 0, false)

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.index == nil {
		return []SearchHit{}, nil
	}
	res, err := p.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	hits := make([]SearchHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		hits = append(hits, SearchHit{PostID: hit.ID, Score: hit.Score})
	}
	return hits, nil
}

// Count returns the number of indexed posts.
func (p *PostIndex) Count() (uint64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.index == nil {
		return 0, nil
	}
	return p.index.DocCount()
}

// Close releases the index.
func (p *PostIndex) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.index == nil {
		return nil
	}
	err := p.index.Close()
	p.index = nil
	return err
}

func postCount(ds *types.Dataset) int {
	if ds == nil {
		return 0
	}
	return len(ds.Posts)
}
