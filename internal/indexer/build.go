package indexer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"

	"github.com/dshills/codesearch-mcp/internal/storage"
	"github.com/dshills/codesearch-mcp/pkg/types"
)

var (
	// ErrFileTooLarge marks files skipped by the size soft cap
	ErrFileTooLarge = errors.New("file exceeds size limit")
	// ErrBinaryFile marks files containing NUL bytes
	ErrBinaryFile = errors.New("binary file")
	// ErrInvalidEncoding marks files that are not valid UTF-8
	ErrInvalidEncoding = errors.New("invalid UTF-8")
)

type outcome int

const (
	outcomeBuilt outcome = iota
	outcomeCached
	outcomeRefreshed
	outcomeRemoved
)

// buildResult is the output of one worker, waiting for the merge stage
type buildResult struct {
	path    string
	index   *FileIndex
	outcome outcome
}

// build produces a fresh FileIndex for path. Per-file failures are recorded on
// the file; only context cancellation is returned as an error.
func (s *Store) build(ctx context.Context, path string, prev *FileIndex, epoch uint64) (*buildResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &buildResult{path: path, outcome: outcomeBuilt}
	abs := filepath.Join(s.root, filepath.FromSlash(path))
	log := s.logger.WithField("path", path)

	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		res.outcome = outcomeRemoved
		return res, nil
	}
	if err != nil {
		log.WithError(err).Warn("Failed to stat file")
		res.index = s.failed(path, types.Signature{}, nil, err, epoch)
		return res, nil
	}

	sig := types.Signature{Size: info.Size(), ModTime: info.ModTime()}
	if !info.Mode().IsRegular() {
		res.index = s.failed(path, sig, nil, fmt.Errorf("not a regular file"), epoch)
		return res, nil
	}
	if s.cfg.MaxFileSize > 0 && info.Size() > s.cfg.MaxFileSize {
		log.WithField("size", info.Size()).Debug("Skipping oversized file")
		res.index = s.failed(path, sig, nil, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, info.Size()), epoch)
		return res, nil
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		log.WithError(err).Warn("Failed to read file")
		res.index = s.failed(path, sig, nil, err, epoch)
		return res, nil
	}
	sig.Hash = xxhash.Sum64(content)

	// Touched but identical content: keep the graph, take the new stat data
	if prev != nil && prev.Source.Signature.Hash == sig.Hash && prev.Source.Signature.Size == sig.Size {
		res.index = prev.withSignature(sig, epoch)
		res.outcome = outcomeRefreshed
		return res, nil
	}

	if bytes.IndexByte(content, 0) >= 0 {
		log.Debug("Skipping binary file")
		res.index = s.failed(path, sig, nil, ErrBinaryFile, epoch)
		return res, nil
	}

	lines := types.SplitLines(string(content))
	if !utf8.Valid(content) {
		// Lines stay available for best-effort substring search
		log.Warn("File is not valid UTF-8, excluding it from entity and keyword search")
		res.index = s.failed(path, sig, lines, ErrInvalidEncoding, epoch)
		return res, nil
	}

	entities, fromCache, parseErr := s.entities(ctx, path, content, sig)
	src := &types.SourceFile{
		Path:      path,
		Lines:     lines,
		Entities:  entities,
		State:     types.StateStructured,
		Signature: sig,
	}
	if parseErr != nil {
		src.State = types.StateUnstructured
		src.Err = parseErr
		log.WithError(parseErr).Warn("File has syntax errors, falling back to substring and line search")
	}

	res.index = newFileIndex(src, s.tok, epoch)
	if fromCache {
		res.outcome = outcomeCached
	}
	return res, nil
}

// entities returns the arena of path, from the on-disk cache when its content
// hash matches and from the parser otherwise. Concurrent requests for the same
// content share one parse.
func (s *Store) entities(ctx context.Context, path string, content []byte, sig types.Signature) ([]types.CodeEntity, bool, error) {
	if s.cache != nil {
		cached, err := s.cache.LoadFile(ctx, s.project.ID, path, sig.Hash)
		switch {
		case err == nil:
			var parseErr error
			if cached.File.Unstructured {
				msg := "syntax error"
				if cached.File.ParseError != nil {
					msg = *cached.File.ParseError
				}
				parseErr = errors.New(msg)
			}
			return cached.Entities, true, parseErr
		case !errors.Is(err, storage.ErrNotFound):
			s.logger.WithError(err).WithField("path", path).Warn("Failed to read entity cache")
		}
	}

	key := path + "\x00" + strconv.FormatUint(sig.Hash, 16)
	v, _, _ := s.group.Do(key, func() (interface{}, error) {
		return s.parser.Parse(path, content), nil
	})
	result := v.(*types.ParseResult)

	var parseErr error
	if result.Unstructured {
		if pe := result.FirstError(); pe != nil {
			parseErr = pe
		} else {
			parseErr = errors.New("syntax error")
		}
	}

	if s.cache != nil {
		s.save(ctx, path, result, sig, parseErr)
	}
	return result.Entities, false, parseErr
}

func (s *Store) save(ctx context.Context, path string, result *types.ParseResult, sig types.Signature, parseErr error) {
	cached := &storage.CachedFile{
		File: storage.File{
			FilePath:     path,
			ContentHash:  sig.Hash,
			ModTime:      sig.ModTime,
			SizeBytes:    sig.Size,
			Unstructured: result.Unstructured,
		},
		Entities: result.Entities,
	}
	if parseErr != nil {
		msg := parseErr.Error()
		cached.File.ParseError = &msg
	}
	if err := s.cache.SaveFile(ctx, s.project.ID, cached); err != nil {
		s.logger.WithFields(logrus.Fields{
			"path":  path,
			"error": err,
		}).Warn("Failed to write entity cache")
	}
}

// failed builds the index of a file excluded from the entity and keyword layers
func (s *Store) failed(path string, sig types.Signature, lines []string, err error, epoch uint64) *FileIndex {
	return newFileIndex(&types.SourceFile{
		Path:      path,
		Lines:     lines,
		State:     types.StateFailed,
		Signature: sig,
		Err:       err,
	}, s.tok, epoch)
}
