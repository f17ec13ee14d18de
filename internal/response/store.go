package response

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Om-Rajasekharan/ConstructionEstimator/internal/blob"
)

// ErrConcurrentModification is returned when another writer updated the
// same document between this call's read and write. Callers re-request.
var ErrConcurrentModification = errors.New("response document modified concurrently")

// Update carries one mutation of a response document. Question/Answer
// append a conversation entry; Answer additionally runs the
// extract/classify/merge pipeline. RawPatch is the remainder of a direct
// edit body: an answer_json patch plus arbitrary top-level fields.
type Update struct {
	Question string
	Answer   string
	RawPatch map[string]any
}

// Result is a successful update or read: the full document plus any
// non-fatal conditions that were recovered from along the way.
type Result struct {
	Document *Document
	Warnings []string
}

// Store owns the load/mutate/save cycle for response documents. Writers
// to the same path are serialized in-process by a keyed mutex; the save
// itself is additionally guarded by a conditional write against the blob
// store's ETag, so a cross-process race surfaces as
// ErrConcurrentModification instead of silently losing a write.
type Store struct {
	blobs      blob.Store
	classifier Classifier
	logger     *zap.Logger
	now        func() time.Time

	mu    sync.Mutex
	locks map[string]*pathLock
}

// pathLock serializes writers to one document path. refs counts the
// holders and waiters so the entry can be dropped once nobody needs it;
// the map stays proportional to in-flight writes, not total projects.
type pathLock struct {
	mu   sync.Mutex
	refs int
}

func NewStore(blobs blob.Store, classifier Classifier, logger *zap.Logger) *Store {
	if classifier == nil {
		classifier = HeuristicClassifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		blobs:      blobs,
		classifier: classifier,
		logger:     logger,
		now:        time.Now,
		locks:      make(map[string]*pathLock),
	}
}

func (s *Store) lockPath(path string) *pathLock {
	s.mu.Lock()
	lock, ok := s.locks[path]
	if !ok {
		lock = &pathLock{}
		s.locks[path] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return lock
}

func (s *Store) unlockPath(path string, lock *pathLock) {
	lock.mu.Unlock()

	s.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(s.locks, path)
	}
	s.mu.Unlock()
}

// Get loads the document at path. An absent or unparseable blob yields
// the empty skeleton, never an error; the corrupt case is logged and
// reported as a warning.
func (s *Store) Get(ctx context.Context, path string) (*Result, error) {
	doc, _, warnings, err := s.load(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Result{Document: doc, Warnings: warnings}, nil
}

// ApplyUpdate runs the full update cycle: load-or-init, conversation
// append, structured-block extraction, classify-and-merge, raw patch,
// top-level field merge, conditional persist.
func (s *Store) ApplyUpdate(ctx context.Context, path string, update Update) (*Result, error) {
	lock := s.lockPath(path)
	defer s.unlockPath(path, lock)

	doc, etag, warnings, err := s.load(ctx, path)
	if err != nil {
		return nil, err
	}

	if update.Question != "" || update.Answer != "" {
		doc.Conversation = append(doc.Conversation, Entry{
			Question:  update.Question,
			Answer:    update.Answer,
			Timestamp: s.now().UTC().Format(time.RFC3339),
		})
	}

	if update.Answer != "" {
		s.applyStructuredBlock(doc, update.Answer, path)
	}

	s.applyRawPatch(doc, update.RawPatch)

	doc.Version++

	encoded, err := doc.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode response document: %w", err)
	}

	cond := blob.WriteCondition{IfAbsent: true}
	if etag != "" {
		cond = blob.WriteCondition{IfMatch: etag}
	}
	if _, err := s.blobs.Upload(ctx, path, encoded, "application/json", cond); err != nil {
		if errors.Is(err, blob.ErrPreconditionFailed) {
			return nil, fmt.Errorf("%s: %w", path, ErrConcurrentModification)
		}
		return nil, fmt.Errorf("save response document: %w", err)
	}

	return &Result{Document: doc, Warnings: warnings}, nil
}

// load reads and parses the blob at path. NotFound and parse failures
// both degrade to the empty skeleton; the parse-failure path means a
// corrupt remote document is reset on the next write, so it is logged
// and surfaced as a warning for the caller's payload.
func (s *Store) load(ctx context.Context, path string) (*Document, string, []string, error) {
	data, stat, err := s.blobs.Download(ctx, path)
	if errors.Is(err, blob.ErrNotFound) {
		return NewDocument(), "", nil, nil
	}
	if err != nil {
		return nil, "", nil, fmt.Errorf("load response document: %w", err)
	}

	doc := NewDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		s.logger.Warn("discarding unparseable response document",
			zap.String("path", path),
			zap.Int("bytes", len(data)),
			zap.Error(err),
		)
		return NewDocument(), stat.ETag, []string{"previous document was corrupt and reset"}, nil
	}
	return doc, stat.ETag, nil, nil
}

// applyStructuredBlock runs the extract/classify/merge pipeline on an
// answer text. A canonical block replaces answer_json wholesale; a
// partial one merges field-by-field.
func (s *Store) applyStructuredBlock(doc *Document, answer, path string) {
	parsed, ok := ExtractJSONBlock(answer)
	if !ok {
		s.logger.Debug("no usable structured block in answer", zap.String("path", path))
		return
	}
	if s.classifier.Classify(parsed) == Canonical {
		doc.AnswerJSON = parsed
		return
	}
	if doc.AnswerJSON == nil {
		doc.AnswerJSON = make(map[string]any)
	}
	MergeInto(doc.AnswerJSON, parsed)
}

// reserved top-level fields a raw patch may never touch directly: the
// transcript is append-only and the version belongs to the store.
var reservedPatchFields = map[string]struct{}{
	"question":     {},
	"answer":       {},
	"answer_json":  {},
	"conversation": {},
	"version":      {},
}

// applyRawPatch applies a direct user edit. An answer_json patch is
// always merged, never classified: a small field edit must not be able
// to wipe the whole estimate. Remaining fields merge at the document's
// top level under the same rules.
func (s *Store) applyRawPatch(doc *Document, patch map[string]any) {
	if len(patch) == 0 {
		return
	}

	if sections, ok := patch["answer_json"].(map[string]any); ok {
		if doc.AnswerJSON == nil {
			doc.AnswerJSON = make(map[string]any)
		}
		MergeInto(doc.AnswerJSON, sections)
	}

	rest := make(map[string]any)
	for key, value := range patch {
		if _, reserved := reservedPatchFields[key]; reserved {
			continue
		}
		rest[key] = value
	}
	if len(rest) == 0 {
		return
	}
	if doc.Extra == nil {
		doc.Extra = make(map[string]any)
	}
	MergeInto(doc.Extra, rest)
}
