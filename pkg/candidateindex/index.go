// Package candidateindex maps hashed identifiers and phonetic name keys to the
// employees that carry them, so each employee is compared only against a
// small candidate set.
package candidateindex

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Gobusters/ectologger"

	matcherrors "github.com/Ramsey-B/sorrel/pkg/errors"
	"github.com/Ramsey-B/sorrel/pkg/matching"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

var (
	ErrClosed     = errors.New("candidate index is closed")
	ErrRebuilding = errors.New("candidate index is rebuilding")
	ErrStaleSalt  = errors.New("profile was hashed with a stale salt version")
	ErrEmptyRef   = errors.New("profile has no company or employee id")
)

const rebuildYieldAt = 1000

const (
	prefixSSN      = "ssn:"
	prefixEmail    = "email:"
	prefixPhone    = "phone:"
	prefixName     = "name:"
	prefixMeta     = "meta:"
	prefixSSNLocal = "ssnlocal:"
)

type bucket struct {
	mu        sync.RWMutex
	members   map[string]models.EmployeeRef
	companies map[string]int
	dead      bool
}

func newBucket() *bucket {
	return &bucket{members: map[string]models.EmployeeRef{}, companies: map[string]int{}}
}

// add reports false when the bucket was retired and the caller must file the
// ref under a fresh bucket
func (b *bucket) add(ref models.EmployeeRef) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dead {
		return false
	}
	if _, ok := b.members[ref.Key()]; ok {
		return true
	}
	b.members[ref.Key()] = ref
	b.companies[ref.CompanyID]++
	return true
}

// entry tracks the bucket keys an employee is filed under so an update can
// move it without scanning
type entry struct {
	mu   sync.Mutex
	keys []string
	gone bool
}

// Index is an in-memory inverted index. Every bucket has its own lock; there is
// no index-wide lock on the lookup or upsert paths.
type Index struct {
	logger      ectologger.Logger
	nicknames   *matching.NicknameTable
	scorer      *matching.Scorer
	buckets     sync.Map // bucket key -> *bucket
	entries     sync.Map // ref key -> *entry
	size        atomic.Int64
	saltVersion atomic.Int64
	closed      atomic.Bool
	rebuilding  atomic.Bool
}

// NewIndex creates an empty index. Profiles whose salt version differs from
// saltVersion are rejected.
func NewIndex(logger ectologger.Logger, nicknames *matching.NicknameTable, saltVersion int) *Index {
	idx := &Index{
		logger:    logger,
		nicknames: nicknames,
		scorer:    matching.NewScorer(0.1),
	}
	idx.saltVersion.Store(int64(saltVersion))
	return idx
}

// SaltVersion is the salt version the index currently accepts
func (i *Index) SaltVersion() int {
	return int(i.saltVersion.Load())
}

// Size is the number of indexed employees
func (i *Index) Size() int {
	return int(i.size.Load())
}

// Close makes further lookups fail with a CandidateLookupError
func (i *Index) Close() {
	i.closed.Store(true)
}

func (i *Index) available() error {
	if i.closed.Load() {
		return ErrClosed
	}
	if i.rebuilding.Load() {
		return ErrRebuilding
	}
	return nil
}

// Upsert files a profile under its current keys, replacing any previous keys
func (i *Index) Upsert(profile *models.EmployeeProfile) error {
	if i.closed.Load() {
		return ErrClosed
	}
	return i.upsert(profile)
}

func (i *Index) upsert(profile *models.EmployeeProfile) error {
	ref := profile.Ref()
	if ref.CompanyID == "" || ref.EmployeeID == "" {
		return ErrEmptyRef
	}
	if int64(profile.Identifiers.SaltVersion) != i.saltVersion.Load() {
		return ErrStaleSalt
	}

	keys := i.Keys(profile)

	for {
		v, loaded := i.entries.LoadOrStore(ref.Key(), &entry{})
		e := v.(*entry)
		e.mu.Lock()
		if e.gone {
			// removed between load and lock; retry with a fresh entry
			e.mu.Unlock()
			continue
		}

		next := make(map[string]bool, len(keys))
		for _, k := range keys {
			next[k] = true
		}
		for _, old := range e.keys {
			if !next[old] {
				i.removeFrom(old, ref)
			}
		}
		for _, k := range keys {
			i.addTo(k, ref)
		}
		if !loaded {
			i.size.Add(1)
		}
		e.keys = keys
		e.mu.Unlock()
		return nil
	}
}

// Remove drops an employee from every bucket
func (i *Index) Remove(ref models.EmployeeRef) {
	v, ok := i.entries.Load(ref.Key())
	if !ok {
		return
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		return
	}
	for _, k := range e.keys {
		i.removeFrom(k, ref)
	}
	e.gone = true
	e.keys = nil
	i.entries.Delete(ref.Key())
	i.size.Add(-1)
}

func (i *Index) addTo(key string, ref models.EmployeeRef) {
	for {
		v, _ := i.buckets.LoadOrStore(key, newBucket())
		if v.(*bucket).add(ref) {
			return
		}
	}
}

// removeFrom drops ref from the bucket under key. A bucket left without
// members is retired and deleted from the map while its lock is held, so a
// concurrent add either lands before the retirement or retries on a new bucket.
func (i *Index) removeFrom(key string, ref models.EmployeeRef) {
	b, ok := i.lookupBucket(key)
	if !ok {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.members[ref.Key()]; !ok {
		return
	}
	delete(b.members, ref.Key())
	b.companies[ref.CompanyID]--
	if b.companies[ref.CompanyID] <= 0 {
		delete(b.companies, ref.CompanyID)
	}
	if len(b.members) == 0 {
		b.dead = true
		i.buckets.CompareAndDelete(key, b)
	}
}

// BucketCount is the number of non-empty buckets
func (i *Index) BucketCount() int {
	n := 0
	i.buckets.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (i *Index) lookupBucket(key string) (*bucket, bool) {
	v, ok := i.buckets.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*bucket), true
}

// Keys returns the bucket keys a profile is filed under, exact keys first
func (i *Index) Keys(profile *models.EmployeeProfile) []string {
	ids := &profile.Identifiers
	var keys []string
	if ids.SSNHash != "" {
		keys = append(keys, prefixSSN+ids.SSNHash)
	}
	if ids.EmailHash != "" {
		keys = append(keys, prefixEmail+ids.EmailHash)
	}
	if ids.PhoneHash != "" {
		keys = append(keys, prefixPhone+ids.PhoneHash)
	}
	keys = append(keys, i.phoneticKeys(ids)...)
	if ids.SSNLocalHash != "" {
		keys = append(keys, localKey(profile.CompanyID, ids.SSNLocalHash))
	}
	return keys
}

func (i *Index) phoneticKeys(ids *models.HashedIdentifierSet) []string {
	first := firstToken(ids.FirstNormalized)
	if first == "" || ids.LastNormalized == "" {
		return nil
	}

	var keys []string
	last := i.scorer.Soundex(ids.LastNormalized)
	if last != "" {
		canonicals := []string{first}
		if i.nicknames != nil {
			canonicals = i.nicknames.Canonicals(first)
		}
		seen := map[string]bool{}
		for _, c := range canonicals {
			k := prefixName + last + ":" + i.scorer.Soundex(c)
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	if meta := i.scorer.Metaphone(ids.LastNormalized); meta != "" {
		keys = append(keys, prefixMeta+meta+":"+string([]rune(first)[0]))
	}
	return keys
}

func firstToken(name string) string {
	if idx := strings.IndexByte(name, ' '); idx > 0 {
		return name[:idx]
	}
	return name
}

func localKey(companyID, localHash string) string {
	return prefixSSNLocal + companyID + ":" + localHash
}

func isExactKey(key string) bool {
	return strings.HasPrefix(key, prefixSSN) || strings.HasPrefix(key, prefixEmail) || strings.HasPrefix(key, prefixPhone)
}

func isCandidateKey(key string) bool {
	return !strings.HasPrefix(key, prefixSSNLocal)
}

type hit struct {
	ref   models.EmployeeRef
	exact bool
}

// FindCandidates returns employees at other companies sharing at least one
// bucket with the profile. Results are ordered with exact-identifier hits
// first, then by employee key, and capped at limit (0 means no cap). The
// second return value is the number of candidates dropped by the cap.
func (i *Index) FindCandidates(ctx context.Context, profile *models.EmployeeProfile, limit int) ([]models.EmployeeRef, int, error) {
	ctx, span := tracing.StartSpan(ctx, "candidateindex.Index.FindCandidates")
	defer span.End()

	if err := i.available(); err != nil {
		return nil, 0, matcherrors.NewCandidateLookupError(profile.CompanyID, profile.EmployeeID, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, matcherrors.NewCandidateLookupError(profile.CompanyID, profile.EmployeeID, err)
	}

	hits := map[string]*hit{}
	for _, key := range i.Keys(profile) {
		if !isCandidateKey(key) {
			continue
		}
		b, ok := i.lookupBucket(key)
		if !ok {
			continue
		}
		exact := isExactKey(key)

		b.mu.RLock()
		for k, ref := range b.members {
			if ref.CompanyID == profile.CompanyID {
				continue
			}
			if h, ok := hits[k]; ok {
				h.exact = h.exact || exact
				continue
			}
			hits[k] = &hit{ref: ref, exact: exact}
		}
		b.mu.RUnlock()
	}

	ordered := make([]*hit, 0, len(hits))
	for _, h := range hits {
		ordered = append(ordered, h)
	}
	sort.Slice(ordered, func(a, b int) bool {
		if ordered[a].exact != ordered[b].exact {
			return ordered[a].exact
		}
		return ordered[a].ref.Key() < ordered[b].ref.Key()
	})

	dropped := 0
	if limit > 0 && len(ordered) > limit {
		dropped = len(ordered) - limit
		ordered = ordered[:limit]
		i.logger.WithContext(ctx).WithFields(map[string]any{
			"company_id":  profile.CompanyID,
			"employee_id": profile.EmployeeID,
			"limit":       limit,
			"dropped":     dropped,
		}).Warn("candidate set exceeded the cap; lowest ranked candidates dropped")
	}

	refs := make([]models.EmployeeRef, len(ordered))
	for n, h := range ordered {
		refs[n] = h.ref
	}
	return refs, dropped, nil
}

// BucketStats reports how many employees and distinct companies share an
// exact identifier digest
func (i *Index) BucketStats(kind models.IdentifierKind, hash string) (int, int) {
	if hash == "" {
		return 0, 0
	}
	b, ok := i.lookupBucket(string(kind) + ":" + hash)
	if !ok {
		return 0, 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.members), len(b.companies)
}

// LocalCount is the number of employees at a company sharing a company-local
// SSN digest
func (i *Index) LocalCount(companyID, localHash string) int {
	if localHash == "" {
		return 0
	}
	b, ok := i.lookupBucket(localKey(companyID, localHash))
	if !ok {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.members)
}

// Rebuild discards the index and refiles every profile hashed under
// saltVersion. Lookups fail with a CandidateLookupError while it runs.
// Returns the number of profiles indexed and skipped.
func (i *Index) Rebuild(ctx context.Context, profiles []*models.EmployeeProfile, saltVersion int) (int, int, error) {
	ctx, span := tracing.StartSpan(ctx, "candidateindex.Index.Rebuild")
	defer span.End()

	if i.closed.Load() {
		return 0, 0, ErrClosed
	}
	if !i.rebuilding.CompareAndSwap(false, true) {
		return 0, 0, ErrRebuilding
	}
	defer i.rebuilding.Store(false)

	i.buckets.Clear()
	i.entries.Clear()
	i.size.Store(0)
	i.saltVersion.Store(int64(saltVersion))

	indexed, skipped := 0, 0
	for n, p := range profiles {
		if n%rebuildYieldAt == 0 {
			if err := ctx.Err(); err != nil {
				return indexed, skipped, err
			}
		}
		if err := i.upsert(p); err != nil {
			skipped++
			continue
		}
		indexed++
	}

	i.logger.WithContext(ctx).WithFields(map[string]any{
		"indexed":      indexed,
		"skipped":      skipped,
		"salt_version": saltVersion,
	}).Info("candidate index rebuilt")

	return indexed, skipped, nil
}
